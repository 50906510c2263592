package tinygoble

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"

	"github.com/XC-/firacp"
)

// toStackUUID converts a firacp UUID to the stack's representation.
func toStackUUID(u firacp.UUID) (bluetooth.UUID, error) {
	b := u.Bytes() // little-endian
	if len(b) == 2 {
		return bluetooth.New16BitUUID(binary.LittleEndian.Uint16(b)), nil
	}
	s := u.String() // 32 hex digits, big-endian
	if len(s) != 32 {
		return bluetooth.UUID{}, errors.Errorf("unexpected UUID %q", s)
	}
	canonical := fmt.Sprintf("%s-%s-%s-%s-%s", s[0:8], s[8:12], s[12:16], s[16:20], s[20:32])
	su, err := bluetooth.ParseUUID(canonical)
	return su, errors.Wrapf(err, "parsing UUID %q", canonical)
}

func mustStackUUID(u firacp.UUID) bluetooth.UUID {
	su, err := toStackUUID(u)
	if err != nil {
		panic(err)
	}
	return su
}

// fromStackUUID converts a stack UUID back to the firacp representation.
func fromStackUUID(u bluetooth.UUID) firacp.UUID {
	if u.Is16Bit() {
		return firacp.UUID16(u.Get16Bit())
	}
	return firacp.MustParseUUID(u.String())
}
