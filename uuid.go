package firacp

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// A UUID is a BLE UUID, either 16-bit or 128-bit.
type UUID struct {
	b []byte
}

// UUID16 converts a uint16 to a UUID.
func UUID16(i uint16) UUID {
	return UUID{[]byte{byte(i), byte(i >> 8)}}
}

// ParseUUID parses a standard-format UUID string, e.g.
// "1800" or "34DA3AD1-7110-41A1-B1EF-4430F509CDE7".
func ParseUUID(s string) (UUID, error) {
	s = strings.ReplaceAll(s, "-", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return UUID{}, err
	}
	if len(b) != 2 && len(b) != 16 {
		return UUID{}, fmt.Errorf("UUIDs must be 16 or 128 bits, got %d bits", len(b)*8)
	}
	// Store as little-endian, the order they appear on the wire.
	return UUID{reverse(b)}, nil
}

// MustParseUUID parses a standard-format UUID string,
// panicking if the string is invalid.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Len returns the length of the UUID in bytes, 2 or 16.
func (u UUID) Len() int {
	return len(u.b)
}

// String hex-encodes a UUID in its big-endian textual order.
func (u UUID) String() string {
	return fmt.Sprintf("%x", reverse(u.b))
}

// Equal reports whether u and v are equal.
func (u UUID) Equal(v UUID) bool {
	if len(u.b) != len(v.b) {
		return false
	}
	for i := range u.b {
		if u.b[i] != v.b[i] {
			return false
		}
	}
	return true
}

// Bytes returns the little-endian wire representation of the UUID.
func (u UUID) Bytes() []byte {
	b := make([]byte, len(u.b))
	copy(b, u.b)
	return b
}

// reverse returns a reversed copy of u.
func reverse(u []byte) []byte {
	b := make([]byte, len(u))
	for i := 0; i < (len(u)+1)/2; i++ {
		b[i], b[len(u)-i-1] = u[len(u)-i-1], u[i]
	}
	return b
}

// UUIDs assigned by the FiRa BLE OOB v1.0 specification.
var (
	// ServiceUUID identifies the FiRa Connector Primary service, both in
	// advertising data and in the GATT database.
	ServiceUUID = UUID16(0xFFF3)

	// CharInUUID is the client-to-server data pipe (write only).
	CharInUUID = MustParseUUID("00002A00-0000-1000-8000-00805F9B34FB")

	// CharOutUUID is the server-to-client data pipe (read + notify).
	CharOutUUID = MustParseUUID("00002A01-0000-1000-8000-00805F9B34FB")

	// CharCapabilitiesUUID receives the client's FiraConnectorCapabilities.
	CharCapabilitiesUUID = MustParseUUID("00002A02-0000-1000-8000-00805F9B34FB")

	// DescCCCDUUID is the Client Characteristic Configuration Descriptor
	// hosted on CharOutUUID.
	DescCCCDUUID = UUID16(0x2902)
)
