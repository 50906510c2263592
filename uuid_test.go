package firacp

import (
	"bytes"
	"testing"
)

func TestUUID16(t *testing.T) {
	if want, got := (UUID{[]byte{0xF3, 0xFF}}), ServiceUUID; !got.Equal(want) {
		t.Errorf("ServiceUUID: got %x, want %x", got.b, want.b)
	}
	if want, got := (UUID{[]byte{0x00, 0x18}}), UUID16(0x1800); !got.Equal(want) {
		t.Errorf("UUID16: got %x, want %x", got.b, want.b)
	}
}

func TestReverse(t *testing.T) {
	cases := []struct {
		fwd  []byte
		back []byte
	}{
		{fwd: []byte{0, 1}, back: []byte{1, 0}},
		{fwd: []byte{0, 1, 2}, back: []byte{2, 1, 0}},
		{fwd: []byte{0, 1, 2, 3}, back: []byte{3, 2, 1, 0}},
		{
			fwd:  []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
			back: []byte{15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
		},
	}

	for _, tt := range cases {
		got := reverse(tt.fwd)
		if !bytes.Equal(got, tt.back) {
			t.Errorf("reverse(%x): got %x want %x", tt.fwd, got, tt.back)
		}
	}
}

func TestParseUUID(t *testing.T) {
	u, err := ParseUUID("00002A00-0000-1000-8000-00805F9B34FB")
	if err != nil {
		t.Fatal(err)
	}
	if !u.Equal(CharInUUID) {
		t.Errorf("got %s want %s", u, CharInUUID)
	}
	if u.Len() != 16 {
		t.Errorf("Len: got %d want 16", u.Len())
	}
	if _, err := ParseUUID("2A0000"); err == nil {
		t.Error("24-bit UUID accepted")
	}
	if _, err := ParseUUID("xyzw"); err == nil {
		t.Error("non-hex UUID accepted")
	}
}

func TestConnectorUUIDsDistinct(t *testing.T) {
	uu := []UUID{ServiceUUID, CharInUUID, CharOutUUID, CharCapabilitiesUUID, DescCCCDUUID}
	for i := range uu {
		for j := i + 1; j < len(uu); j++ {
			if uu[i].Equal(uu[j]) {
				t.Errorf("uuid %d and %d collide: %s", i, j, uu[i])
			}
		}
	}
}
