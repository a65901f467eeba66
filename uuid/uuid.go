// Package uuid implements the Bluetooth-flavored UUID type used to name
// services and characteristics: 16-bit assigned numbers kept in their
// compact form, and full 128-bit UUIDs parsed from their string form and
// expanded against the Bluetooth base UUID only when two UUIDs of
// different lengths are compared.
package uuid

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// baseUUID is the 128-bit Bluetooth base UUID, stored little-endian (as it
// travels on the wire) with its 16-bit assigned-number field zeroed.
var baseUUID = []byte{
	0xFB, 0x34, 0x9B, 0x5F, 0x80, 0x00, 0x00, 0x80,
	0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// UUID is a Bluetooth attribute UUID. It is kept in whatever length it was
// constructed with (2 bytes for a 16-bit assigned number, 16 bytes for a
// full UUID), little-endian, matching on-wire byte order. Two UUIDs of
// differing length still compare equal via Equal if one is the 16-bit
// expansion of the other under the Bluetooth base UUID.
type UUID struct {
	b []byte
}

// UUID16 constructs a UUID from a 16-bit Bluetooth-assigned number.
func UUID16(v uint16) UUID {
	return UUID{b: []byte{byte(v), byte(v >> 8)}}
}

// MustParseUUID parses a UUID in either short (16-bit hex, "2c17") or full
// dashed 128-bit ("00002c17-0000-1000-8000-00805f9b34fb") form. It panics on
// malformed input; callers use it for compile-time-constant UUIDs at
// service-registration time.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ParseUUID parses a UUID in either short or full dashed form. The string is
// interpreted big-endian (the conventional human-readable order) and stored
// reversed, little-endian, to match on-wire order.
func ParseUUID(s string) (UUID, error) {
	clean := strings.ReplaceAll(s, "-", "")
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return UUID{}, fmt.Errorf("uuid: invalid hex %q: %w", s, err)
	}
	switch len(raw) {
	case 2, 16:
		return UUID{b: reverse(raw)}, nil
	default:
		return UUID{}, fmt.Errorf("uuid: %q is neither a 16-bit nor 128-bit UUID", s)
	}
}

// reverse returns a reversed copy of b.
func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

// to128 expands a short-form UUID to its 128-bit form under the Bluetooth
// base UUID. Full-form UUIDs are returned unchanged.
func (u UUID) to128() []byte {
	if len(u.b) == 16 {
		return u.b
	}
	full := append([]byte(nil), baseUUID...)
	// The assigned number sits in bytes 12-13 of the little-endian form
	// (the "xxxx" of 0000xxxx-0000-1000-8000-00805f9b34fb).
	copy(full[12:12+len(u.b)], u.b)
	return full
}

// Equal reports whether two UUIDs identify the same attribute, expanding
// either operand's short form as needed.
func (u UUID) Equal(o UUID) bool {
	if len(u.b) == len(o.b) {
		return bytesEqual(u.b, o.b)
	}
	return bytesEqual(u.to128(), o.to128())
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Len reports the UUID's native length in bytes: 2 for a 16-bit assigned
// number, 16 for a full UUID.
func (u UUID) Len() int {
	return len(u.b)
}

// Bytes returns the UUID's raw little-endian bytes in its native length.
func (u UUID) Bytes() []byte {
	return append([]byte(nil), u.b...)
}

// String renders the UUID in canonical big-endian dashed form.
func (u UUID) String() string {
	be := reverse(u.to128())
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		be[0:4], be[4:6], be[6:8], be[8:10], be[10:16])
}
