// Package classifier implements the fixed 176-byte unmask-and-permute transform
// that turns an opaque drone radio frame into a packet type and drone id.
package classifier

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// PacketLen is the decoded byte length every valid frame must have.
const PacketLen = 176

// Kind is the classification outcome of a decoded frame.
type Kind int

const (
	Invalid Kind = iota
	Key
	Data
)

func (k Kind) String() string {
	switch k {
	case Key:
		return "key"
	case Data:
		return "data"
	default:
		return "invalid"
	}
}

// Packet is the result of classifying a decoded frame.
type Packet struct {
	Kind    Kind
	DroneID string // 8 lowercase hex chars, empty when Kind == Invalid
	Raw     []byte // the 176 post-transform bytes
}

// mask is XORed byte-for-byte against the input before permutation.
// Transcribed byte-exact from the reference implementation; it is the
// source of truth for wire compatibility and must never be re-derived.
var mask = [PacketLen]byte{
	0xf2, 0x3b, 0x9b, 0x7c, 0xe3, 0xc2, 0x74, 0x05, 0xd1, 0x71, 0x9d, 0xca, 0xeb, 0xbc, 0x2d, 0x67,
	0xef, 0xea, 0x69, 0xe4, 0x0f, 0x5a, 0xcf, 0x03, 0x23, 0x34, 0x33, 0x9a, 0x45, 0x33, 0x04, 0xbe,
	0x71, 0xee, 0x77, 0x6b, 0xd8, 0x86, 0x34, 0xab, 0xd6, 0x05, 0xae, 0x61, 0xd4, 0x80, 0xb5, 0x6d,
	0x4e, 0x30, 0x31, 0xae, 0x4d, 0x8a, 0x26, 0xb2, 0x60, 0xdb, 0xda, 0x97, 0x7f, 0xe5, 0xd2, 0xa4,
	0xd1, 0xa8, 0x57, 0x4a, 0x57, 0x88, 0xb9, 0x4f, 0xd6, 0x91, 0x5e, 0xb3, 0x8b, 0x71, 0xb1, 0x9e,
	0xcb, 0xf4, 0x85, 0xe0, 0x2c, 0xfa, 0x45, 0x40, 0xdf, 0xbc, 0x23, 0x03, 0xe4, 0x33, 0x4c, 0xa9,
	0x49, 0x78, 0x11, 0xfc, 0x95, 0x6c, 0x83, 0x55, 0x6e, 0x3a, 0x94, 0xc2, 0x87, 0xa3, 0x35, 0x61,
	0xc8, 0xae, 0x76, 0x91, 0xcb, 0x0f, 0x9a, 0x0d, 0x6a, 0x4e, 0xdf, 0x04, 0xc4, 0xf8, 0xfc, 0xc9,
	0x70, 0x7f, 0x37, 0xa4, 0x52, 0xf5, 0xb9, 0x69, 0xbe, 0x44, 0x70, 0xee, 0xae, 0x36, 0xd6, 0xa0,
	0x22, 0x35, 0x9b, 0xa1, 0x5e, 0x93, 0x73, 0x0b, 0x07, 0x50, 0x03, 0x62, 0xae, 0x18, 0x09, 0x9c,
	0x9b, 0x04, 0x04, 0x30, 0x96, 0x0f, 0x5e, 0xa1, 0xb7, 0xb1, 0x15, 0x74, 0x71, 0x5a, 0x27, 0xac,
}

// perm is the fixed permutation applied after the XOR step: out[perm[i]] = tmp[i].
var perm = [PacketLen]int{
	101, 48, 167, 63, 1, 40, 27, 171, 74, 28, 117, 159, 21, 126, 138, 175,
	114, 125, 37, 149, 100, 110, 122, 4, 116, 42, 111, 174, 50, 57, 86, 107,
	83, 132, 95, 108, 47, 161, 148, 145, 141, 19, 98, 44, 87, 24, 137, 173,
	129, 55, 92, 163, 158, 153, 12, 93, 144, 103, 123, 155, 0, 30, 72, 109,
	79, 140, 61, 73, 99, 124, 118, 71, 146, 75, 166, 10, 39, 154, 14, 89,
	150, 18, 156, 172, 139, 151, 49, 59, 115, 7, 38, 58, 60, 128, 106, 162,
	68, 113, 17, 91, 15, 76, 2, 120, 168, 9, 84, 46, 131, 105, 85, 41,
	3, 134, 20, 77, 8, 104, 56, 90, 64, 94, 160, 152, 142, 52, 45, 164,
	165, 70, 97, 29, 67, 54, 51, 80, 121, 147, 35, 69, 31, 33, 22, 11,
	66, 96, 81, 130, 32, 25, 65, 127, 82, 119, 102, 170, 16, 88, 62, 136,
	6, 36, 5, 26, 34, 133, 43, 78, 112, 135, 143, 157, 169, 23, 53, 13,
}

const (
	keyByte1 = 0xa3
	keyByte2 = 0xaa
	dataByte1 = 0x80
	dataByte2 = 0x87
)

// ErrBadLength is returned when a decoded frame is not exactly PacketLen bytes.
type ErrBadLength struct{ Got int }

func (e ErrBadLength) Error() string {
	return fmt.Sprintf("decoded packet length %d, want %d", e.Got, PacketLen)
}

// DecodeHex strips non-hex characters (commas, whitespace) a caller may have
// embedded in the transport encoding, then decodes the remainder.
func DecodeHex(s string) ([]byte, error) {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F') {
			b.WriteRune(r)
		}
	}
	return hex.DecodeString(b.String())
}

// Classify applies the unmask+permute transform to a 176-byte decoded frame
// and extracts the packet kind and drone id.
func Classify(decoded []byte) (Packet, error) {
	if len(decoded) != PacketLen {
		return Packet{}, ErrBadLength{Got: len(decoded)}
	}

	var out [PacketLen]byte
	for i := 0; i < PacketLen; i++ {
		out[perm[i]] = decoded[i] ^ mask[i]
	}

	p := Packet{Raw: out[:]}
	switch out[0] {
	case keyByte1, keyByte2:
		p.Kind = Key
	case dataByte1, dataByte2:
		p.Kind = Data
	default:
		p.Kind = Invalid
	}

	if p.Kind != Invalid {
		p.DroneID = hex.EncodeToString(out[6:10])
	}
	return p, nil
}

// ClassifyHex decodes a hex string and classifies it in one step.
func ClassifyHex(hexStr string) (Packet, error) {
	decoded, err := DecodeHex(hexStr)
	if err != nil {
		return Packet{}, fmt.Errorf("decode hex: %w", err)
	}
	return Classify(decoded)
}

// BuildFrame constructs a synthetic pre-transform frame that decodes to the
// given kind and drone id, by inverting the unmask+permute transform. It
// exists so other packages' tests can synthesize realistic key/data frames
// without reimplementing the wire format.
func BuildFrame(kind Kind, droneID string) ([]byte, error) {
	id, err := hex.DecodeString(droneID)
	if err != nil || len(id) != 4 {
		return nil, fmt.Errorf("drone id must be 8 hex chars")
	}

	var out [PacketLen]byte
	switch kind {
	case Key:
		out[0] = keyByte1
	case Data:
		out[0] = dataByte1
	default:
		return nil, fmt.Errorf("cannot build a frame for kind %v", kind)
	}
	copy(out[6:10], id)

	in := make([]byte, PacketLen)
	for i := 0; i < PacketLen; i++ {
		in[i] = out[perm[i]] ^ mask[i]
	}
	return in, nil
}

// BuildFrameHex is BuildFrame followed by hex encoding, the shape HandleDecrypt
// expects on the wire.
func BuildFrameHex(kind Kind, droneID string) (string, error) {
	b, err := BuildFrame(kind, droneID)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
