package mining

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// HeaderSize is the serialized size of a Bitcoin block header
const HeaderSize = 80

// BlockHeader represents the 80-byte Bitcoin block header. Hash fields are
// stored in internal (little-endian) byte order, the order they are hashed
// in; display hex is byte-reversed from this.
type BlockHeader struct {
	Version    uint32   `json:"version"`
	PrevHash   [32]byte `json:"-"`
	MerkleRoot [32]byte `json:"-"`
	Timestamp  uint32   `json:"timestamp"`
	Bits       uint32   `json:"bits"`
	Nonce      uint32   `json:"nonce"`
}

// ParseHash decodes a display-order (big-endian) hex hash into internal order
func ParseHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("hash must be 32 bytes, got %d", len(raw))
	}
	for i := 0; i < 32; i++ {
		out[i] = raw[31-i]
	}
	return out, nil
}

// HashToHex renders an internal-order hash in display (big-endian) order
func HashToHex(h [32]byte) string {
	var rev [32]byte
	for i := 0; i < 32; i++ {
		rev[i] = h[31-i]
	}
	return hex.EncodeToString(rev[:])
}

// Serialize encodes the header into its canonical 80-byte wire form
func (h *BlockHeader) Serialize() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	copy(buf[4:36], h.PrevHash[:])
	copy(buf[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	return buf
}

// DeserializeHeader decodes an 80-byte wire header
func DeserializeHeader(buf []byte) (*BlockHeader, error) {
	if len(buf) != HeaderSize {
		return nil, NewError(ErrCodeInvalidHeader, "header must be exactly 80 bytes",
			fmt.Sprintf("got %d", len(buf)))
	}
	h := &BlockHeader{
		Version:   binary.LittleEndian.Uint32(buf[0:4]),
		Timestamp: binary.LittleEndian.Uint32(buf[68:72]),
		Bits:      binary.LittleEndian.Uint32(buf[72:76]),
		Nonce:     binary.LittleEndian.Uint32(buf[76:80]),
	}
	copy(h.PrevHash[:], buf[4:36])
	copy(h.MerkleRoot[:], buf[36:68])
	return h, nil
}

// DoubleSHA256 computes SHA256(SHA256(data)), Bitcoin's block hash function
func DoubleSHA256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// HashWithNonce computes the double SHA-256 of the header with the nonce
// field replaced by the given value
func (h *BlockHeader) HashWithNonce(nonce uint32) [32]byte {
	buf := h.Serialize()
	binary.LittleEndian.PutUint32(buf[76:80], nonce)
	return DoubleSHA256(buf)
}

// ParseCompactBits parses a compact difficulty ("bits") value from its
// native hexadecimal representation. Block explorers serve this field as a
// hex string like "1d00ffff"; reading it as decimal silently produces a
// wrong target, so the only accepted base here is 16.
func ParseCompactBits(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return 0, NewError(ErrCodeInvalidHeader, "empty bits value")
	}
	var bits uint64
	for _, c := range s {
		var v uint64
		switch {
		case c >= '0' && c <= '9':
			v = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			v = uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v = uint64(c-'A') + 10
		default:
			return 0, NewError(ErrCodeInvalidHeader, "bits is not valid hex", s)
		}
		bits = bits<<4 | v
		if bits > 0xFFFFFFFF {
			return 0, NewError(ErrCodeInvalidHeader, "bits exceeds 32 bits", s)
		}
	}
	return uint32(bits), nil
}

// CompactToTarget expands a compact bits value into the full 256-bit target:
// target = mantissa × 256^(exponent−3)
func CompactToTarget(bits uint32) *big.Int {
	exponent := uint(bits >> 24)
	mantissa := int64(bits & 0x007fffff)

	target := big.NewInt(mantissa)
	if exponent <= 3 {
		return target.Rsh(target, 8*(3-exponent))
	}
	return target.Lsh(target, 8*(exponent-3))
}

// HashMeetsTarget reports whether a block hash satisfies the target. The
// hash bytes come out of SHA-256 in internal order; the numeric comparison
// uses the display-order (big-endian) integer.
func HashMeetsTarget(hash [32]byte, target *big.Int) bool {
	var rev [32]byte
	for i := 0; i < 32; i++ {
		rev[i] = hash[31-i]
	}
	return new(big.Int).SetBytes(rev[:]).Cmp(target) <= 0
}

// Difficulty returns the ratio of the maximum (difficulty-1) target to the
// header's target. Used only for feature scaling and reporting.
func (h *BlockHeader) Difficulty() float64 {
	target := CompactToTarget(h.Bits)
	if target.Sign() <= 0 {
		return 0
	}
	max := CompactToTarget(0x1d00ffff)
	ratio := new(big.Rat).SetFrac(max, target)
	f, _ := ratio.Float64()
	return f
}
