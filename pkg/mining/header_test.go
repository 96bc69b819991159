package mining

import (
	"testing"
)

const (
	genesisMerkle = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
	genesisHash   = "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"
	genesisNonce  = uint32(2083236893)
)

func genesisHeader(t *testing.T) *BlockHeader {
	t.Helper()
	merkle, err := ParseHash(genesisMerkle)
	if err != nil {
		t.Fatalf("ParseHash failed: %v", err)
	}
	return &BlockHeader{
		Version:    1,
		MerkleRoot: merkle,
		Timestamp:  1231006505,
		Bits:       0x1d00ffff,
		Nonce:      genesisNonce,
	}
}

func TestGenesisBlockHash(t *testing.T) {
	header := genesisHeader(t)
	hash := header.HashWithNonce(genesisNonce)
	if got := HashToHex(hash); got != genesisHash {
		t.Errorf("genesis hash mismatch: got %s, want %s", got, genesisHash)
	}
}

func TestGenesisMeetsTarget(t *testing.T) {
	header := genesisHeader(t)
	target := CompactToTarget(header.Bits)

	hash := header.HashWithNonce(genesisNonce)
	if !HashMeetsTarget(hash, target) {
		t.Error("genesis hash should meet its own target")
	}

	wrong := header.HashWithNonce(genesisNonce - 1)
	if HashMeetsTarget(wrong, target) {
		t.Error("off-by-one nonce should not meet the target")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	header := genesisHeader(t)
	buf := header.Serialize()
	if len(buf) != 80 {
		t.Fatalf("serialized header is %d bytes, want 80", len(buf))
	}

	decoded, err := DeserializeHeader(buf)
	if err != nil {
		t.Fatalf("DeserializeHeader failed: %v", err)
	}
	if *decoded != *header {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, header)
	}
}

func TestDeserializeRejectsShortBuffer(t *testing.T) {
	if _, err := DeserializeHeader(make([]byte, 79)); err == nil {
		t.Error("expected error for 79-byte buffer")
	}
}

func TestParseCompactBits(t *testing.T) {
	tests := []struct {
		input   string
		want    uint32
		wantErr bool
	}{
		{"1d00ffff", 0x1d00ffff, false},
		{"1702c4e4", 0x1702c4e4, false},
		{"0x1d00ffff", 0x1d00ffff, false},
		{"386604799", 0, true}, // decimal form of 0x170ed0ff contains no hex letters but is 9 digits
		{"", 0, true},
		{"xyz", 0, true},
		{"1d00ffff00", 0, true}, // overflows 32 bits
	}

	for _, tt := range tests {
		got, err := ParseCompactBits(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseCompactBits(%q) = %#x, want error", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCompactBits(%q) failed: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCompactBits(%q) = %#x, want %#x", tt.input, got, tt.want)
		}
	}
}

// Compact bits are always hexadecimal on the wire. A value that happens
// to contain only decimal digits must still be parsed base-16.
func TestParseCompactBitsNeverDecimal(t *testing.T) {
	got, err := ParseCompactBits("17031abc")
	if err != nil {
		t.Fatalf("ParseCompactBits failed: %v", err)
	}
	if got != 0x17031abc {
		t.Errorf("got %#x, want %#x", got, uint32(0x17031abc))
	}

	// All-digit input decodes as hex, never as the decimal number
	got, err = ParseCompactBits("17002345")
	if err != nil {
		t.Fatalf("ParseCompactBits failed: %v", err)
	}
	if got != 0x17002345 {
		t.Errorf("got %#x, want %#x (hex interpretation)", got, uint32(0x17002345))
	}
	if got == 17002345 {
		t.Error("all-digit bits string was interpreted as decimal")
	}
}

func TestCompactToTarget(t *testing.T) {
	target := CompactToTarget(0x1d00ffff)
	want := "00000000ffff0000000000000000000000000000000000000000000000000000"
	got := make([]byte, 32)
	target.FillBytes(got)
	hex := ""
	for _, b := range got {
		hex += string("0123456789abcdef"[b>>4]) + string("0123456789abcdef"[b&0xf])
	}
	if hex != want {
		t.Errorf("target mismatch:\n got %s\nwant %s", hex, want)
	}
}

func TestDifficulty(t *testing.T) {
	header := genesisHeader(t)
	if d := header.Difficulty(); d < 0.999 || d > 1.001 {
		t.Errorf("genesis difficulty = %f, want 1.0", d)
	}
}

func TestParseHashRejectsBadInput(t *testing.T) {
	if _, err := ParseHash("abcd"); err == nil {
		t.Error("expected error for short hash")
	}
	if _, err := ParseHash("zz5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"); err == nil {
		t.Error("expected error for non-hex hash")
	}
}

func BenchmarkDoubleSHA256(b *testing.B) {
	var buf [80]byte
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		DoubleSHA256(buf[:])
	}
}
