package mining

import (
	"math"
)

// FeatureVectorSize is the fixed length of every feature vector. The
// stimulus encoder and both signal-source variants assume this length.
const FeatureVectorSize = 16

// FeatureVector is a fixed-length numeric description of a block header.
// All values are normalized into [0, 1].
type FeatureVector [FeatureVectorSize]float64

// ExtractFeatures derives the feature vector for a header and difficulty.
// Pure function: the same header and difficulty always produce the same
// vector, byte for byte.
func ExtractFeatures(header *BlockHeader, difficulty float64) FeatureVector {
	var f FeatureVector

	// Header scalar fields
	f[0] = float64(header.Version) / float64(math.MaxUint32)
	f[1] = float64(header.Timestamp) / float64(math.MaxUint32)
	f[2] = float64(header.Timestamp%86400) / 86400.0 // position within the day
	f[3] = float64(header.Bits>>24) / 255.0          // compact exponent
	f[4] = float64(header.Bits&0x007fffff) / float64(0x007fffff)

	// Log-scaled difficulty; mainnet difficulties span many orders of magnitude
	if difficulty > 0 {
		f[5] = math.Min(1.0, math.Log10(difficulty+1)/16.0)
	}

	// Previous-hash byte statistics
	f[6] = byteMean(header.PrevHash[:])
	f[7] = byteStdDev(header.PrevHash[:])
	f[8] = float64(header.PrevHash[0]) / 255.0
	f[9] = float64(header.PrevHash[31]) / 255.0
	f[10] = bitDensity(header.PrevHash[:])

	// Merkle-root byte statistics
	f[11] = byteMean(header.MerkleRoot[:])
	f[12] = byteStdDev(header.MerkleRoot[:])
	f[13] = float64(header.MerkleRoot[0]) / 255.0
	f[14] = bitDensity(header.MerkleRoot[:])

	// Cross-field mix so near-identical headers still separate
	f[15] = float64((header.Version^header.Timestamp^header.Bits)%65536) / 65536.0

	return f
}

func byteMean(data []byte) float64 {
	sum := 0.0
	for _, b := range data {
		sum += float64(b)
	}
	return sum / float64(len(data)) / 255.0
}

func byteStdDev(data []byte) float64 {
	mean := 0.0
	for _, b := range data {
		mean += float64(b)
	}
	mean /= float64(len(data))

	variance := 0.0
	for _, b := range data {
		d := float64(b) - mean
		variance += d * d
	}
	variance /= float64(len(data))

	// Max stddev for byte data is 127.5
	return math.Sqrt(variance) / 127.5
}

func bitDensity(data []byte) float64 {
	ones := 0
	for _, b := range data {
		for i := 0; i < 8; i++ {
			if b&(1<<uint(i)) != 0 {
				ones++
			}
		}
	}
	return float64(ones) / float64(len(data)*8)
}
