package mining

import (
	"crypto/sha256"
	"encoding/binary"
	"math"

	"biominer/pkg/biocompute/core"
)

// EntropySeed is the distilled output of one stimulation round. Primary
// seeds starting-point generation, Secondary perturbs window ordering,
// and Confidence weights how much the search trusts the biological signal
// over a uniform fallback.
type EntropySeed struct {
	Primary    uint64  `json:"primary"`
	Secondary  uint64  `json:"secondary"`
	Confidence float64 `json:"confidence"`
}

// DeriveEntropy hashes the captured signals together with the feature
// vector that provoked them and folds the digest into two 64-bit seeds.
// Deterministic: identical response and features always yield the same
// seed. Confidence rises monotonically with signal quality and response
// strength and is clamped to [0, 1].
func DeriveEntropy(response *core.BioResponse, features FeatureVector) EntropySeed {
	h := sha256.New()

	var buf [8]byte
	for _, s := range response.Signals {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(s))
		h.Write(buf[:])
	}
	for _, f := range features {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(response.ResponseStrength))
	h.Write(buf[:])

	digest := h.Sum(nil)

	return EntropySeed{
		Primary:    binary.LittleEndian.Uint64(digest[0:8]) ^ binary.LittleEndian.Uint64(digest[16:24]),
		Secondary:  binary.LittleEndian.Uint64(digest[8:16]) ^ binary.LittleEndian.Uint64(digest[24:32]),
		Confidence: deriveConfidence(response.SignalQuality, response.ResponseStrength),
	}
}

func deriveConfidence(quality, strength float64) float64 {
	if math.IsNaN(quality) || math.IsNaN(strength) {
		return 0
	}
	c := clamp01(quality) * clamp01(strength)
	return clamp01(c)
}
