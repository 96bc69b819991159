package mining

import (
	"math"
	"testing"

	"biominer/pkg/biocompute/core"
)

func testResponse(quality, strength float64) *core.BioResponse {
	return &core.BioResponse{
		Signals:          []float64{0.1, -0.4, 0.9, 0.0, 0.33},
		ResponseStrength: strength,
		SignalQuality:    quality,
		IsValid:          true,
	}
}

func TestDeriveEntropyDeterministic(t *testing.T) {
	features := FeatureVector{0.1, 0.2, 0.3}
	a := DeriveEntropy(testResponse(0.8, 0.6), features)
	b := DeriveEntropy(testResponse(0.8, 0.6), features)
	if a != b {
		t.Error("identical inputs produced different seeds")
	}
}

func TestDeriveEntropySensitiveToSignals(t *testing.T) {
	features := FeatureVector{0.1, 0.2, 0.3}
	a := DeriveEntropy(testResponse(0.8, 0.6), features)

	modified := testResponse(0.8, 0.6)
	modified.Signals[2] += 1e-9
	b := DeriveEntropy(modified, features)

	if a.Primary == b.Primary && a.Secondary == b.Secondary {
		t.Error("perturbed signal produced the same seed")
	}
}

func TestDeriveEntropyConfidence(t *testing.T) {
	features := FeatureVector{}

	tests := []struct {
		quality, strength float64
	}{
		{0.0, 1.0},
		{0.3, 0.5},
		{0.9, 0.9},
		{1.0, 1.0},
		{2.0, 3.0},   // above range, must clamp
		{-1.0, 0.5},  // below range, must clamp
		{math.NaN(), 0.5},
	}

	for _, tt := range tests {
		seed := DeriveEntropy(testResponse(tt.quality, tt.strength), features)
		if seed.Confidence < 0 || seed.Confidence > 1 {
			t.Errorf("confidence(q=%f, s=%f) = %f, want [0, 1]", tt.quality, tt.strength, seed.Confidence)
		}
	}
}

func TestDeriveEntropyConfidenceMonotone(t *testing.T) {
	features := FeatureVector{}
	low := DeriveEntropy(testResponse(0.2, 0.5), features)
	high := DeriveEntropy(testResponse(0.8, 0.5), features)
	if high.Confidence <= low.Confidence {
		t.Errorf("confidence not monotone in quality: low=%f high=%f", low.Confidence, high.Confidence)
	}
}
