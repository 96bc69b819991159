package mining

import (
	"testing"
)

func TestEncodeStimulusBounds(t *testing.T) {
	vectors := []FeatureVector{
		{},              // all zero
		allOnes(),       // all max
		{0.5, 0.1, 0.9}, // mixed with trailing zeros
	}

	for _, features := range vectors {
		pattern := EncodeStimulus(features)
		if pattern.Channels() != FeatureVectorSize {
			t.Fatalf("pattern has %d channels, want %d", pattern.Channels(), FeatureVectorSize)
		}
		for i := 0; i < pattern.Channels(); i++ {
			if a := pattern.Amplitudes[i]; a < MinAmplitude || a > MaxAmplitude {
				t.Errorf("amplitude[%d] = %f out of [%f, %f]", i, a, MinAmplitude, MaxAmplitude)
			}
			if f := pattern.Frequencies[i]; f < MinFrequencyHz || f > MaxFrequencyHz {
				t.Errorf("frequency[%d] = %f out of [%f, %f]", i, f, MinFrequencyHz, MaxFrequencyHz)
			}
			if d := pattern.DurationsMs[i]; d < MinDurationMs || d > MaxPatternDurationMs {
				t.Errorf("duration[%d] = %d out of [%d, %d]", i, d, MinDurationMs, MaxPatternDurationMs)
			}
		}
	}
}

func TestEncodeStimulusClampsWildInput(t *testing.T) {
	var features FeatureVector
	features[0] = -5.0
	features[1] = 42.0

	pattern := EncodeStimulus(features)
	if pattern.Amplitudes[0] != MinAmplitude {
		t.Errorf("negative feature should clamp to MinAmplitude, got %f", pattern.Amplitudes[0])
	}
	if pattern.Amplitudes[1] != MaxAmplitude {
		t.Errorf("oversized feature should clamp to MaxAmplitude, got %f", pattern.Amplitudes[1])
	}
}

func TestEncodeStimulusDistinguishesVectors(t *testing.T) {
	a := EncodeStimulus(FeatureVector{0.3, 0.7})
	b := EncodeStimulus(FeatureVector{0.7, 0.3})

	same := true
	for i := range a.Amplitudes {
		if a.Amplitudes[i] != b.Amplitudes[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("distinct feature vectors encoded to identical amplitudes")
	}
}

func allOnes() FeatureVector {
	var f FeatureVector
	for i := range f {
		f[i] = 1.0
	}
	return f
}
