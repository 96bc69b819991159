package mining

import (
	"math"

	"biominer/pkg/biocompute/core"
)

// Stimulus parameter ranges. Values outside these bounds can damage
// cultured tissue on the hardware array, so the encoder clamps into them
// and the driver validates against capabilities before transmitting.
const (
	MinAmplitude = 10.0
	MaxAmplitude = 200.0

	MinFrequencyHz = 1.0
	MaxFrequencyHz = 250.0

	MinDurationMs        = 10
	MaxPatternDurationMs = 500
)

// EncodeStimulus maps a feature vector onto a multi-channel stimulus
// pattern, one channel per feature. Pure function: distinct vectors
// produce distinct patterns because each amplitude is an affine image of
// its feature value.
func EncodeStimulus(features FeatureVector) *core.StimulusPattern {
	n := len(features)
	pattern := &core.StimulusPattern{
		Amplitudes:  make([]float64, n),
		Frequencies: make([]float64, n),
		DurationsMs: make([]int, n),
	}

	for i, f := range features {
		f = clamp01(f)

		pattern.Amplitudes[i] = MinAmplitude + f*(MaxAmplitude-MinAmplitude)

		// Frequency pairs each feature with its neighbor so channels carry
		// second-order structure, not just a rescaled copy of amplitude.
		paired := clamp01((f + features[(i+1)%n]) / 2.0)
		pattern.Frequencies[i] = MinFrequencyHz + paired*(MaxFrequencyHz-MinFrequencyHz)

		dur := MinDurationMs + int(math.Round(f*float64(MaxPatternDurationMs-MinDurationMs)))
		if dur > MaxPatternDurationMs {
			dur = MaxPatternDurationMs
		}
		pattern.DurationsMs[i] = dur
	}

	return pattern
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
