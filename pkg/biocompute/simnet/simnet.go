// Package simnet implements the simulated neural network variant of the
// BioComputeSource interface. The simulation is a small leaky-integrator
// network whose weights adapt under reinforcement, so repeated stimulation
// with rewarded patterns biases future responses.
package simnet

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"biominer/pkg/biocompute/core"
)

// Default simulation parameters
const (
	DefaultChannels     = 16
	DefaultSampleRateHz = 20000
	DefaultNoiseFloor   = 0.02
	DefaultLearningRate = 0.05

	// Membrane leak per integration step
	leakFactor = 0.85

	// Integration steps per millisecond of stimulus duration
	stepsPerMs = 2
)

// SimulatedNetwork implements core.BioComputeSource in software
type SimulatedNetwork struct {
	channels     int
	learningRate float64
	noiseFloor   float64

	// Synaptic weights, [channels][channels]
	weights [][]float64

	// Persistent membrane potentials carried across stimulations
	potentials []float64

	rng         *rand.Rand
	initialized bool

	// Adaptation counters for diagnostics
	stimulations   uint64
	reinforcements uint64
	lastReward     float64

	mu sync.Mutex
}

// Config holds construction parameters for the simulated network
type Config struct {
	Channels     int
	Seed         int64
	LearningRate float64
	NoiseFloor   float64
}

// DefaultConfig returns a sensible default simulation configuration
func DefaultConfig() Config {
	return Config{
		Channels:     DefaultChannels,
		Seed:         time.Now().UnixNano(),
		LearningRate: DefaultLearningRate,
		NoiseFloor:   DefaultNoiseFloor,
	}
}

// NewSimulatedNetwork creates a simulated network with the given configuration
func NewSimulatedNetwork(cfg Config) *SimulatedNetwork {
	if cfg.Channels <= 0 {
		cfg.Channels = DefaultChannels
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = DefaultLearningRate
	}
	if cfg.NoiseFloor < 0 {
		cfg.NoiseFloor = DefaultNoiseFloor
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	weights := make([][]float64, cfg.Channels)
	for i := range weights {
		weights[i] = make([]float64, cfg.Channels)
		for j := range weights[i] {
			// Xavier-style initialization
			weights[i][j] = (rng.Float64() - 0.5) / math.Sqrt(float64(cfg.Channels))
		}
	}

	return &SimulatedNetwork{
		channels:     cfg.Channels,
		learningRate: cfg.LearningRate,
		noiseFloor:   cfg.NoiseFloor,
		weights:      weights,
		potentials:   make([]float64, cfg.Channels),
		rng:          rng,
	}
}

// Name returns the human-readable name of the source
func (s *SimulatedNetwork) Name() string {
	return "Simulated Network"
}

// IsAvailable returns true; the simulation has no hardware requirements
func (s *SimulatedNetwork) IsAvailable() bool {
	return true
}

// Initialize marks the simulation ready. Idempotent.
func (s *SimulatedNetwork) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	return nil
}

// IsReady reports whether the simulation has been initialized
func (s *SimulatedNetwork) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Shutdown releases the simulation state
func (s *SimulatedNetwork) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = false
	return nil
}

// StimulateAndCapture runs the stimulus through the network and captures the
// per-channel responses. Degenerate captures are reported via IsValid=false.
func (s *SimulatedNetwork) StimulateAndCapture(ctx context.Context, pattern *core.StimulusPattern) (*core.BioResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil, core.ErrNotInitialized
	}
	if err := pattern.Validate(s.capabilities()); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	signals := s.integrate(pattern)

	strength := 0.0
	for _, v := range signals {
		strength += math.Abs(v)
	}
	strength /= float64(len(signals))

	quality := s.signalQuality(signals)

	resp := &core.BioResponse{
		Signals:          signals,
		ResponseStrength: strength,
		SignalQuality:    quality,
		IsValid:          quality >= s.noiseFloor && strength > 0,
		CapturedAt:       time.Now(),
		LatencyUs:        uint64(time.Since(start).Microseconds()),
	}
	if !resp.IsValid {
		resp.Reason = "signal quality below noise floor"
	}

	s.stimulations++
	return resp, nil
}

// integrate runs the leaky-integrator dynamics for the pattern duration
func (s *SimulatedNetwork) integrate(pattern *core.StimulusPattern) []float64 {
	n := s.channels
	input := make([]float64, n)
	for i := 0; i < n; i++ {
		src := i % pattern.Channels()
		// Drive each channel with its amplitude modulated by frequency phase
		steps := pattern.DurationsMs[src] * stepsPerMs
		phase := pattern.Frequencies[src] * float64(pattern.DurationsMs[src]) / 1000.0
		input[i] = pattern.Amplitudes[src] / 200.0 * math.Abs(math.Sin(2*math.Pi*phase)) * float64(steps) / float64(steps+1)
	}

	// Leak, inject, propagate through the weight matrix
	next := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := s.potentials[i] * leakFactor
		for j := 0; j < n; j++ {
			sum += s.weights[i][j] * input[j]
		}
		// Bounded activation keeps potentials from running away
		next[i] = math.Tanh(sum + input[i])
	}
	copy(s.potentials, next)

	// Captured signal is the activation plus simulated recording noise
	signals := make([]float64, n)
	for i := 0; i < n; i++ {
		signals[i] = next[i] + (s.rng.Float64()-0.5)*s.noiseFloor
	}
	return signals
}

// signalQuality estimates capture quality from signal variance
func (s *SimulatedNetwork) signalQuality(signals []float64) float64 {
	mean := 0.0
	for _, v := range signals {
		mean += v
	}
	mean /= float64(len(signals))

	variance := 0.0
	for _, v := range signals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(signals))

	// Map variance into (0, 1]; a flat response scores near zero
	quality := 1.0 - math.Exp(-variance*50.0)
	if quality > 1.0 {
		quality = 1.0
	}
	if quality < 0 {
		quality = 0
	}
	return quality
}

// ReinforcePattern applies a Hebbian-style weight update toward the winning
// stimulus, scaled by the reward. Runs under the source mutex and returns
// quickly; there is no hardware round trip.
func (s *SimulatedNetwork) ReinforcePattern(pattern *core.StimulusPattern, nonce uint32, reward float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return core.ErrNotInitialized
	}
	if reward <= 0 {
		return nil
	}

	n := s.channels
	drive := make([]float64, n)
	for i := 0; i < n; i++ {
		src := i % pattern.Channels()
		drive[i] = pattern.Amplitudes[src] / 200.0
	}

	// Mix nonce bits into the update so distinct winners leave distinct traces
	for i := 0; i < n; i++ {
		bit := float64((nonce>>(uint(i)%32))&1)*2 - 1
		for j := 0; j < n; j++ {
			s.weights[i][j] += s.learningRate * reward * drive[j] * bit / float64(n)
			s.weights[i][j] = math.Max(-2, math.Min(2, s.weights[i][j]))
		}
	}

	s.reinforcements++
	s.lastReward = reward
	return nil
}

// SupervisedUpdate nudges weights so the network's response drifts toward the
// target activation derived from a known nonce. Returns the pre-update loss.
// Used by the historical trainer; not part of the live mining path.
func (s *SimulatedNetwork) SupervisedUpdate(pattern *core.StimulusPattern, target []float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return 0, core.ErrNotInitialized
	}
	if len(target) == 0 {
		return 0, core.ErrInvalidPattern
	}

	current := s.integrate(pattern)

	loss := 0.0
	n := s.channels
	for i := 0; i < n; i++ {
		t := target[i%len(target)]
		diff := current[i] - t
		loss += diff * diff

		for j := 0; j < n; j++ {
			src := j % pattern.Channels()
			grad := diff * pattern.Amplitudes[src] / 200.0
			s.weights[i][j] -= s.learningRate * grad / float64(n)
			s.weights[i][j] = math.Max(-2, math.Min(2, s.weights[i][j]))
		}
	}
	return loss / float64(n), nil
}

// GetDiagnosticInfo returns human-readable simulation state
func (s *SimulatedNetwork) GetDiagnosticInfo() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	norm := 0.0
	for i := range s.weights {
		for j := range s.weights[i] {
			norm += s.weights[i][j] * s.weights[i][j]
		}
	}
	norm = math.Sqrt(norm)

	return fmt.Sprintf(
		"simnet: channels=%d initialized=%v stimulations=%d reinforcements=%d last_reward=%.2f weight_norm=%.4f",
		s.channels, s.initialized, s.stimulations, s.reinforcements, s.lastReward, norm)
}

// GetCapabilities returns the simulation's capabilities
func (s *SimulatedNetwork) GetCapabilities() *core.Capabilities {
	return s.capabilities()
}

func (s *SimulatedNetwork) capabilities() *core.Capabilities {
	return &core.Capabilities{
		Name:           "Simulated Network",
		IsHardware:     false,
		Channels:       s.channels,
		SampleRateHz:   DefaultSampleRateHz,
		MaxAmplitude:   200.0,
		MaxFrequency:   250.0,
		MaxDurationMs:  500,
		CaptureTimeout: 2 * time.Second,
	}
}
