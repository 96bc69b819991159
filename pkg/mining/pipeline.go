package mining

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"biominer/pkg/biocompute/core"
)

// SignalSource is the slice of a biological compute source the mining
// pipeline needs. Both a concrete source and the source factory satisfy
// it.
type SignalSource interface {
	StimulateAndCapture(ctx context.Context, pattern *core.StimulusPattern) (*core.BioResponse, error)
	ReinforcePattern(pattern *core.StimulusPattern, nonce uint32, reward float64) error
}

// Config tunes one Miner instance.
type Config struct {
	Strategy       Strategy `json:"strategy"`
	PointCount     int      `json:"point_count"`
	WindowSize     uint32   `json:"window_size"`
	Workers        int      `json:"workers"`
	MemoryCapacity int      `json:"memory_capacity"`
	MemoryPath     string   `json:"memory_path,omitempty"`
}

// DefaultConfig returns the standard mining configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:   StrategyBioGuided,
		PointCount: DefaultPointCount,
		WindowSize: DefaultWindowSize,
	}
}

// Validate rejects a bad configuration before any stimulation happens.
func (c *Config) Validate() error {
	return ValidateGeneratorConfig(c.Strategy, c.PointCount, c.WindowSize)
}

// AttemptResult is the full record of one mining attempt.
type AttemptResult struct {
	Found          bool          `json:"found"`
	Nonce          uint32        `json:"nonce"`
	Hash           string        `json:"hash,omitempty"`
	WindowIndex    uint32        `json:"window_index"`
	HashesTried    uint64        `json:"hashes_tried"`
	HashRate       float64       `json:"hash_rate"`
	Confidence     float64       `json:"confidence"`
	SignalQuality  float64       `json:"signal_quality"`
	StimulationUs  uint64        `json:"stimulation_us"`
	SearchDuration time.Duration `json:"search_duration"`
	TotalDuration  time.Duration `json:"total_duration"`
}

// Status is a point-in-time snapshot of a miner, safe to serve
// concurrently with mining.
type Status struct {
	Attempts       uint64    `json:"attempts"`
	Successes      uint64    `json:"successes"`
	TotalHashes    uint64    `json:"total_hashes"`
	LastHashRate   float64   `json:"last_hash_rate"`
	LastConfidence float64   `json:"last_confidence"`
	MemorySize     int       `json:"memory_size"`
	LastAttemptAt  time.Time `json:"last_attempt_at,omitempty"`
	Mining         bool      `json:"mining"`
}

// Miner runs the full stimulate-derive-search-reinforce pipeline for
// block headers.
type Miner struct {
	config   Config
	source   SignalSource
	gen      *PointGenerator
	executor *SearchExecutor
	learner  *ReinforcementLearner
	memory   *PatternMemory

	mu     sync.Mutex
	status Status
}

// NewMiner validates config and assembles the pipeline.
func NewMiner(config Config, source SignalSource) (*Miner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, NewError(ErrCodeConfiguration, "signal source is required")
	}

	memory := NewPatternMemory(config.MemoryCapacity)
	if config.MemoryPath != "" {
		if err := memory.Load(config.MemoryPath); err != nil {
			log.Printf("[miner] starting with empty pattern memory: %v", err)
		}
	}

	gen, err := NewPointGenerator(config.Strategy, config.PointCount, config.WindowSize, memory)
	if err != nil {
		return nil, err
	}

	return &Miner{
		config:   config,
		source:   source,
		gen:      gen,
		executor: NewSearchExecutor(config.Workers),
		learner:  NewReinforcementLearner(memory),
		memory:   memory,
	}, nil
}

// Mine runs one attempt against the header. Stage order is fixed:
// features, stimulus, stimulation, entropy, window generation, search,
// reinforcement. An invalid biological response aborts the attempt with
// ErrInvalidResponse before entropy derivation.
func (m *Miner) Mine(ctx context.Context, header *BlockHeader) (*AttemptResult, error) {
	start := time.Now()

	m.mu.Lock()
	m.status.Mining = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.status.Mining = false
		m.mu.Unlock()
	}()

	features := ExtractFeatures(header, header.Difficulty())
	pattern := EncodeStimulus(features)

	response, err := m.source.StimulateAndCapture(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("stimulation failed: %w", err)
	}
	if !response.IsValid {
		m.recordAttempt(nil, 0)
		return nil, NewError(ErrCodeInvalidResponse, "biological response rejected", response.Reason)
	}

	seed := DeriveEntropy(response, features)
	windows := m.gen.Generate(seed, features)

	result, err := m.executor.Search(ctx, header, windows)
	if err != nil && result == nil {
		return nil, err
	}

	attempt := &AttemptResult{
		HashesTried:    result.HashesTried,
		HashRate:       result.HashRate,
		Confidence:     seed.Confidence,
		SignalQuality:  response.SignalQuality,
		StimulationUs:  response.LatencyUs,
		SearchDuration: result.Elapsed,
		TotalDuration:  time.Since(start),
	}

	if err != nil {
		m.recordAttempt(result, seed.Confidence)
		return attempt, err
	}

	attempt.Found = true
	attempt.Nonce = result.Nonce
	attempt.Hash = result.Hash
	attempt.WindowIndex = result.WindowIndex

	if rerr := m.learner.RecordOutcome(m.source, pattern, features, result); rerr != nil {
		log.Printf("[miner] reinforcement incomplete: %v", rerr)
	}
	m.recordAttempt(result, seed.Confidence)
	m.mu.Lock()
	m.status.Successes++
	m.mu.Unlock()

	return attempt, nil
}

// GetStatus returns a copy of the miner's counters.
func (m *Miner) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status
	s.MemorySize = m.memory.Len()
	return s
}

// PersistMemory saves the pattern memory if a path was configured.
func (m *Miner) PersistMemory() error {
	if m.config.MemoryPath == "" {
		return nil
	}
	return m.memory.Save(m.config.MemoryPath)
}

// Memory exposes the miner's pattern store.
func (m *Miner) Memory() *PatternMemory {
	return m.memory
}

func (m *Miner) recordAttempt(result *SearchResult, confidence float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Attempts++
	m.status.LastAttemptAt = time.Now()
	m.status.LastConfidence = confidence
	if result != nil {
		m.status.TotalHashes += result.HashesTried
		m.status.LastHashRate = result.HashRate
	}
}
