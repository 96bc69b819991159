package training

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"biominer/internal/provider"
	"biominer/pkg/biocompute/core"
	"biominer/pkg/mining"
)

// Default trainer tuning.
const (
	DefaultValidateEvery    = 50
	DefaultValidationBlocks = 8
)

// BlockProvider supplies historical blocks by height.
type BlockProvider interface {
	FetchBlock(ctx context.Context, height uint64, cacheBust bool) (*provider.Block, error)
}

// TrainableSource is the slice of a signal source the trainer needs: the
// stimulation path for validation passes and a supervised weight update
// for training blocks. The simulated network implements it; hardware
// arrays that cannot take supervised updates are not trainable.
type TrainableSource interface {
	StimulateAndCapture(ctx context.Context, pattern *core.StimulusPattern) (*core.BioResponse, error)
	SupervisedUpdate(pattern *core.StimulusPattern, target []float64) (float64, error)
}

// Config tunes one training run.
type Config struct {
	StartHeight      uint64          `json:"start_height"`
	Count            int             `json:"count"`
	ValidateEvery    int             `json:"validate_every"`
	ValidationBlocks int             `json:"validation_blocks"`
	Strategy         mining.Strategy `json:"strategy"`
	PointCount       int             `json:"point_count"`
	WindowSize       uint32          `json:"window_size"`
	SessionPath      string          `json:"session_path,omitempty"`
}

// Validate rejects a bad configuration before the first fetch.
func (c *Config) Validate() error {
	if c.Count <= 0 {
		return mining.NewError(mining.ErrCodeConfiguration, "block count must be positive")
	}
	if c.ValidateEvery < 0 {
		return mining.NewError(mining.ErrCodeConfiguration, "validate interval must not be negative")
	}
	strategy := c.Strategy
	if strategy == "" {
		strategy = mining.StrategyUniform
	}
	return mining.ValidateGeneratorConfig(strategy, c.PointCount, c.windowSize())
}

func (c *Config) windowSize() uint32 {
	if c.WindowSize == 0 {
		return mining.DefaultWindowSize
	}
	return c.WindowSize
}

func (c *Config) validateEvery() int {
	if c.ValidateEvery == 0 {
		return DefaultValidateEvery
	}
	return c.ValidateEvery
}

func (c *Config) validationBlocks() int {
	if c.ValidationBlocks <= 0 {
		return DefaultValidationBlocks
	}
	return c.ValidationBlocks
}

// Trainer runs one historical training session against a signal source.
type Trainer struct {
	config   Config
	provider BlockProvider
	source   TrainableSource
	memory   *mining.PatternMemory
	gen      *mining.PointGenerator

	mu      sync.Mutex
	session *Session
	running bool

	stopCh   chan struct{}
	stopOnce sync.Once

	// held-out blocks cached after the baseline pass
	holdout []*provider.Block
}

// NewTrainer validates config and assembles a trainer. memory may be nil
// unless the bioguided strategy is configured.
func NewTrainer(config Config, blocks BlockProvider, source TrainableSource, memory *mining.PatternMemory) (*Trainer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if blocks == nil || source == nil {
		return nil, mining.NewError(mining.ErrCodeConfiguration, "provider and source are required")
	}

	strategy := config.Strategy
	if strategy == "" {
		strategy = mining.StrategyUniform
	}
	gen, err := mining.NewPointGenerator(strategy, config.PointCount, config.windowSize(), memory)
	if err != nil {
		return nil, err
	}

	return &Trainer{
		config:   config,
		provider: blocks,
		source:   source,
		memory:   memory,
		gen:      gen,
		session:  NewSession(config.StartHeight, config.Count),
		stopCh:   make(chan struct{}),
	}, nil
}

// Stop requests a graceful stop. The trainer notices between blocks,
// never mid-block, and finalizes with status Stopped preserving partial
// results. Safe to call more than once.
func (t *Trainer) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *Trainer) stopped() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}

// GetSessionSnapshot returns a copy of the session safe for concurrent
// readers while training runs.
func (t *Trainer) GetSessionSnapshot() Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := *t.session
	snap.PerBlockResults = append([]BlockResult(nil), t.session.PerBlockResults...)
	snap.ValidationResults = append([]ValidationResult(nil), t.session.ValidationResults...)
	return snap
}

// Run executes the full session: baseline validation, the training loop
// with periodic validation, then finalization. Blocking; callers wanting
// a background trainer run it in their own goroutine and use Stop.
func (t *Trainer) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return mining.NewError(mining.ErrCodeConfiguration, "trainer already running")
	}
	t.running = true
	t.mu.Unlock()

	log.Printf("[trainer] session %s: %d blocks from height %d",
		t.session.SessionID, t.config.Count, t.config.StartHeight)

	if err := t.run(ctx); err != nil {
		t.setStatus(StatusError)
		t.mu.Lock()
		t.session.ErrorMessage = err.Error()
		t.session.FinishedAt = time.Now()
		t.mu.Unlock()
		t.persist()
		return err
	}
	return nil
}

func (t *Trainer) run(ctx context.Context) error {
	// Baseline pass over the held-out set records pre-training metrics
	t.setStatus(StatusBaselineValidating)
	if err := t.fetchHoldout(ctx); err != nil {
		return err
	}
	if err := t.validatePass(ctx); err != nil {
		return err
	}

	t.setStatus(StatusTraining)
	trainedSinceValidation := 0
	for i := 0; i < t.config.Count; i++ {
		if ctx.Err() != nil || t.stopped() {
			return t.finish(StatusStopped)
		}

		height := t.config.StartHeight + uint64(i)
		trained := t.trainBlock(ctx, height)
		if trained {
			trainedSinceValidation++
		}

		if trainedSinceValidation >= t.config.validateEvery() {
			t.setStatus(StatusPeriodicValidating)
			if err := t.validatePass(ctx); err != nil {
				return err
			}
			t.setStatus(StatusTraining)
			trainedSinceValidation = 0
		}
	}

	// Closing validation pass captures the post-training metrics
	t.setStatus(StatusPeriodicValidating)
	if err := t.validatePass(ctx); err != nil {
		return err
	}

	return t.finish(StatusComplete)
}

func (t *Trainer) finish(status SessionStatus) error {
	t.setStatus(StatusFinalizing)
	t.mu.Lock()
	t.session.finalize()
	t.session.Status = status
	t.mu.Unlock()
	t.persist()

	log.Printf("[trainer] session %s finished: status=%s trained=%d improvement=%.2f%%",
		t.session.SessionID, status, t.session.BlocksTrained, t.session.ImprovementPercent)
	return nil
}

// trainBlock fetches one block and applies a supervised update against
// its recorded nonce. Fetch failures exhaust the provider's retry budget
// and are then recorded as a skip, not a session error. Reports whether
// the block was actually trained.
func (t *Trainer) trainBlock(ctx context.Context, height uint64) bool {
	start := time.Now()

	block, err := t.provider.FetchBlock(ctx, height, false)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		log.Printf("[trainer] skipping height %d: %v", height, err)
		t.recordBlock(BlockResult{
			Height: height, Skipped: true, Error: err.Error(),
			ElapsedMs: time.Since(start).Milliseconds(),
		})
		return false
	}

	header, err := block.Header()
	if err != nil {
		t.recordBlock(BlockResult{
			Height: height, Skipped: true, Error: err.Error(),
			ElapsedMs: time.Since(start).Milliseconds(),
		})
		return false
	}

	features := mining.ExtractFeatures(header, header.Difficulty())
	pattern := mining.EncodeStimulus(features)

	loss, err := t.source.SupervisedUpdate(pattern, nonceTarget(block.Nonce))
	if err != nil {
		t.recordBlock(BlockResult{
			Height: height, Skipped: true, Error: err.Error(),
			ElapsedMs: time.Since(start).Milliseconds(),
		})
		return false
	}

	t.mu.Lock()
	t.session.BlocksTrained++
	t.session.PerBlockResults = append(t.session.PerBlockResults, BlockResult{
		Height: height, Loss: loss,
		ElapsedMs: time.Since(start).Milliseconds(),
	})
	t.mu.Unlock()
	return true
}

// fetchHoldout loads the validation set: the blocks immediately after
// the training range, cached for every validation pass so before and
// after metrics compare like with like.
func (t *Trainer) fetchHoldout(ctx context.Context) error {
	first := t.config.StartHeight + uint64(t.config.Count)
	n := t.config.validationBlocks()

	t.holdout = t.holdout[:0]
	for i := 0; i < n; i++ {
		block, err := t.provider.FetchBlock(ctx, first+uint64(i), false)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			log.Printf("[trainer] holdout height %d unavailable: %v", first+uint64(i), err)
			continue
		}
		t.holdout = append(t.holdout, block)
	}
	if len(t.holdout) == 0 {
		return fmt.Errorf("no validation blocks available from height %d: %w", first, mining.ErrFetchFailure)
	}
	return nil
}

// validatePass reuses the live stimulation path without reinforcement
// over the held-out set and records how close the generated windows land
// to each block's real nonce.
func (t *Trainer) validatePass(ctx context.Context) error {
	var distanceSum float64
	successes := 0
	scored := 0

	for _, block := range t.holdout {
		header, err := block.Header()
		if err != nil {
			continue
		}

		features := mining.ExtractFeatures(header, header.Difficulty())
		pattern := mining.EncodeStimulus(features)

		response, err := t.source.StimulateAndCapture(ctx, pattern)
		if err != nil {
			return fmt.Errorf("validation stimulation failed: %w", err)
		}
		if !response.IsValid {
			// A rejected capture scores as a full miss
			distanceSum += 1.0
			scored++
			continue
		}

		seed := mining.DeriveEntropy(response, features)
		windows := t.gen.Generate(seed, features)

		dist, covered := nonceDistance(windows, block.Nonce)
		distanceSum += dist
		if covered {
			successes++
		}
		scored++
	}

	if scored == 0 {
		return fmt.Errorf("validation pass scored no blocks: %w", mining.ErrFetchFailure)
	}

	t.mu.Lock()
	t.session.ValidationResults = append(t.session.ValidationResults, ValidationResult{
		BlocksTrained: t.session.BlocksTrained,
		AvgDistance:   distanceSum / float64(scored),
		SuccessRate:   float64(successes) / float64(scored),
		RunAt:         time.Now(),
	})
	t.mu.Unlock()
	return nil
}

func (t *Trainer) setStatus(status SessionStatus) {
	t.mu.Lock()
	t.session.Status = status
	t.mu.Unlock()
}

func (t *Trainer) recordBlock(result BlockResult) {
	t.mu.Lock()
	t.session.PerBlockResults = append(t.session.PerBlockResults, result)
	t.mu.Unlock()
}

func (t *Trainer) persist() {
	if t.config.SessionPath == "" {
		return
	}
	snap := t.GetSessionSnapshot()
	if err := snap.Save(t.config.SessionPath); err != nil {
		log.Printf("[trainer] failed to persist session: %v", err)
	}
}

// nonceTarget maps a 32-bit nonce onto a target activation in [-1, 1]
// per channel, two nonce bits per channel.
func nonceTarget(nonce uint32) []float64 {
	target := make([]float64, 16)
	for i := range target {
		pair := float64((nonce >> uint(2*i)) & 3)
		target[i] = pair/1.5 - 1
	}
	return target
}

// nonceDistance returns the normalized circular distance from the
// closest window to the actual nonce, and whether any window covers it.
func nonceDistance(windows []mining.SearchWindow, actual uint32) (float64, bool) {
	const space = float64(1 << 32)
	best := math.MaxFloat64

	for _, w := range windows {
		if uint64(w.Start) <= uint64(actual) && uint64(actual) < w.End() {
			return 0, true
		}
		center := float64(w.Start) + float64(w.Size)/2
		d := math.Abs(center - float64(actual))
		if wrap := space - d; wrap < d {
			d = wrap
		}
		if d < best {
			best = d
		}
	}
	return best / (space / 2), false
}
