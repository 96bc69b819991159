// Package factory selects and manages BioComputeSource instances. It owns
// the rule that exactly one source is active at a time: stimulation calls
// hold a shared lock, switching variants holds the exclusive lock, so a
// switch never overlaps an in-flight stimulation.
package factory

import (
	"context"
	"fmt"
	"sync"

	"biominer/pkg/biocompute/core"
	"biominer/pkg/biocompute/mea"
	"biominer/pkg/biocompute/simnet"
)

// SourceConfig contains configuration for signal source selection
type SourceConfig struct {
	// Preferred source order (highest priority first)
	PreferredOrder []string `json:"preferred_order"`

	// MEA-specific settings
	ControllerAddr string `json:"controller_addr"`
	SSHUser        string `json:"ssh_user"`
	SSHPassword    string `json:"-"`

	// Simulation settings
	SimSeed         int64   `json:"sim_seed"`
	SimLearningRate float64 `json:"sim_learning_rate"`

	// Allow fallback to the simulation when hardware is absent
	EnableFallback bool `json:"enable_fallback"`
}

// DefaultSourceConfig returns a sensible default configuration
func DefaultSourceConfig() *SourceConfig {
	return &SourceConfig{
		PreferredOrder: []string{
			"mea",    // 1. Physical electrode array
			"simnet", // 2. Software neural simulation
		},
		SSHUser:        "root",
		EnableFallback: true,
	}
}

// SourceFactory creates and manages signal source instances
type SourceFactory struct {
	config   *SourceConfig
	sources  map[string]core.BioComputeSource
	active   core.BioComputeSource
	detected map[string]bool

	// RLock for stimulation traffic, Lock for variant switching
	mu sync.RWMutex
}

// NewSourceFactory creates a new factory with the given configuration
func NewSourceFactory(config *SourceConfig) *SourceFactory {
	if config == nil {
		config = DefaultSourceConfig()
	}

	f := &SourceFactory{
		config:   config,
		sources:  make(map[string]core.BioComputeSource),
		detected: make(map[string]bool),
	}

	f.detectSources()
	f.selectActiveSource()

	return f
}

// detectSources instantiates every variant and records availability
func (f *SourceFactory) detectSources() {
	array := mea.NewSensorArray(mea.Config{
		ControllerAddr: f.config.ControllerAddr,
		SSHUser:        f.config.SSHUser,
		SSHPassword:    f.config.SSHPassword,
	})
	f.sources["mea"] = array
	f.detected["mea"] = array.IsAvailable()

	simCfg := simnet.DefaultConfig()
	if f.config.SimSeed != 0 {
		simCfg.Seed = f.config.SimSeed
	}
	if f.config.SimLearningRate > 0 {
		simCfg.LearningRate = f.config.SimLearningRate
	}
	sim := simnet.NewSimulatedNetwork(simCfg)
	f.sources["simnet"] = sim
	f.detected["simnet"] = true
}

// selectActiveSource chooses the best available source per the config order
func (f *SourceFactory) selectActiveSource() {
	for _, name := range f.config.PreferredOrder {
		if source, exists := f.sources[name]; exists && f.detected[name] {
			f.active = source
			return
		}
	}

	if f.config.EnableFallback {
		f.active = f.sources["simnet"]
	}
}

// ActiveSource returns the currently active source
func (f *SourceFactory) ActiveSource() core.BioComputeSource {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.active
}

// ActiveName returns the registry name of the active source
func (f *SourceFactory) ActiveName() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.activeNameLocked()
}

func (f *SourceFactory) activeNameLocked() string {
	for name, source := range f.sources {
		if source == f.active {
			return name
		}
	}
	return ""
}

// GetSource returns a specific source by name
func (f *SourceFactory) GetSource(name string) core.BioComputeSource {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sources[name]
}

// InitializeActive initializes the currently selected source
func (f *SourceFactory) InitializeActive() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.active == nil {
		return core.ErrSourceUnavailable
	}
	return f.active.Initialize()
}

// StimulateAndCapture routes a stimulation through the active source. The
// shared lock keeps variant switches from interleaving with the call; the
// source's own mutex serializes concurrent stimulations.
func (f *SourceFactory) StimulateAndCapture(ctx context.Context, pattern *core.StimulusPattern) (*core.BioResponse, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.active == nil {
		return nil, core.ErrSourceUnavailable
	}
	return f.active.StimulateAndCapture(ctx, pattern)
}

// ReinforcePattern routes a reinforcement through the active source
func (f *SourceFactory) ReinforcePattern(pattern *core.StimulusPattern, nonce uint32, reward float64) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.active == nil {
		return core.ErrSourceUnavailable
	}
	return f.active.ReinforcePattern(pattern, nonce, reward)
}

// SwitchTo activates a different source variant. Stop-the-world: waits for
// in-flight stimulations, shuts down the old source and re-initializes the
// new one before any new stimulation may start.
func (f *SourceFactory) SwitchTo(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next, exists := f.sources[name]
	if !exists {
		return fmt.Errorf("unknown signal source %q", name)
	}
	if next == f.active {
		return f.active.Initialize()
	}

	if f.active != nil {
		if err := f.active.Shutdown(); err != nil {
			return fmt.Errorf("shutdown of %s failed: %w", f.active.Name(), err)
		}
	}

	if err := next.Initialize(); err != nil {
		// Old source is already down; fall back so the pipeline keeps a source
		if f.config.EnableFallback && name != "simnet" {
			if fe := f.sources["simnet"].Initialize(); fe == nil {
				f.active = f.sources["simnet"]
			}
		}
		return err
	}

	f.active = next
	return nil
}

// ShutdownAll shuts down every source
func (f *SourceFactory) ShutdownAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for name, source := range f.sources {
		if err := source.Shutdown(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", name, err)
		}
	}
	return firstErr
}

// DetectionReport contains the results of source detection
type DetectionReport struct {
	Sources      []*SourceStatus `json:"sources"`
	ActiveSource string          `json:"active_source"`
	TotalSources int             `json:"total_sources"`
}

// SourceStatus describes the status of a single signal source
type SourceStatus struct {
	Name         string             `json:"name"`
	Available    bool               `json:"available"`
	Ready        bool               `json:"ready"`
	Priority     int                `json:"priority"`
	Capabilities *core.Capabilities `json:"capabilities"`
}

// GetDetectionReport returns a report of detected sources and their status
func (f *SourceFactory) GetDetectionReport() *DetectionReport {
	f.mu.RLock()
	defer f.mu.RUnlock()

	report := &DetectionReport{
		ActiveSource: "none",
		TotalSources: len(f.sources),
	}

	for _, name := range f.config.PreferredOrder {
		source, exists := f.sources[name]
		if !exists {
			continue
		}
		report.Sources = append(report.Sources, &SourceStatus{
			Name:         name,
			Available:    f.detected[name],
			Ready:        source.IsReady(),
			Priority:     f.priority(name),
			Capabilities: source.GetCapabilities(),
		})
	}

	// Registry key, not the display name, so the value round-trips
	// through a switch request.
	if f.active != nil {
		report.ActiveSource = f.activeNameLocked()
	}
	return report
}

func (f *SourceFactory) priority(name string) int {
	for i, preferred := range f.config.PreferredOrder {
		if name == preferred {
			return i
		}
	}
	return 999
}
