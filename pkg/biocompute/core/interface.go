package core

import (
	"context"
	"time"
)

// BioComputeSource defines the interface that all biological signal sources
// must follow. Exactly one source is active at a time; switching sources is
// serialized by the factory.
type BioComputeSource interface {
	// Name returns the human-readable name of the signal source
	Name() string

	// IsAvailable returns true if this source can be used on the current system
	IsAvailable() bool

	// Initialize acquires hardware or simulation resources. It is idempotent:
	// calling it on an already-ready source is a no-op.
	Initialize() error

	// IsReady is a cheap readiness probe with no side effects
	IsReady() bool

	// Shutdown releases resources held by the source
	Shutdown() error

	// StimulateAndCapture applies the pattern and records the response within
	// the source's capture timeout. Insufficient signal quality is reported
	// through BioResponse.IsValid=false, never through an error.
	StimulateAndCapture(ctx context.Context, pattern *StimulusPattern) (*BioResponse, error)

	// ReinforcePattern feeds a winning stimulus/nonce/reward back into the
	// source's internal adaptation state. Best effort, bounded duration.
	ReinforcePattern(pattern *StimulusPattern, nonce uint32, reward float64) error

	// GetDiagnosticInfo returns human-readable internal state for observability
	GetDiagnosticInfo() string

	// GetCapabilities returns the capabilities and physical limits of the source
	GetCapabilities() *Capabilities
}

// StimulusPattern is the electrode-level stimulation program derived from a
// block header. All three sequences have equal length, one entry per channel.
type StimulusPattern struct {
	// Amplitudes in microamp-equivalent units
	Amplitudes []float64 `json:"amplitudes"`

	// Frequencies in Hz
	Frequencies []float64 `json:"frequencies"`

	// Per-channel stimulation duration in milliseconds
	DurationsMs []int `json:"durations_ms"`
}

// Channels returns the number of stimulation channels in the pattern
func (p *StimulusPattern) Channels() int {
	return len(p.Amplitudes)
}

// Validate checks the pattern against the given source capabilities
func (p *StimulusPattern) Validate(caps *Capabilities) error {
	if len(p.Amplitudes) == 0 {
		return &SourceError{Code: ErrCodeInvalidPattern, Message: "empty stimulus pattern"}
	}
	if len(p.Amplitudes) != len(p.Frequencies) || len(p.Amplitudes) != len(p.DurationsMs) {
		return &SourceError{Code: ErrCodeInvalidPattern, Message: "stimulus sequences have unequal lengths"}
	}
	for i := range p.Amplitudes {
		if p.Amplitudes[i] < 0 || p.Amplitudes[i] > caps.MaxAmplitude {
			return &SourceError{Code: ErrCodeInvalidPattern, Message: "amplitude out of bounds"}
		}
		if p.Frequencies[i] < 0 || p.Frequencies[i] > caps.MaxFrequency {
			return &SourceError{Code: ErrCodeInvalidPattern, Message: "frequency out of bounds"}
		}
		if p.DurationsMs[i] <= 0 || p.DurationsMs[i] > caps.MaxDurationMs {
			return &SourceError{Code: ErrCodeInvalidPattern, Message: "duration out of bounds"}
		}
	}
	return nil
}

// BioResponse carries the captured signals for one stimulation cycle.
// IsValid=false halts the pipeline for that attempt.
type BioResponse struct {
	// Captured signal values, one aggregate sample per channel
	Signals []float64 `json:"signals"`

	// ResponseStrength is the mean absolute signal magnitude
	ResponseStrength float64 `json:"response_strength"`

	// SignalQuality in [0, 1]; capture noise and dropouts reduce it
	SignalQuality float64 `json:"signal_quality"`

	// IsValid is false when the capture is unusable (timeout, CRC failure,
	// quality below the source's floor)
	IsValid bool `json:"is_valid"`

	// Reason for an invalid capture (if applicable)
	Reason string `json:"reason,omitempty"`

	CapturedAt time.Time `json:"captured_at"`
	LatencyUs  uint64    `json:"latency_us"`
}

// Capabilities describes the physical limits and characteristics of a source
type Capabilities struct {
	// Name of the source
	Name string `json:"name"`

	// Whether this source drives actual electrode hardware
	IsHardware bool `json:"is_hardware"`

	// Number of stimulation/recording channels
	Channels int `json:"channels"`

	// Sampling rate in Hz
	SampleRateHz int `json:"sample_rate_hz"`

	// Physical stimulation bounds
	MaxAmplitude  float64 `json:"max_amplitude"`
	MaxFrequency  float64 `json:"max_frequency"`
	MaxDurationMs int     `json:"max_duration_ms"`

	// Capture timeout for StimulateAndCapture
	CaptureTimeout time.Duration `json:"capture_timeout"`

	// Hardware-specific details
	HardwareInfo *HardwareInfo `json:"hardware_info,omitempty"`

	// Reason for unavailability (if applicable)
	Reason string `json:"reason,omitempty"`
}

// HardwareInfo contains hardware-specific information for real sensor arrays
type HardwareInfo struct {
	// USB vendor/product identifiers
	VendorID  uint16 `json:"vendor_id"`
	ProductID uint16 `json:"product_id"`

	// Firmware version reported by the controller
	Version string `json:"version"`

	// Connection type (USB, TCP)
	ConnectionType string `json:"connection_type"`

	// Controller address for network-reachable arrays
	ControllerAddr string `json:"controller_addr,omitempty"`

	// Additional hardware metadata
	Metadata map[string]string `json:"metadata,omitempty"`
}
