// Package training drives supervised adaptation of a biological signal
// source against historically solved blocks.
package training

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// SessionStatus labels the trainer's lifecycle state.
type SessionStatus string

const (
	StatusIdle               SessionStatus = "idle"
	StatusBaselineValidating SessionStatus = "baseline_validating"
	StatusTraining           SessionStatus = "training"
	StatusPeriodicValidating SessionStatus = "periodic_validating"
	StatusFinalizing         SessionStatus = "finalizing"
	StatusComplete           SessionStatus = "complete"
	StatusStopped            SessionStatus = "stopped"
	StatusError              SessionStatus = "error"
)

// BlockResult records the outcome of one training block.
type BlockResult struct {
	Height    uint64  `json:"height"`
	Loss      float64 `json:"loss"`
	Skipped   bool    `json:"skipped,omitempty"`
	Error     string  `json:"error,omitempty"`
	ElapsedMs int64   `json:"elapsed_ms"`
}

// ValidationResult records one held-out validation pass.
type ValidationResult struct {
	BlocksTrained int       `json:"blocks_trained"`
	AvgDistance   float64   `json:"avg_distance"`
	SuccessRate   float64   `json:"success_rate"`
	RunAt         time.Time `json:"run_at"`
}

// Session is the persisted record of one training run. It is append-only
// while the trainer is live and finalized exactly once.
type Session struct {
	SessionID          string             `json:"session_id"`
	StartHeight        uint64             `json:"start_height"`
	Count              int                `json:"count"`
	BlocksTrained      int                `json:"blocks_trained"`
	AvgLoss            float64            `json:"avg_loss"`
	AvgDistanceBefore  float64            `json:"avg_distance_before"`
	AvgDistanceAfter   float64            `json:"avg_distance_after"`
	SuccessRateBefore  float64            `json:"success_rate_before"`
	SuccessRateAfter   float64            `json:"success_rate_after"`
	ImprovementPercent float64            `json:"improvement_percent"`
	PerBlockResults    []BlockResult      `json:"per_block_results"`
	ValidationResults  []ValidationResult `json:"validation_results"`
	Status             SessionStatus      `json:"status"`
	StartedAt          time.Time          `json:"started_at"`
	FinishedAt         time.Time          `json:"finished_at,omitempty"`
	ErrorMessage       string             `json:"error_message,omitempty"`
}

// NewSession creates an idle session for the given block range.
func NewSession(startHeight uint64, count int) *Session {
	return &Session{
		SessionID:   uuid.New().String(),
		StartHeight: startHeight,
		Count:       count,
		Status:      StatusIdle,
		StartedAt:   time.Now(),
	}
}

// finalize computes the aggregate metrics from the recorded results.
// Called once when the trainer leaves the Training loop.
func (s *Session) finalize() {
	var lossSum float64
	trained := 0
	for _, r := range s.PerBlockResults {
		if r.Skipped {
			continue
		}
		lossSum += r.Loss
		trained++
	}
	if trained > 0 {
		s.AvgLoss = lossSum / float64(trained)
	}

	if len(s.ValidationResults) > 0 {
		first := s.ValidationResults[0]
		last := s.ValidationResults[len(s.ValidationResults)-1]
		s.AvgDistanceBefore = first.AvgDistance
		s.AvgDistanceAfter = last.AvgDistance
		s.SuccessRateBefore = first.SuccessRate
		s.SuccessRateAfter = last.SuccessRate
		if s.AvgDistanceBefore > 0 {
			s.ImprovementPercent = (s.AvgDistanceBefore - s.AvgDistanceAfter) / s.AvgDistanceBefore * 100
		}
	}
	s.FinishedAt = time.Now()
}

// Save writes the session JSON to path.
func (s *Session) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// LoadSession reads a persisted session from path.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	return &s, nil
}
