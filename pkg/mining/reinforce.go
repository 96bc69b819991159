package mining

import (
	"fmt"
	"log"

	"biominer/pkg/biocompute/core"
)

// SuccessReward is the reward applied when a search finds a valid nonce.
const SuccessReward = 1.0

// ReinforcementLearner feeds search outcomes back into the signal source
// and the pattern memory.
type ReinforcementLearner struct {
	memory *PatternMemory
}

// NewReinforcementLearner binds a learner to a pattern memory.
func NewReinforcementLearner(memory *PatternMemory) *ReinforcementLearner {
	return &ReinforcementLearner{memory: memory}
}

// RecordOutcome applies reinforcement after a search attempt. A failed
// attempt is a no-op. A successful attempt reinforces the stimulus
// pattern on the source with SuccessReward and upserts the
// feature-to-nonce association into memory. A source that cannot accept
// reinforcement does not fail the attempt; the memory update still
// happens and the error is logged and returned for the caller's stats.
func (l *ReinforcementLearner) RecordOutcome(source SignalSource, pattern *core.StimulusPattern, features FeatureVector, result *SearchResult) error {
	if result == nil || !result.Found {
		return nil
	}

	l.memory.Record(features, result.Nonce, SuccessReward)

	if err := source.ReinforcePattern(pattern, result.Nonce, SuccessReward); err != nil {
		log.Printf("[learner] source reinforcement failed: %v", err)
		return fmt.Errorf("reinforcement delivery failed: %w", err)
	}
	return nil
}

// Memory exposes the learner's backing store for persistence.
func (l *ReinforcementLearner) Memory() *PatternMemory {
	return l.memory
}
