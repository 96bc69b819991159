package mining

import (
	"context"
	"errors"
	"testing"

	"biominer/pkg/biocompute/core"
)

// stubSource is a scriptable signal source for pipeline tests.
type stubSource struct {
	response     *core.BioResponse
	stimulateErr error

	stimulations   int
	reinforcements int
	lastNonce      uint32
	lastReward     float64
}

func (s *stubSource) StimulateAndCapture(ctx context.Context, pattern *core.StimulusPattern) (*core.BioResponse, error) {
	s.stimulations++
	if s.stimulateErr != nil {
		return nil, s.stimulateErr
	}
	return s.response, nil
}

func (s *stubSource) ReinforcePattern(pattern *core.StimulusPattern, nonce uint32, reward float64) error {
	s.reinforcements++
	s.lastNonce = nonce
	s.lastReward = reward
	return nil
}

func validResponse() *core.BioResponse {
	return &core.BioResponse{
		Signals:          []float64{0.5, -0.2, 0.8, 0.1},
		ResponseStrength: 0.7,
		SignalQuality:    0.9,
		LatencyUs:        1800,
		IsValid:          true,
	}
}

func testMinerConfig() Config {
	return Config{
		Strategy:   StrategyUniform,
		PointCount: 2,
		WindowSize: 2048,
		Workers:    2,
	}
}

func TestNewMinerRejectsBadConfig(t *testing.T) {
	cfg := testMinerConfig()
	cfg.Strategy = "astrology"
	if _, err := NewMiner(cfg, &stubSource{}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}

	if _, err := NewMiner(testMinerConfig(), nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("nil source: err = %v, want ErrConfiguration", err)
	}
}

func TestMineRejectsInvalidResponseBeforeSearch(t *testing.T) {
	source := &stubSource{
		response: &core.BioResponse{IsValid: false, Reason: "signal quality below threshold"},
	}
	miner, err := NewMiner(testMinerConfig(), source)
	if err != nil {
		t.Fatalf("NewMiner failed: %v", err)
	}

	_, err = miner.Mine(context.Background(), genesisHeader(t))
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("err = %v, want ErrInvalidResponse", err)
	}
	if source.stimulations != 1 {
		t.Errorf("stimulations = %d, want 1", source.stimulations)
	}
	if source.reinforcements != 0 {
		t.Error("invalid response must not trigger reinforcement")
	}

	status := miner.GetStatus()
	if status.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", status.Attempts)
	}
	if status.Successes != 0 {
		t.Errorf("successes = %d, want 0", status.Successes)
	}
}

func TestMinePropagatesStimulationError(t *testing.T) {
	source := &stubSource{stimulateErr: core.ErrSourceUnavailable}
	miner, err := NewMiner(testMinerConfig(), source)
	if err != nil {
		t.Fatalf("NewMiner failed: %v", err)
	}

	if _, err := miner.Mine(context.Background(), genesisHeader(t)); err == nil {
		t.Fatal("expected stimulation error to propagate")
	}
}

func TestMineSuccessReinforces(t *testing.T) {
	source := &stubSource{response: validResponse()}
	miner, err := NewMiner(testMinerConfig(), source)
	if err != nil {
		t.Fatalf("NewMiner failed: %v", err)
	}

	header := genesisHeader(t)
	header.Bits = 0x2200ffff // every hash qualifies, so the first nonce wins

	result, err := miner.Mine(context.Background(), header)
	if err != nil {
		t.Fatalf("Mine failed: %v", err)
	}
	if !result.Found {
		t.Fatal("expected a found nonce")
	}
	if result.StimulationUs != 1800 {
		t.Errorf("stimulation latency = %d, want 1800", result.StimulationUs)
	}
	if source.reinforcements != 1 {
		t.Fatalf("reinforcements = %d, want 1", source.reinforcements)
	}
	if source.lastReward != SuccessReward {
		t.Errorf("reward = %f, want %f", source.lastReward, SuccessReward)
	}
	if source.lastNonce != result.Nonce {
		t.Errorf("reinforced nonce %d differs from result nonce %d", source.lastNonce, result.Nonce)
	}
	if miner.Memory().Len() != 1 {
		t.Errorf("memory len = %d, want 1", miner.Memory().Len())
	}

	status := miner.GetStatus()
	if status.Successes != 1 {
		t.Errorf("successes = %d, want 1", status.Successes)
	}
	if status.MemorySize != 1 {
		t.Errorf("memory size = %d, want 1", status.MemorySize)
	}
}

func TestMineExhaustionReturnsAttempt(t *testing.T) {
	source := &stubSource{response: validResponse()}
	cfg := testMinerConfig()
	cfg.WindowSize = 256
	miner, err := NewMiner(cfg, source)
	if err != nil {
		t.Fatalf("NewMiner failed: %v", err)
	}

	// Genesis difficulty over 512 nonces will not produce a hit
	result, err := miner.Mine(context.Background(), genesisHeader(t))
	if !errors.Is(err, ErrNoNonceFound) {
		t.Fatalf("err = %v, want ErrNoNonceFound", err)
	}
	if result == nil || result.Found {
		t.Error("exhausted attempt should report an unfound result")
	}
	if source.reinforcements != 0 {
		t.Error("failed attempt must not reinforce")
	}
}
