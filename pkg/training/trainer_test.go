package training

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"biominer/internal/provider"
	"biominer/pkg/biocompute/core"
	"biominer/pkg/mining"
)

// stubProvider serves synthesized blocks from memory.
type stubProvider struct {
	fail  map[uint64]error
	calls int
}

func (p *stubProvider) FetchBlock(ctx context.Context, height uint64, cacheBust bool) (*provider.Block, error) {
	p.calls++
	if err, ok := p.fail[height]; ok {
		return nil, err
	}
	return &provider.Block{
		Height:     height,
		Version:    1,
		PrevHash:   "0000000000000000000000000000000000000000000000000000000000000000",
		MerkleRoot: "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b",
		Timestamp:  1231006505 + uint32(height*600),
		Bits:       "1d00ffff",
		Nonce:      uint32(height * 1_000_003),
	}, nil
}

// stubTrainSource answers every stimulation with a healthy response and
// counts supervised updates.
type stubTrainSource struct {
	updates      int
	stimulations int
	updateErr    error
	stimErr      error
	invalid      bool
	onUpdate     func(n int)
}

func (s *stubTrainSource) StimulateAndCapture(ctx context.Context, pattern *core.StimulusPattern) (*core.BioResponse, error) {
	s.stimulations++
	if s.stimErr != nil {
		return nil, s.stimErr
	}
	if s.invalid {
		return &core.BioResponse{IsValid: false, Reason: "noise floor"}, nil
	}
	return &core.BioResponse{
		Signals:          []float64{0.4, -0.1, 0.6, 0.2},
		ResponseStrength: 0.7,
		SignalQuality:    0.8,
		IsValid:          true,
	}, nil
}

func (s *stubTrainSource) SupervisedUpdate(pattern *core.StimulusPattern, target []float64) (float64, error) {
	s.updates++
	if s.onUpdate != nil {
		s.onUpdate(s.updates)
	}
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	// Loss shrinks as training progresses
	return 1.0 / float64(s.updates), nil
}

func testTrainerConfig(count int) Config {
	return Config{
		StartHeight:      100,
		Count:            count,
		ValidateEvery:    5,
		ValidationBlocks: 2,
		Strategy:         mining.StrategyUniform,
		PointCount:       4,
		WindowSize:       1 << 16,
	}
}

func TestTrainerCompletesSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	cfg := testTrainerConfig(10)
	cfg.SessionPath = path

	source := &stubTrainSource{}
	trainer, err := NewTrainer(cfg, &stubProvider{}, source, nil)
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}

	if err := trainer.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	snap := trainer.GetSessionSnapshot()
	if snap.Status != StatusComplete {
		t.Errorf("status = %s, want %s", snap.Status, StatusComplete)
	}
	if snap.BlocksTrained != 10 {
		t.Errorf("blocks trained = %d, want 10", snap.BlocksTrained)
	}
	if source.updates != 10 {
		t.Errorf("supervised updates = %d, want 10", source.updates)
	}
	// Baseline pass, two periodic passes, closing pass
	if len(snap.ValidationResults) < 2 {
		t.Fatalf("validation results = %d, want >= 2", len(snap.ValidationResults))
	}
	if snap.ValidationResults[0].BlocksTrained != 0 {
		t.Error("baseline validation should run before any training")
	}
	if snap.AvgLoss <= 0 {
		t.Error("avg loss not computed")
	}
	if snap.SessionID == "" {
		t.Error("session id missing")
	}

	restored, err := LoadSession(path)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if restored.SessionID != snap.SessionID {
		t.Error("persisted session does not match snapshot")
	}
}

func TestTrainerStopPreservesPartialResults(t *testing.T) {
	source := &stubTrainSource{}
	trainer, err := NewTrainer(testTrainerConfig(100), &stubProvider{}, source, nil)
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}
	source.onUpdate = func(n int) {
		if n == 3 {
			trainer.Stop()
		}
	}

	if err := trainer.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	snap := trainer.GetSessionSnapshot()
	if snap.Status != StatusStopped {
		t.Errorf("status = %s, want %s", snap.Status, StatusStopped)
	}
	if snap.BlocksTrained != 3 {
		t.Errorf("blocks trained = %d, want 3 (stop checked between blocks)", snap.BlocksTrained)
	}
	if len(snap.PerBlockResults) != 3 {
		t.Errorf("per-block results = %d, want 3", len(snap.PerBlockResults))
	}
}

func TestTrainerSkipsUnfetchableBlocks(t *testing.T) {
	blocks := &stubProvider{
		fail: map[uint64]error{
			103: mining.NewError(mining.ErrCodeFetchFailure, "block not found"),
		},
	}
	source := &stubTrainSource{}
	trainer, err := NewTrainer(testTrainerConfig(10), blocks, source, nil)
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}

	if err := trainer.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	snap := trainer.GetSessionSnapshot()
	if snap.BlocksTrained != 9 {
		t.Errorf("blocks trained = %d, want 9", snap.BlocksTrained)
	}

	skips := 0
	for _, r := range snap.PerBlockResults {
		if r.Skipped {
			skips++
			if r.Height != 103 {
				t.Errorf("skipped height = %d, want 103", r.Height)
			}
			if r.Error == "" {
				t.Error("skip recorded without its error")
			}
		}
	}
	if skips != 1 {
		t.Errorf("skips = %d, want 1", skips)
	}
}

func TestTrainerErrorsOnStimulationFailure(t *testing.T) {
	source := &stubTrainSource{stimErr: core.ErrSourceUnavailable}
	trainer, err := NewTrainer(testTrainerConfig(5), &stubProvider{}, source, nil)
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}

	if err := trainer.Run(context.Background()); err == nil {
		t.Fatal("expected baseline validation failure to error the session")
	}
	if snap := trainer.GetSessionSnapshot(); snap.Status != StatusError {
		t.Errorf("status = %s, want %s", snap.Status, StatusError)
	}
}

func TestTrainerRejectsSecondRun(t *testing.T) {
	trainer, err := NewTrainer(testTrainerConfig(2), &stubProvider{}, &stubTrainSource{}, nil)
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}
	if err := trainer.Run(context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if err := trainer.Run(context.Background()); !errors.Is(err, mining.ErrConfiguration) {
		t.Fatalf("second Run: err = %v, want ErrConfiguration", err)
	}
}

func TestTrainerInvalidResponsesScoreAsMisses(t *testing.T) {
	source := &stubTrainSource{invalid: true}
	trainer, err := NewTrainer(testTrainerConfig(2), &stubProvider{}, source, nil)
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}

	if err := trainer.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	snap := trainer.GetSessionSnapshot()
	for _, v := range snap.ValidationResults {
		if v.AvgDistance != 1.0 {
			t.Errorf("avg distance = %f, want 1.0 for all-invalid responses", v.AvgDistance)
		}
		if v.SuccessRate != 0 {
			t.Errorf("success rate = %f, want 0", v.SuccessRate)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testTrainerConfig(0)
	if err := cfg.Validate(); err == nil {
		t.Error("zero count accepted")
	}

	cfg = testTrainerConfig(10)
	cfg.Strategy = "tarot"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown strategy accepted")
	}
}

func TestNonceDistance(t *testing.T) {
	windows := []mining.SearchWindow{
		{Index: 0, Start: 1000, Size: 100},
	}

	if d, covered := nonceDistance(windows, 1050); !covered || d != 0 {
		t.Errorf("covered nonce: d=%f covered=%v, want 0, true", d, covered)
	}
	if d, covered := nonceDistance(windows, 2000); covered || d <= 0 {
		t.Errorf("missed nonce: d=%f covered=%v, want >0, false", d, covered)
	}
	if d, _ := nonceDistance(windows, 2000); d > 1 {
		t.Errorf("distance %f exceeds normalized bound", d)
	}
}

func TestTrainerMonotoneBlocksTrained(t *testing.T) {
	source := &stubTrainSource{}
	trainer, err := NewTrainer(testTrainerConfig(20), &stubProvider{}, source, nil)
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}

	last := 0
	source.onUpdate = func(n int) {
		snap := trainer.GetSessionSnapshot()
		if snap.BlocksTrained < last {
			t.Errorf("blocks_trained went backwards: %d -> %d", last, snap.BlocksTrained)
		}
		last = snap.BlocksTrained
	}

	if err := trainer.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestNonceTargetRange(t *testing.T) {
	for _, nonce := range []uint32{0, 1, 0xDEADBEEF, 0xFFFFFFFF} {
		target := nonceTarget(nonce)
		if len(target) != 16 {
			t.Fatalf("target length = %d, want 16", len(target))
		}
		for i, v := range target {
			if v < -1 || v > 1 {
				t.Errorf("nonce %#x target[%d] = %f outside [-1, 1]", nonce, i, v)
			}
		}
	}
}

