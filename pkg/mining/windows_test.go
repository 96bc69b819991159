package mining

import (
	"errors"
	"testing"
)

func TestUniformWindows(t *testing.T) {
	gen, err := NewPointGenerator(StrategyUniform, 8, 1<<16, nil)
	if err != nil {
		t.Fatalf("NewPointGenerator failed: %v", err)
	}

	seed := EntropySeed{Primary: 42, Confidence: 0.5}
	windows := gen.Generate(seed, FeatureVector{})
	if len(windows) != 8 {
		t.Fatalf("got %d windows, want 8", len(windows))
	}
	for i, w := range windows {
		if w.Index != uint32(i) {
			t.Errorf("window %d has index %d", i, w.Index)
		}
		if w.End() > 1<<32 {
			t.Errorf("window %d exceeds the nonce space", i)
		}
	}

	again := gen.Generate(seed, FeatureVector{})
	for i := range windows {
		if windows[i] != again[i] {
			t.Fatal("same seed produced different windows")
		}
	}
}

func TestUniformWindowsRotateWithSeed(t *testing.T) {
	gen, _ := NewPointGenerator(StrategyUniform, 8, 1<<16, nil)
	a := gen.Generate(EntropySeed{Primary: 1}, FeatureVector{})
	b := gen.Generate(EntropySeed{Primary: 99999}, FeatureVector{})
	if a[0].Start == b[0].Start {
		t.Error("different seeds produced the same layout")
	}
}

func TestFibonacciWindowsSpread(t *testing.T) {
	gen, err := NewPointGenerator(StrategyFibonacci, 16, 1<<16, nil)
	if err != nil {
		t.Fatalf("NewPointGenerator failed: %v", err)
	}
	windows := gen.Generate(EntropySeed{Primary: 7}, FeatureVector{})
	if len(windows) != 16 {
		t.Fatalf("got %d windows, want 16", len(windows))
	}

	seen := make(map[uint32]bool)
	for _, w := range windows {
		if seen[w.Start] {
			t.Errorf("duplicate window start %d", w.Start)
		}
		seen[w.Start] = true
	}
}

func TestNewPointGeneratorRejectsOversizedPointCount(t *testing.T) {
	if _, err := NewPointGenerator(StrategyUniform, 1<<33, 4096, nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("point count 1<<33: err = %v, want ErrConfiguration", err)
	}
	if _, err := NewPointGenerator(StrategyUniform, 2048, 4096, nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("point count 2048: err = %v, want ErrConfiguration", err)
	}
}

func TestBioGuidedRequiresMemory(t *testing.T) {
	if _, err := NewPointGenerator(StrategyBioGuided, 8, 1<<16, nil); err == nil {
		t.Error("expected error constructing bioguided generator without memory")
	}
}

func TestBioGuidedFallsBackOnLowConfidence(t *testing.T) {
	mem := NewPatternMemory(16)
	mem.Record(memFeatures(0.5), 5_000_000, 1.0)

	gen, err := NewPointGenerator(StrategyBioGuided, 8, 1<<16, mem)
	if err != nil {
		t.Fatalf("NewPointGenerator failed: %v", err)
	}

	seed := EntropySeed{Primary: 42, Confidence: ConfidenceThreshold / 2}
	guided := gen.Generate(seed, memFeatures(0.5))

	uniform, _ := NewPointGenerator(StrategyUniform, 8, 1<<16, nil)
	expected := uniform.Generate(seed, memFeatures(0.5))

	for i := range guided {
		if guided[i] != expected[i] {
			t.Fatal("low-confidence guided layout should equal the uniform layout")
		}
	}
}

func TestBioGuidedCentersOnRememberedNonce(t *testing.T) {
	mem := NewPatternMemory(16)
	remembered := uint32(5_000_000)
	features := memFeatures(0.5)
	mem.Record(features, remembered, 1.0)

	gen, err := NewPointGenerator(StrategyBioGuided, 8, 1<<16, mem)
	if err != nil {
		t.Fatalf("NewPointGenerator failed: %v", err)
	}
	windows := gen.Generate(EntropySeed{Primary: 1, Secondary: 2, Confidence: 0.9}, features)

	covered := false
	for _, w := range windows {
		if uint64(w.Start) <= uint64(remembered) && uint64(remembered) < w.End() {
			covered = true
			break
		}
	}
	if !covered {
		t.Error("no window covers the remembered nonce")
	}
}

func TestBioGuidedFallsBackWithEmptyMemory(t *testing.T) {
	mem := NewPatternMemory(16)
	gen, _ := NewPointGenerator(StrategyBioGuided, 8, 1<<16, mem)

	seed := EntropySeed{Primary: 11, Confidence: 0.9}
	guided := gen.Generate(seed, memFeatures(0.3))

	uniform, _ := NewPointGenerator(StrategyUniform, 8, 1<<16, nil)
	expected := uniform.Generate(seed, memFeatures(0.3))

	for i := range guided {
		if guided[i] != expected[i] {
			t.Fatal("empty-memory guided layout should equal the uniform layout")
		}
	}
}

func TestWindowClampAtSpaceEnd(t *testing.T) {
	w := SearchWindow{Index: 0, Start: 0xFFFFFF00, Size: 1 << 20}
	if w.End() != 1<<32 {
		t.Errorf("End() = %d, want %d", w.End(), uint64(1)<<32)
	}
}

func TestValidateGeneratorConfig(t *testing.T) {
	if err := ValidateGeneratorConfig(StrategyUniform, 16, 1<<20); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	if err := ValidateGeneratorConfig("quantum", 16, 1<<20); err == nil {
		t.Error("unknown strategy accepted")
	}
	if err := ValidateGeneratorConfig(StrategyUniform, 16, 0); err == nil {
		t.Error("zero window size accepted")
	}
	if err := ValidateGeneratorConfig(StrategyUniform, 4096, 1<<20); err == nil {
		t.Error("oversized point count accepted")
	}
}
