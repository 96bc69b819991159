package mining

import (
	"path/filepath"
	"testing"
)

func memFeatures(base float64) FeatureVector {
	var f FeatureVector
	for i := range f {
		f[i] = base + float64(i)*0.01
	}
	return f
}

func TestPatternMemoryRecordAndQuery(t *testing.T) {
	mem := NewPatternMemory(16)
	features := memFeatures(0.5)
	mem.Record(features, 12345, 1.0)

	matches := mem.Query(features, 4, 0.9)
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].Record.Nonce != 12345 {
		t.Errorf("nonce = %d, want 12345", matches[0].Record.Nonce)
	}
	if matches[0].Similarity < 0.999 {
		t.Errorf("self-similarity = %f, want ~1.0", matches[0].Similarity)
	}
}

func TestPatternMemoryUpsert(t *testing.T) {
	mem := NewPatternMemory(16)
	features := memFeatures(0.5)
	mem.Record(features, 1, 1.0)
	mem.Record(features, 2, 1.0)

	if mem.Len() != 1 {
		t.Fatalf("re-recording duplicated the entry: len=%d", mem.Len())
	}
	matches := mem.Query(features, 1, 0.9)
	if matches[0].Record.Hits != 2 {
		t.Errorf("hits = %d, want 2", matches[0].Record.Hits)
	}
	if matches[0].Record.Nonce != 2 {
		t.Errorf("nonce not updated: got %d, want 2", matches[0].Record.Nonce)
	}
}

func TestPatternMemoryMatchesAreSnapshots(t *testing.T) {
	mem := NewPatternMemory(16)
	features := memFeatures(0.5)
	mem.Record(features, 111, 1.0)

	matches := mem.Query(features, 1, 0.9)
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}

	// Reinforcing the same signature must not mutate a held match
	mem.Record(features, 222, 1.0)
	if matches[0].Record.Nonce != 111 {
		t.Errorf("held match changed: nonce = %d, want 111", matches[0].Record.Nonce)
	}
}

func TestPatternMemoryConcurrentRecordAndQuery(t *testing.T) {
	mem := NewPatternMemory(64)
	features := memFeatures(0.5)
	mem.Record(features, 0, 1.0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			mem.Record(features, uint32(i), 1.0)
		}
	}()
	for i := 0; i < 500; i++ {
		for _, match := range mem.Query(features, 4, 0.9) {
			_ = match.Record.Nonce
		}
	}
	<-done
}

func TestPatternMemoryDissimilarFiltered(t *testing.T) {
	mem := NewPatternMemory(16)
	mem.Record(memFeatures(0.9), 7, 1.0)

	// Orthogonal-ish query vector
	var query FeatureVector
	query[0] = 1.0
	matches := mem.Query(query, 4, 0.95)
	if len(matches) != 0 {
		t.Errorf("got %d matches for dissimilar query, want 0", len(matches))
	}
}

func TestPatternMemoryEviction(t *testing.T) {
	mem := NewPatternMemory(4)
	for i := 0; i < 8; i++ {
		mem.Record(memFeatures(float64(i)*0.1), uint32(i), 1.0)
	}
	if mem.Len() > 4 {
		t.Errorf("len = %d, capacity 4 not enforced", mem.Len())
	}
}

func TestPatternMemorySaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")

	mem := NewPatternMemory(16)
	features := memFeatures(0.4)
	mem.Record(features, 999, 1.0)
	if err := mem.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := NewPatternMemory(16)
	if err := restored.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if restored.Len() != 1 {
		t.Fatalf("restored len = %d, want 1", restored.Len())
	}
	matches := restored.Query(features, 1, 0.9)
	if len(matches) != 1 || matches[0].Record.Nonce != 999 {
		t.Error("restored memory lost the recorded association")
	}
}

func TestPatternMemoryLoadMissingFile(t *testing.T) {
	mem := NewPatternMemory(16)
	if err := mem.Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error loading a missing file")
	}
}
