package mining

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"
)

// DefaultMemoryCapacity bounds the number of stored patterns. When the
// store is full the least valuable entry is evicted.
const DefaultMemoryCapacity = 4096

// PatternRecord is one remembered association between a feature vector
// and a nonce that satisfied its target.
type PatternRecord struct {
	Features   FeatureVector `json:"features"`
	Nonce      uint32        `json:"nonce"`
	Reward     float64       `json:"reward"`
	Hits       int           `json:"hits"`
	RecordedAt time.Time     `json:"recorded_at"`
	LastUsedAt time.Time     `json:"last_used_at"`
}

// value ranks records for eviction. Frequently reinforced, recently used
// records survive longest.
func (r *PatternRecord) value(now time.Time) float64 {
	age := now.Sub(r.LastUsedAt).Hours() + 1
	return r.Reward * float64(r.Hits) / age
}

// Match is a similarity query result. Record is a copy taken under the
// store's lock, so a held match stays stable while concurrent attempts
// reinforce the same signature.
type Match struct {
	Record     PatternRecord
	Similarity float64
}

// PatternMemory is a bounded, concurrency-safe store of successful
// feature-to-nonce associations queried by cosine similarity.
type PatternMemory struct {
	mu       sync.RWMutex
	capacity int
	records  map[string]*PatternRecord
}

// NewPatternMemory creates an empty store. capacity <= 0 selects
// DefaultMemoryCapacity.
func NewPatternMemory(capacity int) *PatternMemory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &PatternMemory{
		capacity: capacity,
		records:  make(map[string]*PatternRecord),
	}
}

// Record stores or reinforces an association. Re-recording an existing
// feature signature accumulates reward and hit count instead of
// duplicating the entry.
func (m *PatternMemory) Record(features FeatureVector, nonce uint32, reward float64) {
	key := signatureKey(features)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[key]; ok {
		rec.Reward += reward
		rec.Hits++
		rec.Nonce = nonce
		rec.LastUsedAt = now
		return
	}

	if len(m.records) >= m.capacity {
		m.evictLocked(now)
	}

	m.records[key] = &PatternRecord{
		Features:   features,
		Nonce:      nonce,
		Reward:     reward,
		Hits:       1,
		RecordedAt: now,
		LastUsedAt: now,
	}
}

// Query returns up to limit records most similar to the given features,
// ordered by descending cosine similarity. Records below minSimilarity
// are excluded.
func (m *PatternMemory) Query(features FeatureVector, limit int, minSimilarity float64) []Match {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	type candidate struct {
		rec *PatternRecord
		sim float64
	}
	cands := make([]candidate, 0, len(m.records))
	for _, rec := range m.records {
		sim := cosineSimilarity(features, rec.Features)
		if sim >= minSimilarity {
			cands = append(cands, candidate{rec: rec, sim: sim})
		}
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].sim != cands[j].sim {
			return cands[i].sim > cands[j].sim
		}
		return cands[i].rec.Nonce < cands[j].rec.Nonce
	})
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}

	matches := make([]Match, len(cands))
	for i, c := range cands {
		c.rec.LastUsedAt = now
		matches[i] = Match{Record: *c.rec, Similarity: c.sim}
	}
	return matches
}

// Len reports the number of stored records.
func (m *PatternMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Save writes the store to path as JSON.
func (m *PatternMemory) Save(path string) error {
	m.mu.RLock()
	records := make([]*PatternRecord, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, rec)
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pattern memory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write pattern memory: %w", err)
	}
	return nil
}

// Load replaces the store's contents with records read from path.
func (m *PatternMemory) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read pattern memory: %w", err)
	}
	var records []*PatternRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse pattern memory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*PatternRecord, len(records))
	for _, rec := range records {
		m.records[signatureKey(rec.Features)] = rec
	}
	return nil
}

// evictLocked drops the least valuable record. Caller holds the write lock.
func (m *PatternMemory) evictLocked(now time.Time) {
	var worstKey string
	worstValue := math.Inf(1)
	for key, rec := range m.records {
		if v := rec.value(now); v < worstValue {
			worstValue = v
			worstKey = key
		}
	}
	if worstKey != "" {
		delete(m.records, worstKey)
	}
}

func signatureKey(features FeatureVector) string {
	// Quantized signature so floating-point noise does not fragment entries
	buf := make([]byte, 0, FeatureVectorSize*3)
	for _, f := range features {
		q := int(clamp01(f) * 999)
		buf = append(buf, byte('0'+q/100), byte('0'+(q/10)%10), byte('0'+q%10))
	}
	return string(buf)
}

func cosineSimilarity(a, b FeatureVector) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
