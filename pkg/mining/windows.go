package mining

import (
	"fmt"
	"math"
	"sort"
)

// Strategy selects how starting points are distributed across the nonce
// space.
type Strategy string

const (
	StrategyUniform   Strategy = "uniform"
	StrategyFibonacci Strategy = "fibonacci"
	StrategyBioGuided Strategy = "bioguided"
)

// Default generator tuning.
const (
	DefaultPointCount = 16
	DefaultWindowSize = 1 << 20

	// ConfidenceThreshold is the minimum entropy confidence for the
	// bio-guided strategy to trust the biological signal. Below it the
	// generator falls back to uniform spacing.
	ConfidenceThreshold = 0.25

	// minMatchSimilarity filters pattern-memory lookups during guided
	// generation.
	minMatchSimilarity = 0.90
)

const nonceSpace = uint64(1) << 32

// SearchWindow is a contiguous nonce range [Start, Start+Size), clamped
// to the 32-bit space.
type SearchWindow struct {
	Index uint32 `json:"index"`
	Start uint32 `json:"start"`
	Size  uint32 `json:"size"`
}

// End returns the exclusive upper bound of the window as a 64-bit value
// so a window ending at 2^32 is representable.
func (w SearchWindow) End() uint64 {
	end := uint64(w.Start) + uint64(w.Size)
	if end > nonceSpace {
		end = nonceSpace
	}
	return end
}

// PointGenerator produces search windows for one mining attempt.
type PointGenerator struct {
	strategy   Strategy
	pointCount int
	windowSize uint32
	memory     *PatternMemory
}

// NewPointGenerator builds a generator. memory may be nil for the
// uniform and fibonacci strategies; the bio-guided strategy requires it.
func NewPointGenerator(strategy Strategy, pointCount int, windowSize uint32, memory *PatternMemory) (*PointGenerator, error) {
	if pointCount <= 0 {
		pointCount = DefaultPointCount
	}
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}
	if err := ValidateGeneratorConfig(strategy, pointCount, windowSize); err != nil {
		return nil, err
	}
	if strategy == StrategyBioGuided && memory == nil {
		return nil, NewError(ErrCodeConfiguration, "bioguided strategy requires pattern memory")
	}
	return &PointGenerator{
		strategy:   strategy,
		pointCount: pointCount,
		windowSize: windowSize,
		memory:     memory,
	}, nil
}

// Generate returns pointCount windows for the attempt described by seed
// and features. Windows are ordered by index and clamped to the 32-bit
// nonce space. Deterministic for a given seed, features and memory state.
func (g *PointGenerator) Generate(seed EntropySeed, features FeatureVector) []SearchWindow {
	var starts []uint32
	switch g.strategy {
	case StrategyFibonacci:
		starts = g.fibonacciStarts(seed)
	case StrategyBioGuided:
		starts = g.bioGuidedStarts(seed, features)
	default:
		starts = g.uniformStarts(seed)
	}

	windows := make([]SearchWindow, len(starts))
	for i, start := range starts {
		size := g.windowSize
		if remaining := nonceSpace - uint64(start); uint64(size) > remaining {
			size = uint32(remaining)
		}
		windows[i] = SearchWindow{Index: uint32(i), Start: start, Size: size}
	}
	return windows
}

// uniformStarts spaces windows evenly, rotated by the primary seed so
// repeated attempts with different entropy cover different ground.
func (g *PointGenerator) uniformStarts(seed EntropySeed) []uint32 {
	stride := nonceSpace / uint64(g.pointCount)
	offset := seed.Primary % stride

	starts := make([]uint32, g.pointCount)
	for i := 0; i < g.pointCount; i++ {
		starts[i] = uint32((uint64(i)*stride + offset) % nonceSpace)
	}
	return starts
}

// fibonacciStarts places windows by golden-ratio rotation, which fills
// the space with low-discrepancy spacing regardless of pointCount.
func (g *PointGenerator) fibonacciStarts(seed EntropySeed) []uint32 {
	const phi = 1.6180339887498948
	frac := math.Mod(float64(seed.Primary)/float64(math.MaxUint64), 1.0)

	starts := make([]uint32, g.pointCount)
	for i := 0; i < g.pointCount; i++ {
		frac = math.Mod(frac+1.0/phi, 1.0)
		starts[i] = uint32(frac * float64(nonceSpace-1))
	}
	sort.Slice(starts, func(a, b int) bool { return starts[a] < starts[b] })
	return starts
}

// bioGuidedStarts centers as many windows as possible on remembered
// nonces for similar feature vectors, filling the rest with perturbed
// uniform spacing. Low confidence or an empty memory falls back to the
// uniform layout entirely.
func (g *PointGenerator) bioGuidedStarts(seed EntropySeed, features FeatureVector) []uint32 {
	if seed.Confidence < ConfidenceThreshold {
		return g.uniformStarts(seed)
	}

	matches := g.memory.Query(features, g.pointCount/2, minMatchSimilarity)
	if len(matches) == 0 {
		return g.uniformStarts(seed)
	}

	starts := make([]uint32, 0, g.pointCount)
	half := g.windowSize / 2
	for _, match := range matches {
		// Center the window on the remembered nonce
		center := match.Record.Nonce
		start := uint32(0)
		if center > half {
			start = center - half
		}
		starts = append(starts, start)
	}

	// Remaining windows from a seeded splitmix stream
	state := seed.Secondary
	for len(starts) < g.pointCount {
		state = splitmix64(state)
		starts = append(starts, uint32(state))
	}
	return starts
}

// splitmix64 is the finalizer from the splitmix64 generator, used here
// to fan one secondary seed out into independent window starts.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

// ValidateGeneratorConfig checks strategy and sizing before any source
// stimulation happens.
func ValidateGeneratorConfig(strategy Strategy, pointCount int, windowSize uint32) error {
	switch strategy {
	case StrategyUniform, StrategyFibonacci, StrategyBioGuided:
	default:
		return NewError(ErrCodeConfiguration, "unknown strategy", fmt.Sprintf("%q", strategy))
	}
	if pointCount < 0 || pointCount > 1024 {
		return NewError(ErrCodeConfiguration, "point count out of range", fmt.Sprintf("%d", pointCount))
	}
	if windowSize == 0 {
		return NewError(ErrCodeConfiguration, "window size must be positive")
	}
	return nil
}
