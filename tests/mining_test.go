package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biominer/pkg/biocompute/core"
	"biominer/pkg/biocompute/simnet"
	"biominer/pkg/mining"
)

// easyHeader builds a header whose compact bits decode to a target above
// 2^256, so any nonce satisfies it and the search terminates on the first
// hash.
func easyHeader(t *testing.T) *mining.BlockHeader {
	t.Helper()

	prev, err := mining.ParseHash("00000000000000000000000000000000000000000000000000000000000000aa")
	require.NoError(t, err)
	merkle, err := mining.ParseHash("00000000000000000000000000000000000000000000000000000000000000bb")
	require.NoError(t, err)

	bits, err := mining.ParseCompactBits("0x2200ffff")
	require.NoError(t, err)

	return &mining.BlockHeader{
		Version:    2,
		PrevHash:   prev,
		MerkleRoot: merkle,
		Timestamp:  1293623863,
		Bits:       bits,
	}
}

func newSimSource(t *testing.T) *simnet.SimulatedNetwork {
	t.Helper()

	source := simnet.NewSimulatedNetwork(simnet.Config{
		Channels:     16,
		Seed:         42,
		LearningRate: 0.05,
	})
	require.NoError(t, source.Initialize())
	return source
}

func TestMinerEndToEnd(t *testing.T) {
	source := newSimSource(t)
	defer source.Shutdown()

	miner, err := mining.NewMiner(mining.Config{
		Strategy:       mining.StrategyUniform,
		PointCount:     4,
		WindowSize:     4096,
		Workers:        2,
		MemoryCapacity: 64,
	}, source)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := miner.Mine(ctx, easyHeader(t))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Found)
	assert.NotEmpty(t, result.Hash)
	assert.Greater(t, result.HashesTried, uint64(0))

	// A success must land in pattern memory and the status counters
	assert.Equal(t, 1, miner.Memory().Len())

	status := miner.GetStatus()
	assert.Equal(t, uint64(1), status.Attempts)
	assert.Equal(t, uint64(1), status.Successes)
	assert.False(t, status.Mining)
}

func TestMinerRepeatedAttemptsAccumulate(t *testing.T) {
	source := newSimSource(t)
	defer source.Shutdown()

	miner, err := mining.NewMiner(mining.Config{
		Strategy:       mining.StrategyFibonacci,
		PointCount:     4,
		WindowSize:     4096,
		Workers:        1,
		MemoryCapacity: 64,
	}, source)
	require.NoError(t, err)

	ctx := context.Background()
	header := easyHeader(t)

	for i := 0; i < 3; i++ {
		_, err := miner.Mine(ctx, header)
		require.NoError(t, err)
	}

	status := miner.GetStatus()
	assert.Equal(t, uint64(3), status.Attempts)
	assert.Equal(t, uint64(3), status.Successes)
	// Same header reinforces the same remembered pattern
	assert.Equal(t, 1, miner.Memory().Len())
}

// invalidSource reports every capture as unusable.
type invalidSource struct {
	stimulations int
	reinforced   int
}

func (s *invalidSource) StimulateAndCapture(ctx context.Context, pattern *core.StimulusPattern) (*core.BioResponse, error) {
	s.stimulations++
	return &core.BioResponse{
		Signals: make([]float64, 16),
		IsValid: false,
		Reason:  "electrode array saturated",
	}, nil
}

func (s *invalidSource) ReinforcePattern(pattern *core.StimulusPattern, nonce uint32, reward float64) error {
	s.reinforced++
	return nil
}

func TestMinerRejectsInvalidResponse(t *testing.T) {
	source := &invalidSource{}

	miner, err := mining.NewMiner(mining.Config{
		Strategy:       mining.StrategyUniform,
		PointCount:     4,
		WindowSize:     4096,
		Workers:        1,
		MemoryCapacity: 64,
	}, source)
	require.NoError(t, err)

	_, err = miner.Mine(context.Background(), easyHeader(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, mining.ErrInvalidResponse))
	assert.Contains(t, err.Error(), "electrode array saturated")

	// The attempt stopped before search and reinforcement
	assert.Equal(t, 1, source.stimulations)
	assert.Equal(t, 0, source.reinforced)
	assert.Equal(t, 0, miner.Memory().Len())

	status := miner.GetStatus()
	assert.Equal(t, uint64(1), status.Attempts)
	assert.Equal(t, uint64(0), status.Successes)
}
