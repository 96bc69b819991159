package mining

import (
	"context"
	"math/big"
	"runtime"
	"sync"
	"time"
)

// SearchResult describes a completed window sweep.
type SearchResult struct {
	Found        bool          `json:"found"`
	Nonce        uint32        `json:"nonce"`
	Hash         string        `json:"hash"`
	WindowIndex  uint32        `json:"window_index"`
	HashesTried  uint64        `json:"hashes_tried"`
	Elapsed      time.Duration `json:"elapsed"`
	HashRate     float64       `json:"hash_rate"`
	WindowsSwept int           `json:"windows_swept"`
}

// windowHit is one worker's candidate solution.
type windowHit struct {
	windowIndex uint32
	nonce       uint32
	hash        [32]byte
}

// SearchExecutor sweeps search windows in parallel against a compact
// difficulty target.
type SearchExecutor struct {
	workers int
}

// NewSearchExecutor builds an executor with the given worker count.
// workers <= 0 selects runtime.NumCPU().
func NewSearchExecutor(workers int) *SearchExecutor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &SearchExecutor{workers: workers}
}

// Search sweeps all windows looking for a nonce whose double SHA-256
// header hash meets the target encoded by header.Bits. The first hit
// cancels remaining work; when several windows hit before cancellation
// lands, the result is deterministic: the hit with the lowest window
// index wins, ties broken by the lowest nonce. Returns ErrNoNonceFound
// when every window is exhausted, or the context error when cancelled
// first.
func (e *SearchExecutor) Search(ctx context.Context, header *BlockHeader, windows []SearchWindow) (*SearchResult, error) {
	if len(windows) == 0 {
		return nil, NewError(ErrCodeConfiguration, "no search windows supplied")
	}

	target := CompactToTarget(header.Bits)
	var base [80]byte
	copy(base[:], header.Serialize())
	start := time.Now()

	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan SearchWindow)
	hits := make(chan windowHit, len(windows))
	var tried uint64
	var triedMu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for window := range jobs {
				n := e.sweepWindow(searchCtx, base, target, window, hits)
				triedMu.Lock()
				tried += n
				triedMu.Unlock()
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, window := range windows {
			select {
			case jobs <- window:
			case <-searchCtx.Done():
				return
			}
		}
	}()

	// First hit cancels the rest; stragglers already past their check
	// may still report, so collect everything after the pool drains.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var best *windowHit
	collecting := true
	for collecting {
		select {
		case hit := <-hits:
			if better(&hit, best) {
				best = &hit
			}
			cancel()
		case <-done:
			collecting = false
		}
	}
	// Drain hits buffered before the workers exited
	for {
		select {
		case hit := <-hits:
			if better(&hit, best) {
				best = &hit
			}
			continue
		default:
		}
		break
	}

	elapsed := time.Since(start)
	result := &SearchResult{
		HashesTried:  tried,
		Elapsed:      elapsed,
		WindowsSwept: len(windows),
	}
	if elapsed > 0 {
		result.HashRate = float64(tried) / elapsed.Seconds()
	}

	if best != nil {
		result.Found = true
		result.Nonce = best.nonce
		result.WindowIndex = best.windowIndex
		result.Hash = HashToHex(best.hash)
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, ErrNoNonceFound
}

// sweepWindow scans one window, reporting at most one hit. Returns the
// number of hashes attempted.
func (e *SearchExecutor) sweepWindow(ctx context.Context, base [80]byte, target *big.Int, window SearchWindow, hits chan<- windowHit) uint64 {
	buf := base
	end := window.End()
	var count uint64

	for nonce := uint64(window.Start); nonce < end; nonce++ {
		if count&0x3FFF == 0 {
			select {
			case <-ctx.Done():
				return count
			default:
			}
		}

		n := uint32(nonce)
		buf[76] = byte(n)
		buf[77] = byte(n >> 8)
		buf[78] = byte(n >> 16)
		buf[79] = byte(n >> 24)

		hash := DoubleSHA256(buf[:])
		count++

		if HashMeetsTarget(hash, target) {
			hits <- windowHit{windowIndex: window.Index, nonce: n, hash: hash}
			return count
		}
	}
	return count
}

func better(candidate, current *windowHit) bool {
	if current == nil {
		return true
	}
	if candidate.windowIndex != current.windowIndex {
		return candidate.windowIndex < current.windowIndex
	}
	return candidate.nonce < current.nonce
}
