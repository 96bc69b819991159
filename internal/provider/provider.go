// Package provider fetches historical block data from a JSON-over-HTTP
// block explorer style service.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"

	"biominer/pkg/mining"
)

// Default retry tuning. A 429 response stretches the next delay by
// RateLimitFactor on top of the exponential step.
const (
	DefaultMaxRetries     = 5
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
	RateLimitFactor       = 4
)

// Block is one historical block as served by the provider.
type Block struct {
	Height     uint64 `json:"height"`
	Hash       string `json:"hash"`
	Version    uint32 `json:"version"`
	PrevHash   string `json:"prev_hash"`
	MerkleRoot string `json:"merkle_root"`
	Timestamp  uint32 `json:"timestamp"`
	Bits       string `json:"bits"`
	Nonce      uint32 `json:"nonce"`
}

// Header converts the block into a wire-format header with the nonce
// zeroed, ready for searching. The recorded nonce stays available on the
// Block for supervised training.
func (b *Block) Header() (*mining.BlockHeader, error) {
	prev, err := mining.ParseHash(b.PrevHash)
	if err != nil {
		return nil, fmt.Errorf("bad prev_hash for block %d: %w", b.Height, err)
	}
	merkle, err := mining.ParseHash(b.MerkleRoot)
	if err != nil {
		return nil, fmt.Errorf("bad merkle_root for block %d: %w", b.Height, err)
	}
	bits, err := mining.ParseCompactBits(b.Bits)
	if err != nil {
		return nil, fmt.Errorf("bad bits for block %d: %w", b.Height, err)
	}
	return &mining.BlockHeader{
		Version:    b.Version,
		PrevHash:   prev,
		MerkleRoot: merkle,
		Timestamp:  b.Timestamp,
		Bits:       bits,
	}, nil
}

// Client fetches blocks by height with retry and backoff.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option adjusts a Client.
type Option func(*Client)

// WithRetries overrides the retry budget.
func WithRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBackoff overrides the backoff schedule.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.initialBackoff = initial
		c.maxBackoff = max
	}
}

// NewClient creates a provider client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries:     DefaultMaxRetries,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchBlock retrieves the block at height. Transient failures, rate
// limits and height mismatches are retried with exponential backoff up
// to the retry budget. cacheBust appends a throwaway query parameter so
// intermediate caches cannot serve a stale block.
func (c *Client) FetchBlock(ctx context.Context, height uint64, cacheBust bool) (*Block, error) {
	var lastErr error
	backoff := c.initialBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
		}

		block, retryable, err := c.fetchOnce(ctx, height, cacheBust)
		if err == nil {
			return block, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		log.Printf("[provider] fetch height %d attempt %d/%d failed: %v",
			height, attempt+1, c.maxRetries+1, err)

		// Rate limiting gets a longer cool-off than ordinary failures
		if isRateLimit(err) {
			backoff *= RateLimitFactor
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
		}
	}

	return nil, fmt.Errorf("block %d: retries exhausted: %w", height, lastErr)
}

// fetchOnce performs a single request. The second return value reports
// whether the failure is worth retrying.
func (c *Client) fetchOnce(ctx context.Context, height uint64, cacheBust bool) (*Block, bool, error) {
	url := fmt.Sprintf("%s/block/%d", c.BaseURL, height)
	if cacheBust {
		url = fmt.Sprintf("%s?cb=%d", url, rand.Int63())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, mining.NewError(mining.ErrCodeFetchFailure, "bad request", err.Error())
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, mining.NewError(mining.ErrCodeFetchFailure, "request failed", err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, mining.NewError(mining.ErrCodeFetchFailure, "failed to read response", err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, errRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, mining.NewError(mining.ErrCodeFetchFailure,
			"block not found", fmt.Sprintf("height %d", height))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return nil, resp.StatusCode >= 500, mining.NewError(mining.ErrCodeFetchFailure,
			fmt.Sprintf("server returned status %d", resp.StatusCode), preview)
	}

	var block Block
	if err := json.Unmarshal(body, &block); err != nil {
		preview := string(body)
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		return nil, true, mining.NewError(mining.ErrCodeFetchFailure,
			"failed to decode block", preview)
	}

	// A proxy or a confused provider can hand back the wrong block.
	// Treat it like a transient failure so the retry loop asks again.
	if block.Height != height {
		return nil, true, mining.NewError(mining.ErrCodeValidationMismatch,
			"provider returned wrong block",
			fmt.Sprintf("asked %d, got %d", height, block.Height))
	}

	return &block, false, nil
}

var errRateLimited = mining.NewError(mining.ErrCodeFetchFailure, "rate limited by provider")

func isRateLimit(err error) bool {
	return err == errRateLimited
}
