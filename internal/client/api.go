// internal/client/api.go
// Package client provides API client functionality for biominer-host
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"biominer/pkg/training"
)

// APIClient represents a client for the biominer-host API
type APIClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(port int) *APIClient {
	return &APIClient{
		BaseURL: fmt.Sprintf("http://localhost:%d", port),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CallMine asks the host to run one mining attempt against a historical block
func (c *APIClient) CallMine(height uint64, timeoutSeconds int) (*MineResponse, error) {
	req := map[string]interface{}{
		"height":          height,
		"timeout_seconds": timeoutSeconds,
	}

	resp, err := c.post("/api/v1/mine", req)
	if err != nil {
		return nil, err
	}

	var result MineResponse
	if err := json.Unmarshal(*resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// CallTrainStart launches a background training session on the host
func (c *APIClient) CallTrainStart(startHeight uint64, count, validateEvery int) (*TrainStartResponse, error) {
	req := map[string]interface{}{
		"start_height":   startHeight,
		"count":          count,
		"validate_every": validateEvery,
	}

	resp, err := c.post("/api/v1/train", req)
	if err != nil {
		return nil, err
	}

	var result TrainStartResponse
	if err := json.Unmarshal(*resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// CallTrainStop requests a graceful stop of the live training session
func (c *APIClient) CallTrainStop() error {
	_, err := c.post("/api/v1/train/stop", map[string]interface{}{})
	return err
}

// CallSwitchSource selects a new active signal source on the host
func (c *APIClient) CallSwitchSource(source string) (*SwitchResponse, error) {
	req := map[string]interface{}{
		"source": source,
	}

	resp, err := c.post("/api/v1/sources/switch", req)
	if err != nil {
		return nil, err
	}

	var result SwitchResponse
	if err := json.Unmarshal(*resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// GetStatus calls the status endpoint
func (c *APIClient) GetStatus() (*StatusResponse, error) {
	resp, err := c.get("/api/v1/status")
	if err != nil {
		return nil, err
	}

	var result StatusResponse
	if err := json.Unmarshal(*resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// GetSession calls the session endpoint
func (c *APIClient) GetSession() (*training.Session, error) {
	resp, err := c.get("/api/v1/session")
	if err != nil {
		return nil, err
	}

	var result training.Session
	if err := json.Unmarshal(*resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// GetHealth calls the health endpoint
func (c *APIClient) GetHealth() (*HealthResponse, error) {
	resp, err := c.get("/api/v1/health")
	if err != nil {
		return nil, err
	}

	var result HealthResponse
	if err := json.Unmarshal(*resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// GetSources calls the sources endpoint
func (c *APIClient) GetSources() (*SourcesResponse, error) {
	resp, err := c.get("/api/v1/sources")
	if err != nil {
		return nil, err
	}

	var result SourcesResponse
	if err := json.Unmarshal(*resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// post makes a POST request to the API
func (c *APIClient) post(endpoint string, data interface{}) (*json.RawMessage, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.HTTPClient.Post(
		c.BaseURL+endpoint,
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	// Read response body first to provide better error messages
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	// Check for non-2xx status codes
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Try to extract error message from response
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && (errResp.Error != "" || errResp.Message != "") {
			errMsg := errResp.Error
			if errMsg == "" {
				errMsg = errResp.Message
			}
			return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, errMsg)
		}
		// Truncate response for error message (avoid huge HTML dumps)
		preview := string(respBody)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, preview)
	}

	// Check content type to ensure we're getting JSON
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !bytes.Contains([]byte(contentType), []byte("json")) {
		preview := string(respBody)
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		return nil, fmt.Errorf("unexpected content type %q (expected JSON): %s", contentType, preview)
	}

	var result json.RawMessage
	if err := json.Unmarshal(respBody, &result); err != nil {
		// Provide helpful context for decode errors
		preview := string(respBody)
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		return nil, fmt.Errorf("failed to decode JSON response: %w (response: %s)", err, preview)
	}

	return &result, nil
}

// get makes a GET request to the API
func (c *APIClient) get(endpoint string) (*json.RawMessage, error) {
	resp, err := c.HTTPClient.Get(c.BaseURL + endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	// Read response body first to provide better error messages
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	// Check for non-2xx status codes
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Try to extract error message from response
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && (errResp.Error != "" || errResp.Message != "") {
			errMsg := errResp.Error
			if errMsg == "" {
				errMsg = errResp.Message
			}
			return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, errMsg)
		}
		// Truncate response for error message
		preview := string(respBody)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, preview)
	}

	var result json.RawMessage
	if err := json.Unmarshal(respBody, &result); err != nil {
		preview := string(respBody)
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		return nil, fmt.Errorf("failed to decode JSON response: %w (response: %s)", err, preview)
	}

	return &result, nil
}

// Response types
type MineResponse struct {
	Found      bool   `json:"found"`
	Nonce      uint32 `json:"nonce"`
	Hash       string `json:"hash"`
	KnownNonce uint32 `json:"known_nonce"`
	NonceMatch bool   `json:"nonce_match"`
}

type TrainStartResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type SwitchResponse struct {
	ActiveSource string `json:"active_source"`
}

type StatusResponse struct {
	Mining         bool    `json:"mining"`
	Attempts       uint64  `json:"attempts"`
	Successes      uint64  `json:"successes"`
	TotalHashes    uint64  `json:"total_hashes"`
	LastHashRate   float64 `json:"last_hash_rate"`
	LastConfidence float64 `json:"last_confidence"`
	MemorySize     int     `json:"memory_size"`
	ActiveSource   string  `json:"active_source"`
	Training       string  `json:"training"`
	Uptime         string  `json:"uptime"`
}

type HealthResponse struct {
	Status       string `json:"status"`
	ActiveSource string `json:"active_source"`
	Uptime       string `json:"uptime"`
}

type SourceInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Ready     bool   `json:"ready"`
	Priority  int    `json:"priority"`
}

type SourcesResponse struct {
	Sources      []SourceInfo `json:"sources"`
	ActiveSource string       `json:"active_source"`
	TotalSources int          `json:"total_sources"`
}
