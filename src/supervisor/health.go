package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Health API endpoints exposed by the node binary.
const (
	livenessPath = "/ext/health/liveness"
	healthPath   = "/ext/health"
)

// CheckResult is one named check inside a health report.
type CheckResult struct {
	Error              string    `json:"error,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
	Duration           int64     `json:"duration,omitempty"`
	ContiguousFailures int64     `json:"contiguousFailures,omitempty"`
}

// HealthResponse is the node binary's health report.
type HealthResponse struct {
	Checks  map[string]CheckResult `json:"checks,omitempty"`
	Healthy bool                   `json:"healthy"`
}

// HealthClient polls the supervised node's local health API.
type HealthClient struct {
	base   string
	client *http.Client
}

// NewHealthClient builds a client for the node's HTTP endpoint, e.g.
// "127.0.0.1:9650".
func NewHealthClient(addr string, timeout time.Duration) *HealthClient {
	return &HealthClient{
		base: "http://" + addr,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Liveness reports whether the node process is up and serving. This is the
// cheap check the supervisor polls while waiting for the node to come
// alive.
func (c *HealthClient) Liveness(ctx context.Context) (bool, error) {
	resp, err := c.get(ctx, livenessPath)
	if err != nil {
		return false, err
	}
	return resp.Healthy, nil
}

// Health returns the full health report, including per-check results.
func (c *HealthClient) Health(ctx context.Context) (*HealthResponse, error) {
	return c.get(ctx, healthPath)
}

func (c *HealthClient) get(ctx context.Context, path string) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// The health API answers 503 with a fully-formed body when unhealthy.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, fmt.Errorf("health API returned %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("invalid health response: %v", err)
	}

	return &health, nil
}
