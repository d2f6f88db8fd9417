package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	unhealthyAfter        = 3
	defaultHealthInterval = 30 * time.Second
)

// Client calls the machine translation service
type Client struct {
	config     Config
	httpClient *http.Client
	sem        *semaphore.Weighted

	// Statistics
	totalRequests       uint64
	successRequests     uint64
	failedRequests      uint64
	passThrough         uint64
	consecutiveFailures int
	avgResponseTime     time.Duration

	// Last readiness check against the health endpoint
	probeFailed bool
	lastCheck   time.Time

	mu sync.RWMutex

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// Config contains translation client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxConcurrent int

	// Readiness endpoint polled by Start. Empty disables polling.
	HealthEndpoint string
	HealthInterval time.Duration

	Logger *slog.Logger
}

type translateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type translateResponse struct {
	Translation string `json:"translation"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	PassThrough     uint64        `json:"pass_through"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	Healthy         bool          `json:"healthy"`
	LastHealthCheck time.Time     `json:"last_health_check,omitempty"`
}

// NewClient creates a translation client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 8
	}

	if config.HealthInterval <= 0 {
		config.HealthInterval = defaultHealthInterval
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.Logger = config.Logger.With(slog.String("component", "translation"))

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		sem:        semaphore.NewWeighted(int64(config.MaxConcurrent)),
		done:       make(chan struct{}),
	}, nil
}

// Translate translates text between two ISO 639-1 languages. Identical
// languages return the text unchanged without contacting the service.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.EqualFold(sourceLang, targetLang) || strings.TrimSpace(text) == "" {
		c.mu.Lock()
		c.passThrough++
		c.mu.Unlock()
		return text, nil
	}

	source, err := ToFlores(sourceLang)
	if err != nil {
		return "", err
	}
	target, err := ToFlores(targetLang)
	if err != nil {
		return "", err
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)

	startTime := time.Now()
	translation, err := c.doRequest(ctx, translateRequest{Text: text, SourceLang: source, TargetLang: target})
	c.record(err == nil, time.Since(startTime))
	if err != nil {
		return "", fmt.Errorf("translation %s->%s failed: %w", sourceLang, targetLang, err)
	}

	return translation, nil
}

func (c *Client) doRequest(ctx context.Context, body translateRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var result translateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return result.Translation, nil
}

func (c *Client) record(success bool, responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	if !success {
		c.failedRequests++
		c.consecutiveFailures++
		return
	}

	c.successRequests++
	c.consecutiveFailures = 0
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// CheckHealth queries the health endpoint and caches the outcome for
// Healthy. It is a no-op without a health endpoint.
func (c *Client) CheckHealth(ctx context.Context) error {
	if c.config.HealthEndpoint == "" {
		return nil
	}

	err := c.probe(ctx)

	c.mu.Lock()
	changed := c.probeFailed != (err != nil)
	c.probeFailed = err != nil
	c.lastCheck = time.Now()
	c.mu.Unlock()

	if changed {
		if err != nil {
			c.config.Logger.Warn("Translation service not ready", slog.String("error", err.Error()))
		} else {
			c.config.Logger.Info("Translation service ready")
		}
	}
	return err
}

func (c *Client) probe(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.HealthEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health check returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Start polls the health endpoint until ctx is cancelled or Stop is
// called. The first check runs immediately.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		if c.config.HealthEndpoint == "" {
			close(c.done)
			return
		}
		ctx, c.cancel = context.WithCancel(ctx)
		go c.healthLoop(ctx)
	})
}

// Stop ends health polling and waits for it to exit
func (c *Client) Stop() {
	c.startOnce.Do(func() { close(c.done) })
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
}

func (c *Client) healthLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.config.HealthInterval)
	defer ticker.Stop()

	for {
		c.CheckHealth(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Healthy reports whether recent requests have been succeeding and the
// last readiness check passed
func (c *Client) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthyLocked()
}

func (c *Client) healthyLocked() bool {
	return c.consecutiveFailures < unhealthyAfter && !c.probeFailed
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		PassThrough:     c.passThrough,
		AvgResponseTime: c.avgResponseTime,
		Healthy:         c.healthyLocked(),
		LastHealthCheck: c.lastCheck,
	}
}
