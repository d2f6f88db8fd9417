package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/Dankular/Babblefish/internal/audio"
)

// unhealthyAfter is the number of consecutive failed requests after which
// the client reports itself unhealthy
const unhealthyAfter = 3

// Client sends utterances to the speech-to-text service
type Client struct {
	config     Config
	httpClient *http.Client
	sem        *semaphore.Weighted

	// Statistics
	totalRequests       uint64
	successRequests     uint64
	failedRequests      uint64
	totalRetries        uint64
	consecutiveFailures int
	activeRequests      int
	avgResponseTime     time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	Endpoint       string
	APIKey         string
	Model          string
	Timeout        time.Duration
	MaxRetries     int
	MaxConcurrent  int
	RetryBaseDelay time.Duration // first retry delay, doubled per attempt up to 30s

	// OnRetry is called before every retry
	OnRetry func()
}

// Request is one utterance to transcribe
type Request struct {
	Samples    []int16
	SampleRate int
	Language   string // optional hint
	RequestID  string // generated when empty
}

// Result is the speech-to-text response
type Result struct {
	Text       string        `json:"text"`
	Language   string        `json:"language"`
	Confidence float32       `json:"confidence"`
	Duration   float64       `json:"duration"`
	RequestID  string        `json:"-"`
	Latency    time.Duration `json:"-"`
}

// HTTPError is a non-2xx response from the service
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
	Healthy         bool          `json:"healthy"`
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		sem:        semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}, nil
}

// Transcribe sends one utterance for transcription, retrying transient failures
func (c *Client) Transcribe(ctx context.Context, request *Request) (*Result, error) {
	if len(request.Samples) == 0 {
		return nil, fmt.Errorf("cannot transcribe empty audio")
	}

	wav, err := audio.EncodeWAV(request.Samples, request.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode utterance: %w", err)
	}

	requestID := request.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	startTime := time.Now()
	c.begin()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.RetryBaseDelay
	policy.Multiplier = 2
	policy.MaxInterval = 30 * time.Second

	result, err := backoff.Retry(ctx, func() (*Result, error) {
		result, err := c.doRequest(ctx, request, requestID, wav)
		if err != nil && !isRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return result, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.config.MaxRetries+1)),
		backoff.WithNotify(func(error, time.Duration) { c.retried() }),
	)
	if err != nil {
		c.finish(false, 0)
		return nil, fmt.Errorf("transcription %s failed: %w", requestID, err)
	}

	result.RequestID = requestID
	result.Latency = time.Since(startTime)
	c.finish(true, result.Latency)
	return result, nil
}

// doRequest performs a single HTTP request to the transcription API
func (c *Client) doRequest(ctx context.Context, request *Request, requestID string, wav []byte) (*Result, error) {
	body, contentType, err := c.createMultipartRequest(request, requestID, wav)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "Babblefish/1.0")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return &result, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (c *Client) createMultipartRequest(request *Request, requestID string, wav []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", requestID+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"sample_rate", strconv.Itoa(request.SampleRate)},
		{"request_id", requestID},
		{"duration", fmt.Sprintf("%.3f", audio.SamplesDuration(len(request.Samples), request.SampleRate).Seconds())},
	}
	if request.Language != "" {
		fields = append(fields, [2]string{"language", request.Language})
	}
	if c.config.Model != "" {
		fields = append(fields, [2]string{"model", c.config.Model})
	}

	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", field[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryable reports whether a failed attempt should be retried
func isRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// Statistics methods
func (c *Client) begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.activeRequests++
}

func (c *Client) retried() {
	c.mu.Lock()
	c.totalRetries++
	c.mu.Unlock()

	if c.config.OnRetry != nil {
		c.config.OnRetry()
	}
}

func (c *Client) finish(success bool, responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeRequests--
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

// Healthy reports whether recent requests have been succeeding
func (c *Client) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.consecutiveFailures < unhealthyAfter
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  c.activeRequests,
		Healthy:         c.consecutiveFailures < unhealthyAfter,
	}
}

// Close waits for in-flight requests to complete
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	if err := c.sem.Acquire(ctx, int64(c.config.MaxConcurrent)); err != nil {
		return fmt.Errorf("timed out waiting for in-flight transcriptions: %w", err)
	}
	c.sem.Release(int64(c.config.MaxConcurrent))
	return nil
}
