package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/samber/lo"
)

// HTTPBackend synthesizes through a plain HTTP endpoint that answers a JSON
// request with WAV bytes. It serves as the degraded fallback tier.
type HTTPBackend struct {
	name       string
	endpoint   string
	languages  []string
	httpClient *http.Client
}

type httpSynthesisRequest struct {
	Text      string `json:"text"`
	Language  string `json:"language"`
	SpeakerID string `json:"speaker_id,omitempty"`
}

// NewHTTPBackend creates an HTTP backend. An empty language list supports
// every language.
func NewHTTPBackend(name, endpoint string, languages []string, timeout time.Duration) (*HTTPBackend, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &HTTPBackend{
		name:       name,
		endpoint:   endpoint,
		languages:  languages,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (b *HTTPBackend) Name() string { return b.name }

func (b *HTTPBackend) Supports(lang string) bool {
	return len(b.languages) == 0 || lo.Contains(b.languages, lang)
}

// Synthesize posts the text and returns the response body as audio
func (b *HTTPBackend) Synthesize(ctx context.Context, req *Request) (*Synthesis, error) {
	payload, err := json.Marshal(httpSynthesisRequest{
		Text:      req.Text,
		Language:  req.TargetLang,
		SpeakerID: req.SpeakerID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	return &Synthesis{Audio: body, Engine: b.name}, nil
}
