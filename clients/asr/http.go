package asr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

type httpImpl struct {
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger
}

type HTTPConfig struct {
	BaseURL string
	Logger  zerolog.Logger
}

type transcribeRequest struct {
	WavBase64 string `json:"wav_base64"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// NewHTTP talks to the remote ASR service's /asr endpoint. Timeouts are the
// caller's responsibility via the request context.
func NewHTTP(cfg *HTTPConfig) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is empty")
	}

	return &httpImpl{
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/asr",
		httpClient: &http.Client{},
		logger:     cfg.Logger,
	}, nil
}

func (c *httpImpl) Transcribe(ctx context.Context, wavBytes []byte) (string, error) {
	payload, err := json.Marshal(transcribeRequest{
		WavBase64: base64.StdEncoding.EncodeToString(wavBytes),
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("asr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("asr returned %s", resp.Status)
	}

	var decoded transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	text := strings.TrimSpace(decoded.Text)
	c.logger.Debug().Str("text", text).Msg("asr result")

	return text, nil
}
