package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"voice-assistant-daemon/audio"
)

const streamChunkBytes = 4096

type httpImpl struct {
	endpoint   string
	voice      string
	httpClient *http.Client
	logger     zerolog.Logger
}

type HTTPConfig struct {
	BaseURL string
	Voice   string
	Logger  zerolog.Logger
}

type synthesizeRequest struct {
	TargetText string `json:"target_text"`
	VoiceType  string `json:"voice_type"`
	Stream     bool   `json:"stream"`
}

// NewHTTP talks to the remote TTS service's /generate endpoint. Timeouts are
// the caller's responsibility via the request context.
func NewHTTP(cfg *HTTPConfig) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is empty")
	}

	return &httpImpl{
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/generate",
		voice:      cfg.Voice,
		httpClient: &http.Client{},
		logger:     cfg.Logger,
	}, nil
}

func (c *httpImpl) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.post(ctx, text, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	wavBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading tts response: %w", err)
	}

	c.logger.Debug().Int("bytes", len(wavBytes)).Msg("tts received")

	return wavBytes, nil
}

func (c *httpImpl) SynthesizeStream(ctx context.Context, text string) (<-chan audio.Chunk, error) {
	resp, err := c.post(ctx, text, true)
	if err != nil {
		return nil, err
	}

	chunks := make(chan audio.Chunk)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		count := 0
		buf := make([]byte, streamChunkBytes)

		// The body is raw 16-bit PCM and Read gives no alignment guarantee,
		// so an odd trailing byte is held back and prepended to the next
		// chunk to keep every emitted chunk on a sample boundary.
		var carry []byte

		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				data := make([]byte, 0, len(carry)+n)
				data = append(data, carry...)
				data = append(data, buf[:n]...)
				carry = nil

				if len(data)%2 != 0 {
					carry = []byte{data[len(data)-1]}
					data = data[:len(data)-1]
				}

				if len(data) > 0 {
					select {
					case chunks <- audio.Chunk{Data: data}:
						count++
					case <-ctx.Done():
						return
					}
				}
			}

			if err == io.EOF {
				if len(carry) > 0 {
					c.logger.Debug().Msg("tts stream ended on a half sample, trailing byte dropped")
				}
				c.logger.Debug().Int("chunks", count).Msg("tts stream complete")
				return
			} else if err != nil {
				select {
				case chunks <- audio.Chunk{Err: fmt.Errorf("tts stream: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return chunks, nil
}

func (c *httpImpl) post(ctx context.Context, text string, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(synthesizeRequest{
		TargetText: text,
		VoiceType:  c.voice,
		Stream:     stream,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("tts returned %s", resp.Status)
	}

	return resp, nil
}
