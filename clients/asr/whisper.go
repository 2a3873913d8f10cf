package asr

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog"

	"voice-assistant-daemon/audio"
)

type whisperImpl struct {
	model  whisper.Model
	logger zerolog.Logger
}

type WhisperConfig struct {
	Model  whisper.Model
	Logger zerolog.Logger
}

// NewWhisper transcribes locally with a whisper.cpp model instead of the
// remote ASR service. Inference is not cancellable mid-run; the context only
// gates whether a run starts.
func NewWhisper(cfg *WhisperConfig) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Model == nil {
		return nil, fmt.Errorf("model is nil")
	}

	return &whisperImpl{
		model:  cfg.Model,
		logger: cfg.Logger,
	}, nil
}

func (w *whisperImpl) Transcribe(ctx context.Context, wavBytes []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	samples, sampleRate, _, err := audio.DecodeWAV(wavBytes)
	if err != nil {
		return "", fmt.Errorf("decoding utterance: %w", err)
	}

	if sampleRate != whisper.SampleRate {
		return "", fmt.Errorf("whisper needs %d Hz audio, got %d Hz", whisper.SampleRate, sampleRate)
	}

	data := make([]float32, len(samples))
	for i, s := range samples {
		data[i] = float32(s) / 32768.0
	}

	wCtx, err := w.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper context: %w", err)
	}

	var cb whisper.SegmentCallback
	if err := wCtx.Process(data, cb); err != nil {
		return "", fmt.Errorf("whisper process: %w", err)
	}

	text, err := collectSegments(wCtx)
	if err != nil {
		return "", err
	}

	w.logger.Debug().Str("text", text).Msg("whisper result")

	return text, nil
}

// collectSegments joins the transcription segments, skipping whisper's
// bracketed non-speech annotations and repeated hallucinated lines.
func collectSegments(wCtx whisper.Context) (string, error) {
	seenText := make(map[string]bool)

	var parts []string

	for {
		segment, err := wCtx.NextSegment()
		if err == io.EOF {
			return strings.TrimSpace(strings.Join(parts, " ")), nil
		} else if err != nil {
			return "", fmt.Errorf("reading segment: %w", err)
		}

		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}

		if text[0] == '(' || text[0] == '[' || text[len(text)-1] == ')' || text[len(text)-1] == ']' {
			continue
		}

		if seenText[text] {
			continue
		}
		seenText[text] = true

		parts = append(parts, text)
	}
}
