package wakeword

import (
	"fmt"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog"
)

// spotterWindowSamples is the rolling window handed to whisper per detection
// pass: 1.5 s at 16 kHz, long enough to carry a short wake phrase.
const spotterWindowSamples = 24000

type spotterImpl struct {
	model  whisper.Model
	phrase string
	logger zerolog.Logger
}

type SpotterConfig struct {
	Model  whisper.Model
	Phrase string
	Logger zerolog.Logger
}

// NewSpotter builds a keyword-spotting wake engine on top of a whisper model:
// each window is transcribed locally and matched against the wake phrase. It
// is much heavier than Porcupine but needs no access key.
func NewSpotter(cfg *SpotterConfig) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Model == nil {
		return nil, fmt.Errorf("model is nil")
	}

	if cfg.Phrase == "" {
		return nil, fmt.Errorf("wake phrase is empty")
	}

	return &spotterImpl{
		model:  cfg.Model,
		phrase: normalizeText(cfg.Phrase),
		logger: cfg.Logger,
	}, nil
}

func (s *spotterImpl) FrameLength() int {
	return spotterWindowSamples
}

func (s *spotterImpl) Detect(frame []int16) (bool, error) {
	wCtx, err := s.model.NewContext()
	if err != nil {
		return false, fmt.Errorf("whisper context: %w", err)
	}

	data := make([]float32, len(frame))
	for i, sample := range frame {
		data[i] = float32(sample) / 32768.0
	}

	var cb whisper.SegmentCallback
	if err := wCtx.Process(data, cb); err != nil {
		return false, fmt.Errorf("whisper process: %w", err)
	}

	for {
		segment, err := wCtx.NextSegment()
		if err != nil {
			return false, nil
		}

		if strings.Contains(normalizeText(segment.Text), s.phrase) {
			s.logger.Debug().Str("segment", segment.Text).Msg("wake phrase spotted")
			return true, nil
		}
	}
}

func (s *spotterImpl) Close() error {
	return nil
}

// normalizeText lowercases and strips everything but letters, digits and
// spaces, so the match is not thrown off by whisper's punctuation.
func normalizeText(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == ' ' {
			return r
		}

		return -1
	}, text)

	return strings.ToLower(cleaned)
}
