package wakeword

import (
	"fmt"

	porcupine "github.com/Picovoice/porcupine/binding/go/v2"
	"github.com/rs/zerolog"
)

type porcupineImpl struct {
	engine porcupine.Porcupine
	logger zerolog.Logger
}

type PorcupineConfig struct {
	AccessKey   string
	ModelPath   string // path to a .ppn keyword file; empty uses the built-in "porcupine" keyword
	Sensitivity float32
	Logger      zerolog.Logger
}

// NewPorcupine initializes the Porcupine wake-word engine. It runs fully
// on-device and expects frames of porcupine.FrameLength samples at 16 kHz.
func NewPorcupine(cfg *PorcupineConfig) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("access key is empty")
	}

	engine := porcupine.Porcupine{
		AccessKey:     cfg.AccessKey,
		Sensitivities: []float32{cfg.Sensitivity},
	}

	if cfg.ModelPath != "" {
		engine.KeywordPaths = []string{cfg.ModelPath}
	} else {
		engine.BuiltInKeywords = []porcupine.BuiltInKeyword{porcupine.PORCUPINE}
		cfg.Logger.Warn().Msg("WAKE_WORD_MODEL_PATH not set, using built-in 'porcupine' keyword")
	}

	if err := engine.Init(); err != nil {
		return nil, fmt.Errorf("initializing porcupine: %w", err)
	}

	cfg.Logger.Info().Int("frame_length", porcupine.FrameLength).Msg("porcupine wake word engine loaded")

	return &porcupineImpl{
		engine: engine,
		logger: cfg.Logger,
	}, nil
}

func (p *porcupineImpl) FrameLength() int {
	return porcupine.FrameLength
}

func (p *porcupineImpl) Detect(frame []int16) (bool, error) {
	keywordIndex, err := p.engine.Process(frame)
	if err != nil {
		return false, fmt.Errorf("porcupine process: %w", err)
	}

	return keywordIndex >= 0, nil
}

func (p *porcupineImpl) Close() error {
	return p.engine.Delete()
}
