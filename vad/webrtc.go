package vad

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

type webrtcImpl struct {
	vad        *webrtcvad.VAD
	sampleRate int
	frameLen   int
}

type WebRTCConfig struct {
	SampleRate     int
	FrameSamples   int // must be 10, 20 or 30 ms worth of samples
	Aggressiveness int // 0 (permissive) to 3 (aggressive)
}

// NewWebRTC wraps the WebRTC voice activity detector.
func NewWebRTC(cfg *WebRTCConfig) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("creating webrtc vad: %w", err)
	}

	if err := v.SetMode(cfg.Aggressiveness); err != nil {
		return nil, fmt.Errorf("setting vad aggressiveness %d: %w", cfg.Aggressiveness, err)
	}

	if !v.ValidRateAndFrameLength(cfg.SampleRate, cfg.FrameSamples) {
		return nil, fmt.Errorf("unsupported rate/frame combination: %d Hz, %d samples", cfg.SampleRate, cfg.FrameSamples)
	}

	return &webrtcImpl{
		vad:        v,
		sampleRate: cfg.SampleRate,
		frameLen:   cfg.FrameSamples,
	}, nil
}

func (w *webrtcImpl) FrameLength() int {
	return w.frameLen
}

func (w *webrtcImpl) IsSpeech(frame []int16) (bool, error) {
	buf := make([]byte, len(frame)*2)
	for i, s := range frame {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}

	return w.vad.Process(w.sampleRate, buf)
}
