package vad

import (
	"fmt"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// fluxFactor is the ratio by which the spectral flux must jump above the
// previous frame's flux to count as speech onset, and fall below the speech
// reference to count as silence again.
const fluxFactor = 1.75

type fluxImpl struct {
	frameLen int
	prevMags []float64
	lastFlux float64
	speaking bool
}

type FluxConfig struct {
	FrameSamples int
}

// NewFlux builds a spectral-flux detector: speech onset shows up as a jump in
// the frame-to-frame difference of FFT magnitudes. It needs no model files,
// which makes it a useful fallback when the WebRTC detector is unavailable.
func NewFlux(cfg *FluxConfig) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.FrameSamples <= 0 {
		return nil, fmt.Errorf("frame samples must be positive, got %d", cfg.FrameSamples)
	}

	return &fluxImpl{
		frameLen: cfg.FrameSamples,
	}, nil
}

func (f *fluxImpl) FrameLength() int {
	return f.frameLen
}

func (f *fluxImpl) IsSpeech(frame []int16) (bool, error) {
	if len(frame) != f.frameLen {
		return false, fmt.Errorf("expected %d samples, got %d", f.frameLen, len(frame))
	}

	flux := f.flux(frame)

	if f.lastFlux == 0 {
		f.lastFlux = flux
		return false, nil
	}

	if f.speaking {
		if flux*fluxFactor <= f.lastFlux {
			// Dropped well below the speech-level reference.
			f.speaking = false
			f.lastFlux = flux
		} else {
			f.lastFlux = flux
		}
	} else {
		if flux >= f.lastFlux*fluxFactor {
			f.speaking = true
		}
		f.lastFlux = flux
	}

	return f.speaking, nil
}

func (f *fluxImpl) flux(frame []int16) float64 {
	samples := make([]float64, len(frame))
	for i, s := range frame {
		samples[i] = float64(s) / 32768.0
	}

	spectrum := fft.FFTReal(samples)

	mags := make([]float64, len(spectrum)/2)
	for i := range mags {
		mags[i] = cmplx.Abs(spectrum[i])
	}

	prev := f.prevMags
	f.prevMags = mags
	if prev == nil {
		return 0
	}

	var flux float64
	for i := range mags {
		if d := mags[i] - prev[i]; d > 0 {
			flux += d
		}
	}
	return flux
}
