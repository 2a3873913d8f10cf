package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"voice-assistant-daemon/config"
)

const (
	playChunkSamples = 1024

	// streamStallTimeout aborts a chunked playback when the producer stops
	// delivering, so a hung TTS stream can never wedge the pipeline.
	streamStallTimeout = 10 * time.Second
)

// Sink plays synthesized audio. Calls block until the device has finished
// presenting the audio, since unmute/resume must only happen after acoustic
// output ends.
type Sink interface {
	Play(wavBytes []byte) error
	PlayStream(chunks <-chan Chunk) error
}

// Player writes audio to the output device. The busy token already keeps the
// acknowledgement and pipeline tasks from playing at once, but the player
// holds its own lock in case a caller violates that assumption.
type playerImpl struct {
	mu          sync.Mutex
	deviceIndex int
	gain        float64
	logger      zerolog.Logger
}

type PlayerConfig struct {
	DeviceIndex int // -1 uses the system default output
	VolumeGain  float64
	Logger      zerolog.Logger
}

func NewPlayer(cfg *PlayerConfig) (Sink, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	gain := cfg.VolumeGain
	if gain <= 0 {
		gain = 1.0
	}

	return &playerImpl{
		deviceIndex: cfg.DeviceIndex,
		gain:        gain,
		logger:      cfg.Logger,
	}, nil
}

// Play decodes a WAV buffer and writes it to the device, returning once the
// audio has been presented.
func (p *playerImpl) Play(wavBytes []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	samples, sampleRate, channels, err := DecodeWAV(wavBytes)
	if err != nil {
		return fmt.Errorf("decoding playback audio: %w", err)
	}

	ApplyGain(samples, p.gain)

	out := make([]int16, playChunkSamples)

	stream, err := p.openOutputStream(sampleRate, channels, out)
	if err != nil {
		return fmt.Errorf("opening output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("starting output stream: %w", err)
	}
	defer stream.Stop()

	for offset := 0; offset < len(samples); offset += playChunkSamples {
		writeChunk(out, samples[offset:])

		if err := stream.Write(); err != nil {
			return fmt.Errorf("writing to output stream: %w", err)
		}
	}

	return nil
}

// PlayStream writes raw PCM chunks (44.1 kHz mono 16-bit) as they arrive, so
// playback starts on the first chunk instead of after full synthesis.
func (p *playerImpl) PlayStream(chunks <-chan Chunk) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]int16, playChunkSamples)

	stream, err := p.openOutputStream(config.SpkSampleRate, config.SpkChannels, out)
	if err != nil {
		return fmt.Errorf("opening output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("starting output stream: %w", err)
	}
	defer stream.Stop()

	stall := time.NewTimer(streamStallTimeout)
	defer stall.Stop()

	var pending []int16

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				// Flush whatever is left, padded with silence.
				if len(pending) > 0 {
					writeChunk(out, pending)
					if err := stream.Write(); err != nil {
						return fmt.Errorf("writing to output stream: %w", err)
					}
				}
				return nil
			}

			if chunk.Err != nil {
				return fmt.Errorf("playback stream: %w", chunk.Err)
			}

			if !stall.Stop() {
				<-stall.C
			}
			stall.Reset(streamStallTimeout)

			samples := BytesToInt16(chunk.Data)
			ApplyGain(samples, p.gain)
			pending = append(pending, samples...)

			for len(pending) >= playChunkSamples {
				copy(out, pending[:playChunkSamples])
				pending = pending[playChunkSamples:]

				if err := stream.Write(); err != nil {
					return fmt.Errorf("writing to output stream: %w", err)
				}
			}

		case <-stall.C:
			p.logger.Warn().Dur("timeout", streamStallTimeout).Msg("playback stream stalled, aborting")
			return nil
		}
	}
}

func (p *playerImpl) openOutputStream(sampleRate, channels int, out []int16) (*portaudio.Stream, error) {
	if p.deviceIndex < 0 {
		return portaudio.OpenDefaultStream(0, channels, float64(sampleRate), len(out), out)
	}

	device, err := deviceByIndex(p.deviceIndex)
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(nil, device)
	params.Output.Channels = channels
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = len(out)

	return portaudio.OpenStream(params, out)
}

// writeChunk fills the device buffer from src, zero-padding the tail when
// fewer samples remain than the buffer holds.
func writeChunk(out, src []int16) {
	n := copy(out, src)
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}
