package audio

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"voice-assistant-daemon/config"
)

// Source reads fixed-size native PCM frames from the capture device. A read
// blocks for at most one frame period. Overflow from a stalled consumer is
// tolerated; any other device error is fatal to the caller.
type Source struct {
	stream *portaudio.Stream
	in     []int16
	logger zerolog.Logger
}

type SourceConfig struct {
	DeviceIndex int // -1 uses the system default input
	Logger      zerolog.Logger
}

func NewSource(cfg *SourceConfig) (*Source, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	in := make([]int16, config.MicFrameSamples)

	stream, err := openInputStream(cfg.DeviceIndex, in)
	if err != nil {
		return nil, fmt.Errorf("opening input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("starting input stream: %w", err)
	}

	cfg.Logger.Info().
		Int("sample_rate", config.MicSampleRate).
		Int("frame_samples", config.MicFrameSamples).
		Int("device_index", cfg.DeviceIndex).
		Msg("microphone capture started")

	return &Source{
		stream: stream,
		in:     in,
		logger: cfg.Logger,
	}, nil
}

func (s *Source) ReadFrame() ([]int16, error) {
	if err := s.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			s.logger.Debug().Msg("input overflowed, frame kept")
		} else {
			return nil, fmt.Errorf("reading frame: %w", err)
		}
	}

	frame := make([]int16, len(s.in))
	copy(frame, s.in)

	return frame, nil
}

func (s *Source) Close() error {
	if err := s.stream.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("stopping input stream")
	}

	return s.stream.Close()
}

func openInputStream(deviceIndex int, in []int16) (*portaudio.Stream, error) {
	if deviceIndex < 0 {
		return portaudio.OpenDefaultStream(config.MicChannels, 0, float64(config.MicSampleRate), len(in), in)
	}

	device, err := deviceByIndex(deviceIndex)
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = config.MicChannels
	params.SampleRate = float64(config.MicSampleRate)
	params.FramesPerBuffer = len(in)

	return portaudio.OpenStream(params, in)
}

func deviceByIndex(index int) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	if index >= len(devices) {
		return nil, fmt.Errorf("device index %d out of range (%d devices)", index, len(devices))
	}

	return devices[index], nil
}
