package audio

import (
	"bytes"
	"fmt"
	"math"

	"github.com/go-audio/wav"
	"github.com/spf13/afero"
	wave "github.com/zenwerk/go-wave"
)

// Chunk is one piece of a streamed PCM response. A non-nil Err terminates the
// stream early.
type Chunk struct {
	Data []byte
	Err  error
}

// EncodeWAV wraps raw 16-bit PCM samples in a WAV container.
func EncodeWAV(samples []int16, sampleRate, channels int) ([]byte, error) {
	fs := afero.NewMemMapFs()

	f, err := fs.Create("encoded.wav")
	if err != nil {
		return nil, fmt.Errorf("creating wav buffer: %w", err)
	}

	writer, err := wave.NewWriter(wave.WriterParam{
		Out:           f,
		Channel:       channels,
		SampleRate:    sampleRate,
		BitsPerSample: 16,
	})
	if err != nil {
		return nil, fmt.Errorf("creating wav writer: %w", err)
	}

	if _, err := writer.WriteSample16(samples); err != nil {
		return nil, fmt.Errorf("writing samples: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing wav writer: %w", err)
	}

	return afero.ReadFile(fs, "encoded.wav")
}

// DecodeWAV unpacks a WAV buffer into 16-bit PCM samples plus its format.
func DecodeWAV(wavBytes []byte) ([]int16, int, int, error) {
	decoder := wav.NewDecoder(bytes.NewReader(wavBytes))

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decoding wav: %w", err)
	}

	samples := make([]int16, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = int16(s)
	}

	return samples, buf.Format.SampleRate, buf.Format.NumChannels, nil
}

// ApplyGain amplifies 16-bit PCM samples in place, clipping to the int16
// range.
func ApplyGain(samples []int16, gain float64) {
	if gain == 1.0 {
		return
	}

	for i, s := range samples {
		v := float64(s) * gain
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		samples[i] = int16(v)
	}
}

// BeepWAV generates a sine-wave beep as WAV bytes, used as an audible cue
// when no TTS backend is reachable.
func BeepWAV(freqHz, durationMs int, volume float64) []byte {
	const sampleRate = 44100

	n := sampleRate * durationMs / 1000
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(volume * math.MaxInt16 * math.Sin(2*math.Pi*float64(freqHz)*float64(i)/sampleRate))
	}

	// A pure in-memory sine of fixed length cannot fail to encode.
	wavBytes, err := EncodeWAV(samples, sampleRate, 1)
	if err != nil {
		return nil
	}

	return wavBytes
}

// BytesToInt16 reinterprets little-endian PCM bytes as int16 samples. A
// trailing odd byte is dropped.
func BytesToInt16(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return samples
}
