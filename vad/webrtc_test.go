package vad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebRTC(t *testing.T) {
	t.Run("capture format is accepted", func(t *testing.T) {
		// 16 kHz with 30 ms frames, the fixed microphone format.
		v, err := NewWebRTC(&WebRTCConfig{
			SampleRate:     16000,
			FrameSamples:   480,
			Aggressiveness: 3,
		})
		require.NoError(t, err)
		assert.Equal(t, 480, v.FrameLength())
	})

	t.Run("all frame durations are accepted", func(t *testing.T) {
		for _, samples := range []int{160, 320, 480} {
			_, err := NewWebRTC(&WebRTCConfig{
				SampleRate:     16000,
				FrameSamples:   samples,
				Aggressiveness: 0,
			})
			assert.NoError(t, err, "%d samples", samples)
		}
	})

	t.Run("invalid frame length is an error", func(t *testing.T) {
		_, err := NewWebRTC(&WebRTCConfig{
			SampleRate:     16000,
			FrameSamples:   500,
			Aggressiveness: 1,
		})
		assert.Error(t, err)
	})

	t.Run("invalid rate is an error", func(t *testing.T) {
		_, err := NewWebRTC(&WebRTCConfig{
			SampleRate:     22050,
			FrameSamples:   480,
			Aggressiveness: 1,
		})
		assert.Error(t, err)
	})

	t.Run("invalid aggressiveness is an error", func(t *testing.T) {
		_, err := NewWebRTC(&WebRTCConfig{
			SampleRate:     16000,
			FrameSamples:   480,
			Aggressiveness: 5,
		})
		assert.Error(t, err)
	})

	t.Run("nil config is an error", func(t *testing.T) {
		_, err := NewWebRTC(nil)
		assert.Error(t, err)
	})
}

func TestWebRTCIsSpeech(t *testing.T) {
	v, err := NewWebRTC(&WebRTCConfig{
		SampleRate:     16000,
		FrameSamples:   480,
		Aggressiveness: 3,
	})
	require.NoError(t, err)

	speech, err := v.IsSpeech(make([]int16, 480))
	require.NoError(t, err)
	assert.False(t, speech, "digital silence must not read as speech")
}
