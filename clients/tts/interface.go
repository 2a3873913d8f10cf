package tts

import (
	"context"

	"voice-assistant-daemon/audio"
)

// Interface synthesizes speech. Synthesize returns a complete WAV buffer and
// is used for short phrases (acknowledgements, goodbyes). SynthesizeStream
// yields raw PCM chunks as they arrive so playback can begin before synthesis
// finishes; the channel is closed when the stream ends.
type Interface interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	SynthesizeStream(ctx context.Context, text string) (<-chan audio.Chunk, error)
}
