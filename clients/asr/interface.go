package asr

import "context"

// Interface transcribes an encoded WAV utterance to text. An empty string
// with a nil error means the service heard nothing usable.
type Interface interface {
	Transcribe(ctx context.Context, wavBytes []byte) (string, error)
}
