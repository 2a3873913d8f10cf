package wakeword

// Interface is a wake-phrase detector. FrameLength reports the exact number
// of PCM samples an engine needs per call; the capture loop accumulates
// native frames to that length before invoking Detect.
type Interface interface {
	FrameLength() int
	Detect(frame []int16) (bool, error)
	Close() error
}
