package vad

// Interface classifies a single PCM frame as speech or silence. FrameLength
// reports the exact number of samples an implementation needs per call; the
// capture loop reassembles native frames to that length.
type Interface interface {
	FrameLength() int
	IsSpeech(frame []int16) (bool, error)
}
