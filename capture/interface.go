package capture

import "time"

// FrameSource yields fixed-size native PCM frames. ReadFrame blocks for at
// most one frame period; a read error is fatal to the capture loop.
type FrameSource interface {
	ReadFrame() ([]int16, error)
	Close() error
}

// State is the capture state, owned exclusively by the capture loop
// goroutine. Other goroutines request transitions through instructions.
type State int32

const (
	StateIdle State = iota
	StateListening
)

func (s State) String() string {
	if s == StateListening {
		return "LISTENING"
	}
	return "IDLE"
}

// WakeEvent fires when the wake phrase is detected while idle.
type WakeEvent struct{}

// UtteranceEvent carries a complete captured utterance as an encoded WAV
// buffer.
type UtteranceEvent struct {
	WAV          []byte
	Duration     time.Duration
	Conversation bool // captured without a wake word, in conversation mode
}

// TimeoutEvent fires when the listen window expires without a valid
// utterance.
type TimeoutEvent struct {
	WasConversation bool
}

// Interface is the capture state machine. Run owns a dedicated goroutine and
// is the only mutator of the capture state; the mute/resume methods enqueue
// instructions that the loop applies between frames. Event channels are
// bounded and meant for a single consumer.
type Interface interface {
	Run() error
	Stop()
	Done() <-chan struct{}
	Err() error

	WakeEvents() <-chan WakeEvent
	Utterances() <-chan UtteranceEvent
	Timeouts() <-chan TimeoutEvent

	Mute()
	Unmute()
	ResumeListen()
	ResumeConversation()
	ResumeIdle()

	State() State
	InConversation() bool
}
