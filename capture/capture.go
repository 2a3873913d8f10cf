package capture

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"voice-assistant-daemon/audio"
	"voice-assistant-daemon/ring_buffer"
	"voice-assistant-daemon/vad"
	"voice-assistant-daemon/wakeword"
)

const eventBuffer = 4

type instruction int

const (
	instrMute instruction = iota
	instrUnmute
	instrResumeListen
	instrResumeConversation
	instrResumeIdle
)

type machineImpl struct {
	source     FrameSource
	wake       wakeword.Interface
	vad        vad.Interface
	logger     zerolog.Logger
	sampleRate int
	channels   int

	// Thresholds converted to frame counts so a replayed frame sequence
	// always yields the same event sequence.
	silenceLimit    int // VAD frames of silence ending an utterance
	minSpeechFrames int // VAD frames of speech making an utterance valid
	listenFrames    int // native frames in the post-wake listen window
	convFrames      int // native frames in the conversation listen window

	// Loop-owned state. Only the Run goroutine touches these.
	state        atomic.Int32
	conversation atomic.Bool
	muted        bool
	wakeLatched  bool
	silenceRun   int
	speechRun    int
	timeoutLeft  int
	utterance    []int16
	preroll      *ring_buffer.Buffer
	wakeFrames   *frameAssembler
	vadFrames    *frameAssembler

	wakeEvents chan WakeEvent
	utterances chan UtteranceEvent
	timeouts   chan TimeoutEvent
	instr      chan instruction

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	runErr   error
}

type Config struct {
	Source FrameSource
	Wake   wakeword.Interface
	VAD    vad.Interface

	SampleRate   int
	Channels     int
	FrameSamples int // native frame size per ReadFrame

	SilenceThreshold    time.Duration // silence run that ends an utterance
	MinSpeech           time.Duration // speech run below which an utterance is dropped
	ListenTimeout       time.Duration // post-wake listen window
	ConversationTimeout time.Duration // follow-up listen window
	PrerollFrames       int           // native frames kept before speech onset

	Logger zerolog.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Source == nil {
		return nil, fmt.Errorf("source is nil")
	}

	if cfg.Wake == nil {
		return nil, fmt.Errorf("wake detector is nil")
	}

	if cfg.VAD == nil {
		return nil, fmt.Errorf("vad is nil")
	}

	if cfg.SampleRate <= 0 || cfg.FrameSamples <= 0 {
		return nil, fmt.Errorf("sample rate and frame size must be positive")
	}

	frameDur := frameDuration(cfg.FrameSamples, cfg.SampleRate)
	vadDur := frameDuration(cfg.VAD.FrameLength(), cfg.SampleRate)

	m := &machineImpl{
		source:     cfg.Source,
		wake:       cfg.Wake,
		vad:        cfg.VAD,
		logger:     cfg.Logger,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,

		silenceLimit:    framesFor(cfg.SilenceThreshold, vadDur),
		minSpeechFrames: framesFor(cfg.MinSpeech, vadDur),
		listenFrames:    framesFor(cfg.ListenTimeout, frameDur),
		convFrames:      framesFor(cfg.ConversationTimeout, frameDur),

		preroll:    ring_buffer.New(cfg.PrerollFrames * cfg.FrameSamples),
		wakeFrames: newFrameAssembler(cfg.Wake.FrameLength()),
		vadFrames:  newFrameAssembler(cfg.VAD.FrameLength()),

		wakeEvents: make(chan WakeEvent, eventBuffer),
		utterances: make(chan UtteranceEvent, eventBuffer),
		timeouts:   make(chan TimeoutEvent, eventBuffer),
		instr:      make(chan instruction, 8),

		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	return m, nil
}

// Run drives the capture loop until Stop is called or the device fails. It
// owns the capture state exclusively; nothing else mutates it.
func (m *machineImpl) Run() error {
	defer close(m.done)
	defer m.source.Close()

	m.logger.Info().
		Int("wake_frame", m.wake.FrameLength()).
		Int("vad_frame", m.vad.FrameLength()).
		Int("silence_limit", m.silenceLimit).
		Int("min_speech", m.minSpeechFrames).
		Msg("capture loop started")

	for {
		select {
		case <-m.stop:
			m.logger.Info().Msg("capture loop stopped")
			return nil
		default:
		}

		m.drainInstructions()

		frame, err := m.source.ReadFrame()
		if err != nil {
			m.runErr = fmt.Errorf("frame read: %w", err)
			m.logger.Error().Err(err).Msg("audio device lost, shutting down capture")
			return m.runErr
		}

		m.processFrame(frame)
	}
}

func (m *machineImpl) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *machineImpl) Done() <-chan struct{} { return m.done }

func (m *machineImpl) Err() error { return m.runErr }

func (m *machineImpl) WakeEvents() <-chan WakeEvent { return m.wakeEvents }

func (m *machineImpl) Utterances() <-chan UtteranceEvent { return m.utterances }

func (m *machineImpl) Timeouts() <-chan TimeoutEvent { return m.timeouts }

func (m *machineImpl) Mute() { m.send(instrMute) }

func (m *machineImpl) Unmute() { m.send(instrUnmute) }

func (m *machineImpl) ResumeListen() { m.send(instrResumeListen) }

func (m *machineImpl) ResumeConversation() { m.send(instrResumeConversation) }

func (m *machineImpl) ResumeIdle() { m.send(instrResumeIdle) }

// send enqueues an instruction for the loop, giving up once the loop has
// exited so callers never block on a dead machine.
func (m *machineImpl) send(in instruction) {
	select {
	case m.instr <- in:
	case <-m.done:
	}
}

func (m *machineImpl) State() State { return State(m.state.Load()) }

func (m *machineImpl) InConversation() bool { return m.conversation.Load() }

// drainInstructions applies all pending mute/resume requests from background
// tasks. Instructions are the only cross-goroutine mutation path.
func (m *machineImpl) drainInstructions() {
	for {
		select {
		case in := <-m.instr:
			m.applyInstruction(in)
		default:
			return
		}
	}
}

func (m *machineImpl) applyInstruction(in instruction) {
	switch in {
	case instrMute:
		m.muted = true
		m.logger.Debug().Msg("capture muted")
	case instrUnmute:
		m.muted = false
		m.logger.Debug().Msg("capture unmuted")

		// A wake phrase heard during playback fires now, unless another
		// instruction already moved the machine out of IDLE.
		if m.wakeLatched {
			m.wakeLatched = false
			if m.State() == StateIdle {
				m.onWake()
			}
		}
	case instrResumeListen:
		m.enterListening(m.listenFrames)
		m.logger.Debug().Msg("resumed listening")
	case instrResumeConversation:
		m.conversation.Store(true)
		m.enterListening(m.convFrames)
		m.logger.Debug().Msg("resumed listening in conversation mode")
	case instrResumeIdle:
		m.conversation.Store(false)
		m.toIdle()
		m.logger.Debug().Msg("resumed idle")
	}
}

func (m *machineImpl) processFrame(frame []int16) {
	if m.muted {
		// The wake detector stays fed during playback; a match is latched and
		// surfaces once the microphone is unmuted. VAD input is discarded and
		// counters stay frozen.
		if m.State() == StateIdle && m.detectWake(frame) {
			m.wakeLatched = true
		}
		return
	}

	switch m.State() {
	case StateIdle:
		m.preroll.Add(frame)

		if m.detectWake(frame) {
			m.onWake()
		}

	case StateListening:
		m.timeoutLeft--
		if m.timeoutLeft <= 0 {
			wasConv := m.conversation.Load()
			m.logger.Info().Bool("conversation", wasConv).Msg("listen timeout, returning to idle")
			m.emitTimeout(wasConv)
			m.conversation.Store(false)
			m.toIdle()
			return
		}

		m.utterance = append(m.utterance, frame...)

		for _, vadFrame := range m.vadFrames.push(frame) {
			speech, err := m.vad.IsSpeech(vadFrame)
			if err != nil {
				// A single detector failure counts as silence for this frame.
				m.logger.Warn().Err(err).Msg("vad error, frame treated as silence")
				speech = false
			}

			if speech {
				m.speechRun++
				m.silenceRun = 0
				m.refreshDeadline()
				continue
			}

			m.silenceRun++
			// The silence run only ends a capture once speech has started;
			// before that, only the listen deadline can end the wait.
			if m.speechRun > 0 && m.silenceRun >= m.silenceLimit {
				m.finishUtterance()
				return
			}
		}
	}
}

// onWake starts a listen window: emit the event and seed the utterance with
// the pre-roll so the first spoken words are not clipped.
func (m *machineImpl) onWake() {
	m.logger.Info().Msg("wake word detected, listening for command")
	m.emitWake()
	m.enterListening(m.listenFrames)
	m.utterance = append(m.utterance, m.preroll.Read()...)
}

// detectWake feeds a native frame into the wake-word assembler and reports
// whether any assembled detector frame matched.
func (m *machineImpl) detectWake(frame []int16) bool {
	matched := false

	for _, wakeFrame := range m.wakeFrames.push(frame) {
		match, err := m.wake.Detect(wakeFrame)
		if err != nil {
			m.logger.Warn().Err(err).Msg("wake detector error, frame treated as no match")
			continue
		}

		if match {
			matched = true
		}
	}

	return matched
}

// finishUtterance runs when the silence run reaches the threshold: emit the
// utterance when enough speech was heard, drop it otherwise, then either keep
// listening (conversation mode) or go idle.
func (m *machineImpl) finishUtterance() {
	wasConv := m.conversation.Load()

	if m.speechRun >= m.minSpeechFrames {
		m.emitUtterance(wasConv)
	} else {
		m.logger.Debug().
			Int("speech_frames", m.speechRun).
			Int("min_frames", m.minSpeechFrames).
			Msg("utterance too short, ignored")
	}

	if wasConv {
		m.enterListening(m.convFrames)
	} else {
		m.toIdle()
	}
}

func (m *machineImpl) emitUtterance(wasConv bool) {
	// Trim the trailing silence run so the buffer carries just the speech.
	samples := m.utterance
	if trailing := m.silenceRun * m.vad.FrameLength(); trailing < len(samples) {
		samples = samples[:len(samples)-trailing]
	}

	wavBytes, err := audio.EncodeWAV(samples, m.sampleRate, m.channels)
	if err != nil {
		m.logger.Error().Err(err).Msg("utterance encode failed, dropped")
		return
	}

	ev := UtteranceEvent{
		WAV:          wavBytes,
		Duration:     time.Duration(len(samples)) * time.Second / time.Duration(m.sampleRate),
		Conversation: wasConv,
	}

	select {
	case m.utterances <- ev:
		m.logger.Info().Dur("duration", ev.Duration).Msg("utterance captured")
	default:
		m.logger.Warn().Msg("utterance channel full, event dropped")
	}
}

func (m *machineImpl) emitWake() {
	select {
	case m.wakeEvents <- WakeEvent{}:
	default:
		m.logger.Warn().Msg("wake channel full, event dropped")
	}
}

func (m *machineImpl) emitTimeout(wasConv bool) {
	select {
	case m.timeouts <- TimeoutEvent{WasConversation: wasConv}:
	default:
		m.logger.Warn().Msg("timeout channel full, event dropped")
	}
}

func (m *machineImpl) enterListening(timeoutFrames int) {
	m.state.Store(int32(StateListening))
	m.silenceRun = 0
	m.speechRun = 0
	m.timeoutLeft = timeoutFrames
	m.utterance = nil
}

func (m *machineImpl) toIdle() {
	m.state.Store(int32(StateIdle))
	m.silenceRun = 0
	m.speechRun = 0
	m.timeoutLeft = 0
	m.utterance = nil
	m.preroll.Clear()
}

// refreshDeadline extends the listen window on every speech frame; the span
// depends on whether conversation mode is active.
func (m *machineImpl) refreshDeadline() {
	if m.conversation.Load() {
		m.timeoutLeft = m.convFrames
	} else {
		m.timeoutLeft = m.listenFrames
	}
}

func frameDuration(samples, sampleRate int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

func framesFor(d, frameDur time.Duration) int {
	if frameDur <= 0 {
		return 1
	}

	n := int(d / frameDur)
	if n < 1 {
		n = 1
	}
	return n
}

// frameAssembler re-slices native frames into a detector's required length
// without dropping or duplicating samples.
type frameAssembler struct {
	size int
	buf  []int16
}

func newFrameAssembler(size int) *frameAssembler {
	return &frameAssembler{size: size}
}

func (a *frameAssembler) push(samples []int16) [][]int16 {
	a.buf = append(a.buf, samples...)

	var frames [][]int16
	for len(a.buf) >= a.size {
		frame := make([]int16, a.size)
		copy(frame, a.buf[:a.size])
		a.buf = a.buf[a.size:]
		frames = append(frames, frame)
	}

	return frames
}
