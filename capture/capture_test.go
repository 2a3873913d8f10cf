package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-assistant-daemon/audio"
)

const (
	testFrameSamples = 480 // 30 ms at 16 kHz
	wakeMarker       = int16(9999)
	speechMarker     = int16(5000)
)

// step is one capture-loop iteration: before runs inside ReadFrame (on the
// loop goroutine) so instructions enqueued there deterministically apply
// before the NEXT frame.
type step struct {
	frame  []int16
	before func()
}

type scriptedSource struct {
	steps  []step
	pos    int
	closed bool
}

func (s *scriptedSource) ReadFrame() ([]int16, error) {
	if s.pos >= len(s.steps) {
		return nil, errors.New("device exhausted")
	}

	st := s.steps[s.pos]
	s.pos++

	if st.before != nil {
		st.before()
	}

	return st.frame, nil
}

func (s *scriptedSource) Close() error {
	s.closed = true
	return nil
}

type fakeWake struct {
	frameLen int
	errOn    int // 1-based call number that errors, 0 for never
	calls    int
	received []int16
}

func (f *fakeWake) FrameLength() int { return f.frameLen }

func (f *fakeWake) Detect(frame []int16) (bool, error) {
	f.calls++
	f.received = append(f.received, frame...)

	if f.errOn != 0 && f.calls == f.errOn {
		return false, errors.New("engine hiccup")
	}

	return frame[0] == wakeMarker, nil
}

func (f *fakeWake) Close() error { return nil }

type fakeVAD struct {
	frameLen int
	failAll  bool
}

func (f *fakeVAD) FrameLength() int { return f.frameLen }

func (f *fakeVAD) IsSpeech(frame []int16) (bool, error) {
	if f.failAll {
		return false, errors.New("vad broken")
	}

	return frame[0] == speechMarker, nil
}

func markedFrame(marker int16) []int16 {
	frame := make([]int16, testFrameSamples)
	for i := range frame {
		frame[i] = marker
	}
	return frame
}

func silence() []int16 { return make([]int16, testFrameSamples) }

func frames(marker int16, n int) []step {
	steps := make([]step, n)
	for i := range steps {
		steps[i] = step{frame: markedFrame(marker)}
	}
	return steps
}

func silenceSteps(n int) []step {
	steps := make([]step, n)
	for i := range steps {
		steps[i] = step{frame: silence()}
	}
	return steps
}

type harness struct {
	machine Interface
	source  *scriptedSource
	wake    *fakeWake
	vad     *fakeVAD
	runErr  error
}

func newHarness(t *testing.T, steps []step, mutate func(*Config)) *harness {
	t.Helper()

	source := &scriptedSource{steps: steps}
	wake := &fakeWake{frameLen: testFrameSamples}
	vadEngine := &fakeVAD{frameLen: testFrameSamples}

	cfg := &Config{
		Source:              source,
		Wake:                wake,
		VAD:                 vadEngine,
		SampleRate:          16000,
		Channels:            1,
		FrameSamples:        testFrameSamples,
		SilenceThreshold:    1200 * time.Millisecond, // 40 VAD frames
		MinSpeech:           2000 * time.Millisecond, // 66 VAD frames
		ListenTimeout:       10 * time.Second, // 333 native frames
		ConversationTimeout: 3 * time.Second,  // 100 native frames
		PrerollFrames:       0,
		Logger:              zerolog.Nop(),
	}
	if mutate != nil {
		mutate(cfg)
	}

	m, err := New(cfg)
	require.NoError(t, err)

	return &harness{machine: m, source: source, wake: wake, vad: vadEngine}
}

// run drives the loop until the script is exhausted (a device error, which is
// the fatal shutdown path).
func (h *harness) run(t *testing.T) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		h.runErr = h.machine.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("capture loop did not finish")
	}
}

func collectUtterances(m Interface) []UtteranceEvent {
	var events []UtteranceEvent
	for {
		select {
		case ev := <-m.Utterances():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func collectTimeouts(m Interface) []TimeoutEvent {
	var events []TimeoutEvent
	for {
		select {
		case ev := <-m.Timeouts():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestCapture_WakeWord(t *testing.T) {
	t.Run("wake word match emits an event and starts listening", func(t *testing.T) {
		steps := append(silenceSteps(3), frames(wakeMarker, 1)...)
		h := newHarness(t, steps, nil)

		h.run(t)

		select {
		case <-h.machine.WakeEvents():
		default:
			t.Fatal("expected a wake event")
		}
		assert.Equal(t, StateListening, h.machine.State())
	})

	t.Run("device read failure is fatal and releases the source", func(t *testing.T) {
		h := newHarness(t, silenceSteps(2), nil)

		h.run(t)

		assert.Error(t, h.runErr)
		assert.True(t, h.source.closed)

		select {
		case <-h.machine.Done():
		default:
			t.Fatal("done channel should be closed")
		}
	})

	t.Run("detector error counts as no match and is not fatal", func(t *testing.T) {
		steps := append(frames(wakeMarker, 1), frames(wakeMarker, 1)...)
		h := newHarness(t, steps, nil)
		h.wake.errOn = 1

		h.run(t)

		// First match errored out, second one landed.
		select {
		case <-h.machine.WakeEvents():
		default:
			t.Fatal("expected a wake event from the second frame")
		}
	})
}

func TestCapture_UtteranceScenarios(t *testing.T) {
	t.Run("long speech then silence emits exactly one utterance", func(t *testing.T) {
		// Scenario: 2520 ms of speech followed by 1320 ms of silence with a
		// 1200 ms silence threshold and 2000 ms speech minimum.
		steps := frames(wakeMarker, 1)
		steps = append(steps, frames(speechMarker, 84)...)
		steps = append(steps, silenceSteps(44)...)
		h := newHarness(t, steps, nil)

		h.run(t)

		events := collectUtterances(h.machine)
		require.Len(t, events, 1)
		assert.False(t, events[0].Conversation)

		// Trailing silence is trimmed, so the buffer carries the speech.
		assert.InDelta(t, 2520, events[0].Duration.Milliseconds(), 60)

		samples, rate, channels, err := audio.DecodeWAV(events[0].WAV)
		require.NoError(t, err)
		assert.Equal(t, 16000, rate)
		assert.Equal(t, 1, channels)
		assert.Len(t, samples, 84*testFrameSamples)

		assert.Equal(t, StateIdle, h.machine.State())
	})

	t.Run("speech shorter than the minimum is dropped", func(t *testing.T) {
		// 1500 ms of speech is below the 2000 ms minimum.
		steps := frames(wakeMarker, 1)
		steps = append(steps, frames(speechMarker, 50)...)
		steps = append(steps, silenceSteps(44)...)
		h := newHarness(t, steps, nil)

		h.run(t)

		assert.Empty(t, collectUtterances(h.machine))
		assert.Equal(t, StateIdle, h.machine.State())
	})

	t.Run("pure silence after the wake word times out", func(t *testing.T) {
		steps := frames(wakeMarker, 1)
		steps = append(steps, silenceSteps(340)...)
		h := newHarness(t, steps, nil)

		h.run(t)

		timeouts := collectTimeouts(h.machine)
		require.Len(t, timeouts, 1)
		assert.False(t, timeouts[0].WasConversation)
		assert.Empty(t, collectUtterances(h.machine))
		assert.Equal(t, StateIdle, h.machine.State())
	})

	t.Run("vad errors count as silence", func(t *testing.T) {
		steps := frames(wakeMarker, 1)
		steps = append(steps, frames(speechMarker, 100)...)
		h := newHarness(t, steps, nil)
		h.vad.failAll = true

		h.run(t)

		// Every frame registered as silence, so the too-short capture was
		// dropped without an event.
		assert.Empty(t, collectUtterances(h.machine))
	})
}

func TestCapture_Mute(t *testing.T) {
	t.Run("wake match while muted does not fire before unmute", func(t *testing.T) {
		var h *harness
		steps := []step{{frame: silence(), before: func() { h.machine.Mute() }}}
		steps = append(steps, frames(wakeMarker, 1)...)
		h = newHarness(t, steps, nil)

		h.run(t)

		// Detector was still fed, but no transition happened yet.
		assert.Equal(t, 2, h.wake.calls)
		select {
		case <-h.machine.WakeEvents():
			t.Fatal("no wake event expected while muted")
		default:
		}
		assert.Equal(t, StateIdle, h.machine.State())
	})

	t.Run("wake match while muted is latched and fires on unmute", func(t *testing.T) {
		var h *harness
		steps := []step{{frame: silence(), before: func() { h.machine.Mute() }}}
		steps = append(steps, frames(wakeMarker, 1)...)
		steps = append(steps, step{frame: silence(), before: func() { h.machine.Unmute() }})
		steps = append(steps, silenceSteps(1)...) // unmute applies here
		h = newHarness(t, steps, nil)

		h.run(t)

		select {
		case <-h.machine.WakeEvents():
		default:
			t.Fatal("expected the latched wake event after unmute")
		}
		assert.Equal(t, StateListening, h.machine.State())
	})

	t.Run("latched wake is discarded when no longer idle", func(t *testing.T) {
		var h *harness
		steps := []step{{frame: silence(), before: func() { h.machine.Mute() }}}
		steps = append(steps, frames(wakeMarker, 1)...)
		steps = append(steps, step{frame: silence(), before: func() { h.machine.ResumeConversation() }})
		steps = append(steps, step{frame: silence(), before: func() { h.machine.Unmute() }})
		steps = append(steps, silenceSteps(1)...) // unmute applies here
		h = newHarness(t, steps, nil)

		h.run(t)

		select {
		case <-h.machine.WakeEvents():
			t.Fatal("latched wake must not fire once conversation mode took over")
		default:
		}
		assert.Equal(t, StateListening, h.machine.State())
		assert.True(t, h.machine.InConversation())
	})

	t.Run("mute freezes counters and the deadline while listening", func(t *testing.T) {
		var h *harness
		steps := frames(wakeMarker, 1)
		steps = append(steps, frames(speechMarker, 10)...)
		steps = append(steps, step{frame: silence(), before: func() { h.machine.Mute() }})
		// 50 muted silence frames would otherwise end the utterance.
		steps = append(steps, silenceSteps(50)...)
		steps = append(steps, step{frame: silence(), before: func() { h.machine.Unmute() }})
		steps = append(steps, frames(speechMarker, 60)...)
		steps = append(steps, silenceSteps(44)...)
		h = newHarness(t, steps, nil)

		h.run(t)

		// 10 + 60 speech frames crossed the 66-frame minimum only because the
		// muted stretch did not reset anything.
		events := collectUtterances(h.machine)
		require.Len(t, events, 1)
	})
}

func TestCapture_ConversationMode(t *testing.T) {
	t.Run("resume-conversation captures follow-ups and stays listening", func(t *testing.T) {
		var h *harness
		steps := []step{{frame: silence(), before: func() { h.machine.ResumeConversation() }}}
		steps = append(steps, silenceSteps(1)...) // instruction applies here
		steps = append(steps, frames(speechMarker, 70)...)
		steps = append(steps, silenceSteps(44)...)
		h = newHarness(t, steps, nil)

		h.run(t)

		events := collectUtterances(h.machine)
		require.Len(t, events, 1)
		assert.True(t, events[0].Conversation)

		// No wake word needed, and the machine keeps listening.
		assert.Equal(t, StateListening, h.machine.State())
		assert.True(t, h.machine.InConversation())
	})

	t.Run("short follow-up is dropped but keeps the conversation open", func(t *testing.T) {
		var h *harness
		steps := []step{{frame: silence(), before: func() { h.machine.ResumeConversation() }}}
		steps = append(steps, silenceSteps(1)...)
		steps = append(steps, frames(speechMarker, 10)...)
		steps = append(steps, silenceSteps(44)...)
		h = newHarness(t, steps, nil)

		h.run(t)

		assert.Empty(t, collectUtterances(h.machine))
		assert.Equal(t, StateListening, h.machine.State())
		assert.True(t, h.machine.InConversation())
	})

	t.Run("conversation timeout clears the flag and goes idle", func(t *testing.T) {
		var h *harness
		steps := []step{{frame: silence(), before: func() { h.machine.ResumeConversation() }}}
		steps = append(steps, silenceSteps(110)...) // conversation window is 100 frames
		h = newHarness(t, steps, nil)

		h.run(t)

		timeouts := collectTimeouts(h.machine)
		require.Len(t, timeouts, 1)
		assert.True(t, timeouts[0].WasConversation)
		assert.Equal(t, StateIdle, h.machine.State())
		assert.False(t, h.machine.InConversation())
	})

	t.Run("resume-idle clears the conversation flag", func(t *testing.T) {
		var h *harness
		steps := []step{{frame: silence(), before: func() { h.machine.ResumeConversation() }}}
		steps = append(steps, silenceSteps(1)...)
		steps = append(steps, step{frame: silence(), before: func() { h.machine.ResumeIdle() }})
		steps = append(steps, silenceSteps(1)...)
		h = newHarness(t, steps, nil)

		h.run(t)

		assert.Equal(t, StateIdle, h.machine.State())
		assert.False(t, h.machine.InConversation())
	})
}

func TestCapture_FrameReconciliation(t *testing.T) {
	t.Run("wake engine with a longer frame sees every sample exactly once", func(t *testing.T) {
		// 512-sample engine over 480-sample native reads: 15 native frames
		// (7200 samples) assemble into 14 wake frames (7168 samples).
		steps := make([]step, 15)
		var sent []int16
		for i := range steps {
			frame := make([]int16, testFrameSamples)
			for j := range frame {
				frame[j] = int16(i*testFrameSamples + j)
			}
			steps[i] = step{frame: frame}
			sent = append(sent, frame...)
		}

		h := newHarness(t, steps, func(cfg *Config) {
			cfg.Wake.(*fakeWake).frameLen = 512
		})

		h.run(t)

		assert.Equal(t, 14, h.wake.calls)
		assert.Equal(t, sent[:14*512], h.wake.received)
	})
}

func TestCapture_Idempotence(t *testing.T) {
	t.Run("replaying a frame sequence yields an identical event sequence", func(t *testing.T) {
		script := func() []step {
			steps := frames(wakeMarker, 1)
			steps = append(steps, frames(speechMarker, 84)...)
			steps = append(steps, silenceSteps(44)...)
			steps = append(steps, frames(wakeMarker, 1)...)
			steps = append(steps, silenceSteps(340)...)
			return steps
		}

		first := newHarness(t, script(), nil)
		first.run(t)

		second := newHarness(t, script(), nil)
		second.run(t)

		firstUtterances := collectUtterances(first.machine)
		secondUtterances := collectUtterances(second.machine)
		require.Equal(t, len(firstUtterances), len(secondUtterances))
		for i := range firstUtterances {
			assert.Equal(t, firstUtterances[i].Duration, secondUtterances[i].Duration)
			assert.Equal(t, firstUtterances[i].WAV, secondUtterances[i].WAV)
		}

		assert.Equal(t, collectTimeouts(first.machine), collectTimeouts(second.machine))
	})
}

func TestNew_Validation(t *testing.T) {
	t.Run("nil config is an error", func(t *testing.T) {
		_, err := New(nil)
		assert.Error(t, err)
	})

	t.Run("missing collaborators are errors", func(t *testing.T) {
		_, err := New(&Config{})
		assert.Error(t, err)
	})
}
