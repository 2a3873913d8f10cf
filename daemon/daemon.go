package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"voice-assistant-daemon/audio"
	"voice-assistant-daemon/capture"
	"voice-assistant-daemon/clients/llm"
	"voice-assistant-daemon/clients/tts"
	"voice-assistant-daemon/events"
	"voice-assistant-daemon/pipeline"
)

const (
	// Short phrases (ack, goodbye, error) are synthesized whole with a tight
	// deadline; a slow TTS service must not hold the microphone muted.
	phraseSynthTimeout = 3 * time.Second

	errorPhrase = "Sorry, something went wrong."

	ackBeepHz  = 1200
	ackBeepMs  = 100
	doneBeepHz = 660
	doneBeepMs = 150
	beepVolume = 0.4
)

type daemonImpl struct {
	capture  capture.Interface
	pipeline *pipeline.Executor
	player   audio.Sink
	tts      tts.Interface
	llm      llm.Interface
	events   events.Interface

	ackPhrase     string
	goodbyePhrase string

	muteDuringPlayback bool
	speakErrorPhrase   bool
	shutdownGrace      time.Duration
	utteranceDumpDir   string

	fs     afero.Fs
	busy   atomic.Bool
	wg     sync.WaitGroup
	logger zerolog.Logger
}

type Config struct {
	Capture  capture.Interface
	Pipeline *pipeline.Executor
	Player   audio.Sink
	TTS      tts.Interface
	LLM      llm.Interface

	// Events is optional; nil disables the feed.
	Events events.Interface

	AckPhrase     string
	GoodbyePhrase string

	MuteDuringPlayback bool
	SpeakErrorPhrase   bool
	ShutdownGrace      time.Duration
	UtteranceDumpDir   string

	// Fs backs the utterance dump directory. Nil means the OS filesystem.
	Fs afero.Fs

	Logger zerolog.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if cfg.Capture == nil || cfg.Pipeline == nil || cfg.Player == nil {
		return nil, fmt.Errorf("capture, pipeline and player are all required")
	}
	if cfg.TTS == nil || cfg.LLM == nil {
		return nil, fmt.Errorf("tts and llm clients are required")
	}

	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &daemonImpl{
		capture:            cfg.Capture,
		pipeline:           cfg.Pipeline,
		player:             cfg.Player,
		tts:                cfg.TTS,
		llm:                cfg.LLM,
		events:             cfg.Events,
		ackPhrase:          cfg.AckPhrase,
		goodbyePhrase:      cfg.GoodbyePhrase,
		muteDuringPlayback: cfg.MuteDuringPlayback,
		speakErrorPhrase:   cfg.SpeakErrorPhrase,
		shutdownGrace:      cfg.ShutdownGrace,
		utteranceDumpDir:   cfg.UtteranceDumpDir,
		fs:                 fs,
		logger:             cfg.Logger,
	}, nil
}

// Run starts the capture loop and dispatches its events until the context is
// cancelled or the loop hits a fatal device error. Exactly one voice task
// runs at a time; events arriving while one is in flight are dropped.
func (d *daemonImpl) Run(ctx context.Context) error {
	if !d.muteDuringPlayback && !echoCancelActive(ctx) {
		d.logger.Warn().Msg("mic stays open during playback and no echo cancellation module was found; the assistant may hear itself")
	}

	go func() {
		if err := d.capture.Run(); err != nil {
			d.logger.Error().Err(err).Msg("capture loop stopped")
		}
	}()

	d.logger.Info().Msg("assistant ready, waiting for wake word")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("shutting down")
			d.capture.Stop()
			<-d.capture.Done()
			d.waitForTasks()
			return nil

		case <-d.capture.Done():
			d.waitForTasks()
			return d.capture.Err()

		case <-d.capture.WakeEvents():
			d.handleWake(ctx)

		case utt := <-d.capture.Utterances():
			d.handleUtterance(ctx, utt)

		case timeout := <-d.capture.Timeouts():
			d.handleTimeout(ctx, timeout)
		}
	}
}

func (d *daemonImpl) handleWake(ctx context.Context) {
	if !d.busy.CompareAndSwap(false, true) {
		d.logger.Debug().Msg("wake event while busy, ignoring")
		return
	}

	d.logger.Info().Msg("wake word detected")
	d.publish("wake", "")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.busy.Store(false)

		d.capture.Mute()
		d.speakPhrase(ctx, d.ackPhrase)
		d.playBeep(ackBeepHz, ackBeepMs)
		d.capture.Unmute()

		// Playback ate into the listen window; start it fresh.
		d.capture.ResumeListen()
	}()
}

func (d *daemonImpl) handleUtterance(ctx context.Context, utt capture.UtteranceEvent) {
	d.dumpUtterance(utt.WAV)

	if !d.busy.CompareAndSwap(false, true) {
		d.logger.Debug().Dur("duration", utt.Duration).Msg("utterance arrived while busy, dropping")
		return
	}

	d.logger.Info().
		Dur("duration", utt.Duration).
		Bool("conversation", utt.Conversation).
		Msg("utterance captured")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.busy.Store(false)
		d.runPipeline(ctx, utt)
	}()
}

func (d *daemonImpl) runPipeline(ctx context.Context, utt capture.UtteranceEvent) {
	res := d.pipeline.Run(ctx, utt.WAV)
	defer res.Cancel()

	if res.Outcome != pipeline.OutcomeReply {
		d.logger.Info().Str("outcome", res.Outcome.String()).Str("stage", res.Stage).Msg("no reply for this utterance")

		if d.speakErrorPhrase && res.Outcome == pipeline.OutcomeSkipStageFailure {
			d.capture.Mute()
			d.speakPhrase(ctx, errorPhrase)
			d.playBeep(doneBeepHz, doneBeepMs)
			d.capture.Unmute()
		}

		// A skipped turn keeps the conversation open if one was running.
		if d.capture.InConversation() {
			d.capture.ResumeListen()
		} else {
			d.capture.ResumeIdle()
		}
		return
	}

	d.publish("transcript", res.Transcript)
	d.publish("reply", res.Reply)

	if d.muteDuringPlayback {
		d.capture.Mute()
	}

	if err := d.player.PlayStream(res.Audio); err != nil {
		d.logger.Error().Err(err).Msg("reply playback failed")
	}
	d.playBeep(doneBeepHz, doneBeepMs)

	if d.muteDuringPlayback {
		d.capture.Unmute()
	}

	d.capture.ResumeConversation()
}

func (d *daemonImpl) handleTimeout(ctx context.Context, timeout capture.TimeoutEvent) {
	if !timeout.WasConversation {
		d.logger.Info().Msg("listen window expired without speech")
		d.publish("timeout", "")
		return
	}

	d.logger.Info().Msg("conversation ended")
	d.publish("conversation_end", "")
	d.llm.Reset()

	if !d.busy.CompareAndSwap(false, true) {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.busy.Store(false)

		d.capture.Mute()
		d.speakPhrase(ctx, d.goodbyePhrase)
		d.capture.Unmute()
		d.capture.ResumeIdle()
	}()
}

// speakPhrase synthesizes and plays a short canned phrase. Failures are
// logged and swallowed; the caller's state handling must not depend on it.
func (d *daemonImpl) speakPhrase(ctx context.Context, phrase string) {
	if phrase == "" {
		return
	}

	synthCtx, cancel := context.WithTimeout(ctx, phraseSynthTimeout)
	defer cancel()

	wav, err := d.tts.Synthesize(synthCtx, phrase)
	if err != nil {
		d.logger.Warn().Err(err).Str("phrase", phrase).Msg("phrase synthesis failed")
		return
	}

	if err := d.player.Play(wav); err != nil {
		d.logger.Warn().Err(err).Msg("phrase playback failed")
	}
}

func (d *daemonImpl) playBeep(freqHz, durationMs int) {
	if err := d.player.Play(audio.BeepWAV(freqHz, durationMs, beepVolume)); err != nil {
		d.logger.Warn().Err(err).Msg("beep playback failed")
	}
}

func (d *daemonImpl) publish(eventType, text string) {
	if d.events != nil {
		d.events.Publish(eventType, text)
	}
}

func (d *daemonImpl) dumpUtterance(wav []byte) {
	if d.utteranceDumpDir == "" {
		return
	}

	name := fmt.Sprintf("utterance-%s.wav", time.Now().UTC().Format("20060102-150405.000"))
	path := filepath.Join(d.utteranceDumpDir, name)
	if err := afero.WriteFile(d.fs, path, wav, 0o644); err != nil {
		d.logger.Warn().Err(err).Str("path", path).Msg("cannot dump utterance")
	}
}

func (d *daemonImpl) waitForTasks() {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d.shutdownGrace):
		d.logger.Warn().Msg("voice task still running after shutdown grace, abandoning it")
	}
}
