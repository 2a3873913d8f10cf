package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"voice-assistant-daemon/audio"
	"voice-assistant-daemon/clients/asr"
	"voice-assistant-daemon/clients/llm"
	"voice-assistant-daemon/clients/tts"
)

// Outcome classifies a pipeline run. Every skip outcome gets identical
// downstream handling: no playback, busy token released, listening resumed.
type Outcome int

const (
	OutcomeReply Outcome = iota
	OutcomeSkipEmptyTranscription
	OutcomeSkipEmptyReply
	OutcomeSkipEmptyAudio
	OutcomeSkipStageFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReply:
		return "reply"
	case OutcomeSkipEmptyTranscription:
		return "skip: empty transcription"
	case OutcomeSkipEmptyReply:
		return "skip: empty reply"
	case OutcomeSkipEmptyAudio:
		return "skip: empty audio"
	case OutcomeSkipStageFailure:
		return "skip: stage failure"
	}
	return "unknown"
}

// Result is the transient product of one utterance. Audio is non-nil only
// for OutcomeReply; Cancel must be called once the caller is done with it.
type Result struct {
	Outcome    Outcome
	Stage      string // stage that aborted a skipped run
	Transcript string
	Reply      string
	Audio      <-chan audio.Chunk
	Cancel     func()
}

type Executor struct {
	asrClient asr.Interface
	llmClient llm.Interface
	ttsClient tts.Interface

	asrTimeout time.Duration
	llmTimeout time.Duration
	ttsTimeout time.Duration

	logger zerolog.Logger
}

type Config struct {
	ASR asr.Interface
	LLM llm.Interface
	TTS tts.Interface

	ASRTimeout time.Duration
	LLMTimeout time.Duration
	TTSTimeout time.Duration

	Logger zerolog.Logger
}

func New(cfg *Config) (*Executor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.ASR == nil || cfg.LLM == nil || cfg.TTS == nil {
		return nil, fmt.Errorf("asr, llm and tts clients are all required")
	}

	return &Executor{
		asrClient:  cfg.ASR,
		llmClient:  cfg.LLM,
		ttsClient:  cfg.TTS,
		asrTimeout: cfg.ASRTimeout,
		llmTimeout: cfg.LLMTimeout,
		ttsTimeout: cfg.TTSTimeout,
		logger:     cfg.Logger,
	}, nil
}

// Run drives ASR → LLM → TTS for one utterance. Failures never propagate:
// every branch comes back as a Result the orchestrator handles uniformly.
func (e *Executor) Run(ctx context.Context, wavBytes []byte) Result {
	skip := func(outcome Outcome, stage string) Result {
		return Result{Outcome: outcome, Stage: stage, Cancel: func() {}}
	}

	// Stage 1: transcription.
	e.logger.Info().Int("bytes", len(wavBytes)).Msg("asr: transcribing")
	started := time.Now()

	asrCtx, cancelASR := context.WithTimeout(ctx, e.asrTimeout)
	text, err := e.asrClient.Transcribe(asrCtx, wavBytes)
	cancelASR()
	if err != nil {
		e.logger.Error().Err(err).Msg("asr stage failed")
		return skip(OutcomeSkipStageFailure, "asr")
	}

	e.logger.Info().Dur("took", time.Since(started)).Msg("asr: completed")

	text = strings.TrimSpace(text)
	if text == "" {
		e.logger.Info().Msg("asr: empty result, skipping")
		return skip(OutcomeSkipEmptyTranscription, "asr")
	}
	e.logger.Info().Str("text", text).Msg("user said")

	// Stage 2: reply generation.
	e.logger.Info().Msg("llm: generating reply")
	started = time.Now()

	llmCtx, cancelLLM := context.WithTimeout(ctx, e.llmTimeout)
	reply, err := e.llmClient.Chat(llmCtx, text)
	cancelLLM()
	if err != nil {
		e.logger.Error().Err(err).Msg("llm stage failed")
		return skip(OutcomeSkipStageFailure, "llm")
	}

	e.logger.Info().Dur("took", time.Since(started)).Msg("llm: completed")

	ttsText := CleanForTTS(reply)
	if ttsText == "" {
		e.logger.Warn().Msg("llm: no reply, skipping")
		return skip(OutcomeSkipEmptyReply, "llm")
	}
	e.logger.Info().Str("reply", reply).Msg("assistant reply")

	// Stage 3: synthesis. The stream context must survive until playback
	// finishes, so its cancel travels with the result.
	ttsCtx, cancelTTS := context.WithTimeout(ctx, e.ttsTimeout)

	chunks, err := e.ttsClient.SynthesizeStream(ttsCtx, ttsText)
	if err != nil {
		cancelTTS()
		e.logger.Error().Err(err).Msg("tts stage failed")
		return skip(OutcomeSkipStageFailure, "tts")
	}

	// Classify the stream by its first chunk so an empty synthesis is a skip,
	// not a silent playback.
	select {
	case first, ok := <-chunks:
		if !ok {
			cancelTTS()
			e.logger.Warn().Msg("tts: empty audio, skipping")
			return skip(OutcomeSkipEmptyAudio, "tts")
		}
		if first.Err != nil {
			cancelTTS()
			e.logger.Error().Err(first.Err).Msg("tts stage failed")
			return skip(OutcomeSkipStageFailure, "tts")
		}

		out := make(chan audio.Chunk)
		go func() {
			defer close(out)

			if !forward(ttsCtx, out, first) {
				return
			}
			for chunk := range chunks {
				if !forward(ttsCtx, out, chunk) {
					return
				}
			}
		}()

		return Result{
			Outcome:    OutcomeReply,
			Transcript: text,
			Reply:      reply,
			Audio:      out,
			Cancel:     cancelTTS,
		}

	case <-ttsCtx.Done():
		cancelTTS()
		e.logger.Error().Err(ttsCtx.Err()).Msg("tts stage timed out")
		return skip(OutcomeSkipStageFailure, "tts")
	}
}

func forward(ctx context.Context, out chan<- audio.Chunk, chunk audio.Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
