package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/gordonklaus/portaudio"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"voice-assistant-daemon/audio"
	"voice-assistant-daemon/capture"
	"voice-assistant-daemon/clients/asr"
	"voice-assistant-daemon/clients/llm"
	"voice-assistant-daemon/clients/tts"
	"voice-assistant-daemon/config"
	"voice-assistant-daemon/daemon"
	"voice-assistant-daemon/events"
	"voice-assistant-daemon/pipeline"
	"voice-assistant-daemon/vad"
	"voice-assistant-daemon/wakeword"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "voice-assistant-daemon",
		Short:         "Always-listening wake word, speech capture and reply playback daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
	root.AddCommand(devicesCmd(), versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initializing portaudio: %w", err)
	}
	defer func() { _ = portaudio.Terminate() }()

	component := func(name string) zerolog.Logger {
		return logger.With().Str("component", name).Logger()
	}

	var model whisper.Model
	if cfg.WakeEngine == "spotter" || cfg.ASREngine == "whisper" {
		model, err = whisper.New(cfg.WhisperModelPath)
		if err != nil {
			return fmt.Errorf("loading whisper model: %w", err)
		}
		defer func() { _ = model.Close() }()
	}

	wakeEngine, err := buildWakeEngine(cfg, model, component("wakeword"))
	if err != nil {
		return err
	}
	defer func() { _ = wakeEngine.Close() }()

	vadEngine, err := buildVAD(cfg)
	if err != nil {
		return err
	}

	// The capture machine owns the source and closes it when its loop exits.
	source, err := audio.NewSource(&audio.SourceConfig{
		DeviceIndex: cfg.MicDeviceIndex,
		Logger:      component("audio"),
	})
	if err != nil {
		return err
	}

	player, err := audio.NewPlayer(&audio.PlayerConfig{
		DeviceIndex: cfg.SpkDeviceIndex,
		VolumeGain:  cfg.TTSVolumeGain,
		Logger:      component("audio"),
	})
	if err != nil {
		return err
	}

	asrClient, err := buildASR(cfg, model, component("asr"))
	if err != nil {
		return err
	}

	llmClient, err := llm.NewOpenAI(&llm.OpenAIConfig{
		BaseURL:      cfg.LLMBaseURL,
		APIKey:       cfg.LLMAPIKey,
		Model:        cfg.LLMModel,
		MaxTokens:    cfg.LLMMaxTokens,
		SystemPrompt: cfg.LLMSystemPrompt,
		Logger:       component("llm"),
	})
	if err != nil {
		return err
	}

	ttsClient, err := tts.NewHTTP(&tts.HTTPConfig{
		BaseURL: cfg.TTSBaseURL,
		Voice:   cfg.TTSVoice,
		Logger:  component("tts"),
	})
	if err != nil {
		return err
	}

	exec, err := pipeline.New(&pipeline.Config{
		ASR:        asrClient,
		LLM:        llmClient,
		TTS:        ttsClient,
		ASRTimeout: cfg.ASRTimeout,
		LLMTimeout: cfg.LLMTimeout,
		TTSTimeout: cfg.TTSTimeout,
		Logger:     component("pipeline"),
	})
	if err != nil {
		return err
	}

	capt, err := capture.New(&capture.Config{
		Source:              source,
		Wake:                wakeEngine,
		VAD:                 vadEngine,
		SampleRate:          config.MicSampleRate,
		Channels:            config.MicChannels,
		FrameSamples:        config.MicFrameSamples,
		SilenceThreshold:    cfg.VADSilence,
		MinSpeech:           cfg.VADMinSpeech,
		ListenTimeout:       cfg.WakeListenTimeout,
		ConversationTimeout: cfg.ConversationTimeout,
		PrerollFrames:       cfg.PrerollFrames,
		Logger:              component("capture"),
	})
	if err != nil {
		return err
	}

	var hub events.Interface
	if cfg.EventsListenAddr != "" {
		hub, err = events.New(&events.Config{Logger: component("events")})
		if err != nil {
			return err
		}
		defer func() { _ = hub.Close() }()

		mux := http.NewServeMux()
		mux.Handle("/events", hub.Handler())
		server := &http.Server{Addr: cfg.EventsListenAddr, Handler: mux}

		go func() {
			logger.Info().Str("addr", cfg.EventsListenAddr).Msg("event feed listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("event feed server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	d, err := daemon.New(&daemon.Config{
		Capture:            capt,
		Pipeline:           exec,
		Player:             player,
		TTS:                ttsClient,
		LLM:                llmClient,
		Events:             hub,
		AckPhrase:          cfg.WakeWordAckPhrase,
		GoodbyePhrase:      cfg.GoodbyePhrase,
		MuteDuringPlayback: cfg.MuteDuringPlayback,
		SpeakErrorPhrase:   cfg.SpeakErrorPhrase,
		ShutdownGrace:      cfg.ShutdownGrace,
		UtteranceDumpDir:   cfg.UtteranceDumpDir,
		Logger:             component("daemon"),
	})
	if err != nil {
		return err
	}

	return d.Run(ctx)
}

func buildWakeEngine(cfg *config.Config, model whisper.Model, logger zerolog.Logger) (wakeword.Interface, error) {
	switch cfg.WakeEngine {
	case "porcupine":
		return wakeword.NewPorcupine(&wakeword.PorcupineConfig{
			AccessKey:   cfg.PorcupineAccessKey,
			ModelPath:   cfg.WakeWordModelPath,
			Sensitivity: cfg.WakeWordSensitivity,
			Logger:      logger,
		})
	case "spotter":
		return wakeword.NewSpotter(&wakeword.SpotterConfig{
			Model:  model,
			Phrase: cfg.WakePhrase,
			Logger: logger,
		})
	}
	return nil, fmt.Errorf("unknown WAKE_ENGINE %q", cfg.WakeEngine)
}

func buildVAD(cfg *config.Config) (vad.Interface, error) {
	switch cfg.VADEngine {
	case "webrtc":
		return vad.NewWebRTC(&vad.WebRTCConfig{
			SampleRate:     config.MicSampleRate,
			FrameSamples:   config.MicFrameSamples,
			Aggressiveness: cfg.VADAggressiveness,
		})
	case "flux":
		return vad.NewFlux(&vad.FluxConfig{
			FrameSamples: config.MicFrameSamples,
		})
	}
	return nil, fmt.Errorf("unknown VAD_ENGINE %q", cfg.VADEngine)
}

func buildASR(cfg *config.Config, model whisper.Model, logger zerolog.Logger) (asr.Interface, error) {
	switch cfg.ASREngine {
	case "http":
		return asr.NewHTTP(&asr.HTTPConfig{
			BaseURL: cfg.ASRBaseURL,
			Logger:  logger,
		})
	case "whisper":
		return asr.NewWhisper(&asr.WhisperConfig{
			Model:  model,
			Logger: logger,
		})
	}
	return nil, fmt.Errorf("unknown ASR_ENGINE %q", cfg.ASREngine)
}

func newLogger(level string) (zerolog.Logger, error) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}

	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(writer).Level(parsed).With().Timestamp().Logger(), nil
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio devices and their indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := portaudio.Initialize(); err != nil {
				return fmt.Errorf("initializing portaudio: %w", err)
			}
			defer func() { _ = portaudio.Terminate() }()

			devices, err := portaudio.Devices()
			if err != nil {
				return err
			}

			for i, dev := range devices {
				cmd.Printf("%3d  %-40s  in:%d out:%d  %.0f Hz\n",
					i, dev.Name, dev.MaxInputChannels, dev.MaxOutputChannels, dev.DefaultSampleRate)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version)
		},
	}
}
