package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Audio capture is fixed at 16 kHz mono 16-bit with 30 ms native frames; the
// VAD and the ASR services both require this rate. Playback is 44.1 kHz mono
// 16-bit, which is what the TTS service produces.
const (
	MicSampleRate   = 16000
	MicChannels     = 1
	MicFrameMs      = 30
	MicFrameSamples = MicSampleRate * MicFrameMs / 1000

	SpkSampleRate = 44100
	SpkChannels   = 1
)

type Config struct {
	// Remote inference services.
	ASRBaseURL string
	ASRTimeout time.Duration
	ASREngine  string // "http" or "whisper"

	WhisperModelPath string

	TTSBaseURL    string
	TTSVoice      string
	TTSTimeout    time.Duration
	TTSVolumeGain float64

	LLMBaseURL      string
	LLMAPIKey       string
	LLMModel        string
	LLMMaxTokens    int
	LLMSystemPrompt string
	LLMTimeout      time.Duration

	// Wake word.
	WakeEngine          string // "porcupine" or "spotter"
	PorcupineAccessKey  string
	WakeWordModelPath   string
	WakeWordSensitivity float32
	WakePhrase          string
	WakeListenTimeout   time.Duration
	ConversationTimeout time.Duration
	WakeWordAckPhrase   string
	GoodbyePhrase       string

	// Voice activity detection.
	VADEngine         string // "webrtc" or "flux"
	VADAggressiveness int
	VADSilence        time.Duration
	VADMinSpeech      time.Duration
	PrerollFrames     int

	// Devices and playback policy.
	MicDeviceIndex     int
	SpkDeviceIndex     int
	MuteDuringPlayback bool
	SpeakErrorPhrase   bool
	ShutdownGrace      time.Duration

	// Host integration.
	EventsListenAddr string
	UtteranceDumpDir string

	LogLevel string
}

// Load reads configuration from environment variables, applying the defaults
// the services were deployed with. The caller is expected to have loaded any
// .env file beforehand.
func Load() (*Config, error) {
	cfg := &Config{
		ASRBaseURL: getStr("ASR_BASE_URL", "http://localhost:8005"),
		ASRTimeout: getSec("ASR_TIMEOUT", 30),
		ASREngine:  getStr("ASR_ENGINE", "http"),

		WhisperModelPath: getStr("WHISPER_MODEL_PATH", ""),

		TTSBaseURL:    getStr("TTS_BASE_URL", "http://localhost:8006"),
		TTSVoice:      getStr("TTS_VOICE", "default"),
		TTSTimeout:    getSec("TTS_TIMEOUT", 60),
		TTSVolumeGain: getFloat("TTS_VOLUME_GAIN", 1.0),

		LLMBaseURL:   getStr("LLM_BASE_URL", "http://localhost:11434/v1"),
		LLMAPIKey:    getStr("LLM_API_KEY", "nokey"),
		LLMModel:     getStr("LLM_MODEL", "llama3"),
		LLMMaxTokens: getInt("LLM_MAX_TOKENS", 150),
		LLMSystemPrompt: getStr("LLM_SYSTEM_PROMPT",
			"You are a helpful voice assistant. Your responses will be spoken aloud via text-to-speech. "+
				"Keep answers to 1-3 short sentences. No bullet points, no lists, no markdown, no emojis."),
		LLMTimeout: getSec("LLM_TIMEOUT", 60),

		WakeEngine:          getStr("WAKE_ENGINE", "porcupine"),
		PorcupineAccessKey:  getStr("PORCUPINE_ACCESS_KEY", ""),
		WakeWordModelPath:   getStr("WAKE_WORD_MODEL_PATH", ""),
		WakeWordSensitivity: float32(getFloat("WAKE_WORD_SENSITIVITY", 0.5)),
		WakePhrase:          getStr("WAKE_PHRASE", "hey assistant"),
		WakeListenTimeout:   getMs("WAKE_LISTEN_TIMEOUT_MS", 10000),
		ConversationTimeout: getMs("CONVERSATION_TIMEOUT_MS", 30000),
		WakeWordAckPhrase:   getStr("WAKE_WORD_ACK_PHRASE", "Yes sir"),
		GoodbyePhrase:       getStr("GOODBYE_PHRASE", "Goodbye for now"),

		VADEngine:         getStr("VAD_ENGINE", "webrtc"),
		VADAggressiveness: getInt("VAD_AGGRESSIVENESS", 3),
		VADSilence:        getMs("VAD_SILENCE_MS", 1200),
		VADMinSpeech:      getMs("VAD_MIN_SPEECH_MS", 2000),
		PrerollFrames:     getInt("PREROLL_FRAMES", 10),

		MicDeviceIndex:     getInt("MIC_DEVICE_INDEX", -1),
		SpkDeviceIndex:     getInt("SPK_DEVICE_INDEX", -1),
		MuteDuringPlayback: getBool("MIC_MUTE_DURING_PLAYBACK", true),
		SpeakErrorPhrase:   getBool("SPEAK_ERROR_PHRASE", false),
		ShutdownGrace:      getSec("SHUTDOWN_GRACE", 30),

		EventsListenAddr: getStr("EVENTS_LISTEN_ADDR", ""),
		UtteranceDumpDir: getStr("UTTERANCE_DUMP_DIR", ""),

		LogLevel: getStr("LOG_LEVEL", "info"),
	}

	if cfg.VADAggressiveness < 0 || cfg.VADAggressiveness > 3 {
		return nil, fmt.Errorf("VAD_AGGRESSIVENESS must be 0-3, got %d", cfg.VADAggressiveness)
	}
	if cfg.WakeEngine == "porcupine" && cfg.PorcupineAccessKey == "" {
		return nil, fmt.Errorf("PORCUPINE_ACCESS_KEY is not set; register at https://console.picovoice.ai/ or set WAKE_ENGINE=spotter")
	}
	if cfg.WakeEngine == "spotter" && cfg.WhisperModelPath == "" {
		return nil, fmt.Errorf("WAKE_ENGINE=spotter requires WHISPER_MODEL_PATH")
	}
	if cfg.ASREngine == "whisper" && cfg.WhisperModelPath == "" {
		return nil, fmt.Errorf("ASR_ENGINE=whisper requires WHISPER_MODEL_PATH")
	}

	return cfg, nil
}

func getStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getSec(key string, def int) time.Duration {
	return time.Duration(getInt(key, def)) * time.Second
}

func getMs(key string, def int) time.Duration {
	return time.Duration(getInt(key, def)) * time.Millisecond
}
