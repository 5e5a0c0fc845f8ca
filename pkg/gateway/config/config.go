package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AssistBackend selects which LLM answers the assistive prompts.
type AssistBackend string

const (
	AssistGroq   AssistBackend = "groq"
	AssistGemini AssistBackend = "gemini"
)

type Config struct {
	Addr string

	// Turn policy for the call orchestrator.
	InactivityTimeout     time.Duration // silence that ends the call
	RepeatAfter           time.Duration // unanswered question repeat delay
	MaxRepeats            int           // repeats before skipping a question
	ClarifyMax            int           // clarify cycles per question
	EchoSuppressWindow    time.Duration // ignore transcripts right after we finish speaking
	PostSpeechGrace       time.Duration // no repeat right after speech ends
	RecentTranscriptGrace time.Duration // no repeat right after the caller spoke
	SpeechOverlapWait     time.Duration // wait for playback before dropping an overlapped transcript
	StartDelay            time.Duration // settle time before the intro

	// Outbound audio pacing.
	FrameBytes    int
	FrameInterval time.Duration

	// Voice vendors.
	DeepgramAPIKey string
	TTSVoice       string

	// Assistive LLM.
	AssistBackend AssistBackend
	AssistTimeout time.Duration
	GroqAPIKey    string
	GroqModel     string
	GroqBaseURL   string
	GeminiAPIKey  string
	GeminiModel   string

	// Carrier REST credentials.
	CarrierAccountSID string
	CarrierAuthToken  string
	CarrierBaseURL    string

	// Persistence. Empty DatabaseURL runs the gateway log-only.
	DatabaseURL    string
	MigrateOnStart bool

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	WSWriteTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("CALLGATE_ADDR", ":8080"),
		InactivityTimeout:     envDurationOr("CALLGATE_INACTIVITY_TIMEOUT", 60*time.Second),
		RepeatAfter:           envDurationOr("CALLGATE_REPEAT_AFTER", 22*time.Second),
		MaxRepeats:            envIntOr("CALLGATE_MAX_REPEATS", 2),
		ClarifyMax:            envIntOr("CALLGATE_CLARIFY_MAX", 1),
		EchoSuppressWindow:    envDurationOr("CALLGATE_ECHO_SUPPRESS_WINDOW", 200*time.Millisecond),
		PostSpeechGrace:       envDurationOr("CALLGATE_POST_SPEECH_GRACE", 2*time.Second),
		RecentTranscriptGrace: envDurationOr("CALLGATE_RECENT_TRANSCRIPT_GRACE", 8*time.Second),
		SpeechOverlapWait:     envDurationOr("CALLGATE_SPEECH_OVERLAP_WAIT", 1200*time.Millisecond),
		StartDelay:            envDurationOr("CALLGATE_START_DELAY", 500*time.Millisecond),
		FrameBytes:            envIntOr("CALLGATE_FRAME_BYTES", 160),
		FrameInterval:         envDurationOr("CALLGATE_FRAME_INTERVAL", 20*time.Millisecond),
		DeepgramAPIKey:        os.Getenv("DEEPGRAM_API_KEY"),
		TTSVoice:              envOr("CALLGATE_TTS_VOICE", "aura-asteria-en"),
		AssistBackend:         AssistBackend(envOr("CALLGATE_ASSIST_BACKEND", string(AssistGroq))),
		AssistTimeout:         envDurationOr("CALLGATE_ASSIST_TIMEOUT", 12*time.Second),
		GroqAPIKey:            os.Getenv("GROQ_API_KEY"),
		GroqModel:             envOr("GROQ_MODEL", "llama-3.1-8b-instant"),
		GroqBaseURL:           envOr("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GeminiAPIKey:          os.Getenv("GEMINI_API_KEY"),
		GeminiModel:           envOr("GEMINI_MODEL", "gemini-2.0-flash"),
		CarrierAccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		CarrierAuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		CarrierBaseURL:        envOr("CALLGATE_CARRIER_BASE_URL", "https://api.twilio.com"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		MigrateOnStart:        envBoolOr("CALLGATE_MIGRATE_ON_START", true),
		ReadHeaderTimeout:     envDurationOr("CALLGATE_READ_HEADER_TIMEOUT", 10*time.Second),
		WSWriteTimeout:        envDurationOr("CALLGATE_WS_WRITE_TIMEOUT", 5*time.Second),
		ShutdownGracePeriod:   envDurationOr("CALLGATE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AssistBackend {
	case AssistGroq, AssistGemini:
	default:
		return Config{}, fmt.Errorf("CALLGATE_ASSIST_BACKEND must be one of groq|gemini")
	}

	if cfg.InactivityTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLGATE_INACTIVITY_TIMEOUT must be > 0")
	}
	if cfg.RepeatAfter <= 0 {
		return Config{}, fmt.Errorf("CALLGATE_REPEAT_AFTER must be > 0")
	}
	if cfg.RepeatAfter >= cfg.InactivityTimeout {
		return Config{}, fmt.Errorf("CALLGATE_REPEAT_AFTER must be < CALLGATE_INACTIVITY_TIMEOUT")
	}
	if cfg.MaxRepeats < 0 {
		return Config{}, fmt.Errorf("CALLGATE_MAX_REPEATS must be >= 0")
	}
	if cfg.ClarifyMax < 0 {
		return Config{}, fmt.Errorf("CALLGATE_CLARIFY_MAX must be >= 0")
	}
	if cfg.EchoSuppressWindow < 0 {
		return Config{}, fmt.Errorf("CALLGATE_ECHO_SUPPRESS_WINDOW must be >= 0")
	}
	if cfg.PostSpeechGrace < 0 {
		return Config{}, fmt.Errorf("CALLGATE_POST_SPEECH_GRACE must be >= 0")
	}
	if cfg.RecentTranscriptGrace < 0 {
		return Config{}, fmt.Errorf("CALLGATE_RECENT_TRANSCRIPT_GRACE must be >= 0")
	}
	if cfg.SpeechOverlapWait < 0 {
		return Config{}, fmt.Errorf("CALLGATE_SPEECH_OVERLAP_WAIT must be >= 0")
	}
	if cfg.StartDelay < 0 {
		return Config{}, fmt.Errorf("CALLGATE_START_DELAY must be >= 0")
	}
	if cfg.FrameBytes <= 0 {
		return Config{}, fmt.Errorf("CALLGATE_FRAME_BYTES must be > 0")
	}
	if cfg.FrameInterval <= 0 {
		return Config{}, fmt.Errorf("CALLGATE_FRAME_INTERVAL must be > 0")
	}
	if cfg.AssistTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLGATE_ASSIST_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLGATE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLGATE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("CALLGATE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
