package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"CALLGATE_ADDR",
	"CALLGATE_INACTIVITY_TIMEOUT",
	"CALLGATE_REPEAT_AFTER",
	"CALLGATE_MAX_REPEATS",
	"CALLGATE_CLARIFY_MAX",
	"CALLGATE_ECHO_SUPPRESS_WINDOW",
	"CALLGATE_POST_SPEECH_GRACE",
	"CALLGATE_RECENT_TRANSCRIPT_GRACE",
	"CALLGATE_SPEECH_OVERLAP_WAIT",
	"CALLGATE_START_DELAY",
	"CALLGATE_FRAME_BYTES",
	"CALLGATE_FRAME_INTERVAL",
	"CALLGATE_TTS_VOICE",
	"CALLGATE_ASSIST_BACKEND",
	"CALLGATE_ASSIST_TIMEOUT",
	"CALLGATE_CARRIER_BASE_URL",
	"CALLGATE_MIGRATE_ON_START",
	"CALLGATE_READ_HEADER_TIMEOUT",
	"CALLGATE_WS_WRITE_TIMEOUT",
	"CALLGATE_SHUTDOWN_GRACE_PERIOD",
	"DEEPGRAM_API_KEY",
	"GROQ_API_KEY",
	"GROQ_MODEL",
	"GROQ_BASE_URL",
	"GEMINI_API_KEY",
	"GEMINI_MODEL",
	"TWILIO_ACCOUNT_SID",
	"TWILIO_AUTH_TOKEN",
	"DATABASE_URL",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearGatewayEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.InactivityTimeout != 60*time.Second {
		t.Fatalf("InactivityTimeout = %v, want 60s", cfg.InactivityTimeout)
	}
	if cfg.RepeatAfter != 22*time.Second {
		t.Fatalf("RepeatAfter = %v, want 22s", cfg.RepeatAfter)
	}
	if cfg.MaxRepeats != 2 {
		t.Fatalf("MaxRepeats = %d, want 2", cfg.MaxRepeats)
	}
	if cfg.ClarifyMax != 1 {
		t.Fatalf("ClarifyMax = %d, want 1", cfg.ClarifyMax)
	}
	if cfg.EchoSuppressWindow != 200*time.Millisecond {
		t.Fatalf("EchoSuppressWindow = %v, want 200ms", cfg.EchoSuppressWindow)
	}
	if cfg.PostSpeechGrace != 2*time.Second {
		t.Fatalf("PostSpeechGrace = %v, want 2s", cfg.PostSpeechGrace)
	}
	if cfg.RecentTranscriptGrace != 8*time.Second {
		t.Fatalf("RecentTranscriptGrace = %v, want 8s", cfg.RecentTranscriptGrace)
	}
	if cfg.SpeechOverlapWait != 1200*time.Millisecond {
		t.Fatalf("SpeechOverlapWait = %v, want 1.2s", cfg.SpeechOverlapWait)
	}
	if cfg.FrameBytes != 160 {
		t.Fatalf("FrameBytes = %d, want 160", cfg.FrameBytes)
	}
	if cfg.FrameInterval != 20*time.Millisecond {
		t.Fatalf("FrameInterval = %v, want 20ms", cfg.FrameInterval)
	}
	if cfg.AssistBackend != AssistGroq {
		t.Fatalf("AssistBackend = %q, want groq", cfg.AssistBackend)
	}
	if cfg.AssistTimeout != 12*time.Second {
		t.Fatalf("AssistTimeout = %v, want 12s", cfg.AssistTimeout)
	}
	if cfg.TTSVoice != "aura-asteria-en" {
		t.Fatalf("TTSVoice = %q", cfg.TTSVoice)
	}
	if !cfg.MigrateOnStart {
		t.Fatal("MigrateOnStart = false, want true")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("CALLGATE_ADDR", ":9999")
	t.Setenv("CALLGATE_INACTIVITY_TIMEOUT", "90s")
	t.Setenv("CALLGATE_REPEAT_AFTER", "15s")
	t.Setenv("CALLGATE_MAX_REPEATS", "3")
	t.Setenv("CALLGATE_ASSIST_BACKEND", "gemini")
	t.Setenv("CALLGATE_MIGRATE_ON_START", "false")
	t.Setenv("DEEPGRAM_API_KEY", "dg-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.InactivityTimeout != 90*time.Second || cfg.RepeatAfter != 15*time.Second {
		t.Fatalf("timeouts = %v/%v", cfg.InactivityTimeout, cfg.RepeatAfter)
	}
	if cfg.MaxRepeats != 3 {
		t.Fatalf("MaxRepeats = %d", cfg.MaxRepeats)
	}
	if cfg.AssistBackend != AssistGemini {
		t.Fatalf("AssistBackend = %q", cfg.AssistBackend)
	}
	if cfg.MigrateOnStart {
		t.Fatal("MigrateOnStart = true, want false")
	}
	if cfg.DeepgramAPIKey != "dg-key" {
		t.Fatalf("DeepgramAPIKey = %q", cfg.DeepgramAPIKey)
	}
}

func TestLoadFromEnvInvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
		want  string
	}{
		{"CALLGATE_ASSIST_BACKEND", "cohere", "CALLGATE_ASSIST_BACKEND"},
		{"CALLGATE_INACTIVITY_TIMEOUT", "-1s", "CALLGATE_INACTIVITY_TIMEOUT"},
		{"CALLGATE_REPEAT_AFTER", "61s", "CALLGATE_REPEAT_AFTER"},
		{"CALLGATE_MAX_REPEATS", "-1", "CALLGATE_MAX_REPEATS"},
		{"CALLGATE_FRAME_BYTES", "0", "CALLGATE_FRAME_BYTES"},
		{"CALLGATE_FRAME_INTERVAL", "-20ms", "CALLGATE_FRAME_INTERVAL"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearGatewayEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("LoadFromEnv() accepted %s=%s", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}

func TestLoadFromEnvBadDurationFallsBackToDefault(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("CALLGATE_REPEAT_AFTER", "soon")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.RepeatAfter != 22*time.Second {
		t.Fatalf("RepeatAfter = %v, want default 22s", cfg.RepeatAfter)
	}
}
