package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/carepulse/callgate/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config config.Config
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		VoiceEnabled   bool     `json:"voice_enabled"`
		AssistBackend  string   `json:"assist_backend"`
		CarrierEnabled bool     `json:"carrier_enabled"`
		DBConfigured   bool     `json:"db_configured"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AssistBackend {
	case config.AssistGroq, config.AssistGemini:
	default:
		issues = append(issues, "invalid assist backend")
	}
	if h.Config.InactivityTimeout <= 0 {
		issues = append(issues, "inactivity timeout must be > 0")
	}
	if h.Config.RepeatAfter <= 0 || h.Config.RepeatAfter >= h.Config.InactivityTimeout {
		issues = append(issues, "repeat-after must be > 0 and < inactivity timeout")
	}
	if h.Config.FrameBytes <= 0 || h.Config.FrameInterval <= 0 {
		issues = append(issues, "audio frame pacing must be > 0")
	}
	if h.Config.ShutdownGracePeriod <= 0 {
		issues = append(issues, "shutdown grace period must be > 0")
	}

	resp := readyResp{
		OK:             len(issues) == 0,
		VoiceEnabled:   h.Config.DeepgramAPIKey != "",
		AssistBackend:  string(h.Config.AssistBackend),
		CarrierEnabled: h.Config.CarrierAccountSID != "" && h.Config.CarrierAuthToken != "",
		DBConfigured:   h.Config.DatabaseURL != "",
		Issues:         issues,
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.OK {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
