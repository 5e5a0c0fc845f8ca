package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carepulse/callgate/pkg/gateway/call"
	"github.com/carepulse/callgate/pkg/gateway/config"
	"github.com/carepulse/callgate/pkg/voice/tts"
)

func validTestConfig() config.Config {
	return config.Config{
		Addr:                ":0",
		InactivityTimeout:   60 * time.Second,
		RepeatAfter:         22 * time.Second,
		FrameBytes:          160,
		FrameInterval:       20 * time.Millisecond,
		AssistBackend:       config.AssistGroq,
		ShutdownGracePeriod: 30 * time.Second,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rr.Code)
	}
	if rr.Body.String() != "ok\n" {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestReadyHandler_ValidConfig(t *testing.T) {
	h := ReadyHandler{Config: validTestConfig()}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("expected ok=true, body=%q", rr.Body.String())
	}
}

func TestReadyHandler_BadRepeatPolicy_NotReady(t *testing.T) {
	cfg := validTestConfig()
	cfg.RepeatAfter = cfg.InactivityTimeout
	h := ReadyHandler{Config: cfg}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ok, _ := resp["ok"].(bool); ok {
		t.Fatal("expected ok=false")
	}
}

func TestStatusHandler_MissedStatusesOnly(t *testing.T) {
	tests := []struct {
		callStatus string
		want       string
	}{
		{"busy", "received"},
		{"no-answer", "received"},
		{"failed", "received"},
		{"canceled", "received"},
		{"completed", "ignored"},
		{"in-progress", "ignored"},
	}
	for _, tt := range tests {
		t.Run(tt.callStatus, func(t *testing.T) {
			form := url.Values{"CallSid": {"CA1"}, "CallStatus": {tt.callStatus}}
			req := httptest.NewRequest(http.MethodPost, "/telephony/status", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rr := httptest.NewRecorder()

			StatusHandler{Logger: discardLogger()}.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("status=%d, want 200", rr.Code)
			}
			var resp map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp["status"] != tt.want {
				t.Fatalf("status=%q, want %q", resp["status"], tt.want)
			}
		})
	}
}

func TestStatusHandler_MissingCallSIDIgnored(t *testing.T) {
	form := url.Values{"CallStatus": {"busy"}}
	req := httptest.NewRequest(http.MethodPost, "/telephony/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()

	StatusHandler{Logger: discardLogger()}.ServeHTTP(rr, req)

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ignored" {
		t.Fatalf("status=%q, want ignored", resp["status"])
	}
}

func TestStatusHandler_RejectsGet(t *testing.T) {
	rr := httptest.NewRecorder()
	StatusHandler{Logger: discardLogger()}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/telephony/status", nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want 405", rr.Code)
	}
}

func TestCallContextFromQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/telephony/media?call_id=CA7&protocol=hf&patient_id=42&patient_name=Pat", nil)

	got := callContextFromQuery(req)

	if got.CallID != "CA7" {
		t.Fatalf("call id=%q, want CA7", got.CallID)
	}
	if got.Protocol != "HEART_FAILURE" {
		t.Fatalf("protocol=%q, want HEART_FAILURE", got.Protocol)
	}
	if got.PatientID == nil || *got.PatientID != 42 {
		t.Fatalf("patient id=%v, want 42", got.PatientID)
	}
	if got.PatientName != "Pat" {
		t.Fatalf("patient name=%q, want Pat", got.PatientName)
	}
}

func TestCallContextFromQuery_Defaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/telephony/media?patient_id=abc", nil)

	got := callContextFromQuery(req)

	if got.CallID != "unknown" {
		t.Fatalf("call id=%q, want unknown", got.CallID)
	}
	if got.Protocol != "GENERAL_MONITORING" {
		t.Fatalf("protocol=%q, want the default", got.Protocol)
	}
	if got.PatientID != nil {
		t.Fatalf("patient id=%v, want nil for a non-numeric parameter", got.PatientID)
	}
}

func TestMediaHandler_RejectsPost(t *testing.T) {
	h := MediaHandler{Logger: discardLogger(), Calls: call.NewTracker()}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/telephony/media", nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want 405", rr.Code)
	}
}

func TestMediaHandler_RejectsWhileDraining(t *testing.T) {
	h := MediaHandler{
		Logger:   discardLogger(),
		Calls:    call.NewTracker(),
		Draining: func() bool { return true },
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/telephony/media", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rr.Code)
	}
}

func TestMediaHandler_UpgradeAndStop(t *testing.T) {
	tracker := call.NewTracker()
	h := MediaHandler{
		Config:   validTestConfig(),
		Logger:   discardLogger(),
		Calls:    tracker,
		TTSCache: tts.NewCache(),
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/telephony/media?call_id=CA9&protocol=POST_MI"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	stop, _ := json.Marshal(map[string]any{"event": "stop"})
	if err := conn.WriteMessage(websocket.TextMessage, stop); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	// The session finalizes on stop and the handler closes the socket.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for tracker.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("tracker count=%d, want 0 after session end", tracker.Count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
