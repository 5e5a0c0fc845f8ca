package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/carepulse/callgate/pkg/store"
)

// missedStatuses are the carrier's final statuses that mean the patient
// never picked up.
var missedStatuses = map[string]bool{
	"busy":      true,
	"no-answer": true,
	"failed":    true,
	"canceled":  true,
}

// StatusHandler receives the carrier's call status callbacks. A call that
// never connected flips its pending record to missed; everything else is
// acknowledged and ignored, since the media session owns the final status of
// answered calls.
type StatusHandler struct {
	Logger *slog.Logger
	Store  *store.Store
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := r.ParseForm(); err != nil {
		writeStatusResp(w, http.StatusBadRequest, "error")
		return
	}
	callSID := r.PostFormValue("CallSid")
	callStatus := r.PostFormValue("CallStatus")
	logger.Info("carrier status callback", "call_sid", callSID, "call_status", callStatus)

	if callSID == "" || !missedStatuses[callStatus] {
		writeStatusResp(w, http.StatusOK, "ignored")
		return
	}

	if err := h.Store.MarkMissed(r.Context(), callSID); err != nil {
		logger.Warn("mark missed failed", "call_sid", callSID, "err", err)
		writeStatusResp(w, http.StatusOK, "error")
		return
	}
	writeStatusResp(w, http.StatusOK, "received")
}

func writeStatusResp(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
