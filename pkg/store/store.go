// Package store persists call outcomes in PostgreSQL. The whole layer is
// optional: every method on a nil Store is a no-op, so the gateway runs
// log-only when no database is configured.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Call log statuses.
const (
	StatusInProgress  = "in_progress"
	StatusCompleted   = "completed"
	StatusMissed      = "missed"
	StatusFailedSetup = "failed_setup"
)

// FlowEvent is one timestamped line of a call's flow log.
type FlowEvent struct {
	TS      time.Time `json:"ts"`
	Message string    `json:"message"`
}

// CallLog is one placed call.
type CallLog struct {
	ID        int64
	PatientID *int64
	CallSID   string
	Status    string
	Answered  bool
	StartedAt time.Time
	EndedAt   *time.Time
	RiskScore *float64
	RiskLevel *string
}

// Store wraps a pgx pool. A nil Store degrades to log-only operation.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// New creates a store over an existing pool.
func New(pool *pgxpool.Pool, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{pool: pool, log: log}
}

// Connect opens a pgx pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (s *Store) disabled() bool {
	return s == nil || s.pool == nil
}

// FindByCallSID looks up a call record by carrier call SID. A missing record
// is (nil, nil), not an error.
func (s *Store) FindByCallSID(ctx context.Context, callSID string) (*CallLog, error) {
	if s.disabled() {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id, patient_id, call_sid, status, answered, started_at, ended_at, risk_score, risk_level
		FROM call_logs WHERE call_sid = $1`, callSID)
	return scanCallLog(row)
}

// FindInProgressByPatient returns the most recent in-progress call for a
// patient, if any. Used to attach a media stream to a record the dialer
// already created.
func (s *Store) FindInProgressByPatient(ctx context.Context, patientID int64) (*CallLog, error) {
	if s.disabled() {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id, patient_id, call_sid, status, answered, started_at, ended_at, risk_score, risk_level
		FROM call_logs
		WHERE patient_id = $1 AND status = $2
		ORDER BY started_at DESC LIMIT 1`, patientID, StatusInProgress)
	return scanCallLog(row)
}

// CreateCallLog inserts a new in-progress record for a call SID.
func (s *Store) CreateCallLog(ctx context.Context, patientID *int64, callSID string) (*CallLog, error) {
	if s.disabled() {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO call_logs (patient_id, call_sid, status, started_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, patient_id, call_sid, status, answered, started_at, ended_at, risk_score, risk_level`,
		patientID, callSID, StatusInProgress)
	return scanCallLog(row)
}

// AttachCallSID fills in the carrier call SID on a record the dialer created
// before the SID was known. Records that already carry a SID are left alone.
func (s *Store) AttachCallSID(ctx context.Context, id int64, callSID string) error {
	if s.disabled() || callSID == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE call_logs SET call_sid = $2
		WHERE id = $1 AND (call_sid IS NULL OR call_sid = '')`, id, callSID)
	if err != nil {
		return fmt.Errorf("attach call sid: %w", err)
	}
	return nil
}

// MarkAnswered flags a call record once the first final transcript arrives.
func (s *Store) MarkAnswered(ctx context.Context, id int64) error {
	if s.disabled() {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE call_logs SET answered = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark answered: %w", err)
	}
	return nil
}

// SaveAnswer upserts one answered question; re-recording overwrites.
func (s *Store) SaveAnswer(ctx context.Context, callLogID int64, questionID, raw string, structured any, escalated bool) error {
	if s.disabled() {
		return nil
	}
	structuredJSON, err := json.Marshal(structured)
	if err != nil {
		return fmt.Errorf("marshal structured answer: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO call_answers (call_log_id, question_id, raw_transcript, structured, escalated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (call_log_id, question_id)
		DO UPDATE SET raw_transcript = EXCLUDED.raw_transcript,
		              structured = EXCLUDED.structured,
		              escalated = EXCLUDED.escalated`,
		callLogID, questionID, raw, structuredJSON, escalated)
	if err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

// FinalizeCall closes a call record with its final status, flow log, and
// risk verdict (when one was computed).
func (s *Store) FinalizeCall(ctx context.Context, id int64, status string, flow []FlowEvent, riskScore *float64, riskLevel *string) error {
	if s.disabled() {
		return nil
	}
	flowJSON, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("marshal flow log: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE call_logs
		SET status = $2, ended_at = now(), flow_log = $3,
		    risk_score = COALESCE($4, risk_score),
		    risk_level = COALESCE($5, risk_level)
		WHERE id = $1`,
		id, status, flowJSON, riskScore, riskLevel)
	if err != nil {
		return fmt.Errorf("finalize call: %w", err)
	}
	return nil
}

// SaveAssessment records a risk assessment row for a finished call.
func (s *Store) SaveAssessment(ctx context.Context, callLogID int64, patientID *int64, score float64, level string, explanation any, model string) error {
	if s.disabled() {
		return nil
	}
	explanationJSON, err := json.Marshal(explanation)
	if err != nil {
		return fmt.Errorf("marshal explanation: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO risk_assessments (call_log_id, patient_id, score, level, explanation, model)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		callLogID, patientID, score, level, explanationJSON, model)
	if err != nil {
		return fmt.Errorf("save assessment: %w", err)
	}
	return nil
}

// MarkMissed flips a still-pending record to missed after the carrier
// reports busy, no-answer, failed, or canceled.
func (s *Store) MarkMissed(ctx context.Context, callSID string) error {
	if s.disabled() {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE call_logs SET status = $2, ended_at = now()
		WHERE call_sid = $1 AND status = $3`,
		callSID, StatusMissed, StatusInProgress)
	if err != nil {
		return fmt.Errorf("mark missed: %w", err)
	}
	return nil
}

func scanCallLog(row pgx.Row) (*CallLog, error) {
	var c CallLog
	err := row.Scan(&c.ID, &c.PatientID, &c.CallSID, &c.Status, &c.Answered,
		&c.StartedAt, &c.EndedAt, &c.RiskScore, &c.RiskLevel)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan call log: %w", err)
	}
	return &c, nil
}
