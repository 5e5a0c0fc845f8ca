// Package convo tracks one screening conversation: a frozen question list,
// a cursor, and the recorded answers. It is pure state — no I/O — so the
// call orchestrator can drive it from its own goroutine.
package convo

import (
	"log/slog"

	"github.com/carepulse/callgate/pkg/clinical/answers"
	"github.com/carepulse/callgate/pkg/clinical/catalog"
)

// Answer is one recorded response, kept in question order.
type Answer struct {
	QuestionID string
	Domain     string
	Shape      catalog.Shape
	Raw        string
	Structured answers.Structured
	Escalated  bool
}

// Session walks the question list for one protocol. Not safe for concurrent
// use; the orchestrator serializes access.
type Session struct {
	Protocol string

	questions []catalog.Question
	index     int
	recorded  []Answer
	byID      map[string]int
}

// New resolves the protocol (falling back to the default catalogue when the
// name is unknown, which is a configuration gap worth logging) and freezes
// the question list.
func New(protocolID string, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	if !catalog.Known(protocolID) {
		log.Warn("unknown protocol, using default catalogue",
			"protocol", protocolID, "fallback", catalog.DefaultProtocol)
	}
	normalized := catalog.Normalize(protocolID)
	return &Session{
		Protocol:  normalized,
		questions: catalog.Questions(normalized),
		byID:      make(map[string]int),
	}
}

// Current returns the question under the cursor, or false when the list is
// exhausted.
func (s *Session) Current() (catalog.Question, bool) {
	if s.index < len(s.questions) {
		return s.questions[s.index], true
	}
	return catalog.Question{}, false
}

// Advance moves the cursor and returns the new current question.
func (s *Session) Advance() (catalog.Question, bool) {
	s.index++
	return s.Current()
}

// Remaining reports how many questions are left including the current one.
func (s *Session) Remaining() int {
	if s.index >= len(s.questions) {
		return 0
	}
	return len(s.questions) - s.index
}

// Record stores the structured answer for the current question, applying the
// escalation rule. Adherence questions escalate on a negative answer; other
// escalation-capable binaries on an affirmative; trend questions on "worse";
// choice questions on the severe option. Re-recording overwrites.
func (s *Session) Record(transcript string, structured answers.Structured) (Answer, bool) {
	q, ok := s.Current()
	if !ok {
		return Answer{}, false
	}
	a := Answer{
		QuestionID: q.ID,
		Domain:     q.Domain,
		Shape:      q.Shape,
		Raw:        transcript,
		Structured: structured,
		Escalated:  escalates(q, structured),
	}
	if i, seen := s.byID[q.ID]; seen {
		s.recorded[i] = a
	} else {
		s.byID[q.ID] = len(s.recorded)
		s.recorded = append(s.recorded, a)
	}
	return a, true
}

func escalates(q catalog.Question, st answers.Structured) bool {
	if !q.Escalation {
		return false
	}
	if q.Adherence {
		return st.Answer == answers.No
	}
	if st.Present {
		return true
	}
	if st.Trend == answers.TrendWorse {
		return true
	}
	if q.Severe != "" && st.Answer == q.Severe {
		return true
	}
	return false
}

// Answers returns the recorded answers in question order.
func (s *Session) Answers() []Answer {
	out := make([]Answer, len(s.recorded))
	copy(out, s.recorded)
	return out
}

// AnyEscalation reports whether any recorded answer escalated.
func (s *Session) AnyEscalation() bool {
	for _, a := range s.recorded {
		if a.Escalated {
			return true
		}
	}
	return false
}

// Payload aggregates the recorded answers into the fixed signal groups that
// feed risk scoring. MedAdherence defaults to full adherence when no
// adherence question was answered.
type Payload struct {
	ChestPainSeverity float64
	BreathShortness   bool
	MedAdherence      float64
	RedFlag           bool
}

var chestPainGroup = map[string]bool{
	"chest_pain":            true,
	"exertional_chest_pain": true,
	"pain_radiation":        true,
}

var dyspneaGroup = map[string]bool{
	"worsening_dyspnea": true,
	"breathing_trend":   true,
}

// FeaturePayload folds the answers into a Payload. Within each group a later
// answer overwrites an earlier one.
func (s *Session) FeaturePayload() Payload {
	p := Payload{MedAdherence: 1.0}
	for _, a := range s.recorded {
		switch {
		case chestPainGroup[a.QuestionID]:
			if a.Structured.Present {
				p.ChestPainSeverity = 1.0
			} else {
				p.ChestPainSeverity = 0.0
			}
		case dyspneaGroup[a.QuestionID]:
			p.BreathShortness = a.Structured.Present || a.Structured.Trend == answers.TrendWorse
		}
		if q, ok := catalog.Lookup(a.QuestionID); ok && q.Adherence {
			if a.Structured.Present {
				p.MedAdherence = 1.0
			} else {
				p.MedAdherence = 0.3
			}
		}
		if a.Escalated {
			p.RedFlag = true
		}
	}
	return p
}
