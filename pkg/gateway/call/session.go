// Package call runs one follow-up call over a carrier media stream: it asks
// the protocol's questions, turns transcripts into recorded answers, and
// finalizes the call with a risk assessment.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carepulse/callgate/pkg/assist"
	"github.com/carepulse/callgate/pkg/carrier"
	"github.com/carepulse/callgate/pkg/clinical/answers"
	"github.com/carepulse/callgate/pkg/clinical/catalog"
	"github.com/carepulse/callgate/pkg/clinical/convo"
	"github.com/carepulse/callgate/pkg/risk"
	"github.com/carepulse/callgate/pkg/store"
	"github.com/carepulse/callgate/pkg/voice/stt"
	"github.com/carepulse/callgate/pkg/voice/tts"
)

const (
	Intro   = "Hello, this is a follow-up call from your care team. I will ask a few short questions about how you are feeling today."
	Goodbye = "Thank you for your time. We wish you a speedy recovery. Goodbye."

	repeatPreamble  = "I did not hear a response. Please answer the question."
	setupErrorText  = "I'm sorry, there was an error starting the call. Please try again later."
	noQuestionsText = "I'm sorry, there are no questions configured for this monitoring protocol."
)

var (
	errStopped      = errors.New("stop received during playback")
	errSocketClosed = errors.New("media socket closed")
)

// Config holds the turn-taking policy for one call. Counts of zero disable
// the corresponding retry; the zero duration fields that would deadlock a
// call fall back to their defaults.
type Config struct {
	InactivityTimeout     time.Duration
	RepeatAfter           time.Duration
	MaxRepeats            int
	ClarifyMax            int
	EchoSuppressWindow    time.Duration
	PostSpeechGrace       time.Duration
	RecentTranscriptGrace time.Duration
	SpeechOverlapWait     time.Duration
	StartDelay            time.Duration

	FrameBytes    int
	FrameInterval time.Duration
	WriteTimeout  time.Duration

	STTModel string
	Language string
}

func (c Config) withDefaults() Config {
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 60 * time.Second
	}
	if c.RepeatAfter <= 0 {
		c.RepeatAfter = 22 * time.Second
	}
	if c.FrameBytes <= 0 {
		c.FrameBytes = 160
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = 20 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Conn is the subset of *websocket.Conn the session writes and reads.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// CallContext carries the identifying signal for one call. The dialer seeds
// it from query parameters; the start event fills in the rest.
type CallContext struct {
	CallID      string
	Protocol    string
	PatientID   *int64
	PatientName string
	CallLogID   int64
	Answered    bool
}

// Dependencies wires one session. Conn is required; every collaborator
// degrades when nil.
type Dependencies struct {
	Conn     Conn
	Logger   *slog.Logger
	STT      stt.Provider
	TTS      tts.Provider
	TTSCache *tts.Cache
	Assist   assist.Client
	Store    *store.Store
	Scorer   risk.Scorer
	Hangup   func(ctx context.Context, callSID string) error
	Call     CallContext
	Config   Config
	Now      func() time.Time
}

type overlapTranscript struct {
	text string
	at   time.Time
}

// Session is the per-connection state machine. All state is owned by the
// goroutine running Run; collaborator callbacks never touch it directly.
type Session struct {
	conn    Conn
	log     *slog.Logger
	sttProv stt.Provider
	tts     tts.Provider
	cache   *tts.Cache
	assist  assist.Client
	store   *store.Store
	scorer  risk.Scorer
	hangup  func(ctx context.Context, callSID string) error
	call    CallContext
	cfg     Config
	now     func() time.Time

	events chan any
	stream stt.Stream

	convo     *convo.Session
	streamSID string

	lastSpeakEnd      time.Time
	pendingQuestionTS time.Time
	lastTranscriptTS  time.Time
	lastRepeatCheckTS time.Time
	noResponseCount   int
	mediaPackets      int
	clarifyCounts     map[string]int
	spokenQuestions   map[string]string
	overlapped        []overlapTranscript
	held              []string

	flowEvents []store.FlowEvent
	stopSeen   bool
	completed  bool
}

func New(deps Dependencies) *Session {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	assistClient := deps.Assist
	if assistClient == nil {
		assistClient = assist.Disabled{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		conn:            deps.Conn,
		log:             log,
		sttProv:         deps.STT,
		tts:             deps.TTS,
		cache:           deps.TTSCache,
		assist:          assistClient,
		store:           deps.Store,
		scorer:          deps.Scorer,
		hangup:          deps.Hangup,
		call:            deps.Call,
		cfg:             deps.Config.withDefaults(),
		now:             now,
		events:          make(chan any, 64),
		clarifyCounts:   make(map[string]int),
		spokenQuestions: make(map[string]string),
	}
}

// Run drives the call until it finalizes. It owns the connection and closes
// it on return.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		s.finalize(ctx, "socket closed", true)
		_ = s.conn.Close()
	}()

	go s.readLoop(ctx)

	inactivity := time.NewTimer(s.cfg.InactivityTimeout)
	defer inactivity.Stop()

	for {
		s.drainHeld(ctx)
		if s.stopSeen {
			s.finalize(ctx, "stream stop", true)
		}
		if s.completed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.events:
			if !ok {
				s.finalize(ctx, "socket closed", true)
				return nil
			}
			if !inactivity.Stop() {
				select {
				case <-inactivity.C:
				default:
				}
			}
			inactivity.Reset(s.cfg.InactivityTimeout)
			s.handleEvent(ctx, ev)
		case d := <-s.transcriptCh():
			s.lastTranscriptTS = s.now()
			if d.IsFinal && strings.TrimSpace(d.Text) != "" {
				s.handleTranscript(ctx, d.Text, false)
			}
		case <-inactivity.C:
			s.flow("inactivity timeout, finalizing call")
			s.finalize(ctx, "inactivity timeout", true)
			return nil
		}
	}
}

// readLoop decodes inbound frames onto the event channel. Malformed frames
// are dropped without a state change.
func (s *Session) readLoop(ctx context.Context) {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := carrier.Decode(data)
		if err != nil {
			s.log.Debug("dropping malformed media frame", "err", err)
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) transcriptCh() <-chan stt.Delta {
	if s.stream == nil {
		return nil
	}
	return s.stream.Transcripts()
}

// drainHeld processes transcripts that arrived during playback and survived
// the overlap wait. They already cleared the overlap gate, so the echo
// window does not apply.
func (s *Session) drainHeld(ctx context.Context) {
	for len(s.held) > 0 && !s.completed && !s.stopSeen {
		text := s.held[0]
		s.held = s.held[1:]
		s.handleTranscript(ctx, text, true)
	}
}

func (s *Session) handleEvent(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case carrier.Connected:
		s.flow("carrier connected")
	case carrier.Start:
		s.handleStart(ctx, ev)
	case carrier.Media:
		s.handleMedia(ctx, ev)
	case carrier.Stop:
		s.flow("stream stop received")
		s.finalize(ctx, "stream stop", true)
	case carrier.Mark:
		s.log.Debug("playback mark", "name", ev.Detail.Name)
	}
}

func (s *Session) handleStart(ctx context.Context, ev carrier.Start) {
	if ev.StreamSID == "" {
		s.flow("stream identifier missing from start event")
		s.finalize(ctx, "missing_stream_sid", false)
		return
	}
	s.streamSID = ev.StreamSID

	if p := ev.Detail.CustomParameters["protocol"]; p != "" {
		s.call.Protocol = catalog.Normalize(p)
	}
	if raw := ev.Detail.CustomParameters["patient_id"]; raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			s.call.PatientID = &id
		}
	}
	if ev.Detail.CallSID != "" && (s.call.CallID == "" || s.call.CallID == "unknown") {
		s.call.CallID = ev.Detail.CallSID
	}

	s.attachCallRecord(ctx)

	s.convo = convo.New(s.call.Protocol, s.log)
	s.flow("protocol resolved: " + s.convo.Protocol)
	s.flow(fmt.Sprintf("session ready with %d questions", s.convo.Remaining()))

	s.openSTT(ctx)

	q, ok := s.convo.Current()
	if !ok {
		_ = s.speak(ctx, noQuestionsText)
		s.finalize(ctx, "no_questions", false)
		return
	}

	// Give the carrier a moment to open the outbound track before the intro.
	s.sleep(ctx, s.cfg.StartDelay)
	s.flow("agent intro")
	if err := s.speak(ctx, Intro); err != nil {
		if errors.Is(err, errStopped) || errors.Is(err, errSocketClosed) {
			return
		}
		s.flow("intro playback failed: " + err.Error())
		_ = s.speak(ctx, setupErrorText)
		s.finalize(ctx, "intro_error", false)
		return
	}
	s.askQuestion(ctx, q)
}

// attachCallRecord reuses the dialer's in-progress record for the same call
// SID or patient, creating one only when neither exists.
func (s *Session) attachCallRecord(ctx context.Context) {
	rec, err := s.store.FindByCallSID(ctx, s.call.CallID)
	if err != nil {
		s.log.Warn("call record lookup failed", "err", err)
	}
	if rec == nil && s.call.PatientID != nil {
		rec, err = s.store.FindInProgressByPatient(ctx, *s.call.PatientID)
		if err != nil {
			s.log.Warn("call record lookup failed", "err", err)
		}
		if rec != nil && rec.CallSID == "" {
			if err := s.store.AttachCallSID(ctx, rec.ID, s.call.CallID); err != nil {
				s.log.Warn("attach call sid failed", "err", err)
			}
		}
	}
	if rec == nil && s.call.PatientID != nil {
		rec, err = s.store.CreateCallLog(ctx, s.call.PatientID, s.call.CallID)
		if err != nil {
			s.log.Warn("call record create failed", "err", err)
		}
	}
	if rec == nil {
		return
	}
	s.call.CallLogID = rec.ID
	s.call.Answered = rec.Answered
	if s.call.PatientID == nil && rec.PatientID != nil {
		s.call.PatientID = rec.PatientID
	}
}

func (s *Session) openSTT(ctx context.Context) {
	if s.sttProv == nil {
		s.flow("transcription disabled")
		return
	}
	stream, err := s.sttProv.NewStream(ctx, stt.StreamOptions{
		Model:          s.cfg.STTModel,
		Language:       s.cfg.Language,
		InterimResults: true,
		UtteranceEndMS: 1000,
	})
	if err != nil {
		s.flow("transcription unavailable: " + err.Error())
		return
	}
	s.stream = stream
	s.flow("transcription stream connected")
}

func (s *Session) handleMedia(ctx context.Context, ev carrier.Media) {
	if !ev.Inbound() {
		return
	}
	s.mediaPackets++
	if s.mediaPackets == 1 {
		s.flow("first media packet received")
	}
	s.forwardAudio(ev.Audio)
	s.checkRepeat(ctx)
}

func (s *Session) forwardAudio(audio []byte) {
	if s.stream == nil || len(audio) == 0 {
		return
	}
	if err := s.stream.SendAudio(audio); err != nil {
		s.log.Debug("stt send failed", "err", err)
	}
}

// checkRepeat re-asks an unanswered question after the repeat threshold,
// bounded by MaxRepeats, then skips it. Checks are rate-limited to one per
// second and suppressed right after speech or a recent transcript.
func (s *Session) checkRepeat(ctx context.Context) {
	if s.pendingQuestionTS.IsZero() || s.convo == nil {
		return
	}
	now := s.now()
	if !s.lastRepeatCheckTS.IsZero() && now.Sub(s.lastRepeatCheckTS) < time.Second {
		return
	}
	s.lastRepeatCheckTS = now
	if now.Sub(s.pendingQuestionTS) <= s.cfg.RepeatAfter {
		return
	}
	q, ok := s.convo.Current()
	if !ok || q.Shape == catalog.ShapeNone {
		return
	}
	if !s.lastSpeakEnd.IsZero() && now.Sub(s.lastSpeakEnd) < s.cfg.PostSpeechGrace {
		return
	}
	if !s.lastTranscriptTS.IsZero() && now.Sub(s.lastTranscriptTS) < s.cfg.RecentTranscriptGrace {
		return
	}

	if s.noResponseCount < s.cfg.MaxRepeats {
		s.flow("no response for " + q.ID + ", repeating question")
		s.noResponseCount++
		_ = s.speak(ctx, repeatPreamble)
		_ = s.speak(ctx, s.spokenQuestion(ctx, q))
		s.pendingQuestionTS = s.now()
		return
	}

	s.flow("no response for " + q.ID + ", skipping question")
	s.noResponseCount = 0
	next, ok := s.convo.Advance()
	if ok {
		_ = s.speak(ctx, next.Prompt())
		s.pendingQuestionTS = s.now()
		return
	}
	_ = s.speak(ctx, Goodbye)
	s.finalize(ctx, "no response end", true)
}

func (s *Session) handleTranscript(ctx context.Context, text string, overlapped bool) {
	if s.convo == nil {
		s.flow("transcript ignored, session not ready")
		return
	}
	s.flow("transcript received")
	if !overlapped && !s.lastSpeakEnd.IsZero() && s.now().Sub(s.lastSpeakEnd) < s.cfg.EchoSuppressWindow {
		s.flow("transcript dropped, echo suppression")
		return
	}
	s.lastTranscriptTS = s.now()
	s.markAnswered(ctx)

	q, ok := s.convo.Current()
	if !ok {
		return
	}

	st := answers.Extract(q.Shape, text, q.Options)
	if st.Unresolved(q.Shape, q.Options) {
		token := s.assist.ExtractAnswer(ctx, q.Prompt(), text, answers.AllowedValues(q.Shape, q.Options))
		st = answers.Apply(st, q.Shape, token, q.Options)
	}
	if st.Unresolved(q.Shape, q.Options) && s.clarifyCounts[q.ID] < s.cfg.ClarifyMax {
		s.clarifyCounts[q.ID]++
		s.flow("unclear response for " + q.ID + ", clarifying")
		_ = s.speak(ctx, answers.ClarifyPrompt(q.Shape, q.Options))
		_ = s.speak(ctx, s.spokenQuestion(ctx, q))
		s.pendingQuestionTS = s.now()
		return
	}

	ans, _ := s.convo.Record(text, st)
	s.noResponseCount = 0
	s.pendingQuestionTS = time.Time{}
	s.flow("recorded answer for " + ans.QuestionID)
	if s.call.CallLogID != 0 {
		if err := s.store.SaveAnswer(ctx, s.call.CallLogID, ans.QuestionID, text, ans.Structured, ans.Escalated); err != nil {
			s.log.Warn("answer persist failed", "question", ans.QuestionID, "err", err)
		}
	}

	ack := s.assist.Acknowledge(ctx, s.call.PatientName, answers.Summary(q.Shape, ans.Structured))
	_ = s.speak(ctx, ack)

	next, ok := s.convo.Advance()
	if ok {
		s.askQuestion(ctx, next)
		return
	}
	s.sayGoodbye(ctx)
}

func (s *Session) askQuestion(ctx context.Context, q catalog.Question) {
	s.flow("asked: " + q.ID)
	s.noResponseCount = 0
	_ = s.speak(ctx, s.spokenQuestion(ctx, q))
	if q.Shape == catalog.ShapeNone {
		next, ok := s.convo.Advance()
		if ok {
			s.askQuestion(ctx, next)
			return
		}
		s.sayGoodbye(ctx)
		return
	}
	s.pendingQuestionTS = s.now()
}

func (s *Session) sayGoodbye(ctx context.Context) {
	s.flow("no more questions, sending goodbye")
	_ = s.speak(ctx, Goodbye)
	s.finalize(ctx, "completed flow", true)
}

// spokenQuestion returns the phrasing actually spoken for a question,
// rephrased once per call and memoized per question id. Statement-shaped
// entries are read verbatim.
func (s *Session) spokenQuestion(ctx context.Context, q catalog.Question) string {
	if q.Shape == catalog.ShapeNone {
		return q.Prompt()
	}
	if cached, ok := s.spokenQuestions[q.ID]; ok {
		return cached
	}
	spoken := strings.TrimSpace(s.assist.Rephrase(ctx, q.Prompt(), s.call.PatientName))
	if spoken == "" {
		spoken = q.Prompt()
	}
	s.spokenQuestions[q.ID] = spoken
	return spoken
}

func (s *Session) markAnswered(ctx context.Context) {
	if s.call.Answered {
		return
	}
	s.call.Answered = true
	if s.call.CallLogID == 0 {
		return
	}
	if err := s.store.MarkAnswered(ctx, s.call.CallLogID); err != nil {
		s.log.Warn("mark answered failed", "err", err)
	}
}

// finalize ends the call exactly once: it closes transcription, computes and
// persists the risk assessment (unless setup failed), and requests a carrier
// hangup. Safe to call from any trigger path.
func (s *Session) finalize(ctx context.Context, reason string, computeRisk bool) {
	if s.completed {
		return
	}
	s.completed = true
	s.flow("call finalized: " + reason)

	if s.stream != nil {
		_ = s.stream.Close()
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	status := store.StatusCompleted
	if !computeRisk {
		status = store.StatusFailedSetup
	}

	var scorePtr *float64
	var levelPtr *string
	if computeRisk && s.convo != nil {
		f := risk.Build(s.convo.FeaturePayload())
		a := risk.Assess(f, s.scorer, nil)
		score := a.Score * 100
		scorePtr, levelPtr = &score, &a.Level
		s.flow(fmt.Sprintf("risk assessed: %s (%.0f)", a.Level, score))
		if s.call.CallLogID != 0 {
			explanation := map[string][]risk.Factor{"top_factors": a.Factors}
			if err := s.store.SaveAssessment(fctx, s.call.CallLogID, s.call.PatientID, score, a.Level, explanation, a.Model); err != nil {
				s.log.Warn("assessment persist failed", "err", err)
			}
		}
	}
	if s.call.CallLogID != 0 {
		if err := s.store.FinalizeCall(fctx, s.call.CallLogID, status, s.flowEvents, scorePtr, levelPtr); err != nil {
			s.log.Warn("finalize persist failed", "err", err)
		}
	}

	s.hangupCall(fctx)
}

func (s *Session) hangupCall(ctx context.Context) {
	if s.hangup == nil || !strings.HasPrefix(s.call.CallID, "CA") {
		return
	}
	if err := s.hangup(ctx, s.call.CallID); err != nil {
		s.flow("carrier hangup failed: " + err.Error())
		return
	}
	s.flow("carrier hangup requested: " + s.call.CallID)
}

func (s *Session) flow(message string) {
	s.flowEvents = append(s.flowEvents, store.FlowEvent{TS: s.now().UTC(), Message: message})
	s.log.Info(message, "call_sid", s.call.CallID)
}

func (s *Session) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// speak synthesizes text (through the shared write-once cache) and paces it
// onto the stream. The speaking window lasts until the last frame is sent;
// transcripts arriving inside it are deferred or dropped per the overlap
// policy.
func (s *Session) speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" || s.completed || s.stopSeen {
		return nil
	}
	defer func() {
		s.lastSpeakEnd = s.now()
		s.resolveOverlapped()
	}()

	audio := s.cachedAudio(ctx, text)
	if len(audio) == 0 {
		s.flow("synthesis produced no audio")
		return nil
	}
	if s.streamSID == "" {
		s.flow("playback skipped, no stream identifier")
		return nil
	}
	return s.sendAudio(ctx, audio)
}

func (s *Session) cachedAudio(ctx context.Context, text string) []byte {
	if s.cache != nil {
		if audio, ok := s.cache.Get(text); ok {
			return audio
		}
	}
	if s.tts == nil {
		return nil
	}
	audio, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		s.flow("synthesis failed: " + err.Error())
		return nil
	}
	if s.cache != nil {
		s.cache.Put(text, audio)
	}
	return audio
}

// resolveOverlapped decides the fate of transcripts received mid-playback:
// those the speech outlasted by more than the overlap wait are dropped, the
// rest are held for processing.
func (s *Session) resolveOverlapped() {
	for _, o := range s.overlapped {
		if s.lastSpeakEnd.Sub(o.at) > s.cfg.SpeechOverlapWait {
			s.flow("still speaking after wait, dropping transcript")
			continue
		}
		s.held = append(s.held, o.text)
	}
	s.overlapped = s.overlapped[:0]
}

// sendAudio paces the synthesized audio as fixed-size frames, one per tick,
// so playback stays real-time. Between ticks it keeps draining inbound
// events: caller audio still reaches transcription, and a stop event aborts
// playback immediately.
func (s *Session) sendAudio(ctx context.Context, audio []byte) error {
	ticker := time.NewTicker(s.cfg.FrameInterval)
	defer ticker.Stop()

	for off := 0; off < len(audio); {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.events:
			if !ok {
				return errSocketClosed
			}
			switch ev := ev.(type) {
			case carrier.Media:
				if ev.Inbound() {
					s.forwardAudio(ev.Audio)
				}
			case carrier.Stop:
				s.stopSeen = true
				return errStopped
			}
		case d := <-s.transcriptCh():
			s.lastTranscriptTS = s.now()
			if d.IsFinal && strings.TrimSpace(d.Text) != "" {
				s.flow("transcript arrived during speech, deferring")
				s.overlapped = append(s.overlapped, overlapTranscript{text: d.Text, at: s.now()})
			}
		case <-ticker.C:
			end := off + s.cfg.FrameBytes
			if end > len(audio) {
				end = len(audio)
			}
			msg, err := carrier.EncodeMedia(s.streamSID, audio[off:end])
			if err != nil {
				return err
			}
			_ = s.conn.SetWriteDeadline(s.now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
			off = end
		}
	}
	return nil
}
