// Package workflow models the questionnaire, analysis, plan and dialogue
// pipeline as an explicit state machine. User actions return errors for
// illegal transitions; inbound results that do not fit the current state
// are reported as sequencing anomalies and leave the state unchanged.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/raihanakbr/dialogue-session-client/internal/errx"
	"github.com/raihanakbr/dialogue-session-client/internal/logx"
	"github.com/raihanakbr/dialogue-session-client/internal/protocol"
)

type State string

const (
	Idle            State = "IDLE"
	SurveyPending   State = "SURVEY_PENDING"
	SurveyActive    State = "SURVEY_ACTIVE"
	SurveySubmitted State = "SURVEY_SUBMITTED"
	AnalysisReady   State = "ANALYSIS_READY"
	PlanReady       State = "PLAN_READY"
	DialogueActive  State = "DIALOGUE_ACTIVE"
	Complete        State = "COMPLETE"
	Failed          State = "FAILED"
)

// Restartable reports whether a new session may start from s.
func (s State) Restartable() bool {
	return s == Idle || s == Complete || s == Failed
}

var ErrInvalidTransition = errors.New("invalid workflow transition")

// Sender transmits encoded frames. It must not fail synchronously.
type Sender interface {
	Send(frame []byte)
}

// ContextSource supplies the active file context at dialogue trigger time.
type ContextSource interface {
	ActiveContext() *protocol.FileContext
}

// Session is the data of one workflow instance.
type Session struct {
	ID        string             `json:"sessionId,omitempty"`
	Topic     string             `json:"topic,omitempty"`
	Stage     State              `json:"stage"`
	Survey    *protocol.Survey   `json:"survey,omitempty"`
	Responses protocol.Responses `json:"responses,omitempty"`
	Analysis  json.RawMessage    `json:"analysis,omitempty"`
	Plan      json.RawMessage    `json:"plan,omitempty"`
}

type Machine struct {
	sender   Sender
	files    ContextSource
	log      zerolog.Logger
	session  Session
	epoch    uint64
	retired  map[string]bool
	lastErr  error
	onChange func(State)
}

func NewMachine(sender Sender, files ContextSource) *Machine {
	return &Machine{
		sender:  sender,
		files:   files,
		log:     logx.Component("workflow"),
		session: Session{Stage: Idle},
		retired: map[string]bool{},
	}
}

// OnChange registers the single state-change observer.
func (m *Machine) OnChange(fn func(State)) {
	m.onChange = fn
}

func (m *Machine) State() State {
	return m.session.Stage
}

// Session returns a copy of the current session data.
func (m *Machine) Session() Session {
	s := m.session
	if m.session.Responses != nil {
		s.Responses = make(protocol.Responses, len(m.session.Responses))
		for k, v := range m.session.Responses {
			s.Responses[k] = v
		}
	}
	return s
}

// Epoch increments on every start and reset. It is sent as the request id
// of survey.generate.
func (m *Machine) Epoch() uint64 {
	return m.epoch
}

// Accepts reports whether a frame tagged with sessionID and requestID may
// act on the current session. Frames for a session this machine abandoned,
// or answering a request from an earlier epoch, are rejected. Empty tags
// are not checked.
func (m *Machine) Accepts(sessionID, requestID string) bool {
	return m.owns(sessionID) && (requestID == "" || requestID == m.requestID())
}

// LastError is the failure that moved the machine to FAILED, if any.
func (m *Machine) LastError() error {
	return m.lastErr
}

// StartSession discards any previous session and requests a survey.
func (m *Machine) StartSession(topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errx.New(errx.KindValidation, "start", "topic is required", nil)
	}
	if !m.session.Stage.Restartable() {
		return fmt.Errorf("%w: cannot start a session in %s", ErrInvalidTransition, m.session.Stage)
	}

	m.clear()
	m.session.Topic = topic
	if err := m.send(protocol.KindSurveyGenerate, protocol.SurveyGenerate{
		Topic:     topic,
		RequestID: m.requestID(),
	}); err != nil {
		return err
	}
	m.log.Info().Str("topic", topic).Uint64("epoch", m.epoch).Msg("Session started")
	m.setStage(SurveyPending)
	return nil
}

// SubmitSurvey validates responses locally and submits them. On validation
// failure nothing is sent and the state is unchanged.
func (m *Machine) SubmitSurvey(responses protocol.Responses) error {
	if m.session.Stage != SurveyActive {
		return fmt.Errorf("%w: cannot submit a survey in %s", ErrInvalidTransition, m.session.Stage)
	}
	if violations := Validate(m.session.Survey, responses); len(violations) > 0 {
		m.log.Debug().Int("violations", len(violations)).Msg("Survey responses rejected")
		return &ValidationError{Violations: violations}
	}

	captured := make(protocol.Responses, len(responses))
	for k, v := range responses {
		captured[k] = v
	}
	if err := m.send(protocol.KindSurveySubmit, protocol.SurveySubmit{
		SessionID: m.session.ID,
		Responses: captured,
	}); err != nil {
		return err
	}
	m.session.Responses = captured
	m.setStage(SurveySubmitted)
	return nil
}

// GenerateDialogue requests the dialogue, attaching the active file context.
func (m *Machine) GenerateDialogue() error {
	if m.session.Stage != PlanReady {
		return fmt.Errorf("%w: cannot generate dialogue in %s", ErrInvalidTransition, m.session.Stage)
	}
	req := protocol.DialogueGenerate{
		SessionID: m.session.ID,
		Topic:     m.session.Topic,
	}
	if m.files != nil {
		req.FileContext = m.files.ActiveContext()
	}
	if err := m.send(protocol.KindDialogueGenerate, req); err != nil {
		return err
	}
	m.setStage(DialogueActive)
	return nil
}

// SurveyGenerated stores the survey and the server-assigned session id.
func (m *Machine) SurveyGenerated(sessionID string, p protocol.SurveyGenerated) error {
	id := p.SessionID
	if id == "" {
		id = sessionID
	}
	if err := m.expect(protocol.KindSurveyGenerated, SurveyPending, id); err != nil {
		return err
	}
	if p.RequestID != "" && p.RequestID != m.requestID() {
		err := errx.Sequencing(string(protocol.KindSurveyGenerated), "stale request "+p.RequestID)
		m.log.Warn().Err(err).Msg("Survey for an earlier request discarded")
		return err
	}
	if id == "" {
		return errx.Malformed("survey.generated without sessionId", nil)
	}
	survey := p.Survey
	m.session.ID = id
	m.session.Survey = &survey
	m.setStage(SurveyActive)
	return nil
}

// SurveyAnalysis stores the analysis and immediately chains the plan request.
func (m *Machine) SurveyAnalysis(sessionID string, p protocol.SurveyAnalysis) error {
	if err := m.expect(protocol.KindSurveyAnalysis, SurveySubmitted, sessionID); err != nil {
		return err
	}
	m.session.Analysis = p.Analysis
	m.setStage(AnalysisReady)
	if err := m.send(protocol.KindProgramPlan, protocol.ProgramPlanRequest{SessionID: m.session.ID}); err != nil {
		m.Fail(err)
		return err
	}
	return nil
}

func (m *Machine) ProgramPlan(sessionID string, p protocol.ProgramPlan) error {
	if err := m.expect(protocol.KindProgramPlan, AnalysisReady, sessionID); err != nil {
		return err
	}
	m.session.Plan = p.Plan
	m.setStage(PlanReady)
	return nil
}

// Streaming reports whether segments for sessionID are expected now.
func (m *Machine) Streaming(sessionID string) bool {
	return m.session.Stage == DialogueActive && m.owns(sessionID)
}

// DialogueComplete finishes the workflow and releases the session data.
func (m *Machine) DialogueComplete(sessionID string) error {
	if err := m.expect(protocol.KindDialogueComplete, DialogueActive, sessionID); err != nil {
		return err
	}
	m.log.Info().Str("session", m.session.ID).Msg("Workflow complete")
	m.retire()
	m.session = Session{}
	m.setStage(Complete)
	return nil
}

// Fail moves an in-flight workflow to FAILED. It reports false when there
// was nothing in flight to fail.
func (m *Machine) Fail(err error) bool {
	switch m.session.Stage {
	case Idle, Complete, Failed:
		m.log.Warn().Err(err).Str("state", string(m.session.Stage)).Msg("Error outside an active workflow")
		return false
	}
	m.lastErr = err
	m.log.Error().Err(err).Str("state", string(m.session.Stage)).Msg("Workflow failed")
	m.setStage(Failed)
	return true
}

// Reset returns to IDLE. Frames for the abandoned session are rejected
// afterwards.
func (m *Machine) Reset() {
	m.clear()
	m.setStage(Idle)
}

func (m *Machine) clear() {
	m.retire()
	m.epoch++
	m.lastErr = nil
	m.session = Session{Stage: m.session.Stage}
}

func (m *Machine) expect(kind protocol.Kind, want State, sessionID string) error {
	if m.session.Stage != want {
		err := errx.Sequencing(string(kind), string(m.session.Stage))
		m.log.Warn().Err(err).Msg("Out-of-sequence message discarded")
		return err
	}
	if !m.owns(sessionID) {
		err := errx.Sequencing(string(kind), "foreign session "+sessionID)
		m.log.Warn().Err(err).Msg("Message for another session discarded")
		return err
	}
	return nil
}

func (m *Machine) owns(sessionID string) bool {
	if sessionID == "" {
		return true
	}
	if m.retired[sessionID] {
		return false
	}
	return m.session.ID == "" || sessionID == m.session.ID
}

// retire remembers the current session id so its late frames are rejected.
func (m *Machine) retire() {
	if m.session.ID != "" {
		m.retired[m.session.ID] = true
	}
}

func (m *Machine) requestID() string {
	return strconv.FormatUint(m.epoch, 10)
}

func (m *Machine) send(kind protocol.Kind, payload any) error {
	frame, err := protocol.Encode(kind, payload)
	if err != nil {
		m.log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to encode request")
		return err
	}
	m.sender.Send(frame)
	return nil
}

func (m *Machine) setStage(s State) {
	if m.session.Stage == s {
		return
	}
	m.log.Debug().Str("from", string(m.session.Stage)).Str("to", string(s)).Msg("Transition")
	m.session.Stage = s
	if m.onChange != nil {
		m.onChange(s)
	}
}
