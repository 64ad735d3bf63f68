package workflow

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raihanakbr/dialogue-session-client/internal/errx"
	"github.com/raihanakbr/dialogue-session-client/internal/protocol"
)

type recordingSender struct {
	frames []map[string]any
}

func (s *recordingSender) Send(frame []byte) {
	var m map[string]any
	if err := json.Unmarshal(frame, &m); err != nil {
		panic(err)
	}
	s.frames = append(s.frames, m)
}

func (s *recordingSender) kinds() []string {
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, f["kind"].(string))
	}
	return out
}

type staticContext struct {
	ctx *protocol.FileContext
}

func (c staticContext) ActiveContext() *protocol.FileContext { return c.ctx }

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func testSurvey() protocol.Survey {
	return protocol.Survey{
		Title: "Climate change",
		Sections: []protocol.Section{
			{
				ID: "section_1",
				Questions: []protocol.Question{
					{
						ID: "q1", Type: protocol.SingleChoice, Required: true,
						Options: []protocol.Option{{ID: "opt1", Value: "novice"}, {ID: "opt2", Value: "expert"}},
					},
					{
						ID: "q2", Type: protocol.MultipleChoice, Required: true,
						Options: []protocol.Option{
							{ID: "o1", Value: "policy"}, {ID: "o2", Value: "science"}, {ID: "o3", Value: "economy"},
						},
						Validation: protocol.Validation{MinSelect: intPtr(1), MaxSelect: intPtr(2)},
					},
					{
						ID: "q3", Type: protocol.Rating, Required: true,
						Validation: protocol.Validation{Min: floatPtr(1), Max: floatPtr(5)},
					},
					{
						ID: "q4", Type: protocol.Text, Required: true,
						Validation: protocol.Validation{MinLength: intPtr(3), MaxLength: intPtr(50)},
					},
				},
			},
		},
	}
}

func validResponses() protocol.Responses {
	return protocol.Responses{
		"q1": "novice",
		"q2": []any{"policy", "science"},
		"q3": 4.0,
		"q4": "How do carbon markets work?",
	}
}

func newMachine() (*Machine, *recordingSender) {
	s := &recordingSender{}
	return NewMachine(s, staticContext{}), s
}

// toPlanReady drives a machine through the survey and analysis stages.
func toPlanReady(t *testing.T, m *Machine) {
	t.Helper()
	require.NoError(t, m.StartSession("climate change"))
	require.NoError(t, m.SurveyGenerated("", protocol.SurveyGenerated{SessionID: "s-1", Survey: testSurvey()}))
	require.NoError(t, m.SubmitSurvey(validResponses()))
	require.NoError(t, m.SurveyAnalysis("s-1", protocol.SurveyAnalysis{Analysis: json.RawMessage(`{"level":"beginner"}`)}))
	require.NoError(t, m.ProgramPlan("", protocol.ProgramPlan{Plan: json.RawMessage(`{"episodes":1}`)}))
	require.Equal(t, PlanReady, m.State())
}

func TestHappyPath(t *testing.T) {
	m, s := newMachine()
	var seen []State
	m.OnChange(func(st State) { seen = append(seen, st) })

	toPlanReady(t, m)
	require.NoError(t, m.GenerateDialogue())
	assert.True(t, m.Streaming("s-1"))
	require.NoError(t, m.DialogueComplete("s-1"))

	assert.Equal(t, Complete, m.State())
	assert.Equal(t, []State{
		SurveyPending, SurveyActive, SurveySubmitted, AnalysisReady, PlanReady, DialogueActive, Complete,
	}, seen)
	assert.Equal(t, []string{
		"survey.generate", "survey.submit", "program.plan", "dialogue.generate",
	}, s.kinds())
	assert.Equal(t, "climate change", s.frames[0]["topic"])
	assert.Equal(t, "1", s.frames[0]["requestId"])
	assert.Equal(t, "s-1", s.frames[1]["sessionId"])
	assert.Equal(t, "s-1", s.frames[2]["sessionId"])
	assert.Empty(t, m.Session().ID, "session data is released on completion")
}

func TestAnalysisChainsPlanRequestAutomatically(t *testing.T) {
	m, s := newMachine()
	require.NoError(t, m.StartSession("climate change"))
	require.NoError(t, m.SurveyGenerated("s-1", protocol.SurveyGenerated{Survey: testSurvey()}))
	require.NoError(t, m.SubmitSurvey(validResponses()))
	before := len(s.frames)

	require.NoError(t, m.SurveyAnalysis("", protocol.SurveyAnalysis{Analysis: json.RawMessage(`{}`)}))

	require.Len(t, s.frames, before+1)
	assert.Equal(t, map[string]any{"kind": "program.plan", "sessionId": "s-1"}, s.frames[before])
	assert.Equal(t, AnalysisReady, m.State())
}

func TestOutOfSequenceFramesLeaveStateUnchanged(t *testing.T) {
	m, s := newMachine()

	assert.ErrorIs(t, m.SurveyAnalysis("", protocol.SurveyAnalysis{}), errx.ErrProtocolSequencing)
	assert.ErrorIs(t, m.ProgramPlan("", protocol.ProgramPlan{}), errx.ErrProtocolSequencing)
	assert.ErrorIs(t, m.DialogueComplete(""), errx.ErrProtocolSequencing)
	assert.ErrorIs(t, m.SurveyGenerated("s-1", protocol.SurveyGenerated{Survey: testSurvey()}), errx.ErrProtocolSequencing)
	assert.Equal(t, Idle, m.State())

	require.NoError(t, m.StartSession("climate change"))
	require.NoError(t, m.SurveyGenerated("s-1", protocol.SurveyGenerated{Survey: testSurvey()}))

	// A retransmitted survey.generated must not overwrite the active survey.
	other := testSurvey()
	other.Title = "retransmitted"
	assert.ErrorIs(t, m.SurveyGenerated("s-1", protocol.SurveyGenerated{Survey: other}), errx.ErrProtocolSequencing)
	assert.Equal(t, "Climate change", m.Session().Survey.Title)
	assert.ErrorIs(t, m.ProgramPlan("s-1", protocol.ProgramPlan{}), errx.ErrProtocolSequencing)
	assert.Equal(t, SurveyActive, m.State())
	assert.Len(t, s.frames, 1)
}

func TestForeignSessionIsDiscarded(t *testing.T) {
	m, _ := newMachine()
	require.NoError(t, m.StartSession("climate change"))
	require.NoError(t, m.SurveyGenerated("s-1", protocol.SurveyGenerated{Survey: testSurvey()}))
	require.NoError(t, m.SubmitSurvey(validResponses()))

	err := m.SurveyAnalysis("s-old", protocol.SurveyAnalysis{})
	assert.ErrorIs(t, err, errx.ErrProtocolSequencing)
	assert.Equal(t, SurveySubmitted, m.State())
}

func TestSurveyGeneratedRequiresSessionID(t *testing.T) {
	m, _ := newMachine()
	require.NoError(t, m.StartSession("climate change"))
	err := m.SurveyGenerated("", protocol.SurveyGenerated{Survey: testSurvey()})
	assert.ErrorIs(t, err, errx.ErrMalformedMessage)
	assert.Equal(t, SurveyPending, m.State())
}

func TestUserActionsRejectInvalidTransitions(t *testing.T) {
	m, s := newMachine()
	assert.ErrorIs(t, m.SubmitSurvey(validResponses()), ErrInvalidTransition)
	assert.ErrorIs(t, m.GenerateDialogue(), ErrInvalidTransition)
	assert.ErrorIs(t, m.StartSession("  "), errx.ErrValidation)

	require.NoError(t, m.StartSession("climate change"))
	assert.ErrorIs(t, m.StartSession("again"), ErrInvalidTransition)
	assert.ErrorIs(t, m.GenerateDialogue(), ErrInvalidTransition)
	assert.Len(t, s.frames, 1)
}

func TestRequiredTextEmptyBlocksSubmit(t *testing.T) {
	m, s := newMachine()
	require.NoError(t, m.StartSession("climate change"))
	require.NoError(t, m.SurveyGenerated("s-1", protocol.SurveyGenerated{Survey: testSurvey()}))
	sent := len(s.frames)

	responses := validResponses()
	responses["q4"] = "   "
	err := m.SubmitSurvey(responses)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, errx.ErrValidation)
	assert.Equal(t, []string{"q4"}, verr.Questions())
	assert.Equal(t, ConstraintRequired, verr.Violations[0].Constraint)
	assert.Len(t, s.frames, sent, "nothing transmitted")
	assert.Equal(t, SurveyActive, m.State())
	assert.Nil(t, m.Session().Responses)

	require.NoError(t, m.SubmitSurvey(validResponses()))
	assert.Equal(t, SurveySubmitted, m.State())
}

func TestGenerateDialogueAttachesActiveFileContext(t *testing.T) {
	s := &recordingSender{}
	m := NewMachine(s, staticContext{ctx: &protocol.FileContext{FileID: "f-1", Content: "notes"}})
	toPlanReady(t, m)

	require.NoError(t, m.GenerateDialogue())
	last := s.frames[len(s.frames)-1]
	assert.Equal(t, "dialogue.generate", last["kind"])
	assert.Equal(t, "climate change", last["topic"])
	assert.Equal(t, map[string]any{"fileId": "f-1", "content": "notes"}, last["fileContext"])
}

func TestFailAndRestart(t *testing.T) {
	m, s := newMachine()
	assert.False(t, m.Fail(errx.Workflow("boom")), "nothing in flight while idle")
	assert.Equal(t, Idle, m.State())

	require.NoError(t, m.StartSession("climate change"))
	require.NoError(t, m.SurveyGenerated("s-1", protocol.SurveyGenerated{Survey: testSurvey()}))
	assert.True(t, m.Fail(errx.Workflow("model overloaded")))
	assert.Equal(t, Failed, m.State())
	assert.ErrorIs(t, m.LastError(), errx.ErrWorkflow)

	assert.ErrorIs(t, m.SubmitSurvey(validResponses()), ErrInvalidTransition)
	assert.False(t, m.Fail(errx.Workflow("again")))

	epoch := m.Epoch()
	require.NoError(t, m.StartSession("ocean acidification"))
	assert.Equal(t, SurveyPending, m.State())
	assert.Greater(t, m.Epoch(), epoch)
	assert.Nil(t, m.LastError())
	assert.Nil(t, m.Session().Survey)
	assert.Equal(t, "ocean acidification", s.frames[len(s.frames)-1]["topic"])
}

func TestResetIsIdempotent(t *testing.T) {
	m, _ := newMachine()
	toPlanReady(t, m)

	m.Reset()
	first := m.Session()
	m.Reset()

	assert.Equal(t, Idle, m.State())
	assert.Equal(t, Session{Stage: Idle}, first)
	assert.Equal(t, first, m.Session())
	assert.False(t, m.Streaming(""))
}

func TestLateSurveyForAbandonedRequestIsRejected(t *testing.T) {
	m, s := newMachine()
	require.NoError(t, m.StartSession("climate change"))
	oldRequest := s.frames[0]["requestId"].(string)
	m.Reset()
	require.NoError(t, m.StartSession("ocean acidification"))

	err := m.SurveyGenerated("", protocol.SurveyGenerated{SessionID: "s-old", RequestID: oldRequest, Survey: testSurvey()})
	assert.ErrorIs(t, err, errx.ErrProtocolSequencing)
	assert.Equal(t, SurveyPending, m.State())
	assert.Empty(t, m.Session().ID)

	current := s.frames[len(s.frames)-1]["requestId"].(string)
	require.NoError(t, m.SurveyGenerated("", protocol.SurveyGenerated{SessionID: "s-new", RequestID: current, Survey: testSurvey()}))
	assert.Equal(t, "s-new", m.Session().ID)
}

func TestFramesForAbandonedSessionAreRejected(t *testing.T) {
	m, _ := newMachine()
	require.NoError(t, m.StartSession("climate change"))
	require.NoError(t, m.SurveyGenerated("s-1", protocol.SurveyGenerated{Survey: testSurvey()}))
	m.Reset()
	require.NoError(t, m.StartSession("ocean acidification"))

	assert.False(t, m.Accepts("s-1", ""))
	assert.True(t, m.Accepts("", ""))
	assert.True(t, m.Accepts("s-2", ""), "new session id not assigned yet")

	err := m.SurveyGenerated("s-1", protocol.SurveyGenerated{Survey: testSurvey()})
	assert.ErrorIs(t, err, errx.ErrProtocolSequencing)
	assert.Equal(t, SurveyPending, m.State())
	assert.Empty(t, m.Session().ID)
}

func TestCompletedSessionIsRetired(t *testing.T) {
	m, _ := newMachine()
	toPlanReady(t, m)
	require.NoError(t, m.GenerateDialogue())
	require.NoError(t, m.DialogueComplete("s-1"))

	require.NoError(t, m.StartSession("ocean acidification"))
	assert.False(t, m.Accepts("s-1", ""))
	assert.False(t, m.Accepts("", "1"), "request of the first session")
	assert.True(t, m.Accepts("", fmt.Sprint(m.Epoch())))
}
