// Package router decodes inbound frames and hands each one to the single
// component that owns its kind.
package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/raihanakbr/dialogue-session-client/internal/errx"
	"github.com/raihanakbr/dialogue-session-client/internal/logx"
	"github.com/raihanakbr/dialogue-session-client/internal/protocol"
)

// Workflow receives the result envelopes that advance the session.
type Workflow interface {
	SurveyGenerated(sessionID string, p protocol.SurveyGenerated) error
	SurveyAnalysis(sessionID string, p protocol.SurveyAnalysis) error
	ProgramPlan(sessionID string, p protocol.ProgramPlan) error
	DialogueComplete(sessionID string) error
	// Streaming reports whether dialogue segments are currently expected.
	Streaming(sessionID string) bool
}

// Playback receives streamed segments.
type Playback interface {
	Enqueue(seg protocol.DialogueSegment) bool
	MarkComplete()
}

// Files receives processing results for uploads.
type Files interface {
	MarkProcessed(fileID, context string) error
}

// ErrorReporter receives every frame carrying an error field.
type ErrorReporter func(env protocol.Envelope)

type Router struct {
	workflow Workflow
	playback Playback
	files    Files
	onError  ErrorReporter
	log      zerolog.Logger
	routed   *prometheus.CounterVec
}

// New wires the router. reg may be nil.
func New(w Workflow, p Playback, f Files, onError ErrorReporter, reg prometheus.Registerer) *Router {
	return &Router{
		workflow: w,
		playback: p,
		files:    f,
		onError:  onError,
		log:      logx.Component("router"),
		routed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "session_router_frames_total",
			Help: "Inbound frames by kind and routing outcome",
		}, []string{"kind", "outcome"}),
	}
}

// Dispatch routes one raw frame. Returned errors are informational: the
// frame has already been logged and dropped.
func (r *Router) Dispatch(raw []byte) error {
	env, err := protocol.Decode(raw)
	if err != nil {
		return r.drop("", "malformed", err)
	}

	if env.HasError() {
		r.count(env.Kind, "error")
		r.log.Error().Str("kind", string(env.Kind)).Str("error", env.Error).Msg("Server reported an error")
		if r.onError != nil {
			r.onError(env)
		}
		return nil
	}

	if env.IsInformational() {
		r.count("", "info")
		r.log.Info().Str("status", env.Status).Str("message", env.Message).Msg("Server status")
		return nil
	}

	if env.Kind == "" {
		return r.drop("", "malformed", errx.Malformed("frame has no kind", nil))
	}
	if !env.Kind.IsInbound() {
		return r.drop(env.Kind, "malformed", errx.Malformed("unknown kind "+string(env.Kind), nil))
	}

	if err := r.route(env); err != nil {
		outcome := "rejected"
		if errx.KindOf(err) == errx.KindMalformedMessage {
			outcome = "malformed"
		}
		return r.drop(env.Kind, outcome, err)
	}
	r.count(env.Kind, "routed")
	return nil
}

func (r *Router) route(env protocol.Envelope) error {
	switch env.Kind {
	case protocol.KindSurveyGenerated:
		var p protocol.SurveyGenerated
		if err := env.Decode(&p); err != nil {
			return err
		}
		if p.SessionID == "" {
			p.SessionID = env.SessionID
		}
		return r.workflow.SurveyGenerated(env.SessionID, p)

	case protocol.KindSurveyAnalysis:
		var p protocol.SurveyAnalysis
		if err := env.Decode(&p); err != nil {
			return err
		}
		return r.workflow.SurveyAnalysis(env.SessionID, p)

	case protocol.KindProgramPlan:
		var p protocol.ProgramPlan
		if err := env.Decode(&p); err != nil {
			return err
		}
		return r.workflow.ProgramPlan(env.SessionID, p)

	case protocol.KindDialogueSegment:
		if !r.workflow.Streaming(env.SessionID) {
			return errx.Sequencing(string(env.Kind), "not streaming")
		}
		var p protocol.DialogueSegment
		if err := env.Decode(&p); err != nil {
			return err
		}
		if !r.playback.Enqueue(p) {
			r.log.Debug().Str("id", p.ID).Msg("Duplicate segment dropped")
		}
		return nil

	case protocol.KindDialogueComplete:
		if err := r.workflow.DialogueComplete(env.SessionID); err != nil {
			return err
		}
		r.playback.MarkComplete()
		return nil

	case protocol.KindFileProcessed:
		var p protocol.FileProcessed
		if err := env.Decode(&p); err != nil {
			return err
		}
		return r.files.MarkProcessed(p.FileID, p.Context)
	}
	return errx.Malformed("unroutable kind "+string(env.Kind), nil)
}

func (r *Router) drop(kind protocol.Kind, outcome string, err error) error {
	r.count(kind, outcome)
	r.log.Warn().Str("kind", string(kind)).Err(err).Msg("Frame dropped")
	return err
}

func (r *Router) count(kind protocol.Kind, outcome string) {
	r.routed.WithLabelValues(string(kind), outcome).Inc()
}
