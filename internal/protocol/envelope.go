package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/raihanakbr/dialogue-session-client/internal/errx"
)

// Kind is the envelope discriminant.
type Kind string

// Outbound kinds
const (
	KindSurveyGenerate   Kind = "survey.generate"
	KindSurveySubmit     Kind = "survey.submit"
	KindDialogueGenerate Kind = "dialogue.generate"
	KindFileProcess      Kind = "file.process"
)

// Inbound kinds. program.plan travels in both directions.
const (
	KindSurveyGenerated  Kind = "survey.generated"
	KindSurveyAnalysis   Kind = "survey.analysis"
	KindProgramPlan      Kind = "program.plan"
	KindDialogueSegment  Kind = "dialogue.segment"
	KindDialogueComplete Kind = "dialogue.complete"
	KindFileProcessed    Kind = "file.processed"
)

var inboundKinds = map[Kind]bool{
	KindSurveyGenerated:  true,
	KindSurveyAnalysis:   true,
	KindProgramPlan:      true,
	KindDialogueSegment:  true,
	KindDialogueComplete: true,
	KindFileProcessed:    true,
}

// IsInbound reports whether the server is allowed to send k.
func (k Kind) IsInbound() bool {
	return inboundKinds[k]
}

// Envelope is a decoded inbound frame. Raw keeps the full frame so the
// consumer can decode its own payload type.
type Envelope struct {
	Kind      Kind
	SessionID string
	RequestID string
	Error     string
	Status    string
	Message   string
	Raw       json.RawMessage
}

// HasError reports whether the frame must take the error path.
func (e Envelope) HasError() bool {
	return e.Error != ""
}

// IsInformational reports a kind-less {status, message} frame.
func (e Envelope) IsInformational() bool {
	return e.Kind == "" && e.Status != "" && !e.HasError()
}

// Decode unmarshals the frame into a payload struct.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return errx.Malformed(fmt.Sprintf("bad %s payload", e.Kind), err)
	}
	return nil
}

type header struct {
	Kind      string          `json:"kind"`
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	RequestID string          `json:"requestId"`
	Error     json.RawMessage `json:"error"`
	Status    string          `json:"status"`
	Message   string          `json:"message"`
}

// Decode parses a raw frame. It only fails on frames that are not JSON
// objects; kind validation is left to the router.
func Decode(raw []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, errx.Malformed("frame is not a JSON object", nil)
	}

	var h header
	if err := json.Unmarshal(trimmed, &h); err != nil {
		return Envelope{}, errx.Malformed("undecodable frame", err)
	}

	env := Envelope{
		Kind:      Kind(h.Kind),
		SessionID: h.SessionID,
		RequestID: h.RequestID,
		Status:    h.Status,
		Message:   h.Message,
		Raw:       json.RawMessage(trimmed),
	}
	if env.Kind == "" {
		env.Kind = Kind(h.Type)
	}
	env.Error = errorText(h)
	return env, nil
}

// errorText normalizes the error field, which may be a string, a bool flag
// paired with a message, or an object.
func errorText(h header) string {
	raw := bytes.TrimSpace(h.Error)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")):
		if h.Status == "error" {
			return fallback(h.Message)
		}
		return ""
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
		return fallback(h.Message)
	case raw[0] == '{':
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
		return fallback(h.Message)
	default:
		return fallback(h.Message)
	}
}

func fallback(message string) string {
	if message != "" {
		return message
	}
	return "server error"
}

// Encode builds a flat outbound frame: the payload's fields plus "kind".
func Encode(kind Kind, payload any) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", kind, err)
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("encode %s: payload is not an object: %w", kind, err)
		}
	}
	k, _ := json.Marshal(kind)
	fields["kind"] = k
	return json.Marshal(fields)
}
