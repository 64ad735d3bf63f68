package protocol

import "encoding/json"

// Outbound payloads

// SurveyGenerate opens a session. The server echoes RequestID on the
// resulting survey.generated and on errors for this request.
type SurveyGenerate struct {
	Topic     string `json:"topic"`
	RequestID string `json:"requestId"`
}

type SurveySubmit struct {
	SessionID string    `json:"sessionId"`
	Responses Responses `json:"responses"`
}

type ProgramPlanRequest struct {
	SessionID string `json:"sessionId"`
}

type DialogueGenerate struct {
	SessionID   string       `json:"sessionId"`
	Topic       string       `json:"topic"`
	FileContext *FileContext `json:"fileContext,omitempty"`
}

type FileProcess struct {
	FilePath string `json:"filePath"`
}

// FileContext is the generation context derived from a processed upload.
// Content is empty when the server keeps the extracted text and only needs
// the reference.
type FileContext struct {
	FileID  string `json:"fileId"`
	Content string `json:"content,omitempty"`
}

// Inbound payloads

type SurveyGenerated struct {
	SessionID string `json:"sessionId"`
	RequestID string `json:"requestId,omitempty"`
	Survey    Survey `json:"survey"`
}

type SurveyAnalysis struct {
	Analysis json.RawMessage `json:"analysis"`
}

type ProgramPlan struct {
	Plan json.RawMessage `json:"plan"`
}

type DialogueSegment struct {
	ID       string `json:"id,omitempty"`
	Speaker  string `json:"speaker"`
	Text     string `json:"text"`
	MediaRef string `json:"mediaRef"`
}

type FileProcessed struct {
	FileID  string `json:"fileId"`
	Context string `json:"context,omitempty"`
}
