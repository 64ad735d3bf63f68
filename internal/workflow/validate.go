package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/raihanakbr/dialogue-session-client/internal/errx"
	"github.com/raihanakbr/dialogue-session-client/internal/protocol"
)

// Constraint names reported in a Violation.
const (
	ConstraintRequired  = "required"
	ConstraintUnknown   = "unknown_question"
	ConstraintType      = "type"
	ConstraintOption    = "option"
	ConstraintMinSelect = "min_select"
	ConstraintMaxSelect = "max_select"
	ConstraintMinLength = "min_length"
	ConstraintMaxLength = "max_length"
	ConstraintMin       = "min"
	ConstraintMax       = "max"
)

type Violation struct {
	QuestionID string `json:"questionId"`
	Constraint string `json:"constraint"`
	Message    string `json:"message"`
}

// ValidationError lists every constraint a set of responses broke.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s (%s): %s", v.QuestionID, v.Constraint, v.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is matches errx.ErrValidation.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*errx.Error)
	return ok && t.Kind == errx.KindValidation
}

// Questions returns the ids of the offending questions, in report order.
func (e *ValidationError) Questions() []string {
	seen := map[string]bool{}
	var ids []string
	for _, v := range e.Violations {
		if !seen[v.QuestionID] {
			seen[v.QuestionID] = true
			ids = append(ids, v.QuestionID)
		}
	}
	return ids
}

// Validate checks responses against the survey. Violations come in survey
// order followed by answers to unknown questions sorted by id.
func Validate(s *protocol.Survey, responses protocol.Responses) []Violation {
	var out []Violation
	add := func(q, constraint, format string, args ...any) {
		out = append(out, Violation{QuestionID: q, Constraint: constraint, Message: fmt.Sprintf(format, args...)})
	}

	for _, q := range s.Questions() {
		ans, ok := responses[q.ID]
		if !ok || isEmpty(ans) {
			if q.Required && !s.Settings.AllowSkip {
				add(q.ID, ConstraintRequired, "answer is required")
			}
			continue
		}

		v := q.Validation
		switch q.Type {
		case protocol.SingleChoice:
			choice, ok := ans.(string)
			if !ok {
				add(q.ID, ConstraintType, "expected a single choice")
				continue
			}
			if len(q.Options) > 0 && !q.HasOption(choice) {
				add(q.ID, ConstraintOption, "%q is not an option", choice)
			}

		case protocol.MultipleChoice:
			choices, ok := stringList(ans)
			if !ok {
				add(q.ID, ConstraintType, "expected a list of choices")
				continue
			}
			for _, c := range choices {
				if len(q.Options) > 0 && !q.HasOption(c) {
					add(q.ID, ConstraintOption, "%q is not an option", c)
				}
			}
			if v.MinSelect != nil && len(choices) < *v.MinSelect {
				add(q.ID, ConstraintMinSelect, "select at least %d", *v.MinSelect)
			}
			if v.MaxSelect != nil && len(choices) > *v.MaxSelect {
				add(q.ID, ConstraintMaxSelect, "select at most %d", *v.MaxSelect)
			}

		case protocol.Rating:
			n, ok := number(ans)
			if !ok {
				add(q.ID, ConstraintType, "expected a number")
				continue
			}
			if v.Min != nil && n < *v.Min {
				add(q.ID, ConstraintMin, "must be at least %g", *v.Min)
			}
			if v.Max != nil && n > *v.Max {
				add(q.ID, ConstraintMax, "must be at most %g", *v.Max)
			}

		case protocol.Text:
			text, ok := ans.(string)
			if !ok {
				add(q.ID, ConstraintType, "expected text")
				continue
			}
			n := utf8.RuneCountInString(strings.TrimSpace(text))
			if v.MinLength != nil && n < *v.MinLength {
				add(q.ID, ConstraintMinLength, "must be at least %d characters", *v.MinLength)
			}
			if v.MaxLength != nil && n > *v.MaxLength {
				add(q.ID, ConstraintMaxLength, "must be at most %d characters", *v.MaxLength)
			}

		default:
			add(q.ID, ConstraintType, "unsupported question type %q", q.Type)
		}
	}

	var unknown []string
	for id := range responses {
		if _, ok := s.Question(id); !ok {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)
	for _, id := range unknown {
		add(id, ConstraintUnknown, "no such question")
	}
	return out
}

func isEmpty(ans any) bool {
	switch a := ans.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(a) == ""
	case []string:
		return len(a) == 0
	case []any:
		return len(a) == 0
	}
	return false
}

func stringList(ans any) ([]string, bool) {
	switch a := ans.(type) {
	case []string:
		return a, true
	case []any:
		out := make([]string, 0, len(a))
		for _, item := range a {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func number(ans any) (float64, bool) {
	switch n := ans.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
