package protocol

// QuestionType is the answer shape a question expects.
type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultipleChoice QuestionType = "multiple_choice"
	Rating         QuestionType = "rating"
	Text           QuestionType = "text"
)

// Survey is authored by the server; its body keeps the server's snake_case
// field names.
type Survey struct {
	ID          string    `json:"survey_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Sections    []Section `json:"sections"`
	Settings    Settings  `json:"settings"`
}

type Section struct {
	ID          string     `json:"section_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Questions   []Question `json:"questions"`
}

type Question struct {
	ID          string       `json:"question_id"`
	Type        QuestionType `json:"type"`
	Required    bool         `json:"required"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Options     []Option     `json:"options,omitempty"`
	Validation  Validation   `json:"validation"`
}

type Option struct {
	ID    string `json:"option_id"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Validation bounds; a nil bound is unconstrained.
type Validation struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	MinSelect *int     `json:"min_select,omitempty"`
	MaxSelect *int     `json:"max_select,omitempty"`
	MinLength *int     `json:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
}

type Settings struct {
	AllowSkip        bool `json:"allow_skip"`
	ShowProgress     bool `json:"show_progress"`
	ShuffleQuestions bool `json:"shuffle_questions"`
}

// Responses maps question id to answer: a string for single_choice and
// text, a list of strings for multiple_choice, a number for rating.
type Responses map[string]any

// Questions returns every question in section order.
func (s *Survey) Questions() []Question {
	var out []Question
	for _, sec := range s.Sections {
		out = append(out, sec.Questions...)
	}
	return out
}

// Question looks a question up by id.
func (s *Survey) Question(id string) (Question, bool) {
	for _, sec := range s.Sections {
		for _, q := range sec.Questions {
			if q.ID == id {
				return q, true
			}
		}
	}
	return Question{}, false
}

// HasOption reports whether v matches an option value or option id.
func (q Question) HasOption(v string) bool {
	for _, o := range q.Options {
		if o.Value == v || o.ID == v {
			return true
		}
	}
	return false
}
