package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin             Role = "admin"
	RoleStudent           Role = "student"
	RoleTeacherAnalyst    Role = "teacher_analyst"
	RoleTeacherRespondent Role = "teacher_respondent"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleStudent, RoleTeacherAnalyst, RoleTeacherRespondent:
		return true
	}
	return false
}

// User is a system account. Users referenced by responses are never hard-removed.
type User struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Email     string    `json:"email" bson:"email"`
	PassHash  []byte    `json:"-" bson:"pass_hash"`
	Role      Role      `json:"role" bson:"role"`
	Anonymous bool      `json:"anonymous" bson:"anonymous"`
	Deleted   bool      `json:"deleted,omitempty" bson:"deleted"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

type QuestionType string

const (
	QuestionText           QuestionType = "text"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionCheckbox       QuestionType = "checkbox"
	QuestionDropdown       QuestionType = "dropdown"
	QuestionScale          QuestionType = "scale"
	QuestionDate           QuestionType = "date"
)

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionText, QuestionMultipleChoice, QuestionCheckbox, QuestionDropdown, QuestionScale, QuestionDate:
		return true
	}
	return false
}

// HasOptions reports whether answers to this type pick from Question.Options.
func (t QuestionType) HasOptions() bool {
	return t == QuestionMultipleChoice || t == QuestionCheckbox || t == QuestionDropdown
}

type Option struct {
	Label string `json:"label" bson:"label"`
	Value string `json:"value" bson:"value"`
}

// ValidationRules apply to text questions only. Required is kept as question
// metadata; whether an answer is mandatory is decided by FormQuestion.Required
// on each form that uses the question.
type ValidationRules struct {
	Required  bool   `json:"required,omitempty" bson:"required,omitempty"`
	MinLength int    `json:"min_length,omitempty" bson:"min_length,omitempty"`
	MaxLength int    `json:"max_length,omitempty" bson:"max_length,omitempty"`
	Pattern   string `json:"pattern,omitempty" bson:"pattern,omitempty"`
}

type Question struct {
	ID         string           `json:"id" bson:"_id"`
	Title      string           `json:"title" bson:"title"`
	Type       QuestionType     `json:"type" bson:"type"`
	Options    []Option         `json:"options,omitempty" bson:"options,omitempty"`
	Validation *ValidationRules `json:"validation,omitempty" bson:"validation,omitempty"`
	Deleted    bool             `json:"deleted,omitempty" bson:"deleted"`
	CreatedAt  time.Time        `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at" bson:"updated_at"`
}

type FormMode string

const (
	ModeForm  FormMode = "form"
	ModeDiary FormMode = "diary"
)

type FormQuestion struct {
	QuestionID string `json:"question_id" bson:"question_id"`
	Order      int    `json:"order" bson:"order"`
	Required   bool   `json:"required" bson:"required"`
}

type Form struct {
	ID            string         `json:"id" bson:"_id"`
	Title         string         `json:"title" bson:"title"`
	Description   string         `json:"description,omitempty" bson:"description"`
	Mode          FormMode       `json:"mode" bson:"mode"`
	Questions     []FormQuestion `json:"questions" bson:"questions"`
	AssignedUsers []string       `json:"assigned_users" bson:"assigned_users"`
	IsActive      bool           `json:"is_active" bson:"is_active"`
	Deleted       bool           `json:"deleted,omitempty" bson:"deleted"`
	CreatedBy     string         `json:"created_by" bson:"created_by"`
	CreatedAt     time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" bson:"updated_at"`
}

// HasQuestion reports whether qid is part of the form's question list.
func (f *Form) HasQuestion(qid string) bool {
	for _, fq := range f.Questions {
		if fq.QuestionID == qid {
			return true
		}
	}
	return false
}

// IsAssigned reports whether uid appears in the assignment list.
func (f *Form) IsAssigned(uid string) bool {
	for _, id := range f.AssignedUsers {
		if id == uid {
			return true
		}
	}
	return false
}

// AnswerValue is either a single string or a list of strings.
// The zero value is the absent answer.
type AnswerValue struct {
	multiple bool
	single   string
	values   []string
	present  bool
}

func Single(s string) AnswerValue { return AnswerValue{single: s, present: true} }

func Multiple(vs ...string) AnswerValue {
	return AnswerValue{multiple: true, values: append([]string{}, vs...), present: true}
}

func (a AnswerValue) IsMultiple() bool { return a.multiple }

func (a AnswerValue) Present() bool { return a.present }

// String returns the single value, or the list joined by ", ".
func (a AnswerValue) String() string {
	if a.multiple {
		return strings.Join(a.values, ", ")
	}
	return a.single
}

// Values returns the list form; a single answer becomes a one-element list.
func (a AnswerValue) Values() []string {
	if a.multiple {
		return append([]string{}, a.values...)
	}
	if !a.present {
		return nil
	}
	return []string{a.single}
}

// Empty reports whether the answer carries no usable content.
func (a AnswerValue) Empty() bool {
	if !a.present {
		return true
	}
	if a.multiple {
		for _, v := range a.values {
			if strings.TrimSpace(v) != "" {
				return false
			}
		}
		return true
	}
	return strings.TrimSpace(a.single) == ""
}

func (a AnswerValue) MarshalJSON() ([]byte, error) {
	switch {
	case !a.present:
		return []byte("null"), nil
	case a.multiple:
		return json.Marshal(a.values)
	default:
		return json.Marshal(a.single)
	}
}

var errAnswerShape = errors.New("answer must be a string or an array of strings")

func (a *AnswerValue) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "null" || trimmed == "" {
		*a = AnswerValue{}
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var vs []string
		if err := json.Unmarshal(b, &vs); err != nil {
			return errAnswerShape
		}
		*a = Multiple(vs...)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// numbers are accepted as their literal text
		var n json.Number
		if err2 := json.Unmarshal(b, &n); err2 == nil {
			*a = Single(n.String())
			return nil
		}
		return errAnswerShape
	}
	*a = Single(s)
	return nil
}

type Answer struct {
	QuestionID string      `json:"question_id"`
	Answer     AnswerValue `json:"answer"`
}

type Response struct {
	ID           string    `json:"id"`
	FormID       string    `json:"form_id"`
	UserID       string    `json:"user_id"`
	Answers      []Answer  `json:"answers"`
	IsDraft      bool      `json:"is_draft"`
	DayKey       string    `json:"-"`
	SubmittedAt  time.Time `json:"submitted_at,omitempty"`
	LastModified time.Time `json:"last_modified"`
	Deleted      bool      `json:"deleted,omitempty"`
}

// AnswerFor returns the answer given to qid, if any.
func (r *Response) AnswerFor(qid string) (AnswerValue, bool) {
	for _, a := range r.Answers {
		if a.QuestionID == qid {
			return a.Answer, true
		}
	}
	return AnswerValue{}, false
}

// TimeWindow is an inclusive [From, To] range.
type TimeWindow struct {
	From time.Time
	To   time.Time
}

func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

type AuditEntry struct {
	Time   time.Time `json:"time" bson:"time"`
	Actor  string    `json:"actor" bson:"actor"`
	Action string    `json:"action" bson:"action"`
	Target string    `json:"target" bson:"target"`
	Note   string    `json:"note,omitempty" bson:"note,omitempty"`
}
