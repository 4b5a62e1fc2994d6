package services

import (
	"time"

	"github.com/soaringjerry/Quill/internal/models"
)

// Eligibility decides who may answer a form. In legacy single-active mode the
// assignment list is ignored; otherwise the caller must be assigned.
type Eligibility struct {
	SingleActive bool
}

// IsEligible is the read-only eligibility predicate.
func (e Eligibility) IsEligible(form *models.Form, userID string) bool {
	return e.check(form, userID) == nil
}

// check reports the first failing eligibility rule as a ServiceError.
func (e Eligibility) check(form *models.Form, userID string) error {
	if form == nil || form.Deleted {
		return NewNotFoundError("form not found")
	}
	if !form.IsActive {
		return NewInvalidStateError("form not active")
	}
	if !e.SingleActive && !form.IsAssigned(userID) {
		return NewForbiddenError("form not assigned to user")
	}
	return nil
}

// RequiredQuestions returns the ids of required questions in form order.
func RequiredQuestions(form *models.Form) []string {
	out := []string{}
	for _, fq := range form.Questions {
		if fq.Required {
			out = append(out, fq.QuestionID)
		}
	}
	return out
}

// DayWindow returns the calendar day containing t in loc as
// [00:00:00.000, 23:59:59.999].
func DayWindow(t time.Time, loc *time.Location) models.TimeWindow {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	next := time.Date(lt.Year(), lt.Month(), lt.Day()+1, 0, 0, 0, 0, loc)
	return models.TimeWindow{From: start, To: next.Add(-time.Millisecond)}
}

// DayKey names the calendar day containing t in loc, e.g. "2025-03-01".
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("2006-01-02")
}

// uniquenessKey is the per-pair key stored with final responses: empty for
// one-shot forms, the calendar day for diary forms.
func uniquenessKey(form *models.Form, submittedAt time.Time, loc *time.Location) string {
	if form.Mode == models.ModeDiary {
		return DayKey(submittedAt, loc)
	}
	return ""
}
