package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/soaringjerry/Quill/internal/models"
)

// LedgerStore abstracts persistence operations required by LedgerService.
// Every read returns live (non-deleted) records only.
type LedgerStore interface {
	GetForm(ctx context.Context, id string) (*models.Form, error)
	ListForms(ctx context.Context) ([]*models.Form, error)
	GetQuestion(ctx context.Context, id string) (*models.Question, error)

	GetDraft(ctx context.Context, formID, userID string) (*models.Response, error)
	// UpsertDraft overwrites the live draft for (FormID, UserID) or creates it.
	UpsertDraft(ctx context.Context, r *models.Response) (*models.Response, error)
	SoftDeleteDraft(ctx context.Context, formID, userID string) (bool, error)

	// HasFinalResponse reports a live final response for the pair, optionally
	// restricted to submissions inside window.
	HasFinalResponse(ctx context.Context, formID, userID string, window *models.TimeWindow) (bool, error)
	// FinalizeResponse soft-deletes the pair's live draft and inserts r as one
	// atomic unit. It returns ErrDuplicate when the uniqueness guard rejects r.
	FinalizeResponse(ctx context.Context, r *models.Response) error
	SoftDeleteResponse(ctx context.Context, id string) (bool, error)
	ListResponsesByUser(ctx context.Context, userID string) ([]*models.Response, error)

	AddAudit(ctx context.Context, e models.AuditEntry) error
}

// LedgerService records drafts and final submissions per (form, user).
type LedgerService struct {
	store       LedgerStore
	eligibility Eligibility
	loc         *time.Location
	now         func() time.Time
	idGenerator func() string
}

// FormStatus is a form as seen by one respondent.
type FormStatus struct {
	*models.Form
	Answered        bool `json:"answered"`
	HasDraft        bool `json:"has_draft"`
	CanRespondToday bool `json:"can_respond_today"`
}

// NewLedgerService binds the ledger to a store. loc is the timezone that
// defines calendar days for diary forms.
func NewLedgerService(store LedgerStore, eligibility Eligibility, loc *time.Location) *LedgerService {
	if loc == nil {
		loc = time.Local
	}
	return &LedgerService{
		store:       store,
		eligibility: eligibility,
		loc:         loc,
		now:         func() time.Time { return time.Now().UTC() },
		idGenerator: uuid.NewString,
	}
}

func (s *LedgerService) loadForm(ctx context.Context, formID string) (*models.Form, error) {
	form, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if form == nil || form.Deleted {
		return nil, NewNotFoundError("form not found")
	}
	return form, nil
}

// SaveDraft upserts the caller's draft. Drafts skip the required-question check.
// A one-shot form that already has a final takes no more drafts; diary drafts
// may be saved for the next day.
func (s *LedgerService) SaveDraft(ctx context.Context, actor Identity, formID string, answers []models.Answer) (*models.Response, error) {
	form, err := s.loadForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if err := s.eligibility.check(form, actor.UserID); err != nil {
		return nil, err
	}
	if form.Mode != models.ModeDiary {
		answered, err := s.store.HasFinalResponse(ctx, form.ID, actor.UserID, nil)
		if err != nil {
			return nil, err
		}
		if answered {
			return nil, NewConflictError("already answered")
		}
	}
	if answers == nil {
		return nil, NewInvalidError("answers must be an array")
	}
	for _, a := range answers {
		if err := checkBelongs(form, a.QuestionID); err != nil {
			return nil, err
		}
	}
	now := s.now()
	draft := &models.Response{
		ID:           s.idGenerator(),
		FormID:       form.ID,
		UserID:       actor.UserID,
		Answers:      answers,
		IsDraft:      true,
		LastModified: now,
	}
	return s.store.UpsertDraft(ctx, draft)
}

// GetDraft returns the caller's live draft or nil.
func (s *LedgerService) GetDraft(ctx context.Context, actor Identity, formID string) (*models.Response, error) {
	if _, err := s.loadForm(ctx, formID); err != nil {
		return nil, err
	}
	return s.store.GetDraft(ctx, formID, actor.UserID)
}

func (s *LedgerService) DeleteDraft(ctx context.Context, actor Identity, formID string) error {
	ok, err := s.store.SoftDeleteDraft(ctx, formID, actor.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("draft not found")
	}
	return nil
}

// CanRespondToday reports whether a submit right now would pass the
// eligibility and uniqueness rules. Diary forms check today's window only.
func (s *LedgerService) CanRespondToday(ctx context.Context, actor Identity, formID string) (bool, error) {
	form, err := s.loadForm(ctx, formID)
	if err != nil {
		return false, err
	}
	return s.canRespond(ctx, form, actor.UserID)
}

func (s *LedgerService) canRespond(ctx context.Context, form *models.Form, userID string) (bool, error) {
	if !s.eligibility.IsEligible(form, userID) {
		return false, nil
	}
	var window *models.TimeWindow
	if form.Mode == models.ModeDiary {
		w := DayWindow(s.now(), s.loc)
		window = &w
	}
	answered, err := s.store.HasFinalResponse(ctx, form.ID, userID, window)
	if err != nil {
		return false, err
	}
	return !answered, nil
}

// Submit validates answers against the current form definition and records a
// final response. Validation finishes before any write; the first failing rule
// is returned.
func (s *LedgerService) Submit(ctx context.Context, actor Identity, formID string, answers []models.Answer) (*models.Response, error) {
	form, err := s.loadForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if err := s.eligibility.check(form, actor.UserID); err != nil {
		return nil, err
	}

	now := s.now()
	diary := form.Mode == models.ModeDiary
	if diary {
		w := DayWindow(now, s.loc)
		answered, err := s.store.HasFinalResponse(ctx, form.ID, actor.UserID, &w)
		if err != nil {
			return nil, err
		}
		if answered {
			return nil, NewConflictError("already answered today")
		}
	}

	if answers == nil {
		return nil, NewInvalidError("answers must be an array")
	}
	for _, a := range answers {
		if err := checkBelongs(form, a.QuestionID); err != nil {
			return nil, err
		}
	}
	seen := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		if _, dup := seen[a.QuestionID]; dup {
			return nil, NewInvalidError("duplicate answer for question " + a.QuestionID)
		}
		seen[a.QuestionID] = struct{}{}
	}

	questions, err := s.resolveQuestions(ctx, form)
	if err != nil {
		return nil, err
	}
	for _, a := range answers {
		if a.Answer.Empty() {
			return nil, NewInvalidError("answer required for question: " + questionLabel(questions, a.QuestionID))
		}
	}
	for _, qid := range RequiredQuestions(form) {
		q, live := questions[qid]
		if !live {
			continue
		}
		if _, ok := seen[qid]; !ok {
			return nil, NewInvalidError("missing answer for required question: " + q.Title)
		}
	}
	for _, a := range answers {
		if q, ok := questions[a.QuestionID]; ok {
			if err := checkTextRules(q, a.Answer); err != nil {
				return nil, err
			}
		}
	}

	if !diary {
		answered, err := s.store.HasFinalResponse(ctx, form.ID, actor.UserID, nil)
		if err != nil {
			return nil, err
		}
		if answered {
			return nil, NewConflictError("already answered")
		}
	}

	resp := &models.Response{
		ID:           s.idGenerator(),
		FormID:       form.ID,
		UserID:       actor.UserID,
		Answers:      answers,
		IsDraft:      false,
		DayKey:       uniquenessKey(form, now, s.loc),
		SubmittedAt:  now,
		LastModified: now,
	}
	if err := s.store.FinalizeResponse(ctx, resp); err != nil {
		if errors.Is(err, ErrDuplicate) {
			if diary {
				return nil, NewConflictError("already answered today")
			}
			return nil, NewConflictError("already answered")
		}
		return nil, err
	}
	return resp, nil
}

// resolveQuestions loads the live catalog entries referenced by the form.
func (s *LedgerService) resolveQuestions(ctx context.Context, form *models.Form) (map[string]*models.Question, error) {
	out := make(map[string]*models.Question, len(form.Questions))
	for _, fq := range form.Questions {
		q, err := s.store.GetQuestion(ctx, fq.QuestionID)
		if err != nil {
			return nil, err
		}
		if q != nil {
			out[fq.QuestionID] = q
		}
	}
	return out, nil
}

func checkBelongs(form *models.Form, qid string) error {
	if _, err := uuid.Parse(qid); err != nil {
		return NewInvalidError("invalid question id: " + qid)
	}
	if !form.HasQuestion(qid) {
		return NewInvalidError("question does not belong to form")
	}
	return nil
}

func questionLabel(questions map[string]*models.Question, qid string) string {
	if q, ok := questions[qid]; ok && q.Title != "" {
		return q.Title
	}
	return qid
}

func checkTextRules(q *models.Question, v models.AnswerValue) error {
	if q.Type != models.QuestionText || q.Validation == nil {
		return nil
	}
	rules := q.Validation
	text := v.String()
	n := utf8.RuneCountInString(text)
	if rules.MinLength > 0 && n < rules.MinLength {
		return NewInvalidError(fmt.Sprintf("answer to %q must be at least %d characters", q.Title, rules.MinLength))
	}
	if rules.MaxLength > 0 && n > rules.MaxLength {
		return NewInvalidError(fmt.Sprintf("answer to %q must be at most %d characters", q.Title, rules.MaxLength))
	}
	if rules.Pattern != "" {
		re, err := regexp.Compile(rules.Pattern)
		if err != nil {
			return NewInvalidError(fmt.Sprintf("question %q has an invalid pattern", q.Title))
		}
		if !re.MatchString(text) {
			return NewInvalidError(fmt.Sprintf("answer to %q does not match the expected format", q.Title))
		}
	}
	return nil
}

// AvailableForms lists the forms the caller may answer with their per-user state.
func (s *LedgerService) AvailableForms(ctx context.Context, actor Identity) ([]FormStatus, error) {
	forms, err := s.store.ListForms(ctx)
	if err != nil {
		return nil, err
	}
	out := []FormStatus{}
	for _, f := range forms {
		if !s.eligibility.IsEligible(f, actor.UserID) {
			continue
		}
		answered, err := s.store.HasFinalResponse(ctx, f.ID, actor.UserID, nil)
		if err != nil {
			return nil, err
		}
		can, err := s.canRespond(ctx, f, actor.UserID)
		if err != nil {
			return nil, err
		}
		draft, err := s.store.GetDraft(ctx, f.ID, actor.UserID)
		if err != nil {
			return nil, err
		}
		out = append(out, FormStatus{Form: f, Answered: answered, HasDraft: draft != nil, CanRespondToday: can})
	}
	return out, nil
}

func (s *LedgerService) MyResponses(ctx context.Context, actor Identity) ([]*models.Response, error) {
	return s.store.ListResponsesByUser(ctx, actor.UserID)
}

// DeleteResponse soft-deletes a final response; the pair becomes answerable again.
func (s *LedgerService) DeleteResponse(ctx context.Context, actor Identity, id string) error {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return err
	}
	ok, err := s.store.SoftDeleteResponse(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("response not found")
	}
	audit(ctx, s.store, models.AuditEntry{Time: s.now(), Actor: actor.UserID, Action: "delete_response", Target: id})
	return nil
}
