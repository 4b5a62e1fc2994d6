package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soaringjerry/Quill/internal/models"
)

type FormStore interface {
	InsertForm(ctx context.Context, f *models.Form) error
	UpdateForm(ctx context.Context, f *models.Form) (bool, error)
	GetForm(ctx context.Context, id string) (*models.Form, error)
	ListForms(ctx context.Context) ([]*models.Form, error)
	SoftDeleteForm(ctx context.Context, id string) (bool, error)
	// SetFormActive flips the active flag. With exclusive=true every other form
	// is deactivated in the same atomic write.
	SetFormActive(ctx context.Context, id string, active, exclusive bool) (bool, error)
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	AddAudit(ctx context.Context, e models.AuditEntry) error
}

// FormService composes forms: ordered questions, assignments, activation.
type FormService struct {
	store       FormStore
	eligibility Eligibility
	now         func() time.Time
	idGen       func() string
}

type FormQuestionInput struct {
	QuestionID string
	Required   bool
}

type FormInput struct {
	Title         string
	Description   string
	Mode          models.FormMode
	Questions     []FormQuestionInput
	AssignedUsers []string
}

// ResolvedQuestion is a form entry joined with its live catalog definition.
type ResolvedQuestion struct {
	*models.Question
	Order    int  `json:"order"`
	Required bool `json:"required"`
}

type FormDetail struct {
	*models.Form
	ResolvedQuestions []ResolvedQuestion `json:"resolved_questions"`
}

func NewFormService(store FormStore, eligibility Eligibility) *FormService {
	return &FormService{
		store:       store,
		eligibility: eligibility,
		now:         func() time.Time { return time.Now().UTC() },
		idGen:       uuid.NewString,
	}
}

func (s *FormService) Create(ctx context.Context, actor Identity, in FormInput) (*models.Form, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	f := &models.Form{ID: s.idGen(), CreatedBy: actor.UserID}
	if err := s.apply(ctx, f, in); err != nil {
		return nil, err
	}
	f.CreatedAt = f.UpdatedAt
	if err := s.store.InsertForm(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Update replaces the form definition. Required flags take effect for later
// submissions only; stored responses are untouched.
func (s *FormService) Update(ctx context.Context, actor Identity, id string, in FormInput) (*models.Form, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	f, err := s.store.GetForm(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, NewNotFoundError("form not found")
	}
	if err := s.apply(ctx, f, in); err != nil {
		return nil, err
	}
	ok, err := s.store.UpdateForm(ctx, f)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewNotFoundError("form not found")
	}
	return f, nil
}

func (s *FormService) apply(ctx context.Context, f *models.Form, in FormInput) error {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return NewInvalidError("title required")
	}
	mode := in.Mode
	if mode == "" {
		mode = models.ModeForm
	}
	if mode != models.ModeForm && mode != models.ModeDiary {
		return NewInvalidError("unknown form mode")
	}
	questions := make([]models.FormQuestion, 0, len(in.Questions))
	seen := map[string]struct{}{}
	for i, fq := range in.Questions {
		if _, dup := seen[fq.QuestionID]; dup {
			return NewInvalidError("duplicate question in form: " + fq.QuestionID)
		}
		seen[fq.QuestionID] = struct{}{}
		q, err := s.store.GetQuestion(ctx, fq.QuestionID)
		if err != nil {
			return err
		}
		if q == nil {
			return NewNotFoundError("question not found: " + fq.QuestionID)
		}
		questions = append(questions, models.FormQuestion{QuestionID: q.ID, Order: i + 1, Required: fq.Required})
	}
	assigned, err := s.resolveAssignees(ctx, in.AssignedUsers)
	if err != nil {
		return err
	}
	f.Title = title
	f.Description = strings.TrimSpace(in.Description)
	f.Mode = mode
	f.Questions = questions
	f.AssignedUsers = assigned
	f.UpdatedAt = s.now()
	return nil
}

func (s *FormService) resolveAssignees(ctx context.Context, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := map[string]struct{}{}
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		u, err := s.store.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, NewNotFoundError("user not found: " + id)
		}
		out = append(out, id)
	}
	return out, nil
}

// Assign replaces the form's assignment list.
func (s *FormService) Assign(ctx context.Context, actor Identity, id string, userIDs []string) (*models.Form, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	f, err := s.store.GetForm(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, NewNotFoundError("form not found")
	}
	assigned, err := s.resolveAssignees(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	f.AssignedUsers = assigned
	f.UpdatedAt = s.now()
	ok, err := s.store.UpdateForm(ctx, f)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewNotFoundError("form not found")
	}
	return f, nil
}

// SetActive activates or deactivates a form. In single-active mode activating
// a form deactivates every other form in the same write.
func (s *FormService) SetActive(ctx context.Context, actor Identity, id string, active bool) (*models.Form, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	exclusive := active && s.eligibility.SingleActive
	ok, err := s.store.SetFormActive(ctx, id, active, exclusive)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewNotFoundError("form not found")
	}
	action := "deactivate_form"
	if active {
		action = "activate_form"
	}
	audit(ctx, s.store, models.AuditEntry{Time: s.now(), Actor: actor.UserID, Action: action, Target: id})
	return s.store.GetForm(ctx, id)
}

func (s *FormService) Delete(ctx context.Context, actor Identity, id string) error {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return err
	}
	ok, err := s.store.SoftDeleteForm(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("form not found")
	}
	audit(ctx, s.store, models.AuditEntry{Time: s.now(), Actor: actor.UserID, Action: "delete_form", Target: id})
	return nil
}

// List returns every live form to staff and only answerable forms to respondents.
func (s *FormService) List(ctx context.Context, actor Identity) ([]*models.Form, error) {
	forms, err := s.store.ListForms(ctx)
	if err != nil {
		return nil, err
	}
	if actor.HasRole(models.RoleAdmin, models.RoleTeacherAnalyst) {
		return forms, nil
	}
	out := make([]*models.Form, 0, len(forms))
	for _, f := range forms {
		if s.eligibility.IsEligible(f, actor.UserID) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Get returns the form with its questions resolved in declared order.
// Deleted questions are dropped from the resolved list.
func (s *FormService) Get(ctx context.Context, actor Identity, id string) (*FormDetail, error) {
	f, err := s.store.GetForm(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, NewNotFoundError("form not found")
	}
	if !actor.HasRole(models.RoleAdmin, models.RoleTeacherAnalyst) {
		if err := s.eligibility.check(f, actor.UserID); err != nil {
			return nil, err
		}
	}
	detail := &FormDetail{Form: f, ResolvedQuestions: make([]ResolvedQuestion, 0, len(f.Questions))}
	for _, fq := range f.Questions {
		q, err := s.store.GetQuestion(ctx, fq.QuestionID)
		if err != nil {
			return nil, err
		}
		if q == nil {
			continue
		}
		detail.ResolvedQuestions = append(detail.ResolvedQuestions, ResolvedQuestion{Question: q, Order: fq.Order, Required: fq.Required})
	}
	return detail, nil
}
