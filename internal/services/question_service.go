package services

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soaringjerry/Quill/internal/models"
)

type QuestionStore interface {
	InsertQuestion(ctx context.Context, q *models.Question) error
	UpdateQuestion(ctx context.Context, q *models.Question) (bool, error)
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	ListQuestions(ctx context.Context) ([]*models.Question, error)
	SoftDeleteQuestion(ctx context.Context, id string) (bool, error)
	AddAudit(ctx context.Context, e models.AuditEntry) error
}

// QuestionService owns the reusable question catalog.
type QuestionService struct {
	store QuestionStore
	now   func() time.Time
	idGen func() string
}

type QuestionInput struct {
	Title      string
	Type       models.QuestionType
	Options    []models.Option
	Validation *models.ValidationRules
}

func NewQuestionService(store QuestionStore) *QuestionService {
	return &QuestionService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: uuid.NewString,
	}
}

func (s *QuestionService) Create(ctx context.Context, actor Identity, in QuestionInput) (*models.Question, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	if err := validateQuestionInput(&in); err != nil {
		return nil, err
	}
	now := s.now()
	q := &models.Question{
		ID:         s.idGen(),
		Title:      in.Title,
		Type:       in.Type,
		Options:    in.Options,
		Validation: in.Validation,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.InsertQuestion(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// Update edits a question in place. Forms referencing it see the new content on
// their next read; nothing is snapshotted.
func (s *QuestionService) Update(ctx context.Context, actor Identity, id string, in QuestionInput) (*models.Question, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	q, err := s.store.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, NewNotFoundError("question not found")
	}
	if err := validateQuestionInput(&in); err != nil {
		return nil, err
	}
	q.Title = in.Title
	q.Type = in.Type
	q.Options = in.Options
	q.Validation = in.Validation
	q.UpdatedAt = s.now()
	ok, err := s.store.UpdateQuestion(ctx, q)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewNotFoundError("question not found")
	}
	return q, nil
}

func (s *QuestionService) Get(ctx context.Context, id string) (*models.Question, error) {
	q, err := s.store.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, NewNotFoundError("question not found")
	}
	return q, nil
}

func (s *QuestionService) List(ctx context.Context) ([]*models.Question, error) {
	return s.store.ListQuestions(ctx)
}

func (s *QuestionService) Delete(ctx context.Context, actor Identity, id string) error {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return err
	}
	ok, err := s.store.SoftDeleteQuestion(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("question not found")
	}
	audit(ctx, s.store, models.AuditEntry{Time: s.now(), Actor: actor.UserID, Action: "delete_question", Target: id})
	return nil
}

func validateQuestionInput(in *QuestionInput) error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return NewInvalidError("title required")
	}
	if !in.Type.Valid() {
		return NewInvalidError("unknown question type")
	}
	if in.Type.HasOptions() {
		if len(in.Options) == 0 {
			return NewInvalidError("options required for " + string(in.Type))
		}
		seen := make(map[string]struct{}, len(in.Options))
		for i := range in.Options {
			o := &in.Options[i]
			o.Value = strings.TrimSpace(o.Value)
			if o.Value == "" {
				return NewInvalidError("option value required")
			}
			if _, dup := seen[o.Value]; dup {
				return NewInvalidError("duplicate option value: " + o.Value)
			}
			seen[o.Value] = struct{}{}
			if strings.TrimSpace(o.Label) == "" {
				o.Label = o.Value
			}
		}
	} else {
		in.Options = nil
	}
	if in.Validation != nil {
		if in.Type != models.QuestionText {
			return NewInvalidError("validation rules apply to text questions only")
		}
		v := in.Validation
		if v.MinLength < 0 || v.MaxLength < 0 {
			return NewInvalidError("length limits must be non-negative")
		}
		if v.MaxLength > 0 && v.MinLength > v.MaxLength {
			return NewInvalidError("minLength exceeds maxLength")
		}
		if v.Pattern != "" {
			if _, err := regexp.Compile(v.Pattern); err != nil {
				return NewInvalidError("invalid pattern")
			}
		}
	}
	return nil
}
