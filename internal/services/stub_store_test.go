package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/soaringjerry/Quill/internal/models"
)

// stubStore is an in-memory store shared by the service tests. It mirrors the
// persistent stores' contract: live reads only, one live draft per pair and one
// live final per (form, user, day key).
type stubStore struct {
	mu        sync.Mutex
	users     map[string]*models.User
	questions map[string]*models.Question
	forms     map[string]*models.Form
	responses []*models.Response
	audit     []models.AuditEntry

	failFinalize error
	finalizes    int
}

func newStubStore() *stubStore {
	return &stubStore{
		users:     map[string]*models.User{},
		questions: map[string]*models.Question{},
		forms:     map[string]*models.Form{},
	}
}

func cloneResponse(r *models.Response) *models.Response {
	cp := *r
	cp.Answers = append([]models.Answer(nil), r.Answers...)
	return &cp
}

func (s *stubStore) AddUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *stubStore) AddUserFirstAdmin(_ context.Context, u *models.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	promoted := len(s.users) == 0
	if promoted {
		cp.Role = models.RoleAdmin
	}
	s.users[u.ID] = &cp
	return promoted, nil
}

func (s *stubStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok && !u.Deleted {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *stubStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubStore) CountUsers(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users), nil
}

func (s *stubStore) ListUsers(_ context.Context) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.User{}
	for _, u := range s.users {
		if !u.Deleted {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubStore) SoftDeleteUser(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.Deleted {
		return false, nil
	}
	u.Deleted = true
	return true, nil
}

func (s *stubStore) AddAudit(_ context.Context, e models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *stubStore) InsertQuestion(_ context.Context, q *models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *q
	s.questions[q.ID] = &cp
	return nil
}

func (s *stubStore) UpdateQuestion(_ context.Context, q *models.Question) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.questions[q.ID]; !ok || old.Deleted {
		return false, nil
	}
	cp := *q
	s.questions[q.ID] = &cp
	return true, nil
}

func (s *stubStore) GetQuestion(_ context.Context, id string) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.questions[id]; ok && !q.Deleted {
		cp := *q
		return &cp, nil
	}
	return nil, nil
}

func (s *stubStore) ListQuestions(_ context.Context) ([]*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Question{}
	for _, q := range s.questions {
		if !q.Deleted {
			cp := *q
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubStore) SoftDeleteQuestion(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[id]
	if !ok || q.Deleted {
		return false, nil
	}
	q.Deleted = true
	return true, nil
}

func (s *stubStore) InsertForm(_ context.Context, f *models.Form) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	s.forms[f.ID] = &cp
	return nil
}

func (s *stubStore) UpdateForm(_ context.Context, f *models.Form) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.forms[f.ID]; !ok || old.Deleted {
		return false, nil
	}
	cp := *f
	s.forms[f.ID] = &cp
	return true, nil
}

func (s *stubStore) GetForm(_ context.Context, id string) (*models.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.forms[id]; ok && !f.Deleted {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (s *stubStore) ListForms(_ context.Context) ([]*models.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Form{}
	for _, f := range s.forms {
		if !f.Deleted {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubStore) SoftDeleteForm(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.forms[id]
	if !ok || f.Deleted {
		return false, nil
	}
	f.Deleted = true
	f.IsActive = false
	return true, nil
}

func (s *stubStore) SetFormActive(_ context.Context, id string, active, exclusive bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.forms[id]
	if !ok || f.Deleted {
		return false, nil
	}
	if exclusive {
		for _, other := range s.forms {
			other.IsActive = false
		}
	}
	f.IsActive = active
	return true, nil
}

func (s *stubStore) GetDraft(_ context.Context, formID, userID string) (*models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.responses {
		if r.FormID == formID && r.UserID == userID && r.IsDraft && !r.Deleted {
			return cloneResponse(r), nil
		}
	}
	return nil, nil
}

func (s *stubStore) UpsertDraft(_ context.Context, d *models.Response) (*models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.responses {
		if r.FormID == d.FormID && r.UserID == d.UserID && r.IsDraft && !r.Deleted {
			r.Answers = append([]models.Answer(nil), d.Answers...)
			r.LastModified = d.LastModified
			return cloneResponse(r), nil
		}
	}
	s.responses = append(s.responses, cloneResponse(d))
	return cloneResponse(d), nil
}

func (s *stubStore) SoftDeleteDraft(_ context.Context, formID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.responses {
		if r.FormID == formID && r.UserID == userID && r.IsDraft && !r.Deleted {
			r.Deleted = true
			return true, nil
		}
	}
	return false, nil
}

func (s *stubStore) HasFinalResponse(_ context.Context, formID, userID string, window *models.TimeWindow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.responses {
		if r.FormID != formID || r.UserID != userID || r.IsDraft || r.Deleted {
			continue
		}
		if window == nil || window.Contains(r.SubmittedAt) {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubStore) FinalizeResponse(_ context.Context, resp *models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizes++
	if s.failFinalize != nil {
		return s.failFinalize
	}
	for _, r := range s.responses {
		if r.FormID == resp.FormID && r.UserID == resp.UserID && !r.IsDraft && !r.Deleted && r.DayKey == resp.DayKey {
			return ErrDuplicate
		}
	}
	for _, r := range s.responses {
		if r.FormID == resp.FormID && r.UserID == resp.UserID && r.IsDraft && !r.Deleted {
			r.Deleted = true
		}
	}
	s.responses = append(s.responses, cloneResponse(resp))
	return nil
}

func (s *stubStore) SoftDeleteResponse(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.responses {
		if r.ID == id && !r.Deleted {
			r.Deleted = true
			return true, nil
		}
	}
	return false, nil
}

func (s *stubStore) ListResponsesByUser(_ context.Context, userID string) ([]*models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Response{}
	for _, r := range s.responses {
		if r.UserID == userID && !r.IsDraft && !r.Deleted {
			out = append(out, cloneResponse(r))
		}
	}
	return out, nil
}

func (s *stubStore) ListFinalResponses(_ context.Context, formID string) ([]*models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Response{}
	for _, r := range s.responses {
		if r.FormID == formID && !r.IsDraft && !r.Deleted {
			out = append(out, cloneResponse(r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// liveFinals counts live final responses for a pair, bypassing the API.
func (s *stubStore) liveFinals(formID, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.responses {
		if r.FormID == formID && r.UserID == userID && !r.IsDraft && !r.Deleted {
			n++
		}
	}
	return n
}

func (s *stubStore) liveDrafts(formID, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.responses {
		if r.FormID == formID && r.UserID == userID && r.IsDraft && !r.Deleted {
			n++
		}
	}
	return n
}

var errStoreDown = errors.New("store unavailable")
