package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/soaringjerry/Quill/internal/models"
	"github.com/soaringjerry/Quill/internal/services"
)

// MemoryStore keeps everything in process. With a path it is loaded from and
// flushed back to a JSON snapshot on Close.
type MemoryStore struct {
	mu        sync.RWMutex
	path      string
	users     map[string]*models.User
	questions map[string]*models.Question
	forms     map[string]*models.Form
	responses []*models.Response
	audit     []models.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     map[string]*models.User{},
		questions: map[string]*models.Question{},
		forms:     map[string]*models.Form{},
		responses: []*models.Response{},
		audit:     []models.AuditEntry{},
	}
}

// NewMemoryStoreFromPath loads the snapshot at path when it exists. A missing
// file yields an empty store that will be written on Close.
func NewMemoryStoreFromPath(path string) (*MemoryStore, error) {
	s := NewMemoryStore()
	s.path = path
	if path == "" {
		return s, nil
	}
	snap, err := LoadSnapshot(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	if err := s.restore(snap); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MemoryStore) restore(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, su := range snap.Users {
		u := su.User
		u.PassHash = su.PassHash
		s.users[u.ID] = &u
	}
	for _, q := range snap.Questions {
		s.questions[q.ID] = cloneQuestion(q)
	}
	for _, f := range snap.Forms {
		s.forms[f.ID] = cloneForm(f)
	}
	for _, sr := range snap.Responses {
		r := sr.Response
		r.DayKey = sr.DayKey
		s.responses = append(s.responses, cloneResponse(&r))
	}
	s.audit = append(s.audit, snap.Audit...)
	return nil
}

// Snapshot copies the full store state, deleted rows included.
func (s *MemoryStore) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &Snapshot{}
	for _, u := range s.users {
		snap.Users = append(snap.Users, SnapshotUser{User: *u, PassHash: u.PassHash})
	}
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].CreatedAt.Before(snap.Users[j].CreatedAt) })
	for _, q := range s.questions {
		snap.Questions = append(snap.Questions, cloneQuestion(q))
	}
	sort.Slice(snap.Questions, func(i, j int) bool { return snap.Questions[i].ID < snap.Questions[j].ID })
	for _, f := range s.forms {
		snap.Forms = append(snap.Forms, cloneForm(f))
	}
	sort.Slice(snap.Forms, func(i, j int) bool { return snap.Forms[i].ID < snap.Forms[j].ID })
	for _, r := range s.responses {
		snap.Responses = append(snap.Responses, SnapshotResponse{Response: *cloneResponse(r), DayKey: r.DayKey})
	}
	snap.Audit = append(snap.Audit, s.audit...)
	return snap
}

// Close writes the snapshot when the store was opened from a path.
func (s *MemoryStore) Close() error {
	if s.path == "" {
		return nil
	}
	b, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	log.Printf("memory store: snapshot written to %s", s.path)
	return os.Rename(tmp, s.path)
}

func cloneQuestion(q *models.Question) *models.Question {
	cp := *q
	cp.Options = append([]models.Option(nil), q.Options...)
	if q.Validation != nil {
		v := *q.Validation
		cp.Validation = &v
	}
	return &cp
}

func cloneForm(f *models.Form) *models.Form {
	cp := *f
	cp.Questions = append([]models.FormQuestion{}, f.Questions...)
	cp.AssignedUsers = append([]string{}, f.AssignedUsers...)
	return &cp
}

func cloneResponse(r *models.Response) *models.Response {
	cp := *r
	cp.Answers = append([]models.Answer{}, r.Answers...)
	return &cp
}

func cloneUser(u *models.User) *models.User {
	cp := *u
	return &cp
}

// users

func (s *MemoryStore) AddUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return services.ErrDuplicate
		}
	}
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *MemoryStore) AddUserFirstAdmin(_ context.Context, u *models.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return false, services.ErrDuplicate
		}
	}
	cp := cloneUser(u)
	promoted := len(s.users) == 0
	if promoted {
		cp.Role = models.RoleAdmin
	}
	s.users[u.ID] = cp
	return promoted, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok && !u.Deleted {
		return cloneUser(u), nil
	}
	return nil, nil
}

func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CountUsers(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.User{}
	for _, u := range s.users {
		if !u.Deleted {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SoftDeleteUser(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.Deleted {
		return false, nil
	}
	u.Deleted = true
	return true, nil
}

// questions

func (s *MemoryStore) InsertQuestion(_ context.Context, q *models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[q.ID]; ok {
		return services.ErrDuplicate
	}
	s.questions[q.ID] = cloneQuestion(q)
	return nil
}

func (s *MemoryStore) UpdateQuestion(_ context.Context, q *models.Question) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.questions[q.ID]
	if !ok || old.Deleted {
		return false, nil
	}
	s.questions[q.ID] = cloneQuestion(q)
	return true, nil
}

func (s *MemoryStore) GetQuestion(_ context.Context, id string) (*models.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if q, ok := s.questions[id]; ok && !q.Deleted {
		return cloneQuestion(q), nil
	}
	return nil, nil
}

func (s *MemoryStore) ListQuestions(_ context.Context) ([]*models.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Question{}
	for _, q := range s.questions {
		if !q.Deleted {
			out = append(out, cloneQuestion(q))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SoftDeleteQuestion(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[id]
	if !ok || q.Deleted {
		return false, nil
	}
	q.Deleted = true
	return true, nil
}

// forms

func (s *MemoryStore) InsertForm(_ context.Context, f *models.Form) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[f.ID]; ok {
		return services.ErrDuplicate
	}
	s.forms[f.ID] = cloneForm(f)
	return nil
}

func (s *MemoryStore) UpdateForm(_ context.Context, f *models.Form) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.forms[f.ID]
	if !ok || old.Deleted {
		return false, nil
	}
	cp := cloneForm(f)
	// activation is owned by SetFormActive
	cp.IsActive = old.IsActive
	s.forms[f.ID] = cp
	return true, nil
}

func (s *MemoryStore) GetForm(_ context.Context, id string) (*models.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.forms[id]; ok && !f.Deleted {
		return cloneForm(f), nil
	}
	return nil, nil
}

func (s *MemoryStore) ListForms(_ context.Context) ([]*models.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Form{}
	for _, f := range s.forms {
		if !f.Deleted {
			out = append(out, cloneForm(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SoftDeleteForm(_ context.Context, id string) (bool, error) {
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

func (s *MemoryStore) SetFormActive(_ context.Context, id string, active, exclusive bool) (bool, error) {
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

// responses

func (s *MemoryStore) liveDraft(formID, userID string) *models.Response {
	for _, r := range s.responses {
		if r.FormID == formID && r.UserID == userID && r.IsDraft && !r.Deleted {
			return r
		}
	}
	return nil
}

func (s *MemoryStore) GetDraft(_ context.Context, formID, userID string) (*models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d := s.liveDraft(formID, userID); d != nil {
		return cloneResponse(d), nil
	}
	return nil, nil
}

func (s *MemoryStore) UpsertDraft(_ context.Context, d *models.Response) (*models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.liveDraft(d.FormID, d.UserID); existing != nil {
		existing.Answers = append([]models.Answer{}, d.Answers...)
		existing.LastModified = d.LastModified
		return cloneResponse(existing), nil
	}
	s.responses = append(s.responses, cloneResponse(d))
	return cloneResponse(d), nil
}

func (s *MemoryStore) SoftDeleteDraft(_ context.Context, formID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.liveDraft(formID, userID); d != nil {
		d.Deleted = true
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) HasFinalResponse(_ context.Context, formID, userID string, window *models.TimeWindow) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
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

// FinalizeResponse checks the (form, user, day key) guard and swaps the draft
// for the final response under one lock.
func (s *MemoryStore) FinalizeResponse(_ context.Context, resp *models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.responses {
		if r.FormID == resp.FormID && r.UserID == resp.UserID && !r.IsDraft && !r.Deleted && r.DayKey == resp.DayKey {
			return services.ErrDuplicate
		}
	}
	if d := s.liveDraft(resp.FormID, resp.UserID); d != nil {
		d.Deleted = true
	}
	s.responses = append(s.responses, cloneResponse(resp))
	return nil
}

func (s *MemoryStore) SoftDeleteResponse(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.responses {
		if r.ID == id && !r.IsDraft && !r.Deleted {
			r.Deleted = true
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListResponsesByUser(_ context.Context, userID string) ([]*models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Response{}
	for _, r := range s.responses {
		if r.UserID == userID && !r.IsDraft && !r.Deleted {
			out = append(out, cloneResponse(r))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListFinalResponses(_ context.Context, formID string) ([]*models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Response{}
	for _, r := range s.responses {
		if r.FormID == formID && !r.IsDraft && !r.Deleted {
			out = append(out, cloneResponse(r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// audit log

func (s *MemoryStore) AddAudit(_ context.Context, e models.AuditEntry) error {
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListAudit(_ context.Context, limit int) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AuditEntry, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.audit[i])
	}
	return out, nil
}
