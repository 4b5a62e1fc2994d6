package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/soaringjerry/Quill/internal/models"
)

const (
	qMood  = "11111111-1111-4111-8111-111111111111"
	qNotes = "22222222-2222-4222-8222-222222222222"
	qTags  = "33333333-3333-4333-8333-333333333333"
	qScale = "44444444-4444-4444-8444-444444444444"
	qDate  = "55555555-5555-4555-8555-555555555555"
	qOther = "66666666-6666-4666-8666-666666666666"
)

var (
	adminID   = Identity{UserID: "admin", Role: models.RoleAdmin}
	analystID = Identity{UserID: "analyst", Role: models.RoleTeacherAnalyst}
	aliceID   = Identity{UserID: "alice", Role: models.RoleStudent}
	bobID     = Identity{UserID: "bob", Role: models.RoleStudent}
)

// seedCatalog installs users and one question per type.
func seedCatalog(t *testing.T, store *stubStore) {
	t.Helper()
	for _, u := range []*models.User{
		{ID: "admin", Name: "Admin", Email: "admin@example.com", Role: models.RoleAdmin},
		{ID: "analyst", Name: "Ana", Email: "ana@example.com", Role: models.RoleTeacherAnalyst},
		{ID: "alice", Name: "Alice", Email: "alice@example.com", Role: models.RoleStudent},
		{ID: "bob", Name: "Bob", Email: "bob@example.com", Role: models.RoleStudent, Anonymous: true},
	} {
		store.users[u.ID] = u
	}
	opts := []models.Option{{Label: "A", Value: "a"}, {Label: "B", Value: "b"}, {Label: "C", Value: "c"}}
	for _, q := range []*models.Question{
		{ID: qMood, Title: "Mood", Type: models.QuestionMultipleChoice, Options: opts},
		{ID: qNotes, Title: "Notes", Type: models.QuestionText},
		{ID: qTags, Title: "Tags", Type: models.QuestionCheckbox, Options: opts},
		{ID: qScale, Title: "Energy", Type: models.QuestionScale},
		{ID: qDate, Title: "When", Type: models.QuestionDate},
		{ID: qOther, Title: "Energy", Type: models.QuestionScale},
	} {
		store.questions[q.ID] = q
	}
}

// seedForm stores an active form assigned to alice and bob.
func seedForm(store *stubStore, id string, mode models.FormMode, entries ...models.FormQuestion) *models.Form {
	for i := range entries {
		entries[i].Order = i + 1
	}
	f := &models.Form{
		ID:            id,
		Title:         "Form " + id,
		Mode:          mode,
		Questions:     entries,
		AssignedUsers: []string{"alice", "bob"},
		IsActive:      true,
	}
	store.forms[id] = f
	return f
}

func req(qid string) models.FormQuestion { return models.FormQuestion{QuestionID: qid, Required: true} }
func opt(qid string) models.FormQuestion { return models.FormQuestion{QuestionID: qid} }

func answer(qid, v string) models.Answer {
	return models.Answer{QuestionID: qid, Answer: models.Single(v)}
}

// newTestLedger pins the clock to *clock and numbers response ids.
func newTestLedger(store *stubStore, clock *time.Time) *LedgerService {
	svc := NewLedgerService(store, Eligibility{}, time.UTC)
	svc.now = func() time.Time { return *clock }
	n := 0
	svc.idGenerator = func() string {
		n++
		return fmt.Sprintf("resp-%d", n)
	}
	return svc
}
