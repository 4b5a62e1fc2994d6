package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/soaringjerry/Quill/internal/models"
	"github.com/soaringjerry/Quill/internal/services"
)

// Requires a replica set, e.g. QUILL_TEST_MONGO_URI=mongodb://localhost:27017/?replicaSet=rs0
func openMongoTestStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("QUILL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("QUILL_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	dbName := fmt.Sprintf("quill_test_%d", time.Now().UnixNano())
	s, err := OpenMongo(ctx, uri, dbName)
	if err != nil {
		t.Fatalf("OpenMongo: %v", err)
	}
	t.Cleanup(func() {
		_ = s.client.Database(dbName).Drop(context.Background())
		_ = s.Close()
	})
	return s
}

func TestMongoDraftAndFinalize(t *testing.T) {
	ctx := context.Background()
	s := openMongoTestStore(t)
	now := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	draft := &models.Response{ID: "d1", FormID: "f1", UserID: "u1", IsDraft: true, LastModified: now,
		Answers: []models.Answer{{QuestionID: "q1", Answer: models.Multiple("a", "b")}}}
	if _, err := s.UpsertDraft(ctx, draft); err != nil {
		t.Fatalf("UpsertDraft: %v", err)
	}
	got, err := s.UpsertDraft(ctx, &models.Response{ID: "d2", FormID: "f1", UserID: "u1", IsDraft: true, LastModified: now,
		Answers: []models.Answer{{QuestionID: "q1", Answer: models.Single("c")}}})
	if err != nil || got.ID != "d1" || got.Answers[0].Answer.String() != "c" {
		t.Fatalf("UpsertDraft overwrite = %+v, %v", got, err)
	}

	final := &models.Response{ID: "r1", FormID: "f1", UserID: "u1", SubmittedAt: now, LastModified: now,
		Answers: []models.Answer{{QuestionID: "q1", Answer: models.Multiple("a", "b")}}}
	if err := s.FinalizeResponse(ctx, final); err != nil {
		t.Fatalf("FinalizeResponse: %v", err)
	}
	if d, _ := s.GetDraft(ctx, "f1", "u1"); d != nil {
		t.Fatalf("draft survived finalize")
	}
	dup := &models.Response{ID: "r2", FormID: "f1", UserID: "u1", SubmittedAt: now, LastModified: now}
	if err := s.FinalizeResponse(ctx, dup); !errors.Is(err, services.ErrDuplicate) {
		t.Fatalf("duplicate final: %v", err)
	}
	rs, err := s.ListFinalResponses(ctx, "f1")
	if err != nil || len(rs) != 1 || !rs[0].Answers[0].Answer.IsMultiple() {
		t.Fatalf("ListFinalResponses = %+v, %v", rs, err)
	}
	if ok, _ := s.HasFinalResponse(ctx, "f1", "u1", nil); !ok {
		t.Fatalf("HasFinalResponse = false")
	}
}

func TestMongoUsersAndForms(t *testing.T) {
	ctx := context.Background()
	s := openMongoTestStore(t)
	now := time.Now().UTC()
	if err := s.AddUser(ctx, &models.User{ID: "u1", Email: "A@example.com", Role: models.RoleAdmin, CreatedAt: now}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := s.AddUser(ctx, &models.User{ID: "u2", Email: "a@example.com", Role: models.RoleStudent, CreatedAt: now}); !errors.Is(err, services.ErrDuplicate) {
		t.Fatalf("duplicate email: %v", err)
	}
	for _, id := range []string{"f1", "f2"} {
		if err := s.InsertForm(ctx, &models.Form{ID: id, Title: id, Mode: models.ModeForm, CreatedAt: now, UpdatedAt: now}); err != nil {
			t.Fatalf("InsertForm: %v", err)
		}
	}
	_, _ = s.SetFormActive(ctx, "f2", true, false)
	if ok, err := s.SetFormActive(ctx, "f1", true, true); !ok || err != nil {
		t.Fatalf("SetFormActive: %v %v", ok, err)
	}
	f2, _ := s.GetForm(ctx, "f2")
	if f2 == nil || f2.IsActive {
		t.Fatalf("f2 = %+v", f2)
	}
	if err := s.AddAudit(ctx, models.AuditEntry{Time: now, Actor: "u1", Action: "activate_form", Target: "f1"}); err != nil {
		t.Fatalf("AddAudit: %v", err)
	}
	entries, err := s.ListAudit(ctx, 10)
	if err != nil || len(entries) != 1 || entries[0].Target != "f1" {
		t.Fatalf("ListAudit = %+v, %v", entries, err)
	}
}

func TestMongoFirstAdminClaimedOnce(t *testing.T) {
	ctx := context.Background()
	s := openMongoTestStore(t)
	first, err := s.AddUserFirstAdmin(ctx, &models.User{ID: "u1", Email: "one@example.com", Role: models.RoleStudent})
	if err != nil || !first {
		t.Fatalf("first AddUserFirstAdmin = %v, %v", first, err)
	}
	second, err := s.AddUserFirstAdmin(ctx, &models.User{ID: "u2", Email: "two@example.com", Role: models.RoleStudent})
	if err != nil || second {
		t.Fatalf("second AddUserFirstAdmin = %v, %v", second, err)
	}
	u, _ := s.GetUser(ctx, "u1")
	if u == nil || u.Role != models.RoleAdmin {
		t.Fatalf("u1 = %+v", u)
	}
}
