package services

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/soaringjerry/Quill/internal/models"
)

func TestExportFormPivotsRows(t *testing.T) {
	ctx := context.Background()
	store := newStubStore()
	seedCatalog(t, store)
	seedForm(store, "f1", models.ModeForm, opt(qScale), opt(qTags), opt(qOther))
	addFinal(store, "f1", "alice", 1, answer(qScale, "4"), models.Answer{QuestionID: qTags, Answer: models.Multiple("a", "c")})
	addFinal(store, "f1", "bob", 2, answer(qOther, "2"))
	addFinal(store, "f1", "ghost", 3, answer(qScale, "1"))
	svc := NewExportService(store)

	exp, err := svc.ExportForm(ctx, analystID, "f1")
	if err != nil {
		t.Fatalf("ExportForm: %v", err)
	}
	wantCols := []string{"Energy", "Tags", "Energy (2)"}
	if strings.Join(exp.Columns, "|") != strings.Join(wantCols, "|") {
		t.Fatalf("columns = %v", exp.Columns)
	}
	if exp.TotalResponses != 3 || len(exp.Rows) != 3 {
		t.Fatalf("rows = %d", len(exp.Rows))
	}
	alice := exp.Rows[0]
	if alice.Name != "Alice" || alice.Email != "alice@example.com" {
		t.Fatalf("alice row = %+v", alice)
	}
	if alice.Answers["Tags"] != "a, c" || alice.Answers["Energy"] != "4" {
		t.Fatalf("alice answers = %v", alice.Answers)
	}
	if _, ok := alice.Answers["Energy (2)"]; ok {
		t.Fatalf("unanswered question should be absent: %v", alice.Answers)
	}
	bob := exp.Rows[1]
	if bob.Name != "Anonymous" || bob.Email != "" || bob.Answers["Energy (2)"] != "2" {
		t.Fatalf("bob row = %+v", bob)
	}
	if exp.Rows[2].Name != "Unknown" {
		t.Fatalf("missing user row = %+v", exp.Rows[2])
	}
}

func TestExportCSV(t *testing.T) {
	ctx := context.Background()
	store := newStubStore()
	seedCatalog(t, store)
	seedForm(store, "f1", models.ModeForm, opt(qNotes))
	addFinal(store, "f1", "alice", 1, answer(qNotes, "hello, \"world\""))
	svc := NewExportService(store)

	if _, err := svc.ExportCSV(ctx, aliceID, "f1"); !IsCode(err, ErrorForbidden) {
		t.Fatalf("students cannot export, got %v", err)
	}
	res, err := svc.ExportCSV(ctx, adminID, "f1")
	if err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	if res.Filename != "form-f1.csv" || !strings.HasPrefix(res.ContentType, "text/csv") {
		t.Fatalf("unexpected result meta %+v", res)
	}
	records, err := csv.NewReader(strings.NewReader(string(res.Data))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %v", records)
	}
	if strings.Join(records[0], "|") != "Name|Email|Submitted At|Notes" {
		t.Fatalf("header = %v", records[0])
	}
	row := records[1]
	if row[0] != "Alice" || row[2] != "2025-03-01T09:01:00Z" || row[3] != "hello, \"world\"" {
		t.Fatalf("row = %v", row)
	}
}

func TestExportMissingForm(t *testing.T) {
	svc := NewExportService(newStubStore())
	if _, err := svc.ExportForm(context.Background(), adminID, "nope"); !IsCode(err, ErrorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
