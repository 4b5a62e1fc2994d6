package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/soaringjerry/Quill/internal/models"
)

type ExportStore interface {
	AnalyticsStore
	GetUser(ctx context.Context, id string) (*models.User, error)
}

const (
	anonymousName = "Anonymous"
	unknownName   = "Unknown"
)

type ExportRow struct {
	ResponseID  string            `json:"response_id"`
	Name        string            `json:"name"`
	Email       string            `json:"email"`
	SubmittedAt time.Time         `json:"submitted_at"`
	Answers     map[string]string `json:"answers"`
}

type FormExport struct {
	FormID         string      `json:"form_id"`
	FormTitle      string      `json:"form_title"`
	TotalResponses int         `json:"total_responses"`
	Columns        []string    `json:"columns"`
	Rows           []ExportRow `json:"rows"`
}

type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

type ExportService struct {
	store ExportStore
}

func NewExportService(store ExportStore) *ExportService {
	return &ExportService{store: store}
}

// ExportForm pivots final responses to one row per response with a column per
// live question, keyed by the question title.
func (s *ExportService) ExportForm(ctx context.Context, actor Identity, formID string) (*FormExport, error) {
	if err := canReadDashboard(actor); err != nil {
		return nil, err
	}
	form, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if form == nil {
		return nil, NewNotFoundError("form not found")
	}
	questions, err := liveQuestions(ctx, s.store, form)
	if err != nil {
		return nil, err
	}
	responses, err := s.store.ListFinalResponses(ctx, form.ID)
	if err != nil {
		return nil, err
	}
	columns := columnNames(questions)
	out := &FormExport{
		FormID:         form.ID,
		FormTitle:      form.Title,
		TotalResponses: len(responses),
		Columns:        columns,
		Rows:           make([]ExportRow, 0, len(responses)),
	}
	users := map[string]*models.User{}
	for _, r := range responses {
		u, seen := users[r.UserID]
		if !seen {
			if u, err = s.store.GetUser(ctx, r.UserID); err != nil {
				return nil, err
			}
			users[r.UserID] = u
		}
		row := ExportRow{ResponseID: r.ID, SubmittedAt: r.SubmittedAt, Answers: make(map[string]string, len(questions))}
		switch {
		case u == nil:
			row.Name = unknownName
		case u.Anonymous:
			row.Name = anonymousName
		default:
			row.Name, row.Email = u.Name, u.Email
		}
		for i, q := range questions {
			if v, ok := r.AnswerFor(q.ID); ok && v.Present() {
				row.Answers[columns[i]] = v.String()
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// ExportCSV renders the same pivot as CSV.
func (s *ExportService) ExportCSV(ctx context.Context, actor Identity, formID string) (*ExportResult, error) {
	exp, err := s.ExportForm(ctx, actor, formID)
	if err != nil {
		return nil, err
	}
	b, err := ExportRowsCSV(exp)
	if err != nil {
		return nil, err
	}
	return &ExportResult{
		Filename:    "form-" + exp.FormID + ".csv",
		ContentType: "text/csv; charset=utf-8",
		Data:        b,
	}, nil
}

// ExportRowsCSV writes Name, Email, Submitted At, then one column per question.
func ExportRowsCSV(exp *FormExport) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	header := append([]string{"Name", "Email", "Submitted At"}, exp.Columns...)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, row := range exp.Rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, row.Name, row.Email, row.SubmittedAt.UTC().Format(time.RFC3339))
		for _, col := range exp.Columns {
			rec = append(rec, row.Answers[col])
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// columnNames keys columns by question title, suffixing repeats.
func columnNames(questions []*models.Question) []string {
	out := make([]string, 0, len(questions))
	used := map[string]struct{}{}
	for _, q := range questions {
		name := q.Title
		if _, ok := used[name]; ok {
			for i := 2; ; i++ {
				cand := fmt.Sprintf("%s (%d)", q.Title, i)
				if _, ok := used[cand]; !ok {
					name = cand
					break
				}
			}
		}
		used[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
