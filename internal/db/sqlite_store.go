package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/soaringjerry/Quill/internal/api"
	"github.com/soaringjerry/Quill/internal/models"
	"github.com/soaringjerry/Quill/internal/services"
)

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteStore struct {
	db *sql.DB
}

var _ api.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLite opens (creating if needed) the database at path and applies migrations.
func OpenSQLite(path, migrationsDir string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on", filepath.ToSlash(path))
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := RunMigrations(conn, migrationsDir); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	store, err := NewSQLiteStore(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) logErr(prefix string, err error) {
	if err != nil {
		log.Printf("sqlite store: %s: %v", prefix, err)
	}
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func int64ToBool(v int64) bool { return v != 0 }

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339Nano, s); err != nil {
			log.Printf("sqlite store: parse time %q: %v", s, err)
			return time.Time{}
		}
	}
	return t.UTC()
}

func parseNullTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	return parseTime(ns.String)
}

func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// withTx runs fn in a transaction, rolling back on error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		s.logErr("rollback", tx.Rollback())
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// users

const userColumns = "id, name, email, pass_hash, role, anonymous, deleted, created_at"

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u         models.User
		role      string
		anon, del int64
		created   string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PassHash, &role, &anon, &del, &created); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	u.Anonymous = int64ToBool(anon)
	u.Deleted = int64ToBool(del)
	u.CreatedAt = parseTime(created)
	return &u, nil
}

func (s *SQLiteStore) AddUser(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, strings.ToLower(u.Email), u.PassHash, string(u.Role), boolToInt64(u.Anonymous), boolToInt64(u.Deleted), fmtTime(u.CreatedAt))
	if isUniqueViolation(err) {
		return services.ErrDuplicate
	}
	return err
}

// AddUserFirstAdmin counts and inserts inside one BEGIN IMMEDIATE transaction,
// so concurrent first registrations serialize on the write lock.
func (s *SQLiteStore) AddUserFirstAdmin(ctx context.Context, u *models.User) (bool, error) {
	promoted := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
			return err
		}
		role := u.Role
		if n == 0 {
			role = models.RoleAdmin
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.Name, strings.ToLower(u.Email), u.PassHash, string(role), boolToInt64(u.Anonymous), boolToInt64(u.Deleted), fmtTime(u.CreatedAt)); err != nil {
			return err
		}
		promoted = n == 0
		return nil
	})
	if isUniqueViolation(err) {
		return false, services.ErrDuplicate
	}
	if err != nil {
		return false, err
	}
	return promoted, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ? AND deleted = 0`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (s *SQLiteStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE deleted = 0 ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SoftDeleteUser(ctx context.Context, id string) (bool, error) {
	return s.softDelete(ctx, `UPDATE users SET deleted = 1 WHERE id = ? AND deleted = 0`, id)
}

func (s *SQLiteStore) softDelete(ctx context.Context, stmt string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// questions

const questionColumns = "id, title, type, options_json, validation_json, deleted, created_at, updated_at"

func scanQuestion(row rowScanner) (*models.Question, error) {
	var (
		q                models.Question
		typ              string
		opts, validation sql.NullString
		del              int64
		created, updated string
	)
	if err := row.Scan(&q.ID, &q.Title, &typ, &opts, &validation, &del, &created, &updated); err != nil {
		return nil, err
	}
	q.Type = models.QuestionType(typ)
	q.Deleted = int64ToBool(del)
	q.CreatedAt = parseTime(created)
	q.UpdatedAt = parseTime(updated)
	if opts.Valid && opts.String != "" {
		if err := json.Unmarshal([]byte(opts.String), &q.Options); err != nil {
			log.Printf("sqlite store: decode options for question %s: %v", q.ID, err)
		}
	}
	if validation.Valid && validation.String != "" {
		var v models.ValidationRules
		if err := json.Unmarshal([]byte(validation.String), &v); err != nil {
			log.Printf("sqlite store: decode validation for question %s: %v", q.ID, err)
		} else {
			q.Validation = &v
		}
	}
	return &q, nil
}

func questionArgs(q *models.Question) (sql.NullString, sql.NullString, error) {
	var opts sql.NullString
	var err error
	if len(q.Options) > 0 {
		if opts, err = encodeJSON(q.Options); err != nil {
			return opts, sql.NullString{}, err
		}
	}
	var validation sql.NullString
	if q.Validation != nil {
		if validation, err = encodeJSON(q.Validation); err != nil {
			return opts, validation, err
		}
	}
	return opts, validation, nil
}

func (s *SQLiteStore) InsertQuestion(ctx context.Context, q *models.Question) error {
	opts, validation, err := questionArgs(q)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO questions (`+questionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.Title, string(q.Type), opts, validation, boolToInt64(q.Deleted), fmtTime(q.CreatedAt), fmtTime(q.UpdatedAt))
	if isUniqueViolation(err) {
		return services.ErrDuplicate
	}
	return err
}

func (s *SQLiteStore) UpdateQuestion(ctx context.Context, q *models.Question) (bool, error) {
	opts, validation, err := questionArgs(q)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET title = ?, type = ?, options_json = ?, validation_json = ?, updated_at = ? WHERE id = ? AND deleted = 0`,
		q.Title, string(q.Type), opts, validation, fmtTime(q.UpdatedAt), q.ID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ? AND deleted = 0`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return q, err
}

func (s *SQLiteStore) ListQuestions(ctx context.Context) ([]*models.Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE deleted = 0 ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*models.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SoftDeleteQuestion(ctx context.Context, id string) (bool, error) {
	return s.softDelete(ctx, `UPDATE questions SET deleted = 1 WHERE id = ? AND deleted = 0`, id)
}

// forms

const formColumns = "id, title, description, mode, is_active, deleted, created_by, created_at, updated_at"

func scanForm(row rowScanner) (*models.Form, error) {
	var (
		f                models.Form
		mode             string
		active, del      int64
		created, updated string
	)
	if err := row.Scan(&f.ID, &f.Title, &f.Description, &mode, &active, &del, &f.CreatedBy, &created, &updated); err != nil {
		return nil, err
	}
	f.Mode = models.FormMode(mode)
	f.IsActive = int64ToBool(active)
	f.Deleted = int64ToBool(del)
	f.CreatedAt = parseTime(created)
	f.UpdatedAt = parseTime(updated)
	return &f, nil
}

// loadFormChildren fills the ordered question list and assignment set.
func (s *SQLiteStore) loadFormChildren(ctx context.Context, f *models.Form) error {
	rows, err := s.db.QueryContext(ctx, `SELECT question_id, position, required FROM form_questions WHERE form_id = ? ORDER BY position`, f.ID)
	if err != nil {
		return err
	}
	f.Questions = []models.FormQuestion{}
	for rows.Next() {
		var fq models.FormQuestion
		var req int64
		if err := rows.Scan(&fq.QuestionID, &fq.Order, &req); err != nil {
			rows.Close()
			return err
		}
		fq.Required = int64ToBool(req)
		f.Questions = append(f.Questions, fq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT user_id FROM form_assignments WHERE form_id = ? ORDER BY rowid`, f.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	f.AssignedUsers = []string{}
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return err
		}
		f.AssignedUsers = append(f.AssignedUsers, uid)
	}
	return rows.Err()
}

func writeFormChildren(ctx context.Context, tx *sql.Tx, f *models.Form) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM form_questions WHERE form_id = ?`, f.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM form_assignments WHERE form_id = ?`, f.ID); err != nil {
		return err
	}
	for _, fq := range f.Questions {
		if _, err := tx.ExecContext(ctx, `INSERT INTO form_questions (form_id, question_id, position, required) VALUES (?, ?, ?, ?)`,
			f.ID, fq.QuestionID, fq.Order, boolToInt64(fq.Required)); err != nil {
			return fmt.Errorf("insert form question: %w", err)
		}
	}
	for _, uid := range f.AssignedUsers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO form_assignments (form_id, user_id) VALUES (?, ?)`, f.ID, uid); err != nil {
			return fmt.Errorf("insert form assignment: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) InsertForm(ctx context.Context, f *models.Form) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO forms (`+formColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.Title, f.Description, string(f.Mode), boolToInt64(f.IsActive), boolToInt64(f.Deleted), f.CreatedBy,
			fmtTime(f.CreatedAt), fmtTime(f.UpdatedAt)); err != nil {
			return err
		}
		return writeFormChildren(ctx, tx, f)
	})
	if isUniqueViolation(err) {
		return services.ErrDuplicate
	}
	return err
}

// UpdateForm rewrites the definition. Activation is owned by SetFormActive.
func (s *SQLiteStore) UpdateForm(ctx context.Context, f *models.Form) (bool, error) {
	found := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE forms SET title = ?, description = ?, mode = ?, updated_at = ? WHERE id = ? AND deleted = 0`,
			f.Title, f.Description, string(f.Mode), fmtTime(f.UpdatedAt), f.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		found = true
		return writeFormChildren(ctx, tx, f)
	})
	return found, err
}

func (s *SQLiteStore) GetForm(ctx context.Context, id string) (*models.Form, error) {
	f, err := scanForm(s.db.QueryRowContext(ctx, `SELECT `+formColumns+` FROM forms WHERE id = ? AND deleted = 0`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadFormChildren(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SQLiteStore) ListForms(ctx context.Context) ([]*models.Form, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+formColumns+` FROM forms WHERE deleted = 0 ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	out := []*models.Form{}
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, f := range out {
		if err := s.loadFormChildren(ctx, f); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) SoftDeleteForm(ctx context.Context, id string) (bool, error) {
	return s.softDelete(ctx, `UPDATE forms SET deleted = 1, is_active = 0 WHERE id = ? AND deleted = 0`, id)
}

// SetFormActive runs the exclusive deactivation and the target update in one transaction.
func (s *SQLiteStore) SetFormActive(ctx context.Context, id string, active, exclusive bool) (bool, error) {
	errMissing := errors.New("form missing")
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if exclusive {
			if _, err := tx.ExecContext(ctx, `UPDATE forms SET is_active = 0 WHERE is_active = 1 AND id <> ?`, id); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `UPDATE forms SET is_active = ? WHERE id = ? AND deleted = 0`, boolToInt64(active), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// roll back the exclusive sweep too
			return errMissing
		}
		return nil
	})
	if errors.Is(err, errMissing) {
		return false, nil
	}
	return err == nil, err
}

// responses

const responseColumns = "id, form_id, user_id, answers_json, is_draft, day_key, submitted_at, last_modified, deleted"

func scanResponse(row rowScanner) (*models.Response, error) {
	var (
		r          models.Response
		answers    string
		draft, del int64
		submitted  sql.NullString
		modified   string
	)
	if err := row.Scan(&r.ID, &r.FormID, &r.UserID, &answers, &draft, &r.DayKey, &submitted, &modified, &del); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(answers), &r.Answers); err != nil {
		return nil, fmt.Errorf("decode answers for response %s: %w", r.ID, err)
	}
	if r.Answers == nil {
		r.Answers = []models.Answer{}
	}
	r.IsDraft = int64ToBool(draft)
	r.Deleted = int64ToBool(del)
	r.SubmittedAt = parseNullTime(submitted)
	r.LastModified = parseTime(modified)
	return &r, nil
}

func (s *SQLiteStore) queryResponses(ctx context.Context, query string, args ...any) ([]*models.Response, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*models.Response{}
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func encodeAnswers(answers []models.Answer) (string, error) {
	if answers == nil {
		answers = []models.Answer{}
	}
	b, err := json.Marshal(answers)
	return string(b), err
}

func (s *SQLiteStore) GetDraft(ctx context.Context, formID, userID string) (*models.Response, error) {
	r, err := scanResponse(s.db.QueryRowContext(ctx,
		`SELECT `+responseColumns+` FROM responses WHERE form_id = ? AND user_id = ? AND is_draft = 1 AND deleted = 0`, formID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// UpsertDraft relies on the partial draft index as the conflict target.
func (s *SQLiteStore) UpsertDraft(ctx context.Context, d *models.Response) (*models.Response, error) {
	answers, err := encodeAnswers(d.Answers)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO responses (`+responseColumns+`) VALUES (?, ?, ?, ?, 1, '', NULL, ?, 0)
		ON CONFLICT (form_id, user_id) WHERE is_draft = 1 AND deleted = 0
		DO UPDATE SET answers_json = excluded.answers_json, last_modified = excluded.last_modified`,
		d.ID, d.FormID, d.UserID, answers, fmtTime(d.LastModified))
	if err != nil {
		return nil, err
	}
	return s.GetDraft(ctx, d.FormID, d.UserID)
}

func (s *SQLiteStore) SoftDeleteDraft(ctx context.Context, formID, userID string) (bool, error) {
	return s.softDelete(ctx, `UPDATE responses SET deleted = 1 WHERE form_id = ? AND user_id = ? AND is_draft = 1 AND deleted = 0`, formID, userID)
}

func (s *SQLiteStore) HasFinalResponse(ctx context.Context, formID, userID string, window *models.TimeWindow) (bool, error) {
	query := `SELECT 1 FROM responses WHERE form_id = ? AND user_id = ? AND is_draft = 0 AND deleted = 0`
	args := []any{formID, userID}
	if window != nil {
		query += ` AND submitted_at >= ? AND submitted_at <= ?`
		args = append(args, fmtTime(window.From), fmtTime(window.To))
	}
	var one int
	err := s.db.QueryRowContext(ctx, query+` LIMIT 1`, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// FinalizeResponse supersedes the live draft and inserts the final row in one
// transaction; the partial unique index rejects a second live final.
func (s *SQLiteStore) FinalizeResponse(ctx context.Context, r *models.Response) error {
	answers, err := encodeAnswers(r.Answers)
	if err != nil {
		return err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE responses SET deleted = 1 WHERE form_id = ? AND user_id = ? AND is_draft = 1 AND deleted = 0`,
			r.FormID, r.UserID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO responses (`+responseColumns+`) VALUES (?, ?, ?, ?, 0, ?, ?, ?, 0)`,
			r.ID, r.FormID, r.UserID, answers, r.DayKey, fmtTime(r.SubmittedAt), fmtTime(r.LastModified))
		return err
	})
	if isUniqueViolation(err) {
		return services.ErrDuplicate
	}
	return err
}

func (s *SQLiteStore) SoftDeleteResponse(ctx context.Context, id string) (bool, error) {
	return s.softDelete(ctx, `UPDATE responses SET deleted = 1 WHERE id = ? AND is_draft = 0 AND deleted = 0`, id)
}

func (s *SQLiteStore) ListResponsesByUser(ctx context.Context, userID string) ([]*models.Response, error) {
	return s.queryResponses(ctx, `SELECT `+responseColumns+` FROM responses WHERE user_id = ? AND is_draft = 0 AND deleted = 0 ORDER BY submitted_at`, userID)
}

func (s *SQLiteStore) ListFinalResponses(ctx context.Context, formID string) ([]*models.Response, error) {
	return s.queryResponses(ctx, `SELECT `+responseColumns+` FROM responses WHERE form_id = ? AND is_draft = 0 AND deleted = 0 ORDER BY submitted_at, rowid`, formID)
}

// audit log

func (s *SQLiteStore) AddAudit(ctx context.Context, e models.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_log (time, actor, action, target, note) VALUES (?, ?, ?, ?, ?)`,
		fmtTime(e.Time), e.Actor, e.Action, e.Target, e.Note)
	return err
}

func (s *SQLiteStore) ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	query := `SELECT time, actor, action, target, note FROM audit_log ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		var ts string
		if err := rows.Scan(&ts, &e.Actor, &e.Action, &e.Target, &e.Note); err != nil {
			return nil, err
		}
		e.Time = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
