package api

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/soaringjerry/Quill/internal/middleware"
)

type testServer struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestServer(t *testing.T, single bool) *testServer {
	t.Helper()
	authn := middleware.NewAuthenticator("test-secret")
	mux := http.NewServeMux()
	NewRouter(NewMemoryStore(), Options{
		SingleActive: single,
		Location:     time.UTC,
		Signer:       authn.SignToken,
		TokenTTL:     time.Hour,
	}).Register(mux)
	srv := httptest.NewServer(authn.WithAuth(mux))
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv}
}

// do sends a JSON request and decodes the JSON reply into out when non-nil.
func (ts *testServer) do(method, path, token string, body any, out any) int {
	ts.t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			ts.t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	if err != nil {
		ts.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			ts.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (ts *testServer) register(email string) (token, uid string) {
	ts.t.Helper()
	var res struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	if code := ts.do(http.MethodPost, "/api/auth/register", "", map[string]any{"name": email, "email": email, "password": "Secret123"}, &res); code != http.StatusCreated {
		ts.t.Fatalf("register %s: status %d", email, code)
	}
	return res.Token, res.UserID
}

type errBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestRouterSubmissionFlow(t *testing.T) {
	ts := newTestServer(t, false)
	admin, _ := ts.register("admin@example.com")
	student, studentID := ts.register("student@example.com")

	var q struct {
		ID string `json:"id"`
	}
	if code := ts.do(http.MethodPost, "/api/questions", admin, map[string]any{
		"title": "Energy", "type": "scale",
	}, &q); code != http.StatusCreated {
		t.Fatalf("create question: %d", code)
	}
	if code := ts.do(http.MethodPost, "/api/questions", student, map[string]any{"title": "x", "type": "text"}, nil); code != http.StatusForbidden {
		t.Fatalf("student create question: %d", code)
	}

	var form struct {
		ID string `json:"id"`
	}
	if code := ts.do(http.MethodPost, "/api/forms", admin, map[string]any{
		"title":          "Check-in",
		"questions":      []map[string]any{{"question_id": q.ID, "required": true}},
		"assigned_users": []string{studentID},
	}, &form); code != http.StatusCreated {
		t.Fatalf("create form: %d", code)
	}

	answers := map[string]any{"answers": []map[string]any{{"question_id": q.ID, "answer": "4"}}}
	var e errBody
	if code := ts.do(http.MethodPost, "/api/forms/"+form.ID+"/responses", student, answers, &e); code != http.StatusUnprocessableEntity || e.Error != "form not active" {
		t.Fatalf("submit inactive: %d %+v", code, e)
	}
	if code := ts.do(http.MethodPost, "/api/forms/"+form.ID+"/activate", admin, nil, nil); code != http.StatusOK {
		t.Fatalf("activate: %d", code)
	}

	if code := ts.do(http.MethodPut, "/api/forms/"+form.ID+"/draft", student, map[string]any{"answers": []any{}}, nil); code != http.StatusOK {
		t.Fatalf("save draft: %d", code)
	}
	e = errBody{}
	if code := ts.do(http.MethodPost, "/api/forms/"+form.ID+"/responses", student, map[string]any{"answers": []any{}}, &e); code != http.StatusBadRequest || e.Error != "missing answer for required question: Energy" {
		t.Fatalf("submit missing required: %d %+v", code, e)
	}
	e = errBody{}
	if code := ts.do(http.MethodPost, "/api/forms/"+form.ID+"/responses", student, map[string]any{}, &e); code != http.StatusBadRequest || e.Error != "answers must be an array" {
		t.Fatalf("submit without answers: %d %+v", code, e)
	}
	if code := ts.do(http.MethodPost, "/api/forms/"+form.ID+"/responses", student, answers, nil); code != http.StatusCreated {
		t.Fatalf("submit: %d", code)
	}
	e = errBody{}
	if code := ts.do(http.MethodPost, "/api/forms/"+form.ID+"/responses", student, answers, &e); code != http.StatusConflict || e.Code != "conflict" {
		t.Fatalf("second submit: %d %+v", code, e)
	}
	var draft struct {
		Draft *json.RawMessage `json:"draft"`
	}
	if code := ts.do(http.MethodGet, "/api/forms/"+form.ID+"/draft", student, nil, &draft); code != http.StatusOK || draft.Draft != nil {
		t.Fatalf("draft after submit: %d %v", code, draft.Draft)
	}

	var analysis struct {
		TotalResponses    int `json:"total_responses"`
		QuestionsAnalysis []struct {
			TotalAnswers int `json:"total_answers"`
			Scale        struct {
				Average string `json:"average"`
			} `json:"scale"`
		} `json:"questions_analysis"`
	}
	if code := ts.do(http.MethodGet, "/api/dashboard/forms/"+form.ID+"/analysis", admin, nil, &analysis); code != http.StatusOK {
		t.Fatalf("analysis: %d", code)
	}
	if analysis.TotalResponses != 1 || analysis.QuestionsAnalysis[0].Scale.Average != "4.00" {
		t.Fatalf("analysis = %+v", analysis)
	}
	if code := ts.do(http.MethodGet, "/api/dashboard/forms/"+form.ID+"/analysis", student, nil, nil); code != http.StatusForbidden {
		t.Fatalf("student analysis: %d", code)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/dashboard/forms/"+form.ID+"/export?format=csv", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer resp.Body.Close()
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/csv") {
		t.Fatalf("export content type %q", resp.Header.Get("Content-Type"))
	}
	records, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil || len(records) != 2 || records[1][3] != "4" {
		t.Fatalf("export records = %v %v", records, err)
	}
}

func TestRouterRequiresAuth(t *testing.T) {
	ts := newTestServer(t, false)
	var e errBody
	if code := ts.do(http.MethodGet, "/api/forms", "", nil, &e); code != http.StatusUnauthorized || e.Code != "unauthorized" {
		t.Fatalf("no token: %d %+v", code, e)
	}
	if code := ts.do(http.MethodGet, "/api/forms", "garbage", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", code)
	}
	e = errBody{}
	if code := ts.do(http.MethodPost, "/api/auth/register", "", map[string]any{"email": "not-an-email", "password": "Secret123"}, &e); code != http.StatusBadRequest || e.Error != "invalid email" {
		t.Fatalf("register bad email: %d %+v", code, e)
	}
}

func TestRouterDeletedUserLosesAccess(t *testing.T) {
	ts := newTestServer(t, true)
	admin, _ := ts.register("admin@example.com")
	student, studentID := ts.register("student@example.com")

	if code := ts.do(http.MethodGet, "/api/me", student, nil, nil); code != http.StatusOK {
		t.Fatalf("me: %d", code)
	}
	if code := ts.do(http.MethodDelete, "/api/users/"+studentID, admin, nil, nil); code != http.StatusOK {
		t.Fatalf("delete user: %d", code)
	}
	if code := ts.do(http.MethodGet, "/api/me", student, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("me after delete: %d", code)
	}
	var audit struct {
		Entries []struct {
			Action string `json:"action"`
		} `json:"entries"`
	}
	if code := ts.do(http.MethodGet, "/api/audit", admin, nil, &audit); code != http.StatusOK || len(audit.Entries) != 1 || audit.Entries[0].Action != "delete_user" {
		t.Fatalf("audit: %d %+v", code, audit)
	}
}
