//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func baseURL() string {
	if v := os.Getenv("QUILL_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:18080"
}

// adminToken registers a throwaway account, which is admin on a fresh server,
// or logs in with QUILL_TEST_ADMIN_EMAIL / QUILL_TEST_ADMIN_PASSWORD.
func adminToken(t *testing.T, client *http.Client, base string) string {
	t.Helper()
	if email := os.Getenv("QUILL_TEST_ADMIN_EMAIL"); email != "" {
		var login struct {
			Token string `json:"token"`
		}
		doJSON(t, client, http.MethodPost, base+"/api/auth/login", "", map[string]string{
			"email":    email,
			"password": os.Getenv("QUILL_TEST_ADMIN_PASSWORD"),
		}, &login)
		return login.Token
	}
	var reg struct {
		Token string `json:"token"`
		Role  string `json:"role"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/auth/register", "", map[string]any{
		"name":     "Integration Admin",
		"email":    fmt.Sprintf("admin_%d@example.com", time.Now().UnixNano()),
		"password": "Secret123!",
	}, &reg)
	if reg.Role != "admin" {
		t.Skip("server already has users; set QUILL_TEST_ADMIN_EMAIL to run this test")
	}
	return reg.Token
}

func TestFormJourneyIntegration(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	base := baseURL()
	admin := adminToken(t, client, base)

	studentEmail := fmt.Sprintf("student_%d@example.com", time.Now().UnixNano())
	password := "Secret123!"
	var student struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/auth/register", "", map[string]any{
		"name":     "Integration Student",
		"email":    studentEmail,
		"password": password,
	}, &student)
	var login struct {
		Token string `json:"token"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/auth/login", "", map[string]string{
		"email":    studentEmail,
		"password": password,
	}, &login)
	if login.Token == "" {
		t.Fatalf("login did not return token")
	}

	var question struct {
		ID string `json:"id"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/questions", admin, map[string]any{
		"title": "How was today?",
		"type":  "multiple_choice",
		"options": []map[string]string{
			{"label": "Good", "value": "good"},
			{"label": "Bad", "value": "bad"},
		},
	}, &question)

	var form struct {
		ID string `json:"id"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/forms", admin, map[string]any{
		"title":          fmt.Sprintf("Integration %d", time.Now().UnixNano()),
		"mode":           "diary",
		"questions":      []map[string]any{{"question_id": question.ID, "required": true}},
		"assigned_users": []string{student.UserID},
	}, &form)
	doJSON(t, client, http.MethodPost, base+"/api/forms/"+form.ID+"/activate", admin, nil, nil)

	answers := map[string]any{"answers": []map[string]any{{"question_id": question.ID, "answer": "good"}}}
	doJSON(t, client, http.MethodPut, base+"/api/forms/"+form.ID+"/draft", login.Token, answers, nil)
	doJSON(t, client, http.MethodPost, base+"/api/forms/"+form.ID+"/responses", login.Token, answers, nil)

	if code := status(t, client, http.MethodPost, base+"/api/forms/"+form.ID+"/responses", login.Token, answers); code != http.StatusConflict {
		t.Fatalf("second diary submit same day: status %d", code)
	}

	req, err := http.NewRequest(http.MethodGet, base+"/api/dashboard/forms/"+form.ID+"/export?format=csv", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("export request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("export status %d body %s", resp.StatusCode, string(body))
	}
	csvData, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read export data: %v", err)
	}
	if !strings.Contains(string(csvData), studentEmail) {
		t.Fatalf("export csv did not contain student email; csv=%s", csvData)
	}
}

func newRequest(t *testing.T, method, url, token string, body any) *http.Request {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func status(t *testing.T, client *http.Client, method, url, token string, body any) int {
	t.Helper()
	resp, err := client.Do(newRequest(t, method, url, token, body))
	if err != nil {
		t.Fatalf("http %s %s failed: %v", method, url, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, body any, out any) {
	t.Helper()
	resp, err := client.Do(newRequest(t, method, url, token, body))
	if err != nil {
		t.Fatalf("http %s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d for %s: %s", resp.StatusCode, url, string(bodyBytes))
	}
	if out != nil {
		decoder := json.NewDecoder(resp.Body)
		if err := decoder.Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
}
