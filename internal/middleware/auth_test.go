package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/soaringjerry/Quill/internal/models"
)

func TestSignAndParseToken(t *testing.T) {
	a := NewAuthenticator("secret")
	tok, err := a.SignToken("u1", models.RoleTeacherAnalyst, time.Hour)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	c, err := a.parseToken(tok)
	if err != nil {
		t.Fatalf("parseToken: %v", err)
	}
	if c.UID != "u1" || c.Role != models.RoleTeacherAnalyst || c.Subject != "u1" {
		t.Fatalf("claims = %+v", c)
	}
	if _, err := NewAuthenticator("other").parseToken(tok); err == nil {
		t.Fatalf("token verified with the wrong secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	a := NewAuthenticator("secret")
	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return issued }
	tok, err := a.SignToken("u1", models.RoleStudent, time.Minute)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	a.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := a.parseToken(tok); err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestUnexpectedAlgorithmRejected(t *testing.T) {
	a := NewAuthenticator("secret")
	claims := Claims{UID: "u1", Role: models.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := a.parseToken(tok); err == nil {
		t.Fatalf("HS512 token accepted")
	}
}

func TestWithAuthAttachesClaims(t *testing.T) {
	a := NewAuthenticator("secret")
	var seen string
	var authed bool
	h := a.WithAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, authed = UserIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if rec.Code != http.StatusOK || authed {
		t.Fatalf("no token: status %d authed %v", rec.Code, authed)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || authed {
		t.Fatalf("bad token: status %d authed %v", rec.Code, authed)
	}

	tok, _ := a.SignToken("u9", models.RoleStudent, time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen != "u9" {
		t.Fatalf("with token: status %d uid %q", rec.Code, seen)
	}
}
