package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testToken(t *testing.T, sub, email string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestSignIn(t *testing.T) {
	access := testToken(t, "user-1", "alice@example.com")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("grant_type"); got != "password" {
			t.Errorf("grant_type = %q", got)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "alice@example.com" {
			t.Errorf("email = %q", body["email"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"refresh_token": "refresh-1",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	a := NewAuthClient(srv.URL, "anon-key")
	sess, err := a.SignIn(context.Background(), "alice@example.com", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if sess.UserID != "user-1" {
		t.Errorf("user id = %q, want user-1", sess.UserID)
	}
	if sess.Email != "alice@example.com" {
		t.Errorf("email = %q", sess.Email)
	}
	if sess.RefreshToken != "refresh-1" {
		t.Errorf("refresh token = %q", sess.RefreshToken)
	}
	if sess.Expired() {
		t.Error("fresh session should not be expired")
	}
}

func TestSignInRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	a := NewAuthClient(srv.URL, "anon-key")
	if _, err := a.SignIn(context.Background(), "alice@example.com", "wrong"); err == nil {
		t.Fatal("expected error for rejected credentials")
	}
}

func TestRefresh(t *testing.T) {
	access := testToken(t, "user-1", "alice@example.com")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"refresh_token": "refresh-2",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	a := NewAuthClient(srv.URL, "anon-key")
	sess, err := a.Refresh(context.Background(), "refresh-1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.RefreshToken != "refresh-2" || sess.UserID != "user-1" {
		t.Errorf("session = %+v", sess)
	}
}
