package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthClient exchanges credentials for a session with the backend's auth
// service. The daemon only ever reads the resulting user id and email; it
// never stores credentials beyond the call.
type AuthClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewAuthClient creates an auth client for the given backend URL and anon key.
func NewAuthClient(baseURL, apiKey string) *AuthClient {
	return &AuthClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Session is an issued auth session bound to a user identity.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UserID       string
	Email        string
}

// Expired reports whether the access token is past (or within a minute of)
// its expiry.
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt.Add(-time.Minute))
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// SignIn performs a password grant and returns the issued session.
func (a *AuthClient) SignIn(ctx context.Context, email, password string) (*Session, error) {
	return a.grant(ctx, "password", map[string]string{"email": email, "password": password})
}

// Refresh exchanges a refresh token for a new session.
func (a *AuthClient) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	return a.grant(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

func (a *AuthClient) grant(ctx context.Context, grantType string, payload map[string]string) (*Session, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	u := a.baseURL + "/auth/v1/token?grant_type=" + grantType
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth %s grant: %w", grantType, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("auth %s grant: read response: %w", grantType, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("auth %s grant: decode response: %w", grantType, err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("auth %s grant: empty access token", grantType)
	}

	sess := &Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	if err := fillIdentity(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// fillIdentity extracts the user id and email from the access token claims.
// The token was issued to us over TLS moments ago, so signature verification
// adds nothing here — the daemon is not the party the token authenticates to.
func fillIdentity(sess *Session) error {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(sess.AccessToken, claims); err != nil {
		return fmt.Errorf("parse access token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return fmt.Errorf("access token without subject claim")
	}
	sess.UserID = sub
	if email, ok := claims["email"].(string); ok {
		sess.Email = email
	}
	return nil
}
