package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"courier-driver-agent/config"
)

// ErrSignedOut is returned by Token after SignOut until SignIn is called.
var ErrSignedOut = errors.New("session is signed out")

// TokenProvider supplies bearer credentials for API calls. Implementations
// own the credential lifetime; callers must not cache tokens themselves.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	SignedIn() bool
	SignOut()
}

// Session wraps the external identity provider's token endpoint. Tokens are
// fetched with the client-credentials grant and cached until shortly before
// expiry.
type Session struct {
	config     *config.IdentityConfig
	logger     *zap.Logger
	httpClient *http.Client

	mu        sync.Mutex
	signedOut bool
	token     string
	expiresAt time.Time
	onSignOut func()
}

// expiryMargin is subtracted from the provider's expires_in so a token is
// never used at the edge of its lifetime.
const expiryMargin = 30 * time.Second

func NewSession(cfg *config.IdentityConfig, logger *zap.Logger) *Session {
	return &Session{
		config:     cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.signedOut {
		return "", ErrSignedOut
	}

	if s.token != "" && time.Now().Before(s.expiresAt) {
		return s.token, nil
	}

	token, expiresIn, err := s.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	s.token = token
	s.expiresAt = time.Now().Add(time.Duration(expiresIn)*time.Second - expiryMargin)
	return token, nil
}

func (s *Session) SignedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.signedOut
}

// SignOut drops the cached credential and marks the session invalid. Called
// directly by the operator or by the API client when the backend rejects the
// credential.
func (s *Session) SignOut() {
	s.mu.Lock()
	if s.signedOut {
		s.mu.Unlock()
		return
	}
	s.signedOut = true
	s.token = ""
	s.expiresAt = time.Time{}
	notify := s.onSignOut
	s.mu.Unlock()

	s.logger.Info("Session signed out")
	if notify != nil {
		notify()
	}
}

// OnSignOut registers a hook invoked once per sign-out, after the credential
// has been cleared. Used to tear down anything scoped to the identity, like
// the location broadcast.
func (s *Session) OnSignOut(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSignOut = fn
}

// SignIn re-arms a signed-out session. The next Token call fetches a fresh
// credential.
func (s *Session) SignIn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedOut = false
	s.token = ""
	s.expiresAt = time.Time{}
}

func basicAuth(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}

func (s *Session) fetchToken(ctx context.Context) (string, int, error) {
	data := url.Values{}
	data.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", 0, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+basicAuth(s.config.ClientId, s.config.ClientSecret))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var tokenResponse struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return "", 0, fmt.Errorf("failed to decode response: %w", err)
	}

	if tokenResponse.AccessToken == "" {
		return "", 0, errors.New("token endpoint returned an empty access token")
	}
	if tokenResponse.ExpiresIn <= 0 {
		tokenResponse.ExpiresIn = 300
	}

	return tokenResponse.AccessToken, tokenResponse.ExpiresIn, nil
}
