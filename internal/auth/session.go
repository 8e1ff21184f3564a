package auth

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"redline-cli/internal/api"
)

// LoginAPI is the slice of the backend client the session needs.
type LoginAPI interface {
	Login(ctx context.Context, username, password string) (string, error)
	Register(ctx context.Context, username, password string) error
}

// Session owns the current identity: the bearer token and its username.
// Every other component reads the token through it (api.TokenSource) and
// never mutates it.
type Session struct {
	client LoginAPI

	mu        sync.Mutex
	token     string
	username  string
	listeners []func(authenticated bool)
}

func NewSession(client LoginAPI) *Session {
	return &Session{client: client}
}

// SetClient late-binds the backend client. The API client needs the session
// as its token source, so the two are constructed in sequence.
func (s *Session) SetClient(client LoginAPI) {
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
}

// Restore seeds a previously persisted token, e.g. from the CLI token file.
// Listeners registered afterwards see the restored state.
func (s *Session) Restore(token, username string) {
	s.mu.Lock()
	s.token = token
	s.username = username
	s.mu.Unlock()
}

// Login exchanges credentials for a token. On any failure no state changes.
func (s *Session) Login(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" || password == "" {
		return &api.ValidationError{Message: "username and password are required"}
	}

	token, err := s.client.Login(ctx, username, password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = token
	s.username = username
	s.mu.Unlock()
	s.notify()
	return nil
}

// Register creates an account but does not authenticate it. Password rules
// are enforced here so invalid input never reaches the network layer.
func (s *Session) Register(ctx context.Context, username, password, confirm string) error {
	if strings.TrimSpace(username) == "" {
		return &api.ValidationError{Message: "username is required"}
	}
	if password != confirm {
		return &api.ValidationError{Message: "passwords do not match"}
	}
	if len(password) < 6 {
		return &api.ValidationError{Message: "password must be at least 6 characters"}
	}
	return s.client.Register(ctx, username, password)
}

// Logout unconditionally clears the identity. Idempotent.
func (s *Session) Logout() {
	s.mu.Lock()
	s.token = ""
	s.username = ""
	s.mu.Unlock()
	s.notify()
}

// IsAuthenticated is derived from the token on every read, never cached. A
// token that decodes as a JWT with a passed expiry counts as absent so a
// stale credential routes back to the unauthenticated state.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return false
	}
	return !tokenExpired(token)
}

// Token implements api.TokenSource.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// OnChange registers a listener that observes every auth transition. Route
// guards rely on being called synchronously from Login/Logout so there is no
// stale-read window.
func (s *Session) OnChange(fn func(authenticated bool)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// HandleAuthError forces a logout when an authenticated call failed with an
// AuthError (expired or rejected token mid-session). Returns true when a
// logout happened.
func (s *Session) HandleAuthError(err error) bool {
	var authErr *api.AuthError
	if !errors.As(err, &authErr) {
		return false
	}
	if !s.IsAuthenticated() {
		return false
	}
	log.Printf("Session token rejected by backend, logging out: %v", authErr)
	s.Logout()
	return true
}

func (s *Session) notify() {
	s.mu.Lock()
	listeners := make([]func(bool), len(s.listeners))
	copy(listeners, s.listeners)
	authenticated := s.token != ""
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(authenticated)
	}
}

// tokenExpired inspects the exp claim without verifying the signature; the
// token is otherwise opaque to the client. Tokens that do not decode as JWTs
// are trusted until the backend rejects them.
func tokenExpired(token string) bool {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}
