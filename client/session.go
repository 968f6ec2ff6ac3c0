package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ErrSessionExpired is returned when a request failed with 401 and the
// follow-up refresh was rejected; the local session has been torn down.
var ErrSessionExpired = errors.New("client: session expired")

// User mirrors the user object returned by the service.
type User struct {
	ID    string  `json:"id"`
	Email string  `json:"email"`
	Name  string  `json:"name"`
	Phone *string `json:"phone,omitempty"`
	Role  string  `json:"role"`
}

// APIError carries a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
	Fields     map[string]string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("client: %s (%d)", e.Message, e.StatusCode)
}

// RegisterInput is the payload for Session.Register.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
}

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
}

type sessionPayload struct {
	User        User   `json:"user"`
	AccessToken string `json:"access_token"`
}

type mePayload struct {
	User User `json:"user"`
}

// Session is a client-side session synchronizer. It is safe for
// concurrent use.
type Session struct {
	base    string
	http    *http.Client
	log     *slog.Logger
	bus     *Bus
	storage Storage
	origin  string
	cancel  func()

	group singleflight.Group

	mu    sync.RWMutex
	token string
	user  *User
}

type Option func(*Session)

// WithHTTPClient replaces the underlying HTTP client. The client must
// carry a cookie jar or the refresh credential is lost.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.http = c }
}

// WithBus connects the session to a shared event bus.
func WithBus(b *Bus) Option {
	return func(s *Session) { s.bus = b }
}

// WithStorage sets a state store the session reads on construction and
// the bus writes through on events.
func WithStorage(store Storage) Option {
	return func(s *Session) { s.storage = store }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// NewSession creates a synchronizer for the service at baseURL.
func NewSession(baseURL string, opts ...Option) (*Session, error) {
	s := &Session{
		base:   strings.TrimRight(baseURL, "/"),
		origin: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.base == "" {
		return nil, errors.New("client: base URL is required")
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	if s.http == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("client: cookie jar: %w", err)
		}
		s.http = &http.Client{Jar: jar}
	}

	if s.storage != nil {
		s.loadFromStorage()
	}
	if s.bus != nil {
		s.cancel = s.bus.Subscribe(s.onEvent)
	}
	return s, nil
}

// Close detaches the session from its bus. It does not end the session
// on the server; use Logout for that.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// AccessToken returns the held access token, or "" when anonymous.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// CurrentUser returns the authenticated user, if any.
func (s *Session) CurrentUser() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// Init attempts one silent refresh, relying on a refresh cookie left in
// the jar from an earlier session. Rejection is the normal anonymous
// state, not an error.
func (s *Session) Init(ctx context.Context) error {
	if s.AccessToken() != "" {
		return nil
	}
	if _, err := s.refresh(ctx, ""); err != nil {
		s.log.Debug("silent refresh declined", "error", err)
	}
	return nil
}

// Register creates an account and starts a session.
func (s *Session) Register(ctx context.Context, in RegisterInput) (User, error) {
	var payload sessionPayload
	if err := s.postJSON(ctx, "/auth/register", in, &payload); err != nil {
		return User{}, err
	}
	s.setSession(payload)
	return payload.User, nil
}

// Login starts a session with email and password.
func (s *Session) Login(ctx context.Context, email, password string) (User, error) {
	body := map[string]string{"email": email, "password": password}
	var payload sessionPayload
	if err := s.postJSON(ctx, "/auth/login", body, &payload); err != nil {
		return User{}, err
	}
	s.setSession(payload)
	return payload.User, nil
}

// Logout revokes the refresh credential and tears the session down
// locally. Local state is cleared even when the server call fails.
func (s *Session) Logout(ctx context.Context) error {
	req, err := s.newRequest(ctx, http.MethodPost, "/auth/logout", nil)
	if err != nil {
		return err
	}
	resp, err := s.send(req, s.AccessToken())
	s.teardown()
	if err != nil {
		return err
	}
	defer drain(resp)
	return checkStatus(resp)
}

// LogoutAll revokes every refresh token of the authenticated user.
func (s *Session) LogoutAll(ctx context.Context) error {
	req, err := s.newRequest(ctx, http.MethodPost, "/auth/logout_all", nil)
	if err != nil {
		return err
	}
	resp, err := s.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)
	if err := checkStatus(resp); err != nil {
		return err
	}
	s.teardown()
	return nil
}

// Me fetches the authenticated user from the server.
func (s *Session) Me(ctx context.Context) (User, error) {
	req, err := s.newRequest(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return User{}, err
	}
	resp, err := s.Do(req)
	if err != nil {
		return User{}, err
	}
	defer drain(resp)

	var payload mePayload
	if err := decodeEnvelope(resp, &payload); err != nil {
		return User{}, err
	}
	return payload.User, nil
}

// Do sends the request with the bearer token attached. When the request
// carried a token and came back 401, Do refreshes the pair once and
// retries; concurrent callers share a single refresh. A failed refresh
// tears the session down and returns ErrSessionExpired.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	token := s.AccessToken()
	resp, err := s.send(req, token)
	if err != nil {
		return nil, err
	}
	if token == "" || resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	if req.Body != nil && req.GetBody == nil {
		// Cannot replay the body; surface the 401 as-is.
		return resp, nil
	}
	drain(resp)

	fresh, err := s.refresh(req.Context(), token)
	if err != nil {
		s.teardown()
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("client: replay request body: %w", err)
		}
		retry.Body = body
	}
	return s.send(retry, fresh)
}

func (s *Session) send(req *http.Request, token string) (*http.Response, error) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.http.Do(req)
}

// refresh collapses concurrent callers onto one network call. stale is
// the token the caller saw fail; if the held token has already moved on
// a sibling refreshed first and no network call is needed. The call
// runs detached from any single caller's cancellation so siblings are
// not failed by it.
func (s *Session) refresh(ctx context.Context, stale string) (string, error) {
	v, err, _ := s.group.Do("refresh", func() (any, error) {
		if cur := s.AccessToken(); cur != "" && cur != stale {
			return cur, nil
		}
		var payload sessionPayload
		err := s.postJSON(context.WithoutCancel(ctx), "/auth/refresh", struct{}{}, &payload)
		if err != nil {
			return "", err
		}
		s.setSession(payload)
		return payload.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Session) setSession(payload sessionPayload) {
	s.mu.Lock()
	s.token = payload.AccessToken
	u := payload.User
	s.user = &u
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(LoginEvent{
			Origin:      s.origin,
			AccessToken: payload.AccessToken,
			User:        payload.User,
		})
	}
}

func (s *Session) teardown() {
	s.mu.Lock()
	cleared := s.token != "" || s.user != nil
	s.token = ""
	s.user = nil
	s.mu.Unlock()

	if cleared && s.bus != nil {
		s.bus.Publish(LogoutEvent{Origin: s.origin})
	}
}

// onEvent applies sibling broadcasts to local state without a network
// round trip.
func (s *Session) onEvent(ev Event) {
	if ev.EventOrigin() == s.origin {
		return
	}
	switch e := ev.(type) {
	case LoginEvent:
		s.mu.Lock()
		s.token = e.AccessToken
		u := e.User
		s.user = &u
		s.mu.Unlock()
	case LogoutEvent:
		s.mu.Lock()
		s.token = ""
		s.user = nil
		s.mu.Unlock()
	}
}

func (s *Session) loadFromStorage() {
	token, ok := s.storage.Get(storageKeyAccessToken)
	if !ok || token == "" {
		return
	}
	s.token = token
	if raw, ok := s.storage.Get(storageKeyUser); ok {
		var u User
		if err := json.Unmarshal([]byte(raw), &u); err == nil {
			s.user = &u
		}
	}
}

func (s *Session) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	return req, nil
}

func (s *Session) postJSON(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("client: encode request: %w", err)
	}
	req, err := s.newRequest(ctx, http.MethodPost, path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)
	return decodeEnvelope(resp, out)
}

func decodeEnvelope(resp *http.Response, out any) error {
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{StatusCode: resp.StatusCode}
		}
		return fmt.Errorf("client: decode response: %w", err)
	}
	if resp.StatusCode >= 400 || !env.Success {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    env.Message,
			Fields:     env.Errors,
		}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("client: decode payload: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return &APIError{StatusCode: resp.StatusCode, Message: env.Message, Fields: env.Errors}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
