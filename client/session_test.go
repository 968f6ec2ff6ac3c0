package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeAPI emulates the service's auth surface: envelope responses, a
// rotating refresh cookie, and bearer-checked /auth/me.
type fakeAPI struct {
	mu           sync.Mutex
	seq          int
	accessToken  string
	refreshToken string

	loginCalls   int
	refreshCalls int
	failRefresh  bool

	// gate, when set, blocks /auth/refresh until gateAfter 401s have
	// been served by /auth/me.
	gate      chan struct{}
	gateAfter int
	rejected  int
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", f.handleLogin)
	mux.HandleFunc("POST /auth/refresh", f.handleRefresh)
	mux.HandleFunc("POST /auth/logout", f.handleLogout)
	mux.HandleFunc("GET /auth/me", f.handleMe)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) rotate() {
	f.seq++
	f.accessToken = fmt.Sprintf("at-%d", f.seq)
	f.refreshToken = fmt.Sprintf("rt-%d", f.seq)
}

// expireAccess invalidates the access token the client holds without
// touching the refresh token.
func (f *fakeAPI) expireAccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessToken = "server-side-rotated"
}

func (f *fakeAPI) gateRefresh(after int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.gateAfter = after
}

func (f *fakeAPI) stats() (login, refresh int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls, f.refreshCalls
}

func (f *fakeAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.loginCalls++
	f.rotate()
	access := f.accessToken
	f.setRefreshCookie(w)
	f.mu.Unlock()
	writeEnv(w, http.StatusOK, true, "login successful", sessionData(access))
}

func (f *fakeAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	c, err := r.Cookie("refreshToken")
	if f.failRefresh || err != nil || c.Value != f.refreshToken {
		writeEnv(w, http.StatusUnauthorized, false, "invalid or expired refresh token", nil)
		return
	}
	f.rotate()
	f.setRefreshCookie(w)
	writeEnv(w, http.StatusOK, true, "token refreshed successfully", sessionData(f.accessToken))
}

func (f *fakeAPI) handleLogout(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.refreshToken = ""
	f.accessToken = ""
	f.mu.Unlock()
	writeEnv(w, http.StatusOK, true, "logged out", nil)
}

func (f *fakeAPI) handleMe(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	access := f.accessToken
	f.mu.Unlock()

	if access == "" || r.Header.Get("Authorization") != "Bearer "+access {
		f.mu.Lock()
		f.rejected++
		if f.gate != nil && f.rejected == f.gateAfter {
			close(f.gate)
			f.gate = nil
		}
		f.mu.Unlock()
		writeEnv(w, http.StatusUnauthorized, false, "invalid or expired access token", nil)
		return
	}
	writeEnv(w, http.StatusOK, true, "", map[string]any{"user": testUser()})
}

// setRefreshCookie is called with f.mu held.
func (f *fakeAPI) setRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     "refreshToken",
		Value:    f.refreshToken,
		Path:     "/auth",
		HttpOnly: true,
	})
}

func testUser() map[string]any {
	return map[string]any{
		"id":    "01JTESTUSER",
		"email": "diner@example.com",
		"name":  "Dana Diner",
		"role":  "customer",
	}
}

func sessionData(access string) map[string]any {
	return map[string]any{"user": testUser(), "access_token": access}
}

func writeEnv(w http.ResponseWriter, status int, success bool, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": success,
		"message": message,
		"data":    data,
	})
}

func newTestSession(t *testing.T, srv *httptest.Server, opts ...Option) *Session {
	t.Helper()
	s, err := NewSession(srv.URL, opts...)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestLoginStoresSessionState(t *testing.T) {
	f, srv := newFakeAPI(t)
	s := newTestSession(t, srv)

	u, err := s.Login(context.Background(), "diner@example.com", "table4two")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if u.Email != "diner@example.com" {
		t.Errorf("user email = %q", u.Email)
	}
	if got := s.AccessToken(); got != "at-1" {
		t.Errorf("access token = %q, want at-1", got)
	}
	if _, ok := s.CurrentUser(); !ok {
		t.Error("CurrentUser reports anonymous after login")
	}
	if logins, _ := f.stats(); logins != 1 {
		t.Errorf("login calls = %d, want 1", logins)
	}
}

func TestMeUsesBearerToken(t *testing.T) {
	_, srv := newFakeAPI(t)
	s := newTestSession(t, srv)

	if _, err := s.Login(context.Background(), "diner@example.com", "table4two"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	u, err := s.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if u.Name != "Dana Diner" {
		t.Errorf("user name = %q", u.Name)
	}
}

func TestDoRefreshesAndRetriesOnce(t *testing.T) {
	f, srv := newFakeAPI(t)
	s := newTestSession(t, srv)

	if _, err := s.Login(context.Background(), "diner@example.com", "table4two"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.expireAccess()

	if _, err := s.Me(context.Background()); err != nil {
		t.Fatalf("Me after expiry: %v", err)
	}
	if _, refreshes := f.stats(); refreshes != 1 {
		t.Errorf("refresh calls = %d, want 1", refreshes)
	}
	if got := s.AccessToken(); got != "at-2" {
		t.Errorf("access token = %q, want at-2", got)
	}
}

func TestConcurrentFailuresShareOneRefresh(t *testing.T) {
	const callers = 8

	f, srv := newFakeAPI(t)
	s := newTestSession(t, srv)

	if _, err := s.Login(context.Background(), "diner@example.com", "table4two"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.expireAccess()
	// Hold the refresh until every caller has been rejected once, so
	// all of them are waiting on the same in-flight refresh.
	f.gateRefresh(callers)

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Me(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Me: %v", err)
		}
	}
	if _, refreshes := f.stats(); refreshes != 1 {
		t.Errorf("refresh calls = %d, want exactly 1", refreshes)
	}
}

func TestRefreshFailureTearsDownSession(t *testing.T) {
	f, srv := newFakeAPI(t)
	bus := NewBus()
	s := newTestSession(t, srv, WithBus(bus))

	var events []Event
	bus.Subscribe(func(ev Event) { events = append(events, ev) })

	if _, err := s.Login(context.Background(), "diner@example.com", "table4two"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.expireAccess()
	f.mu.Lock()
	f.failRefresh = true
	f.mu.Unlock()

	_, err := s.Me(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Me error = %v, want ErrSessionExpired", err)
	}
	if s.AccessToken() != "" {
		t.Error("access token survived teardown")
	}
	if _, ok := s.CurrentUser(); ok {
		t.Error("user state survived teardown")
	}

	var sawLogout bool
	for _, ev := range events {
		if _, ok := ev.(LogoutEvent); ok {
			sawLogout = true
		}
	}
	if !sawLogout {
		t.Error("no logout event broadcast after teardown")
	}
}

func TestAnonymousRequestIsNotRetried(t *testing.T) {
	f, srv := newFakeAPI(t)
	s := newTestSession(t, srv)

	_, err := s.Me(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Me error = %v, want 401 APIError", err)
	}
	if _, refreshes := f.stats(); refreshes != 0 {
		t.Errorf("refresh calls = %d, want 0 for anonymous request", refreshes)
	}
}

func TestInitPerformsSilentRefresh(t *testing.T) {
	f, srv := newFakeAPI(t)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	httpClient := &http.Client{Jar: jar}

	first := newTestSession(t, srv, WithHTTPClient(httpClient))
	if _, err := first.Login(context.Background(), "diner@example.com", "table4two"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// A new session sharing the jar recovers via the refresh cookie.
	second := newTestSession(t, srv, WithHTTPClient(httpClient))
	if err := second.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := second.AccessToken(); got != "at-2" {
		t.Errorf("access token after Init = %q, want at-2", got)
	}
	if _, refreshes := f.stats(); refreshes != 1 {
		t.Errorf("refresh calls = %d, want 1", refreshes)
	}
}

func TestInitWithoutCredentialIsAnonymous(t *testing.T) {
	_, srv := newFakeAPI(t)
	s := newTestSession(t, srv)

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if s.AccessToken() != "" {
		t.Error("Init produced a token without a refresh credential")
	}
}

func TestSiblingSessionsShareState(t *testing.T) {
	f, srv := newFakeAPI(t)
	bus := NewBus()

	a := newTestSession(t, srv, WithBus(bus))
	b := newTestSession(t, srv, WithBus(bus))

	if _, err := a.Login(context.Background(), "diner@example.com", "table4two"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got := b.AccessToken(); got != a.AccessToken() {
		t.Errorf("sibling token = %q, want %q", got, a.AccessToken())
	}
	if _, ok := b.CurrentUser(); !ok {
		t.Error("sibling has no user state after broadcast login")
	}
	if logins, _ := f.stats(); logins != 1 {
		t.Errorf("login calls = %d, want 1 (sibling must not hit the network)", logins)
	}

	if err := a.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if b.AccessToken() != "" {
		t.Error("sibling token survived broadcast logout")
	}
}

func TestStorageRecoversState(t *testing.T) {
	_, srv := newFakeAPI(t)
	bus := NewBus()
	store := NewMemoryStorage()
	cancel := BindStorage(bus, store)
	defer cancel()

	a := newTestSession(t, srv, WithBus(bus))
	if _, err := a.Login(context.Background(), "diner@example.com", "table4two"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	late := newTestSession(t, srv, WithStorage(store))
	if got := late.AccessToken(); got != "at-1" {
		t.Errorf("recovered token = %q, want at-1", got)
	}
	u, ok := late.CurrentUser()
	if !ok || u.Email != "diner@example.com" {
		t.Errorf("recovered user = %+v ok=%v", u, ok)
	}
}
