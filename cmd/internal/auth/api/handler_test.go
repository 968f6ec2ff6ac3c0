package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"tavolo/cmd/identity"
	"tavolo/cmd/internal/auth/session"
)

func newTestServer(t *testing.T) (*httptest.Server, *Handler) {
	srv, h, _ := newTestStack(t)
	return srv, h
}

// newTestStack additionally exposes the identity store so tests can
// seed users that the public API must not create, such as admins.
func newTestStack(t *testing.T) (*httptest.Server, *Handler, *identity.MemoryStore) {
	t.Helper()
	t.Setenv("TAVOLO_PASSWORD_BCRYPT_COST", "4")

	sessCfg := session.DefaultConfig()
	sessCfg.AccessSecret = []byte("test-access-secret-0123456789abcdef")
	sessCfg.RefreshSecret = []byte("test-refresh-secret-0123456789abcdef")

	users := identity.NewMemoryStore()
	mgr, err := session.NewManager(sessCfg,
		users,
		session.NewMemoryStore(sessCfg.MaxRefreshTokens),
		nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	cfg := Config{
		MaxBodyBytes:         1 << 20,
		RefreshCookieEnabled: true,
		RefreshCookieName:    "refreshToken",
		CookiePath:           "/auth",
		CookieSameSite:       http.SameSiteStrictMode,
	}
	h, err := NewHandler(nil, cfg, mgr, nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, h, users
}

type testEnvelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
}

func postJSON(t *testing.T, client *http.Client, url string, body any) (*http.Response, testEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	resp, err := client.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	var env testEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp, env
}

// postAuth sends an empty-body POST carrying a bearer token.
func postAuth(t *testing.T, client *http.Client, url, accessToken string) (*http.Response, testEnvelope) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	var env testEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp, env
}

func cookieClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func registerBody() map[string]string {
	return map[string]string{
		"email":    "diner@example.com",
		"password": "table4two",
		"name":     "Dana Diner",
	}
}

func TestRegisterEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	client := cookieClient(t)

	resp, env := postJSON(t, client, srv.URL+"/auth/register", registerBody())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if !env.Success {
		t.Fatalf("success = false, message = %q", env.Message)
	}

	var data sessionResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.AccessToken == "" {
		t.Error("no access token in body")
	}
	if data.RefreshToken != "" {
		t.Error("refresh token leaked into body while cookie transport is on")
	}
	if data.User.Role != "customer" {
		t.Errorf("role = %q, want customer", data.User.Role)
	}

	u, _ := url.Parse(srv.URL + "/auth")
	var found bool
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == "refreshToken" && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Error("refresh cookie not set")
	}
}

func TestRegisterCookieFlags(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(registerBody())
	resp, err := http.Post(srv.URL+"/auth/register", "application/json", &buf)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "refreshToken" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("refresh cookie not set")
	}
	if !cookie.HttpOnly {
		t.Error("refresh cookie is not HttpOnly")
	}
	if cookie.SameSite != http.SameSiteStrictMode {
		t.Errorf("SameSite = %v, want Strict", cookie.SameSite)
	}
	if cookie.Path != "/auth" {
		t.Errorf("Path = %q, want /auth", cookie.Path)
	}
}

func TestRegisterValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	client := cookieClient(t)

	resp, env := postJSON(t, client, srv.URL+"/auth/register", map[string]string{
		"email":    "bad",
		"password": "x",
		"name":     "",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if env.Success {
		t.Error("success = true on validation failure")
	}
	for _, field := range []string{"email", "password", "name"} {
		if env.Errors[field] == "" {
			t.Errorf("missing error for field %q: %v", field, env.Errors)
		}
	}
}

func TestRegisterDuplicate(t *testing.T) {
	srv, _ := newTestServer(t)
	client := cookieClient(t)

	postJSON(t, client, srv.URL+"/auth/register", registerBody())
	resp, env := postJSON(t, client, srv.URL+"/auth/register", registerBody())
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if env.Success {
		t.Error("success = true on duplicate")
	}
}

func TestRegisterIgnoresRequestedRole(t *testing.T) {
	srv, _ := newTestServer(t)
	client := cookieClient(t)

	resp, env := postJSON(t, client, srv.URL+"/auth/register", map[string]string{
		"email":    "wannabe@example.com",
		"password": "table4two",
		"name":     "Wanda Wannabe",
		"role":     "admin",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var data sessionResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.User.Role != "customer" {
		t.Errorf("role = %q, want customer regardless of request body", data.User.Role)
	}
}

func TestLoginEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	client := cookieClient(t)
	postJSON(t, client, srv.URL+"/auth/register", registerBody())

	resp, env := postJSON(t, client, srv.URL+"/auth/login", map[string]string{
		"email":    "diner@example.com",
		"password": "table4two",
	})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("status = %d, success = %v", resp.StatusCode, env.Success)
	}

	resp, _ = postJSON(t, client, srv.URL+"/auth/login", map[string]string{
		"email":    "diner@example.com",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", resp.StatusCode)
	}

	resp, _ = postJSON(t, client, srv.URL+"/auth/login", map[string]string{
		"email":    "ghost@example.com",
		"password": "table4two",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unknown email status = %d, want 401", resp.StatusCode)
	}
}

func TestMeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	client := cookieClient(t)

	_, env := postJSON(t, client, srv.URL+"/auth/register", registerBody())
	var data sessionResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+data.AccessToken)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET /auth/me: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var meEnv struct {
		Data struct {
			User userResponse `json:"user"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meEnv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if meEnv.Data.User.Email != "diner@example.com" {
		t.Errorf("me email = %q", meEnv.Data.User.Email)
	}

	// No token and garbage token both reject.
	for _, auth := range []string{"", "Bearer garbage", "Basic abc"} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/auth/me", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("GET /auth/me: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("auth %q status = %d, want 401", auth, resp.StatusCode)
		}
	}
}

func TestRefreshEndpointRotatesCookie(t *testing.T) {
	srv, _ := newTestServer(t)
	client := cookieClient(t)
	postJSON(t, client, srv.URL+"/auth/register", registerBody())

	u, _ := url.Parse(srv.URL + "/auth")
	first := cookieValue(client, u, "refreshToken")
	if first == "" {
		t.Fatal("no refresh cookie after register")
	}

	resp, env := postJSON(t, client, srv.URL+"/auth/refresh", nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("refresh status = %d, success = %v, message = %q",
			resp.StatusCode, env.Success, env.Message)
	}
	second := cookieValue(client, u, "refreshToken")
	if second == "" || second == first {
		t.Error("refresh did not rotate the cookie")
	}

	var data sessionResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.AccessToken == "" {
		t.Error("refresh returned no access token")
	}

	// Replaying the rotated-away token fails.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refreshToken", Value: first})
	raw, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	raw.Body.Close()
	if raw.StatusCode != http.StatusUnauthorized {
		t.Errorf("replay status = %d, want 401", raw.StatusCode)
	}
}

func TestRefreshWithoutToken(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/auth/refresh", "application/json", strings.NewReader(""))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestLogoutEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	client := cookieClient(t)
	_, regEnv := postJSON(t, client, srv.URL+"/auth/register", registerBody())
	var data sessionResponse
	if err := json.Unmarshal(regEnv.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}

	u, _ := url.Parse(srv.URL + "/auth")
	token := cookieValue(client, u, "refreshToken")

	// Logout without a valid access token rejects.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/auth/logout", nil)
	raw, err := client.Do(req)
	if err != nil {
		t.Fatalf("logout without token: %v", err)
	}
	raw.Body.Close()
	if raw.StatusCode != http.StatusUnauthorized {
		t.Fatalf("logout without token status = %d, want 401", raw.StatusCode)
	}

	resp, env := postAuth(t, client, srv.URL+"/auth/logout", data.AccessToken)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("logout status = %d, success = %v", resp.StatusCode, env.Success)
	}
	if got := cookieValue(client, u, "refreshToken"); got != "" {
		t.Errorf("refresh cookie survives logout: %q", got)
	}

	// The revoked token no longer refreshes.
	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refreshToken", Value: token})
	raw, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("refresh after logout: %v", err)
	}
	raw.Body.Close()
	if raw.StatusCode != http.StatusUnauthorized {
		t.Errorf("refresh after logout status = %d, want 401", raw.StatusCode)
	}

	// A second logout with the still-valid access token is a 200
	// no-op; there is no refresh cookie left to revoke.
	resp, env = postAuth(t, client, srv.URL+"/auth/logout", data.AccessToken)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Errorf("second logout status = %d, success = %v", resp.StatusCode, env.Success)
	}
}

func TestLogoutAllEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	clientA := cookieClient(t)
	clientB := cookieClient(t)

	_, env := postJSON(t, clientA, srv.URL+"/auth/register", registerBody())
	var dataA sessionResponse
	if err := json.Unmarshal(env.Data, &dataA); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	postJSON(t, clientB, srv.URL+"/auth/login", map[string]string{
		"email":    "diner@example.com",
		"password": "table4two",
	})

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/auth/logout_all", nil)
	req.Header.Set("Authorization", "Bearer "+dataA.AccessToken)
	resp, err := clientA.Do(req)
	if err != nil {
		t.Fatalf("logout_all: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout_all status = %d, want 200", resp.StatusCode)
	}

	// Both devices' refresh tokens are dead.
	for name, c := range map[string]*http.Client{"a": clientA, "b": clientB} {
		r, _ := postJSON(t, c, srv.URL+"/auth/refresh", nil)
		if r.StatusCode != http.StatusUnauthorized {
			t.Errorf("client %s refresh status = %d, want 401", name, r.StatusCode)
		}
	}
}

func TestRequireRole(t *testing.T) {
	srv, h, users := newTestStack(t)
	client := cookieClient(t)

	_, env := postJSON(t, client, srv.URL+"/auth/register", registerBody())
	var data sessionResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}

	guarded := h.RequireRole(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok || user.Role != identity.RoleAdmin {
			t.Error("context user missing or not admin")
		}
		w.WriteHeader(http.StatusNoContent)
	}), identity.RoleAdmin)
	adminSrv := httptest.NewServer(guarded)
	defer adminSrv.Close()

	// A customer token is forbidden.
	req, _ := http.NewRequest(http.MethodGet, adminSrv.URL, nil)
	req.Header.Set("Authorization", "Bearer "+data.AccessToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("customer status = %d, want 403", resp.StatusCode)
	}

	// An admin token passes. Admins are seeded directly in the
	// identity store; the public endpoint cannot create them.
	if _, err := users.CreateUser(context.Background(), identity.CreateUserInput{
		Email:    "chef@example.com",
		Password: "mise3nplace",
		Name:     "Casey Chef",
		Role:     identity.RoleAdmin,
		Now:      time.Now(),
	}); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	_, adminEnv := postJSON(t, client, srv.URL+"/auth/login", map[string]string{
		"email":    "chef@example.com",
		"password": "mise3nplace",
	})
	var adminData sessionResponse
	if err := json.Unmarshal(adminEnv.Data, &adminData); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	req, _ = http.NewRequest(http.MethodGet, adminSrv.URL, nil)
	req.Header.Set("Authorization", "Bearer "+adminData.AccessToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("admin status = %d, want 204", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/auth/login")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func cookieValue(client *http.Client, u *url.URL, name string) string {
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}
