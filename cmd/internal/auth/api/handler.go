package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tavolo/cmd/identity"
	"tavolo/cmd/internal/auth/session"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionNotifier receives session lifecycle events so other transports
// (websocket fan-out) can tell a user's open clients about them.
type SessionNotifier interface {
	SessionStarted(userID string)
	SessionEnded(userID string)
}

type noopNotifier struct{}

func (noopNotifier) SessionStarted(string) {}
func (noopNotifier) SessionEnded(string)   {}

// Handler wires the HTTP auth endpoints to the session manager.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions *session.Manager

	// pool powers the audit log and login throttling; nil in memory mode.
	pool *pgxpool.Pool

	notifier SessionNotifier
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithSessionNotifier fans session events out to another transport.
func WithSessionNotifier(n SessionNotifier) HandlerOption {
	return func(h *Handler) {
		if h == nil || n == nil {
			return
		}
		h.notifier = n
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Manager, pool *pgxpool.Pool, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("auth: nil session manager")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		pool:     pool,
		notifier: noopNotifier{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("/auth/me", h.handleMe)
}

// Sessions returns the underlying session manager.
func (h *Handler) Sessions() *session.Manager {
	if h == nil {
		return nil
	}
	return h.sessions
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	issued, err := h.sessions.Register(ctx, session.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
	})
	if err != nil {
		var ve session.ValidationError
		switch {
		case errors.As(err, &ve):
			writeValidationError(w, ve.Fields)
		case errors.Is(err, session.ErrDuplicateEmail):
			writeError(w, http.StatusBadRequest, "an account with this email already exists")
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	ip := clientIP(r, h.cfg.TrustProxy)
	h.auditRegister(ctx, issued.User.ID, ip, r.UserAgent())
	h.notifier.SessionStarted(issued.User.ID)

	h.setRefreshCookie(w, issued.RefreshToken, issued.RefreshExpiresAt)
	writeData(w, http.StatusCreated, "user registered successfully",
		h.toSessionResponse(issued, h.cfg.RefreshCookieEnabled))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	identifier := identity.NormalizeEmail(req.Email)

	if blocked, retryAfter, err := h.checkLoginIPThrottle(ctx, ip, now); err != nil {
		h.log.Error("auth.login.throttle_ip.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "please retry later")
		return
	} else if blocked {
		h.auditLoginRateLimited(ctx, ip, ua, identifier, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter, err := h.checkLoginIdentifierThrottle(ctx, identifier, now); err != nil {
		h.log.Error("auth.login.throttle_identifier.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "please retry later")
		return
	} else if blocked {
		h.auditLoginRateLimited(ctx, ip, ua, identifier, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}

	issued, err := h.sessions.Login(ctx, session.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		var ve session.ValidationError
		switch {
		case errors.As(err, &ve):
			writeValidationError(w, ve.Fields)
		case errors.Is(err, session.ErrInvalidCredentials):
			h.auditLoginFailed(ctx, ip, ua, identifier)
			writeError(w, http.StatusUnauthorized, "invalid email or password")
		default:
			h.log.Error("auth.login.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	h.auditLoginSuccess(ctx, issued.User.ID, ip, ua)
	h.notifier.SessionStarted(issued.User.ID)

	h.setRefreshCookie(w, issued.RefreshToken, issued.RefreshExpiresAt)
	writeData(w, http.StatusOK, "login successful",
		h.toSessionResponse(issued, h.cfg.RefreshCookieEnabled))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	refreshToken, fromCookie := h.refreshTokenFromCookie(r)
	if refreshToken == "" && r.ContentLength != 0 {
		var req refreshRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		refreshToken = strings.TrimSpace(req.RefreshToken)
	}
	if refreshToken == "" {
		writeError(w, http.StatusUnauthorized, "refresh token not provided")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	issued, err := h.sessions.Refresh(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidToken),
			errors.Is(err, session.ErrMissingToken),
			errors.Is(err, session.ErrUserNotActive):
			h.auditRefreshRejected(ctx, ip, ua)
			// A dead refresh token is unrecoverable; drop the cookie so
			// the client stops retrying with it.
			if fromCookie {
				h.clearRefreshCookie(w)
			}
			writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	h.auditRefreshSuccess(ctx, issued.User.ID, ip, ua)

	h.setRefreshCookie(w, issued.RefreshToken, issued.RefreshExpiresAt)
	writeData(w, http.StatusOK, "token refreshed",
		h.toSessionResponse(issued, h.cfg.RefreshCookieEnabled))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	user, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	refreshToken, _ := h.refreshTokenFromCookie(r)
	if refreshToken == "" && r.ContentLength != 0 {
		var req refreshRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		refreshToken = strings.TrimSpace(req.RefreshToken)
	}

	ctx := r.Context()
	if refreshToken != "" {
		// Best effort: once the caller is authenticated, logout always
		// succeeds from their point of view. Store trouble is ours.
		if err := h.sessions.Logout(ctx, refreshToken); err != nil && !errors.Is(err, session.ErrMissingToken) {
			h.log.Error("auth.logout.fail", "err", err)
		}
	}

	h.auditLogout(ctx, user.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	h.notifier.SessionEnded(user.ID)

	// Clearing the cookie is unconditional so logout is always final from
	// the browser's point of view, refresh token or no refresh token.
	h.clearRefreshCookie(w)
	writeData(w, http.StatusOK, "logged out successfully", nil)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	user, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.sessions.LogoutAll(ctx, user.ID); err != nil {
		h.log.Error("auth.logout_all.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.auditLogoutAll(ctx, user.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	h.notifier.SessionEnded(user.ID)

	h.clearRefreshCookie(w)
	writeData(w, http.StatusOK, "all sessions revoked", nil)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	user, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	writeData(w, http.StatusOK, "", meResponse{User: toUserResponse(user)})
}

// ---- guards ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (identity.User, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return identity.User{}, false
	}
	user, err := h.sessions.Authenticate(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return identity.User{}, false
	}
	return user, true
}

type contextKey string

const userContextKey contextKey = "tavolo.auth.user"

// RequireAuth guards an arbitrary handler with bearer authentication and
// stores the user in the request context for UserFromContext.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := h.requireAuth(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), userContextKey, user)))
	})
}

// RequireRole guards a handler with bearer authentication plus a role check.
func (h *Handler) RequireRole(next http.Handler, roles ...identity.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := h.requireAuth(w, r)
		if !ok {
			return
		}
		for _, role := range roles {
			if user.Role == role {
				next.ServeHTTP(w, r.WithContext(
					context.WithValue(r.Context(), userContextKey, user)))
				return
			}
		}
		writeError(w, http.StatusForbidden, "insufficient permissions")
	})
}

// UserFromContext returns the authenticated user stored by RequireAuth
// or RequireRole.
func UserFromContext(ctx context.Context) (identity.User, bool) {
	user, ok := ctx.Value(userContextKey).(identity.User)
	return user, ok
}
