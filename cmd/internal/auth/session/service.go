package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"tavolo/cmd/identity"
)

// Issued bundles a user with a freshly minted access/refresh token pair.
type Issued struct {
	User identity.User

	AccessToken     string
	AccessExpiresAt time.Time

	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Manager runs the session lifecycle: registration, login, refresh
// rotation, logout, and bearer authentication. It owns no transport
// concerns; the HTTP layer maps its errors onto status codes.
type Manager struct {
	cfg    Config
	codec  TokenCodec
	users  identity.Store
	tokens Store
	log    *slog.Logger

	now func() time.Time

	// dummyHash absorbs a bcrypt verification for unknown emails so that
	// Login takes comparable time whether or not the account exists.
	dummyHash string
}

// NewManager wires a session manager. log may be nil.
func NewManager(cfg Config, users identity.Store, tokens Store, log *slog.Logger) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	codec, err := NewJWTCodec(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	dummy, err := identity.HashPassword("tavolo-equalize-timing")
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:       cfg,
		codec:     codec,
		users:     users,
		tokens:    tokens,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		dummyHash: dummy,
	}, nil
}

// Register validates input, creates the user, and logs them in.
func (m *Manager) Register(ctx context.Context, in RegisterInput) (Issued, error) {
	if err := validateRegister(in); err != nil {
		return Issued{}, err
	}

	now := m.now()

	var phone *string
	if p := strings.TrimSpace(in.Phone); p != "" {
		phone = &p
	}

	// Self-service signups are always customers. Elevated roles are
	// granted out of band, never taken from the request.
	user, err := m.users.CreateUser(ctx, identity.CreateUserInput{
		Email:    strings.TrimSpace(in.Email),
		Password: in.Password,
		Name:     strings.TrimSpace(in.Name),
		Phone:    phone,
		Role:     identity.RoleCustomer,
		Now:      now,
	})
	if err != nil {
		if identity.IsConflict(err) {
			return Issued{}, ErrDuplicateEmail
		}
		return Issued{}, err
	}

	issued, err := m.issue(ctx, user, now)
	if err != nil {
		return Issued{}, err
	}

	m.log.LogAttrs(ctx, slog.LevelInfo, "user registered",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return issued, nil
}

// Login verifies credentials and issues a token pair. Unknown email,
// wrong password, and deactivated account all surface as
// ErrInvalidCredentials; the bcrypt verify runs on a dummy hash when the
// account is missing so timing does not reveal which case occurred.
func (m *Manager) Login(ctx context.Context, in LoginInput) (Issued, error) {
	if err := validateLogin(in); err != nil {
		return Issued{}, err
	}

	ua, err := m.users.GetUserAuthByEmail(ctx, in.Email)
	if err != nil {
		if identity.IsNotFound(err) {
			_, _ = identity.VerifyPassword(in.Password, m.dummyHash)
			return Issued{}, ErrInvalidCredentials
		}
		return Issued{}, err
	}

	ok, err := identity.VerifyPassword(in.Password, ua.PasswordHash)
	if err != nil {
		return Issued{}, err
	}
	if !ok || !ua.User.IsActive {
		return Issued{}, ErrInvalidCredentials
	}

	issued, err := m.issue(ctx, ua.User, m.now())
	if err != nil {
		return Issued{}, err
	}

	m.log.LogAttrs(ctx, slog.LevelInfo, "user logged in",
		slog.String("user_id", ua.User.ID),
	)
	return issued, nil
}

// Refresh rotates a refresh token: the presented token is verified,
// atomically swapped for a new one, and a new access token is minted.
// A token that was already rotated away or revoked fails with
// ErrInvalidToken, including under concurrent presentation of the same
// token, where exactly one caller wins.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (Issued, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Issued{}, ErrMissingToken
	}

	now := m.now()

	claims, err := m.codec.VerifyRefreshToken(refreshToken, now)
	if err != nil {
		return Issued{}, err
	}

	user, err := m.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return Issued{}, ErrUserNotActive
		}
		return Issued{}, err
	}
	if !user.IsActive {
		return Issued{}, ErrUserNotActive
	}

	accessToken, accessExp, err := m.codec.IssueAccessToken(user.ID, user.Email, user.Role, now)
	if err != nil {
		return Issued{}, err
	}
	newRefresh, refreshExp, err := m.codec.IssueRefreshToken(user.ID, now)
	if err != nil {
		return Issued{}, err
	}

	honored, err := m.tokens.Rotate(ctx, now,
		user.ID, hashRefreshToken(refreshToken), hashRefreshToken(newRefresh))
	if err != nil {
		return Issued{}, err
	}
	if !honored {
		m.log.LogAttrs(ctx, slog.LevelWarn, "refresh token replay rejected",
			slog.String("user_id", user.ID),
		)
		return Issued{}, ErrInvalidToken
	}

	return Issued{
		User:             user,
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExp,
		RefreshToken:     newRefresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Logout revokes the presented refresh token. An absent token is
// ErrMissingToken; a token that fails verification or was already
// revoked is treated as logged out.
func (m *Manager) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return ErrMissingToken
	}

	claims, err := m.codec.VerifyRefreshToken(refreshToken, m.now())
	if err != nil {
		return nil
	}

	if err := m.tokens.Remove(ctx, claims.UserID, hashRefreshToken(refreshToken)); err != nil {
		return err
	}

	m.log.LogAttrs(ctx, slog.LevelInfo, "user logged out",
		slog.String("user_id", claims.UserID),
	)
	return nil
}

// LogoutAll revokes every refresh token the user holds, ending all
// sessions on all devices.
func (m *Manager) LogoutAll(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrMissingToken
	}
	if err := m.tokens.RemoveAll(ctx, userID); err != nil {
		return err
	}
	m.log.LogAttrs(ctx, slog.LevelInfo, "all sessions revoked",
		slog.String("user_id", userID),
	)
	return nil
}

// Authenticate verifies an access token and loads its subject. The user
// row is re-checked on every call so a deactivation takes effect within
// one access-token lifetime at most, and immediately for guarded routes.
func (m *Manager) Authenticate(ctx context.Context, accessToken string) (identity.User, error) {
	if strings.TrimSpace(accessToken) == "" {
		return identity.User{}, ErrMissingToken
	}

	claims, err := m.codec.VerifyAccessToken(accessToken, m.now())
	if err != nil {
		return identity.User{}, err
	}

	user, err := m.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.User{}, ErrUserNotActive
		}
		return identity.User{}, err
	}
	if !user.IsActive {
		return identity.User{}, ErrUserNotActive
	}
	return user, nil
}

// Config exposes the manager's effective configuration (read-only copy).
func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) issue(ctx context.Context, user identity.User, now time.Time) (Issued, error) {
	accessToken, accessExp, err := m.codec.IssueAccessToken(user.ID, user.Email, user.Role, now)
	if err != nil {
		return Issued{}, err
	}
	refreshToken, refreshExp, err := m.codec.IssueRefreshToken(user.ID, now)
	if err != nil {
		return Issued{}, err
	}
	if err := m.tokens.Add(ctx, now, user.ID, hashRefreshToken(refreshToken)); err != nil {
		return Issued{}, err
	}
	return Issued{
		User:             user,
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExp,
	}, nil
}
