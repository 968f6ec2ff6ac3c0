package session

import (
	"time"

	"tavolo/cmd/identity"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the minimal identity envelope propagated across the HTTP layer.
type AccessClaims struct {
	UserID    string
	Email     string
	Role      identity.Role
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// RefreshClaims carries only the subject of a refresh token.
type RefreshClaims struct {
	UserID    string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// TokenCodec issues and verifies the two token kinds.
//
// Verification is purely cryptographic: a refresh token that verifies here
// may still be rejected by the Service when it is no longer honored
// server-side.
type TokenCodec interface {
	IssueAccessToken(userID, email string, role identity.Role, now time.Time) (token string, exp time.Time, err error)
	IssueRefreshToken(userID string, now time.Time) (token string, exp time.Time, err error)
	VerifyAccessToken(token string, now time.Time) (AccessClaims, error)
	VerifyRefreshToken(token string, now time.Time) (RefreshClaims, error)
}

type accessJWTClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type refreshJWTClaims struct {
	jwt.RegisteredClaims
}

type jwtCodec struct {
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	clockSkew     time.Duration
	accessSecret  []byte
	refreshSecret []byte
}

// NewJWTCodec builds a TokenCodec signing HS256 JWTs with two distinct secrets.
func NewJWTCodec(cfg Config) (TokenCodec, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &jwtCodec{
		issuer:        cfg.Issuer,
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		clockSkew:     cfg.ClockSkew,
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
	}, nil
}

func (c *jwtCodec) IssueAccessToken(userID, email string, role identity.Role, now time.Time) (string, time.Time, error) {
	exp := now.Add(c.accessTTL)

	claims := accessJWTClaims{
		Email: email,
		Role:  string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (c *jwtCodec) IssueRefreshToken(userID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(c.refreshTTL)

	claims := refreshJWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			// jti makes every issued token unique even within one second,
			// so two rotations never produce the same string.
			ID: newJTI(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (c *jwtCodec) VerifyAccessToken(token string, now time.Time) (AccessClaims, error) {
	var claims accessJWTClaims
	if err := c.parse(token, &claims, c.accessSecret, now); err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.Email == "" {
		return AccessClaims{}, ErrInvalidToken
	}

	return AccessClaims{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      identity.Role(claims.Role),
		ExpiresAt: claims.ExpiresAt.Time,
		IssuedAt:  claims.IssuedAt.Time,
		Issuer:    claims.Issuer,
	}, nil
}

func (c *jwtCodec) VerifyRefreshToken(token string, now time.Time) (RefreshClaims, error) {
	var claims refreshJWTClaims
	if err := c.parse(token, &claims, c.refreshSecret, now); err != nil {
		return RefreshClaims{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return RefreshClaims{}, ErrInvalidToken
	}

	return RefreshClaims{
		UserID:    claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
		IssuedAt:  claims.IssuedAt.Time,
	}, nil
}

func (c *jwtCodec) parse(token string, claims jwt.Claims, secret []byte, now time.Time) error {
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
