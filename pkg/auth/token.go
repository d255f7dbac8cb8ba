// Package auth verifies the HS256 bearer tokens issued by the identity
// service. Issue exists for dev tooling and tests.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/pharmacy-backend/pkg/config"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
)

const clockSkew = 30 * time.Second

var ErrInvalidToken = errors.New("invalid access token")

// Identity is the authenticated caller carried by a token.
type Identity struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// Claims puts the user id in "sub" and the actor role in "role".
type Claims struct {
	Role enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}

type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewTokens(cfg config.JWTConfig) (*Tokens, error) {
	secret := strings.TrimSpace(cfg.Secret)
	issuer := strings.TrimSpace(cfg.Issuer)
	switch {
	case secret == "":
		return nil, errors.New("jwt secret is required")
	case issuer == "":
		return nil, errors.New("jwt issuer is required")
	case cfg.ExpirationMinutes <= 0:
		return nil, errors.New("jwt expiration minutes must be positive")
	}
	return &Tokens{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    time.Duration(cfg.ExpirationMinutes) * time.Minute,
	}, nil
}

// Issue signs a token for id valid from now for the configured TTL.
func (t *Tokens) Issue(now time.Time, id Identity) (string, error) {
	if id.UserID == uuid.Nil {
		return "", errors.New("user id is required")
	}
	if !id.Role.IsValid() {
		return "", fmt.Errorf("invalid actor role %q", id.Role)
	}
	claims := Claims{
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   id.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry and returns the caller. Every
// failure wraps ErrInvalidToken.
func (t *Tokens) Verify(raw string) (Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return Identity{}, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	if !claims.Role.IsValid() {
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return Identity{UserID: userID, Role: claims.Role}, nil
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively; a bare token is accepted.
func BearerToken(header string) string {
	const scheme = "bearer"
	header = strings.TrimSpace(header)
	if len(header) >= len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) &&
		(len(header) == len(scheme) || header[len(scheme)] == ' ') {
		return strings.TrimSpace(header[len(scheme):])
	}
	return header
}
