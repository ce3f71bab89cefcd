package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ====== Config ======

type TokenConfig struct {
	Issuer     string        // e.g. "e2ee-relay"
	Audience   string        // e.g. "e2ee-clients"
	TTL        time.Duration // e.g. 7 * 24h
	SigningKey []byte        // HS256 secret
}

// ====== Errors ======

var (
	ErrMissingCredential = errors.New("auth: missing credential")
	ErrInvalidCredential = errors.New("auth: invalid credential")
)

// ====== Service ======

// TokenService issues bearer tokens and resolves them back to a user
// identity. Clients present the token as a connection-establishment
// parameter, not as a frame.
type TokenService struct {
	cfg TokenConfig
	now func() time.Time
}

func NewTokenServiceHS256(cfg TokenConfig) *TokenService {
	return &TokenService{cfg: cfg, now: time.Now}
}

func (t *TokenService) Issue(userID uuid.UUID) (string, error) {
	now := t.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    t.cfg.Issuer,
		Subject:   userID.String(),
		Audience:  jwt.ClaimStrings{t.cfg.Audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(t.cfg.TTL)),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.cfg.SigningKey)
}

// ResolveIdentity maps a credential to a stable user identity.
func (t *TokenService) ResolveIdentity(credential string) (uuid.UUID, error) {
	if credential == "" {
		return uuid.Nil, ErrMissingCredential
	}
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.cfg.Issuer),
		jwt.WithAudience(t.cfg.Audience),
		jwt.WithTimeFunc(func() time.Time { return t.now() }),
	)
	tok, err := parser.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		return t.cfg.SigningKey, nil
	})
	if err != nil || !tok.Valid {
		return uuid.Nil, ErrInvalidCredential
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidCredential
	}
	return userID, nil
}
