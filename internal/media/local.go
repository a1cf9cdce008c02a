package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/model"
)

// TokenClaims are carried by tokens minted by LocalProvider.
type TokenClaims struct {
	SessionID string     `json:"sid"`
	Role      model.Role `json:"role"`
	jwt.RegisteredClaims
}

// LocalProvider is an in-process provider for development. Sessions are
// random ids; tokens are HS256 JWTs a media gateway can verify offline.
type LocalProvider struct {
	secret []byte
	ttl    time.Duration
}

// NewLocalProvider constructs a LocalProvider signing with secret.
func NewLocalProvider(secret string, ttl time.Duration) *LocalProvider {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &LocalProvider{secret: []byte(secret), ttl: ttl}
}

// CreateSession returns a new random session id.
func (p *LocalProvider) CreateSession(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrProviderUnavailable, err)
	}
	return "ses_" + uuid.NewString(), nil
}

// IssueToken signs a participant token for sessionID.
func (p *LocalProvider) IssueToken(ctx context.Context, sessionID string, role model.Role) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrProviderUnavailable, err)
	}
	now := time.Now()
	claims := TokenClaims{
		SessionID: sessionID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("%w: sign token: %v", model.ErrProviderUnavailable, err)
	}
	return signed, nil
}

// Verify parses a token minted by this provider.
func (p *LocalProvider) Verify(token string) (*TokenClaims, error) {
	t, err := jwt.ParseWithClaims(token, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	c, ok := t.Claims.(*TokenClaims)
	if !ok || !t.Valid {
		return nil, errors.New("invalid token")
	}
	return c, nil
}
