// Package identity resolves the calling actor from a bearer token.
//
// Session management lives elsewhere; this package only verifies tokens it is handed and
// turns their claims into a domain.Actor.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/greirson/gthanks-sub001/internal/domain"
)

var (
	ErrInvalidToken  = errors.New("invalid bearer token")
	ErrNotConfigured = errors.New("identity secret not configured")
)

// Resolver yields the authenticated actor for r, or nil when the request carries no
// credentials.
type Resolver interface {
	Resolve(r *http.Request) (*domain.Actor, error)
}

// Claims is the token payload issued by the session service.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// JWTResolver verifies HS256 bearer tokens.
type JWTResolver struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTResolver(cfg JWTConfig) *JWTResolver {
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = 2 * time.Minute
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &JWTResolver{
		secret: []byte(strings.TrimSpace(cfg.Secret)),
		parser: jwt.NewParser(opts...),
	}
}

func (j *JWTResolver) Resolve(r *http.Request) (*domain.Actor, error) {
	raw := bearerToken(r.Header.Get("Authorization"))
	if raw == "" {
		return nil, nil
	}
	if len(j.secret) == 0 {
		return nil, ErrNotConfigured
	}

	var claims Claims
	token, err := j.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &domain.Actor{
		ID:    claims.Subject,
		Email: claims.Email,
		Name:  claims.Name,
	}, nil
}

// Issue signs a token for actor. The session service owns issuance in production; this is
// used by tests and local tooling.
func Issue(secret string, actor domain.Actor, issuer string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Email: actor.Email,
		Name:  actor.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type actorKey struct{}

// WithActor stores actor on ctx.
func WithActor(ctx context.Context, actor *domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored by WithActor, or nil.
func ActorFrom(ctx context.Context) *domain.Actor {
	actor, _ := ctx.Value(actorKey{}).(*domain.Actor)
	return actor
}
