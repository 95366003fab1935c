// Package auth turns request credentials into a domain.Actor. Tokens are
// HMAC signed JWTs; development mode also accepts plain actor headers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mathavam/backend/internal/domain"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidToken    = errors.New("invalid token")
)

const (
	HeaderAuthorization = "authorization"
	HeaderActorID       = "x-actor-id"
	HeaderActorRole     = "x-actor-role"
	HeaderActorPatients = "x-actor-patients"
)

type Claims struct {
	jwt.RegisteredClaims
	Role       string   `json:"role"`
	PatientIDs []string `json:"patient_ids,omitempty"`
}

type Config struct {
	SigningKey []byte
	Issuer     string
	// DevMode accepts x-actor-* headers when no bearer token is sent.
	DevMode bool
}

type Verifier struct {
	cfg Config
	now func() time.Time
}

func NewVerifier(cfg Config) (*Verifier, error) {
	if len(cfg.SigningKey) == 0 && !cfg.DevMode {
		return nil, errors.New("auth: signing key is required outside dev mode")
	}
	return &Verifier{cfg: cfg, now: time.Now}, nil
}

// HeaderFunc looks up a request header or metadata value by lower case name.
type HeaderFunc func(key string) string

// Authenticate resolves the actor of a request.
func (v *Verifier) Authenticate(get HeaderFunc) (domain.Actor, error) {
	if header := strings.TrimSpace(get(HeaderAuthorization)); header != "" {
		token, err := bearerToken(header)
		if err != nil {
			return domain.Actor{}, err
		}
		return v.Verify(token)
	}
	if v.cfg.DevMode {
		return headerActor(get)
	}
	return domain.Actor{}, ErrUnauthenticated
}

func bearerToken(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("%w: expected bearer authorization", ErrUnauthenticated)
	}
	return strings.TrimSpace(parts[1]), nil
}

// Verify parses a signed token.
func (v *Verifier) Verify(tokenStr string) (domain.Actor, error) {
	if len(v.cfg.SigningKey) == 0 {
		return domain.Actor{}, fmt.Errorf("%w: tokens are not accepted", ErrInvalidToken)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return v.cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return domain.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	role, ok := domain.ParseRole(claims.Role)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	if claims.Subject == "" {
		return domain.Actor{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return domain.Actor{ID: claims.Subject, Role: role, PatientIDs: claims.PatientIDs}, nil
}

// Issue signs a token for actor. It backs the dev token command and tests.
func (v *Verifier) Issue(actor domain.Actor, ttl time.Duration) (string, error) {
	if len(v.cfg.SigningKey) == 0 {
		return "", errors.New("auth: no signing key configured")
	}
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    v.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:       string(actor.Role),
		PatientIDs: actor.PatientIDs,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.cfg.SigningKey)
}

func headerActor(get HeaderFunc) (domain.Actor, error) {
	id := strings.TrimSpace(get(HeaderActorID))
	if id == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	role, ok := domain.ParseRole(get(HeaderActorRole))
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, get(HeaderActorRole))
	}
	var patients []string
	for _, p := range strings.Split(get(HeaderActorPatients), ",") {
		if p = strings.TrimSpace(p); p != "" {
			patients = append(patients, p)
		}
	}
	return domain.Actor{ID: id, Role: role, PatientIDs: patients}, nil
}

type contextKey struct{}

func WithActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(domain.Actor)
	return a, ok
}
