package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// JWTProvider trusts HS256 bearer tokens signed by the identity provider.
// The subject is the user id and the optional "role" claim the role.
type JWTProvider struct {
	secret []byte
	issuer string
}

func NewJWTProvider(secret, issuer string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), issuer: issuer}
}

func (p *JWTProvider) Identify(r *http.Request) (Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Anonymous(), nil
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return Anonymous(), fmt.Errorf("%w: malformed authorization header", ErrUnauthenticated)
	}
	return p.Parse(strings.TrimSpace(token))
}

func (p *JWTProvider) Parse(token string) (Identity, error) {
	if len(p.secret) == 0 {
		return Anonymous(), fmt.Errorf("%w: token auth is not configured", ErrUnauthenticated)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return Anonymous(), fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if strings.TrimSpace(parsed.Subject) == "" {
		return Anonymous(), fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return New(parsed.Subject, ParseRole(parsed.Role)), nil
}

// Sign issues a token for id. Used by tests and local tooling.
func (p *JWTProvider) Sign(id Identity, ttl time.Duration) (string, error) {
	if len(p.secret) == 0 {
		return "", errors.New("token auth is not configured")
	}
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(id.Role()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.secret)
}
