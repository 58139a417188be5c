// Package token implements the bearer credential codec: it issues and
// parses signed tokens carrying a subject and role claims.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the parsed content of a bearer credential. Expired is
// reported instead of an error so callers can distinguish a stale
// credential from a forged one.
type Identity struct {
	Subject string
	Roles   []string
	Expired bool
}

type claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// Codec signs and verifies tokens with a shared HS512 secret.
type Codec struct {
	secret []byte
	ttl    time.Duration
	Now    func() time.Time
}

func NewCodec(secret string, ttl time.Duration) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret not configured")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &Codec{secret: []byte(secret), ttl: ttl, Now: time.Now}, nil
}

func (c *Codec) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Issue returns a signed token for the subject with the given roles,
// expiring after the codec's ttl.
func (c *Codec) Issue(subject string, roles []string) (string, error) {
	if subject == "" {
		return "", errors.New("subject required")
	}
	now := c.now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS512, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
		Roles: roles,
	})
	return t.SignedString(c.secret)
}

// Parse verifies the signature and returns the identity. An expired but
// otherwise valid token yields Expired=true rather than an error;
// unparseable or forged tokens error.
func (c *Codec) Parse(tokenString string) (Identity, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	cl := &claims{}
	parsed, err := parser.ParseWithClaims(tokenString, cl, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return Identity{}, err
	}
	if !parsed.Valid {
		return Identity{}, errors.New("invalid token")
	}
	if cl.Subject == "" {
		return Identity{}, errors.New("subject claim required")
	}
	ident := Identity{Subject: cl.Subject, Roles: cl.Roles}
	if cl.ExpiresAt == nil || c.now().After(cl.ExpiresAt.Time) {
		ident.Expired = true
	}
	return ident, nil
}
