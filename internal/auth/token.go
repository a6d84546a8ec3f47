package auth

import (
	"errors"
	"fmt"
	"time"

	"giveaway/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by a bearer token. The subject is the caller's address.
type Claims struct {
	Role Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HMAC-signed bearer tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  clock.Clock
}

func NewTokens(secret, issuer string, ttl time.Duration, clk clock.Clock) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Tokens{secret: []byte(secret), issuer: issuer, ttl: ttl, clock: clk}, nil
}

// Issue signs a token for address with the given role.
func (t *Tokens) Issue(address models.Address, role Role) (string, error) {
	if address == "" {
		return "", errors.New("address must not be empty")
	}
	now := t.clock.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(address),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify checks the signature, issuer and expiry and returns the caller.
func (t *Tokens) Verify(token string) (Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.clock.Now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	role := claims.Role
	if role == "" {
		role = RoleUser
	}
	return Principal{Address: models.Address(claims.Subject), Role: role}, nil
}
