// Package token signs and verifies the compact HS256 tokens handed to
// clients.  Tokens are RFC 7519 JWTs, so any standard JWT library holding
// the secret can read them.  Validity is purely cryptographic plus expiry:
// no revocation list is consulted here.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/agency-api/internal/utils"
)

// ErrInvalid is the only error Verify* return.  Malformed input, a bad
// signature, a wrong algorithm, expiry and a wrong token kind all look the
// same to the caller.
var ErrInvalid = errors.New("invalid or expired token")

// TypeRefresh marks refresh tokens in the "type" claim.
const TypeRefresh = "refresh"

// AccessClaims is the payload of an access token.  Type must be empty;
// it is decoded only so that a refresh token presented as an access token
// can be rejected.
type AccessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	Type  string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token.
type RefreshClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// Issued is a freshly signed token with the stamped registered claims.
type Issued struct {
	Token     string
	ID        string // jti
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec holds the HMAC secret and the clock used for iat/exp.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec returns a codec signing with secret.  now may be nil, in which
// case time.Now is used.
func NewCodec(secret string, now func() time.Time) *Codec {
	if now == nil {
		now = time.Now
	}
	return &Codec{secret: []byte(secret), now: now}
}

// IssueAccess signs {sub, email, role} valid for ttl.
func (c *Codec) IssueAccess(userID, email, role string, ttl time.Duration) (Issued, error) {
	claims := &AccessClaims{Email: email, Role: role}
	claims.Subject = userID
	return c.issue(claims, &claims.RegisteredClaims, ttl)
}

// IssueRefresh signs {sub, type:"refresh"} valid for ttl.
func (c *Codec) IssueRefresh(userID string, ttl time.Duration) (Issued, error) {
	claims := &RefreshClaims{Type: TypeRefresh}
	claims.Subject = userID
	return c.issue(claims, &claims.RegisteredClaims, ttl)
}

// issue stamps iat, exp and a random 128-bit jti into reg (which must be
// embedded in claims) and signs claims.
func (c *Codec) issue(claims jwt.Claims, reg *jwt.RegisteredClaims, ttl time.Duration) (Issued, error) {
	jti, err := utils.RandomHex(16)
	if err != nil {
		return Issued{}, err
	}
	now := c.now().UTC()
	reg.IssuedAt = jwt.NewNumericDate(now)
	reg.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	reg.ID = jti

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return Issued{}, err
	}
	return Issued{
		Token:     signed,
		ID:        jti,
		IssuedAt:  reg.IssuedAt.Time,
		ExpiresAt: reg.ExpiresAt.Time,
	}, nil
}

// VerifyAccess checks signature and expiry of an access token.
func (c *Codec) VerifyAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(raw, claims); err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.Type != "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// VerifyRefresh checks signature, expiry and the "refresh" type marker.
func (c *Codec) VerifyRefresh(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(raw, claims); err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.Type != TypeRefresh {
		return nil, ErrInvalid
	}
	return claims, nil
}

func (c *Codec) parse(raw string, claims jwt.Claims) error {
	tok, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !tok.Valid {
		return ErrInvalid
	}
	return nil
}
