package workerauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/unmanic/unmanicd/pkg/orcherr"
)

const (
	DefaultValidity = 24 * time.Hour
	MaxValidity     = 30 * 24 * time.Hour
)

// Role is a distributed-worker permission tier.
type Role string

const (
	RoleWorker   Role = "worker"
	RoleAdmin    Role = "admin"
	RoleReadonly Role = "readonly"
)

// claims is the JWT payload: {sub, roles, capabilities, iat, exp, jti}.
// Embedding jwt.RegisteredClaims gives us the three-segment h.p.s compact
// serialization, HMAC-SHA256 signing, and constant-time signature
// comparison for free from golang-jwt - that is the same HS256 machinery
// spec.md §3.7 describes, not a reimplementation of it.
type claims struct {
	Roles        []string `json:"roles"`
	Capabilities []string `json:"capabilities"`
	jwt.RegisteredClaims
}

// issue mints a token for workerID valid for validity (DefaultValidity
// when validity <= 0, capped at MaxValidity), returning the compact h.p.s
// string and its jti.
func issue(secret []byte, workerID string, roles, capabilities []string, validity time.Duration) (string, string, error) {
	if validity <= 0 {
		validity = DefaultValidity
	}
	if validity > MaxValidity {
		validity = MaxValidity
	}
	jti := newJTI()
	now := time.Now()
	c := claims{
		Roles:        roles,
		Capabilities: capabilities,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   workerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
			ID:        jti,
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", "", orcherr.New(orcherr.KindAuth, "sign token", err)
	}
	return signed, jti, nil
}

// parsedClaims is what verify returns on success.
type parsedClaims struct {
	WorkerID     string
	Roles        []string
	Capabilities []string
	JTI          string
	ExpiresAt    time.Time
}

// verify parses and HMAC-verifies token, deferring the revocation and
// expiry checks to the caller (Manager.Validate) so the exact error-
// ordering spec.md §4.H demands - parse, HMAC, jti-revoked, exp, worker-
// active - can be enforced across both packages.
func verify(secret []byte, token string) (*parsedClaims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, orcherr.New(orcherr.KindAuth, "invalid", err)
	}

	exp, err := c.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, orcherr.New(orcherr.KindAuth, "invalid", nil)
	}

	return &parsedClaims{
		WorkerID:     c.Subject,
		Roles:        c.Roles,
		Capabilities: c.Capabilities,
		JTI:          c.ID,
		ExpiresAt:    exp.Time,
	}, nil
}
