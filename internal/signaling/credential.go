// Package signaling issues room-scoped credentials for the media server.
package signaling

import (
	"errors"
	"time"

	"callcoin-platform/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Privilege is a bit mask of what a credential allows inside its room.
type Privilege uint8

const (
	PrivJoin Privilege = 1 << iota
	PrivPublishAudio
	PrivPublishVideo
)

// Has reports whether every bit in want is set.
func (p Privilege) Has(want Privilege) bool { return p&want == want }

// ForCall returns the privileges for a call type ("audio" or "video").
func ForCall(callType string) Privilege {
	switch callType {
	case "video":
		return PrivJoin | PrivPublishAudio | PrivPublishVideo
	default:
		return PrivJoin | PrivPublishAudio
	}
}

type Claims struct {
	jwt.RegisteredClaims
	Room       string    `json:"room"`
	Privileges Privilege `json:"priv"`
}

var (
	ErrInvalidCredential = errors.New("signaling: invalid credential")
	ErrRoomMismatch      = errors.New("signaling: room mismatch")
)

// Issuer signs HS256 credentials with a secret shared with the media server.
// The secret is separate from the access-token secret.
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
}

func NewIssuer(cfg config.SignalingConfig) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, errors.New("SIGNALING_SECRET is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Issuer{secret: []byte(cfg.Secret), issuer: cfg.Issuer, audience: cfg.Audience, ttl: ttl}, nil
}

// Issue returns a signed credential for subject in room.
func (i *Issuer) Issue(subject, room string, privs Privilege, now time.Time) (string, time.Time, error) {
	if subject == "" || room == "" {
		return "", time.Time{}, ErrInvalidCredential
	}
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Room:       room,
		Privileges: privs,
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Verify checks signature, expiry and that the credential is scoped to room.
func (i *Issuer) Verify(token, room string, now time.Time) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}); err != nil {
		return Claims{}, errors.Join(ErrInvalidCredential, err)
	}

	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	if i.audience != "" {
		opts = append(opts, jwt.WithAudience(i.audience))
	}
	if err := jwt.NewValidator(opts...).Validate(claims.RegisteredClaims); err != nil {
		return Claims{}, errors.Join(ErrInvalidCredential, err)
	}
	if claims.Room != room {
		return Claims{}, ErrRoomMismatch
	}
	return claims, nil
}
