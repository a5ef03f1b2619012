package store

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const minJWTSecretLen = 32

var (
	// ErrInvalidSession covers malformed, expired, foreign and tampered tokens.
	ErrInvalidSession = errors.New("invalid session token")
	// ErrTokenRevoked is returned after logout or logout-all.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrWeakJWTSecret is returned when the signing secret is too short.
	ErrWeakJWTSecret = fmt.Errorf("jwt secret must be at least %d bytes", minJWTSecretLen)
)

// JWTOptions sets the claims checked on every request. Empty fields fall
// back to issuer "appraise", audience "appraise-api" and 30s leeway.
type JWTOptions struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// JWTSessionStore signs HS256 session tokens for signed-in clinicians.
// Tokens are stateless; the revoker remembers logged-out jtis and per-user
// logout-all cutoffs.
type JWTSessionStore struct {
	secret  []byte
	ttl     time.Duration
	revoker TokenRevoker
	parser  *jwt.Parser
	opts    JWTOptions
	now     func() time.Time
}

// NewJWTSessionStore builds the store. A nil revoker makes logout a no-op.
func NewJWTSessionStore(secret string, ttl time.Duration, revoker TokenRevoker, opts JWTOptions) (*JWTSessionStore, error) {
	if len(secret) < minJWTSecretLen {
		return nil, ErrWeakJWTSecret
	}
	if ttl <= 0 {
		return nil, errors.New("jwt ttl must be positive")
	}
	opts.Issuer = orDefault(opts.Issuer, "appraise")
	opts.Audience = orDefault(opts.Audience, "appraise-api")
	if opts.Leeway <= 0 {
		opts.Leeway = 30 * time.Second
	}
	s := &JWTSessionStore{
		secret:  []byte(secret),
		ttl:     ttl,
		revoker: revoker,
		opts:    opts,
		now:     time.Now,
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(opts.Issuer),
		jwt.WithAudience(opts.Audience),
		jwt.WithLeeway(opts.Leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	return s, nil
}

// TTL is the lifetime of issued tokens.
func (s *JWTSessionStore) TTL() time.Duration {
	return s.ttl
}

// NewSession signs a token for userID with a random jti.
func (s *JWTSessionStore) NewSession(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("user id required")
	}
	jti := make([]byte, 12)
	if _, err := rand.Read(jti); err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	now := s.now().UTC()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        hex.EncodeToString(jti),
		Subject:   userID,
		Issuer:    s.opts.Issuer,
		Audience:  jwt.ClaimStrings{s.opts.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}).SignedString(s.secret)
}

// GetUserIDByToken returns the signed-in user. Bad tokens yield
// ErrInvalidSession or ErrTokenRevoked; any other error comes from the revoker.
func (s *JWTSessionStore) GetUserIDByToken(token string) (string, bool, error) {
	claims, err := s.verify(token)
	if err != nil {
		return "", false, err
	}
	if err := s.checkRevoked(claims); err != nil {
		return "", false, err
	}
	return claims.Subject, true, nil
}

// DeleteSession revokes one token until its natural expiry. Tokens that do
// not verify are already unusable and are ignored.
func (s *JWTSessionStore) DeleteSession(token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.verify(token)
	if err != nil {
		return nil
	}
	return s.revoker.Revoke(claims.ID, claims.ExpiresAt.Time.Sub(s.now()))
}

// RevokeUserSessions invalidates every token of userID issued at or before since.
func (s *JWTSessionStore) RevokeUserSessions(userID string, since time.Time) error {
	if s.revoker == nil {
		return nil
	}
	ur, ok := s.revoker.(UserTokenRevoker)
	if !ok {
		return errors.New("session revoker does not support user revocation")
	}
	return ur.RevokeUser(userID, since)
}

func (s *JWTSessionStore) verify(token string) (*jwt.RegisteredClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidSession
	}
	claims := &jwt.RegisteredClaims{}
	if _, err := s.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	switch {
	case strings.TrimSpace(claims.ID) == "":
		return nil, fmt.Errorf("%w: jti missing", ErrInvalidSession)
	case strings.TrimSpace(claims.Subject) == "":
		return nil, fmt.Errorf("%w: subject missing", ErrInvalidSession)
	case claims.IssuedAt == nil:
		return nil, fmt.Errorf("%w: iat missing", ErrInvalidSession)
	}
	return claims, nil
}

func (s *JWTSessionStore) checkRevoked(claims *jwt.RegisteredClaims) error {
	if s.revoker == nil {
		return nil
	}
	revoked, err := s.revoker.IsRevoked(claims.ID)
	if err != nil {
		return err
	}
	if revoked {
		return ErrTokenRevoked
	}
	ur, ok := s.revoker.(UserTokenRevoker)
	if !ok {
		return nil
	}
	cutoff, err := ur.RevokedAfter(claims.Subject)
	if err != nil {
		return err
	}
	if !cutoff.IsZero() && !claims.IssuedAt.Time.After(cutoff) {
		return ErrTokenRevoked
	}
	return nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
