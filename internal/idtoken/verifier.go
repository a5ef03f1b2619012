// Package idtoken verifies the RS256 ID tokens issued by the sign-in
// provider (Firebase Auth / Google) against the provider's published JWKS.
package idtoken

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// FirebaseJWKSURL publishes the keys Firebase Auth signs ID tokens with.
const FirebaseJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

const (
	defaultLeeway   = 30 * time.Second
	defaultCacheTTL = time.Hour
)

var (
	errUnknownKey = errors.New("unknown token key")
	// ErrInvalidToken wraps every verification failure.
	ErrInvalidToken = errors.New("invalid id token")
)

// Config configures ID token verification. FirebaseProjectID, when set,
// fills the JWKS URL, issuer and audience Firebase uses.
type Config struct {
	FirebaseProjectID string
	JWKSURL           string
	Issuer            string
	Audience          string
	Leeway            time.Duration
	HTTPClient        *http.Client
}

// Identity is what a verified token says about the user.
type Identity struct {
	Subject  string
	Email    string
	Name     string
	Picture  string
	Provider string
}

type claims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Name     string `json:"name"`
	Picture  string `json:"picture"`
	Firebase struct {
		SignInProvider string `json:"sign_in_provider"`
	} `json:"firebase"`
}

// Verifier is safe for concurrent use. Keys are fetched on first use and
// refetched when they expire or an unknown kid shows up.
type Verifier struct {
	issuer     string
	audience   string
	leeway     time.Duration
	jwksURL    string
	httpClient *http.Client

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	expires time.Time
	now     func() time.Time
}

// NewVerifier validates cfg. It does not contact the JWKS endpoint.
func NewVerifier(cfg Config) (*Verifier, error) {
	if project := strings.TrimSpace(cfg.FirebaseProjectID); project != "" {
		if cfg.JWKSURL == "" {
			cfg.JWKSURL = FirebaseJWKSURL
		}
		if cfg.Issuer == "" {
			cfg.Issuer = "https://securetoken.google.com/" + project
		}
		if cfg.Audience == "" {
			cfg.Audience = project
		}
	}
	v := &Verifier{
		issuer:     strings.TrimSpace(cfg.Issuer),
		audience:   strings.TrimSpace(cfg.Audience),
		leeway:     cfg.Leeway,
		jwksURL:    strings.TrimSpace(cfg.JWKSURL),
		httpClient: cfg.HTTPClient,
		now:        time.Now,
	}
	switch {
	case v.jwksURL == "":
		return nil, errors.New("id token verifier requires a jwks url")
	case v.issuer == "" || v.audience == "":
		return nil, errors.New("id token verifier requires issuer and audience")
	}
	if v.leeway <= 0 {
		v.leeway = defaultLeeway
	}
	if v.httpClient == nil {
		v.httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return v, nil
}

// Verify checks signature, issuer, audience and lifetime and returns the identity.
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, fmt.Errorf("%w: token required", ErrInvalidToken)
	}
	if v.keysExpired() {
		if err := v.refresh(ctx); err != nil {
			return Identity{}, err
		}
	}
	c, err := v.parse(token)
	if errors.Is(err, errUnknownKey) {
		if refreshErr := v.refresh(ctx); refreshErr != nil {
			return Identity{}, refreshErr
		}
		c, err = v.parse(token)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	subject := strings.TrimSpace(c.Subject)
	if subject == "" {
		return Identity{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	return Identity{
		Subject:  subject,
		Email:    c.Email,
		Name:     c.Name,
		Picture:  c.Picture,
		Provider: strings.TrimSuffix(c.Firebase.SignInProvider, ".com"),
	}, nil
}

func (v *Verifier) parse(token string) (claims, error) {
	c := claims{}
	keys := v.snapshot()
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := keys[strings.TrimSpace(kid)]
		if !ok {
			return nil, errUnknownKey
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return c, err
	}
	if !parsed.Valid {
		return c, errors.New("token not valid")
	}
	return c, nil
}

func (v *Verifier) keysExpired() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.keys) == 0 || v.now().After(v.expires)
}

func (v *Verifier) snapshot() map[string]*rsa.PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return maps.Clone(v.keys)
}

func (v *Verifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var payload struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(payload.Keys))
	for _, k := range payload.Keys {
		kid := strings.TrimSpace(k.Kid)
		if !strings.EqualFold(k.Kty, "RSA") || kid == "" {
			continue
		}
		if pub, err := rsaKey(k.N, k.E); err == nil {
			keys[kid] = pub
		}
	}
	if len(keys) == 0 {
		return errors.New("jwks contains no usable rsa keys")
	}

	ttl := maxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	v.mu.Lock()
	v.keys = keys
	v.expires = v.now().Add(ttl)
	v.mu.Unlock()
	return nil
}

func rsaKey(nRaw, eRaw string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(nRaw))
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(eRaw))
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	if n.Sign() <= 0 || !e.IsInt64() || e.Int64() <= 0 {
		return nil, errors.New("invalid rsa key")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// maxAge reads max-age from a Cache-Control header; Google rotates its
// signing keys on the schedule advertised there.
func maxAge(cacheControl string) time.Duration {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		raw, ok := strings.CutPrefix(part, "max-age=")
		if !ok {
			continue
		}
		secs, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	return 0
}
