package idtoken

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testProject = "appraise-test"

func TestNewVerifierRequiresIssuerAndAudience(t *testing.T) {
	if _, err := NewVerifier(Config{JWKSURL: "http://example.test/jwks"}); err == nil {
		t.Fatalf("expected missing issuer/audience to fail")
	}
	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatalf("expected missing jwks url to fail")
	}
	v, err := NewVerifier(Config{FirebaseProjectID: testProject})
	if err != nil {
		t.Fatalf("firebase defaults: %v", err)
	}
	if v.jwksURL != FirebaseJWKSURL || v.issuer != "https://securetoken.google.com/"+testProject || v.audience != testProject {
		t.Fatalf("firebase defaults = %q %q %q", v.jwksURL, v.issuer, v.audience)
	}
}

func TestVerifyFirebaseTokenAndRotate(t *testing.T) {
	key1 := mustKey(t)
	key2 := mustKey(t)
	var active atomic.Value
	active.Store("kid-1")
	var fetches atomic.Int32
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		kid := active.Load().(string)
		key := key1
		if kid == "kid-2" {
			key = key2
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK(kid, key.PublicKey)}})
	}))
	defer jwks.Close()

	v, err := NewVerifier(Config{FirebaseProjectID: testProject, JWKSURL: jwks.URL})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	ctx := context.Background()

	id, err := v.Verify(ctx, sign(t, key1, "kid-1", "user-a", time.Now()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	want := Identity{Subject: "user-a", Email: "doc@nhs.test", Name: "Dr A", Picture: "https://pic.test/a.png", Provider: "google"}
	if id != want {
		t.Fatalf("identity = %+v, want %+v", id, want)
	}

	active.Store("kid-2")
	if id, err := v.Verify(ctx, sign(t, key2, "kid-2", "user-b", time.Now())); err != nil || id.Subject != "user-b" {
		t.Fatalf("verify after rotation: %+v, %v", id, err)
	}
	if got := fetches.Load(); got != 2 {
		t.Fatalf("jwks fetches = %d, want 2", got)
	}
}

func TestVerifyRejects(t *testing.T) {
	key := mustKey(t)
	other := mustKey(t)
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK("kid-1", key.PublicKey)}})
	}))
	defer jwks.Close()
	v, err := NewVerifier(Config{FirebaseProjectID: testProject, JWKSURL: jwks.URL, Leeway: 5 * time.Second})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	cases := map[string]string{
		"empty":      "",
		"future iat": sign(t, key, "kid-1", "user-a", time.Now().Add(2*time.Minute)),
		"wrong key":  sign(t, other, "kid-1", "user-a", time.Now()),
		"no subject": sign(t, key, "kid-1", "", time.Now()),
		"garbage":    "not.a.jwt",
	}
	for name, token := range cases {
		if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestMaxAge(t *testing.T) {
	if got := maxAge("public, max-age=19845, must-revalidate"); got != 19845*time.Second {
		t.Fatalf("maxAge = %v", got)
	}
	if got := maxAge("no-store"); got != 0 {
		t.Fatalf("maxAge without directive = %v", got)
	}
}

func sign(t *testing.T, key *rsa.PrivateKey, kid, subject string, issuedAt time.Time) string {
	t.Helper()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "https://securetoken.google.com/" + testProject,
			Audience:  jwt.ClaimStrings{testProject},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email:   "doc@nhs.test",
		Name:    "Dr A",
		Picture: "https://pic.test/a.png",
	}
	c.Firebase.SignInProvider = "google.com"
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func mustKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func toJWK(kid string, key rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}
