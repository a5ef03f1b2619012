package store

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestJWTSessionStoreRoundTrip(t *testing.T) {
	s, err := NewJWTSessionStore(testSecret, time.Hour, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	uid, ok, err := s.GetUserIDByToken(token)
	if err != nil || !ok || uid != "user-1" {
		t.Fatalf("expected user-1, got %q ok=%v err=%v", uid, ok, err)
	}
	if _, _, err := s.GetUserIDByToken(token + "x"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("tampered token err = %v, want ErrInvalidSession", err)
	}
	if _, _, err := s.GetUserIDByToken("  "); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("blank token err = %v", err)
	}
}

func TestJWTSessionStoreRejectsWeakSecret(t *testing.T) {
	if _, err := NewJWTSessionStore("short", time.Hour, nil, JWTOptions{}); !errors.Is(err, ErrWeakJWTSecret) {
		t.Fatalf("expected ErrWeakJWTSecret, got %v", err)
	}
}

func TestJWTSessionStoreEnforcesAudience(t *testing.T) {
	signing, _ := NewJWTSessionStore(testSecret, time.Hour, nil, JWTOptions{Audience: "aud-a"})
	verify, _ := NewJWTSessionStore(testSecret, time.Hour, nil, JWTOptions{Audience: "aud-b"})

	token, err := signing.NewSession("user-claim")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, _, err := verify.GetUserIDByToken(token); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}
}

func TestJWTSessionStoreRejectsOtherSecret(t *testing.T) {
	a, _ := NewJWTSessionStore(testSecret, time.Hour, nil, JWTOptions{})
	b, _ := NewJWTSessionStore(strings.Repeat("z", 32), time.Hour, nil, JWTOptions{})
	token, _ := a.NewSession("user-1")
	if _, _, err := b.GetUserIDByToken(token); err == nil {
		t.Fatalf("expected signature mismatch to fail")
	}
}

func TestJWTSessionStoreExpiry(t *testing.T) {
	s, _ := NewJWTSessionStore(testSecret, time.Minute, nil, JWTOptions{Leeway: time.Second})
	issued := time.Now().Add(-2 * time.Hour)
	s.now = func() time.Time { return issued }
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.now = time.Now
	if _, _, err := s.GetUserIDByToken(token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestJWTSessionStoreRevokesByJTI(t *testing.T) {
	revoker := NewMemoryTokenRevoker()
	s, _ := NewJWTSessionStore(testSecret, time.Hour, revoker, JWTOptions{})

	token, err := s.NewSession("user-revoke")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); !errors.Is(err, ErrTokenRevoked) || ok {
		t.Fatalf("expected revoked token to fail, ok=%v err=%v", ok, err)
	}
	if err := s.DeleteSession("garbage"); err != nil {
		t.Fatalf("deleting an invalid token should be ignored: %v", err)
	}
}

func TestJWTSessionStoreRevokesByUserCutoff(t *testing.T) {
	revoker := NewMemoryTokenRevoker()
	s, _ := NewJWTSessionStore(testSecret, time.Hour, revoker, JWTOptions{})

	token, err := s.NewSession("user-cutoff")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.RevokeUserSessions("user-cutoff", time.Now().UTC().Add(time.Second)); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); !errors.Is(err, ErrTokenRevoked) || ok {
		t.Fatalf("expected user-revoked token to fail, ok=%v err=%v", ok, err)
	}
	s.now = func() time.Time { return time.Now().Add(2 * time.Second) }
	fresh, _ := s.NewSession("user-cutoff")
	if _, ok, err := s.GetUserIDByToken(fresh); err != nil || !ok {
		t.Fatalf("token issued after cutoff should pass, ok=%v err=%v", ok, err)
	}
}
