package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestService(key string) *TokenService {
	return NewTokenServiceHS256(TokenConfig{
		Issuer:     "e2ee-relay",
		Audience:   "e2ee-clients",
		TTL:        time.Hour,
		SigningKey: []byte(key),
	})
}

func TestIssueAndResolve(t *testing.T) {
	svc := newTestService("test-secret")
	userID := uuid.New()

	token, err := svc.Issue(userID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	got, err := svc.ResolveIdentity(token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != userID {
		t.Fatalf("expected %s, got %s", userID, got)
	}
}

func TestResolveMissingCredential(t *testing.T) {
	svc := newTestService("test-secret")
	if _, err := svc.ResolveIdentity(""); err != ErrMissingCredential {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestResolveWrongKey(t *testing.T) {
	issuer := newTestService("key-one")
	verifier := newTestService("key-two")

	token, err := issuer.Issue(uuid.New())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.ResolveIdentity(token); err != ErrInvalidCredential {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestResolveExpired(t *testing.T) {
	svc := newTestService("test-secret")
	token, err := svc.Issue(uuid.New())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.ResolveIdentity(token); err != ErrInvalidCredential {
		t.Fatalf("expected ErrInvalidCredential for expired token, got %v", err)
	}
}

func TestResolveGarbage(t *testing.T) {
	svc := newTestService("test-secret")
	if _, err := svc.ResolveIdentity("not-a-jwt"); err != ErrInvalidCredential {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}
