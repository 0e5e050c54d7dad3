package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vertexgw/vertex-gateway/internal/domain"
)

type fakeSource struct {
	name  string
	kind  domain.CredentialKind
	calls int
	cred  *domain.Credentials
	err   error
}

func (f *fakeSource) Name() string                { return f.name }
func (f *fakeSource) Kind() domain.CredentialKind { return f.kind }
func (f *fakeSource) Remediation() string         { return "configure " + f.name }

func (f *fakeSource) Credential(ctx context.Context) (*domain.Credentials, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := *f.cred
	return &out, nil
}

func validCred(kind domain.CredentialKind) *domain.Credentials {
	return &domain.Credentials{
		Kind:        kind,
		Token:       "ya29.test-token",
		ExpiresAt:   time.Now().Add(time.Hour),
		ValidatedAt: time.Now(),
	}
}

func TestAcquire_FirstSourceWins(t *testing.T) {
	first := &fakeSource{name: "first", kind: domain.CredentialServiceAccount, cred: validCred(domain.CredentialServiceAccount)}
	second := &fakeSource{name: "second", kind: domain.CredentialUserLogin, cred: validCred(domain.CredentialUserLogin)}
	store := NewStoreWithSources(first, second)

	cred, err := store.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Kind != domain.CredentialServiceAccount {
		t.Errorf("expected service_account credential, got %s", cred.Kind)
	}
	if second.calls != 0 {
		t.Errorf("lower-priority source must not be consulted, got %d calls", second.calls)
	}
}

func TestAcquire_IdempotentWhileValid(t *testing.T) {
	src := &fakeSource{name: "only", kind: domain.CredentialServiceAccount, cred: validCred(domain.CredentialServiceAccount)}
	store := NewStoreWithSources(src)

	for i := 0; i < 5; i++ {
		if _, err := store.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if src.calls != 1 {
		t.Errorf("expected a single source hit for repeated acquires, got %d", src.calls)
	}
}

func TestAcquire_FallsThroughUnconfiguredSources(t *testing.T) {
	first := &fakeSource{name: "first", kind: domain.CredentialServiceAccount, err: ErrNotConfigured}
	second := &fakeSource{name: "second", kind: domain.CredentialUserLogin, cred: validCred(domain.CredentialUserLogin)}
	store := NewStoreWithSources(first, second)

	cred, err := store.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Kind != domain.CredentialUserLogin {
		t.Errorf("expected user_login credential, got %s", cred.Kind)
	}
}

func TestAcquire_RefreshesExpiredFromSameSource(t *testing.T) {
	src := &fakeSource{
		name: "only",
		kind: domain.CredentialServiceAccount,
		cred: &domain.Credentials{
			Kind:      domain.CredentialServiceAccount,
			Token:     "short-lived",
			ExpiresAt: time.Now().Add(70 * time.Second), // inside the margin on the second acquire
		},
	}
	store := NewStoreWithSources(src)

	if _, err := store.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	// Make the next minted credential clearly valid, then expire the cache.
	src.cred = validCred(domain.CredentialServiceAccount)
	store.Clear()

	cred, err := store.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if cred.Token != "ya29.test-token" {
		t.Errorf("expected the refreshed token, got %q", cred.Token)
	}
	if src.calls != 2 {
		t.Errorf("expected 2 source hits, got %d", src.calls)
	}
}

func TestAcquire_NearExpiryTokenRejectedFallsBackToChain(t *testing.T) {
	expiring := validCred(domain.CredentialServiceAccount)
	expiring.ExpiresAt = time.Now().Add(30 * time.Second) // already inside the margin

	first := &fakeSource{name: "first", kind: domain.CredentialServiceAccount, cred: expiring}
	second := &fakeSource{name: "second", kind: domain.CredentialUserLogin, cred: validCred(domain.CredentialUserLogin)}
	store := NewStoreWithSources(first, second)

	// The probe rejects the near-expiry token, so the chain lands on the
	// second source.
	cred, err := store.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Kind != domain.CredentialUserLogin {
		t.Errorf("expected fallback to user_login, got %s", cred.Kind)
	}
}

func TestAcquire_AllSourcesExhausted(t *testing.T) {
	first := &fakeSource{name: "service account key", kind: domain.CredentialServiceAccount, err: ErrNotConfigured}
	second := &fakeSource{name: "gcloud user login", kind: domain.CredentialUserLogin, err: errors.New("gcloud not installed")}
	store := NewStoreWithSources(first, second)

	_, err := store.Acquire(context.Background())
	e, ok := domain.AsError(err)
	if !ok || e.Kind != domain.KindAuthentication {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if e.Remediation == "" {
		t.Error("expected per-source remediation hints")
	}
	attempted, _ := e.Context["attempted_sources"].([]string)
	if len(attempted) != 2 {
		t.Errorf("expected both sources listed as attempted, got %v", attempted)
	}
}

func TestAcquire_RejectsMalformedToken(t *testing.T) {
	bad := validCred(domain.CredentialServiceAccount)
	bad.Token = "token with spaces\n"
	src := &fakeSource{name: "only", kind: domain.CredentialServiceAccount, cred: bad}
	store := NewStoreWithSources(src)

	_, err := store.Acquire(context.Background())
	if domain.KindOf(err) != domain.KindAuthentication {
		t.Errorf("expected authentication error for malformed token, got %v", err)
	}
}
