package vault

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/guilherme-santos/smartcal"
	"github.com/guilherme-santos/smartcal/internal"
)

type memStorage struct {
	mu    sync.Mutex
	creds map[string]*smartcal.Credential
}

func newMemStorage() *memStorage {
	return &memStorage{creds: make(map[string]*smartcal.Credential)}
}

func (s *memStorage) SaveCredential(_ context.Context, c *smartcal.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.creds[c.OwnerID+"/"+c.Platform] = &cp
	return nil
}

func (s *memStorage) Credential(_ context.Context, ownerID, platform string) (*smartcal.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[ownerID+"/"+platform]
	if !ok {
		return nil, smartcal.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

type refresherFunc func(ctx context.Context, platform, refreshToken string) (*smartcal.Grant, error)

func (f refresherFunc) Refresh(ctx context.Context, platform, refreshToken string) (*smartcal.Grant, error) {
	return f(ctx, platform, refreshToken)
}

func newTestVault(t *testing.T, now time.Time, r Refresher) (*Vault, *memStorage) {
	t.Helper()

	c, err := NewCipher(CipherXChaCha20, "test-secret")
	if err != nil {
		t.Fatal(err)
	}
	storage := newMemStorage()
	v := New(storage, c, r, logr.Discard())
	v.Clock = internal.FixedClock(now)
	return v, storage
}

func TestCipherRoundTrip(t *testing.T) {
	for _, name := range []string{CipherXChaCha20, CipherAESGCM} {
		t.Run(name, func(t *testing.T) {
			c, err := NewCipher(name, "secret")
			if err != nil {
				t.Fatal(err)
			}
			enc, err := c.Encrypt("access-token")
			if err != nil {
				t.Fatal(err)
			}
			if strings.Contains(enc, "access-token") {
				t.Fatal("expected ciphertext not to contain plaintext")
			}
			dec, err := c.Decrypt(enc)
			if err != nil {
				t.Fatal(err)
			}
			if dec != "access-token" {
				t.Errorf("expected access-token, got %q", dec)
			}

			other, _ := NewCipher(name, "another-secret")
			if _, err := other.Decrypt(enc); err == nil {
				t.Error("expected decrypt with another key to fail")
			}
		})
	}
}

func TestNewCipherErrors(t *testing.T) {
	if _, err := NewCipher(CipherAESGCM, ""); err == nil {
		t.Error("expected error for empty secret")
	}
	if _, err := NewCipher("rot13", "secret"); err == nil {
		t.Error("expected error for unknown cipher")
	}
}

func TestStoreRetrieve(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 8, 20, 10, 0, 0, 0, time.UTC)
	v, storage := newTestVault(t, now, nil)

	cred, err := v.Store(ctx, "user-1", "timetree", smartcal.Grant{
		AccessToken:  "plain-access",
		RefreshToken: "plain-refresh",
		ExpiresIn:    3600,
	})
	if err != nil {
		t.Fatal(err)
	}
	if cred.Expired(now) {
		t.Error("expected credential not to be expired right after storing")
	}

	stored, _ := storage.Credential(ctx, "user-1", "timetree")
	if stored.EncryptedAccessToken == "plain-access" || stored.EncryptedRefreshToken == "plain-refresh" {
		t.Fatal("expected tokens to be encrypted at rest")
	}

	tok, err := v.Retrieve(ctx, "user-1", "timetree")
	if err != nil {
		t.Fatal(err)
	}
	if tok != "plain-access" {
		t.Errorf("expected plain-access, got %q", tok)
	}
}

func TestStoreAlreadyExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 8, 20, 10, 0, 0, 0, time.UTC)
	v, _ := newTestVault(t, now, nil)

	cred, err := v.Store(ctx, "user-1", "timetree", smartcal.Grant{AccessToken: "a", ExpiresIn: -1})
	if err != nil {
		t.Fatal(err)
	}
	if !cred.Expired(now) {
		t.Error("expected credential to be expired")
	}

	noExpiry, _ := v.Store(ctx, "user-2", "timetree", smartcal.Grant{AccessToken: "a"})
	if noExpiry.Expired(now.Add(24*time.Hour)) || noExpiry.ExpiringSoon(now, time.Hour) {
		t.Error("expected credential without expiry to never expire")
	}
}

func TestTokenRefreshesWhenExpiringSoon(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 8, 20, 10, 0, 0, 0, time.UTC)

	var calls int
	v, _ := newTestVault(t, now, refresherFunc(func(_ context.Context, platform, refreshToken string) (*smartcal.Grant, error) {
		calls++
		if platform != "timetree" || refreshToken != "old-refresh" {
			t.Errorf("unexpected refresh call: %s %s", platform, refreshToken)
		}
		return &smartcal.Grant{AccessToken: "new-access", ExpiresIn: 3600}, nil
	}))

	v.Store(ctx, "user-1", "timetree", smartcal.Grant{AccessToken: "old-access", RefreshToken: "old-refresh", ExpiresIn: 120})

	tok, err := v.Token(ctx, "user-1", "timetree")
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 refresh call, got %d", calls)
	}
	if tok.AccessToken != "new-access" {
		t.Errorf("expected new-access, got %q", tok.AccessToken)
	}
	if tok.RefreshToken != "old-refresh" {
		t.Errorf("expected refresh token to be kept, got %q", tok.RefreshToken)
	}
	if want := now.Add(time.Hour); !tok.Expiry.Equal(want) {
		t.Errorf("expected expiry %s, got %s", want, tok.Expiry)
	}
}

func TestTokenFreshSkipsRefresh(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 8, 20, 10, 0, 0, 0, time.UTC)
	v, _ := newTestVault(t, now, refresherFunc(func(context.Context, string, string) (*smartcal.Grant, error) {
		t.Fatal("refresh should not be called")
		return nil, nil
	}))

	v.Store(ctx, "user-1", "timetree", smartcal.Grant{AccessToken: "access", RefreshToken: "refresh", ExpiresIn: 3600})
	tok, err := v.Token(ctx, "user-1", "timetree")
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "access" {
		t.Errorf("expected access, got %q", tok.AccessToken)
	}
}

func TestTokenRefreshFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 8, 20, 10, 0, 0, 0, time.UTC)
	v, _ := newTestVault(t, now, refresherFunc(func(context.Context, string, string) (*smartcal.Grant, error) {
		return nil, errors.New("invalid_grant")
	}))

	v.Store(ctx, "user-1", "timetree", smartcal.Grant{AccessToken: "a", RefreshToken: "r", ExpiresIn: -1})
	if _, err := v.Token(ctx, "user-1", "timetree"); !errors.Is(err, smartcal.ErrCredentialExpired) {
		t.Errorf("expected ErrCredentialExpired, got %v", err)
	}

	v.Store(ctx, "user-2", "timetree", smartcal.Grant{AccessToken: "a", ExpiresIn: -1})
	if _, err := v.Token(ctx, "user-2", "timetree"); !errors.Is(err, smartcal.ErrCredentialExpired) {
		t.Errorf("expected ErrCredentialExpired without refresh token, got %v", err)
	}

	if _, err := v.Token(ctx, "nobody", "timetree"); !errors.Is(err, smartcal.ErrCredentialExpired) {
		t.Errorf("expected ErrCredentialExpired for missing credential, got %v", err)
	}
}
