// Package vault keeps third-party OAuth credentials encrypted at rest and
// refreshes them when they are about to expire.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/guilherme-santos/smartcal"
	"github.com/guilherme-santos/smartcal/internal"
)

// DefaultRefreshWindow is how close to expiry a token gets refreshed on use.
const DefaultRefreshWindow = 5 * time.Minute

type Storage interface {
	SaveCredential(context.Context, *smartcal.Credential) error
	Credential(_ context.Context, ownerID, platform string) (*smartcal.Credential, error)
}

// Refresher exchanges a refresh token against the platform's token endpoint.
type Refresher interface {
	Refresh(_ context.Context, platform, refreshToken string) (*smartcal.Grant, error)
}

type Vault struct {
	storage   Storage
	cipher    Cipher
	refresher Refresher
	logger    logr.Logger

	Window time.Duration
	Clock  internal.Clock
}

func New(storage Storage, cipher Cipher, refresher Refresher, logger logr.Logger) *Vault {
	return &Vault{
		storage:   storage,
		cipher:    cipher,
		refresher: refresher,
		logger:    logger.WithName("vault"),
		Window:    DefaultRefreshWindow,
	}
}

// Store encrypts both tokens and persists them, replacing any credential the
// owner already had for the platform.
func (v *Vault) Store(ctx context.Context, ownerID, platform string, g smartcal.Grant) (*smartcal.Credential, error) {
	if g.AccessToken == "" {
		return nil, errors.New("vault: access token is required")
	}
	now := v.Clock.Now()

	access, err := v.cipher.Encrypt(g.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("vault: encrypting access token: %w", err)
	}
	var refresh string
	if g.RefreshToken != "" {
		refresh, err = v.cipher.Encrypt(g.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("vault: encrypting refresh token: %w", err)
		}
	}

	cred := &smartcal.Credential{
		ID:                    uuid.NewString(),
		OwnerID:               ownerID,
		Platform:              platform,
		EncryptedAccessToken:  access,
		EncryptedRefreshToken: refresh,
		TokenType:             g.TokenType,
		Scope:                 g.Scope,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if cred.TokenType == "" {
		cred.TokenType = "Bearer"
	}
	if g.ExpiresIn != 0 {
		expiresAt := now.Add(time.Duration(g.ExpiresIn) * time.Second)
		cred.ExpiresAt = &expiresAt
	}

	if err := v.storage.SaveCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("vault: saving credential: %w", err)
	}
	v.logger.V(1).Info("credential stored", "owner", ownerID, "platform", platform, "expires_at", cred.ExpiresAt)
	return cred, nil
}

// Credential returns the stored, still encrypted, credential.
func (v *Vault) Credential(ctx context.Context, ownerID, platform string) (*smartcal.Credential, error) {
	return v.storage.Credential(ctx, ownerID, platform)
}

// Retrieve decrypts the owner's access token without checking its expiry.
func (v *Vault) Retrieve(ctx context.Context, ownerID, platform string) (string, error) {
	cred, err := v.storage.Credential(ctx, ownerID, platform)
	if err != nil {
		return "", err
	}
	tok, err := v.cipher.Decrypt(cred.EncryptedAccessToken)
	if err != nil {
		return "", fmt.Errorf("vault: %w", err)
	}
	return tok, nil
}

// Token returns a token that is safe to use right now, refreshing it first
// when it expires within Window. It never hands out a stale token: a failed
// refresh is reported as ErrCredentialExpired.
func (v *Vault) Token(ctx context.Context, ownerID, platform string) (*oauth2.Token, error) {
	cred, err := v.storage.Credential(ctx, ownerID, platform)
	if errors.Is(err, smartcal.ErrNotFound) {
		return nil, smartcal.WrapError(smartcal.KindCredentialExpired, err, "no %s credential, authorization required", platform)
	}
	if err != nil {
		return nil, err
	}

	if cred.ExpiringSoon(v.Clock.Now(), v.window()) {
		cred, err = v.refresh(ctx, cred)
		if err != nil {
			return nil, err
		}
	}
	return v.oauthToken(cred)
}

// Refresh exchanges the credential's refresh token for a new grant.
func (v *Vault) Refresh(ctx context.Context, ownerID, platform string) (*smartcal.Credential, error) {
	cred, err := v.storage.Credential(ctx, ownerID, platform)
	if err != nil {
		return nil, err
	}
	return v.refresh(ctx, cred)
}

func (v *Vault) refresh(ctx context.Context, cred *smartcal.Credential) (*smartcal.Credential, error) {
	logger := v.logger.WithValues("owner", cred.OwnerID, "platform", cred.Platform)

	if cred.EncryptedRefreshToken == "" || v.refresher == nil {
		return nil, smartcal.NewError(smartcal.KindCredentialExpired, "%s credential expired and can't be refreshed", cred.Platform)
	}
	refreshToken, err := v.cipher.Decrypt(cred.EncryptedRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	g, err := v.refresher.Refresh(ctx, cred.Platform, refreshToken)
	if err != nil {
		logger.Error(err, "refreshing credential")
		return nil, smartcal.WrapError(smartcal.KindCredentialExpired, err, "refreshing %s credential", cred.Platform)
	}
	if g.RefreshToken == "" {
		// Some token endpoints only return a new access token.
		g.RefreshToken = refreshToken
	}
	if g.Scope == "" {
		g.Scope = cred.Scope
	}

	newCred, err := v.Store(ctx, cred.OwnerID, cred.Platform, *g)
	if err != nil {
		return nil, err
	}
	logger.Info("credential refreshed")
	return newCred, nil
}

func (v *Vault) oauthToken(cred *smartcal.Credential) (*oauth2.Token, error) {
	access, err := v.cipher.Decrypt(cred.EncryptedAccessToken)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	tok := &oauth2.Token{
		AccessToken: access,
		TokenType:   cred.TokenType,
	}
	if cred.EncryptedRefreshToken != "" {
		tok.RefreshToken, err = v.cipher.Decrypt(cred.EncryptedRefreshToken)
		if err != nil {
			return nil, fmt.Errorf("vault: %w", err)
		}
	}
	if cred.ExpiresAt != nil {
		tok.Expiry = *cred.ExpiresAt
	}
	return tok, nil
}

func (v *Vault) window() time.Duration {
	if v.Window <= 0 {
		return DefaultRefreshWindow
	}
	return v.Window
}
