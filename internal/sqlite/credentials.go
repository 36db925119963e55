package sqlite

import (
	"context"
	"time"

	"github.com/guilherme-santos/smartcal"
)

const credentialColumns = `id, owner_id, platform, access_token, refresh_token, token_type, scope,
	expires_at, created_at, updated_at`

// SaveCredential keeps a single credential per owner and platform.
func (s Storage) SaveCredential(ctx context.Context, cred *smartcal.Credential) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES (:id, :owner_id, :platform, :access_token, :refresh_token, :token_type, :scope,
			:expires_at, :created_at, :updated_at)
		ON CONFLICT(owner_id, platform) DO UPDATE
			SET access_token = excluded.access_token,
				refresh_token = excluded.refresh_token,
				token_type = excluded.token_type,
				scope = excluded.scope,
				expires_at = excluded.expires_at,
				updated_at = excluded.updated_at;
	`, newCredential(cred))
	return mapError(err)
}

func (s Storage) Credential(ctx context.Context, ownerID, platform string) (*smartcal.Credential, error) {
	var c Credential
	err := s.db.GetContext(ctx, &c, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE owner_id = ? AND platform = ?
	`, ownerID, platform)
	if err != nil {
		return nil, mapError(err)
	}
	return c.Convert(), nil
}

// ExpiringCredentials lists refreshable credentials that expire before t.
func (s Storage) ExpiringCredentials(ctx context.Context, t time.Time) ([]*smartcal.Credential, error) {
	var creds []Credential

	err := s.db.SelectContext(ctx, &creds, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE expires_at IS NOT NULL AND refresh_token != ''
	`)
	if err != nil {
		return nil, err
	}

	var res []*smartcal.Credential
	for _, c := range creds {
		cred := c.Convert()
		// expires_at keeps the writer's offset, so compare in Go rather than as text.
		if cred.ExpiresAt.Before(t) {
			res = append(res, cred)
		}
	}
	return res, nil
}
