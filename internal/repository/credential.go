package repository

import (
	"context"
	"time"

	"github.com/chatcal/link-server-go/internal/database"
	"github.com/chatcal/link-server-go/internal/model"
)

type CredentialRepository interface {
	FindByChatUserID(ctx context.Context, chatUserID string) (*model.Credential, error)
	// Upsert inserts or replaces the credential row for a chat user. Saving
	// always clears the needs_reauth flag: a fresh grant supersedes any
	// earlier refresh failure.
	Upsert(ctx context.Context, cred model.Credential) (*model.Credential, error)
	// UpdateTokens replaces the token fields after a successful refresh,
	// leaving created_at intact.
	UpdateTokens(ctx context.Context, chatUserID, accessToken, refreshToken string, expiresAt time.Time) (*model.Credential, error)
	// MarkNeedsReauth flags the row after the provider rejected its refresh
	// token. The row itself is kept.
	MarkNeedsReauth(ctx context.Context, chatUserID string) error
}

type credentialRepo struct {
	db database.DBTX
}

func NewCredentialRepository(db database.DBTX) CredentialRepository {
	return &credentialRepo{db: db}
}

func (r *credentialRepo) FindByChatUserID(ctx context.Context, chatUserID string) (*model.Credential, error) {
	var cred model.Credential
	err := r.db.GetContext(ctx, &cred, `
		SELECT * FROM credentials
		WHERE chat_user_id = $1
	`, chatUserID)
	return HandleNotFound(&cred, err)
}

func (r *credentialRepo) Upsert(ctx context.Context, cred model.Credential) (*model.Credential, error) {
	var saved model.Credential
	err := r.db.GetContext(ctx, &saved, `
		INSERT INTO credentials (chat_user_id, access_token, refresh_token, expires_at, granted_scope)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chat_user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			granted_scope = EXCLUDED.granted_scope,
			needs_reauth = FALSE,
			updated_at = NOW()
		RETURNING *
	`, cred.ChatUserID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt, cred.GrantedScope)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (r *credentialRepo) UpdateTokens(ctx context.Context, chatUserID, accessToken, refreshToken string, expiresAt time.Time) (*model.Credential, error) {
	var saved model.Credential
	err := r.db.GetContext(ctx, &saved, `
		UPDATE credentials SET
			access_token = $2,
			refresh_token = $3,
			expires_at = $4,
			needs_reauth = FALSE,
			updated_at = NOW()
		WHERE chat_user_id = $1
		RETURNING *
	`, chatUserID, accessToken, refreshToken, expiresAt)
	return HandleNotFound(&saved, err)
}

func (r *credentialRepo) MarkNeedsReauth(ctx context.Context, chatUserID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE credentials SET
			needs_reauth = TRUE,
			updated_at = NOW()
		WHERE chat_user_id = $1
	`, chatUserID)
	return err
}
