package repository

import (
	"context"

	"github.com/chatcal/link-server-go/internal/database"
	"github.com/chatcal/link-server-go/internal/model"
)

type OAuthStateRepository interface {
	// FindByState returns the state row regardless of its used/expired
	// status, or nil when no such state exists.
	FindByState(ctx context.Context, state string) (*model.OAuthState, error)
	Create(ctx context.Context, params model.CreateOAuthStateParams) (*model.OAuthState, error)
	// Consume atomically marks an unused, unexpired state as used and
	// returns it. Returns nil when no consumable row matched. Concurrent
	// calls for the same state yield at most one non-nil result, which is
	// what makes a captured callback URL unreplayable.
	Consume(ctx context.Context, state string) (*model.OAuthState, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type oauthStateRepo struct {
	db database.DBTX
}

func NewOAuthStateRepository(db database.DBTX) OAuthStateRepository {
	return &oauthStateRepo{db: db}
}

func (r *oauthStateRepo) FindByState(ctx context.Context, state string) (*model.OAuthState, error) {
	var st model.OAuthState
	err := r.db.GetContext(ctx, &st, `
		SELECT * FROM oauth_states
		WHERE state = $1
	`, state)
	return HandleNotFound(&st, err)
}

func (r *oauthStateRepo) Create(ctx context.Context, params model.CreateOAuthStateParams) (*model.OAuthState, error) {
	var st model.OAuthState
	err := r.db.GetContext(ctx, &st, `
		INSERT INTO oauth_states (state, chat_user_id, expires_at)
		VALUES ($1, $2, $3)
		RETURNING *
	`, params.State, params.ChatUserID, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *oauthStateRepo) Consume(ctx context.Context, state string) (*model.OAuthState, error) {
	var st model.OAuthState
	err := r.db.GetContext(ctx, &st, `
		UPDATE oauth_states SET
			used_at = NOW()
		WHERE state = $1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING *
	`, state)
	return HandleNotFound(&st, err)
}

func (r *oauthStateRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM oauth_states
		WHERE expires_at < NOW() OR used_at IS NOT NULL
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
