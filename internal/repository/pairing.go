package repository

import (
	"context"

	"github.com/chatcal/link-server-go/internal/database"
	"github.com/chatcal/link-server-go/internal/model"
)

type PairingCodeRepository interface {
	// FindByCode returns the code row regardless of its used/expired status,
	// or nil when no such code exists.
	FindByCode(ctx context.Context, code string) (*model.PairingCode, error)
	Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error)
	// Consume atomically marks an unused, unexpired code as used and returns
	// it. Returns nil when no consumable row matched; the caller classifies
	// why via FindByCode. Concurrent calls for the same code yield at most
	// one non-nil result.
	Consume(ctx context.Context, code string) (*model.PairingCode, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type pairingCodeRepo struct {
	db database.DBTX
}

func NewPairingCodeRepository(db database.DBTX) PairingCodeRepository {
	return &pairingCodeRepo{db: db}
}

func (r *pairingCodeRepo) FindByCode(ctx context.Context, code string) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		SELECT * FROM pairing_codes
		WHERE code = $1
	`, code)
	return HandleNotFound(&pc, err)
}

func (r *pairingCodeRepo) Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		INSERT INTO pairing_codes (code, chat_user_id, expires_at)
		VALUES ($1, $2, $3)
		RETURNING *
	`, params.Code, params.ChatUserID, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &pc, nil
}

func (r *pairingCodeRepo) Consume(ctx context.Context, code string) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		UPDATE pairing_codes SET
			used_at = NOW()
		WHERE code = $1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING *
	`, code)
	return HandleNotFound(&pc, err)
}

func (r *pairingCodeRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_codes
		WHERE expires_at < NOW() OR used_at IS NOT NULL
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
