package model

import "time"

// PairingCode binds a human-enterable code to a chat user for the duration
// of the web pairing flow. A code is consumable exactly once.
type PairingCode struct {
	Code       string     `db:"code" json:"code"`
	ChatUserID string     `db:"chat_user_id" json:"chatUserId"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expiresAt"`
	UsedAt     *time.Time `db:"used_at" json:"usedAt,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

func (pc *PairingCode) Expired(now time.Time) bool {
	return now.After(pc.ExpiresAt)
}

func (pc *PairingCode) Used() bool {
	return pc.UsedAt != nil
}

type CreatePairingCodeParams struct {
	Code       string
	ChatUserID string
	ExpiresAt  time.Time
}
