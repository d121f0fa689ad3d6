package model

import "time"

// OAuthState correlates an authorization request with its callback. It is
// minted only after a pairing code has been consumed and is itself
// consumable exactly once, which makes a captured callback URL unreplayable.
type OAuthState struct {
	State      string     `db:"state" json:"-"`
	ChatUserID string     `db:"chat_user_id" json:"chatUserId"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expiresAt"`
	UsedAt     *time.Time `db:"used_at" json:"usedAt,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

func (s *OAuthState) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func (s *OAuthState) Used() bool {
	return s.UsedAt != nil
}

type CreateOAuthStateParams struct {
	State      string
	ChatUserID string
	ExpiresAt  time.Time
}
