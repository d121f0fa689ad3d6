package model

import "time"

// Credential holds the provider tokens for one chat user. A row exists only
// after at least one successful token exchange and is never deleted; failed
// refreshes flag it instead so the stale tokens stay visible.
type Credential struct {
	ChatUserID   string    `db:"chat_user_id" json:"chatUserId"`
	AccessToken  string    `db:"access_token" json:"-"`
	RefreshToken string    `db:"refresh_token" json:"-"`
	ExpiresAt    time.Time `db:"expires_at" json:"expiresAt"`
	GrantedScope string    `db:"granted_scope" json:"grantedScope"`
	NeedsReauth  bool      `db:"needs_reauth" json:"needsReauth"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

func (c *Credential) AccessExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// LinkStatus is the per-user pairing state exposed to the chat collaborator.
type LinkStatus string

const (
	LinkStatusUnlinked    LinkStatus = "unlinked"
	LinkStatusLinked      LinkStatus = "linked"
	LinkStatusNeedsReauth LinkStatus = "needs_reauth"
)
