package model

import "time"

// AdminSession is one signed-in operator console. Only the HMAC of the
// cookie token is stored.
type AdminSession struct {
	ID        string    `db:"id" json:"id"`
	TokenHash string    `db:"token_hash" json:"-"`
	ClientIP  *string   `db:"client_ip" json:"clientIp,omitempty"`
	UserAgent *string   `db:"user_agent" json:"userAgent,omitempty"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type CreateAdminSessionParams struct {
	TokenHash string
	ClientIP  *string
	UserAgent *string
	ExpiresAt time.Time
}
