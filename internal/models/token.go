package models

import "time"

type TokenStatus string

const (
	TokenActive  TokenStatus = "active"
	TokenExpired TokenStatus = "expired"
	TokenRevoked TokenStatus = "revoked"
)

// Token is a provider credential for a (user, messenger) pair. Multiple rows
// may exist historically; only the latest active one is used for dispatch.
type Token struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Messenger    MessengerType `json:"messenger"`
	AccessToken  string        `json:"access_token,omitempty"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	Status       TokenStatus   `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
