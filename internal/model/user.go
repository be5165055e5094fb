package model

import "time"

// User is an auth account held by the backend. It is separate from Profile:
// the auth side owns credentials, the profiles table owns public fields.
//
// GitHubID is zero for email/password accounts.
type User struct {
	ID           string         `json:"id"         db:"id"`
	Email        string         `json:"email"      db:"email"`
	PasswordHash string         `json:"-"          db:"password_hash"`
	GitHubID     int64          `json:"-"          db:"github_id"`
	Metadata     map[string]any `json:"metadata"   db:"metadata"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// Session is the authoritative auth state pushed to subscribers.
// A nil User means signed out.
type Session struct {
	AccessToken string    `json:"access_token,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	User        *User     `json:"user"`
}

// AuthEvent names a change in auth state.
type AuthEvent string

const (
	EventSignedIn        AuthEvent = "SIGNED_IN"
	EventSignedOut       AuthEvent = "SIGNED_OUT"
	EventUserUpdated     AuthEvent = "USER_UPDATED"
	EventPasswordRecover AuthEvent = "PASSWORD_RECOVERY"
)
