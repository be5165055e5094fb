package model

import (
	"fmt"
	"strings"
)

// Profile is the public face of a user account. ID equals the auth user ID.
//
// Username is lowercase and matches [a-z0-9_]+. It can be empty for
// accounts created through OAuth that have not picked one yet; such users
// are sent to the "set username" flow.
type Profile struct {
	ID        string  `json:"id"         db:"id"`
	Username  string  `json:"username"   db:"username"`
	AvatarURL *string `json:"avatar_url" db:"avatar_url"`
	Bio       *string `json:"bio"        db:"bio"`
	Location  *string `json:"location"   db:"location"`
	Email     string  `json:"email"      db:"email"`
}

// HasValidUsername reports whether the stored username satisfies the
// username rule. Rows written before validation existed may not.
func (p *Profile) HasValidUsername() bool {
	if p.Username == "" || p.Username != strings.ToLower(p.Username) {
		return false
	}
	for _, r := range p.Username {
		if !IsUsernameRune(r) {
			return false
		}
	}
	return true
}

// IsUsernameRune reports whether r may appear in a username.
func IsUsernameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
}

// ParseProfileRow validates a profile row read from the backend.
func ParseProfileRow(p Profile) (Profile, error) {
	if strings.TrimSpace(p.ID) == "" {
		return Profile{}, fmt.Errorf("model: profile row has no id")
	}
	return p, nil
}
