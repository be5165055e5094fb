// Package localstore persists small JSON blobs for one client session so they
// survive a page reload or a server restart. It is the server-side stand-in
// for browser local storage.
//
// Values are wrapped in an envelope carrying an optional expiry. Expired
// values read as missing and are removed on the next read.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Well-known keys.
const (
	KeyProfileCache = "profile-cache"
	KeyPDFHandoff   = "pdf-handoff"
)

// ProfileCacheTTL is how long a cached profile is trusted.
const ProfileCacheTTL = time.Hour

// ThumbnailKey returns the key for a cached thumbnail of a publication.
func ThumbnailKey(publicationID string) string {
	return "pdf-thumbnail:" + publicationID
}

// ErrInvalidKey is returned for empty keys.
var ErrInvalidKey = errors.New("localstore: invalid key")

// Store reads and writes JSON values by key.
//
// Get decodes the stored value into v and reports whether it was present
// and unexpired. A zero ttl in Set means the value never expires.
type Store interface {
	Get(key string, v any) (bool, error)
	Set(key string, v any, ttl time.Duration) error
	Delete(key string) error
}

type envelope struct {
	Value     json.RawMessage `json:"value"`
	SavedAt   time.Time       `json:"savedAt"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
}

func (e envelope) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

func seal(v any, ttl time.Duration, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("localstore: encoding value: %w", err)
	}
	env := envelope{Value: raw, SavedAt: now}
	if ttl > 0 {
		exp := now.Add(ttl)
		env.ExpiresAt = &exp
	}
	return json.Marshal(env)
}

func open(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("localstore: decoding envelope: %w", err)
	}
	return env, nil
}

func decode(env envelope, v any) error {
	if err := json.Unmarshal(env.Value, v); err != nil {
		return fmt.Errorf("localstore: decoding value: %w", err)
	}
	return nil
}
