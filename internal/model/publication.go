// Package model defines the data structures used throughout the application.
//
// The three table rows (Profile, Publication, PublicationLike) are owned by the
// backend service. Rows cross into application code through the Parse*
// functions in this package so the rest of the app only ever sees validated,
// typed records.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Publication is one uploaded PDF rendered as a flipbook.
//
// ThumbURL is optional: publishing still succeeds when no thumbnail could be
// rendered. UpdatedAt stays nil until the first edit.
type Publication struct {
	ID          string     `json:"id"          db:"id"`
	UserID      string     `json:"user_id"     db:"user_id"` // owner
	Title       string     `json:"title"       db:"title"`
	Description string     `json:"description" db:"description"`
	PDFURL      string     `json:"pdf_url"     db:"pdf_url"`
	ThumbURL    *string    `json:"thumb_url"   db:"thumb_url"`
	CreatedAt   time.Time  `json:"created_at"  db:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"  db:"updated_at"`
}

// FeedItem is a Publication decorated for the discovery feed.
type FeedItem struct {
	Publication
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	LikeCount int    `json:"like_count"`
	LikedByMe bool   `json:"liked_by_me"`
}

// ParsePublicationRow validates a row read from the backend.
// A row without id, owner or pdf_url cannot be rendered and is rejected.
func ParsePublicationRow(p Publication) (Publication, error) {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return Publication{}, fmt.Errorf("model: publication row has no id")
	case strings.TrimSpace(p.UserID) == "":
		return Publication{}, fmt.Errorf("model: publication %s has no user_id", p.ID)
	case strings.TrimSpace(p.PDFURL) == "":
		return Publication{}, fmt.Errorf("model: publication %s has no pdf_url", p.ID)
	case p.CreatedAt.IsZero():
		return Publication{}, fmt.Errorf("model: publication %s has no created_at", p.ID)
	}
	if p.ThumbURL != nil && *p.ThumbURL == "" {
		p.ThumbURL = nil
	}
	return p, nil
}

// StringPtr returns nil for "" and &s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
