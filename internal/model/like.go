package model

import "time"

// PublicationLike records that a user liked a publication.
// The backend enforces one row per (PublicationID, UserID).
type PublicationLike struct {
	PublicationID string    `json:"publication_id" db:"publication_id"`
	UserID        string    `json:"user_id"        db:"user_id"`
	CreatedAt     time.Time `json:"created_at"     db:"created_at"`
}

// LikeState is what the client needs to render a like button.
type LikeState struct {
	PublicationID string `json:"publication_id"`
	Count         int    `json:"count"`
	Liked         bool   `json:"liked"`
	Status        string `json:"status,omitempty"` // pending, confirmed or rolled_back
}
