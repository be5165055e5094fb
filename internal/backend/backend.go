// Package backend describes the hosted capabilities the app is built on:
// table storage, object storage and authentication.
//
// Everything above this package talks to these interfaces only. The adapters
// in the subpackages (sqlite, storage) and internal/auth implement them for a
// self-hosted deployment.
package backend

import (
	"context"
	"io"

	"github.com/sakif/flipbook/internal/model"
)

// Buckets and path prefixes in object storage.
const (
	BucketPublications = "publications"
	BucketAvatars      = "avatars"

	PrefixPDFs   = "pdfs/"
	PrefixThumbs = "thumbs/"
)

// ProfileStore is the profiles table.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	GetProfileByUsername(ctx context.Context, username string) (*model.Profile, error)
	GetProfiles(ctx context.Context, ids ...string) ([]model.Profile, error)
	// UpsertProfile inserts the row or replaces every column of an existing one.
	UpsertProfile(ctx context.Context, p *model.Profile) error
	// UsernameTaken reports whether another profile than exceptID holds username.
	UsernameTaken(ctx context.Context, username, exceptID string) (bool, error)
}

// PublicationQuery filters ListPublications. Results are newest first.
type PublicationQuery struct {
	UserID string // owner; empty means everyone
	Search string // case-insensitive match on title or description
	Limit  int    // zero means no limit
	Offset int
}

// PublicationStore is the publications table.
type PublicationStore interface {
	InsertPublication(ctx context.Context, p *model.Publication) error
	GetPublication(ctx context.Context, id string) (*model.Publication, error)
	ListPublications(ctx context.Context, q PublicationQuery) ([]model.Publication, error)
	UpdatePublication(ctx context.Context, p *model.Publication) error
	DeletePublication(ctx context.Context, id string) error
}

// LikeStore is the publication_likes table.
type LikeStore interface {
	// InsertLike returns an apperror.ErrConflict error when the like exists.
	InsertLike(ctx context.Context, like *model.PublicationLike) error
	DeleteLike(ctx context.Context, publicationID, userID string) error
	DeleteLikesForPublication(ctx context.Context, publicationID string) error
	CountLikes(ctx context.Context, publicationIDs ...string) (map[string]int, error)
	LikedBy(ctx context.Context, userID string, publicationIDs ...string) (map[string]bool, error)
}

// UserStore holds auth accounts. Only auth adapters use it.
type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	UpdateUser(ctx context.Context, u *model.User) error
}

// Tables groups the three app tables.
type Tables interface {
	ProfileStore
	PublicationStore
	LikeStore
}

// Storage is bucketed object storage with public URLs.
type Storage interface {
	Upload(ctx context.Context, bucket, path string, r io.Reader, size int64, contentType string) error
	PublicURL(bucket, path string) string
	// PathFromURL inverts PublicURL. It reports false for foreign URLs.
	PathFromURL(bucket, url string) (string, bool)
	Remove(ctx context.Context, bucket string, paths ...string) error
}

// UserUpdate lists the auth fields a signed-in user may change.
// Nil fields are left alone.
type UserUpdate struct {
	Password *string
	Metadata map[string]any
}

// AuthStateListener receives every auth state change. session is nil on sign-out.
type AuthStateListener func(event model.AuthEvent, session *model.Session)

// Auth is the authentication capability.
type Auth interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*model.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	// SignInWithOAuth returns the provider URL to redirect to and the state
	// value the callback must echo.
	SignInWithOAuth(provider, redirectTo string) (authURL, state string, err error)
	CompleteOAuth(ctx context.Context, provider, code string) (*model.Session, error)
	SignOut(ctx context.Context, token string) error
	GetUser(ctx context.Context, token string) (*model.User, error)
	OnAuthStateChange(fn AuthStateListener) (unsubscribe func())
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	UpdateUser(ctx context.Context, token string, upd UserUpdate) (*model.User, error)
}

// Client bundles the capabilities handed to the services.
type Client struct {
	Auth    Auth
	Tables  Tables
	Storage Storage
}
