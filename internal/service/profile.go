package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode"

	"github.com/rs/xid"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/backend"
	"github.com/sakif/flipbook/internal/localstore"
	"github.com/sakif/flipbook/internal/model"
)

// Profile validation limits.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MaxBioLength      = 500
	MaxLocationLength = 100
	MaxAvatarSize     = 2 << 20 // 2 MiB
)

var avatarTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ValidateUsername lowercases raw and checks it against the username rule.
// It returns the normalised name.
//
// Lowercasing happens before anything else, so "Alice" and "alice" are the
// same name everywhere: in validation, in the availability check and in
// the stored row.
func ValidateUsername(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))

	switch {
	case name == "":
		return "", apperror.ValidationFailed("username", "username is required")
	case strings.IndexFunc(name, unicode.IsSpace) >= 0:
		return "", apperror.ValidationFailed("username", "username cannot contain spaces")
	case len(name) < MinUsernameLength:
		return "", apperror.ValidationFailed("username",
			fmt.Sprintf("username must be at least %d characters", MinUsernameLength))
	case len(name) > MaxUsernameLength:
		return "", apperror.ValidationFailed("username",
			fmt.Sprintf("username must be %d characters or less", MaxUsernameLength))
	}
	for _, r := range name {
		if !model.IsUsernameRune(r) {
			return "", apperror.ValidationFailed("username",
				"username may only contain lowercase letters, numbers and underscores")
		}
	}
	return name, nil
}

// ProfileService handles the profiles table and avatar uploads.
//
// Reads of the signed-in user's own profile go through the session's
// local store ("profile-cache", one hour) so every page load does not hit
// the backend. Every write refreshes that entry.
type ProfileService struct {
	profiles backend.ProfileStore
	storage  backend.Storage
	logger   *slog.Logger
}

func NewProfileService(profiles backend.ProfileStore, storage backend.Storage, logger *slog.Logger) *ProfileService {
	return &ProfileService{profiles: profiles, storage: storage, logger: logger}
}

// ValidateUsername is the package-level ValidateUsername.
func (s *ProfileService) ValidateUsername(raw string) (string, error) {
	return ValidateUsername(raw)
}

// IsUsernameAvailable validates raw and reports whether nobody but exceptID
// holds it.
func (s *ProfileService) IsUsernameAvailable(ctx context.Context, raw, exceptID string) (bool, error) {
	name, err := ValidateUsername(raw)
	if err != nil {
		return false, err
	}
	taken, err := s.profiles.UsernameTaken(ctx, name, exceptID)
	if err != nil {
		return false, fmt.Errorf("checking username: %w", err)
	}
	return !taken, nil
}

// Get returns the user's own profile. local may be nil.
func (s *ProfileService) Get(ctx context.Context, local localstore.Store, userID string) (*model.Profile, error) {
	if local != nil {
		var cached model.Profile
		ok, err := local.Get(localstore.KeyProfileCache, &cached)
		if err != nil {
			// A corrupt cache entry is dropped, not fatal.
			s.logger.Warn("reading profile cache", slog.String("error", err.Error()))
			_ = local.Delete(localstore.KeyProfileCache)
		}
		if ok && cached.ID == userID {
			return &cached, nil
		}
	}

	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache(local, p)
	return p, nil
}

// GetByUsername returns the public view of a profile; the email is blanked.
func (s *ProfileService) GetByUsername(ctx context.Context, username string) (*model.Profile, error) {
	name := strings.ToLower(strings.TrimSpace(username))
	if name == "" {
		return nil, apperror.ValidationFailed("username", "username is required")
	}
	p, err := s.profiles.GetProfileByUsername(ctx, name)
	if err != nil {
		return nil, err
	}
	p.Email = ""
	return p, nil
}

// Ensure returns the user's profile, creating an empty one (no username)
// when the row does not exist yet.
func (s *ProfileService) Ensure(ctx context.Context, local localstore.Store, userID, email string) (*model.Profile, error) {
	p, err := s.Get(ctx, local, userID)
	if err == nil {
		return p, nil
	}
	if !apperror.IsNotFound(err) {
		return nil, err
	}

	p = &model.Profile{ID: userID, Email: email}
	if err := s.profiles.UpsertProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("creating profile: %w", err)
	}
	s.logger.Info("profile created", slog.String("userID", userID))
	s.cache(local, p)
	return p, nil
}

// SetUsername validates and stores a new username for userID.
func (s *ProfileService) SetUsername(ctx context.Context, local localstore.Store, userID, email, raw string) (*model.Profile, error) {
	name, err := ValidateUsername(raw)
	if err != nil {
		return nil, err
	}
	available, err := s.IsUsernameAvailable(ctx, name, userID)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, apperror.ValidationFailed("username", "username is already taken")
	}

	p, err := s.Ensure(ctx, local, userID, email)
	if err != nil {
		return nil, err
	}
	updated := *p
	updated.Username = name
	if err := s.write(ctx, local, &updated); err != nil {
		return nil, err
	}
	s.logger.Info("username set", slog.String("userID", userID), slog.String("username", name))
	return &updated, nil
}

// ProfileUpdate lists the editable profile fields. Nil fields are left
// alone; an empty string clears the field.
type ProfileUpdate struct {
	Bio      *string
	Location *string
}

// Update edits bio and location.
func (s *ProfileService) Update(ctx context.Context, local localstore.Store, userID string, upd ProfileUpdate) (*model.Profile, error) {
	if upd.Bio != nil && len(strings.TrimSpace(*upd.Bio)) > MaxBioLength {
		return nil, apperror.ValidationFailed("bio", fmt.Sprintf("bio must be %d characters or less", MaxBioLength))
	}
	if upd.Location != nil && len(strings.TrimSpace(*upd.Location)) > MaxLocationLength {
		return nil, apperror.ValidationFailed("location",
			fmt.Sprintf("location must be %d characters or less", MaxLocationLength))
	}

	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if upd.Bio != nil {
		p.Bio = model.StringPtr(strings.TrimSpace(*upd.Bio))
	}
	if upd.Location != nil {
		p.Location = model.StringPtr(strings.TrimSpace(*upd.Location))
	}
	if err := s.write(ctx, local, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UploadAvatar stores a new avatar image and points the profile at it. The
// previous avatar object is removed afterwards; failing to remove it is only
// logged.
func (s *ProfileService) UploadAvatar(ctx context.Context, local localstore.Store, userID string, data []byte) (*model.Profile, error) {
	if len(data) == 0 {
		return nil, apperror.ValidationFailed("avatar", "image is required")
	}
	if len(data) > MaxAvatarSize {
		return nil, apperror.ValidationFailed("avatar",
			fmt.Sprintf("image must be %d MB or less", MaxAvatarSize>>20))
	}
	contentType := http.DetectContentType(data)
	ext, ok := avatarTypes[contentType]
	if !ok {
		return nil, apperror.ValidationFailed("avatar", "image must be PNG, JPEG, GIF or WebP")
	}

	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	path := userID + "/avatar-" + xid.New().String() + ext
	if err := s.storage.Upload(ctx, backend.BucketAvatars, path, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return nil, fmt.Errorf("uploading avatar: %w", err)
	}

	old := p.AvatarURL
	url := s.storage.PublicURL(backend.BucketAvatars, path)
	p.AvatarURL = &url
	if err := s.write(ctx, local, p); err != nil {
		s.removeObject(ctx, backend.BucketAvatars, path)
		return nil, err
	}

	if old != nil {
		if oldPath, ok := s.storage.PathFromURL(backend.BucketAvatars, *old); ok {
			s.removeObject(ctx, backend.BucketAvatars, oldPath)
		}
	}
	return p, nil
}

func (s *ProfileService) write(ctx context.Context, local localstore.Store, p *model.Profile) error {
	if err := s.profiles.UpsertProfile(ctx, p); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return apperror.ValidationFailed("username", "username is already taken")
		}
		return fmt.Errorf("saving profile: %w", err)
	}
	s.cache(local, p)
	return nil
}

func (s *ProfileService) cache(local localstore.Store, p *model.Profile) {
	if local == nil {
		return
	}
	if err := local.Set(localstore.KeyProfileCache, p, localstore.ProfileCacheTTL); err != nil {
		s.logger.Warn("writing profile cache", slog.String("error", err.Error()))
	}
}

// Forget drops the cached profile, e.g. on sign-out.
func (s *ProfileService) Forget(local localstore.Store) {
	if local == nil {
		return
	}
	_ = local.Delete(localstore.KeyProfileCache)
}

func (s *ProfileService) removeObject(ctx context.Context, bucket, path string) {
	if err := s.storage.Remove(ctx, bucket, path); err != nil {
		s.logger.Warn("removing storage object",
			slog.String("bucket", bucket),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
