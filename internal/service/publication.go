package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/backend"
	"github.com/sakif/flipbook/internal/clientstate"
	"github.com/sakif/flipbook/internal/fetch"
	"github.com/sakif/flipbook/internal/localstore"
	"github.com/sakif/flipbook/internal/model"
	"github.com/sakif/flipbook/internal/optimistic"
	"github.com/sakif/flipbook/internal/render"
)

// Publication limits.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	MaxPDFSize           = 50 << 20 // 50 MiB
	MaxThumbnailSize     = 2 << 20
	DefaultListLimit     = 20
	MaxListLimit         = 100

	DefaultVerifyAttempts = 3
	DefaultVerifyInterval = 250 * time.Millisecond
)

// ErrDeleteUnverified is returned when the row is still readable after every
// verification re-check that follows a delete.
var ErrDeleteUnverified = &apperror.AppError{
	Err:     apperror.ErrConflict,
	Message: "the publication could not be deleted, please try again",
}

// PublicationService publishes, lists, edits and deletes publications.
type PublicationService struct {
	tables   backend.Tables
	storage  backend.Storage
	renderer render.Renderer
	logger   *slog.Logger

	verifyAttempts int
	verifyInterval time.Duration
}

// PublicationOption configures a PublicationService.
type PublicationOption func(*PublicationService)

// WithDeleteVerification sets how often and how far apart a delete is
// re-checked.
func WithDeleteVerification(attempts int, interval time.Duration) PublicationOption {
	return func(s *PublicationService) {
		s.verifyAttempts = attempts
		s.verifyInterval = interval
	}
}

func NewPublicationService(tables backend.Tables, storage backend.Storage, renderer render.Renderer, logger *slog.Logger, opts ...PublicationOption) *PublicationService {
	if renderer == nil {
		renderer = render.Disabled{}
	}
	s := &PublicationService{
		tables:         tables,
		storage:        storage,
		renderer:       renderer,
		logger:         logger,
		verifyAttempts: DefaultVerifyAttempts,
		verifyInterval: DefaultVerifyInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.verifyAttempts < 1 {
		s.verifyAttempts = 1
	}
	return s
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", apperror.ValidationFailed("title", "title is required")
	}
	if len(title) > MaxTitleLength {
		return "", apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}
	return title, nil
}

func validateDescription(desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	if len(desc) > MaxDescriptionLength {
		return "", apperror.ValidationFailed("description",
			fmt.Sprintf("description must be %d characters or less", MaxDescriptionLength))
	}
	return desc, nil
}

// ValidatePDF checks size and the PDF header.
func ValidatePDF(data []byte) error {
	switch {
	case len(data) == 0:
		return apperror.ValidationFailed("file", "a PDF file is required")
	case len(data) > MaxPDFSize:
		return apperror.ValidationFailed("file", fmt.Sprintf("PDF must be %d MB or less", MaxPDFSize>>20))
	case !render.IsPDF(data):
		return apperror.ValidationFailed("file", "file is not a PDF")
	}
	return nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// PublishInput is a new publication.
type PublishInput struct {
	Title       string
	Description string
	PDF         []byte
}

// Publish uploads the PDF, renders a thumbnail, inserts the row and adds it
// to the session's publication list. A pending handoff is cleared.
//
// The thumbnail is optional: when rendering fails the publication is
// created without one.
func (s *PublicationService) Publish(ctx context.Context, st *clientstate.State, userID string, in PublishInput) (*model.Publication, error) {
	title, err := validateTitle(in.Title)
	if err != nil {
		return nil, err
	}
	desc, err := validateDescription(in.Description)
	if err != nil {
		return nil, err
	}
	if err := ValidatePDF(in.PDF); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	pdfPath := backend.PrefixPDFs + userID + "/" + id + ".pdf"
	if err := s.storage.Upload(ctx, backend.BucketPublications, pdfPath,
		bytes.NewReader(in.PDF), int64(len(in.PDF)), "application/pdf"); err != nil {
		return nil, fmt.Errorf("uploading PDF: %w", err)
	}
	uploaded := []string{pdfPath}

	pub := &model.Publication{
		ID:          id,
		UserID:      userID,
		Title:       title,
		Description: desc,
		PDFURL:      s.storage.PublicURL(backend.BucketPublications, pdfPath),
	}

	if png := s.thumbnail(ctx, id, in.PDF); png != nil {
		thumbPath := backend.PrefixThumbs + userID + "/" + id + ".png"
		if err := s.storage.Upload(ctx, backend.BucketPublications, thumbPath,
			bytes.NewReader(png), int64(len(png)), "image/png"); err != nil {
			s.logger.Warn("uploading thumbnail", slog.String("id", id), slog.String("error", err.Error()))
		} else {
			url := s.storage.PublicURL(backend.BucketPublications, thumbPath)
			pub.ThumbURL = &url
			uploaded = append(uploaded, thumbPath)
			s.rememberThumbnail(st.Local, id, png)
		}
	}

	if err := s.tables.InsertPublication(ctx, pub); err != nil {
		s.removeObjects(ctx, backend.BucketPublications, uploaded...)
		return nil, fmt.Errorf("saving publication: %w", err)
	}

	st.Publications.Add(userID, *pub)
	if err := st.Handoff.Clear(); err != nil {
		s.logger.Warn("clearing handoff", slog.String("error", err.Error()))
	}

	s.logger.Info("publication created",
		slog.String("id", pub.ID),
		slog.String("userID", userID),
		slog.Int("bytes", len(in.PDF)),
	)
	return pub, nil
}

func (s *PublicationService) thumbnail(ctx context.Context, id string, pdf []byte) []byte {
	png, err := s.renderer.Thumbnail(ctx, bytes.NewReader(pdf))
	switch {
	case errors.Is(err, render.ErrUnavailable):
		return nil
	case err != nil:
		s.logger.Warn("rendering thumbnail", slog.String("id", id), slog.String("error", err.Error()))
		return nil
	case len(png) > MaxThumbnailSize:
		s.logger.Warn("thumbnail too large", slog.String("id", id), slog.Int("bytes", len(png)))
		return nil
	}
	return png
}

// rememberThumbnail keeps a data URL of the thumbnail in the session store
// so the publish confirmation can show it before storage has propagated.
func (s *PublicationService) rememberThumbnail(local localstore.Store, id string, png []byte) {
	if local == nil {
		return
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	if err := local.Set(localstore.ThumbnailKey(id), dataURL, 0); err != nil {
		s.logger.Warn("caching thumbnail", slog.String("id", id), slog.String("error", err.Error()))
	}
}

// CachedThumbnail returns the data URL remembered by Publish.
func (s *PublicationService) CachedThumbnail(local localstore.Store, id string) (string, bool) {
	var dataURL string
	ok, err := local.Get(localstore.ThumbnailKey(id), &dataURL)
	if err != nil || !ok {
		return "", false
	}
	return dataURL, true
}

func (s *PublicationService) Get(ctx context.Context, id string) (*model.Publication, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "publication ID is required")
	}
	return s.tables.GetPublication(ctx, id)
}

// ListMine returns the user's own publications through the session cache.
func (s *PublicationService) ListMine(ctx context.Context, st *clientstate.State, userID string, force bool) (fetch.Result[[]model.Publication], error) {
	return st.Publications.List(ctx, userID, force, func(ctx context.Context, userID string) ([]model.Publication, error) {
		pubs, err := s.tables.ListPublications(ctx, backend.PublicationQuery{UserID: userID})
		if err != nil {
			return nil, fmt.Errorf("listing publications: %w", err)
		}
		return pubs, nil
	})
}

// ListByUser returns another user's publications, uncached.
func (s *PublicationService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Publication, error) {
	limit, offset = clampPage(limit, offset)
	return s.tables.ListPublications(ctx, backend.PublicationQuery{UserID: userID, Limit: limit, Offset: offset})
}

// FeedQuery selects a page of the discovery feed.
type FeedQuery struct {
	Search string
	Limit  int
	Offset int
}

// Feed returns the newest publications decorated with owner, like count and
// whether viewerID (may be empty) liked them.
func (s *PublicationService) Feed(ctx context.Context, viewerID string, q FeedQuery) ([]model.FeedItem, error) {
	limit, offset := clampPage(q.Limit, q.Offset)
	pubs, err := s.tables.ListPublications(ctx, backend.PublicationQuery{
		Search: strings.TrimSpace(q.Search),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("listing feed: %w", err)
	}
	if len(pubs) == 0 {
		return []model.FeedItem{}, nil
	}

	ids := make([]string, len(pubs))
	owners := make([]string, 0, len(pubs))
	seen := make(map[string]bool)
	for i, p := range pubs {
		ids[i] = p.ID
		if !seen[p.UserID] {
			seen[p.UserID] = true
			owners = append(owners, p.UserID)
		}
	}

	profiles, err := s.tables.GetProfiles(ctx, owners...)
	if err != nil {
		return nil, fmt.Errorf("loading feed owners: %w", err)
	}
	byID := make(map[string]model.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	counts, err := s.tables.CountLikes(ctx, ids...)
	if err != nil {
		return nil, fmt.Errorf("counting likes: %w", err)
	}
	liked := map[string]bool{}
	if viewerID != "" {
		if liked, err = s.tables.LikedBy(ctx, viewerID, ids...); err != nil {
			return nil, fmt.Errorf("loading likes: %w", err)
		}
	}

	items := make([]model.FeedItem, len(pubs))
	for i, p := range pubs {
		owner := byID[p.UserID]
		item := model.FeedItem{
			Publication: p,
			Username:    owner.Username,
			LikeCount:   counts[p.ID],
			LikedByMe:   liked[p.ID],
		}
		if owner.AvatarURL != nil {
			item.AvatarURL = *owner.AvatarURL
		}
		items[i] = item
	}
	return items, nil
}

// PublicationUpdate lists editable fields. Nil fields are left alone.
// Thumbnail, when set, must be a PNG.
type PublicationUpdate struct {
	Title       *string
	Description *string
	Thumbnail   []byte
}

func (s *PublicationService) owned(ctx context.Context, userID, id string) (*model.Publication, error) {
	pub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if pub.UserID != userID {
		return nil, apperror.Forbidden("only the owner can change this publication")
	}
	return pub, nil
}

// Update edits an owned publication. The session list shows the change
// immediately and reverts if the backend rejects it.
func (s *PublicationService) Update(ctx context.Context, st *clientstate.State, userID, id string, upd PublicationUpdate) (*model.Publication, error) {
	pub, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	next := *pub
	if upd.Title != nil {
		if next.Title, err = validateTitle(*upd.Title); err != nil {
			return nil, err
		}
	}
	if upd.Description != nil {
		if next.Description, err = validateDescription(*upd.Description); err != nil {
			return nil, err
		}
	}

	var newThumb string
	if upd.Thumbnail != nil {
		if !render.IsPNG(upd.Thumbnail) || len(upd.Thumbnail) > MaxThumbnailSize {
			return nil, apperror.ValidationFailed("thumbnail", "thumbnail must be a PNG of 2 MB or less")
		}
		newThumb = backend.PrefixThumbs + userID + "/" + id + "-" + xid.New().String() + ".png"
		if err := s.storage.Upload(ctx, backend.BucketPublications, newThumb,
			bytes.NewReader(upd.Thumbnail), int64(len(upd.Thumbnail)), "image/png"); err != nil {
			return nil, fmt.Errorf("uploading thumbnail: %w", err)
		}
		url := s.storage.PublicURL(backend.BucketPublications, newThumb)
		next.ThumbURL = &url
	}

	before, _ := st.Publications.Visible(userID)
	m := optimistic.Begin(before,
		func() { st.Publications.Update(userID, next) },
		func(snap []model.Publication) { st.Publications.Restore(userID, snap) },
	)
	if err := m.Settle(s.tables.UpdatePublication(ctx, &next)); err != nil {
		if newThumb != "" {
			s.removeObjects(ctx, backend.BucketPublications, newThumb)
		}
		return nil, fmt.Errorf("updating publication: %w", err)
	}
	// UpdatedAt is set by the store.
	st.Publications.Update(userID, next)

	if newThumb != "" && pub.ThumbURL != nil {
		if old, ok := s.storage.PathFromURL(backend.BucketPublications, *pub.ThumbURL); ok {
			s.removeObjects(ctx, backend.BucketPublications, old)
		}
		s.rememberThumbnail(st.Local, id, upd.Thumbnail)
	}

	s.logger.Info("publication updated", slog.String("id", id))
	return &next, nil
}

// Delete removes an owned publication: its likes, then the row. The delete
// is re-checked up to the configured number of times; if the row is still
// there the session list is restored and ErrDeleteUnverified returned. If ctx
// ends during the re-checks the session list is dropped instead.
// Storage objects are removed last. Failing to remove them is logged, not
// returned.
func (s *PublicationService) Delete(ctx context.Context, st *clientstate.State, userID, id string) error {
	pub, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}

	before, _ := st.Publications.Visible(userID)
	m := optimistic.Begin(before,
		func() { st.Publications.Delete(userID, id) },
		func(snap []model.Publication) { st.Publications.Restore(userID, snap) },
	)

	if err := s.tables.DeleteLikesForPublication(ctx, id); err != nil {
		return m.Settle(fmt.Errorf("deleting likes: %w", err))
	}
	if err := s.tables.DeletePublication(ctx, id); err != nil {
		return m.Settle(fmt.Errorf("deleting publication: %w", err))
	}

	if err := s.verifyDeleted(ctx, id); err != nil {
		if ctx.Err() != nil {
			// The row may already be gone. Neither the snapshot nor the
			// patched list can be trusted, so the next list reloads.
			_ = m.Confirm()
			st.Publications.Invalidate(userID)
			return fmt.Errorf("verifying delete: %w", err)
		}
		return m.Settle(err)
	}
	_ = m.Confirm()

	var paths []string
	for _, url := range []*string{&pub.PDFURL, pub.ThumbURL} {
		if url == nil {
			continue
		}
		if p, ok := s.storage.PathFromURL(backend.BucketPublications, *url); ok {
			paths = append(paths, p)
		}
	}
	s.removeObjects(ctx, backend.BucketPublications, paths...)

	st.Likes.Forget(id)
	if st.Local != nil {
		_ = st.Local.Delete(localstore.ThumbnailKey(id))
	}
	s.logger.Info("publication deleted", slog.String("id", id), slog.String("userID", userID))
	return nil
}

func (s *PublicationService) verifyDeleted(ctx context.Context, id string) error {
	for attempt := 1; attempt <= s.verifyAttempts; attempt++ {
		_, err := s.tables.GetPublication(ctx, id)
		if apperror.IsNotFound(err) {
			return nil
		}
		if err != nil {
			s.logger.Warn("verifying delete", slog.String("id", id), slog.String("error", err.Error()))
		}
		if attempt == s.verifyAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.verifyInterval):
		}
	}
	s.logger.Error("publication still present after delete",
		slog.String("id", id),
		slog.Int("attempts", s.verifyAttempts),
	)
	return ErrDeleteUnverified
}

func (s *PublicationService) removeObjects(ctx context.Context, bucket string, paths ...string) {
	if len(paths) == 0 {
		return
	}
	if err := s.storage.Remove(ctx, bucket, paths...); err != nil {
		s.logger.Warn("removing storage objects",
			slog.String("bucket", bucket),
			slog.Any("paths", paths),
			slog.String("error", err.Error()),
		)
	}
}
