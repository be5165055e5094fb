package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/backend"
	"github.com/sakif/flipbook/internal/clientstate"
	"github.com/sakif/flipbook/internal/model"
	"github.com/sakif/flipbook/internal/optimistic"
)

// LikeService toggles likes optimistically.
//
// The session's like view changes before the backend is asked. If the
// backend write fails the previous state comes back with status
// rolled_back. Two toggles fired back to back may race; the backend's
// uniqueness constraint keeps the table consistent either way.
type LikeService struct {
	likes  backend.LikeStore
	logger *slog.Logger
}

func NewLikeService(likes backend.LikeStore, logger *slog.Logger) *LikeService {
	return &LikeService{likes: likes, logger: logger}
}

// State loads the like state of a publication for viewerID (may be empty)
// and records it in the session.
func (s *LikeService) State(ctx context.Context, st *clientstate.State, viewerID, publicationID string) (model.LikeState, error) {
	counts, err := s.likes.CountLikes(ctx, publicationID)
	if err != nil {
		return model.LikeState{}, fmt.Errorf("counting likes: %w", err)
	}
	state := model.LikeState{
		PublicationID: publicationID,
		Count:         counts[publicationID],
		Status:        string(optimistic.Confirmed),
	}
	if viewerID != "" {
		liked, err := s.likes.LikedBy(ctx, viewerID, publicationID)
		if err != nil {
			return model.LikeState{}, fmt.Errorf("loading like: %w", err)
		}
		state.Liked = liked[publicationID]
	}
	if st != nil {
		st.Likes.Set(viewerID, state)
	}
	return state, nil
}

// Count returns the number of likes of a publication.
func (s *LikeService) Count(ctx context.Context, publicationID string) (int, error) {
	counts, err := s.likes.CountLikes(ctx, publicationID)
	if err != nil {
		return 0, fmt.Errorf("counting likes: %w", err)
	}
	return counts[publicationID], nil
}

// HasLiked reports whether userID likes publicationID.
func (s *LikeService) HasLiked(ctx context.Context, userID, publicationID string) (bool, error) {
	liked, err := s.likes.LikedBy(ctx, userID, publicationID)
	if err != nil {
		return false, fmt.Errorf("loading like: %w", err)
	}
	return liked[publicationID], nil
}

// Toggle flips userID's like on publicationID. On failure it returns the
// rolled-back state together with the error.
//
// The flip starts from what userID last saw in this session. Once the write
// lands the state is re-read, so the reported count always matches the
// backend even when the session view was stale.
func (s *LikeService) Toggle(ctx context.Context, st *clientstate.State, userID, publicationID string) (model.LikeState, error) {
	if userID == "" {
		return model.LikeState{}, apperror.Unauthorized("sign in to like publications")
	}
	current, ok := st.Likes.Get(userID, publicationID)
	if !ok {
		var err error
		if current, err = s.State(ctx, st, userID, publicationID); err != nil {
			return model.LikeState{}, err
		}
	}

	next := current
	next.Liked = !current.Liked
	if next.Liked {
		next.Count++
	} else if next.Count > 0 {
		next.Count--
	}
	next.Status = string(optimistic.Pending)

	m := optimistic.Begin(current,
		func() { st.Likes.Set(userID, next) },
		func(prev model.LikeState) {
			prev.Status = string(optimistic.RolledBack)
			st.Likes.Set(userID, prev)
		},
	)

	if err := m.Settle(s.write(ctx, userID, publicationID, next.Liked)); err != nil {
		s.logger.Warn("like toggle rolled back",
			slog.String("publicationID", publicationID),
			slog.String("error", err.Error()),
		)
		rolledBack, _ := st.Likes.Get(userID, publicationID)
		return rolledBack, err
	}

	confirmed, err := s.State(ctx, st, userID, publicationID)
	if err != nil {
		s.logger.Warn("reloading like state",
			slog.String("publicationID", publicationID),
			slog.String("error", err.Error()),
		)
		next.Status = string(optimistic.Confirmed)
		st.Likes.Set(userID, next)
		return next, nil
	}
	return confirmed, nil
}

// write applies the like to the backend. A like that already exists, or an
// unlike of one that is already gone, is the state we wanted.
func (s *LikeService) write(ctx context.Context, userID, publicationID string, like bool) error {
	if like {
		err := s.likes.InsertLike(ctx, &model.PublicationLike{PublicationID: publicationID, UserID: userID})
		if errors.Is(err, apperror.ErrConflict) {
			return nil
		}
		return err
	}
	err := s.likes.DeleteLike(ctx, publicationID, userID)
	if apperror.IsNotFound(err) {
		return nil
	}
	return err
}
