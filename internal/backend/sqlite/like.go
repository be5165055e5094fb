package sqlite

import (
	"context"
	"fmt"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/model"
)

// InsertLike records a like. Liking twice is a conflict; liking a missing
// publication is not found.
func (db *DB) InsertLike(ctx context.Context, like *model.PublicationLike) error {
	if like.CreatedAt.IsZero() {
		like.CreatedAt = db.now()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO publication_likes (publication_id, user_id, created_at) VALUES (?, ?, ?)`,
		like.PublicationID, like.UserID, like.CreatedAt,
	)
	switch {
	case isUniqueViolation(err):
		return apperror.Conflict("like", like.PublicationID)
	case isForeignKeyViolation(err):
		return apperror.NotFound("publication", like.PublicationID)
	case err != nil:
		return fmt.Errorf("sqlite: inserting like: %w", err)
	}
	return nil
}

// DeleteLike removes one user's like.
func (db *DB) DeleteLike(ctx context.Context, publicationID, userID string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM publication_likes WHERE publication_id = ? AND user_id = ?`,
		publicationID, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting like: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("like", publicationID)
	}
	return nil
}

// DeleteLikesForPublication removes every like of a publication. Deleting
// none is not an error.
func (db *DB) DeleteLikesForPublication(ctx context.Context, publicationID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM publication_likes WHERE publication_id = ?`, publicationID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting likes of %s: %w", publicationID, err)
	}
	return nil
}

// CountLikes returns a count for every requested id, zero included.
func (db *DB) CountLikes(ctx context.Context, publicationIDs ...string) (map[string]int, error) {
	counts := make(map[string]int, len(publicationIDs))
	if len(publicationIDs) == 0 {
		return counts, nil
	}
	for _, id := range publicationIDs {
		counts[id] = 0
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT publication_id, COUNT(*) FROM publication_likes
		 WHERE publication_id IN (`+placeholders(len(publicationIDs))+`)
		 GROUP BY publication_id`,
		stringArgs(publicationIDs)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: counting likes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("sqlite: scanning like count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating like counts: %w", err)
	}
	return counts, nil
}

// LikedBy reports, for each requested id, whether userID liked it.
func (db *DB) LikedBy(ctx context.Context, userID string, publicationIDs ...string) (map[string]bool, error) {
	liked := make(map[string]bool, len(publicationIDs))
	if len(publicationIDs) == 0 || userID == "" {
		return liked, nil
	}

	args := append([]any{userID}, stringArgs(publicationIDs)...)
	rows, err := db.conn.QueryContext(ctx,
		`SELECT publication_id FROM publication_likes
		 WHERE user_id = ? AND publication_id IN (`+placeholders(len(publicationIDs))+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading likes of %s: %w", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning like row: %w", err)
		}
		liked[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating likes: %w", err)
	}
	return liked, nil
}
