package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/backend"
	"github.com/sakif/flipbook/internal/model"
)

const publicationColumns = `id, user_id, title, description, pdf_url, thumb_url, created_at, updated_at`

func scanPublication(row rowScanner) (model.Publication, error) {
	var (
		p       model.Publication
		thumb   sql.NullString
		updated sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.Description, &p.PDFURL,
		&thumb, &p.CreatedAt, &updated); err != nil {
		return model.Publication{}, err
	}
	p.ThumbURL = stringPtr(thumb)
	if updated.Valid {
		t := updated.Time
		p.UpdatedAt = &t
	}
	return model.ParsePublicationRow(p)
}

// InsertPublication stores p, filling ID and CreatedAt when unset.
func (db *DB) InsertPublication(ctx context.Context, p *model.Publication) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = db.now()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO publications (`+publicationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
		p.ID, p.UserID, p.Title, p.Description, p.PDFURL,
		nullString(p.ThumbURL), p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return apperror.Conflict("publication", p.ID)
	}
	if err != nil {
		return fmt.Errorf("sqlite: inserting publication: %w", err)
	}
	return nil
}

// GetPublication returns one publication by id.
func (db *DB) GetPublication(ctx context.Context, id string) (*model.Publication, error) {
	p, err := scanPublication(db.conn.QueryRowContext(ctx,
		`SELECT `+publicationColumns+` FROM publications WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("publication", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting publication %s: %w", id, err)
	}
	return &p, nil
}

// ListPublications returns publications newest first.
func (db *DB) ListPublications(ctx context.Context, q backend.PublicationQuery) ([]model.Publication, error) {
	var (
		where []string
		args  []any
	)
	if q.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, q.UserID)
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		pattern := "%" + escapeLike(s) + "%"
		where = append(where, `(title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}

	query := `SELECT ` + publicationColumns + ` FROM publications`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, q.Limit, max(q.Offset, 0))
	} else if q.Offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, q.Offset)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing publications: %w", err)
	}
	defer rows.Close()

	var pubs []model.Publication
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning publication row: %w", err)
		}
		pubs = append(pubs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating publications: %w", err)
	}
	return pubs, nil
}

// UpdatePublication writes the editable columns and stamps UpdatedAt.
func (db *DB) UpdatePublication(ctx context.Context, p *model.Publication) error {
	now := db.now()
	result, err := db.conn.ExecContext(ctx,
		`UPDATE publications
		 SET title = ?, description = ?, thumb_url = ?, updated_at = ?
		 WHERE id = ?`,
		p.Title, p.Description, nullString(p.ThumbURL), now, p.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating publication %s: %w", p.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("publication", p.ID)
	}
	p.UpdatedAt = &now
	return nil
}

// DeletePublication removes the row. Likes must be removed first.
func (db *DB) DeletePublication(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM publications WHERE id = ?`, id)
	if isForeignKeyViolation(err) {
		return apperror.Conflict("publication likes", id)
	}
	if err != nil {
		return fmt.Errorf("sqlite: deleting publication %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("publication", id)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
