package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	argerr "github.com/argus-soc/argus/internal/errors"
	"github.com/argus-soc/argus/internal/models"
)

// SavedQueryStore persists named KQL snippets per user.
type SavedQueryStore struct {
	db *sql.DB
}

// Create inserts a saved query. Duplicate (user, name) pairs conflict.
func (s *SavedQueryStore) Create(ctx context.Context, q *models.SavedQuery) error {
	if q.Name == "" || q.Query == "" {
		return argerr.Validationf("create_saved_query", "name and query are required")
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saved_query (id, user_id, name, description, query, indices, is_shared, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.UserID, q.Name, q.Description, q.Query, marshalJSON(q.Indices),
		boolToInt(q.IsShared), formatTime(q.CreatedAt), formatTime(q.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return argerr.Conflict("create_saved_query", q.Name, fmt.Errorf("saved query %q already exists for user", q.Name))
		}
		return fmt.Errorf("failed to insert saved query: %w", err)
	}
	return nil
}

// Get loads a saved query, enforcing visibility: private queries are only
// readable by their owner.
func (s *SavedQueryStore) Get(ctx context.Context, id, requestingUser string) (*models.SavedQuery, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, query, indices, is_shared, created_at, updated_at
		FROM saved_query WHERE id = ?`, id)
	q, err := scanSavedQuery(row)
	if err == sql.ErrNoRows {
		return nil, argerr.NotFound("get_saved_query", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load saved query: %w", err)
	}
	if !q.IsShared && q.UserID != requestingUser {
		return nil, argerr.New(argerr.KindPermission, "get_saved_query", id, argerr.ErrPermissionDenied)
	}
	return q, nil
}

// ListVisible returns the user's own queries plus shared ones.
func (s *SavedQueryStore) ListVisible(ctx context.Context, userID string) ([]*models.SavedQuery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, query, indices, is_shared, created_at, updated_at
		FROM saved_query WHERE user_id = ? OR is_shared = 1 ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved queries: %w", err)
	}
	defer rows.Close()

	var out []*models.SavedQuery
	for rows.Next() {
		q, err := scanSavedQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan saved query: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Delete removes a saved query owned by the requesting user.
func (s *SavedQueryStore) Delete(ctx context.Context, id, requestingUser string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM saved_query WHERE id = ? AND user_id = ?`, id, requestingUser)
	if err != nil {
		return fmt.Errorf("failed to delete saved query: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return argerr.NotFound("delete_saved_query", id)
	}
	return nil
}

func scanSavedQuery(row rowScanner) (*models.SavedQuery, error) {
	var (
		q                    models.SavedQuery
		indices              string
		shared               int
		createdAt, updatedAt string
	)
	err := row.Scan(&q.ID, &q.UserID, &q.Name, &q.Description, &q.Query, &indices, &shared, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	q.Indices = unmarshalStrings(indices)
	q.IsShared = shared != 0
	q.CreatedAt = parseStoredTime(createdAt)
	q.UpdatedAt = parseStoredTime(updatedAt)
	return &q, nil
}
