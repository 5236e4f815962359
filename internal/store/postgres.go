package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, email, is_external, created_at FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Email, &user.IsExternal, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO users (display_name, email)
		VALUES ($1, CONCAT(LOWER(REPLACE($1, ' ', '.')), '@local.marginalia.dev'))
		RETURNING id, display_name, email, is_external, created_at
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.DisplayName, &user.Email, &user.IsExternal, &user.CreatedAt); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, email, is_external, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.Email, &user.IsExternal, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) InsertAnnotation(ctx context.Context, ann Annotation) (Annotation, error) {
	tags, refs, err := encodeLists(ann)
	if err != nil {
		return Annotation{}, err
	}
	const query = `
		INSERT INTO annotations (id, uri, user_name, body, tags, refs)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	if err := s.db.QueryRowContext(ctx, query, ann.ID, ann.URI, ann.UserName, ann.Text, tags, refs).
		Scan(&ann.CreatedAt, &ann.UpdatedAt); err != nil {
		return Annotation{}, fmt.Errorf("insert annotation: %w", err)
	}
	return ann, nil
}

func (s *PostgresStore) GetAnnotation(ctx context.Context, id string) (Annotation, error) {
	const query = `
		SELECT id, uri, user_name, body, tags, refs, created_at, updated_at
		FROM annotations
		WHERE id = $1
	`
	return scanAnnotation(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) UpdateAnnotation(ctx context.Context, id, text string, tags []string) (Annotation, error) {
	encodedTags, err := json.Marshal(emptyIfNil(tags))
	if err != nil {
		return Annotation{}, fmt.Errorf("encode tags: %w", err)
	}
	const query = `
		UPDATE annotations
		SET body = $2, tags = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING id, uri, user_name, body, tags, refs, created_at, updated_at
	`
	return scanAnnotation(s.db.QueryRowContext(ctx, query, id, text, encodedTags))
}

func (s *PostgresStore) DeleteAnnotation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM annotations WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListAnnotationsByURI(ctx context.Context, uri string) ([]Annotation, error) {
	const query = `
		SELECT id, uri, user_name, body, tags, refs, created_at, updated_at
		FROM annotations
		WHERE uri = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, uri)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	items := make([]Annotation, 0)
	for rows.Next() {
		ann, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, ann)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SummaryByURI(ctx context.Context, uri string) (URISummary, error) {
	const query = `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE refs = '[]'::jsonb),
			COUNT(DISTINCT user_name)
		FROM annotations
		WHERE uri = $1
	`
	summary := URISummary{URI: uri}
	err := s.db.QueryRowContext(ctx, query, uri).Scan(&summary.Total, &summary.TopLevel, &summary.Users)
	if err != nil {
		return URISummary{}, fmt.Errorf("summarize uri: %w", err)
	}
	return summary, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnotation(row rowScanner) (Annotation, error) {
	var ann Annotation
	var tags, refs []byte
	err := row.Scan(&ann.ID, &ann.URI, &ann.UserName, &ann.Text, &tags, &refs, &ann.CreatedAt, &ann.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Annotation{}, err
		}
		return Annotation{}, fmt.Errorf("scan annotation: %w", err)
	}
	if err := json.Unmarshal(tags, &ann.Tags); err != nil {
		return Annotation{}, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal(refs, &ann.References); err != nil {
		return Annotation{}, fmt.Errorf("decode refs: %w", err)
	}
	return ann, nil
}

func encodeLists(ann Annotation) ([]byte, []byte, error) {
	tags, err := json.Marshal(emptyIfNil(ann.Tags))
	if err != nil {
		return nil, nil, fmt.Errorf("encode tags: %w", err)
	}
	refs, err := json.Marshal(emptyIfNil(ann.References))
	if err != nil {
		return nil, nil, fmt.Errorf("encode refs: %w", err)
	}
	return tags, refs, nil
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
