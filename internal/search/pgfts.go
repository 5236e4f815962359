package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries the annotations table using plainto_tsquery and ts_rank,
// with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const tsQuery = "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	where := "to_tsvector('english', a.body) @@ " + tsQuery
	if q.FilterURI != "" {
		where += fmt.Sprintf(" AND a.uri = $%d", argN)
		args = append(args, q.FilterURI)
		argN++
	}
	if q.FilterUser != "" {
		where += fmt.Sprintf(" AND a.user_name = $%d", argN)
		args = append(args, q.FilterUser)
		argN++
	}

	countSQL := fmt.Sprintf(`SELECT count(*) FROM annotations a WHERE %s`, where)
	dataSQL := fmt.Sprintf(`
		SELECT a.id, a.uri, a.user_name,
			ts_headline('english', a.body, %s, 'MaxFragments=1,MaxWords=30') AS snippet
		FROM annotations a
		WHERE %s
		ORDER BY ts_rank(to_tsvector('english', a.body), %s) DESC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.URI, &r.User, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable annotations for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]AnnotationRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, uri, user_name, body
		FROM annotations
	`)
	if err != nil {
		return nil, fmt.Errorf("load annotations: %w", err)
	}
	defer rows.Close()

	records := make([]AnnotationRecord, 0)
	for rows.Next() {
		var r AnnotationRecord
		if err := rows.Scan(&r.ID, &r.URI, &r.User, &r.Body); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return records, nil
}
