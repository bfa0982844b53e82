package search

import (
	"context"
	"database/sql"
	"fmt"
)

// PgFTS answers searches straight from Postgres when Meilisearch is
// down. It ranks with ts_rank over title and description and also
// matches node labels inside the JSONB graph.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

func (p *PgFTS) Search(ctx context.Context, q Query) (Response, error) {
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, updated_at,
		       ts_rank(
		           to_tsvector('simple', title || ' ' || description),
		           plainto_tsquery('simple', $1)) AS rank
		FROM mindmaps
		WHERE (created_by = $2
		       OR collaborators @> jsonb_build_array(jsonb_build_object('userId', $2::text)))
		  AND (to_tsvector('simple', title || ' ' || description)
		           @@ plainto_tsquery('simple', $1)
		       OR EXISTS (
		           SELECT 1 FROM jsonb_array_elements(nodes) n
		           WHERE n->'data'->>'label' ILIKE '%' || $1 || '%'))
		ORDER BY rank DESC, updated_at DESC
		LIMIT $3 OFFSET $4`,
		q.Text, q.UserID, limit, q.Offset)
	if err != nil {
		return Response{}, fmt.Errorf("pg search: %w", err)
	}
	defer rows.Close()

	out := Response{Source: "postgres", Hits: []Hit{}}
	for rows.Next() {
		var (
			h    Hit
			rank float64
		)
		if err := rows.Scan(&h.ID, &h.Title, &h.Description, &h.UpdatedAt, &rank); err != nil {
			return Response{}, fmt.Errorf("pg search scan: %w", err)
		}
		out.Hits = append(out.Hits, h)
	}
	if err := rows.Err(); err != nil {
		return Response{}, fmt.Errorf("pg search: %w", err)
	}
	out.Total = int64(len(out.Hits))
	return out, nil
}
