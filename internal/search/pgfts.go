package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches the board row kept by the Postgres store, expanding the
// jsonb document into items inside the database.
type PgFTS struct {
	db   *sql.DB
	name string
}

// NewPgFTS creates a Postgres searcher for the board stored under name.
func NewPgFTS(db *sql.DB, name string) *PgFTS {
	if strings.TrimSpace(name) == "" {
		name = "sdlc-workflow"
	}
	return &PgFTS{db: db, name: name}
}

// Healthy reports whether a database is attached. Connectivity problems
// surface as Search errors.
func (p *PgFTS) Healthy() bool {
	return p != nil && p.db != nil
}

const pgItemsSQL = `
	SELECT p.key, COALESCE((p.value->>'phaseNumber')::int, 0) AS phase_number,
		c.key, i.item, (i.n - 1)::int AS position,
		count(*) OVER () AS total
	FROM workflow_documents d
	CROSS JOIN LATERAL jsonb_each(d.body->'phases') AS p(key, value)
	CROSS JOIN LATERAL jsonb_each(COALESCE(p.value->'categories', '{}'::jsonb)) AS c(key, value)
	CROSS JOIN LATERAL jsonb_array_elements_text(COALESCE(c.value->'items', '[]'::jsonb)) WITH ORDINALITY AS i(item, n)
	WHERE d.name = $1
		AND (i.item ILIKE $2 ESCAPE '\' OR c.key ILIKE $2 ESCAPE '\' OR p.key ILIKE $2 ESCAPE '\')
		AND ($3 = '' OR lower(p.key) = lower($3))
	ORDER BY NULLIF(COALESCE((p.value->>'phaseNumber')::int, 0), 0) NULLS LAST, p.key, c.key, i.n
	LIMIT $4`

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}

	rows, err := p.db.QueryContext(ctx, pgItemsSQL, p.name, "%"+escapeLike(text)+"%", q.Phase, limitOf(q))
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var (
		results []Result
		total   int
	)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Phase, &r.PhaseNumber, &r.Category, &r.Item, &r.Position, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.ID = recordID(r.Phase, r.Category, r.Position)
		r.Snippet = highlight(r.Item, strings.ToLower(text))
		results = append(results, r)
	}
	return results, total, rows.Err()
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
