package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"sdlcboard/api/internal/workflow"
)

// PostgresStore keeps the board as a jsonb row keyed by board name and
// records one workflow_revisions row per save.
type PostgresStore struct {
	db   *sql.DB
	name string
}

var (
	_ Store     = (*PostgresStore)(nil)
	_ Pinger    = (*PostgresStore)(nil)
	_ Historian = (*PostgresStore)(nil)
)

func NewPostgresStore(db *sql.DB, name string) *PostgresStore {
	if strings.TrimSpace(name) == "" {
		name = "sdlc-workflow"
	}
	return &PostgresStore{db: db, name: name}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Load(ctx context.Context) (*workflow.Document, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM workflow_documents WHERE name=$1`, s.name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("postgres", "select", err)
	}
	doc, err := workflow.Decode(body)
	if err != nil {
		return nil, persistenceError("postgres", "decode", err)
	}
	return doc, nil
}

func (s *PostgresStore) Save(ctx context.Context, doc *workflow.Document) error {
	payload, err := workflow.Encode(doc)
	if err != nil {
		return persistenceError("postgres", "encode", err)
	}

	var (
		lastModified   sql.NullTime
		lastModifiedBy string
		version        string
	)
	if doc.Metadata != nil {
		lastModified = sql.NullTime{Time: doc.Metadata.LastModified, Valid: !doc.Metadata.LastModified.IsZero()}
		lastModifiedBy = doc.Metadata.LastModifiedBy
		version = doc.Metadata.Version
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceError("postgres", "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_documents (name, body, last_modified, last_modified_by, updated_at)
		VALUES ($1, $2::jsonb, $3, $4, NOW())
		ON CONFLICT (name) DO UPDATE
		SET body = EXCLUDED.body,
			last_modified = EXCLUDED.last_modified,
			last_modified_by = EXCLUDED.last_modified_by,
			updated_at = NOW()
	`, s.name, string(payload), lastModified, lastModifiedBy); err != nil {
		return persistenceError("postgres", "upsert", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_revisions (name, version, author, message)
		VALUES ($1, $2, $3, $4)
	`, s.name, version, AuthorOf(doc), CommitMessage(doc)); err != nil {
		return persistenceError("postgres", "insert revision", err)
	}

	if err := tx.Commit(); err != nil {
		return persistenceError("postgres", "commit", err)
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, limit int) ([]CommitInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, author, message, created_at
		FROM workflow_revisions
		WHERE name=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, s.name, limit)
	if err != nil {
		return nil, persistenceError("postgres", "history", err)
	}
	defer rows.Close()

	items := make([]CommitInfo, 0, limit)
	for rows.Next() {
		var (
			id      int64
			version string
			item    CommitInfo
		)
		if err := rows.Scan(&id, &version, &item.Author, &item.Message, &item.CreatedAt); err != nil {
			return nil, persistenceError("postgres", "scan history", err)
		}
		item.Hash = fmt.Sprintf("r%d-v%s", id, version)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("postgres", "history rows", err)
	}
	return items, nil
}
