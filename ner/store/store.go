package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/biomedical-ner/ner/decode"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/recognizer"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
)

// ErrNotFound is returned when no stored result matches.
var ErrNotFound = errors.New("result not found")

const schema = `
CREATE TABLE IF NOT EXISTS results (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	generation INTEGER NOT NULL,
	input      TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS spans (
	result_id  TEXT NOT NULL REFERENCES results(id) ON DELETE CASCADE,
	ordinal    INTEGER NOT NULL,
	text       TEXT NOT NULL,
	type       TEXT NOT NULL,
	confidence REAL NOT NULL,
	PRIMARY KEY (result_id, ordinal)
);
CREATE INDEX IF NOT EXISTS idx_spans_type ON spans(type);
`

// Options configures the history store.
type Options struct {
	// DSN is a libsql URL: "file:/path/history.db" or a remote libsql:// / https:// URL.
	DSN       string
	AuthToken string
	Logger    zerolog.Logger
}

// Store persists applied recognition results in libsql.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open connects to the database and creates the schema if needed.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, errors.New("store: empty DSN")
	}
	dsn := opts.DSN
	if path, ok := strings.CutPrefix(dsn, "file:"); ok {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory: %w", err)
		}
	} else if opts.AuthToken != "" {
		dsn = withAuthToken(dsn, opts.AuthToken)
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connector: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	log := opts.Logger.With().Str("component", "store").Logger()
	log.Debug().Str("dsn", redact(opts.DSN)).Msg("history store ready")
	return &Store{db: db, log: log}, nil
}

func withAuthToken(dsn, token string) string {
	if u, err := url.Parse(dsn); err == nil {
		q := u.Query()
		q.Set("authToken", token)
		u.RawQuery = q.Encode()
		return u.String()
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&authToken=" + url.QueryEscape(token)
	}
	return dsn + "?authToken=" + url.QueryEscape(token)
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "?"); i >= 0 {
		return dsn[:i]
	}
	return dsn
}

// Publish implements recognizer.Sink. The result and its spans are written in
// one transaction.
func (s *Store) Publish(ctx context.Context, res recognizer.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO results (id, generation, input, created_at) VALUES (?, ?, ?, ?)",
		res.ID.String(), int64(res.Generation), res.Input, res.CreatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to insert result %s: %w", res.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO spans (result_id, ordinal, text, type, confidence) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()
	for i, sp := range res.Spans {
		if _, err := stmt.ExecContext(ctx, res.ID.String(), i, sp.Text, sp.Type, sp.Confidence); err != nil {
			return fmt.Errorf("failed to insert span %d of %s: %w", i, res.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit result %s: %w", res.ID, err)
	}
	s.log.Debug().Str("id", res.ID.String()).Int("spans", len(res.Spans)).Msg("result stored")
	return nil
}

// Get loads one result by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (recognizer.Result, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, generation, input, created_at FROM results WHERE id = ?", id.String())
	return s.load(ctx, row)
}

// Latest loads the most recently stored result.
func (s *Store) Latest(ctx context.Context) (recognizer.Result, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, generation, input, created_at FROM results ORDER BY seq DESC LIMIT 1")
	return s.load(ctx, row)
}

// ListByType returns up to limit results, newest first, that contain at least
// one span of the given entity type. A non-positive limit means no limit.
func (s *Store) ListByType(ctx context.Context, entityType string, limit int) ([]recognizer.Result, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id FROM results r
		WHERE EXISTS (SELECT 1 FROM spans s WHERE s.result_id = r.id AND s.type = ?)
		ORDER BY r.seq DESC LIMIT ?`, entityType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query results by type: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan result id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	out := make([]recognizer.Result, 0, len(ids))
	for _, id := range ids {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid stored id %q: %w", id, err)
		}
		res, err := s.Get(ctx, parsed)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (s *Store) load(ctx context.Context, row *sql.Row) (recognizer.Result, error) {
	var (
		id      string
		gen     int64
		res     recognizer.Result
		created int64
	)
	if err := row.Scan(&id, &gen, &res.Input, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return recognizer.Result{}, ErrNotFound
		}
		return recognizer.Result{}, fmt.Errorf("failed to scan result: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return recognizer.Result{}, fmt.Errorf("invalid stored id %q: %w", id, err)
	}
	res.ID = parsed
	res.Generation = uint64(gen)
	res.CreatedAt = time.Unix(0, created).UTC()

	spans, err := s.spans(ctx, id)
	if err != nil {
		return recognizer.Result{}, err
	}
	res.Spans = spans
	return res, nil
}

func (s *Store) spans(ctx context.Context, resultID string) ([]decode.EntitySpan, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT text, type, confidence FROM spans WHERE result_id = ? ORDER BY ordinal", resultID)
	if err != nil {
		return nil, fmt.Errorf("failed to query spans: %w", err)
	}
	defer rows.Close()

	spans := []decode.EntitySpan{}
	for rows.Next() {
		var sp decode.EntitySpan
		if err := rows.Scan(&sp.Text, &sp.Type, &sp.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan span: %w", err)
		}
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
