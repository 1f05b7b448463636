package item

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/kailas-cloud/workoutcache/internal/domain"
	domitem "github.com/kailas-cloud/workoutcache/internal/domain/item"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/filter"
	"github.com/kailas-cloud/workoutcache/internal/domain/vector"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	id              TEXT PRIMARY KEY,
	text            TEXT NOT NULL,
	tags            TEXT NOT NULL DEFAULT '{}',
	numerics        TEXT NOT NULL DEFAULT '{}',
	embedding       BLOB,
	embedding_model TEXT NOT NULL DEFAULT '',
	payload         BLOB,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);`

const sqliteUpsert = `
INSERT INTO items (id, text, tags, numerics, embedding, embedding_model, payload, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	text = excluded.text,
	tags = excluded.tags,
	numerics = excluded.numerics,
	embedding = excluded.embedding,
	embedding_model = excluded.embedding_model,
	payload = excluded.payload,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at`

const sqliteColumns = `id, text, tags, numerics, embedding, embedding_model, payload, created_at, updated_at`

// SQLiteRepo stores items in a single SQLite table.
type SQLiteRepo struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database file at path. ":memory:" is accepted.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		conn.SetMaxOpenConns(1)
	}
	for _, stmt := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000", sqliteSchema} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}
	return &SQLiteRepo{db: conn}, nil
}

// Ping checks the database handle.
func (r *SQLiteRepo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (r *SQLiteRepo) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Put upserts the item in one statement.
func (r *SQLiteRepo) Put(ctx context.Context, it domitem.Item) error {
	tags, err := json.Marshal(nonNilTags(it.Tags()))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	nums, err := json.Marshal(nonNilNumerics(it.Numerics()))
	if err != nil {
		return fmt.Errorf("marshal numerics: %w", err)
	}
	var emb []byte
	if it.HasEmbedding() {
		emb = vector.Encode(it.Embedding())
	}

	_, err = r.db.ExecContext(ctx, sqliteUpsert,
		it.ID(), it.Text(), string(tags), string(nums), emb, it.EmbeddingModel(), it.Payload(),
		it.CreatedAt().Format(time.RFC3339Nano), it.UpdatedAt().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", it.ID(), err)
	}
	return nil
}

// Get returns an item by id, domain.ErrNotFound when absent.
func (r *SQLiteRepo) Get(ctx context.Context, id string) (domitem.Item, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domitem.Item{}, domain.ErrNotFound
	}
	if err != nil {
		return domitem.Item{}, fmt.Errorf("get item %s: %w", id, err)
	}
	return it, nil
}

// List streams items matching expr in id order; each range runs a fresh query.
func (r *SQLiteRepo) List(ctx context.Context, expr filter.Expression) iter.Seq2[domitem.Item, error] {
	return func(yield func(domitem.Item, error) bool) {
		rows, err := r.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM items ORDER BY id`)
		if err != nil {
			yield(domitem.Item{}, fmt.Errorf("list items: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			it, err := scanItem(rows)
			if err != nil {
				yield(domitem.Item{}, fmt.Errorf("scan item: %w", err))
				return
			}
			if !expr.Matches(it.Tags(), it.Numerics()) {
				continue
			}
			if !yield(it, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domitem.Item{}, fmt.Errorf("iterate items: %w", err))
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domitem.Item, error) {
	var (
		s                    domitem.State
		tags, nums           string
		emb, payload         []byte
		createdAt, updatedAt string
	)
	if err := row.Scan(&s.ID, &s.Text, &tags, &nums, &emb, &s.EmbeddingModel, &payload, &createdAt, &updatedAt); err != nil {
		return domitem.Item{}, err //nolint:wrapcheck // callers wrap with context
	}
	if err := json.Unmarshal([]byte(tags), &s.Tags); err != nil {
		return domitem.Item{}, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(nums), &s.Numerics); err != nil {
		return domitem.Item{}, fmt.Errorf("decode numerics: %w", err)
	}
	if len(emb) > 0 {
		v, err := vector.Decode(emb)
		if err != nil {
			return domitem.Item{}, err //nolint:wrapcheck // already descriptive
		}
		s.Embedding = v
	}
	if len(payload) > 0 {
		s.Payload = payload
	}
	var err error
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return domitem.Item{}, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domitem.Item{}, err
	}
	return domitem.Reconstruct(s), nil
}

func nonNilTags(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilNumerics(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}
