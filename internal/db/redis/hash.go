package redis

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/workoutcache/internal/db"
)

// HReplace swaps the whole hash in one MULTI/EXEC so readers never observe a mix of
// old and new fields.
func (s *Store) HReplace(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return &db.Error{Op: db.OpHSet, Err: fmt.Errorf("no fields for key %s", key)}
	}

	hset := s.b().Hset().Key(key).FieldValue()
	for k, v := range fields {
		hset = hset.FieldValue(k, v)
	}

	results := s.client.DoMulti(ctx,
		s.b().Multi().Build(),
		s.b().Del().Key(key).Build(),
		hset.Build(),
		s.b().Exec().Build(),
	)
	for _, res := range results {
		if err := res.Error(); err != nil {
			return &db.Error{Op: db.OpExec, Err: fmt.Errorf("key %s: %w", key, err)}
		}
	}

	// Queued commands report their own failures inside the EXEC reply.
	replies, err := results[len(results)-1].ToArray()
	if err != nil {
		return &db.Error{Op: db.OpExec, Err: fmt.Errorf("key %s: %w", key, err)}
	}
	for _, r := range replies {
		if err := r.Error(); err != nil {
			return &db.Error{Op: db.OpExec, Err: fmt.Errorf("key %s: %w", key, err)}
		}
	}
	return nil
}

// HGetAll returns all fields of a hash. A missing key yields an empty map.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	cmd := s.b().Hgetall().Key(key).Build()
	m, err := s.do(ctx, cmd).AsStrMap()
	if err != nil {
		return nil, &db.Error{Op: db.OpHGetAll, Err: err}
	}
	return m, nil
}

// HGetAllMulti fetches all fields for multiple hashes in a single DoMulti round-trip.
func (s *Store) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]rueidis.Completed, len(keys))
	for i, key := range keys {
		cmds[i] = s.b().Hgetall().Key(key).Build()
	}

	results := s.client.DoMulti(ctx, cmds...)
	out := make([]map[string]string, len(results))

	for i, res := range results {
		m, err := res.AsStrMap()
		if err != nil {
			return nil, &db.Error{Op: db.OpHGetAll, Err: fmt.Errorf("key %s: %w", keys[i], err)}
		}
		out[i] = m
	}

	return out, nil
}

// Del deletes a key.
func (s *Store) Del(ctx context.Context, key string) error {
	cmd := s.b().Del().Key(key).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpDel, Err: err}
	}
	return nil
}

// Exists checks if a key exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	cmd := s.b().Exists().Key(key).Build()
	count, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return false, &db.Error{Op: db.OpExists, Err: err}
	}
	return count > 0, nil
}

// ScanPage runs a single SCAN step. Callers loop until the returned cursor is 0.
func (s *Store) ScanPage(ctx context.Context, cursor uint64, pattern string, count int64) (db.ScanPage, error) {
	if count <= 0 {
		count = 100
	}
	cmd := s.b().Scan().Cursor(cursor).Match(pattern).Count(count).Build()
	res, err := s.do(ctx, cmd).AsScanEntry()
	if err != nil {
		return db.ScanPage{}, &db.Error{Op: db.OpScan, Err: err}
	}
	return db.ScanPage{Keys: res.Elements, Cursor: res.Cursor}, nil
}
