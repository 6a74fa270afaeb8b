// Package tracker persists diff checkpoints and named timeframe diffs
// in a local SQLite database. The diff trees are stored as JSON blobs;
// the checkpoint column is what the incremental path resumes from.
package tracker

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/plexgraph/plexgraph/engine/coordinator"
	"github.com/plexgraph/plexgraph/engine/diff"
)

//go:embed schema.sql
var schemaSQL string

// payload is the JSON blob stored per diff: the raw accumulation the
// incremental path keeps combining onto, and the enriched pair served
// to callers.
type payload struct {
	Raw  *diff.CalculatedPair `json:"raw"`
	Pair *diff.CalculatedPair `json:"pair"`
}

// Store is a SQLite-backed coordinator.Store.
type Store struct {
	db *sql.DB
}

var _ coordinator.Store = (*Store)(nil)

// Open opens (and if needed creates) the tracker database at path.
// Use ":memory:" for an in-memory store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tracker: open %s: %w", path, err)
	}
	// modernc sqlite is not safe for concurrent writers on one conn pool
	// without this.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracker: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadTracked returns the incremental diff for a branch pair, or
// found=false when none has been persisted yet.
func (s *Store) LoadTracked(ctx context.Context, base, branch string) (*coordinator.StoredDiff, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT checkpoint, payload FROM tracked_diffs WHERE base = ? AND branch = ?`,
		base, branch)
	return scanStored(row)
}

// SaveTracked upserts the incremental diff for a branch pair.
func (s *Store) SaveTracked(ctx context.Context, base, branch string, sd *coordinator.StoredDiff) error {
	blob, err := json.Marshal(payload{Raw: sd.Raw, Pair: sd.Pair})
	if err != nil {
		return fmt.Errorf("tracker: encode diff %s..%s: %w", base, branch, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO tracked_diffs (base, branch, checkpoint, payload, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (base, branch) DO UPDATE SET
    checkpoint = excluded.checkpoint,
    payload    = excluded.payload,
    updated_at = excluded.updated_at`,
		base, branch, sd.Checkpoint.UTC().Format(time.RFC3339Nano), blob,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("tracker: save diff %s..%s: %w", base, branch, err)
	}
	return nil
}

// LoadNamed returns a named timeframe diff, or found=false.
func (s *Store) LoadNamed(ctx context.Context, base, branch, name string) (*coordinator.StoredDiff, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT checkpoint, payload FROM named_diffs WHERE base = ? AND branch = ? AND name = ?`,
		base, branch, name)
	return scanStored(row)
}

// SaveNamed upserts a named timeframe diff.
func (s *Store) SaveNamed(ctx context.Context, base, branch, name string, sd *coordinator.StoredDiff) error {
	blob, err := json.Marshal(payload{Raw: sd.Raw, Pair: sd.Pair})
	if err != nil {
		return fmt.Errorf("tracker: encode diff %s..%s %q: %w", base, branch, name, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO named_diffs (base, branch, name, checkpoint, payload, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (base, branch, name) DO UPDATE SET
    checkpoint = excluded.checkpoint,
    payload    = excluded.payload,
    updated_at = excluded.updated_at`,
		base, branch, name, sd.Checkpoint.UTC().Format(time.RFC3339Nano), blob,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("tracker: save diff %s..%s %q: %w", base, branch, name, err)
	}
	return nil
}

func scanStored(row *sql.Row) (*coordinator.StoredDiff, bool, error) {
	var checkpoint string
	var blob []byte
	if err := row.Scan(&checkpoint, &blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("tracker: load: %w", err)
	}

	sd := &coordinator.StoredDiff{}
	var err error
	if sd.Checkpoint, err = time.Parse(time.RFC3339Nano, checkpoint); err != nil {
		return nil, false, fmt.Errorf("tracker: decode checkpoint: %w", err)
	}
	var p payload
	if err := json.Unmarshal(blob, &p); err != nil {
		return nil, false, fmt.Errorf("tracker: decode diff: %w", err)
	}
	sd.Raw, sd.Pair = p.Raw, p.Pair
	return sd, true, nil
}
