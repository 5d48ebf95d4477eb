package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/flowscript/internal/graph"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on snapshots.graph_hash
const currentSchemaVersion = 1

// Store is the SQLite snapshot store.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db  *sql.DB
	seq atomic.Int64
}

var _ SnapshotStore = (*Store)(nil)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db}
	var last int64
	if err := db.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM snapshot_log").Scan(&last); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read last seq: %w", err)
	}
	s.seq.Store(last)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LastSeq returns the sequence number of the most recent save.
func (s *Store) LastSeq() int64 {
	return s.seq.Load()
}

// Save stores snap as the latest snapshot for its key and appends it to the
// log. Both writes happen in one transaction.
func (s *Store) Save(ctx context.Context, snap Snapshot) (int64, error) {
	if snap.Key == "" {
		return 0, errors.New("save snapshot: empty key")
	}
	seq := s.seq.Add(1)
	hash := graph.FormatHash(snap.GraphHash)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot_log (seq, key, graph_hash, data)
		VALUES (?, ?, ?, ?)
	`, seq, snap.Key, hash, snap.Data); err != nil {
		return 0, fmt.Errorf("save snapshot: append log: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (key, graph_hash, data, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			graph_hash = excluded.graph_hash,
			data = excluded.data,
			seq = excluded.seq
	`, snap.Key, hash, snap.Data, seq); err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("save snapshot: commit: %w", err)
	}
	return seq, nil
}

// Load returns the latest snapshot for key.
func (s *Store) Load(ctx context.Context, key string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, graph_hash, data, seq FROM snapshots WHERE key = ?
	`, key)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("load %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s: %w", key, err)
	}
	return snap, nil
}

// LoadAt returns the snapshot key was saved with at seq. It fails with
// ErrNotFound if that save belonged to another key.
func (s *Store) LoadAt(ctx context.Context, key string, seq int64) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, graph_hash, data, seq FROM snapshot_log WHERE key = ? AND seq = ?
	`, key, seq)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("load %s at %d: %w", key, seq, ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s at %d: %w", key, seq, err)
	}
	return snap, nil
}

// History returns every save of key, oldest first. Returns an empty slice
// (not nil) when key was never saved.
func (s *Store) History(ctx context.Context, key string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, graph_hash, data, seq
		FROM snapshot_log
		WHERE key = ?
		ORDER BY seq ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	history := []Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return history, nil
}

// Delete removes the latest snapshot for key. The log is kept.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List returns every key with a latest snapshot.
func (s *Store) List(ctx context.Context) ([]string, error) {
	return s.listKeys(ctx, `
		SELECT key FROM snapshots
		ORDER BY seq ASC, key COLLATE BINARY ASC
	`)
}

// ListByGraph returns the keys whose latest snapshot was taken against the
// graph with the given hash.
func (s *Store) ListByGraph(ctx context.Context, graphHash uint64) ([]string, error) {
	return s.listKeys(ctx, `
		SELECT key FROM snapshots
		WHERE graph_hash = ?
		ORDER BY seq ASC, key COLLATE BINARY ASC
	`, graph.FormatHash(graphHash))
}

func (s *Store) listKeys(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return keys, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (Snapshot, error) {
	var (
		snap Snapshot
		hash string
	)
	if err := row.Scan(&snap.Key, &hash, &snap.Data, &snap.Seq); err != nil {
		return Snapshot{}, err
	}
	h, err := parseHash(snap.Key, hash)
	if err != nil {
		return Snapshot{}, err
	}
	snap.GraphHash = h
	return snap, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes snapshots by graph hash for ListByGraph.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_snapshots_graph_hash
		ON snapshots(graph_hash)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
