package prefix

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DefaultDBName is the database file kept inside the repository's .git
// directory, where it is never committed.
const DefaultDBName = "o324/prefix.db"

// SQLiteStore persists trie nodes in an embedded SQLite database.
//
// The database runs with WAL so the daemon and CLI processes can read
// while one of them writes.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

var _ NodeStore = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the node database at path.
//
// The caller MUST call Close() when done so the WAL is checkpointed.
//
// Example:
//
//	store, err := prefix.OpenSQLite(filepath.Join(gitDir, prefix.DefaultDBName))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func OpenSQLite(path string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection
	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=synchronous(normal)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLiteStore{conn: conn, path: path}
	if err := s.InitSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// InitSchema creates the node table. It is idempotent.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS prefix_trie_nodes (
		prefix TEXT PRIMARY KEY,
		is_unique INTEGER NOT NULL,
		is_end_of_id INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_prefix_trie_nodes_end
	    ON prefix_trie_nodes(is_end_of_id) WHERE is_end_of_id = 1;
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadNodes(ctx context.Context) ([]Node, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT prefix, is_unique, is_end_of_id FROM prefix_trie_nodes ORDER BY prefix`)
	if err != nil {
		return nil, fmt.Errorf("failed to query prefix nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.Prefix, &n.IsUnique, &n.IsEndOfID); err != nil {
			return nil, fmt.Errorf("failed to scan prefix node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prefix nodes: %w", err)
	}
	return nodes, nil
}

func (s *SQLiteStore) SaveNodes(ctx context.Context, upserts []Node, deletes []string) error {
	if len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteNodes(ctx, tx, deletes); err != nil {
		return err
	}
	if err := upsertNodes(ctx, tx, upserts); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit prefix nodes: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReplaceAll(ctx context.Context, nodes []Node) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM prefix_trie_nodes"); err != nil {
		return fmt.Errorf("failed to clear prefix nodes: %w", err)
	}
	if err := upsertNodes(ctx, tx, nodes); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit prefix nodes: %w", err)
	}
	return nil
}

func deleteNodes(ctx context.Context, tx *sql.Tx, prefixes []string) error {
	if len(prefixes) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM prefix_trie_nodes WHERE prefix = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, p := range prefixes {
		if _, err := stmt.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to delete prefix node %s: %w", p, err)
		}
	}
	return nil
}

func upsertNodes(ctx context.Context, tx *sql.Tx, nodes []Node) error {
	if len(nodes) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO prefix_trie_nodes (prefix, is_unique, is_end_of_id)
	VALUES (?, ?, ?)
	ON CONFLICT(prefix) DO UPDATE SET
		is_unique = excluded.is_unique,
		is_end_of_id = excluded.is_end_of_id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		if _, err := stmt.ExecContext(ctx, n.Prefix, n.IsUnique, n.IsEndOfID); err != nil {
			return fmt.Errorf("failed to upsert prefix node %s: %w", n.Prefix, err)
		}
	}
	return nil
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *SQLiteStore) Close() error {
	if s.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}
