package store

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/osgate/releasehub/internal/model"
)

// ExtStore is the SQLite index over extension artifacts. It is a derived
// cache: every row set in it can be regenerated from the artifact store.
type ExtStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewExtStore opens (creating if needed) the extensions index database.
func NewExtStore(indexDir string, logger *zap.Logger) (*ExtStore, error) {
	dbPath := filepath.Join(indexDir, "extensions_index.sqlite")
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=30000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(model.ExtSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &ExtStore{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection
func (s *ExtStore) Close() error {
	return s.db.Close()
}

// ReplaceAll swaps the full row set for the freshly scanned one. The delete
// and the reinsert are two separate transactions: a reader between them
// observes an empty index. That window is part of the rebuild contract and
// must not be collapsed silently.
func (s *ExtStore) ReplaceAll(rows []model.ExtensionRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM extensions`); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear extensions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	if len(rows) > 0 {
		tx, err = s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin insert: %w", err)
		}
		stmt, err := tx.Prepare(`
			INSERT INTO extensions (namespace, name, version, target_platform, dir_path, published_ts)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		for _, r := range rows {
			if _, err := stmt.Exec(r.Namespace, r.Name, r.Version, r.TargetPlatform, r.DirPath, r.PublishedAt); err != nil {
				stmt.Close()
				tx.Rollback()
				return fmt.Errorf("failed to insert record: %w", err)
			}
		}
		stmt.Close()
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit insert: %w", err)
		}
	}

	if _, err := s.db.Exec(model.ExtIndexes); err != nil {
		return fmt.Errorf("failed to rebuild indexes: %w", err)
	}
	return nil
}

// ListPairs returns distinct (namespace, name) pairs, optionally filtered by
// a case-insensitive substring match on "namespace.name", ordered
// lexicographically.
func (s *ExtStore) ListPairs(search string) ([][2]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if search != "" {
		rows, err = s.db.Query(`
			SELECT DISTINCT namespace, name
			FROM extensions
			WHERE (namespace || '.' || name) LIKE ?
			ORDER BY namespace, name
		`, "%"+search+"%")
	} else {
		rows, err = s.db.Query(`
			SELECT DISTINCT namespace, name
			FROM extensions
			ORDER BY namespace, name
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pairs: %w", err)
	}
	defer rows.Close()

	var out [][2]string
	for rows.Next() {
		var ns, name string
		if err := rows.Scan(&ns, &name); err != nil {
			return nil, fmt.Errorf("failed to scan pair: %w", err)
		}
		out = append(out, [2]string{ns, name})
	}
	return out, rows.Err()
}

// ListRecords returns every row for an extension, unordered. Callers sort by
// version key.
func (s *ExtStore) ListRecords(namespace, name string) ([]model.ExtensionRecord, error) {
	rows, err := s.db.Query(`
		SELECT namespace, name, version, target_platform, dir_path, published_ts
		FROM extensions
		WHERE namespace = ? AND name = ?
	`, namespace, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []model.ExtensionRecord
	for rows.Next() {
		var r model.ExtensionRecord
		if err := rows.Scan(&r.Namespace, &r.Name, &r.Version, &r.TargetPlatform, &r.DirPath, &r.PublishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
