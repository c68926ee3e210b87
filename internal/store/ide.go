package store

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/osgate/releasehub/internal/model"
)

// IdeStore is the SQLite index over IDE build artifacts, one row per
// (project, version, platform). Invalid rows are kept with a reason code but
// never served.
type IdeStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIdeStore opens (creating if needed) the IDE index database.
func NewIdeStore(indexDir string, logger *zap.Logger) (*IdeStore, error) {
	dbPath := filepath.Join(indexDir, "ide_index.sqlite")
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=30000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(model.IdeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &IdeStore{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection
func (s *IdeStore) Close() error {
	return s.db.Close()
}

// ReplaceAll swaps the full row set for the freshly scanned one, with the
// same two-transaction delete/reinsert contract as the extensions index.
func (s *IdeStore) ReplaceAll(rows []model.IdeArtifact) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM ide_platforms`); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear ide_platforms: %w", err)
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
			INSERT INTO ide_platforms (
				project, version, platform,
				meta_rel_path, binary_rel_path,
				published_ts, is_latest, is_valid, invalid_reason
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		for _, r := range rows {
			reason := sql.NullString{String: r.InvalidReason, Valid: r.InvalidReason != ""}
			if _, err := stmt.Exec(
				r.Project, r.Version, r.Platform,
				r.MetaRelPath, r.BinaryRelPath,
				r.PublishedAt, boolToInt(r.IsLatest), boolToInt(r.IsValid), reason,
			); err != nil {
				stmt.Close()
				tx.Rollback()
				return fmt.Errorf("failed to insert artifact: %w", err)
			}
		}
		stmt.Close()
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit insert: %w", err)
		}
	}

	if _, err := s.db.Exec(model.IdeIndexes); err != nil {
		return fmt.Errorf("failed to rebuild indexes: %w", err)
	}
	return nil
}

// ListVersions returns the versions of a project that have at least one
// valid platform artifact, newest version first. published_ts is the max
// over the version's valid rows; is_latest is the snapshot taken at scan
// time.
func (s *IdeStore) ListVersions(project string) ([]model.IdeVersion, error) {
	rows, err := s.db.Query(`
		SELECT
			version,
			MAX(published_ts) AS published_ts,
			MAX(is_latest) AS is_latest
		FROM ide_platforms
		WHERE project = ? AND is_valid = 1
		GROUP BY version
		ORDER BY version DESC
	`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var out []model.IdeVersion
	for rows.Next() {
		var (
			v        model.IdeVersion
			isLatest int
		)
		if err := rows.Scan(&v.Version, &v.PublishedAt, &isLatest); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		v.IsLatest = isLatest != 0
		out = append(out, v)
	}
	return out, rows.Err()
}

// PickLatestAsset returns the binary path for the stable latest build of a
// project on exactly the given platform. There is no universal fallback: a
// platform with no indexed latest build is a miss.
func (s *IdeStore) PickLatestAsset(project, platform string) (string, string, error) {
	var rel string
	err := s.db.QueryRow(`
		SELECT binary_rel_path
		FROM ide_platforms
		WHERE project = ? AND platform = ? AND is_latest = 1 AND is_valid = 1
		LIMIT 1
	`, project, platform).Scan(&rel)
	if err == sql.ErrNoRows {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to pick latest asset: %w", err)
	}
	return rel, filepath.Base(rel), nil
}

// ListInvalid returns the rows that failed validation, for observability.
func (s *IdeStore) ListInvalid(project string) ([]model.IdeArtifact, error) {
	rows, err := s.db.Query(`
		SELECT project, version, platform, meta_rel_path, binary_rel_path,
		       published_ts, is_latest, is_valid, invalid_reason
		FROM ide_platforms
		WHERE project = ? AND is_valid = 0
		ORDER BY version DESC, platform
	`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to query invalid rows: %w", err)
	}
	defer rows.Close()

	var out []model.IdeArtifact
	for rows.Next() {
		var (
			a                 model.IdeArtifact
			isLatest, isValid int
			reason            sql.NullString
		)
		if err := rows.Scan(&a.Project, &a.Version, &a.Platform, &a.MetaRelPath, &a.BinaryRelPath,
			&a.PublishedAt, &isLatest, &isValid, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		a.IsLatest = isLatest != 0
		a.IsValid = isValid != 0
		a.InvalidReason = reason.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
