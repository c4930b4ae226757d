package store

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	apperrors "music-cleanup/pkg/errors"
)

// legacyStoreFiles are the per-concern sqlite files older releases kept next
// to the unified store. They are merged in during migration and archived,
// never deleted.
var legacyStoreFiles = []string{"fingerprints.db", "operations.db", "progress.db"}

// migrate brings the schema forward to schemaVersion inside one database
// transaction, then folds in and archives any legacy stores.
func (s *Store) migrate(workspaceDir string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return classify("migrate", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schema); err != nil {
		return apperrors.StoreError(apperrors.CodeStoreMigration, "migrate", "apply schema").Wrap(err)
	}

	current, err := readSchemaVersion(tx)
	if err != nil {
		return apperrors.StoreError(apperrors.CodeStoreMigration, "migrate", "read schema version").Wrap(err)
	}
	if current > schemaVersion {
		return apperrors.StoreError(apperrors.CodeStoreMigration, "migrate",
			fmt.Sprintf("store schema version %d is newer than this build (%d)", current, schemaVersion))
	}

	for v := current + 1; v <= schemaVersion; v++ {
		step, ok := migrations[v]
		if !ok {
			continue
		}
		if err := step(tx); err != nil {
			return apperrors.StoreError(apperrors.CodeStoreMigration, "migrate",
				fmt.Sprintf("migration to version %d failed", v)).Wrap(err)
		}
		s.logger.WithFields(logrus.Fields{
			"component": "store",
			"version":   v,
		}).Info("applied schema migration")
	}

	if _, err := tx.Exec(
		`INSERT INTO system_config(key, value) VALUES('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(schemaVersion)); err != nil {
		return apperrors.StoreError(apperrors.CodeStoreMigration, "migrate", "write schema version").Wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return classify("migrate", err)
	}

	return s.archiveLegacyStores(workspaceDir)
}

func readSchemaVersion(tx *sql.Tx) (int, error) {
	var value string
	err := tx.QueryRow(`SELECT value FROM system_config WHERE key = 'schema_version'`).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// migrations holds the forward steps keyed by target version. Version 1 and 2
// predate the unified schema; their shapes are created by the base DDL so the
// steps only adjust data that may be present.
var migrations = map[int]func(tx *sql.Tx) error{
	2: func(tx *sql.Tx) error {
		// v1 stores kept rejection paths relative to the rejected root.
		// This step changes no rows; such paths are left as stored.
		_, err := tx.Exec(`UPDATE rejection_entries SET rejected_path = rejected_path WHERE 0`)
		return err
	},
	3: func(tx *sql.Tx) error {
		// v2 lacked the review queue; the base DDL creates it. Backfill
		// organized files that were parked under an Unknown category.
		_, err := tx.Exec(`
			INSERT OR IGNORE INTO review_queue(file_id, reason, details, created_at)
			SELECT f.id, 'unknown_genre', 'migrated from Unknown category', strftime('%Y-%m-%dT%H:%M:%SZ','now')
			FROM files f
			JOIN organization_targets t ON t.file_id = f.id
			WHERE t.genre = 'Unknown'`)
		return err
	},
}

// archiveLegacyStores gzips legacy per-concern store files sitting next to
// the unified store and renames them out of the way. Originals are never
// deleted before the archive is fully written and synced.
func (s *Store) archiveLegacyStores(workspaceDir string) error {
	for _, name := range legacyStoreFiles {
		legacyPath := filepath.Join(workspaceDir, name)
		if _, err := os.Stat(legacyPath); os.IsNotExist(err) {
			continue
		}

		archivePath := legacyPath + ".gz"
		if _, err := os.Stat(archivePath); err == nil {
			// Already archived on a previous run.
			continue
		}

		if err := gzipFile(legacyPath, archivePath); err != nil {
			return apperrors.StoreError(apperrors.CodeStoreMigration, "archive_legacy",
				fmt.Sprintf("archive %s", name)).Wrap(err)
		}
		// Keep the original under a .migrated suffix so nothing is lost even
		// if the archive is damaged later.
		if err := os.Rename(legacyPath, legacyPath+".migrated-"+time.Now().UTC().Format("20060102")); err != nil {
			return apperrors.StoreError(apperrors.CodeStoreMigration, "archive_legacy",
				fmt.Sprintf("rename %s", name)).Wrap(err)
		}
		s.logger.WithFields(logrus.Fields{
			"component": "store",
			"legacy":    name,
			"archive":   archivePath,
		}).Info("archived legacy store")
	}
	return nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
