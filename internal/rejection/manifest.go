// Package rejection maintains the rejected-tree audit trail: every rejected
// file is recorded in the store and idempotently re-exported to JSON and CSV
// sidecars inside the rejected root. Restoration runs through the
// transaction manager and removes the audit entry only after the restore
// commits.
package rejection

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"music-cleanup/internal/store"
	"music-cleanup/internal/txn"
	"music-cleanup/pkg/types"
)

const (
	manifestName = "rejected_manifest.json"
	analysisName = "rejection_analysis.csv"
)

// Manifest exports and restores rejection entries.
type Manifest struct {
	store        *store.Store
	logger       *logrus.Logger
	rejectedRoot string
}

// New builds a manifest over the given rejected root.
func New(s *store.Store, logger *logrus.Logger, rejectedRoot string) *Manifest {
	return &Manifest{store: s, logger: logger, rejectedRoot: rejectedRoot}
}

// Export rewrites both sidecars from the current audit trail. Re-running it
// with unchanged state produces identical files.
func (m *Manifest) Export(ctx context.Context) error {
	entries, err := m.store.AllRejections(ctx)
	if err != nil {
		return err
	}
	// Keep the canonical rejected layout present even when a category is
	// still empty.
	for _, sub := range []string{"", "duplicates", "low_quality", "corrupted"} {
		if err := os.MkdirAll(filepath.Join(m.rejectedRoot, sub), 0o755); err != nil {
			return err
		}
	}
	if err := m.exportJSON(entries); err != nil {
		return err
	}
	if err := m.exportCSV(entries); err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{
		"component": "rejection",
		"entries":   len(entries),
	}).Info("rejection manifest exported")
	return nil
}

func (m *Manifest) exportJSON(entries []*types.RejectionEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(m.rejectedRoot, manifestName), data)
}

func (m *Manifest) exportCSV(entries []*types.RejectionEntry) error {
	tmp := filepath.Join(m.rejectedRoot, analysisName+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	header := []string{"id", "file_id", "category", "chosen_file_id", "group_id",
		"original_path", "rejected_path", "reason", "quality_score", "content_hash", "rejected_at"}
	if err := w.Write(header); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	for _, e := range entries {
		row := []string{
			strconv.FormatInt(e.ID, 10),
			strconv.FormatInt(e.FileID, 10),
			string(e.Category),
			formatNullableID(e.ChosenFileID),
			formatNullableID(e.GroupID),
			e.OriginalPath,
			e.RejectedPath,
			e.ReasonText,
			fmt.Sprintf("%.1f", e.QualityScore),
			e.ContentHash,
			e.RejectedAt.Format("2006-01-02T15:04:05Z"),
		}
		if err := w.Write(row); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filepath.Join(m.rejectedRoot, analysisName))
}

// Restore moves a rejected file back to its original path through the
// transaction manager and deletes the audit entry on success. The file row
// returns to analyzed so a later run can re-evaluate it.
func (m *Manifest) Restore(ctx context.Context, mgr *txn.Manager, entryID int64) error {
	entry, err := m.store.RejectionByID(ctx, entryID)
	if err != nil {
		return err
	}

	t, err := mgr.Begin(ctx, fmt.Sprintf("restore rejection %d", entryID))
	if err != nil {
		return err
	}
	if err := t.StageRelocation(ctx, types.ActionMove, entry.FileID, entry.RejectedPath, entry.OriginalPath, entry.ContentHash); err != nil {
		t.Rollback(ctx)
		return err
	}
	if err := t.Commit(ctx); err != nil {
		return err
	}

	if err := m.store.UpdateFilePath(ctx, entry.FileID, entry.OriginalPath); err != nil {
		return err
	}
	if err := m.store.SetFileStatus(ctx, entry.FileID, types.StatusAnalyzed); err != nil {
		return err
	}
	if err := m.store.DeleteRejection(ctx, entryID); err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"component": "rejection",
		"entry":     entryID,
		"restored":  entry.OriginalPath,
	}).Info("rejected file restored")
	return m.Export(ctx)
}

func formatNullableID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
