// Package types defines the core data structures and interfaces shared by the
// music-cleanup pipeline.
//
// This package provides:
//   - File and its analysis artifacts (Fingerprint, Metadata, QualityAnalysis)
//   - Duplicate grouping records (DuplicateGroup, DuplicateMember)
//   - The filesystem operation log records (FileOperation, Transaction)
//   - Checkpoint, RejectionEntry, OrganizationTarget and ReviewQueueEntry
//   - Interface definitions for the external audio collaborators
//   - Configuration structures for all components
//
// The records in this package mirror the unified store schema one to one; the
// store is the single source of truth and in-memory values are snapshots of
// rows. All timestamps are wall-clock with second resolution.
package types

import (
	"time"
)

// FileStatus tracks a file through the pipeline phases.
type FileStatus string

const (
	StatusDiscovered  FileStatus = "discovered"
	StatusAnalyzed    FileStatus = "analyzed"
	StatusHealthy     FileStatus = "healthy"
	StatusQuarantined FileStatus = "quarantined"
	StatusOrganized   FileStatus = "organized"
	StatusRejected    FileStatus = "rejected"
	StatusFailed      FileStatus = "failed"
)

// File is the central record of the pipeline. One row per absolute path.
type File struct {
	ID            int64      `json:"id"`
	AbsolutePath  string     `json:"absolute_path"`
	ContentHash   string     `json:"content_hash,omitempty"`
	SizeBytes     int64      `json:"size_bytes"`
	ModifiedTime  time.Time  `json:"modified_time"`
	FingerprintID *int64     `json:"fingerprint_id,omitempty"`
	MetadataID    *int64     `json:"metadata_id,omitempty"`
	QualityScore  *float64   `json:"quality_score,omitempty"`
	Status        FileStatus `json:"status"`
	ErrorKind     string     `json:"error_kind,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Fingerprint is content-addressed by the fingerprint string and shared by
// every file that produced it.
type Fingerprint struct {
	ID           int64   `json:"id"`
	Fingerprint  string  `json:"fingerprint"`
	DurationSec  float64 `json:"duration_sec"`
	SampleRateHz int     `json:"sample_rate_hz"`
	BitDepth     int     `json:"bit_depth,omitempty"`
	Channels     int     `json:"channels"`
	Codec        string  `json:"codec"`
	BitrateKbps  int     `json:"bitrate_kbps"`
}

// MetadataSource records where a metadata row came from.
type MetadataSource string

const (
	MetadataSourceTag      MetadataSource = "tag"
	MetadataSourceService  MetadataSource = "service"
	MetadataSourceFilename MetadataSource = "filename-parse"
)

// Metadata holds tag-level facts about a recording. Rows are deduplicated by
// content and shared across files.
type Metadata struct {
	ID          int64          `json:"id"`
	Artist      string         `json:"artist,omitempty"`
	Title       string         `json:"title,omitempty"`
	Album       string         `json:"album,omitempty"`
	Year        int            `json:"year,omitempty"`
	Genre       string         `json:"genre,omitempty"`
	TrackNumber int            `json:"track_number,omitempty"`
	DiscNumber  int            `json:"disc_number,omitempty"`
	Source      MetadataSource `json:"source"`
}

// Grade is the letter grade derived from the final quality score.
type Grade string

// RecommendedAction is the analyzer's verdict for a file.
type RecommendedAction string

const (
	ActionKeep            RecommendedAction = "keep"
	ActionReplace         RecommendedAction = "replace"
	ActionQuarantine      RecommendedAction = "quarantine"
	ActionDeleteDuplicate RecommendedAction = "delete_duplicate"
)

// QualityAnalysis stores the scoring breakdown for one file. All sub-scores
// are in [0,100]; FinalScore is the weighted sum rounded to one decimal.
type QualityAnalysis struct {
	ID                int64             `json:"id"`
	FileID            int64             `json:"file_id"`
	TechnicalScore    float64           `json:"technical_score"`
	AudioFidelity     float64           `json:"audio_fidelity_score"`
	IntegrityScore    float64           `json:"integrity_score"`
	ReferenceScore    *float64          `json:"reference_score,omitempty"`
	FinalScore        float64           `json:"final_score"`
	Grade             Grade             `json:"grade"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
	Defects           []string          `json:"defects,omitempty"`
	HealthScore       int               `json:"health_score"`
	ClippingRatio     float64           `json:"clipping_ratio"` // -1 when not reported
	SilenceRatio      float64           `json:"silence_ratio"`  // -1 when not reported
}

// GroupKeyKind distinguishes exact-hash groups from acoustic groups.
type GroupKeyKind string

const (
	GroupKeyHash        GroupKeyKind = "hash"
	GroupKeyFingerprint GroupKeyKind = "fingerprint"
)

// DuplicateGroup is an equivalence class of files. Exactly one member is the
// primary, and the primary maximizes FinalScore under the total tie-break.
type DuplicateGroup struct {
	ID            int64        `json:"id"`
	KeyKind       GroupKeyKind `json:"key_kind"`
	KeyValue      string       `json:"key_value"`
	PrimaryFileID int64        `json:"primary_file_id"`
	Size          int          `json:"size"`
}

// DuplicateMember links a file into a group.
type DuplicateMember struct {
	ID         int64   `json:"id"`
	GroupID    int64   `json:"group_id"`
	FileID     int64   `json:"file_id"`
	IsPrimary  bool    `json:"is_primary"`
	Similarity float64 `json:"similarity"`
}

// OperationKind enumerates the staged filesystem mutations.
type OperationKind string

const (
	OpCopy      OperationKind = "copy"
	OpMove      OperationKind = "move"
	OpLink      OperationKind = "link"
	OpWriteTag  OperationKind = "write-tag"
	OpCreateDir OperationKind = "create-dir"
	OpRename    OperationKind = "rename"
	// OpRemoveSource is the staged second half of a move; it only runs after
	// the copy has been hash-verified.
	OpRemoveSource OperationKind = "remove-source"
)

// OperationStatus is the life of a staged operation.
type OperationStatus string

const (
	OpPending    OperationStatus = "pending"
	OpPerformed  OperationStatus = "performed"
	OpCommitted  OperationStatus = "committed"
	OpRolledBack OperationStatus = "rolled-back"
	OpFailed     OperationStatus = "failed"
)

// FileOperation is one intended filesystem mutation inside a transaction.
// Rows are appended before anything touches the disk.
type FileOperation struct {
	ID              int64           `json:"id"`
	FileID          *int64          `json:"file_id,omitempty"`
	TransactionID   int64           `json:"transaction_id"`
	Kind            OperationKind   `json:"kind"`
	SourcePath      string          `json:"source_path"`
	DestinationPath string          `json:"destination_path,omitempty"`
	SourceHash      string          `json:"source_hash,omitempty"`
	Status          OperationStatus `json:"status"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	Error           string          `json:"error,omitempty"`
	Seq             int             `json:"seq"`
	// Payload carries kind-specific data, e.g. the tag map of a write-tag
	// operation, encoded as JSON.
	Payload string `json:"payload,omitempty"`
}

// TxnStatus is the transaction state machine. Transactions are never
// reopened once they leave the open state.
type TxnStatus string

const (
	TxnOpen        TxnStatus = "open"
	TxnCommitting  TxnStatus = "committing"
	TxnCommitted   TxnStatus = "committed"
	TxnRollingBack TxnStatus = "rolling-back"
	TxnRolledBack  TxnStatus = "rolled-back"
)

// Transaction groups file operations that commit or roll back as one.
type Transaction struct {
	ID          int64      `json:"id"`
	UUID        string     `json:"uuid"`
	Status      TxnStatus  `json:"status"`
	Reason      string     `json:"reason"`
	CreatedAt   time.Time  `json:"created_at"`
	CommittedAt *time.Time `json:"committed_at,omitempty"`
}

// Checkpoint snapshots pipeline progress. Recovery always resumes from the
// checkpoint with the maximum id.
type Checkpoint struct {
	ID                 int64            `json:"id"`
	RunID              string           `json:"run_id"`
	Phase              string           `json:"phase"`
	LastBatchID        int64            `json:"last_batch_id"`
	Counters           map[string]int64 `json:"counters"`
	OpenTransactionIDs []int64          `json:"open_transaction_ids"`
	CreatedAt          time.Time        `json:"created_at"`
}

// RejectionCategory classifies why a file was kept out of the organized tree.
type RejectionCategory string

const (
	RejectDuplicate       RejectionCategory = "duplicate"
	RejectLowQuality      RejectionCategory = "low_quality"
	RejectCorrupted       RejectionCategory = "corrupted"
	RejectUnsupported     RejectionCategory = "unsupported"
	RejectInvalidMetadata RejectionCategory = "invalid_metadata"
	RejectError           RejectionCategory = "error"
)

// RejectionEntry is one line of the append-only rejection audit trail.
type RejectionEntry struct {
	ID           int64             `json:"id"`
	FileID       int64             `json:"file_id"`
	Category     RejectionCategory `json:"category"`
	ChosenFileID *int64            `json:"chosen_file_id,omitempty"`
	GroupID      *int64            `json:"group_id,omitempty"`
	OriginalPath string            `json:"original_path"`
	RejectedPath string            `json:"rejected_path"`
	ReasonText   string            `json:"reason_text"`
	QualityScore float64           `json:"quality_score"`
	ContentHash  string            `json:"content_hash"`
	RejectedAt   time.Time         `json:"rejected_at"`
}

// OrganizationTarget records where a primary landed and which pattern built
// the path.
type OrganizationTarget struct {
	ID          int64  `json:"id"`
	FileID      int64  `json:"file_id"`
	Genre       string `json:"genre"`
	Decade      string `json:"decade"`
	FinalPath   string `json:"final_path"`
	PatternUsed string `json:"pattern_used"`
}

// ReviewReason says why a file needs operator attention instead of an
// Unknown output folder.
type ReviewReason string

const (
	ReviewUnknownGenre       ReviewReason = "unknown_genre"
	ReviewMissingYear        ReviewReason = "missing_year"
	ReviewMissingArtistTitle ReviewReason = "missing_artist_title"
)

// ReviewQueueEntry parks a file for the reporting layer to surface.
type ReviewQueueEntry struct {
	ID        int64        `json:"id"`
	FileID    int64        `json:"file_id"`
	Reason    ReviewReason `json:"reason"`
	Details   string       `json:"details,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Phase names used by the orchestrator and checkpoints.
const (
	PhaseDiscovery    = "discovery"
	PhaseAnalysis     = "analysis"
	PhaseFilter       = "corruption-filter"
	PhaseGrouping     = "grouping"
	PhaseOrganization = "organization"
	PhaseDone         = "done"
)

// PipelineCounters is the running tally carried into checkpoints and the
// status endpoint.
type PipelineCounters struct {
	Discovered  int64 `json:"discovered"`
	Analyzed    int64 `json:"analyzed"`
	Failed      int64 `json:"failed"`
	Healthy     int64 `json:"healthy"`
	Quarantined int64 `json:"quarantined"`
	Grouped     int64 `json:"grouped"`
	Organized   int64 `json:"organized"`
	Rejected    int64 `json:"rejected"`
	NeedsReview int64 `json:"needs_review"`
}

// Map flattens the counters for checkpoint storage.
func (c PipelineCounters) Map() map[string]int64 {
	return map[string]int64{
		"discovered":   c.Discovered,
		"analyzed":     c.Analyzed,
		"failed":       c.Failed,
		"healthy":      c.Healthy,
		"quarantined":  c.Quarantined,
		"grouped":      c.Grouped,
		"organized":    c.Organized,
		"rejected":     c.Rejected,
		"needs_review": c.NeedsReview,
	}
}

// CountersFromMap rebuilds the tally from a checkpoint row.
func CountersFromMap(m map[string]int64) PipelineCounters {
	return PipelineCounters{
		Discovered:  m["discovered"],
		Analyzed:    m["analyzed"],
		Failed:      m["failed"],
		Healthy:     m["healthy"],
		Quarantined: m["quarantined"],
		Grouped:     m["grouped"],
		Organized:   m["organized"],
		Rejected:    m["rejected"],
		NeedsReview: m["needs_review"],
	}
}
