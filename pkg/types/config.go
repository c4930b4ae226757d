// Package types - Configuration structures for all components
package types

import (
	"time"
)

// Config is the root configuration loaded from YAML and environment
// overrides. Defaults are applied by internal/config.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Filter    FilterConfig    `yaml:"corruption_filter"`
	Grouping  GroupingConfig  `yaml:"grouping"`
	Quality   QualityConfig   `yaml:"quality"`
	Organize  OrganizeConfig  `yaml:"organize"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json | text
}

// ServerConfig configures the optional HTTP status server.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig configures the OpenTelemetry exporter. Disabled by default.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// WorkspaceConfig locates the persistent state of a run.
type WorkspaceConfig struct {
	// Directory holds the store file, the lock file and archived legacy
	// stores.
	Directory string `yaml:"directory"`
	// StoreFile is the embedded store filename inside Directory.
	StoreFile string `yaml:"store_file"`
}

// DiscoveryConfig drives the file producer.
type DiscoveryConfig struct {
	SourceRoots         []string `yaml:"source_roots"`
	ProtectedRoots      []string `yaml:"protected_roots"`
	SupportedExtensions []string `yaml:"supported_extensions"`
	MinSizeBytes        int64    `yaml:"min_size_bytes"`
	MaxSizeBytes        int64    `yaml:"max_size_bytes"`
	// Watch keeps discovery running on filesystem events after the initial
	// walk completes.
	Watch bool `yaml:"watch"`
}

// AnalysisConfig drives the analyzer worker pool.
type AnalysisConfig struct {
	// HashAlgorithm selects the content hash: sha256 (default) or xxh64.
	HashAlgorithm        string        `yaml:"hash_algorithm"`
	EnableFingerprinting bool          `yaml:"enable_fingerprinting"`
	EnableServiceLookup  bool          `yaml:"enable_service_lookup"`
	// FilenamePatterns are tried in order against the base name when tags
	// are missing. Each pattern must expose named groups artist/title and
	// optionally year.
	FilenamePatterns []string `yaml:"filename_patterns"`
	// CallTimeout bounds every external fingerprinter/metadata call, in Go
	// duration format ("30s").
	CallTimeout       string `yaml:"call_timeout"`
	SampleDurationSec int    `yaml:"sample_duration_sec"`
}

// CallTimeoutDuration parses CallTimeout; zero means no timeout.
func (c AnalysisConfig) CallTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.CallTimeout)
	if err != nil {
		return 0
	}
	return d
}

// FilterConfig is the corruption-filter policy.
type FilterConfig struct {
	MinHealthScore  int      `yaml:"min_health_score"`
	CriticalDefects []string `yaml:"critical_defects"`
	MinDurationSec  float64  `yaml:"min_duration_sec"`
	MaxDurationSec  float64  `yaml:"max_duration_sec"`
	MaxClippingRatio float64 `yaml:"max_clipping_ratio"`
	MaxSilenceRatio  float64 `yaml:"max_silence_ratio"`
	// QuarantineCopy copies instead of moving files into the corrupted
	// subtree.
	QuarantineCopy bool `yaml:"quarantine_copy"`
	// AfterFingerprint reorders the filter phase to run after grouping
	// input is fingerprinted. The rules never change, only the ordering.
	AfterFingerprint bool `yaml:"filter_after_fingerprint"`
}

// GroupingConfig is the duplicate grouper policy.
type GroupingConfig struct {
	SimilarityThreshold float64 `yaml:"duplicate_similarity_threshold"`
	// DurationBucketSec is the coarse duration rounding used to bound the
	// pairwise fingerprint comparison.
	DurationBucketSec int `yaml:"duration_bucket_sec"`
}

// QualityConfig carries scoring weights and tie-break ordering.
type QualityConfig struct {
	Weights        QualityWeights `yaml:"quality_weights"`
	FormatPriority []string       `yaml:"format_priority"`
}

// QualityWeights are the component weights of the final score. They must sum
// to 1.
type QualityWeights struct {
	Technical float64 `yaml:"technical"`
	Fidelity  float64 `yaml:"fidelity"`
	Integrity float64 `yaml:"integrity"`
	Reference float64 `yaml:"reference"`
}

// ConflictPolicy decides what happens when a destination already exists.
type ConflictPolicy string

const (
	ConflictSkipIfSameHash ConflictPolicy = "skip_if_same_hash"
	ConflictRename         ConflictPolicy = "rename"
	ConflictFail           ConflictPolicy = "fail"
)

// DuplicateAction selects the operation kind used to place files.
type DuplicateAction string

const (
	ActionMove DuplicateAction = "move"
	ActionCopy DuplicateAction = "copy"
	ActionLink DuplicateAction = "link"
)

// OrganizeConfig drives destination layout and conflict handling.
type OrganizeConfig struct {
	TargetRoot   string `yaml:"target_root"`
	RejectedRoot string `yaml:"rejected_root"`
	// Pattern is the destination filename template. Placeholders: {year},
	// {artist}, {title}, {score}, {ext}.
	Pattern          string            `yaml:"organize_pattern"`
	MaxFilenameLen   int               `yaml:"max_filename_len"`
	HandleConflicts  ConflictPolicy    `yaml:"handle_conflicts"`
	DuplicateAction  DuplicateAction   `yaml:"duplicate_action"`
	GenreCategories  []GenreCategory   `yaml:"genre_categories"`
	WriteQualityTags bool              `yaml:"write_quality_tags"`
}

// GenreCategory maps a category folder to the keywords that select it.
// First match wins, in declaration order.
type GenreCategory struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// IntegrityLevel controls how much re-verification the transaction manager
// performs.
type IntegrityLevel string

const (
	IntegrityBasic    IntegrityLevel = "basic"
	IntegrityChecksum IntegrityLevel = "checksum"
	IntegrityDeep     IntegrityLevel = "deep"
	IntegrityParanoid IntegrityLevel = "paranoid"
)

// PipelineConfig sizes the orchestrator.
type PipelineConfig struct {
	BatchSize             int            `yaml:"batch_size"`
	MaxWorkers            int            `yaml:"max_workers"`
	MemoryLimitBytes      int64          `yaml:"memory_limit_bytes"`
	CheckpointIntervalSec int            `yaml:"checkpoint_interval_sec"`
	DryRun                bool           `yaml:"dry_run"`
	MaxTxnRetries         int            `yaml:"max_txn_retries"`
	IntegrityLevel        IntegrityLevel `yaml:"integrity_level"`
}
