package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"music-cleanup/pkg/types"

	"gopkg.in/yaml.v2"
)

// LoadConfig loads the configuration from a YAML file and applies defaults
// and MC_* environment overrides, in that order. The returned config has
// passed full validation.
func LoadConfig(configFile string) (*types.Config, error) {
	config := &types.Config{}

	if configFile != "" {
		if err := loadConfigFile(configFile, config); err != nil {
			return nil, err
		}
	}

	applyDefaults(config)
	applyEnvironmentOverrides(config)

	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// loadConfigFile loads configuration from a YAML file
func loadConfigFile(filename string, config *types.Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// applyDefaults fills in default values for everything the file left unset
func applyDefaults(config *types.Config) {
	// App defaults
	if config.App.Name == "" {
		config.App.Name = "music-cleanup"
	}
	if config.App.Version == "" {
		config.App.Version = "v0.3.0"
	}
	if config.App.LogLevel == "" {
		config.App.LogLevel = "info"
	}
	if config.App.LogFormat == "" {
		config.App.LogFormat = "text"
	}

	// Server defaults
	if config.Server.Host == "" {
		config.Server.Host = "127.0.0.1"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8402
	}

	// Metrics defaults
	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}
	if config.Metrics.Namespace == "" {
		config.Metrics.Namespace = "music_cleanup"
	}

	// Tracing defaults
	if config.Tracing.ServiceName == "" {
		config.Tracing.ServiceName = config.App.Name
	}
	if config.Tracing.SampleRatio == 0 {
		config.Tracing.SampleRatio = 0.1
	}

	// Workspace defaults
	if config.Workspace.Directory == "" {
		config.Workspace.Directory = "./workspace"
	}
	if config.Workspace.StoreFile == "" {
		config.Workspace.StoreFile = "music_cleanup.db"
	}

	// Discovery defaults
	if config.Discovery.SupportedExtensions == nil {
		config.Discovery.SupportedExtensions = []string{
			".mp3", ".flac", ".wav", ".m4a", ".aac", ".ogg", ".wma", ".alac", ".aiff",
		}
	}
	if config.Discovery.MinSizeBytes == 0 {
		config.Discovery.MinSizeBytes = 64 * 1024
	}
	if config.Discovery.MaxSizeBytes == 0 {
		config.Discovery.MaxSizeBytes = 2 * 1024 * 1024 * 1024
	}

	// Analysis defaults
	if config.Analysis.HashAlgorithm == "" {
		config.Analysis.HashAlgorithm = "sha256"
	}
	if config.Analysis.CallTimeout == "" {
		config.Analysis.CallTimeout = "30s"
	}
	if config.Analysis.SampleDurationSec == 0 {
		config.Analysis.SampleDurationSec = 30
	}
	if config.Analysis.FilenamePatterns == nil {
		// The year-prefixed pattern must be tried first or the year would be
		// captured as the artist.
		config.Analysis.FilenamePatterns = []string{
			`^(?P<year>\d{4})\s*-\s*(?P<artist>.+?)\s*-\s*(?P<title>.+)$`,
			`^(?P<artist>.+?)\s*-\s*(?P<title>.+)$`,
		}
	}

	// Corruption filter defaults
	if config.Filter.MinHealthScore == 0 {
		config.Filter.MinHealthScore = 50
	}
	if config.Filter.CriticalDefects == nil {
		config.Filter.CriticalDefects = []string{
			"header-corruption", "truncation", "complete-silence", "metadata-unreadable",
		}
	}
	if config.Filter.MinDurationSec == 0 {
		config.Filter.MinDurationSec = 10
	}
	if config.Filter.MaxDurationSec == 0 {
		config.Filter.MaxDurationSec = 3600
	}
	if config.Filter.MaxClippingRatio == 0 {
		config.Filter.MaxClippingRatio = 0.05
	}
	if config.Filter.MaxSilenceRatio == 0 {
		config.Filter.MaxSilenceRatio = 0.80
	}

	// Grouping defaults
	if config.Grouping.SimilarityThreshold == 0 {
		config.Grouping.SimilarityThreshold = 0.90
	}
	if config.Grouping.DurationBucketSec == 0 {
		config.Grouping.DurationBucketSec = 1
	}

	// Quality defaults
	if config.Quality.Weights == (types.QualityWeights{}) {
		config.Quality.Weights = types.QualityWeights{
			Technical: 0.25,
			Fidelity:  0.25,
			Integrity: 0.15,
			Reference: 0.35,
		}
	}
	if config.Quality.FormatPriority == nil {
		config.Quality.FormatPriority = []string{
			"flac", "wav", "alac", "aiff", "mp3", "ogg", "aac", "m4a", "wma",
		}
	}

	// Organize defaults
	if config.Organize.Pattern == "" {
		config.Organize.Pattern = "{year} - {artist} - {title} [QS{score}%].{ext}"
	}
	if config.Organize.MaxFilenameLen == 0 {
		config.Organize.MaxFilenameLen = 180
	}
	if config.Organize.HandleConflicts == "" {
		config.Organize.HandleConflicts = types.ConflictSkipIfSameHash
	}
	if config.Organize.DuplicateAction == "" {
		// Copy is the safe default: originals are never removed unless the
		// operator explicitly configures move.
		config.Organize.DuplicateAction = types.ActionCopy
	}
	if config.Organize.GenreCategories == nil {
		config.Organize.GenreCategories = []types.GenreCategory{
			{Name: "House", Keywords: []string{"house", "deep house", "tech house"}},
			{Name: "Techno", Keywords: []string{"techno", "minimal"}},
			{Name: "Rock", Keywords: []string{"rock", "punk", "grunge", "metal"}},
			{Name: "Pop", Keywords: []string{"pop", "synthpop", "dance"}},
			{Name: "Hip-Hop", Keywords: []string{"hip hop", "hip-hop", "rap"}},
			{Name: "Jazz", Keywords: []string{"jazz", "swing", "bebop"}},
			{Name: "Classical", Keywords: []string{"classical", "orchestra", "symphony"}},
			{Name: "Electronic", Keywords: []string{"electronic", "electro", "trance", "drum and bass", "dnb", "ambient"}},
		}
	}

	// Pipeline defaults
	if config.Pipeline.BatchSize == 0 {
		config.Pipeline.BatchSize = 200
	}
	if config.Pipeline.MaxWorkers == 0 {
		config.Pipeline.MaxWorkers = runtime.NumCPU()
		if config.Pipeline.MaxWorkers > 8 {
			config.Pipeline.MaxWorkers = 8
		}
	}
	if config.Pipeline.CheckpointIntervalSec == 0 {
		config.Pipeline.CheckpointIntervalSec = 30
	}
	if config.Pipeline.MaxTxnRetries == 0 {
		config.Pipeline.MaxTxnRetries = 3
	}
	if config.Pipeline.IntegrityLevel == "" {
		config.Pipeline.IntegrityLevel = types.IntegrityChecksum
	}
}

// applyEnvironmentOverrides applies MC_* environment variable overrides
func applyEnvironmentOverrides(config *types.Config) {
	config.App.LogLevel = getEnvString("MC_LOG_LEVEL", config.App.LogLevel)
	config.App.LogFormat = getEnvString("MC_LOG_FORMAT", config.App.LogFormat)

	config.Server.Enabled = getEnvBool("MC_SERVER_ENABLED", config.Server.Enabled)
	config.Server.Host = getEnvString("MC_SERVER_HOST", config.Server.Host)
	config.Server.Port = getEnvInt("MC_SERVER_PORT", config.Server.Port)

	config.Metrics.Enabled = getEnvBool("MC_METRICS_ENABLED", config.Metrics.Enabled)

	config.Tracing.Enabled = getEnvBool("MC_TRACING_ENABLED", config.Tracing.Enabled)
	config.Tracing.Endpoint = getEnvString("MC_TRACING_ENDPOINT", config.Tracing.Endpoint)

	config.Workspace.Directory = getEnvString("MC_WORKSPACE_DIR", config.Workspace.Directory)

	if roots := getEnvStringSlice("MC_SOURCE_ROOTS", nil); roots != nil {
		config.Discovery.SourceRoots = roots
	}
	if roots := getEnvStringSlice("MC_PROTECTED_ROOTS", nil); roots != nil {
		config.Discovery.ProtectedRoots = roots
	}

	config.Organize.TargetRoot = getEnvString("MC_TARGET_ROOT", config.Organize.TargetRoot)
	config.Organize.RejectedRoot = getEnvString("MC_REJECTED_ROOT", config.Organize.RejectedRoot)

	config.Pipeline.BatchSize = getEnvInt("MC_BATCH_SIZE", config.Pipeline.BatchSize)
	config.Pipeline.MaxWorkers = getEnvInt("MC_MAX_WORKERS", config.Pipeline.MaxWorkers)
	config.Pipeline.DryRun = getEnvBool("MC_DRY_RUN", config.Pipeline.DryRun)
}

// Environment helpers

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
