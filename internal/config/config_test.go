package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"music-cleanup/pkg/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
discovery:
  source_roots: ["/music/in"]
organize:
  target_root: "/music/organized"
  rejected_root: "/music/rejected"
`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "music-cleanup", cfg.App.Name)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "music_cleanup.db", cfg.Workspace.StoreFile)
	assert.Equal(t, "sha256", cfg.Analysis.HashAlgorithm)
	assert.Equal(t, 50, cfg.Filter.MinHealthScore)
	assert.Equal(t, 0.90, cfg.Grouping.SimilarityThreshold)
	assert.Equal(t, 0.35, cfg.Quality.Weights.Reference)
	assert.Equal(t, types.ConflictSkipIfSameHash, cfg.Organize.HandleConflicts)
	// Copy-only is the safe default: originals are never removed.
	assert.Equal(t, types.ActionCopy, cfg.Organize.DuplicateAction)
	assert.Equal(t, 200, cfg.Pipeline.BatchSize)
	assert.LessOrEqual(t, cfg.Pipeline.MaxWorkers, 8)
	assert.Contains(t, cfg.Discovery.SupportedExtensions, ".flac")
}

func TestLoadConfigRejectsMissingRoots(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
discovery:
  source_roots: ["/music/in"]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target_root")
}

func TestLoadConfigRejectsRelativeRoots(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
discovery:
  source_roots: ["relative/path"]
organize:
  target_root: "/music/organized"
  rejected_root: "/music/rejected"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absolute")
}

func TestLoadConfigRejectsTargetUnderProtectedRoot(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
discovery:
  source_roots: ["/music/in"]
  protected_roots: ["/music"]
organize:
  target_root: "/music/organized"
  rejected_root: "/music/rejected"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protected")
}

func TestLoadConfigRejectsBadWeights(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, minimalConfig+`
quality:
  quality_weights:
    technical: 0.5
    fidelity: 0.5
    integrity: 0.5
    reference: 0.5
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestLoadConfigRejectsBadThreshold(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, minimalConfig+`
grouping:
  duplicate_similarity_threshold: 1.5
`))
	require.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("MC_BATCH_SIZE", "42")
	t.Setenv("MC_DRY_RUN", "true")
	t.Setenv("MC_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Pipeline.BatchSize)
	assert.True(t, cfg.Pipeline.DryRun)
	assert.Equal(t, "debug", cfg.App.LogLevel)
}

func TestInvalidFilenamePatternRejected(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, minimalConfig+`
analysis:
  filename_patterns: ["([unclosed"]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pattern")
}

func TestValidateConfigCollectsAllErrors(t *testing.T) {
	cfg := &types.Config{}
	applyDefaults(cfg)
	cfg.App.LogLevel = "bogus"
	cfg.Pipeline.BatchSize = -1
	cfg.Organize.TargetRoot = ""
	cfg.Organize.RejectedRoot = "/r"

	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
	assert.Contains(t, err.Error(), "batch size")
}
