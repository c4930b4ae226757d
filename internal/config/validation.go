package config

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"music-cleanup/pkg/errors"
	"music-cleanup/pkg/types"
)

// ValidateConfig performs comprehensive configuration validation
func ValidateConfig(config *types.Config) error {
	validator := &ConfigValidator{config: config}
	return validator.Validate()
}

// ConfigValidator collects all validation failures before reporting
type ConfigValidator struct {
	config *types.Config
	errors []error
}

// Validate runs every check and returns a compound error on failure
func (v *ConfigValidator) Validate() error {
	v.validateApp()
	v.validateServer()
	v.validateRoots()
	v.validateDiscovery()
	v.validateAnalysis()
	v.validateFilter()
	v.validateGrouping()
	v.validateQuality()
	v.validateOrganize()
	v.validatePipeline()

	if len(v.errors) > 0 {
		return v.buildValidationError()
	}
	return nil
}

func (v *ConfigValidator) addError(component, operation, message string) {
	err := errors.ConfigError(operation, message).WithMetadata("component", component)
	v.errors = append(v.errors, err)
}

func (v *ConfigValidator) validateApp() {
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[v.config.App.LogLevel] {
		v.addError("app", "validate_log_level", fmt.Sprintf("invalid log level: %s", v.config.App.LogLevel))
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[v.config.App.LogFormat] {
		v.addError("app", "validate_log_format", fmt.Sprintf("invalid log format: %s", v.config.App.LogFormat))
	}
}

func (v *ConfigValidator) validateServer() {
	if v.config.Server.Enabled {
		if v.config.Server.Port <= 0 || v.config.Server.Port > 65535 {
			v.addError("server", "validate_port", fmt.Sprintf("invalid server port: %d", v.config.Server.Port))
		}
		if v.config.Server.Host == "" {
			v.addError("server", "validate_host", "server host cannot be empty when enabled")
		}
	}
}

func (v *ConfigValidator) validateRoots() {
	if len(v.config.Discovery.SourceRoots) == 0 {
		v.addError("discovery", "validate_source_roots", "at least one source root is required")
	}
	for _, root := range v.config.Discovery.SourceRoots {
		if !filepath.IsAbs(root) {
			v.addError("discovery", "validate_source_roots", fmt.Sprintf("source root must be absolute path: %s", root))
		}
	}
	for _, root := range v.config.Discovery.ProtectedRoots {
		if !filepath.IsAbs(root) {
			v.addError("discovery", "validate_protected_roots", fmt.Sprintf("protected root must be absolute path: %s", root))
		}
	}

	if v.config.Organize.TargetRoot == "" {
		v.addError("organize", "validate_target_root", "target_root is required")
	} else if !filepath.IsAbs(v.config.Organize.TargetRoot) {
		v.addError("organize", "validate_target_root", "target_root must be absolute path")
	}
	if v.config.Organize.RejectedRoot == "" {
		v.addError("organize", "validate_rejected_root", "rejected_root is required")
	} else if !filepath.IsAbs(v.config.Organize.RejectedRoot) {
		v.addError("organize", "validate_rejected_root", "rejected_root must be absolute path")
	}

	// The target and rejected trees must never fall under a protected root:
	// the transaction manager is the sole writer there.
	for _, root := range v.config.Discovery.ProtectedRoots {
		if v.config.Organize.TargetRoot != "" && strings.HasPrefix(v.config.Organize.TargetRoot, root) {
			v.addError("organize", "validate_target_root", fmt.Sprintf("target_root is under protected root %s", root))
		}
		if v.config.Organize.RejectedRoot != "" && strings.HasPrefix(v.config.Organize.RejectedRoot, root) {
			v.addError("organize", "validate_rejected_root", fmt.Sprintf("rejected_root is under protected root %s", root))
		}
	}
}

func (v *ConfigValidator) validateDiscovery() {
	if v.config.Discovery.MinSizeBytes < 0 {
		v.addError("discovery", "validate_min_size", "min_size_bytes must be non-negative")
	}
	if v.config.Discovery.MaxSizeBytes < v.config.Discovery.MinSizeBytes {
		v.addError("discovery", "validate_max_size", "max_size_bytes must be >= min_size_bytes")
	}
	for _, ext := range v.config.Discovery.SupportedExtensions {
		if !strings.HasPrefix(ext, ".") {
			v.addError("discovery", "validate_extensions", fmt.Sprintf("extension must start with a dot: %s", ext))
		}
	}
}

func (v *ConfigValidator) validateAnalysis() {
	validHashes := map[string]bool{"sha256": true, "xxh64": true}
	if !validHashes[v.config.Analysis.HashAlgorithm] {
		v.addError("analysis", "validate_hash_algorithm", fmt.Sprintf("invalid hash algorithm: %s", v.config.Analysis.HashAlgorithm))
	}
	for _, pattern := range v.config.Analysis.FilenamePatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			v.addError("analysis", "validate_filename_patterns", fmt.Sprintf("invalid pattern %q: %v", pattern, err))
		}
	}
	if v.config.Analysis.CallTimeout != "" {
		if _, err := time.ParseDuration(v.config.Analysis.CallTimeout); err != nil {
			v.addError("analysis", "validate_call_timeout", fmt.Sprintf("invalid call_timeout: %s", v.config.Analysis.CallTimeout))
		}
	}
}

func (v *ConfigValidator) validateFilter() {
	if v.config.Filter.MinHealthScore < 0 || v.config.Filter.MinHealthScore > 100 {
		v.addError("corruption_filter", "validate_min_health", "min_health_score must be in [0,100]")
	}
	if v.config.Filter.MinDurationSec < 0 {
		v.addError("corruption_filter", "validate_min_duration", "min_duration_sec must be non-negative")
	}
	if v.config.Filter.MaxDurationSec < v.config.Filter.MinDurationSec {
		v.addError("corruption_filter", "validate_max_duration", "max_duration_sec must be >= min_duration_sec")
	}
}

func (v *ConfigValidator) validateGrouping() {
	if v.config.Grouping.SimilarityThreshold <= 0 || v.config.Grouping.SimilarityThreshold > 1 {
		v.addError("grouping", "validate_threshold", "duplicate_similarity_threshold must be in (0,1]")
	}
}

func (v *ConfigValidator) validateQuality() {
	w := v.config.Quality.Weights
	sum := w.Technical + w.Fidelity + w.Integrity + w.Reference
	if math.Abs(sum-1.0) > 0.001 {
		v.addError("quality", "validate_weights", fmt.Sprintf("quality_weights must sum to 1.0, got %.3f", sum))
	}
	if len(v.config.Quality.FormatPriority) == 0 {
		v.addError("quality", "validate_format_priority", "format_priority cannot be empty")
	}
}

func (v *ConfigValidator) validateOrganize() {
	switch v.config.Organize.HandleConflicts {
	case types.ConflictSkipIfSameHash, types.ConflictRename, types.ConflictFail:
	default:
		v.addError("organize", "validate_conflicts", fmt.Sprintf("invalid handle_conflicts: %s", v.config.Organize.HandleConflicts))
	}
	switch v.config.Organize.DuplicateAction {
	case types.ActionMove, types.ActionCopy, types.ActionLink:
	default:
		v.addError("organize", "validate_action", fmt.Sprintf("invalid duplicate_action: %s", v.config.Organize.DuplicateAction))
	}
	if v.config.Organize.MaxFilenameLen < 32 {
		v.addError("organize", "validate_max_filename", "max_filename_len must be at least 32")
	}
	if !strings.Contains(v.config.Organize.Pattern, "{title}") {
		v.addError("organize", "validate_pattern", "organize_pattern must contain {title}")
	}
}

func (v *ConfigValidator) validatePipeline() {
	if v.config.Pipeline.BatchSize <= 0 {
		v.addError("pipeline", "validate_batch_size", "batch size must be positive")
	}
	if v.config.Pipeline.BatchSize > 100000 {
		v.addError("pipeline", "validate_batch_size", "batch size too large (max 100,000)")
	}
	if v.config.Pipeline.MaxWorkers <= 0 {
		v.addError("pipeline", "validate_max_workers", "worker count must be positive")
	}
	if v.config.Pipeline.MaxWorkers > 64 {
		v.addError("pipeline", "validate_max_workers", "worker count too large (max 64)")
	}
	switch v.config.Pipeline.IntegrityLevel {
	case types.IntegrityBasic, types.IntegrityChecksum, types.IntegrityDeep, types.IntegrityParanoid:
	default:
		v.addError("pipeline", "validate_integrity_level", fmt.Sprintf("invalid integrity_level: %s", v.config.Pipeline.IntegrityLevel))
	}
}

func (v *ConfigValidator) buildValidationError() error {
	if len(v.errors) == 1 {
		return v.errors[0]
	}

	var messages []string
	for _, err := range v.errors {
		messages = append(messages, err.Error())
	}
	return errors.ConfigError("validate", fmt.Sprintf("multiple validation errors: %s", strings.Join(messages, "; ")))
}
