package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"music-cleanup/pkg/types"
)

// Fingerprint and Metadata rows are created lazily on first sight and shared
// across files; QualityAnalysis and OrganizationTarget are one-per-file.

// EnsureFingerprint returns the id of the fingerprint row, creating it when
// the fingerprint string is new.
func (s *Store) EnsureFingerprint(ctx context.Context, fp *types.Fingerprint) (int64, error) {
	res, err := s.execRetry(ctx, "ensure_fingerprint", `
		INSERT INTO fingerprints (fingerprint, duration_sec, sample_rate_hz, bit_depth, channels, codec, bitrate_kbps)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING`,
		fp.Fingerprint, fp.DurationSec, fp.SampleRateHz, fp.BitDepth, fp.Channels, fp.Codec, fp.BitrateKbps)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		id, _ := res.LastInsertId()
		return id, nil
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM fingerprints WHERE fingerprint = ?`, fp.Fingerprint).Scan(&id)
	return id, classify("ensure_fingerprint", err)
}

// FingerprintByID loads a fingerprint row.
func (s *Store) FingerprintByID(ctx context.Context, id int64) (*types.Fingerprint, error) {
	var fp types.Fingerprint
	err := s.db.QueryRowContext(ctx, `
		SELECT id, fingerprint, duration_sec, sample_rate_hz, bit_depth, channels, codec, bitrate_kbps
		FROM fingerprints WHERE id = ?`, id).
		Scan(&fp.ID, &fp.Fingerprint, &fp.DurationSec, &fp.SampleRateHz, &fp.BitDepth, &fp.Channels, &fp.Codec, &fp.BitrateKbps)
	if err != nil {
		return nil, classify("fingerprint_by_id", err)
	}
	return &fp, nil
}

// EnsureMetadata returns the id of the metadata row, creating it when this
// exact content has not been seen before.
func (s *Store) EnsureMetadata(ctx context.Context, md *types.Metadata) (int64, error) {
	res, err := s.execRetry(ctx, "ensure_metadata", `
		INSERT INTO metadata (artist, title, album, year, genre, track_number, disc_number, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(artist, title, album, year, genre, track_number, disc_number, source) DO NOTHING`,
		md.Artist, md.Title, md.Album, md.Year, md.Genre, md.TrackNumber, md.DiscNumber, md.Source)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		id, _ := res.LastInsertId()
		return id, nil
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM metadata
		WHERE artist = ? AND title = ? AND album = ? AND year = ? AND genre = ? AND track_number = ? AND disc_number = ? AND source = ?`,
		md.Artist, md.Title, md.Album, md.Year, md.Genre, md.TrackNumber, md.DiscNumber, md.Source).Scan(&id)
	return id, classify("ensure_metadata", err)
}

// MetadataByID loads a metadata row.
func (s *Store) MetadataByID(ctx context.Context, id int64) (*types.Metadata, error) {
	var md types.Metadata
	err := s.db.QueryRowContext(ctx, `
		SELECT id, artist, title, album, year, genre, track_number, disc_number, source
		FROM metadata WHERE id = ?`, id).
		Scan(&md.ID, &md.Artist, &md.Title, &md.Album, &md.Year, &md.Genre, &md.TrackNumber, &md.DiscNumber, &md.Source)
	if err != nil {
		return nil, classify("metadata_by_id", err)
	}
	return &md, nil
}

// SaveQualityAnalysis writes (or replaces) the per-file scoring breakdown.
func (s *Store) SaveQualityAnalysis(ctx context.Context, qa *types.QualityAnalysis) error {
	defects, err := json.Marshal(qa.Defects)
	if err != nil {
		return classify("save_quality", err)
	}
	_, err = s.execRetry(ctx, "save_quality", `
		INSERT INTO quality_analyses
			(file_id, technical_score, audio_fidelity_score, integrity_score, reference_score,
			 final_score, grade, recommended_action, defects, health_score, clipping_ratio, silence_ratio)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			technical_score = excluded.technical_score,
			audio_fidelity_score = excluded.audio_fidelity_score,
			integrity_score = excluded.integrity_score,
			reference_score = excluded.reference_score,
			final_score = excluded.final_score,
			grade = excluded.grade,
			recommended_action = excluded.recommended_action,
			defects = excluded.defects,
			health_score = excluded.health_score,
			clipping_ratio = excluded.clipping_ratio,
			silence_ratio = excluded.silence_ratio`,
		qa.FileID, qa.TechnicalScore, qa.AudioFidelity, qa.IntegrityScore, nullableFloat(qa.ReferenceScore),
		qa.FinalScore, qa.Grade, qa.RecommendedAction, string(defects), qa.HealthScore,
		qa.ClippingRatio, qa.SilenceRatio)
	return err
}

// QualityByFileID loads the scoring breakdown for a file.
func (s *Store) QualityByFileID(ctx context.Context, fileID int64) (*types.QualityAnalysis, error) {
	var qa types.QualityAnalysis
	var ref sql.NullFloat64
	var defects string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, file_id, technical_score, audio_fidelity_score, integrity_score, reference_score,
		       final_score, grade, recommended_action, defects, health_score, clipping_ratio, silence_ratio
		FROM quality_analyses WHERE file_id = ?`, fileID).
		Scan(&qa.ID, &qa.FileID, &qa.TechnicalScore, &qa.AudioFidelity, &qa.IntegrityScore, &ref,
			&qa.FinalScore, &qa.Grade, &qa.RecommendedAction, &defects, &qa.HealthScore,
			&qa.ClippingRatio, &qa.SilenceRatio)
	if err != nil {
		return nil, classify("quality_by_file", err)
	}
	if ref.Valid {
		qa.ReferenceScore = &ref.Float64
	}
	if err := json.Unmarshal([]byte(defects), &qa.Defects); err != nil {
		return nil, classify("quality_by_file", err)
	}
	return &qa, nil
}

// SaveOrganizationTarget records the computed destination for a primary.
func (s *Store) SaveOrganizationTarget(ctx context.Context, t *types.OrganizationTarget) error {
	_, err := s.execRetry(ctx, "save_target", `
		INSERT INTO organization_targets (file_id, genre, decade, final_path, pattern_used)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			genre = excluded.genre,
			decade = excluded.decade,
			final_path = excluded.final_path,
			pattern_used = excluded.pattern_used`,
		t.FileID, t.Genre, t.Decade, t.FinalPath, t.PatternUsed)
	return err
}

// TargetByFileID loads the organization target for a file.
func (s *Store) TargetByFileID(ctx context.Context, fileID int64) (*types.OrganizationTarget, error) {
	var t types.OrganizationTarget
	err := s.db.QueryRowContext(ctx, `
		SELECT id, file_id, genre, decade, final_path, pattern_used
		FROM organization_targets WHERE file_id = ?`, fileID).
		Scan(&t.ID, &t.FileID, &t.Genre, &t.Decade, &t.FinalPath, &t.PatternUsed)
	if err != nil {
		return nil, classify("target_by_file", err)
	}
	return &t, nil
}

func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
