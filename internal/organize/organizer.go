// Package organize plans the destination layout. For each duplicate group's
// primary (and each ungrouped healthy file) it computes an organized-tree
// destination from metadata and quality; every non-primary is planned into
// the categorized rejected subtree with a full audit entry. All plans are
// submitted through the transaction manager; the organizer itself never
// touches the filesystem beyond read-only conflict probes.
package organize

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"music-cleanup/internal/hashutil"
	"music-cleanup/internal/store"
	"music-cleanup/internal/txn"
	apperrors "music-cleanup/pkg/errors"
	"music-cleanup/pkg/types"
)

// Organizer plans relocations for one batch at a time.
type Organizer struct {
	store  *store.Store
	logger *logrus.Logger
	cfg    types.OrganizeConfig
	paths  *PathBuilder

	hashAlgorithm string
}

// New builds an organizer.
func New(s *store.Store, logger *logrus.Logger, cfg types.OrganizeConfig, hashAlgorithm string) *Organizer {
	return &Organizer{
		store:         s,
		logger:        logger,
		cfg:           cfg,
		paths:         NewPathBuilder(cfg),
		hashAlgorithm: hashAlgorithm,
	}
}

// Plan describes the staged outcome for one file so the caller can finish
// the bookkeeping after the transaction commits.
type Plan struct {
	FileID      int64
	Destination string
	Outcome     types.FileStatus  // organized or rejected
	Rejection   *types.RejectionEntry // non-nil when Outcome is rejected
	Target      *types.OrganizationTarget
	Skipped     bool // destination already held identical content
}

// PlanBatch stages operations for a batch of healthy files into the given
// transaction. Files that need operator review are enqueued and excluded
// from the returned plans; the second return value counts them.
func (o *Organizer) PlanBatch(ctx context.Context, t *txn.Txn, files []*types.File) ([]*Plan, int, error) {
	var plans []*Plan
	reviewed := 0
	for _, f := range files {
		select {
		case <-ctx.Done():
			return plans, reviewed, ctx.Err()
		default:
		}

		group, err := o.store.GroupForFile(ctx, f.ID)
		if err != nil {
			return plans, reviewed, err
		}

		if group != nil && group.PrimaryFileID != f.ID {
			plan, err := o.planNonPrimary(ctx, t, f, group)
			if err != nil {
				return plans, reviewed, err
			}
			plans = append(plans, plan)
			continue
		}

		plan, err := o.planPrimary(ctx, t, f, group)
		if err != nil {
			var review *ReviewNeeded
			if errors.As(err, &review) {
				if err := o.store.EnqueueReview(ctx, f.ID, review.Reason, review.Details); err != nil {
					return plans, reviewed, err
				}
				reviewed++
				o.logger.WithFields(logrus.Fields{
					"component": "organizer",
					"file":      f.AbsolutePath,
					"reason":    review.Reason,
				}).Info("routed to needs-review")
				continue
			}
			return plans, reviewed, err
		}
		plans = append(plans, plan)
	}
	return plans, reviewed, nil
}

// planPrimary stages the organize operation for a primary or ungrouped file.
func (o *Organizer) planPrimary(ctx context.Context, t *txn.Txn, f *types.File, group *types.DuplicateGroup) (*Plan, error) {
	var md *types.Metadata
	if f.MetadataID != nil {
		var err error
		md, err = o.store.MetadataByID(ctx, *f.MetadataID)
		if err != nil {
			return nil, err
		}
	}
	score := 0.0
	if f.QualityScore != nil {
		score = *f.QualityScore
	}

	target, err := o.paths.Build(md, score, f.AbsolutePath)
	if err != nil {
		return nil, err
	}
	target.FileID = f.ID

	dst, skipped, rejection, err := o.resolveConflict(ctx, f, target.FinalPath, group)
	if err != nil {
		return nil, err
	}
	target.FinalPath = dst

	plan := &Plan{
		FileID:      f.ID,
		Destination: dst,
		Outcome:     types.StatusOrganized,
		Target:      target,
		Skipped:     skipped,
		Rejection:   rejection,
	}
	if skipped {
		return plan, nil
	}

	if err := t.StageRelocation(ctx, o.cfg.DuplicateAction, f.ID, f.AbsolutePath, dst, f.ContentHash); err != nil {
		return nil, err
	}
	return plan, nil
}

// resolveConflict applies the configured conflict policy against an existing
// destination. It returns the (possibly renamed) destination, whether the
// plan is an idempotent skip, and a duplicate rejection entry when a rename
// happened.
func (o *Organizer) resolveConflict(ctx context.Context, f *types.File, dst string, group *types.DuplicateGroup) (string, bool, *types.RejectionEntry, error) {
	if _, err := os.Stat(dst); os.IsNotExist(err) {
		return dst, false, nil, nil
	}

	existingHash, err := hashutil.File(dst, o.hashAlgorithm)
	if err != nil {
		return "", false, nil, err
	}
	if existingHash == f.ContentHash {
		// Identical content already in place: idempotent skip.
		return dst, true, nil, nil
	}

	switch o.cfg.HandleConflicts {
	case types.ConflictFail:
		return "", false, nil, apperrors.New(apperrors.CodeTxnPrepareFailed, "organizer", "resolve_conflict",
			fmt.Sprintf("destination exists with different content: %s", dst))
	case types.ConflictSkipIfSameHash, types.ConflictRename:
		// Find the smallest _dupN that resolves the conflict.
		for n := 2; ; n++ {
			candidate := DupPath(dst, n)
			if _, err := os.Stat(candidate); os.IsNotExist(err) {
				var groupID *int64
				if group != nil {
					groupID = &group.ID
				}
				rejection := &types.RejectionEntry{
					FileID:       f.ID,
					Category:     types.RejectDuplicate,
					GroupID:      groupID,
					OriginalPath: f.AbsolutePath,
					RejectedPath: candidate,
					ReasonText:   fmt.Sprintf("destination %s already held different content; renamed with _dup%d", dst, n),
					ContentHash:  f.ContentHash,
				}
				return candidate, false, rejection, nil
			}
			existing, err := hashutil.File(DupPath(dst, n), o.hashAlgorithm)
			if err == nil && existing == f.ContentHash {
				return DupPath(dst, n), true, nil, nil
			}
		}
	default:
		return "", false, nil, apperrors.New(apperrors.CodeConfigInvalid, "organizer", "resolve_conflict",
			fmt.Sprintf("unknown conflict policy %q", o.cfg.HandleConflicts))
	}
}

// planNonPrimary stages the rejection of a duplicate-group member that lost
// primary selection.
func (o *Organizer) planNonPrimary(ctx context.Context, t *txn.Txn, f *types.File, group *types.DuplicateGroup) (*Plan, error) {
	rank, err := o.rankInGroup(ctx, f.ID, group)
	if err != nil {
		return nil, err
	}
	dst := RejectedDuplicatePath(o.cfg.RejectedRoot, f.AbsolutePath, rank)

	primary, err := o.store.FileByID(ctx, group.PrimaryFileID)
	if err != nil {
		return nil, err
	}

	score := 0.0
	if f.QualityScore != nil {
		score = *f.QualityScore
	}
	primaryScore := 0.0
	if primary.QualityScore != nil {
		primaryScore = *primary.QualityScore
	}

	if err := t.StageRelocation(ctx, o.cfg.DuplicateAction, f.ID, f.AbsolutePath, dst, f.ContentHash); err != nil {
		return nil, err
	}

	chosen := group.PrimaryFileID
	gid := group.ID
	rejection := &types.RejectionEntry{
		FileID:       f.ID,
		Category:     types.RejectDuplicate,
		ChosenFileID: &chosen,
		GroupID:      &gid,
		OriginalPath: f.AbsolutePath,
		RejectedPath: dst,
		ReasonText: fmt.Sprintf("duplicate of %s: quality %.1f vs %.1f (delta %.1f, size %s)",
			primary.AbsolutePath, score, primaryScore, primaryScore-score, humanize.Bytes(uint64(f.SizeBytes))),
		QualityScore: score,
		ContentHash:  f.ContentHash,
	}

	return &Plan{
		FileID:      f.ID,
		Destination: dst,
		Outcome:     types.StatusRejected,
		Rejection:   rejection,
	}, nil
}

// rankInGroup is the 1-based position of a file in its group ordered by
// descending final score; the primary holds rank 1.
func (o *Organizer) rankInGroup(ctx context.Context, fileID int64, group *types.DuplicateGroup) (int, error) {
	members, err := o.store.GroupMembers(ctx, group.ID)
	if err != nil {
		return 0, err
	}
	type scored struct {
		id    int64
		score float64
	}
	ranked := make([]scored, 0, len(members))
	for _, m := range members {
		f, err := o.store.FileByID(ctx, m.FileID)
		if err != nil {
			return 0, err
		}
		s := 0.0
		if f.QualityScore != nil {
			s = *f.QualityScore
		}
		if m.IsPrimary {
			s += 1e9 // primary always ranks first
		}
		ranked = append(ranked, scored{id: m.FileID, score: s})
	}
	for i := 0; i < len(ranked); i++ {
		for j := i + 1; j < len(ranked); j++ {
			if ranked[j].score > ranked[i].score ||
				(ranked[j].score == ranked[i].score && ranked[j].id < ranked[i].id) {
				ranked[i], ranked[j] = ranked[j], ranked[i]
			}
		}
	}
	for i, r := range ranked {
		if r.id == fileID {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("file %d not in group %d", fileID, group.ID)
}

// PlanQuarantine stages the relocation of a critically corrupted file into
// the corrupted subtree and returns the audit entry to append on commit.
func (o *Organizer) PlanQuarantine(ctx context.Context, t *txn.Txn, f *types.File, reason string, quarantineCopy bool) (*Plan, error) {
	dst := QuarantinePath(o.cfg.RejectedRoot, f.AbsolutePath)
	for n := 2; ; n++ {
		if _, err := os.Stat(dst); os.IsNotExist(err) {
			break
		}
		dst = DupPath(QuarantinePath(o.cfg.RejectedRoot, f.AbsolutePath), n)
	}

	action := o.cfg.DuplicateAction
	if quarantineCopy {
		action = types.ActionCopy
	}
	if err := t.StageRelocation(ctx, action, f.ID, f.AbsolutePath, dst, f.ContentHash); err != nil {
		return nil, err
	}

	score := 0.0
	if f.QualityScore != nil {
		score = *f.QualityScore
	}
	return &Plan{
		FileID:      f.ID,
		Destination: dst,
		Outcome:     types.StatusQuarantined,
		Rejection: &types.RejectionEntry{
			FileID:       f.ID,
			Category:     types.RejectCorrupted,
			OriginalPath: f.AbsolutePath,
			RejectedPath: dst,
			ReasonText:   reason,
			QualityScore: score,
			ContentHash:  f.ContentHash,
		},
	}, nil
}

// WriteQualityTags stages score tag writes for organized primaries when
// configured.
func (o *Organizer) WriteQualityTags(ctx context.Context, t *txn.Txn, plan *Plan, qa *types.QualityAnalysis) error {
	if !o.cfg.WriteQualityTags || plan.Skipped || plan.Outcome != types.StatusOrganized {
		return nil
	}
	tags := map[string]string{
		"QUALITY_SCORE": fmt.Sprintf("%.1f", qa.FinalScore),
		"QUALITY_GRADE": string(qa.Grade),
	}
	return t.StageTagWrite(ctx, plan.FileID, plan.Destination, tags)
}
