package store

import (
	"context"
	"database/sql"

	"music-cleanup/pkg/types"
)

// CreateDuplicateGroup writes a group and its members in one database
// transaction so a group can never exist half-populated. Exactly one member
// must be flagged primary and it must match primaryFileID.
func (s *Store) CreateDuplicateGroup(ctx context.Context, group *types.DuplicateGroup, members []*types.DuplicateMember) (int64, error) {
	var groupID int64
	err := s.InTx(ctx, "create_group", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO duplicate_groups (key_kind, key_value, primary_file_id, size)
			VALUES (?, ?, ?, ?)`,
			group.KeyKind, group.KeyValue, group.PrimaryFileID, len(members))
		if err != nil {
			return err
		}
		groupID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		for _, m := range members {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO duplicate_members (group_id, file_id, is_primary, similarity)
				VALUES (?, ?, ?, ?)`,
				groupID, m.FileID, boolToInt(m.IsPrimary), m.Similarity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return groupID, nil
}

// GroupByID loads a duplicate group.
func (s *Store) GroupByID(ctx context.Context, id int64) (*types.DuplicateGroup, error) {
	var g types.DuplicateGroup
	err := s.db.QueryRowContext(ctx, `
		SELECT id, key_kind, key_value, primary_file_id, size
		FROM duplicate_groups WHERE id = ?`, id).
		Scan(&g.ID, &g.KeyKind, &g.KeyValue, &g.PrimaryFileID, &g.Size)
	if err != nil {
		return nil, classify("group_by_id", err)
	}
	return &g, nil
}

// AllGroups returns every duplicate group ordered by id.
func (s *Store) AllGroups(ctx context.Context) ([]*types.DuplicateGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key_kind, key_value, primary_file_id, size
		FROM duplicate_groups ORDER BY id`)
	if err != nil {
		return nil, classify("all_groups", err)
	}
	defer rows.Close()

	var groups []*types.DuplicateGroup
	for rows.Next() {
		var g types.DuplicateGroup
		if err := rows.Scan(&g.ID, &g.KeyKind, &g.KeyValue, &g.PrimaryFileID, &g.Size); err != nil {
			return nil, classify("all_groups", err)
		}
		groups = append(groups, &g)
	}
	return groups, classify("all_groups", rows.Err())
}

// GroupMembers returns the members of a group, primary first, then by
// descending similarity, then file id for determinism.
func (s *Store) GroupMembers(ctx context.Context, groupID int64) ([]*types.DuplicateMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, file_id, is_primary, similarity
		FROM duplicate_members
		WHERE group_id = ?
		ORDER BY is_primary DESC, similarity DESC, file_id`, groupID)
	if err != nil {
		return nil, classify("group_members", err)
	}
	defer rows.Close()

	var members []*types.DuplicateMember
	for rows.Next() {
		var m types.DuplicateMember
		var primary int
		if err := rows.Scan(&m.ID, &m.GroupID, &m.FileID, &primary, &m.Similarity); err != nil {
			return nil, classify("group_members", err)
		}
		m.IsPrimary = primary != 0
		members = append(members, &m)
	}
	return members, classify("group_members", rows.Err())
}

// GroupForFile returns the group a file belongs to, or nil.
func (s *Store) GroupForFile(ctx context.Context, fileID int64) (*types.DuplicateGroup, error) {
	var g types.DuplicateGroup
	err := s.db.QueryRowContext(ctx, `
		SELECT g.id, g.key_kind, g.key_value, g.primary_file_id, g.size
		FROM duplicate_groups g
		JOIN duplicate_members m ON m.group_id = g.id
		WHERE m.file_id = ?`, fileID).
		Scan(&g.ID, &g.KeyKind, &g.KeyValue, &g.PrimaryFileID, &g.Size)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("group_for_file", err)
	}
	return &g, nil
}

// DeleteGroup removes a group; members cascade.
func (s *Store) DeleteGroup(ctx context.Context, groupID int64) error {
	_, err := s.execRetry(ctx, "delete_group", `DELETE FROM duplicate_groups WHERE id = ?`, groupID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
