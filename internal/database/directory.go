package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"huddle/pkg/types"
)

// CreateUser adds a directory entry. CreatedAt is filled in when zero.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)",
			user.ID, user.Name, user.CreatedAt)
		if isConstraint(err) {
			return fmt.Errorf("%w: user %s", ErrAlreadyExists, user.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// GetUser looks up a directory entry.
func (m *Manager) GetUser(ctx context.Context, userID string) (*types.User, error) {
	var user types.User
	err := m.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM users WHERE id = ?", userID,
	).Scan(&user.ID, &user.Name, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// CreateGroup inserts the group and its initial roster atomically.
func (m *Manager) CreateGroup(ctx context.Context, group *types.Group) error {
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx,
			"INSERT INTO chat_groups (id, name, created_by, created_at) VALUES (?, ?, ?, ?)",
			group.ID, group.Name, group.CreatedBy, group.CreatedAt)
		if isConstraint(err) {
			return fmt.Errorf("%w: group %s", ErrAlreadyExists, group.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert group: %w", err)
		}

		for _, member := range group.Members {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)",
				group.ID, member, group.CreatedAt); err != nil {
				return fmt.Errorf("failed to insert group member: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit group creation: %w", err)
		}
		return nil
	})
}

// GetGroup returns the group with its roster sorted by user id.
func (m *Manager) GetGroup(ctx context.Context, groupID string) (*types.Group, error) {
	var group types.Group
	err := m.db.QueryRowContext(ctx,
		"SELECT id, name, created_by, created_at FROM chat_groups WHERE id = ?", groupID,
	).Scan(&group.ID, &group.Name, &group.CreatedBy, &group.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query group: %w", err)
	}

	members, err := m.groupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	group.Members = members
	return &group, nil
}

// ListGroups returns every group with its roster.
func (m *Manager) ListGroups(ctx context.Context) ([]*types.Group, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT id, name, created_by, created_at FROM chat_groups ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}

	var groups []*types.Group
	for rows.Next() {
		var g types.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedBy, &g.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan group row: %w", err)
		}
		groups = append(groups, &g)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating group rows: %w", err)
	}

	for _, g := range groups {
		if g.Members, err = m.groupMembers(ctx, g.ID); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

func (m *Manager) groupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id", groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	members := []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		members = append(members, userID)
	}
	return members, rows.Err()
}

// AddGroupMember adds userID to the roster. Adding an existing member is a no-op.
func (m *Manager) AddGroupMember(ctx context.Context, groupID, userID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		var exists int
		err := db.QueryRowContext(ctx, "SELECT 1 FROM chat_groups WHERE id = ?", groupID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
		}
		if err != nil {
			return fmt.Errorf("failed to query group: %w", err)
		}

		if _, err := db.ExecContext(ctx,
			"INSERT OR IGNORE INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)",
			groupID, userID, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to insert group member: %w", err)
		}
		return nil
	})
}

// RemoveGroupMember removes userID from the roster.
func (m *Manager) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			"DELETE FROM group_members WHERE group_id = ? AND user_id = ?", groupID, userID)
		if err != nil {
			return fmt.Errorf("failed to delete group member: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s in %s", ErrMemberNotFound, userID, groupID)
		}
		return nil
	})
}
