package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"huddle/pkg/types"
)

// AppendMessage inserts message and fills in its ID and CreatedAt.
func (m *Manager) AppendMessage(ctx context.Context, message *types.Message) error {
	var (
		id        int64
		createdAt time.Time
	)
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		ts := m.nextCreatedAt()

		res, err := db.ExecContext(ctx, `
			INSERT INTO messages (room_key, group_id, sender_id, receiver_id, type, content,
				file_url, file_name, file_size, mime_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			message.RoomKey,
			nullString(message.GroupID),
			message.SenderID,
			nullString(message.ReceiverID),
			message.Type,
			message.Content,
			nullString(message.FileURL),
			nullString(message.FileName),
			nullInt(message.FileSize, message.FileURL != ""),
			nullString(message.MimeType),
			ts,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read message id: %w", err)
		}

		m.lastCreatedAt = ts
		createdAt = ts
		return nil
	})
	if err != nil {
		return err
	}

	message.ID = id
	message.CreatedAt = createdAt
	return nil
}

// History returns up to limit messages of roomKey older than beforeID
// (all when beforeID <= 0), oldest first.
func (m *Manager) History(ctx context.Context, roomKey string, limit int, beforeID int64) ([]*types.Message, error) {
	if limit <= 0 {
		return []*types.Message{}, nil
	}

	query := `
		SELECT id, room_key, group_id, sender_id, receiver_id, type, content,
			file_url, file_name, file_size, mime_type, created_at
		FROM messages
		WHERE room_key = ?`
	args := []interface{}{roomKey}
	if beforeID > 0 {
		query += " AND id < ?"
		args = append(args, beforeID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]*types.Message, 0, limit)
	for rows.Next() {
		var (
			msg                                              types.Message
			groupID, receiverID, fileURL, fileName, mimeType sql.NullString
			fileSize                                         sql.NullInt64
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.RoomKey,
			&groupID,
			&msg.SenderID,
			&receiverID,
			&msg.Type,
			&msg.Content,
			&fileURL,
			&fileName,
			&fileSize,
			&mimeType,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.GroupID = groupID.String
		msg.ReceiverID = receiverID.String
		msg.FileURL = fileURL.String
		msg.FileName = fileName.String
		msg.FileSize = fileSize.Int64
		msg.MimeType = mimeType.String
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64, valid bool) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: valid}
}
