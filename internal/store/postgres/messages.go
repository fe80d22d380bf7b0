package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/campusdesk/helpdesk/internal/model"
)

const messageColumns = `id, conversation_id, sender_id, content, is_read, created_at`

func scanMessage(row pgx.Row) (*model.Message, error) {
	var m model.Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.IsRead, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMessages(rows pgx.Rows) ([]model.Message, error) {
	defer rows.Close()
	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// AppendMessage inserts msg, sets the conversation preview and increments
// the recipient's unread counter in one transaction.
func (s *Store) AppendMessage(ctx context.Context, msg *model.Message, recipient model.Side) (*model.Conversation, error) {
	var conv *model.Conversation
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE conversations SET
				last_message = $2,
				last_message_at = $3,
				unread_by_admin = unread_by_admin + CASE WHEN $4 = 'admin' THEN 1 ELSE 0 END,
				unread_by_student = unread_by_student + CASE WHEN $4 = 'student' THEN 1 ELSE 0 END
			WHERE id = $1
			RETURNING `+conversationColumns,
			msg.ConversationID, msg.Content, msg.CreatedAt, string(recipient))
		c, err := scanConversation(row)
		if err != nil {
			return mapError(err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, content, is_read, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.IsRead, msg.CreatedAt); err != nil {
			return fmt.Errorf("postgres: insert message: %w", mapError(err))
		}
		conv = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListMessages returns a conversation's messages in creation order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list messages: %w", err)
	}
	return collectMessages(rows)
}

// MarkRead flags messages not sent by readerID as read.
func (s *Store) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET is_read = true
		WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = false`, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// RecentMessages returns the newest messages across all conversations.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+` FROM messages
		ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent messages: %w", err)
	}
	return collectMessages(rows)
}
