package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/campusdesk/helpdesk/internal/model"
)

const conversationColumns = `id, student_id, admin_id, last_message, last_message_at,
	unread_by_admin, unread_by_student, created_at`

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var c model.Conversation
	err := row.Scan(&c.ID, &c.StudentID, &c.AdminID, &c.LastMessage, &c.LastMessageAt,
		&c.UnreadByAdmin, &c.UnreadByStudent, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversation loads a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

// FindConversationByStudent loads the conversation owned by a student.
func (s *Store) FindConversationByStudent(ctx context.Context, studentID string) (*model.Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE student_id = $1`, studentID)
	c, err := scanConversation(row)
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

// UpsertConversation inserts conv or returns the student's existing row.
func (s *Store) UpsertConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, student_id, admin_id, last_message_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id) DO NOTHING
		RETURNING `+conversationColumns,
		conv.ID, conv.StudentID, conv.AdminID, conv.LastMessageAt, conv.CreatedAt)

	created, err := scanConversation(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("postgres: insert conversation: %w", mapError(err))
	}

	existing, err := s.FindConversationByStudent(ctx, conv.StudentID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// ListConversations returns every conversation, most recent activity first.
func (s *Store) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+conversationColumns+` FROM conversations
		ORDER BY last_message_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list conversations: %w", err)
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ResetUnread zeroes one side's unread counter.
func (s *Store) ResetUnread(ctx context.Context, id string, side model.Side) (*model.Conversation, error) {
	column := "unread_by_student"
	if side == model.SideAdmin {
		column = "unread_by_admin"
	}
	row := s.pool.QueryRow(ctx, `UPDATE conversations SET `+column+` = 0 WHERE id = $1
		RETURNING `+conversationColumns, id)
	c, err := scanConversation(row)
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}
