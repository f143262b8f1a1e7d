package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/servana/backend/internal/models"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

// CreateTx persists a message inside the caller's transaction so it commits
// together with the gate/debit work.
func (r *MessageRepo) CreateTx(ctx context.Context, tx pgx.Tx, m *models.Message) error {
	return tx.QueryRow(ctx, `
		INSERT INTO messages (id, thread_id, sender_id, sender_role, body, attachment_ref, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		RETURNING created_at
	`, m.ID, m.ThreadID, m.SenderID, m.SenderRole, m.Body, m.AttachmentRef).Scan(&m.CreatedAt)
}

func (r *MessageRepo) ListByThread(ctx context.Context, threadID uuid.UUID) ([]*models.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, thread_id, sender_id, sender_role, body, attachment_ref, is_read, created_at
		FROM messages WHERE thread_id = $1 ORDER BY created_at
	`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.SenderRole, &m.Body, &m.AttachmentRef, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &m)
	}
	if list == nil {
		list = []*models.Message{}
	}
	return list, rows.Err()
}

// LastByThread returns the most recent message, or nil for an empty thread.
func (r *MessageRepo) LastByThread(ctx context.Context, threadID uuid.UUID) (*models.Message, error) {
	var m models.Message
	err := r.pool.QueryRow(ctx, `
		SELECT id, thread_id, sender_id, sender_role, body, attachment_ref, is_read, created_at
		FROM messages WHERE thread_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1
	`, threadID).Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.SenderRole, &m.Body, &m.AttachmentRef, &m.IsRead, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UnreadCount counts messages the viewer has not read, i.e. unread messages
// sent by the counterpart.
func (r *MessageRepo) UnreadCount(ctx context.Context, threadID, viewerID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM messages
		WHERE thread_id = $1 AND sender_id <> $2 AND is_read = FALSE
	`, threadID, viewerID).Scan(&n)
	return n, err
}

// MarkRead flips is_read on the counterpart's messages when the viewer opens
// the thread.
func (r *MessageRepo) MarkRead(ctx context.Context, threadID, viewerID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE thread_id = $1 AND sender_id <> $2 AND is_read = FALSE
	`, threadID, viewerID)
	return err
}
