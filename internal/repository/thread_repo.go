package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/servana/backend/internal/models"
)

// ErrThreadNotFound is returned when a reference resolves to no thread.
var ErrThreadNotFound = errors.New("thread not found")

type ThreadRepo struct {
	pool *pgxpool.Pool
}

func NewThreadRepo(pool *pgxpool.Pool) *ThreadRepo {
	return &ThreadRepo{pool: pool}
}

const threadColumns = "id, kind, quote_id, client_id, professional_id, professional_responded, last_message_at, created_at"

func scanThread(row pgx.Row) (*models.Thread, error) {
	var t models.Thread
	err := row.Scan(&t.ID, &t.Kind, &t.QuoteID, &t.ClientID, &t.ProfessionalID, &t.ProfessionalResponded, &t.LastMessageAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *ThreadRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Thread, error) {
	return scanThread(r.pool.QueryRow(ctx, `
		SELECT `+threadColumns+` FROM threads WHERE id = $1
	`, id))
}

// GetDirectByPair resolves the single direct thread between a client and a
// professional, if one exists.
func (r *ThreadRepo) GetDirectByPair(ctx context.Context, clientID, professionalID uuid.UUID) (*models.Thread, error) {
	return scanThread(r.pool.QueryRow(ctx, `
		SELECT `+threadColumns+` FROM threads
		WHERE kind = 'direct' AND client_id = $1 AND professional_id = $2
	`, clientID, professionalID))
}

// CreateQuote creates the thread anchored to a quote response. The quote
// flow is external; it calls this once per responded quote.
func (r *ThreadRepo) CreateQuote(ctx context.Context, quoteID, clientID, professionalID uuid.UUID) (*models.Thread, error) {
	return scanThread(r.pool.QueryRow(ctx, `
		INSERT INTO threads (id, kind, quote_id, client_id, professional_id)
		VALUES ($1, 'quote', $2, $3, $4)
		RETURNING `+threadColumns+`
	`, uuid.New(), quoteID, clientID, professionalID))
}

// GetOrCreateDirect resolves the direct thread for the pair, creating it on
// first contact. The partial unique index on (client_id, professional_id)
// makes concurrent first contacts converge on one row: ON CONFLICT DO
// NOTHING plus a re-select instead of a second insert.
func (r *ThreadRepo) GetOrCreateDirect(ctx context.Context, clientID, professionalID uuid.UUID) (*models.Thread, error) {
	t, err := scanThread(r.pool.QueryRow(ctx, `
		INSERT INTO threads (id, kind, client_id, professional_id)
		VALUES ($1, 'direct', $2, $3)
		ON CONFLICT (client_id, professional_id) WHERE kind = 'direct' DO NOTHING
		RETURNING `+threadColumns+`
	`, uuid.New(), clientID, professionalID))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrThreadNotFound) {
		return nil, err
	}
	// Lost the insert race: the row exists now.
	return r.GetDirectByPair(ctx, clientID, professionalID)
}

// MarkRespondedTx flips professional_responded false→true. The WHERE guard
// makes it a compare-and-set: among concurrent callers exactly one observes
// marked=true, everyone else sees the transition already done.
// Call within the transaction that performs the credit debit so both commit
// or neither does.
func (r *ThreadRepo) MarkRespondedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (marked bool, err error) {
	result, err := tx.Exec(ctx, `
		UPDATE threads SET professional_responded = TRUE
		WHERE id = $1 AND professional_responded = FALSE
	`, id)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// TouchLastMessageTx bumps last_message_at, never moving it backwards.
func (r *ThreadRepo) TouchLastMessageTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE threads SET last_message_at = GREATEST(COALESCE(last_message_at, $2), $2)
		WHERE id = $1
	`, id, at)
	return err
}

// ListByUser returns all threads of one kind where the user participates in
// the given role.
func (r *ThreadRepo) ListByUser(ctx context.Context, userID uuid.UUID, role, kind string) ([]*models.Thread, error) {
	column := "client_id"
	if role == models.RoleProfessional {
		column = "professional_id"
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+threadColumns+` FROM threads
		WHERE kind = $1 AND `+column+` = $2
	`, kind, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Thread
	for rows.Next() {
		var t models.Thread
		if err := rows.Scan(&t.ID, &t.Kind, &t.QuoteID, &t.ClientID, &t.ProfessionalID, &t.ProfessionalResponded, &t.LastMessageAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
