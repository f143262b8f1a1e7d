package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/servana/backend/internal/models"
)

type CreditTxRepo struct {
	pool *pgxpool.Pool
}

func NewCreditTxRepo(pool *pgxpool.Pool) *CreditTxRepo {
	return &CreditTxRepo{pool: pool}
}

// CreateTx appends a ledger entry inside the given transaction, so the entry
// and the balance change it describes commit or roll back together.
func (r *CreditTxRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, account_id, amount, source, bucket, reason, related_thread_id, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, t.ID, t.AccountID, t.Amount, t.Source, t.Bucket, t.Reason, t.RelatedThreadID, t.ActorID).Scan(&t.CreatedAt)
}

func (r *CreditTxRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, amount, source, bucket, reason, related_thread_id, actor_id, created_at
		FROM credit_transactions WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Source, &t.Bucket, &t.Reason, &t.RelatedThreadID, &t.ActorID, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	if list == nil {
		list = []*models.CreditTransaction{}
	}
	return list, rows.Err()
}

// DebitByThreadTx returns the debit entry already charged against a thread,
// or nil if the thread has never been billed. Runs inside the caller's
// transaction; with the account row locked this makes the thread ref an
// idempotency key for debits.
func (r *CreditTxRepo) DebitByThreadTx(ctx context.Context, tx pgx.Tx, threadID uuid.UUID) (*models.CreditTransaction, error) {
	var t models.CreditTransaction
	err := tx.QueryRow(ctx, `
		SELECT id, account_id, amount, source, bucket, reason, related_thread_id, actor_id, created_at
		FROM credit_transactions
		WHERE related_thread_id = $1 AND amount < 0
		LIMIT 1
	`, threadID).Scan(&t.ID, &t.AccountID, &t.Amount, &t.Source, &t.Bucket, &t.Reason, &t.RelatedThreadID, &t.ActorID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *CreditTxRepo) ListByThreadID(ctx context.Context, threadID uuid.UUID) ([]*models.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, amount, source, bucket, reason, related_thread_id, actor_id, created_at
		FROM credit_transactions WHERE related_thread_id = $1 ORDER BY created_at DESC
	`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Source, &t.Bucket, &t.Reason, &t.RelatedThreadID, &t.ActorID, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
