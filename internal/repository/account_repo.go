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

// ErrAccountNotFound is returned by reads of a credit account that has never
// been created. Callers on the status path treat it as a zero-balance
// account, not as a failure.
var ErrAccountNotFound = errors.New("credit account not found")

type CreditAccountRepo struct {
	pool *pgxpool.Pool
}

func NewCreditAccountRepo(pool *pgxpool.Pool) *CreditAccountRepo {
	return &CreditAccountRepo{pool: pool}
}

func (r *CreditAccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.CreditAccount, error) {
	return scanAccount(r.pool.QueryRow(ctx, `
		SELECT professional_id, unlimited_active, unlimited_expires_at, purchased_balance, referral_balance, created_at, updated_at
		FROM credit_accounts WHERE professional_id = $1
	`, id))
}

// GetForUpdate locks the account row. Call within a transaction; the lock
// scopes debit contention to one account without blocking other accounts.
func (r *CreditAccountRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.CreditAccount, error) {
	return scanAccount(tx.QueryRow(ctx, `
		SELECT professional_id, unlimited_active, unlimited_expires_at, purchased_balance, referral_balance, created_at, updated_at
		FROM credit_accounts WHERE professional_id = $1 FOR UPDATE
	`, id))
}

func scanAccount(row pgx.Row) (*models.CreditAccount, error) {
	var a models.CreditAccount
	err := row.Scan(&a.ProfessionalID, &a.UnlimitedActive, &a.UnlimitedExpiresAt, &a.PurchasedBalance, &a.ReferralBalance, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// EnsureTx inserts the account row if it does not exist yet. Grants create
// accounts lazily via this path.
func (r *CreditAccountRepo) EnsureTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO credit_accounts (professional_id) VALUES ($1)
		ON CONFLICT (professional_id) DO NOTHING
	`, id)
	return err
}

// DeductPurchasedTx atomically takes one purchased credit. The balance guard
// in the WHERE clause is what keeps the balance non-negative: zero affected
// rows means no credit was available and nothing changed.
func (r *CreditAccountRepo) DeductPurchasedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (newBalance int, ok bool, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE credit_accounts SET purchased_balance = purchased_balance - 1, updated_at = now()
		WHERE professional_id = $1 AND purchased_balance >= 1
		RETURNING purchased_balance
	`, id).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return newBalance, true, nil
}

// DeductReferralTx atomically takes one referral credit.
func (r *CreditAccountRepo) DeductReferralTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (newBalance int, ok bool, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE credit_accounts SET referral_balance = referral_balance - 1, updated_at = now()
		WHERE professional_id = $1 AND referral_balance >= 1
		RETURNING referral_balance
	`, id).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return newBalance, true, nil
}

// AddCreditsTx adds amount to the given bucket and returns the new balance.
func (r *CreditAccountRepo) AddCreditsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, bucket string, amount int) (newBalance int, err error) {
	column := "purchased_balance"
	if bucket == models.CreditBucketReferral {
		column = "referral_balance"
	}
	err = tx.QueryRow(ctx, `
		UPDATE credit_accounts SET `+column+` = `+column+` + $1, updated_at = now()
		WHERE professional_id = $2
		RETURNING `+column+`
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}

// RemoveCreditsTx subtracts amount from the given bucket only if the balance
// covers it. ok=false means the revoke would have gone negative and was
// rejected.
func (r *CreditAccountRepo) RemoveCreditsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, bucket string, amount int) (newBalance int, ok bool, err error) {
	column := "purchased_balance"
	if bucket == models.CreditBucketReferral {
		column = "referral_balance"
	}
	err = tx.QueryRow(ctx, `
		UPDATE credit_accounts SET `+column+` = `+column+` - $1, updated_at = now()
		WHERE professional_id = $2 AND `+column+` >= $1
		RETURNING `+column+`
	`, amount, id).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return newBalance, true, nil
}

// ExtendUnlimitedTx activates the unlimited entitlement and pushes the
// expiry out. The new expiry is based on the later of now and the current
// expiry, so stacked grants accumulate.
func (r *CreditAccountRepo) ExtendUnlimitedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, d time.Duration) (expiresAt time.Time, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE credit_accounts
		SET unlimited_active = TRUE,
		    unlimited_expires_at = GREATEST(COALESCE(unlimited_expires_at, now()), now()) + $1::interval,
		    updated_at = now()
		WHERE professional_id = $2
		RETURNING unlimited_expires_at
	`, d, id).Scan(&expiresAt)
	return expiresAt, err
}

// ClearUnlimitedTx revokes the unlimited entitlement immediately.
func (r *CreditAccountRepo) ClearUnlimitedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE credit_accounts SET unlimited_active = FALSE, unlimited_expires_at = NULL, updated_at = now()
		WHERE professional_id = $1
	`, id)
	return err
}
