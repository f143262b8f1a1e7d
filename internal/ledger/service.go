package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/servana/backend/internal/models"
	"github.com/servana/backend/internal/repository"
)

// ErrInsufficientCredits is returned when a debit (or revoke) finds no
// credit to take at the moment of the atomic check.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrInvalidGrant is returned for malformed grant/revoke arguments.
var ErrInvalidGrant = errors.New("invalid grant arguments")

// Status is the entitlement snapshot for one professional. Source names the
// highest-precedence source that would satisfy the next debit.
type Status struct {
	CanRespond         bool       `json:"can_respond"`
	Source             string     `json:"source,omitempty"`
	UnlimitedExpiresAt *time.Time `json:"unlimited_expires_at,omitempty"`
	PurchasedBalance   int        `json:"purchased_balance"`
	ReferralBalance    int        `json:"referral_balance"`
}

// DebitResult reports which source satisfied a debit. NewBalance is the
// remaining balance of that source's bucket; zero for unlimited, which has
// no numeric balance. AlreadyPaid marks a retried debit whose thread had
// been charged before: the original outcome is reported and nothing is
// deducted again.
type DebitResult struct {
	SourceUsed  string `json:"source_used"`
	NewBalance  int    `json:"new_balance"`
	AlreadyPaid bool   `json:"already_paid,omitempty"`
}

// GrantArgs are the administrative adjustment parameters. For the unlimited
// bucket, Amount is a number of days of validity.
type GrantArgs struct {
	AccountID uuid.UUID
	Amount    int
	Bucket    string
	Reason    string
	ActorID   uuid.UUID
}

// AccountStore is the credit account repository surface the service needs.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.CreditAccount, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.CreditAccount, error)
	EnsureTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	DeductPurchasedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int, bool, error)
	DeductReferralTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int, bool, error)
	AddCreditsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, bucket string, amount int) (int, error)
	RemoveCreditsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, bucket string, amount int) (int, bool, error)
	ExtendUnlimitedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, d time.Duration) (time.Time, error)
	ClearUnlimitedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// EntryStore appends and lists credit transactions.
type EntryStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error
	DebitByThreadTx(ctx context.Context, tx pgx.Tx, threadID uuid.UUID) (*models.CreditTransaction, error)
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.CreditTransaction, error)
	ListByThreadID(ctx context.Context, threadID uuid.UUID) ([]*models.CreditTransaction, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service is the credit ledger: entitlement reads, atomic debits, and
// administrative adjustments. Every balance change appends a
// CreditTransaction in the same database transaction.
type Service struct {
	pool     TxBeginner
	accounts AccountStore
	entries  EntryStore
	cache    *Cache
	now      func() time.Time
	log      *slog.Logger
}

func NewService(pool TxBeginner, accounts AccountStore, entries EntryStore, cache *Cache, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{pool: pool, accounts: accounts, entries: entries, cache: cache, now: time.Now, log: log}
}

// GetStatus computes the current entitlement. A professional with no account
// row yet is a zero-balance account, not an error. Cache failures fall
// through to the database read.
func (s *Service) GetStatus(ctx context.Context, accountID uuid.UUID) (*Status, error) {
	if st, ok := s.cache.Get(ctx, accountID); ok {
		return st, nil
	}
	acc, err := s.accounts.GetByID(ctx, accountID)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return &Status{}, nil
	}
	if err != nil {
		return nil, err
	}
	st := s.statusOf(acc)
	s.cache.Set(ctx, accountID, st)
	return st, nil
}

func (s *Service) statusOf(acc *models.CreditAccount) *Status {
	st := &Status{
		UnlimitedExpiresAt: acc.UnlimitedExpiresAt,
		PurchasedBalance:   acc.PurchasedBalance,
		ReferralBalance:    acc.ReferralBalance,
	}
	switch {
	case acc.UnlimitedValid(s.now()):
		st.CanRespond = true
		st.Source = models.CreditSourceUnlimited
	case acc.PurchasedBalance > 0:
		st.CanRespond = true
		st.Source = models.CreditSourcePurchased
	case acc.ReferralBalance > 0:
		st.CanRespond = true
		st.Source = models.CreditSourceReferral
	}
	return st
}

// Debit takes one credit in its own transaction. The thread ref is the
// idempotency key: a thread that already carries a debit entry is never
// charged again, so a caller retrying after a timeout observes the original
// outcome instead of a second deduction. The account row is locked before
// the prior-entry check, so concurrent retries serialize and cannot both
// miss each other's entry.
func (s *Service) Debit(ctx context.Context, accountID uuid.UUID, threadID uuid.UUID) (*DebitResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	acc, err := s.accounts.GetForUpdate(ctx, tx, accountID)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, ErrInsufficientCredits
	}
	if err != nil {
		return nil, err
	}

	prior, err := s.entries.DebitByThreadTx(ctx, tx, threadID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		res := &DebitResult{SourceUsed: prior.Source, AlreadyPaid: true}
		switch prior.Bucket {
		case models.CreditBucketPurchased:
			res.NewBalance = acc.PurchasedBalance
		case models.CreditBucketReferral:
			res.NewBalance = acc.ReferralBalance
		}
		return res, nil
	}

	res, err := s.DebitTx(ctx, tx, accountID, threadID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, accountID)
	return res, nil
}

// DebitTx takes exactly one credit from the highest-precedence available
// source, inside the caller's transaction. The account row is locked first
// so concurrent debits for the same professional serialize; the conditional
// deduct UPDATEs are the final authority on availability, so a stale read
// can never overdraw. Callers that commit the transaction themselves must
// also call InvalidateStatus.
func (s *Service) DebitTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, threadID uuid.UUID) (*DebitResult, error) {
	acc, err := s.accounts.GetForUpdate(ctx, tx, accountID)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, ErrInsufficientCredits
	}
	if err != nil {
		return nil, err
	}

	if acc.UnlimitedValid(s.now()) {
		if err := s.appendEntry(ctx, tx, accountID, -1, models.CreditSourceUnlimited, models.CreditBucketUnlimited, "thread response", &threadID, nil); err != nil {
			return nil, err
		}
		return &DebitResult{SourceUsed: models.CreditSourceUnlimited}, nil
	}

	if newBalance, ok, err := s.accounts.DeductPurchasedTx(ctx, tx, accountID); err != nil {
		return nil, err
	} else if ok {
		if err := s.appendEntry(ctx, tx, accountID, -1, models.CreditSourcePurchased, models.CreditBucketPurchased, "thread response", &threadID, nil); err != nil {
			return nil, err
		}
		return &DebitResult{SourceUsed: models.CreditSourcePurchased, NewBalance: newBalance}, nil
	}

	if newBalance, ok, err := s.accounts.DeductReferralTx(ctx, tx, accountID); err != nil {
		return nil, err
	} else if ok {
		if err := s.appendEntry(ctx, tx, accountID, -1, models.CreditSourceReferral, models.CreditBucketReferral, "thread response", &threadID, nil); err != nil {
			return nil, err
		}
		return &DebitResult{SourceUsed: models.CreditSourceReferral, NewBalance: newBalance}, nil
	}

	return nil, ErrInsufficientCredits
}

// InvalidateStatus drops the cached status after an external commit.
func (s *Service) InvalidateStatus(ctx context.Context, accountID uuid.UUID) {
	s.cache.Invalidate(ctx, accountID)
}

// Grant applies an administrative credit grant. Account rows are created
// lazily here: the payment gateway's first grant for a professional is what
// brings the account into existence.
func (s *Service) Grant(ctx context.Context, args GrantArgs) (*Status, error) {
	if err := validateGrant(args); err != nil {
		return nil, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.accounts.EnsureTx(ctx, tx, args.AccountID); err != nil {
		return nil, err
	}
	if args.Bucket == models.CreditBucketUnlimited {
		if _, err := s.accounts.ExtendUnlimitedTx(ctx, tx, args.AccountID, time.Duration(args.Amount)*24*time.Hour); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.accounts.AddCreditsTx(ctx, tx, args.AccountID, args.Bucket, args.Amount); err != nil {
			return nil, err
		}
	}
	if err := s.appendEntry(ctx, tx, args.AccountID, args.Amount, models.CreditSourceAdminGrant, args.Bucket, args.Reason, nil, &args.ActorID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, args.AccountID)
	s.log.Info("credit grant applied", "account_id", args.AccountID, "bucket", args.Bucket, "amount", args.Amount, "actor_id", args.ActorID)
	return s.GetStatus(ctx, args.AccountID)
}

// Revoke applies an administrative credit revocation. A revoke that would
// push a balance negative is rejected, not clamped.
func (s *Service) Revoke(ctx context.Context, args GrantArgs) (*Status, error) {
	if err := validateRevoke(args); err != nil {
		return nil, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.accounts.GetForUpdate(ctx, tx, args.AccountID); err != nil {
		return nil, err
	}
	if args.Bucket == models.CreditBucketUnlimited {
		if err := s.accounts.ClearUnlimitedTx(ctx, tx, args.AccountID); err != nil {
			return nil, err
		}
	} else {
		if _, ok, err := s.accounts.RemoveCreditsTx(ctx, tx, args.AccountID, args.Bucket, args.Amount); err != nil {
			return nil, err
		} else if !ok {
			return nil, ErrInsufficientCredits
		}
	}
	if err := s.appendEntry(ctx, tx, args.AccountID, -args.Amount, models.CreditSourceAdminRevoke, args.Bucket, args.Reason, nil, &args.ActorID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, args.AccountID)
	s.log.Info("credit revoke applied", "account_id", args.AccountID, "bucket", args.Bucket, "amount", args.Amount, "actor_id", args.ActorID)
	return s.GetStatus(ctx, args.AccountID)
}

// ListTransactions returns the audit log for one account, newest first.
func (s *Service) ListTransactions(ctx context.Context, accountID uuid.UUID) ([]*models.CreditTransaction, error) {
	return s.entries.ListByAccountID(ctx, accountID)
}

// ListThreadTransactions returns the entries charged against one thread.
// Used for billing disputes: "was I charged for this conversation, and when".
func (s *Service) ListThreadTransactions(ctx context.Context, threadID uuid.UUID) ([]*models.CreditTransaction, error) {
	return s.entries.ListByThreadID(ctx, threadID)
}

func (s *Service) appendEntry(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, source, bucket, reason string, threadID, actorID *uuid.UUID) error {
	return s.entries.CreateTx(ctx, tx, &models.CreditTransaction{
		ID:              uuid.New(),
		AccountID:       accountID,
		Amount:          amount,
		Source:          source,
		Bucket:          bucket,
		Reason:          reason,
		RelatedThreadID: threadID,
		ActorID:         actorID,
	})
}

func validateBucket(bucket string) error {
	switch bucket {
	case models.CreditBucketUnlimited, models.CreditBucketPurchased, models.CreditBucketReferral:
		return nil
	default:
		return fmt.Errorf("%w: unknown bucket %q", ErrInvalidGrant, bucket)
	}
}

// validateGrant requires a positive amount for every bucket. A zero-day
// unlimited grant would activate an entitlement that is already expired.
func validateGrant(args GrantArgs) error {
	if err := validateBucket(args.Bucket); err != nil {
		return err
	}
	if args.Amount <= 0 {
		return fmt.Errorf("%w: amount must be > 0", ErrInvalidGrant)
	}
	return nil
}

// validateRevoke allows a zero amount for the unlimited bucket, where the
// revoke clears the entitlement and the amount is unused.
func validateRevoke(args GrantArgs) error {
	if err := validateBucket(args.Bucket); err != nil {
		return err
	}
	if args.Bucket == models.CreditBucketUnlimited {
		if args.Amount < 0 {
			return fmt.Errorf("%w: amount must be >= 0", ErrInvalidGrant)
		}
		return nil
	}
	if args.Amount <= 0 {
		return fmt.Errorf("%w: amount must be > 0", ErrInvalidGrant)
	}
	return nil
}
