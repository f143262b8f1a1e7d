package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit transaction sources.
const (
	CreditSourceUnlimited   = "unlimited"
	CreditSourcePurchased   = "purchased"
	CreditSourceReferral    = "referral"
	CreditSourceAdminGrant  = "admin_grant"
	CreditSourceAdminRevoke = "admin_revoke"
)

// Balance buckets a transaction applies to. Admin grants/revokes carry the
// admin_* source plus the bucket they touched, so per-bucket sums still
// reconstruct the balances.
const (
	CreditBucketUnlimited = "unlimited"
	CreditBucketPurchased = "purchased"
	CreditBucketReferral  = "referral"
)

// CreditTransaction is one append-only ledger entry. Amount is signed:
// debits are negative, grants positive.
type CreditTransaction struct {
	ID              uuid.UUID  `json:"id"`
	AccountID       uuid.UUID  `json:"account_id"`
	Amount          int        `json:"amount"`
	Source          string     `json:"source"`
	Bucket          string     `json:"bucket"`
	Reason          string     `json:"reason"`
	RelatedThreadID *uuid.UUID `json:"related_thread_id,omitempty"`
	ActorID         *uuid.UUID `json:"actor_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
