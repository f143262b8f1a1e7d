package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles as supplied by the identity provider.
const (
	RoleClient       = "client"
	RoleProfessional = "professional"
	RoleAdmin        = "admin"
)

// CreditAccount holds the entitlement state for one professional. Balances
// are cached projections of credit_transactions; the conditional UPDATEs in
// the repository keep them from ever going negative.
type CreditAccount struct {
	ProfessionalID     uuid.UUID  `json:"professional_id"`
	UnlimitedActive    bool       `json:"unlimited_active"`
	UnlimitedExpiresAt *time.Time `json:"unlimited_expires_at,omitempty"`
	PurchasedBalance   int        `json:"purchased_balance"`
	ReferralBalance    int        `json:"referral_balance"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// UnlimitedValid reports whether the unlimited entitlement covers the given
// instant. An expiry exactly equal to now counts as expired.
func (a *CreditAccount) UnlimitedValid(now time.Time) bool {
	if !a.UnlimitedActive {
		return false
	}
	if a.UnlimitedExpiresAt == nil {
		return true
	}
	return a.UnlimitedExpiresAt.After(now)
}
