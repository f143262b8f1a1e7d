package models

import (
	"time"

	"github.com/google/uuid"
)

// Thread kinds.
const (
	ThreadKindQuote  = "quote"
	ThreadKindDirect = "direct"
)

// ThreadRef identifies a thread on the wire: kind plus id. For direct
// threads the id may be unknown on first contact, in which case the
// client/professional pair resolves (or lazily creates) it.
type ThreadRef struct {
	Kind           string    `json:"kind"`
	ID             uuid.UUID `json:"id,omitempty"`
	ClientID       uuid.UUID `json:"client_id,omitempty"`
	ProfessionalID uuid.UUID `json:"professional_id,omitempty"`
}

// Thread is one conversation between a client and a professional. Quote
// threads are anchored to a quote response; direct threads are keyed by the
// participant pair (at most one per pair).
//
// ProfessionalResponded is the billing gate: it transitions false→true at
// most once, only together with a successful credit debit (direct threads)
// or for free (quote threads, where responding is what the quote flow paid
// for).
type Thread struct {
	ID                    uuid.UUID  `json:"id"`
	Kind                  string     `json:"kind"`
	QuoteID               *uuid.UUID `json:"quote_id,omitempty"`
	ClientID              uuid.UUID  `json:"client_id"`
	ProfessionalID        uuid.UUID  `json:"professional_id"`
	ProfessionalResponded bool       `json:"professional_responded"`
	LastMessageAt         *time.Time `json:"last_message_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// Ref returns the resolved reference for this thread.
func (t *Thread) Ref() ThreadRef {
	return ThreadRef{Kind: t.Kind, ID: t.ID, ClientID: t.ClientID, ProfessionalID: t.ProfessionalID}
}

// HasParticipant reports whether userID is one of the two participants.
func (t *Thread) HasParticipant(userID uuid.UUID) bool {
	return t.ClientID == userID || t.ProfessionalID == userID
}

// Counterpart returns the other participant's id.
func (t *Thread) Counterpart(userID uuid.UUID) uuid.UUID {
	if t.ClientID == userID {
		return t.ProfessionalID
	}
	return t.ClientID
}

// EffectiveTime is the ranking key for directory listings: last message
// time, falling back to creation time for threads with no messages yet.
func (t *Thread) EffectiveTime() time.Time {
	if t.LastMessageAt != nil {
		return *t.LastMessageAt
	}
	return t.CreatedAt
}
