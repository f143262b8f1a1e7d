package models

import (
	"github.com/google/uuid"
)

// APIKey authenticates machine callers of the privileged credit endpoints
// (the payment gateway and internal admin tooling). Only the SHA-256 hash of
// the key is stored.
type APIKey struct {
	ID        uuid.UUID `json:"id"`
	ActorID   uuid.UUID `json:"actor_id"`
	KeyHash   string    `json:"-"`
	KeyPrefix string    `json:"key_prefix"`
	Label     string    `json:"label"`
	IsActive  bool      `json:"is_active"`
}
