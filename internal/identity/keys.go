package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/servana/backend/internal/models"
)

// KeyManager is the repository surface for issuing and revoking API keys.
type KeyManager interface {
	Create(ctx context.Context, k *models.APIKey) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// KeyHandler manages gateway API keys. Admin-only; the raw key is returned
// exactly once, at creation. Only its hash is stored.
type KeyHandler struct {
	keys KeyManager
	log  *slog.Logger
}

func NewKeyHandler(keys KeyManager, log *slog.Logger) *KeyHandler {
	if log == nil {
		log = slog.Default()
	}
	return &KeyHandler{keys: keys, log: log}
}

const keyPrefixLen = 8

type createKeyRequest struct {
	Label string `json:"label"`
}

type createKeyResponse struct {
	ID     uuid.UUID `json:"id"`
	Key    string    `json:"key"`
	Prefix string    `json:"prefix"`
	Label  string    `json:"label"`
}

// Create handles POST /v1/admin/api-keys.
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	p := FromCtx(r.Context())
	if p == nil || !p.IsAdmin() {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		h.log.Error("api key generation failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	raw := "sv_" + hex.EncodeToString(buf)

	key := &models.APIKey{
		ID:        uuid.New(),
		ActorID:   p.UserID,
		KeyHash:   HashKey(raw),
		KeyPrefix: raw[:keyPrefixLen],
		Label:     req.Label,
		IsActive:  true,
	}
	if err := h.keys.Create(r.Context(), key); err != nil {
		h.log.Error("api key creation failed", "error", err)
		http.Error(w, `{"error":"store unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	h.log.Info("api key created", "key_id", key.ID, "actor_id", p.UserID, "label", req.Label)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createKeyResponse{
		ID:     key.ID,
		Key:    raw,
		Prefix: key.KeyPrefix,
		Label:  key.Label,
	})
}

// Deactivate handles DELETE /v1/admin/api-keys/{id}.
func (h *KeyHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	p := FromCtx(r.Context())
	if p == nil || !p.IsAdmin() {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid key id"}`, http.StatusBadRequest)
		return
	}
	if err := h.keys.Deactivate(r.Context(), id); err != nil {
		h.log.Error("api key deactivation failed", "key_id", id, "error", err)
		http.Error(w, `{"error":"store unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	h.log.Info("api key deactivated", "key_id", id, "actor_id", p.UserID)
	w.WriteHeader(http.StatusNoContent)
}
