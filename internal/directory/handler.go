package directory

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/servana/backend/internal/identity"
	"github.com/servana/backend/internal/models"
)

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// List handles GET /v1/conversations. Read errors degrade to an empty list:
// a flaky replica should not blank the inbox screen.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p := identity.FromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	userID := p.UserID
	role := p.Role
	if role != models.RoleClient && role != models.RoleProfessional {
		// Admins inspect a user's inbox with ?user_id= and ?role=.
		role = r.URL.Query().Get("role")
		if role != models.RoleClient && role != models.RoleProfessional {
			http.Error(w, `{"error":"role must be client or professional"}`, http.StatusBadRequest)
			return
		}
		id, err := uuid.Parse(r.URL.Query().Get("user_id"))
		if err != nil {
			http.Error(w, `{"error":"user_id must be a uuid"}`, http.StatusBadRequest)
			return
		}
		userID = id
	}
	summaries, err := h.svc.List(r.Context(), userID, role)
	if err != nil {
		h.log.Warn("conversation listing failed", "user_id", userID, "error", err)
		summaries = []models.ThreadSummary{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summaries)
}
