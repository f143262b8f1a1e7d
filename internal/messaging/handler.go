package messaging

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/servana/backend/internal/identity"
	"github.com/servana/backend/internal/ledger"
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

type sendRequest struct {
	ThreadKind     string  `json:"thread_kind"`
	ThreadID       string  `json:"thread_id,omitempty"`
	ClientID       string  `json:"client_id,omitempty"`
	ProfessionalID string  `json:"professional_id,omitempty"`
	Body           string  `json:"body"`
	AttachmentRef  *string `json:"attachment_ref,omitempty"`
}

// Send handles POST /v1/messages.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	p := identity.FromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if p.Role != models.RoleClient && p.Role != models.RoleProfessional {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	ref, err := refFromRequest(&req, p)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	msg, err := h.svc.Send(r.Context(), SendArgs{
		Ref:           ref,
		SenderID:      p.UserID,
		SenderRole:    p.Role,
		Body:          req.Body,
		AttachmentRef: req.AttachmentRef,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientCredits):
			http.Error(w, `{"error":"insufficient credits: buy credits or upgrade to respond"}`, http.StatusPaymentRequired)
		case errors.Is(err, ErrThreadNotFound):
			http.Error(w, `{"error":"thread not found"}`, http.StatusNotFound)
		case errors.Is(err, ErrNotParticipant):
			http.Error(w, `{"error":"not a participant"}`, http.StatusForbidden)
		case errors.Is(err, ErrEmptyMessage):
			http.Error(w, `{"error":"message needs a body or attachment"}`, http.StatusBadRequest)
		default:
			h.log.Error("send message failed", "error", err)
			http.Error(w, `{"error":"store unavailable"}`, http.StatusServiceUnavailable)
		}
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func refFromRequest(req *sendRequest, p *identity.Principal) (models.ThreadRef, error) {
	var ref models.ThreadRef
	ref.Kind = req.ThreadKind
	if req.ThreadID != "" {
		id, err := uuid.Parse(req.ThreadID)
		if err != nil {
			return ref, errors.New("invalid thread_id")
		}
		ref.ID = id
		return ref, nil
	}
	// First contact: a client opening a direct thread names the
	// professional; their own side is implied by the principal.
	if req.ThreadKind != models.ThreadKindDirect {
		return ref, errors.New("thread_id is required for quote threads")
	}
	counterpart := req.ProfessionalID
	if p.Role == models.RoleProfessional {
		counterpart = req.ClientID
	}
	other, err := uuid.Parse(counterpart)
	if err != nil {
		return ref, errors.New("invalid counterpart id")
	}
	if p.Role == models.RoleClient {
		ref.ClientID = p.UserID
		ref.ProfessionalID = other
	} else {
		ref.ClientID = other
		ref.ProfessionalID = p.UserID
	}
	return ref, nil
}

type quoteThreadRequest struct {
	QuoteID        string `json:"quote_id"`
	ClientID       string `json:"client_id"`
	ProfessionalID string `json:"professional_id"`
}

// CreateQuoteThread handles POST /v1/admin/threads/quote. Called by the quote
// service when a professional responds to a quote; the admin surface keeps it
// off limits for end users.
func (h *Handler) CreateQuoteThread(w http.ResponseWriter, r *http.Request) {
	p := identity.FromCtx(r.Context())
	if p == nil || !p.IsAdmin() {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	var req quoteThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	quoteID, err1 := uuid.Parse(req.QuoteID)
	clientID, err2 := uuid.Parse(req.ClientID)
	professionalID, err3 := uuid.Parse(req.ProfessionalID)
	if err1 != nil || err2 != nil || err3 != nil {
		http.Error(w, `{"error":"quote_id, client_id and professional_id must be uuids"}`, http.StatusBadRequest)
		return
	}
	thread, err := h.svc.RegisterQuoteThread(r.Context(), quoteID, clientID, professionalID)
	if err != nil {
		if errors.Is(err, ErrInvalidQuoteRef) {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
			return
		}
		h.log.Error("quote thread registration failed", "quote_id", quoteID, "error", err)
		http.Error(w, `{"error":"store unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusCreated, thread)
}

// ListMessages handles GET /v1/threads/{id}/messages.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	p := identity.FromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	threadID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid thread id"}`, http.StatusBadRequest)
		return
	}
	msgs, err := h.svc.ListMessages(r.Context(), threadID, p.UserID)
	if err != nil {
		switch {
		case errors.Is(err, ErrThreadNotFound):
			http.Error(w, `{"error":"thread not found"}`, http.StatusNotFound)
		case errors.Is(err, ErrNotParticipant):
			http.Error(w, `{"error":"not a participant"}`, http.StatusForbidden)
		default:
			h.log.Error("list messages failed", "thread_id", threadID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// MarkRead handles POST /v1/threads/{id}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	p := identity.FromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	threadID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid thread id"}`, http.StatusBadRequest)
		return
	}
	if err := h.svc.MarkThreadRead(r.Context(), threadID, p.UserID); err != nil {
		switch {
		case errors.Is(err, ErrThreadNotFound):
			http.Error(w, `{"error":"thread not found"}`, http.StatusNotFound)
		case errors.Is(err, ErrNotParticipant):
			http.Error(w, `{"error":"not a participant"}`, http.StatusForbidden)
		default:
			h.log.Error("mark read failed", "thread_id", threadID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
