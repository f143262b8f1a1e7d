package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/servana/backend/internal/identity"
	"github.com/servana/backend/internal/models"
	"github.com/servana/backend/internal/repository"
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

// GetStatus handles GET /v1/credit-status. Professionals read their own
// status; admins may pass ?account_id= to read anyone's. Read errors degrade
// to a zero status so a broken cache or replica never blanks the screen.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	p := identity.FromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	accountID := p.UserID
	if raw := r.URL.Query().Get("account_id"); raw != "" && p.IsAdmin() {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, `{"error":"invalid account_id"}`, http.StatusBadRequest)
			return
		}
		accountID = id
	}
	st, err := h.svc.GetStatus(r.Context(), accountID)
	if err != nil {
		h.log.Warn("credit status read failed", "account_id", accountID, "error", err)
		st = &Status{}
	}
	writeJSON(w, http.StatusOK, st)
}

type debitRequest struct {
	ThreadID string `json:"thread_id"`
}

// Debit handles POST /v1/credit-debit. The thread id is the idempotency key:
// retrying the call for a thread that was already charged returns the
// original outcome with already_paid set, never a second deduction.
func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	p := identity.FromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if p.Role != models.RoleProfessional {
		http.Error(w, `{"error":"only professionals hold credits"}`, http.StatusForbidden)
		return
	}
	var req debitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	threadID, err := uuid.Parse(req.ThreadID)
	if err != nil {
		http.Error(w, `{"error":"invalid thread_id"}`, http.StatusBadRequest)
		return
	}
	res, err := h.svc.Debit(r.Context(), p.UserID, threadID)
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			http.Error(w, `{"error":"insufficient credits"}`, http.StatusPaymentRequired)
			return
		}
		h.log.Error("debit failed", "account_id", p.UserID, "thread_id", threadID, "error", err)
		http.Error(w, `{"error":"store unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type adjustRequest struct {
	AccountID string `json:"account_id"`
	Amount    int    `json:"amount"`
	Bucket    string `json:"bucket"`
	Reason    string `json:"reason"`
}

// Grant handles POST /v1/admin/credits/grant.
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.svc.Grant)
}

// Revoke handles POST /v1/admin/credits/revoke.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.svc.Revoke)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, args GrantArgs) (*Status, error)) {
	p := identity.FromCtx(r.Context())
	if p == nil || !p.IsAdmin() {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		http.Error(w, `{"error":"invalid account_id"}`, http.StatusBadRequest)
		return
	}
	st, err := op(r.Context(), GrantArgs{
		AccountID: accountID,
		Amount:    req.Amount,
		Bucket:    req.Bucket,
		Reason:    req.Reason,
		ActorID:   p.UserID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidGrant):
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		case errors.Is(err, ErrInsufficientCredits):
			http.Error(w, `{"error":"revoke exceeds balance"}`, http.StatusConflict)
		case errors.Is(err, repository.ErrAccountNotFound):
			http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
		default:
			h.log.Error("credit adjustment failed", "account_id", accountID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListTransactions handles GET /v1/admin/credits/{accountID}/transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	p := identity.FromCtx(r.Context())
	if p == nil || !p.IsAdmin() {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	accountID, err := uuid.Parse(r.PathValue("accountID"))
	if err != nil {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return
	}
	list, err := h.svc.ListTransactions(r.Context(), accountID)
	if err != nil {
		h.log.Error("list credit transactions", "account_id", accountID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListThreadTransactions handles GET /v1/admin/credits/threads/{threadID}/transactions.
func (h *Handler) ListThreadTransactions(w http.ResponseWriter, r *http.Request) {
	p := identity.FromCtx(r.Context())
	if p == nil || !p.IsAdmin() {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	threadID, err := uuid.Parse(r.PathValue("threadID"))
	if err != nil {
		http.Error(w, `{"error":"invalid thread id"}`, http.StatusBadRequest)
		return
	}
	list, err := h.svc.ListThreadTransactions(r.Context(), threadID)
	if err != nil {
		h.log.Error("list thread transactions", "thread_id", threadID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
