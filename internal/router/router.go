package router

import (
	"net/http"

	"github.com/servana/backend/internal/directory"
	"github.com/servana/backend/internal/identity"
	"github.com/servana/backend/internal/ledger"
	"github.com/servana/backend/internal/messaging"
)

// New assembles the /v1 API. The user surface is behind the identity
// middleware; the admin credit surface additionally accepts gateway API
// keys.
func New(
	verifier *identity.Verifier,
	apiKeys identity.APIKeyStore,
	ledgerHandler *ledger.Handler,
	messagingHandler *messaging.Handler,
	directoryHandler *directory.Handler,
	keyHandler *identity.KeyHandler,
) http.Handler {
	mux := http.NewServeMux()

	auth := identity.Middleware(verifier)
	adminAuth := identity.APIKeyAuth(apiKeys, verifier)

	mux.Handle("GET /v1/credit-status", auth(http.HandlerFunc(ledgerHandler.GetStatus)))
	mux.Handle("POST /v1/credit-debit", auth(http.HandlerFunc(ledgerHandler.Debit)))

	mux.Handle("POST /v1/messages", auth(http.HandlerFunc(messagingHandler.Send)))
	mux.Handle("GET /v1/threads/{id}/messages", auth(http.HandlerFunc(messagingHandler.ListMessages)))
	mux.Handle("POST /v1/threads/{id}/read", auth(http.HandlerFunc(messagingHandler.MarkRead)))

	mux.Handle("GET /v1/conversations", auth(http.HandlerFunc(directoryHandler.List)))

	mux.Handle("POST /v1/admin/credits/grant", adminAuth(http.HandlerFunc(ledgerHandler.Grant)))
	mux.Handle("POST /v1/admin/credits/revoke", adminAuth(http.HandlerFunc(ledgerHandler.Revoke)))
	mux.Handle("GET /v1/admin/credits/{accountID}/transactions", adminAuth(http.HandlerFunc(ledgerHandler.ListTransactions)))
	mux.Handle("GET /v1/admin/credits/threads/{threadID}/transactions", adminAuth(http.HandlerFunc(ledgerHandler.ListThreadTransactions)))

	mux.Handle("POST /v1/admin/threads/quote", adminAuth(http.HandlerFunc(messagingHandler.CreateQuoteThread)))

	mux.Handle("POST /v1/admin/api-keys", adminAuth(http.HandlerFunc(keyHandler.Create)))
	mux.Handle("DELETE /v1/admin/api-keys/{id}", adminAuth(http.HandlerFunc(keyHandler.Deactivate)))

	return mux
}
