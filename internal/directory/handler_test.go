package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servana/backend/internal/identity"
	"github.com/servana/backend/internal/models"
)

// perUserThreads serves direct threads keyed by the requesting user.
type perUserThreads struct {
	byUser map[uuid.UUID][]*models.Thread
}

func (s *perUserThreads) ListByUser(_ context.Context, userID uuid.UUID, _, kind string) ([]*models.Thread, error) {
	if kind != models.ThreadKindDirect {
		return nil, nil
	}
	return s.byUser[userID], nil
}

func doList(h *Handler, target string, p *identity.Principal) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if p != nil {
		req = req.WithContext(identity.WithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	h.List(rec, req)
	return rec
}

func decodeSummaries(t *testing.T, rec *httptest.ResponseRecorder) []models.ThreadSummary {
	t.Helper()
	var got []models.ThreadSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	return got
}

func TestListHandler(t *testing.T) {
	client := uuid.New()
	thread := threadAt(models.ThreadKindDirect, time.Now(), nil)
	threads := &perUserThreads{byUser: map[uuid.UUID][]*models.Thread{client: {thread}}}
	h := NewHandler(NewService(threads, &stubMessages{}, nil), nil)

	rec := doList(h, "/v1/conversations", &identity.Principal{UserID: client, Role: models.RoleClient})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeSummaries(t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, thread.ID, got[0].Thread.ID)

	rec = doList(h, "/v1/conversations", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListHandlerAdminInspection(t *testing.T) {
	target := uuid.New()
	thread := threadAt(models.ThreadKindDirect, time.Now(), nil)
	threads := &perUserThreads{byUser: map[uuid.UUID][]*models.Thread{target: {thread}}}
	h := NewHandler(NewService(threads, &stubMessages{}, nil), nil)
	admin := &identity.Principal{UserID: uuid.New(), Role: models.RoleAdmin}

	// Admins inspect a named user's inbox, not their own (empty) one.
	rec := doList(h, "/v1/conversations?role=client&user_id="+target.String(), admin)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeSummaries(t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, thread.ID, got[0].Thread.ID)

	// Both the role and the user id are required.
	rec = doList(h, "/v1/conversations?role=client", admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doList(h, "/v1/conversations?user_id="+target.String(), admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doList(h, "/v1/conversations?role=wizard&user_id="+target.String(), admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
