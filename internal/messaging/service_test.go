package messaging

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servana/backend/internal/ledger"
	"github.com/servana/backend/internal/models"
	"github.com/servana/backend/internal/notify"
)

// ---------------------------------------------------------------------------
// Transaction-aware in-memory fakes. Each mutation registers an undo on the
// fake transaction, so a rollback really reverts state. That is the part of
// the billing semantics worth testing.
// ---------------------------------------------------------------------------

type fakeTx struct {
	mu        sync.Mutex
	committed bool
	undo      []func()
}

func (t *fakeTx) onRollback(fn func()) {
	t.mu.Lock()
	t.undo = append(t.undo, fn)
	t.mu.Unlock()
}

func (t *fakeTx) Begin(_ context.Context) (pgx.Tx, error) { return t, nil }

func (t *fakeTx) Commit(_ context.Context) error {
	t.mu.Lock()
	t.committed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return pgx.ErrTxClosed
	}
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	return nil
}

func (t *fakeTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *fakeTx) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                             { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakeTx) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *fakeTx) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) { return nil, nil }
func (t *fakeTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row        { return nil }
func (t *fakeTx) Conn() *pgx.Conn                                               { return nil }

func undoOn(tx pgx.Tx, fn func()) {
	if ft, ok := tx.(*fakeTx); ok && ft != nil {
		ft.onRollback(fn)
	}
}

// memDB backs ThreadStore, MessageStore and CreditDebiter for one test.
type memDB struct {
	mu            sync.Mutex
	threads       map[uuid.UUID]*models.Thread
	messages      []*models.Message
	credits       map[uuid.UUID]int
	debits        int
	invalidated   []uuid.UUID
	notifications []notify.MessageNotifyArgs
}

func newMemDB() *memDB {
	return &memDB{
		threads: make(map[uuid.UUID]*models.Thread),
		credits: make(map[uuid.UUID]int),
	}
}

func (db *memDB) Begin(_ context.Context) (pgx.Tx, error) { return &fakeTx{}, nil }

func (db *memDB) addThread(t *models.Thread) {
	db.mu.Lock()
	db.threads[t.ID] = t
	db.mu.Unlock()
}

func (db *memDB) GetByID(_ context.Context, id uuid.UUID) (*models.Thread, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.threads[id]
	if !ok {
		return nil, ErrThreadNotFound
	}
	cp := *t
	return &cp, nil
}

func (db *memDB) GetDirectByPair(_ context.Context, clientID, professionalID uuid.UUID) (*models.Thread, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, t := range db.threads {
		if t.Kind == models.ThreadKindDirect && t.ClientID == clientID && t.ProfessionalID == professionalID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrThreadNotFound
}

func (db *memDB) GetOrCreateDirect(ctx context.Context, clientID, professionalID uuid.UUID) (*models.Thread, error) {
	if t, err := db.GetDirectByPair(ctx, clientID, professionalID); err == nil {
		return t, nil
	}
	t := &models.Thread{
		ID:             uuid.New(),
		Kind:           models.ThreadKindDirect,
		ClientID:       clientID,
		ProfessionalID: professionalID,
		CreatedAt:      time.Now(),
	}
	db.addThread(t)
	cp := *t
	return &cp, nil
}

func (db *memDB) CreateQuote(_ context.Context, quoteID, clientID, professionalID uuid.UUID) (*models.Thread, error) {
	t := &models.Thread{
		ID:             uuid.New(),
		Kind:           models.ThreadKindQuote,
		QuoteID:        &quoteID,
		ClientID:       clientID,
		ProfessionalID: professionalID,
		CreatedAt:      time.Now(),
	}
	db.addThread(t)
	cp := *t
	return &cp, nil
}

func (db *memDB) MarkRespondedTx(_ context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.threads[id]
	if !ok {
		return false, ErrThreadNotFound
	}
	if t.ProfessionalResponded {
		return false, nil
	}
	t.ProfessionalResponded = true
	undoOn(tx, func() {
		db.mu.Lock()
		t.ProfessionalResponded = false
		db.mu.Unlock()
	})
	return true, nil
}

func (db *memDB) TouchLastMessageTx(_ context.Context, _ pgx.Tx, id uuid.UUID, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.threads[id]
	if !ok {
		return ErrThreadNotFound
	}
	if t.LastMessageAt == nil || at.After(*t.LastMessageAt) {
		t.LastMessageAt = &at
	}
	return nil
}

func (db *memDB) CreateTx(_ context.Context, tx pgx.Tx, m *models.Message) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	m.CreatedAt = time.Now()
	cp := *m
	db.messages = append(db.messages, &cp)
	undoOn(tx, func() {
		db.mu.Lock()
		defer db.mu.Unlock()
		for i, x := range db.messages {
			if x.ID == m.ID {
				db.messages = append(db.messages[:i], db.messages[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (db *memDB) ListByThread(_ context.Context, threadID uuid.UUID) ([]*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*models.Message
	for _, m := range db.messages {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (db *memDB) MarkRead(_ context.Context, threadID, viewerID uuid.UUID) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, m := range db.messages {
		if m.ThreadID == threadID && m.SenderID != viewerID {
			m.IsRead = true
		}
	}
	return nil
}

func (db *memDB) DebitTx(_ context.Context, tx pgx.Tx, accountID uuid.UUID, _ uuid.UUID) (*ledger.DebitResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.credits[accountID] <= 0 {
		return nil, ledger.ErrInsufficientCredits
	}
	db.credits[accountID]--
	db.debits++
	undoOn(tx, func() {
		db.mu.Lock()
		db.credits[accountID]++
		db.debits--
		db.mu.Unlock()
	})
	return &ledger.DebitResult{SourceUsed: models.CreditSourcePurchased, NewBalance: db.credits[accountID]}, nil
}

func (db *memDB) InvalidateStatus(_ context.Context, accountID uuid.UUID) {
	db.mu.Lock()
	db.invalidated = append(db.invalidated, accountID)
	db.mu.Unlock()
}

func (db *memDB) insertNotify(_ context.Context, tx pgx.Tx, args notify.MessageNotifyArgs) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.notifications = append(db.notifications, args)
	n := len(db.notifications)
	undoOn(tx, func() {
		db.mu.Lock()
		if len(db.notifications) >= n {
			db.notifications = db.notifications[:n-1]
		}
		db.mu.Unlock()
	})
	return nil
}

func (db *memDB) debitCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.debits
}

func (db *memDB) messageCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.messages)
}

func (db *memDB) responded(id uuid.UUID) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.threads[id].ProfessionalResponded
}

// ---------------------------------------------------------------------------

func newTestService(db *memDB) *Service {
	return NewService(db, db, db, db, db.insertNotify, nil)
}

func directThread(clientID, professionalID uuid.UUID) *models.Thread {
	return &models.Thread{
		ID:             uuid.New(),
		Kind:           models.ThreadKindDirect,
		ClientID:       clientID,
		ProfessionalID: professionalID,
		CreatedAt:      time.Now(),
	}
}

func quoteThread(clientID, professionalID uuid.UUID) *models.Thread {
	qid := uuid.New()
	return &models.Thread{
		ID:             uuid.New(),
		Kind:           models.ThreadKindQuote,
		QuoteID:        &qid,
		ClientID:       clientID,
		ProfessionalID: professionalID,
		CreatedAt:      time.Now(),
	}
}

func sendAs(svc *Service, t *models.Thread, senderID uuid.UUID, role, body string) (*models.Message, error) {
	return svc.Send(context.Background(), SendArgs{
		Ref:        models.ThreadRef{ID: t.ID},
		SenderID:   senderID,
		SenderRole: role,
		Body:       body,
	})
}

// ---------------------------------------------------------------------------

func TestFirstResponseCharges(t *testing.T) {
	client, pro := uuid.New(), uuid.New()
	db := newMemDB()
	thread := directThread(client, pro)
	db.addThread(thread)
	db.credits[pro] = 2
	svc := newTestService(db)

	msg, err := sendAs(svc, thread, pro, models.RoleProfessional, "Happy to help with the renovation.")
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, 1, db.debitCount())
	assert.Equal(t, 1, db.credits[pro])
	assert.True(t, db.responded(thread.ID))
	assert.Equal(t, 1, db.messageCount())
	require.Len(t, db.notifications, 1)
	assert.Equal(t, client, db.notifications[0].RecipientID)
	assert.Contains(t, db.invalidated, pro)
}

func TestConcurrentFirstResponsesChargeOnce(t *testing.T) {
	client, pro := uuid.New(), uuid.New()
	db := newMemDB()
	thread := directThread(client, pro)
	db.addThread(thread)
	db.credits[pro] = 5
	svc := newTestService(db)

	const senders = 8
	errs := make(chan error, senders)
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sendAs(svc, thread, pro, models.RoleProfessional, "On my way.")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, db.debitCount(), "the race must resolve to exactly one debit")
	assert.Equal(t, 4, db.credits[pro])
	assert.Equal(t, senders, db.messageCount(), "losing senders still deliver, free")
	assert.True(t, db.responded(thread.ID))
}

func TestInsufficientCreditsAbortsSend(t *testing.T) {
	client, pro := uuid.New(), uuid.New()
	db := newMemDB()
	thread := directThread(client, pro)
	db.addThread(thread)
	svc := newTestService(db)

	_, err := sendAs(svc, thread, pro, models.RoleProfessional, "hello")
	require.ErrorIs(t, err, ledger.ErrInsufficientCredits)

	assert.Equal(t, 0, db.messageCount(), "no message may land without payment")
	assert.False(t, db.responded(thread.ID), "the gate flip must roll back with the failed debit")
	assert.Empty(t, db.notifications)
	assert.Equal(t, 0, db.debitCount())
}

func TestQuoteThreadsAreFree(t *testing.T) {
	client, pro := uuid.New(), uuid.New()
	db := newMemDB()
	thread := quoteThread(client, pro)
	db.addThread(thread)
	svc := newTestService(db)

	_, err := sendAs(svc, thread, pro, models.RoleProfessional, "Here is my quote.")
	require.NoError(t, err)

	assert.Equal(t, 0, db.debitCount())
	assert.True(t, db.responded(thread.ID), "the gate still records the first response")
}

func TestRepeatResponsesAreFree(t *testing.T) {
	client, pro := uuid.New(), uuid.New()
	db := newMemDB()
	thread := directThread(client, pro)
	db.addThread(thread)
	db.credits[pro] = 1
	svc := newTestService(db)

	_, err := sendAs(svc, thread, pro, models.RoleProfessional, "first")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := sendAs(svc, thread, pro, models.RoleProfessional, "followup")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, db.debitCount())
	assert.Equal(t, 0, db.credits[pro])
}

func TestClientFirstContactCreatesThreadFree(t *testing.T) {
	client, pro := uuid.New(), uuid.New()
	db := newMemDB()
	svc := newTestService(db)

	msg, err := svc.Send(context.Background(), SendArgs{
		Ref:        models.ThreadRef{Kind: models.ThreadKindDirect, ClientID: client, ProfessionalID: pro},
		SenderID:   client,
		SenderRole: models.RoleClient,
		Body:       "Are you available next week?",
	})
	require.NoError(t, err)

	assert.Equal(t, 0, db.debitCount(), "clients never pay")
	assert.False(t, db.responded(msg.ThreadID))
	require.Len(t, db.notifications, 1)
	assert.Equal(t, pro, db.notifications[0].RecipientID)

	// A second contact reuses the same thread.
	msg2, err := svc.Send(context.Background(), SendArgs{
		Ref:        models.ThreadRef{Kind: models.ThreadKindDirect, ClientID: client, ProfessionalID: pro},
		SenderID:   client,
		SenderRole: models.RoleClient,
		Body:       "Forgot to mention: it's a two-day job.",
	})
	require.NoError(t, err)
	assert.Equal(t, msg.ThreadID, msg2.ThreadID)
}

func TestProfessionalCannotOpenDirectThread(t *testing.T) {
	db := newMemDB()
	svc := newTestService(db)

	_, err := svc.Send(context.Background(), SendArgs{
		Ref:        models.ThreadRef{Kind: models.ThreadKindDirect, ClientID: uuid.New(), ProfessionalID: uuid.New()},
		SenderID:   uuid.New(),
		SenderRole: models.RoleProfessional,
		Body:       "cold outreach",
	})
	require.ErrorIs(t, err, ErrThreadNotFound)
	assert.Equal(t, 0, db.messageCount())
}

func TestSendRejectsNonParticipants(t *testing.T) {
	client, pro := uuid.New(), uuid.New()
	db := newMemDB()
	thread := directThread(client, pro)
	db.addThread(thread)
	db.credits[pro] = 1
	svc := newTestService(db)

	_, err := sendAs(svc, thread, uuid.New(), models.RoleClient, "hi")
	require.ErrorIs(t, err, ErrNotParticipant)

	// A participant claiming the other side is rejected too.
	_, err = sendAs(svc, thread, client, models.RoleProfessional, "hi")
	require.ErrorIs(t, err, ErrNotParticipant)

	_, err = sendAs(svc, thread, pro, "admin", "hi")
	require.ErrorIs(t, err, ErrNotParticipant)

	assert.Equal(t, 0, db.messageCount())
	assert.Equal(t, 0, db.debitCount())
}

func TestSendRequiresBodyOrAttachment(t *testing.T) {
	client, pro := uuid.New(), uuid.New()
	db := newMemDB()
	thread := directThread(client, pro)
	db.addThread(thread)
	svc := newTestService(db)

	_, err := sendAs(svc, thread, client, models.RoleClient, "")
	require.ErrorIs(t, err, ErrEmptyMessage)

	ref := "uploads/floorplan.pdf"
	msg, err := svc.Send(context.Background(), SendArgs{
		Ref:           models.ThreadRef{ID: thread.ID},
		SenderID:      client,
		SenderRole:    models.RoleClient,
		AttachmentRef: &ref,
	})
	require.NoError(t, err)
	assert.Equal(t, "", msg.Body)
	require.Len(t, db.notifications, 1)
	assert.Equal(t, "[attachment]", db.notifications[0].Preview)
}

func TestListMessagesRequiresParticipant(t *testing.T) {
	client, pro := uuid.New(), uuid.New()
	db := newMemDB()
	thread := directThread(client, pro)
	db.addThread(thread)
	svc := newTestService(db)

	_, err := sendAs(svc, thread, client, models.RoleClient, "hello")
	require.NoError(t, err)

	msgs, err := svc.ListMessages(context.Background(), thread.ID, pro)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = svc.ListMessages(context.Background(), thread.ID, uuid.New())
	require.ErrorIs(t, err, ErrNotParticipant)

	_, err = svc.ListMessages(context.Background(), uuid.New(), client)
	require.ErrorIs(t, err, ErrThreadNotFound)
}

func TestMarkThreadRead(t *testing.T) {
	client, pro := uuid.New(), uuid.New()
	db := newMemDB()
	thread := directThread(client, pro)
	db.addThread(thread)
	svc := newTestService(db)

	_, err := sendAs(svc, thread, client, models.RoleClient, "one")
	require.NoError(t, err)
	_, err = sendAs(svc, thread, client, models.RoleClient, "two")
	require.NoError(t, err)

	require.NoError(t, svc.MarkThreadRead(context.Background(), thread.ID, pro))
	msgs, err := svc.ListMessages(context.Background(), thread.ID, pro)
	require.NoError(t, err)
	for _, m := range msgs {
		assert.True(t, m.IsRead)
	}

	err = svc.MarkThreadRead(context.Background(), thread.ID, uuid.New())
	require.ErrorIs(t, err, ErrNotParticipant)
}

func TestRegisterQuoteThread(t *testing.T) {
	client, pro := uuid.New(), uuid.New()
	db := newMemDB()
	svc := newTestService(db)

	thread, err := svc.RegisterQuoteThread(context.Background(), uuid.New(), client, pro)
	require.NoError(t, err)
	assert.Equal(t, models.ThreadKindQuote, thread.Kind)

	// The professional can respond on it without holding credits.
	_, err = sendAs(svc, thread, pro, models.RoleProfessional, "quote attached")
	require.NoError(t, err)
	assert.Equal(t, 0, db.debitCount())

	_, err = svc.RegisterQuoteThread(context.Background(), uuid.Nil, client, pro)
	require.ErrorIs(t, err, ErrInvalidQuoteRef)
}

func TestPreviewTruncation(t *testing.T) {
	long := strings.Repeat("水", 200)
	m := &models.Message{Body: long}
	got := preview(m)
	assert.Equal(t, 81, len([]rune(got)), "80 runes plus ellipsis")

	short := &models.Message{Body: "short"}
	assert.Equal(t, "short", preview(short))
}
