package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/servana/backend/internal/ledger"
	"github.com/servana/backend/internal/models"
	"github.com/servana/backend/internal/notify"
	"github.com/servana/backend/internal/repository"
)

var (
	// ErrThreadNotFound mirrors the repository sentinel for callers that
	// only import this package.
	ErrThreadNotFound = repository.ErrThreadNotFound

	// ErrNotParticipant is returned when the sender is not one of the two
	// thread participants (or claims the wrong side).
	ErrNotParticipant = errors.New("sender is not a participant of this thread")

	// ErrEmptyMessage is returned for a message with no body and no
	// attachment.
	ErrEmptyMessage = errors.New("message has no body or attachment")

	// ErrInvalidQuoteRef is returned when a quote thread registration is
	// missing one of its three ids.
	ErrInvalidQuoteRef = errors.New("quote thread requires quote, client and professional ids")
)

// ThreadStore is the thread repository surface the service needs.
type ThreadStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Thread, error)
	GetDirectByPair(ctx context.Context, clientID, professionalID uuid.UUID) (*models.Thread, error)
	GetOrCreateDirect(ctx context.Context, clientID, professionalID uuid.UUID) (*models.Thread, error)
	CreateQuote(ctx context.Context, quoteID, clientID, professionalID uuid.UUID) (*models.Thread, error)
	MarkRespondedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
	TouchLastMessageTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
}

// MessageStore persists and reads messages.
type MessageStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, m *models.Message) error
	ListByThread(ctx context.Context, threadID uuid.UUID) ([]*models.Message, error)
	MarkRead(ctx context.Context, threadID, viewerID uuid.UUID) error
}

// CreditDebiter is the ledger surface the service needs: a debit that runs
// inside the caller's transaction, plus cache invalidation for after commit.
type CreditDebiter interface {
	DebitTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, threadID uuid.UUID) (*ledger.DebitResult, error)
	InvalidateStatus(ctx context.Context, accountID uuid.UUID)
}

// InsertNotifyTxFunc enqueues a notification job within the given
// transaction. Provided by main using river.Client.InsertTx.
type InsertNotifyTxFunc func(ctx context.Context, tx pgx.Tx, args notify.MessageNotifyArgs) error

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SendArgs describes one message send.
type SendArgs struct {
	Ref           models.ThreadRef
	SenderID      uuid.UUID
	SenderRole    string
	Body          string
	AttachmentRef *string
}

// Service orchestrates message sends. A professional's first message in a
// direct thread is the one billable event: the gate flip and the credit
// debit happen in the same transaction as the message insert, so the charge
// lands exactly once per thread no matter how many concurrent or retried
// sends race for it.
type Service struct {
	pool         TxBeginner
	threads      ThreadStore
	messages     MessageStore
	credits      CreditDebiter
	insertNotify InsertNotifyTxFunc
	log          *slog.Logger
}

func NewService(pool TxBeginner, threads ThreadStore, messages MessageStore, credits CreditDebiter, insertNotify InsertNotifyTxFunc, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{pool: pool, threads: threads, messages: messages, credits: credits, insertNotify: insertNotify, log: log}
}

// Send validates, bills if due, and persists one message.
//
// Billing rules: clients always send free. A professional's messages are
// free on quote threads (the quote flow already covers the response right)
// and on any thread whose gate is already set. Only the first professional
// message in a direct thread debits a credit, and the compare-and-set on
// the gate means a concurrent duplicate observes zero affected rows and
// continues free instead of debiting again.
func (s *Service) Send(ctx context.Context, args SendArgs) (*models.Message, error) {
	if args.SenderRole != models.RoleClient && args.SenderRole != models.RoleProfessional {
		return nil, ErrNotParticipant
	}
	if args.Body == "" && args.AttachmentRef == nil {
		return nil, ErrEmptyMessage
	}

	thread, err := s.resolveThread(ctx, args)
	if err != nil {
		return nil, err
	}
	if err := checkParticipant(thread, args.SenderID, args.SenderRole); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	billed := false
	if args.SenderRole == models.RoleProfessional && !thread.ProfessionalResponded {
		// The conditional update serializes concurrent first messages:
		// exactly one send observes the false→true transition and owns the
		// debit; the rest see zero rows and proceed free.
		marked, err := s.threads.MarkRespondedTx(ctx, tx, thread.ID)
		if err != nil {
			return nil, err
		}
		if marked && thread.Kind == models.ThreadKindDirect {
			if _, err := s.credits.DebitTx(ctx, tx, thread.ProfessionalID, thread.ID); err != nil {
				// Rolls back the gate flip too; the thread stays unpaid.
				return nil, err
			}
			billed = true
		}
	}

	msg := &models.Message{
		ID:            uuid.New(),
		ThreadID:      thread.ID,
		SenderID:      args.SenderID,
		SenderRole:    args.SenderRole,
		Body:          args.Body,
		AttachmentRef: args.AttachmentRef,
	}
	if err := s.messages.CreateTx(ctx, tx, msg); err != nil {
		return nil, err
	}
	if err := s.threads.TouchLastMessageTx(ctx, tx, thread.ID, msg.CreatedAt); err != nil {
		return nil, err
	}
	if err := s.insertNotify(ctx, tx, notify.MessageNotifyArgs{
		RecipientID: thread.Counterpart(args.SenderID),
		ThreadID:    thread.ID,
		ThreadKind:  thread.Kind,
		MessageID:   msg.ID,
		Preview:     preview(msg),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	if billed {
		s.credits.InvalidateStatus(ctx, thread.ProfessionalID)
		s.log.Info("thread unlocked", "thread_id", thread.ID, "professional_id", thread.ProfessionalID)
	}
	return msg, nil
}

// resolveThread finds the thread a ref points at. Direct threads are created
// lazily on first client contact; a professional cannot open one that does
// not exist yet.
func (s *Service) resolveThread(ctx context.Context, args SendArgs) (*models.Thread, error) {
	if args.Ref.ID != uuid.Nil {
		return s.threads.GetByID(ctx, args.Ref.ID)
	}
	if args.Ref.Kind != models.ThreadKindDirect || args.Ref.ClientID == uuid.Nil || args.Ref.ProfessionalID == uuid.Nil {
		return nil, ErrThreadNotFound
	}
	if args.SenderRole == models.RoleClient {
		return s.threads.GetOrCreateDirect(ctx, args.Ref.ClientID, args.Ref.ProfessionalID)
	}
	return s.threads.GetDirectByPair(ctx, args.Ref.ClientID, args.Ref.ProfessionalID)
}

func checkParticipant(t *models.Thread, senderID uuid.UUID, senderRole string) error {
	switch senderRole {
	case models.RoleClient:
		if t.ClientID != senderID {
			return ErrNotParticipant
		}
	case models.RoleProfessional:
		if t.ProfessionalID != senderID {
			return ErrNotParticipant
		}
	}
	return nil
}

// RegisterQuoteThread creates the thread anchored to a quote response. The
// quote flow (an external service) calls this once when a professional
// responds to a quote; messages on the resulting thread are never billed.
func (s *Service) RegisterQuoteThread(ctx context.Context, quoteID, clientID, professionalID uuid.UUID) (*models.Thread, error) {
	if quoteID == uuid.Nil || clientID == uuid.Nil || professionalID == uuid.Nil {
		return nil, ErrInvalidQuoteRef
	}
	return s.threads.CreateQuote(ctx, quoteID, clientID, professionalID)
}

// ListMessages returns a thread's messages, oldest first, for a participant.
func (s *Service) ListMessages(ctx context.Context, threadID, viewerID uuid.UUID) ([]*models.Message, error) {
	thread, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.HasParticipant(viewerID) {
		return nil, ErrNotParticipant
	}
	return s.messages.ListByThread(ctx, threadID)
}

// MarkThreadRead flips is_read on the counterpart's messages when the
// viewer opens the thread.
func (s *Service) MarkThreadRead(ctx context.Context, threadID, viewerID uuid.UUID) error {
	thread, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return err
	}
	if !thread.HasParticipant(viewerID) {
		return ErrNotParticipant
	}
	return s.messages.MarkRead(ctx, threadID, viewerID)
}

const previewLimit = 80

func preview(m *models.Message) string {
	if m.Body == "" {
		return "[attachment]"
	}
	if utf8.RuneCountInString(m.Body) <= previewLimit {
		return m.Body
	}
	runes := []rune(m.Body)
	return string(runes[:previewLimit]) + "…"
}
