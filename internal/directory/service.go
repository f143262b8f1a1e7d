package directory

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/servana/backend/internal/models"
)

// ThreadSource lists a user's threads of one kind.
type ThreadSource interface {
	ListByUser(ctx context.Context, userID uuid.UUID, role, kind string) ([]*models.Thread, error)
}

// MessageSource provides the per-thread projections a summary needs.
type MessageSource interface {
	LastByThread(ctx context.Context, threadID uuid.UUID) (*models.Message, error)
	UnreadCount(ctx context.Context, threadID, viewerID uuid.UUID) (int, error)
}

// Service builds the conversation directory: all of a user's threads, both
// kinds merged, ranked by recency. Strictly read-only and safe to call
// concurrently.
type Service struct {
	threads  ThreadSource
	messages MessageSource
	log      *slog.Logger
}

func NewService(threads ThreadSource, messages MessageSource, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{threads: threads, messages: messages, log: log}
}

// List returns the user's threads ordered by last message time (falling
// back to creation time), most recent first, ties broken by thread id.
// Projection failures degrade to zero values rather than dropping the
// thread or failing the listing.
func (s *Service) List(ctx context.Context, userID uuid.UUID, role string) ([]models.ThreadSummary, error) {
	var all []*models.Thread
	for _, kind := range []string{models.ThreadKindQuote, models.ThreadKindDirect} {
		threads, err := s.threads.ListByUser(ctx, userID, role, kind)
		if err != nil {
			s.log.Warn("directory thread listing failed", "user_id", userID, "kind", kind, "error", err)
			continue
		}
		all = append(all, threads...)
	}

	summaries := make([]models.ThreadSummary, 0, len(all))
	for _, t := range all {
		summary := models.ThreadSummary{Thread: *t}
		last, err := s.messages.LastByThread(ctx, t.ID)
		if err != nil {
			s.log.Warn("directory last-message lookup failed", "thread_id", t.ID, "error", err)
		} else {
			summary.LastMessage = last
		}
		unread, err := s.messages.UnreadCount(ctx, t.ID, userID)
		if err != nil {
			s.log.Warn("directory unread-count lookup failed", "thread_id", t.ID, "error", err)
		} else {
			summary.UnreadCount = unread
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		ti := summaries[i].Thread.EffectiveTime()
		tj := summaries[j].Thread.EffectiveTime()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return summaries[i].Thread.ID.String() < summaries[j].Thread.ID.String()
	})
	return summaries, nil
}
