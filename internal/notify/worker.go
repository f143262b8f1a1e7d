package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// MessageNotifyArgs is the river job enqueued (in the same transaction that
// persists a message) to tell the other participant about it. Delivery is
// fire-and-forget from the sender's point of view: river retries failures
// out-of-band and a dead notification never affects the message.
type MessageNotifyArgs struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	ThreadID    uuid.UUID `json:"thread_id"`
	ThreadKind  string    `json:"thread_kind"`
	MessageID   uuid.UUID `json:"message_id"`
	Preview     string    `json:"preview"`
}

func (MessageNotifyArgs) Kind() string { return "message_notify" }

// Worker delivers message notifications to the external dispatcher via
// webhook. With no webhook configured it logs and succeeds, so local
// development needs no dispatcher running.
type Worker struct {
	river.WorkerDefaults[MessageNotifyArgs]
	webhookURL string
	httpClient *http.Client
	log        *slog.Logger
}

func NewWorker(webhookURL string, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log,
	}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[MessageNotifyArgs]) error {
	args := job.Args

	if w.webhookURL == "" {
		w.log.Info("notification (no webhook configured)",
			"recipient_id", args.RecipientID, "thread_id", args.ThreadID, "message_id", args.MessageID)
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"recipient_id": args.RecipientID,
		"type":         "new_message",
		"payload": map[string]any{
			"thread_id":   args.ThreadID,
			"thread_kind": args.ThreadKind,
			"message_id":  args.MessageID,
			"preview":     args.Preview,
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error calling notification webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned status %d", resp.StatusCode)
	}
	return nil
}
