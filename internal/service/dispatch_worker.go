// internal/service/dispatch_worker.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kanisahub/comms-backend/internal/activity"
	"github.com/kanisahub/comms-backend/internal/balance"
	appErrors "github.com/kanisahub/comms-backend/internal/errors"
	"github.com/kanisahub/comms-backend/internal/model"
	"github.com/kanisahub/comms-backend/internal/provider"
	"github.com/kanisahub/comms-backend/internal/queue"
	"github.com/kanisahub/comms-backend/internal/repository"
)

// DispatchWorker drains a batch's pending rows through the provider with a
// fixed-size worker pool. Pool size bounds simultaneous outbound calls; it
// is configuration, never derived from recipient count.
type DispatchWorker struct {
	Batches  repository.BatchRepositoryInterface
	Messages repository.MessageRepositoryInterface
	Provider provider.Client
	Balance  balance.Ledger
	Activity activity.Log
	Logger   *logrus.Logger

	Workers        int
	MaxAttempts    int
	RetryBaseDelay time.Duration

	// active guards against overlapping passes over the same batch within
	// this process (the scheduler and the queue consumer share one worker).
	active sync.Map
}

func NewDispatchWorker(
	batches repository.BatchRepositoryInterface,
	messages repository.MessageRepositoryInterface,
	providerClient provider.Client,
	ledger balance.Ledger,
	activityLog activity.Log,
	logger *logrus.Logger,
	workers, maxAttempts int,
	retryBaseDelay time.Duration,
) *DispatchWorker {
	if workers < 1 {
		workers = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &DispatchWorker{
		Batches:        batches,
		Messages:       messages,
		Provider:       providerClient,
		Balance:        ledger,
		Activity:       activityLog,
		Logger:         logger,
		Workers:        workers,
		MaxAttempts:    maxAttempts,
		RetryBaseDelay: retryBaseDelay,
	}
}

// Dispatch runs one pass over the batch's rows in scope. AllPending drains
// pending and scheduled rows; FailedOnly first flips failed rows back to
// pending and is a no-op when there are none, which makes resend idempotent.
func (w *DispatchWorker) Dispatch(ctx context.Context, batchID, scope string) error {
	log := w.Logger.WithFields(logrus.Fields{"batch_id": batchID, "scope": scope})

	if _, busy := w.active.LoadOrStore(batchID, struct{}{}); busy {
		log.Warn("a dispatch pass is already running for this batch, skipping")
		return nil
	}
	defer w.active.Delete(batchID)

	batch, err := w.Batches.GetByID(batchID)
	if err != nil {
		return err
	}

	stats, err := w.Messages.CountByStatus(batchID)
	if err != nil {
		return err
	}

	var scopeCount int
	switch scope {
	case queue.ScopeFailedOnly:
		scopeCount = stats[model.MessageStatusFailed]
	case queue.ScopeAllPending:
		scopeCount = stats[model.MessageStatusPending] + stats[model.MessageStatusScheduled]
	default:
		return fmt.Errorf("unknown dispatch scope: %s", scope)
	}

	if scopeCount == 0 {
		log.Info("no rows in scope, nothing to dispatch")
		return nil
	}

	// Balance gate before any row is touched. The batch (and for a resend,
	// its failed rows) stays exactly as it was so the caller can top up and
	// retry.
	estimated := int64(scopeCount) * batch.CostPerUnit
	available, err := w.Balance.CurrentBalance(ctx)
	if err != nil {
		return fmt.Errorf("balance check failed: %w", err)
	}
	if estimated > available {
		return appErrors.NewInsufficientBalance(estimated, available)
	}

	if scope == queue.ScopeFailedOnly {
		flipped, err := w.Messages.ResetFailedToPending(batchID)
		if err != nil {
			return err
		}
		log.WithField("rows", flipped).Info("failed rows reset for resend")
	}

	rows, err := w.Messages.ListByBatchAndStatuses(batchID,
		[]string{model.MessageStatusPending, model.MessageStatusScheduled})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	if err := w.Batches.MarkSending(batchID); err != nil {
		return err
	}

	var sentInPass, failedInPass int64
	jobs := make(chan *model.IndividualMessage)
	wg := sync.WaitGroup{}
	for i := 0; i < w.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				w.processRow(ctx, batch, msg, &sentInPass, &failedInPass)
			}
		}()
	}
	for _, msg := range rows {
		jobs <- msg
	}
	close(jobs)
	wg.Wait()

	return w.finalize(ctx, batch, log,
		atomic.LoadInt64(&sentInPass), atomic.LoadInt64(&failedInPass))
}

// processRow drives one row to a terminal state: a bounded attempt loop with
// exponential backoff for retryable provider errors. A row whose DB write
// fails stays pending and is picked up by the next pass.
func (w *DispatchWorker) processRow(ctx context.Context, batch *model.CommunicationBatch, msg *model.IndividualMessage, sentInPass, failedInPass *int64) {
	log := w.Logger.WithFields(logrus.Fields{"batch_id": batch.ID, "message_id": msg.ID})

	var lastReason string
	attemptsUsed := 0

	for attempt := 1; attempt <= w.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			log.Warn("dispatch cancelled, leaving row pending")
			return
		}
		attemptsUsed = attempt

		result, err := w.Provider.Send(ctx, msg.RecipientPhone, msg.PersonalizedMessage)
		if err == nil {
			w.recordSent(ctx, batch, msg, result, attemptsUsed, sentInPass, log)
			return
		}

		lastReason = err.Error()
		var sendErr *provider.SendError
		retryable := errors.As(err, &sendErr) && sendErr.Retryable
		if !retryable {
			break
		}
		log.WithField("attempt", attempt).WithError(err).Warn("transient provider error")

		if attempt < w.MaxAttempts {
			backoff := w.RetryBaseDelay << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				log.Warn("dispatch cancelled during backoff, leaving row pending")
				return
			}
		}
	}

	if err := w.Messages.MarkFailed(msg.ID, lastReason, msg.AttemptCount+attemptsUsed); err != nil {
		log.WithError(err).Error("failed to persist failed status, row stays pending")
		return
	}
	atomic.AddInt64(failedInPass, 1)
	log.WithField("reason", lastReason).Info("message failed")
}

func (w *DispatchWorker) recordSent(ctx context.Context, batch *model.CommunicationBatch, msg *model.IndividualMessage, result *provider.SendResult, attempts int, sentInPass *int64, log *logrus.Entry) {
	// Debit follows the accepted send; failed sends are never billed.
	debited, err := w.Balance.Debit(ctx, batch.CostPerUnit)
	if err != nil {
		log.WithError(err).Error("balance debit failed after accepted send")
	} else if !debited {
		log.Warn("balance exhausted after accepted send")
	}

	if err := w.Messages.MarkSent(msg.ID, result.ProviderMessageID, time.Now(), msg.AttemptCount+attempts); err != nil {
		log.WithError(err).Error("failed to persist sent status, row stays pending")
		return
	}
	atomic.AddInt64(sentInPass, 1)
}

// finalize recomputes the aggregate from row statuses and writes counts,
// cost, and the terminal status in one statement. Rows left pending by a
// cancelled or partially failed pass keep the batch in sending for the next
// trigger to resume.
func (w *DispatchWorker) finalize(ctx context.Context, batch *model.CommunicationBatch, log *logrus.Entry, sentInPass, failedInPass int64) error {
	stats, err := w.Messages.CountByStatus(batch.ID)
	if err != nil {
		return fmt.Errorf("recounting batch rows: %w", err)
	}

	remaining := stats[model.MessageStatusPending] + stats[model.MessageStatusScheduled]
	if remaining > 0 {
		log.WithField("remaining", remaining).Warn("pass ended with rows still pending, batch stays in sending")
		return nil
	}

	sent := stats[model.MessageStatusSent]
	failed := stats[model.MessageStatusFailed]

	status := model.BatchStatusCompleted
	if sent == 0 {
		status = model.BatchStatusFailed
	}
	totalCost := int64(sent) * batch.CostPerUnit

	if err := w.Batches.Finalize(batch.ID, sent, failed, totalCost, status, time.Now()); err != nil {
		return fmt.Errorf("finalizing batch: %w", err)
	}

	summary := fmt.Sprintf("Dispatch pass for batch %s: %d sent, %d failed in this pass (%d/%d delivered overall)",
		batch.ID, sentInPass, failedInPass, sent, batch.TotalRecipients)
	if err := w.Activity.Record(ctx, summary, "communication_batch", batch.ID,
		map[string]any{"status": batch.Status},
		map[string]any{"status": status, "sent_count": sent, "failed_count": failed},
	); err != nil {
		log.WithError(err).Error("failed to write activity log entry")
	}

	log.WithFields(logrus.Fields{"sent": sent, "failed": failed, "status": status}).Info("dispatch pass complete")
	return nil
}

var _ queue.Dispatcher = (*DispatchWorker)(nil)
