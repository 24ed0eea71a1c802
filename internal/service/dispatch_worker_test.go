package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kanisahub/comms-backend/internal/activity"
	"github.com/kanisahub/comms-backend/internal/balance"
	appErrors "github.com/kanisahub/comms-backend/internal/errors"
	"github.com/kanisahub/comms-backend/internal/model"
	"github.com/kanisahub/comms-backend/internal/provider"
	"github.com/kanisahub/comms-backend/internal/queue"
	"github.com/kanisahub/comms-backend/internal/service"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newWorker(store *memStore, p provider.Client, ledger balance.Ledger) *service.DispatchWorker {
	return service.NewDispatchWorker(
		&memBatchRepo{s: store},
		&memMessageRepo{s: store},
		p,
		ledger,
		activity.NopLog{},
		quietLogger(),
		3,             // workers
		3,             // max attempts
		time.Millisecond, // retry base delay
	)
}

func seedBatch(store *memStore, rows int, costPerUnit int64, status string) *model.CommunicationBatch {
	batch := &model.CommunicationBatch{
		ID:              "batch-1",
		Channel:         model.ChannelSMS,
		SelectorType:    model.SelectorAllActive,
		MessageTemplate: "Hello {first_name}",
		CostPerUnit:     costPerUnit,
		Status:          status,
	}
	rowStatus := model.MessageStatusPending
	if status == model.BatchStatusScheduled {
		rowStatus = model.MessageStatusScheduled
	}
	msgs := make([]*model.IndividualMessage, 0, rows)
	for i := 1; i <= rows; i++ {
		msgs = append(msgs, &model.IndividualMessage{
			RecipientName:       fmt.Sprintf("Member %d", i),
			RecipientPhone:      fmt.Sprintf("+25471234567%d", i),
			PersonalizedMessage: fmt.Sprintf("Hello Member %d", i),
			Status:              rowStatus,
		})
	}
	repo := &memBatchRepo{s: store}
	repo.Create(batch, msgs)
	return batch
}

func TestDispatchPartialFailureCompletes(t *testing.T) {
	store := newMemStore()
	batch := seedBatch(store, 5, 1, model.BatchStatusPending)

	prov := newFakeProvider()
	prov.rejections["+254712345672"] = &provider.SendError{Reason: "invalid number", Retryable: false}
	prov.rejections["+254712345674"] = &provider.SendError{Reason: "blacklisted", Retryable: false}

	ledger := balance.NewMemoryLedger(100)
	worker := newWorker(store, prov, ledger)

	if err := worker.Dispatch(context.Background(), batch.ID, queue.ScopeAllPending); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	got, _ := (&memBatchRepo{s: store}).GetByID(batch.ID)
	if got.SentCount != 3 || got.FailedCount != 2 {
		t.Errorf("expected sent=3 failed=2, got sent=%d failed=%d", got.SentCount, got.FailedCount)
	}
	if got.Status != model.BatchStatusCompleted {
		t.Errorf("partial failure must still complete, got status %s", got.Status)
	}
	if got.SentCount+got.FailedCount != got.TotalRecipients {
		t.Errorf("terminal batch must satisfy sent+failed == total: %d+%d != %d",
			got.SentCount, got.FailedCount, got.TotalRecipients)
	}
	if got.TotalCost != int64(got.SentCount)*got.CostPerUnit {
		t.Errorf("totalCost must equal sentCount*costPerUnit, got %d", got.TotalCost)
	}

	// Failed sends are not billed.
	bal, _ := ledger.CurrentBalance(context.Background())
	if bal != 100-3 {
		t.Errorf("expected balance 97 after 3 billed sends, got %d", bal)
	}
}

func TestDispatchAllFailedMarksBatchFailed(t *testing.T) {
	store := newMemStore()
	batch := seedBatch(store, 5, 1, model.BatchStatusPending)

	prov := newFakeProvider()
	for i := 1; i <= 5; i++ {
		prov.rejections[fmt.Sprintf("+25471234567%d", i)] = &provider.SendError{Reason: "invalid number", Retryable: false}
	}

	worker := newWorker(store, prov, balance.NewMemoryLedger(100))
	if err := worker.Dispatch(context.Background(), batch.ID, queue.ScopeAllPending); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	got, _ := (&memBatchRepo{s: store}).GetByID(batch.ID)
	if got.Status != model.BatchStatusFailed {
		t.Errorf("zero successes must mark the batch failed, got %s", got.Status)
	}
	if got.SentCount != 0 || got.FailedCount != 5 {
		t.Errorf("expected sent=0 failed=5, got sent=%d failed=%d", got.SentCount, got.FailedCount)
	}
	if got.TotalCost != 0 {
		t.Errorf("no sends means no cost, got %d", got.TotalCost)
	}
}

func TestDispatchInsufficientBalanceLeavesBatchPending(t *testing.T) {
	store := newMemStore()
	batch := seedBatch(store, 100, 2, model.BatchStatusPending)

	prov := newFakeProvider()
	worker := newWorker(store, prov, balance.NewMemoryLedger(50))

	err := worker.Dispatch(context.Background(), batch.ID, queue.ScopeAllPending)
	var insufficient *appErrors.InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if insufficient.Required != 200 || insufficient.Available != 50 {
		t.Errorf("expected required=200 available=50, got %+v", insufficient)
	}

	got, _ := (&memBatchRepo{s: store}).GetByID(batch.ID)
	if got.Status != model.BatchStatusPending {
		t.Errorf("batch must stay pending, got %s", got.Status)
	}
	stats, _ := (&memMessageRepo{s: store}).CountByStatus(batch.ID)
	if stats["pending"] != 100 {
		t.Errorf("no rows may be touched, got %+v", stats)
	}
	if prov.calls != 0 {
		t.Errorf("provider must not be called, got %d calls", prov.calls)
	}
}

func TestDispatchRetriesTransientErrors(t *testing.T) {
	store := newMemStore()
	batch := seedBatch(store, 1, 1, model.BatchStatusPending)

	prov := newFakeProvider()
	prov.transientLeft["+254712345671"] = 2 // two timeouts, then accepted

	worker := newWorker(store, prov, balance.NewMemoryLedger(10))
	if err := worker.Dispatch(context.Background(), batch.ID, queue.ScopeAllPending); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	got, _ := (&memBatchRepo{s: store}).GetByID(batch.ID)
	if got.SentCount != 1 {
		t.Fatalf("expected transient errors to be retried to success, got sent=%d", got.SentCount)
	}
	msgs, _ := (&memMessageRepo{s: store}).ListByBatchAndStatuses(batch.ID, []string{model.MessageStatusSent})
	if len(msgs) != 1 || msgs[0].AttemptCount != 3 {
		t.Errorf("expected 3 attempts recorded, got %+v", msgs)
	}
}

func TestDispatchExhaustedRetriesFail(t *testing.T) {
	store := newMemStore()
	batch := seedBatch(store, 1, 1, model.BatchStatusPending)

	prov := newFakeProvider()
	prov.transientLeft["+254712345671"] = 10 // never recovers within the cap

	worker := newWorker(store, prov, balance.NewMemoryLedger(10))
	if err := worker.Dispatch(context.Background(), batch.ID, queue.ScopeAllPending); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	msgs, _ := (&memMessageRepo{s: store}).ListByBatchAndStatuses(batch.ID, []string{model.MessageStatusFailed})
	if len(msgs) != 1 {
		t.Fatalf("expected row to fail after retry cap, got %d failed rows", len(msgs))
	}
	if msgs[0].AttemptCount != 3 {
		t.Errorf("expected attempt cap of 3, got %d", msgs[0].AttemptCount)
	}
	if msgs[0].ErrorReason == nil || *msgs[0].ErrorReason == "" {
		t.Error("failed row must carry the last error reason")
	}
}

func TestResendOnlyTouchesFailedRows(t *testing.T) {
	store := newMemStore()
	batch := seedBatch(store, 5, 1, model.BatchStatusPending)

	prov := newFakeProvider()
	prov.rejections["+254712345672"] = &provider.SendError{Reason: "temporary block", Retryable: false}
	prov.rejections["+254712345674"] = &provider.SendError{Reason: "temporary block", Retryable: false}

	ledger := balance.NewMemoryLedger(100)
	worker := newWorker(store, prov, ledger)
	if err := worker.Dispatch(context.Background(), batch.ID, queue.ScopeAllPending); err != nil {
		t.Fatalf("initial dispatch failed: %v", err)
	}

	// Block lifted; resend only the failed subset.
	prov.mu.Lock()
	delete(prov.rejections, "+254712345672")
	delete(prov.rejections, "+254712345674")
	prov.mu.Unlock()

	if err := worker.Dispatch(context.Background(), batch.ID, queue.ScopeFailedOnly); err != nil {
		t.Fatalf("resend failed: %v", err)
	}

	if dups := prov.duplicateSends(); len(dups) > 0 {
		t.Errorf("resend re-sent already sent rows: %v", dups)
	}

	got, _ := (&memBatchRepo{s: store}).GetByID(batch.ID)
	if got.SentCount != 5 || got.FailedCount != 0 {
		t.Errorf("expected full delivery after resend, got sent=%d failed=%d", got.SentCount, got.FailedCount)
	}
	if got.Status != model.BatchStatusCompleted {
		t.Errorf("expected completed after resend, got %s", got.Status)
	}
	if got.TotalCost != 5 {
		t.Errorf("all five sends billed exactly once, got cost %d", got.TotalCost)
	}
}

func TestResendWithNoFailedRowsIsNoOp(t *testing.T) {
	store := newMemStore()
	batch := seedBatch(store, 3, 1, model.BatchStatusPending)

	prov := newFakeProvider()
	worker := newWorker(store, prov, balance.NewMemoryLedger(100))
	if err := worker.Dispatch(context.Background(), batch.ID, queue.ScopeAllPending); err != nil {
		t.Fatalf("initial dispatch failed: %v", err)
	}

	before, _ := (&memBatchRepo{s: store}).GetByID(batch.ID)
	callsBefore := prov.calls

	if err := worker.Dispatch(context.Background(), batch.ID, queue.ScopeFailedOnly); err != nil {
		t.Fatalf("no-op resend returned error: %v", err)
	}

	after, _ := (&memBatchRepo{s: store}).GetByID(batch.ID)
	if after.SentCount != before.SentCount || after.Status != before.Status {
		t.Errorf("no-op resend changed batch state: before %+v after %+v", before, after)
	}
	if prov.calls != callsBefore {
		t.Errorf("no-op resend called the provider %d times", prov.calls-callsBefore)
	}
}

// gatedProvider parks every Send until released, so a test can observe
// batch state while a pass is in flight.
type gatedProvider struct {
	inner   *fakeProvider
	entered chan struct{}
	release chan struct{}
}

func newGatedProvider(inner *fakeProvider, capacity int) *gatedProvider {
	return &gatedProvider{
		inner:   inner,
		entered: make(chan struct{}, capacity),
		release: make(chan struct{}),
	}
}

func (p *gatedProvider) Send(ctx context.Context, phone, message string) (*provider.SendResult, error) {
	p.entered <- struct{}{}
	<-p.release
	return p.inner.Send(ctx, phone, message)
}

func TestResendMidPassObserversNeverSeeFinalCounts(t *testing.T) {
	store := newMemStore()
	batch := seedBatch(store, 5, 1, model.BatchStatusPending)

	prov := newFakeProvider()
	prov.rejections["+254712345672"] = &provider.SendError{Reason: "temporary block", Retryable: false}
	prov.rejections["+254712345674"] = &provider.SendError{Reason: "temporary block", Retryable: false}

	ledger := balance.NewMemoryLedger(100)
	if err := newWorker(store, prov, ledger).Dispatch(context.Background(), batch.ID, queue.ScopeAllPending); err != nil {
		t.Fatalf("initial dispatch failed: %v", err)
	}

	// Block lifted; the resend pass runs against a provider that parks so we
	// can read the batch while it is sending.
	prov.mu.Lock()
	delete(prov.rejections, "+254712345672")
	delete(prov.rejections, "+254712345674")
	prov.mu.Unlock()

	gated := newGatedProvider(prov, 2)
	worker := newWorker(store, gated, ledger)

	done := make(chan error, 1)
	go func() {
		done <- worker.Dispatch(context.Background(), batch.ID, queue.ScopeFailedOnly)
	}()

	<-gated.entered

	mid, err := (&memBatchRepo{s: store}).GetByID(batch.ID)
	if err != nil {
		t.Fatalf("mid-pass read failed: %v", err)
	}
	if mid.Status != model.BatchStatusSending {
		t.Fatalf("expected batch sending mid-pass, got %s", mid.Status)
	}
	if mid.FailedCount != 0 {
		t.Errorf("failed_count must be cleared when failed rows are reopened, got %d", mid.FailedCount)
	}
	if mid.SentCount+mid.FailedCount == mid.TotalRecipients {
		t.Errorf("mid-pass observer saw final counts (%d+%d == %d) while status is still sending",
			mid.SentCount, mid.FailedCount, mid.TotalRecipients)
	}

	close(gated.release)
	if err := <-done; err != nil {
		t.Fatalf("resend failed: %v", err)
	}

	got, _ := (&memBatchRepo{s: store}).GetByID(batch.ID)
	if got.Status != model.BatchStatusCompleted || got.SentCount != 5 || got.FailedCount != 0 {
		t.Errorf("expected completed sent=5 failed=0 after resend, got status=%s sent=%d failed=%d",
			got.Status, got.SentCount, got.FailedCount)
	}
}

func TestOverlappingDispatchOfSameBatchIsSkipped(t *testing.T) {
	store := newMemStore()
	batch := seedBatch(store, 3, 1, model.BatchStatusPending)

	gated := newGatedProvider(newFakeProvider(), 3)
	worker := newWorker(store, gated, balance.NewMemoryLedger(100))

	done := make(chan error, 1)
	go func() {
		done <- worker.Dispatch(context.Background(), batch.ID, queue.ScopeAllPending)
	}()

	<-gated.entered

	// A second pass over the same batch while the first is in flight must
	// not touch the rows again.
	if err := worker.Dispatch(context.Background(), batch.ID, queue.ScopeAllPending); err != nil {
		t.Fatalf("overlapping dispatch returned error: %v", err)
	}

	close(gated.release)
	if err := <-done; err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if dups := gated.inner.duplicateSends(); len(dups) > 0 {
		t.Errorf("overlapping pass double-sent rows: %v", dups)
	}
	if gated.inner.calls != 3 {
		t.Errorf("expected exactly 3 provider calls, got %d", gated.inner.calls)
	}

	got, _ := (&memBatchRepo{s: store}).GetByID(batch.ID)
	if got.Status != model.BatchStatusCompleted || got.SentCount != 3 {
		t.Errorf("expected completed sent=3, got status=%s sent=%d", got.Status, got.SentCount)
	}
}

func TestDispatchDrainsScheduledRows(t *testing.T) {
	store := newMemStore()
	batch := seedBatch(store, 2, 1, model.BatchStatusScheduled)
	// Scheduler has claimed the batch.
	(&memBatchRepo{s: store}).ClaimScheduled(batch.ID)

	worker := newWorker(store, newFakeProvider(), balance.NewMemoryLedger(10))
	if err := worker.Dispatch(context.Background(), batch.ID, queue.ScopeAllPending); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	got, _ := (&memBatchRepo{s: store}).GetByID(batch.ID)
	if got.Status != model.BatchStatusCompleted || got.SentCount != 2 {
		t.Errorf("scheduled rows must be drained, got status=%s sent=%d", got.Status, got.SentCount)
	}
}
