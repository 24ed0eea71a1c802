package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	appErrors "github.com/kanisahub/comms-backend/internal/errors"
	"github.com/kanisahub/comms-backend/internal/model"
	"github.com/kanisahub/comms-backend/internal/provider"
)

// memStore backs in-memory batch and message repositories for tests.
type memStore struct {
	mu        sync.Mutex
	batches   map[string]*model.CommunicationBatch
	msgs      map[int]*model.IndividualMessage
	nextMsgID int
}

func newMemStore() *memStore {
	return &memStore{
		batches: map[string]*model.CommunicationBatch{},
		msgs:    map[int]*model.IndividualMessage{},
	}
}

type memBatchRepo struct{ s *memStore }
type memMessageRepo struct{ s *memStore }

func (r *memBatchRepo) Create(b *model.CommunicationBatch, msgs []*model.IndividualMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b.CreatedAt = time.Now()
	b.TotalRecipients = len(msgs)
	cp := *b
	r.s.batches[b.ID] = &cp
	for _, m := range msgs {
		r.s.nextMsgID++
		m.ID = r.s.nextMsgID
		m.BatchID = b.ID
		mc := *m
		r.s.msgs[m.ID] = &mc
	}
	return nil
}

func (r *memBatchRepo) GetByID(id string) (*model.CommunicationBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok {
		return nil, appErrors.NewBatchNotFound(id)
	}
	cp := *b
	return &cp, nil
}

func (r *memBatchRepo) ListBatches(offset, limit int, channel, status string) ([]*model.CommunicationBatch, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.CommunicationBatch{}
	for _, b := range r.s.batches {
		if channel != "" && b.Channel != channel {
			continue
		}
		if status != "" && b.Status != status {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	total := len(out)
	if offset > len(out) {
		return []*model.CommunicationBatch{}, total, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (r *memBatchRepo) ClaimScheduled(id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok || b.Status != model.BatchStatusScheduled {
		return false, nil
	}
	b.Status = model.BatchStatusPending
	return true, nil
}

func (r *memBatchRepo) MarkSending(id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok {
		return appErrors.NewBatchNotFound(id)
	}
	switch b.Status {
	case model.BatchStatusPending, model.BatchStatusCompleted, model.BatchStatusFailed, model.BatchStatusSending:
		b.Status = model.BatchStatusSending
		return nil
	}
	return fmt.Errorf("batch %s cannot enter sending from %s", id, b.Status)
}

func (r *memBatchRepo) Finalize(id string, sent, failed int, totalCost int64, status string, completedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok {
		return appErrors.NewBatchNotFound(id)
	}
	b.SentCount = sent
	b.FailedCount = failed
	b.TotalCost = totalCost
	b.Status = status
	b.CompletedAt = &completedAt
	return nil
}

func (r *memBatchRepo) ListDue(now time.Time) ([]*model.CommunicationBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	due := []*model.CommunicationBatch{}
	for _, b := range r.s.batches {
		if b.Status == model.BatchStatusScheduled && b.ScheduledAt != nil && !b.ScheduledAt.After(now) {
			cp := *b
			due = append(due, &cp)
		}
	}
	return due, nil
}

func (r *memMessageRepo) ListByBatchAndStatuses(batchID string, statuses []string) ([]*model.IndividualMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := map[string]bool{}
	for _, st := range statuses {
		wanted[st] = true
	}
	out := []*model.IndividualMessage{}
	for _, m := range r.s.msgs {
		if m.BatchID == batchID && wanted[m.Status] {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memMessageRepo) ListByBatch(batchID, status string, offset, limit int) ([]*model.IndividualMessage, int, error) {
	statuses := []string{status}
	if status == "" {
		statuses = []string{
			model.MessageStatusPending, model.MessageStatusScheduled,
			model.MessageStatusSent, model.MessageStatusFailed,
		}
	}
	all, err := r.ListByBatchAndStatuses(batchID, statuses)
	if err != nil {
		return nil, 0, err
	}
	total := len(all)
	if offset > total {
		return []*model.IndividualMessage{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *memMessageRepo) MarkSent(id int, providerMessageID string, sentAt time.Time, attempts int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m := r.s.msgs[id]
	m.Status = model.MessageStatusSent
	m.ProviderMessageID = &providerMessageID
	m.ErrorReason = nil
	m.SentAt = &sentAt
	m.AttemptCount = attempts
	return nil
}

func (r *memMessageRepo) MarkFailed(id int, reason string, attempts int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m := r.s.msgs[id]
	m.Status = model.MessageStatusFailed
	m.ErrorReason = &reason
	m.AttemptCount = attempts
	return nil
}

func (r *memMessageRepo) ResetFailedToPending(batchID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, m := range r.s.msgs {
		if m.BatchID == batchID && m.Status == model.MessageStatusFailed {
			m.Status = model.MessageStatusPending
			m.ErrorReason = nil
			n++
		}
	}
	if n > 0 {
		if b, ok := r.s.batches[batchID]; ok {
			b.FailedCount = 0
		}
	}
	return n, nil
}

func (r *memMessageRepo) CountByStatus(batchID string) (map[string]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stats := map[string]int{"pending": 0, "scheduled": 0, "sent": 0, "failed": 0}
	for _, m := range r.s.msgs {
		if m.BatchID == batchID {
			stats[m.Status]++
		}
	}
	return stats, nil
}

// fakeProvider scripts per-phone outcomes and fails loudly if a phone that
// was already accepted is sent to again.
type fakeProvider struct {
	mu            sync.Mutex
	rejections    map[string]*provider.SendError // phone -> scripted rejection
	transientLeft map[string]int                 // phone -> retryable failures before success
	accepted      map[string]int
	calls         int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		rejections:    map[string]*provider.SendError{},
		transientLeft: map[string]int{},
		accepted:      map[string]int{},
	}
}

func (p *fakeProvider) Send(ctx context.Context, phone, message string) (*provider.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	if p.accepted[phone] > 0 {
		p.accepted[phone]++
		return nil, fmt.Errorf("duplicate send to already accepted phone %s", phone)
	}
	if left := p.transientLeft[phone]; left > 0 {
		p.transientLeft[phone] = left - 1
		return nil, &provider.SendError{Reason: "gateway timeout", Retryable: true}
	}
	if rej, ok := p.rejections[phone]; ok {
		return nil, rej
	}
	p.accepted[phone]++
	return &provider.SendResult{ProviderMessageID: fmt.Sprintf("prov-%s-%d", phone, p.calls)}, nil
}

func (p *fakeProvider) duplicateSends() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	dups := []string{}
	for phone, n := range p.accepted {
		if n > 1 {
			dups = append(dups, phone)
		}
	}
	return dups
}
