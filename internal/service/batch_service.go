// internal/service/batch_service.go
package service

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	appErrors "github.com/kanisahub/comms-backend/internal/errors"
	"github.com/kanisahub/comms-backend/internal/model"
	"github.com/kanisahub/comms-backend/internal/queue"
	"github.com/kanisahub/comms-backend/internal/repository"
)

// Provider-side segment limit; campaigns longer than this are operator error.
const maxMessageLength = 1600

type BatchService struct {
	BatchRepo   repository.BatchRepositoryInterface
	MessageRepo repository.MessageRepositoryInterface
	MemberRepo  repository.MemberRepositoryInterface
	Resolver    *RecipientResolver
	Queue       queue.Queue
	Logger      *logrus.Logger

	ChurchName string
	SMSCost    int64
	WACost     int64
}

// CreateBatchInput is the submission payload from the send screens.
type CreateBatchInput struct {
	Channel     string
	Template    string
	Selector    model.RecipientSelector
	ScheduledAt *time.Time
	CreatedBy   string
}

// CreateBatchResult reports the persisted batch plus how many candidate
// numbers were dropped as invalid, for operator visibility.
type CreateBatchResult struct {
	Batch          *model.CommunicationBatch
	DroppedInvalid int
}

// CreateBatch validates the submission, resolves and personalizes the
// recipient set, persists the batch with its per-recipient rows, and queues
// an immediate dispatch unless the batch is scheduled for later.
func (s *BatchService) CreateBatch(input CreateBatchInput) (*CreateBatchResult, error) {
	if input.Channel != model.ChannelSMS && input.Channel != model.ChannelWhatsApp {
		return nil, appErrors.NewValidation("unknown channel: %s", input.Channel)
	}
	if strings.TrimSpace(input.Template) == "" {
		return nil, appErrors.NewValidation("message template cannot be empty")
	}
	if len(input.Template) > maxMessageLength {
		return nil, appErrors.NewValidation("message exceeds %d characters", maxMessageLength)
	}
	if input.Selector == nil {
		return nil, appErrors.NewValidation("recipient selector is required")
	}

	resolution, err := s.Resolver.Resolve(input.Selector)
	if err != nil {
		return nil, err
	}

	selType, payload, err := model.EncodeSelector(input.Selector)
	if err != nil {
		return nil, err
	}

	batchStatus := model.BatchStatusPending
	rowStatus := model.MessageStatusPending
	if input.ScheduledAt != nil {
		batchStatus = model.BatchStatusScheduled
		rowStatus = model.MessageStatusScheduled
	}

	batch := &model.CommunicationBatch{
		ID:              uuid.NewString(),
		Channel:         input.Channel,
		SelectorType:    selType,
		SelectorPayload: payload,
		MessageTemplate: input.Template,
		CostPerUnit:     s.costFor(input.Channel),
		Status:          batchStatus,
		ScheduledAt:     input.ScheduledAt,
		CreatedBy:       input.CreatedBy,
	}

	msgs := make([]*model.IndividualMessage, 0, len(resolution.Recipients))
	for _, rec := range resolution.Recipients {
		msgs = append(msgs, &model.IndividualMessage{
			MemberID:            rec.MemberID,
			RecipientName:       rec.Name,
			RecipientPhone:      rec.Phone,
			PersonalizedMessage: RenderMessage(input.Template, rec, s.ChurchName),
			Status:              rowStatus,
		})
	}

	if err := s.BatchRepo.Create(batch, msgs); err != nil {
		return nil, err
	}

	if batchStatus == model.BatchStatusPending {
		if err := s.Queue.PublishDispatch(queue.DispatchJob{BatchID: batch.ID, Scope: queue.ScopeAllPending}); err != nil {
			// The batch is persisted with its rows pending; a manual
			// re-dispatch picks it up.
			s.Logger.WithError(err).WithField("batch_id", batch.ID).Error("failed to queue dispatch")
			return nil, err
		}
	}

	if resolution.DroppedInvalid > 0 {
		s.Logger.WithFields(logrus.Fields{
			"batch_id": batch.ID,
			"dropped":  resolution.DroppedInvalid,
		}).Warn("invalid phone numbers dropped during resolution")
	}

	return &CreateBatchResult{Batch: batch, DroppedInvalid: resolution.DroppedInvalid}, nil
}

// Redispatch queues a pass over a batch's remaining pending rows; used to
// resume a batch whose earlier pass was interrupted.
func (s *BatchService) Redispatch(batchID string) error {
	if _, err := s.BatchRepo.GetByID(batchID); err != nil {
		return err
	}
	return s.Queue.PublishDispatch(queue.DispatchJob{BatchID: batchID, Scope: queue.ScopeAllPending})
}

// Resend queues a pass restricted to the batch's failed rows. Sent rows are
// never revisited; a batch with no failed rows makes the pass a no-op.
func (s *BatchService) Resend(batchID string) error {
	if _, err := s.BatchRepo.GetByID(batchID); err != nil {
		return err
	}
	return s.Queue.PublishDispatch(queue.DispatchJob{BatchID: batchID, Scope: queue.ScopeFailedOnly})
}

// BatchDetails is a batch with its per-status row stats.
type BatchDetails struct {
	*model.CommunicationBatch
	Stats map[string]int `json:"stats"`
}

func (s *BatchService) GetBatchDetails(batchID string) (*BatchDetails, error) {
	batch, err := s.BatchRepo.GetByID(batchID)
	if err != nil {
		return nil, err
	}
	stats, err := s.MessageRepo.CountByStatus(batchID)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range stats {
		total += n
	}
	stats["total"] = total
	return &BatchDetails{CommunicationBatch: batch, Stats: stats}, nil
}

// ListBatches fetches batches with pagination
func (s *BatchService) ListBatches(page, pageSize int, channel, status string) ([]model.CommunicationBatch, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.BatchRepo.ListBatches(offset, pageSize, channel, status)
	if err != nil {
		return nil, nil, err
	}

	batches := make([]model.CommunicationBatch, len(ptrs))
	for i, b := range ptrs {
		batches[i] = *b
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return batches, pagination, nil
}

// ListMessages returns a batch's per-recipient rows for the history screens.
func (s *BatchService) ListMessages(batchID, status string, page, pageSize int) ([]*model.IndividualMessage, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	msgs, total, err := s.MessageRepo.ListByBatch(batchID, status, offset, pageSize)
	if err != nil {
		return nil, nil, err
	}
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": (total + pageSize - 1) / pageSize,
	}
	return msgs, pagination, nil
}

// RenderPreview renders a template against one member without persisting
// anything. An override template lets the UI preview edits before saving.
func (s *BatchService) RenderPreview(memberID int, template string, overrideTemplate *string) (string, error) {
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		template = *overrideTemplate
	}
	if strings.TrimSpace(template) == "" {
		return "", appErrors.NewValidation("template cannot be empty")
	}

	members, err := s.MemberRepo.ActiveByIDs([]int{memberID})
	if err != nil {
		return "", err
	}
	if len(members) == 0 {
		return "", appErrors.NewValidation("member %d not found or inactive", memberID)
	}

	return RenderMessage(template, memberToRecipient(members[0]), s.ChurchName), nil
}

func (s *BatchService) costFor(channel string) int64 {
	if channel == model.ChannelWhatsApp {
		return s.WACost
	}
	return s.SMSCost
}
