package repository

import (
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/kanisahub/comms-backend/internal/errors"
	"github.com/kanisahub/comms-backend/internal/model"
)

type BatchRepositoryInterface interface {
	Create(b *model.CommunicationBatch, msgs []*model.IndividualMessage) error
	GetByID(id string) (*model.CommunicationBatch, error)
	ListBatches(offset, limit int, channel, status string) ([]*model.CommunicationBatch, int, error)

	// Status transitions
	ClaimScheduled(id string) (bool, error)
	MarkSending(id string) error
	Finalize(id string, sent, failed int, totalCost int64, status string, completedAt time.Time) error

	// Scheduler feed
	ListDue(now time.Time) ([]*model.CommunicationBatch, error)
}

type BatchRepository struct {
	DB *sql.DB
}

// Create persists the batch and its per-recipient rows in one transaction so
// total_recipients always equals the row count from the moment the batch is
// visible.
func (r *BatchRepository) Create(b *model.CommunicationBatch, msgs []*model.IndividualMessage) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	b.CreatedAt = time.Now()
	b.TotalRecipients = len(msgs)

	query := `
        INSERT INTO communication_batches
            (id, channel, selector_type, selector_payload, message_template,
             total_recipients, sent_count, failed_count, cost_per_unit, total_cost,
             status, scheduled_at, created_by, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7, 0, $8, $9, $10, $11)
    `
	_, err = tx.Exec(query, b.ID, b.Channel, b.SelectorType, b.SelectorPayload, b.MessageTemplate,
		b.TotalRecipients, b.CostPerUnit, b.Status, b.ScheduledAt, b.CreatedBy, b.CreatedAt)
	if err != nil {
		return err
	}

	msgQuery := `
        INSERT INTO individual_messages
            (batch_id, member_id, recipient_name, recipient_phone, personalized_message,
             status, attempt_count, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, 0, NOW(), NOW())
        RETURNING id
    `
	for _, m := range msgs {
		m.BatchID = b.ID
		if err := tx.QueryRow(msgQuery, m.BatchID, m.MemberID, m.RecipientName,
			m.RecipientPhone, m.PersonalizedMessage, m.Status).Scan(&m.ID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const batchColumns = `id, channel, selector_type, selector_payload, message_template,
    total_recipients, sent_count, failed_count, cost_per_unit, total_cost,
    status, scheduled_at, created_by, created_at, completed_at`

func scanBatch(row interface{ Scan(...any) error }) (*model.CommunicationBatch, error) {
	var b model.CommunicationBatch
	err := row.Scan(&b.ID, &b.Channel, &b.SelectorType, &b.SelectorPayload, &b.MessageTemplate,
		&b.TotalRecipients, &b.SentCount, &b.FailedCount, &b.CostPerUnit, &b.TotalCost,
		&b.Status, &b.ScheduledAt, &b.CreatedBy, &b.CreatedAt, &b.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BatchRepository) GetByID(id string) (*model.CommunicationBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM communication_batches WHERE id=$1`
	b, err := scanBatch(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewBatchNotFound(id)
		}
		return nil, err
	}
	return b, nil
}

func (r *BatchRepository) ListBatches(offset, limit int, channel, status string) ([]*model.CommunicationBatch, int, error) {
	batches := []*model.CommunicationBatch{}
	query := `SELECT ` + batchColumns + ` FROM communication_batches WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if channel != "" {
		query += fmt.Sprintf(" AND channel=$%d", argPos)
		args = append(args, channel)
		argPos++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, err
		}
		batches = append(batches, b)
	}

	countQuery := `SELECT COUNT(*) FROM communication_batches WHERE 1=1`
	argsCount := []interface{}{}
	argPosCount := 1
	if channel != "" {
		countQuery += fmt.Sprintf(" AND channel=$%d", argPosCount)
		argsCount = append(argsCount, channel)
		argPosCount++
	}
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", argPosCount)
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return batches, total, nil
}

// ClaimScheduled flips a batch from scheduled to pending. The compare-and-set
// on status means exactly one scheduler tick wins the claim; a second
// concurrent tick sees zero rows updated.
func (r *BatchRepository) ClaimScheduled(id string) (bool, error) {
	res, err := r.DB.Exec(
		`UPDATE communication_batches SET status=$1 WHERE id=$2 AND status=$3`,
		model.BatchStatusPending, id, model.BatchStatusScheduled,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkSending moves a batch into the sending state. A resend pass re-enters
// sending from completed or failed; pending is the initial entry; sending is
// allowed again so an interrupted pass can be resumed.
func (r *BatchRepository) MarkSending(id string) error {
	res, err := r.DB.Exec(
		`UPDATE communication_batches SET status=$1
         WHERE id=$2 AND status IN ($3, $4, $5, $6)`,
		model.BatchStatusSending, id,
		model.BatchStatusPending, model.BatchStatusCompleted, model.BatchStatusFailed,
		model.BatchStatusSending,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("batch %s cannot enter sending from its current status", id)
	}
	return nil
}

// Finalize writes the aggregate counts, cost and terminal status in a single
// statement, so no reader ever observes sent+failed == total while the batch
// still reads as sending.
func (r *BatchRepository) Finalize(id string, sent, failed int, totalCost int64, status string, completedAt time.Time) error {
	_, err := r.DB.Exec(
		`UPDATE communication_batches
         SET sent_count=$1, failed_count=$2, total_cost=$3, status=$4, completed_at=$5
         WHERE id=$6`,
		sent, failed, totalCost, status, completedAt, id,
	)
	return err
}

func (r *BatchRepository) ListDue(now time.Time) ([]*model.CommunicationBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM communication_batches
              WHERE status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
              ORDER BY scheduled_at`
	rows, err := r.DB.Query(query, model.BatchStatusScheduled, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	due := []*model.CommunicationBatch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, b)
	}
	return due, rows.Err()
}

var _ BatchRepositoryInterface = (*BatchRepository)(nil)
