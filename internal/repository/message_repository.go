package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kanisahub/comms-backend/internal/model"
)

type MessageRepositoryInterface interface {
	ListByBatchAndStatuses(batchID string, statuses []string) ([]*model.IndividualMessage, error)
	ListByBatch(batchID, status string, offset, limit int) ([]*model.IndividualMessage, int, error)
	MarkSent(id int, providerMessageID string, sentAt time.Time, attempts int) error
	MarkFailed(id int, reason string, attempts int) error
	ResetFailedToPending(batchID string) (int, error)
	CountByStatus(batchID string) (map[string]int, error)
}

type MessageRepository struct {
	DB *sql.DB
}

const messageColumns = `id, batch_id, member_id, recipient_name, recipient_phone,
    personalized_message, status, provider_message_id, error_reason,
    attempt_count, sent_at, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*model.IndividualMessage, error) {
	var m model.IndividualMessage
	err := row.Scan(&m.ID, &m.BatchID, &m.MemberID, &m.RecipientName, &m.RecipientPhone,
		&m.PersonalizedMessage, &m.Status, &m.ProviderMessageID, &m.ErrorReason,
		&m.AttemptCount, &m.SentAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepository) ListByBatchAndStatuses(batchID string, statuses []string) ([]*model.IndividualMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM individual_messages
              WHERE batch_id=$1 AND status = ANY($2) ORDER BY id`
	rows, err := r.DB.Query(query, batchID, pq.Array(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []*model.IndividualMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListByBatch is the reporting read behind the batch detail screen.
func (r *MessageRepository) ListByBatch(batchID, status string, offset, limit int) ([]*model.IndividualMessage, int, error) {
	query := `SELECT ` + messageColumns + ` FROM individual_messages WHERE batch_id=$1`
	countQuery := `SELECT COUNT(*) FROM individual_messages WHERE batch_id=$1`
	args := []interface{}{batchID}
	countArgs := []interface{}{batchID}

	if status != "" {
		query += ` AND status=$2`
		countQuery += ` AND status=$2`
		args = append(args, status)
		countArgs = append(countArgs, status)
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	msgs := []*model.IndividualMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		msgs = append(msgs, m)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

func (r *MessageRepository) MarkSent(id int, providerMessageID string, sentAt time.Time, attempts int) error {
	_, err := r.DB.Exec(
		`UPDATE individual_messages
         SET status=$1, provider_message_id=$2, error_reason=NULL, sent_at=$3,
             attempt_count=$4, updated_at=NOW()
         WHERE id=$5`,
		model.MessageStatusSent, providerMessageID, sentAt, attempts, id,
	)
	return err
}

func (r *MessageRepository) MarkFailed(id int, reason string, attempts int) error {
	_, err := r.DB.Exec(
		`UPDATE individual_messages
         SET status=$1, error_reason=$2, attempt_count=$3, updated_at=NOW()
         WHERE id=$4`,
		model.MessageStatusFailed, reason, attempts, id,
	)
	return err
}

// ResetFailedToPending flips a batch's failed rows back to pending ahead of a
// resend pass. Sent rows are never touched. The batch's failed_count is
// cleared in the same transaction: once the rows are pending again, the old
// aggregate is stale, and leaving it in place would let a reader see final
// counts against a batch that is about to re-enter sending. Returns the
// number of rows flipped; zero means the resend is a no-op.
func (r *MessageRepository) ResetFailedToPending(batchID string) (int, error) {
	tx, err := r.DB.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE individual_messages
         SET status=$1, error_reason=NULL, updated_at=NOW()
         WHERE batch_id=$2 AND status=$3`,
		model.MessageStatusPending, batchID, model.MessageStatusFailed,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if n > 0 {
		_, err = tx.Exec(
			`UPDATE communication_batches SET failed_count=0 WHERE id=$1`,
			batchID,
		)
		if err != nil {
			return 0, err
		}
	}

	return int(n), tx.Commit()
}

func (r *MessageRepository) CountByStatus(batchID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM individual_messages WHERE batch_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"pending": 0, "scheduled": 0, "sent": 0, "failed": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
