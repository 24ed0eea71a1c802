// internal/model/individual_message.go
package model

import "time"

// Individual message status values.
const (
	MessageStatusPending   = "pending"
	MessageStatusScheduled = "scheduled"
	MessageStatusSent      = "sent"
	MessageStatusFailed    = "failed"
)

// IndividualMessage is one recipient's row within a batch. The personalized
// text is rendered once at batch creation and never re-rendered on retry.
type IndividualMessage struct {
	ID                  int        `db:"id" json:"id"`
	BatchID             string     `db:"batch_id" json:"batch_id"`
	MemberID            *int       `db:"member_id" json:"member_id,omitempty"`
	RecipientName       string     `db:"recipient_name" json:"recipient_name"`
	RecipientPhone      string     `db:"recipient_phone" json:"recipient_phone"`
	PersonalizedMessage string     `db:"personalized_message" json:"personalized_message"`
	Status              string     `db:"status" json:"status"`
	ProviderMessageID   *string    `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ErrorReason         *string    `db:"error_reason" json:"error_reason,omitempty"`
	AttemptCount        int        `db:"attempt_count" json:"attempt_count"`
	SentAt              *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}
