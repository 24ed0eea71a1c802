// internal/model/batch.go
package model

import "time"

// Batch status values. Transitions are owned by the repository/dispatcher
// pair; see service.DispatchWorker.
const (
	BatchStatusDraft     = "draft"
	BatchStatusScheduled = "scheduled"
	BatchStatusPending   = "pending"
	BatchStatusSending   = "sending"
	BatchStatusCompleted = "completed"
	BatchStatusFailed    = "failed"
)

// Channel values.
const (
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
)

// CommunicationBatch is one outbound campaign: a resolved recipient set,
// one message template, and the aggregate delivery bookkeeping.
type CommunicationBatch struct {
	ID              string     `db:"id" json:"id"`
	Channel         string     `db:"channel" json:"channel"`
	SelectorType    string     `db:"selector_type" json:"selector_type"`
	SelectorPayload string     `db:"selector_payload" json:"selector_payload,omitempty"`
	MessageTemplate string     `db:"message_template" json:"message_template"`
	TotalRecipients int        `db:"total_recipients" json:"total_recipients"`
	SentCount       int        `db:"sent_count" json:"sent_count"`
	FailedCount     int        `db:"failed_count" json:"failed_count"`
	CostPerUnit     int64      `db:"cost_per_unit" json:"cost_per_unit"`
	TotalCost       int64      `db:"total_cost" json:"total_cost"`
	Status          string     `db:"status" json:"status"`
	ScheduledAt     *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CreatedBy       string     `db:"created_by" json:"created_by"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// IsTerminal reports whether no further automatic transition occurs.
func (b *CommunicationBatch) IsTerminal() bool {
	return b.Status == BatchStatusCompleted || b.Status == BatchStatusFailed
}
