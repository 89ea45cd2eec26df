// internal/model/send.go
package model

import "time"

// Send statuses. Terminal states are final facts and rows are never deleted.
const (
	SendQueued    = "queued"
	SendSending   = "sending"
	SendSent      = "sent"
	SendDelivered = "delivered"
	SendRead      = "read"
	SendFailed    = "failed"
	SendCanceled  = "canceled"
)

// StageTimestamps records when each lifecycle stage was reached.
type StageTimestamps struct {
	QueuedAt    *time.Time `db:"queued_at" json:"queuedAt,omitempty"`
	SendingAt   *time.Time `db:"sending_at" json:"sendingAt,omitempty"`
	SentAt      *time.Time `db:"sent_at" json:"sentAt,omitempty"`
	DeliveredAt *time.Time `db:"delivered_at" json:"deliveredAt,omitempty"`
	ReadAt      *time.Time `db:"read_at" json:"readAt,omitempty"`
	FailedAt    *time.Time `db:"failed_at" json:"failedAt,omitempty"`
	CanceledAt  *time.Time `db:"canceled_at" json:"canceledAt,omitempty"`
}

// Send is one recipient's delivery record within a campaign.
type Send struct {
	ID         int    `db:"id" json:"id"`
	CampaignID int    `db:"campaign_id" json:"campaign_id"`
	Phone      string `db:"phone" json:"phone"`
	Payload    string `db:"payload" json:"payload,omitempty"`
	Status     string `db:"status" json:"status"`
	Attempts   int    `db:"attempts" json:"attempts"`
	LastError  string `db:"last_error" json:"last_error,omitempty"`

	// Correlation ids used to match asynchronous gateway callbacks.
	MessageID string `db:"message_id" json:"message_id,omitempty"`
	ZaapID    string `db:"zaap_id" json:"zaap_id,omitempty"`

	Timestamps StageTimestamps `json:"timestamps"`

	// Deterministic hash of (campaignId, phone, payload); unique index makes
	// enqueue idempotent.
	Checksum string `db:"checksum" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
