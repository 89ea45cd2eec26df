// internal/model/campaign.go
package model

import "time"

// Campaign statuses.
const (
	CampaignDraft     = "draft"
	CampaignRunning   = "running"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
	CampaignCanceled  = "canceled"
	CampaignFailed    = "failed"
)

// Totals is the per-status counter record kept on the campaign row.
// Invariant: Total == Queued+Sending+Sent+Delivered+Read+Failed+Canceled.
type Totals struct {
	Total     int `db:"totals_total" json:"total"`
	Queued    int `db:"totals_queued" json:"queued"`
	Sending   int `db:"totals_sending" json:"sending"`
	Sent      int `db:"totals_sent" json:"sent"`
	Delivered int `db:"totals_delivered" json:"delivered"`
	Read      int `db:"totals_read" json:"read"`
	Failed    int `db:"totals_failed" json:"failed"`
	Canceled  int `db:"totals_canceled" json:"canceled"`
}

// Done counts sends that reached a terminal bucket.
func (t Totals) Done() int {
	return t.Sent + t.Delivered + t.Read + t.Failed + t.Canceled
}

// Sum adds every status bucket (used to check the ledger invariant).
func (t Totals) Sum() int {
	return t.Queued + t.Sending + t.Done()
}

// Percent returns completion as 0-100.
func (t Totals) Percent() int {
	if t.Total == 0 {
		return 0
	}
	p := t.Done() * 100 / t.Total
	if p > 100 {
		p = 100
	}
	return p
}

// TotalsDelta is a signed adjustment applied to Totals with atomic increments.
type TotalsDelta struct {
	Total     int
	Queued    int
	Sending   int
	Sent      int
	Delivered int
	Read      int
	Failed    int
	Canceled  int
}

type Campaign struct {
	ID                int        `db:"id" json:"id"`
	Name              string     `db:"name" json:"name"`
	Status            string     `db:"status" json:"status"`
	Totals            Totals     `json:"totals"`
	BatchSize         int        `db:"batch_size" json:"batch_size"`
	ThrottlePerSecond int        `db:"throttle_per_second" json:"throttle_per_second"`
	StartedAt         *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt       *time.Time `db:"completed_at" json:"completed_at,omitempty"`

	// Capability token for async status reports. Only the hash is stored;
	// the raw token is returned once on start/resume.
	DispatchTokenHash      string     `db:"dispatch_token_hash" json:"-"`
	DispatchTokenExpiresAt *time.Time `db:"dispatch_token_expires_at" json:"-"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
