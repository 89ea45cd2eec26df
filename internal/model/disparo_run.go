// internal/model/disparo_run.go
package model

import "time"

// DisparoRun statuses.
const (
	RunIdle      = "idle"
	RunRunning   = "running"
	RunPaused    = "paused"
	RunCanceled  = "canceled"
	RunCompleted = "completed"
)

// Disparo message types.
const (
	DisparoText  = "text"
	DisparoImage = "image"
	DisparoVideo = "video"
)

// RunTotals tracks progress of a single disparo run.
// Invariant: Processed == Sent + Errors.
type RunTotals struct {
	Queued    int `db:"totals_queued" json:"queued"`
	Sent      int `db:"totals_sent" json:"sent"`
	Errors    int `db:"totals_errors" json:"errors"`
	Processed int `db:"totals_processed" json:"processed"`
}

// DisparoRun is one broadcast over the contact collection for a single
// gateway instance.
type DisparoRun struct {
	ID            int        `db:"id" json:"id"`
	RunID         string     `db:"run_id" json:"run_id"`
	Status        string     `db:"status" json:"status"`
	Type          string     `db:"type" json:"type"`
	Instance      string     `db:"instance" json:"instance"`
	Message       string     `db:"message" json:"message"`
	MediaBase64   string     `db:"media_base64" json:"-"`
	WaitProfile   string     `db:"wait_profile" json:"wait_profile"`
	Totals        RunTotals  `json:"totals"`
	LastContactID int        `db:"last_contact_id" json:"last_contact_id"`
	StartedAt     *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt    *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}
