package repository

import (
	"database/sql"
	"time"

	"github.com/m15x/disparo-backend/internal/model"
)

type DisparoRunRepositoryInterface interface {
	// StartRun upserts run metadata keyed by run_id and marks it running.
	StartRun(run *model.DisparoRun) error

	SetQueuedTotal(runID string, total int) error
	UpdateProgress(runID string, t model.RunTotals, lastContactID int) error
	Finish(runID, status string, at time.Time) error

	// LatestActive returns the most recent running/paused run for an
	// instance, for status rehydration after a restart.
	LatestActive(instance string) (*model.DisparoRun, error)
}

type DisparoRunRepository struct {
	DB *sql.DB
}

func (r *DisparoRunRepository) StartRun(run *model.DisparoRun) error {
	now := time.Now()
	run.Status = model.RunRunning
	run.StartedAt = &now
	run.UpdatedAt = now
	return r.DB.QueryRow(`
        INSERT INTO disparo_runs
            (run_id, status, type, instance, message, media_base64, wait_profile, started_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
        ON CONFLICT (run_id) DO UPDATE SET
            status=$2, type=$3, instance=$4, message=$5, media_base64=$6,
            wait_profile=$7, started_at=$8, updated_at=$8
        RETURNING id
    `, run.RunID, run.Status, run.Type, run.Instance, run.Message,
		run.MediaBase64, run.WaitProfile, now).Scan(&run.ID)
}

func (r *DisparoRunRepository) SetQueuedTotal(runID string, total int) error {
	_, err := r.DB.Exec(
		`UPDATE disparo_runs SET totals_queued=$1, updated_at=$2 WHERE run_id=$3`,
		total, time.Now(), runID)
	return err
}

func (r *DisparoRunRepository) UpdateProgress(runID string, t model.RunTotals, lastContactID int) error {
	_, err := r.DB.Exec(`
        UPDATE disparo_runs SET
            totals_sent=$1, totals_errors=$2, totals_processed=$3,
            last_contact_id=$4, updated_at=$5
        WHERE run_id=$6
    `, t.Sent, t.Errors, t.Processed, lastContactID, time.Now(), runID)
	return err
}

func (r *DisparoRunRepository) Finish(runID, status string, at time.Time) error {
	_, err := r.DB.Exec(
		`UPDATE disparo_runs SET status=$1, finished_at=$2, updated_at=$2 WHERE run_id=$3`,
		status, at, runID)
	return err
}

func (r *DisparoRunRepository) LatestActive(instance string) (*model.DisparoRun, error) {
	var run model.DisparoRun
	err := r.DB.QueryRow(`
        SELECT id, run_id, status, type, instance, message, media_base64, wait_profile,
               totals_queued, totals_sent, totals_errors, totals_processed,
               last_contact_id, started_at, finished_at, updated_at
        FROM disparo_runs
        WHERE instance=$1 AND status IN ($2, $3)
        ORDER BY started_at DESC
        LIMIT 1
    `, instance, model.RunRunning, model.RunPaused).Scan(
		&run.ID, &run.RunID, &run.Status, &run.Type, &run.Instance,
		&run.Message, &run.MediaBase64, &run.WaitProfile,
		&run.Totals.Queued, &run.Totals.Sent, &run.Totals.Errors, &run.Totals.Processed,
		&run.LastContactID, &run.StartedAt, &run.FinishedAt, &run.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

var _ DisparoRunRepositoryInterface = (*DisparoRunRepository)(nil)
