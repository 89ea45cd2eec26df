package repository

import (
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/m15x/disparo-backend/internal/errors"
	"github.com/m15x/disparo-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	GetByID(id int) (*model.Campaign, error)
	List(offset, limit int, status string) ([]*model.Campaign, int, error)
	UpdateStatus(campaignID int, status string) error

	// MarkRunning flips the campaign to running and installs a fresh
	// capability token hash in one update.
	MarkRunning(campaignID int, tokenHash string, expiresAt time.Time) error

	// ApplyTotalsDelta adjusts the status buckets with atomic increments.
	ApplyTotalsDelta(campaignID int, d model.TotalsDelta) error

	// MarkCompleted transitions running -> completed only while done >= total.
	// Returns whether the row was updated.
	MarkCompleted(campaignID int, at time.Time) (bool, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, status,
	totals_total, totals_queued, totals_sending, totals_sent,
	totals_delivered, totals_read, totals_failed, totals_canceled,
	batch_size, throttle_per_second, started_at, completed_at,
	dispatch_token_hash, dispatch_token_expires_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	var hash sql.NullString
	err := row.Scan(
		&c.ID, &c.Name, &c.Status,
		&c.Totals.Total, &c.Totals.Queued, &c.Totals.Sending, &c.Totals.Sent,
		&c.Totals.Delivered, &c.Totals.Read, &c.Totals.Failed, &c.Totals.Canceled,
		&c.BatchSize, &c.ThrottlePerSecond, &c.StartedAt, &c.CompletedAt,
		&hash, &c.DispatchTokenExpiresAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.DispatchTokenHash = hash.String
	return &c, nil
}

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.ThrottlePerSecond <= 0 {
		c.ThrottlePerSecond = 5
	}
	query := `
        INSERT INTO campaigns (name, status, batch_size, throttle_per_second, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `
	return r.DB.QueryRow(query, c.Name, c.Status, c.BatchSize, c.ThrottlePerSecond, c.CreatedAt).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	c, err := scanCampaign(r.DB.QueryRow(
		`SELECT `+campaignColumns+` FROM campaigns WHERE id=$1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) List(offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	countArgs := []interface{}{}
	if status != "" {
		countQuery += " AND status=$1"
		countArgs = append(countArgs, status)
	}
	var total int
	if err := r.DB.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

func (r *CampaignRepository) UpdateStatus(campaignID int, status string) error {
	res, err := r.DB.Exec(
		`UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3`,
		status, time.Now(), campaignID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	return nil
}

func (r *CampaignRepository) MarkRunning(campaignID int, tokenHash string, expiresAt time.Time) error {
	now := time.Now()
	res, err := r.DB.Exec(`
        UPDATE campaigns
        SET status=$1, started_at=COALESCE(started_at, $2),
            dispatch_token_hash=$3, dispatch_token_expires_at=$4, updated_at=$2
        WHERE id=$5
    `, model.CampaignRunning, now, tokenHash, expiresAt, campaignID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	return nil
}

// ApplyTotalsDelta uses blind increments so concurrent reporters never lose
// updates to each other.
func (r *CampaignRepository) ApplyTotalsDelta(campaignID int, d model.TotalsDelta) error {
	_, err := r.DB.Exec(`
        UPDATE campaigns SET
            totals_total     = totals_total + $1,
            totals_queued    = totals_queued + $2,
            totals_sending   = totals_sending + $3,
            totals_sent      = totals_sent + $4,
            totals_delivered = totals_delivered + $5,
            totals_read      = totals_read + $6,
            totals_failed    = totals_failed + $7,
            totals_canceled  = totals_canceled + $8,
            updated_at       = $9
        WHERE id=$10
    `, d.Total, d.Queued, d.Sending, d.Sent, d.Delivered, d.Read, d.Failed, d.Canceled,
		time.Now(), campaignID)
	return err
}

func (r *CampaignRepository) MarkCompleted(campaignID int, at time.Time) (bool, error) {
	// The done >= total condition lives in the statement so two concurrent
	// reporters cannot both observe an incomplete campaign and race the flip.
	res, err := r.DB.Exec(`
        UPDATE campaigns
        SET status=$1, completed_at=$2, updated_at=$2
        WHERE id=$3 AND status=$4 AND totals_total > 0
          AND (totals_sent + totals_delivered + totals_read + totals_failed + totals_canceled) >= totals_total
    `, model.CampaignCompleted, at, campaignID, model.CampaignRunning)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
