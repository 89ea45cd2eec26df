package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/m15x/disparo-backend/internal/model"
)

type SendRepositoryInterface interface {
	// Insert creates a queued Send. Returns inserted=false when the checksum
	// already exists (idempotent enqueue).
	Insert(s *model.Send) (bool, error)

	GetByPhone(campaignID int, phone string) (*model.Send, error)
	GetByCorrelation(messageID, zaapID string) (*model.Send, error)

	// Transition moves a single send from -> to, stamping the stage timestamp,
	// only if it is still in the expected source status. Returns whether the
	// row actually moved.
	Transition(id int, from, to string, at time.Time, messageID, zaapID, lastError string) (bool, error)

	// Claim reserves up to limit oldest queued sends by conditionally flipping
	// them to sending. Safe under concurrent callers.
	Claim(campaignID, limit int, at time.Time) ([]model.Send, error)

	List(campaignID int, status string, offset, limit int) ([]model.Send, error)
	Queued(campaignID, limit int) ([]model.Send, error)

	// CancelPending moves every queued/sending send to canceled and adjusts
	// the campaign counters in one transaction.
	CancelPending(campaignID int, at time.Time) (queued int, sending int, err error)
}

type SendRepository struct {
	DB *sql.DB
}

const sendColumns = `id, campaign_id, phone, payload, status, attempts, last_error,
	message_id, zaap_id, queued_at, sending_at, sent_at, delivered_at,
	read_at, failed_at, canceled_at, checksum, created_at, updated_at`

// stageColumn whitelists the timestamp column stamped per destination status.
var stageColumn = map[string]string{
	model.SendSending:   "sending_at",
	model.SendSent:      "sent_at",
	model.SendDelivered: "delivered_at",
	model.SendRead:      "read_at",
	model.SendFailed:    "failed_at",
	model.SendCanceled:  "canceled_at",
}

func scanSend(row interface{ Scan(...any) error }) (*model.Send, error) {
	var s model.Send
	err := row.Scan(
		&s.ID, &s.CampaignID, &s.Phone, &s.Payload, &s.Status, &s.Attempts, &s.LastError,
		&s.MessageID, &s.ZaapID,
		&s.Timestamps.QueuedAt, &s.Timestamps.SendingAt, &s.Timestamps.SentAt,
		&s.Timestamps.DeliveredAt, &s.Timestamps.ReadAt, &s.Timestamps.FailedAt,
		&s.Timestamps.CanceledAt,
		&s.Checksum, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SendRepository) Insert(s *model.Send) (bool, error) {
	now := time.Now()
	s.Status = model.SendQueued
	s.CreatedAt = now
	s.UpdatedAt = now
	s.Timestamps.QueuedAt = &now
	err := r.DB.QueryRow(`
        INSERT INTO sends (campaign_id, phone, payload, status, attempts, queued_at, checksum, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 0, $5, $6, $5, $5)
        RETURNING id
    `, s.CampaignID, s.Phone, s.Payload, s.Status, now, s.Checksum).Scan(&s.ID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *SendRepository) GetByPhone(campaignID int, phone string) (*model.Send, error) {
	s, err := scanSend(r.DB.QueryRow(
		`SELECT `+sendColumns+` FROM sends WHERE campaign_id=$1 AND phone=$2`,
		campaignID, phone))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *SendRepository) GetByCorrelation(messageID, zaapID string) (*model.Send, error) {
	var row *sql.Row
	switch {
	case messageID != "":
		row = r.DB.QueryRow(`SELECT `+sendColumns+` FROM sends WHERE message_id=$1`, messageID)
	case zaapID != "":
		row = r.DB.QueryRow(`SELECT `+sendColumns+` FROM sends WHERE zaap_id=$1`, zaapID)
	default:
		return nil, nil
	}
	s, err := scanSend(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *SendRepository) Transition(id int, from, to string, at time.Time, messageID, zaapID, lastError string) (bool, error) {
	col, ok := stageColumn[to]
	if !ok {
		return false, fmt.Errorf("no timestamp column for status %q", to)
	}
	query := fmt.Sprintf(`
        UPDATE sends
        SET status=$1, %s=$2, updated_at=$2,
            message_id = CASE WHEN $3 <> '' THEN $3 ELSE message_id END,
            zaap_id    = CASE WHEN $4 <> '' THEN $4 ELSE zaap_id END,
            last_error = CASE WHEN $5 <> '' THEN $5 ELSE last_error END
        WHERE id=$6 AND status=$7
    `, col)
	res, err := r.DB.Exec(query, to, at, messageID, zaapID, lastError, id, from)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *SendRepository) Claim(campaignID, limit int, at time.Time) ([]model.Send, error) {
	// SKIP LOCKED keeps concurrent claimers from blocking on, or double
	// reserving, the same rows.
	rows, err := r.DB.Query(`
        UPDATE sends
        SET status=$1, sending_at=$2, updated_at=$2, attempts=attempts+1
        WHERE id IN (
            SELECT id FROM sends
            WHERE campaign_id=$3 AND status=$4
            ORDER BY id ASC
            LIMIT $5
            FOR UPDATE SKIP LOCKED
        )
        RETURNING `+sendColumns,
		model.SendSending, at, campaignID, model.SendQueued, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	claimed := []model.Send{}
	for rows.Next() {
		s, err := scanSend(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, *s)
	}
	return claimed, rows.Err()
}

func (r *SendRepository) List(campaignID int, status string, offset, limit int) ([]model.Send, error) {
	query := `SELECT ` + sendColumns + ` FROM sends WHERE campaign_id=$1`
	args := []interface{}{campaignID}
	argPos := 2
	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sends := []model.Send{}
	for rows.Next() {
		s, err := scanSend(rows)
		if err != nil {
			return nil, err
		}
		sends = append(sends, *s)
	}
	return sends, rows.Err()
}

func (r *SendRepository) Queued(campaignID, limit int) ([]model.Send, error) {
	rows, err := r.DB.Query(
		`SELECT `+sendColumns+` FROM sends WHERE campaign_id=$1 AND status=$2 ORDER BY id ASC LIMIT $3`,
		campaignID, model.SendQueued, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sends := []model.Send{}
	for rows.Next() {
		s, err := scanSend(rows)
		if err != nil {
			return nil, err
		}
		sends = append(sends, *s)
	}
	return sends, rows.Err()
}

func (r *SendRepository) CancelPending(campaignID int, at time.Time) (int, int, error) {
	tx, err := r.DB.Begin()
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3`,
		model.CampaignCanceled, at, campaignID); err != nil {
		return 0, 0, err
	}

	moved := map[string]int{}
	for _, from := range []string{model.SendQueued, model.SendSending} {
		res, err := tx.Exec(`
            UPDATE sends SET status=$1, canceled_at=$2, updated_at=$2
            WHERE campaign_id=$3 AND status=$4
        `, model.SendCanceled, at, campaignID, from)
		if err != nil {
			return 0, 0, err
		}
		n, _ := res.RowsAffected()
		moved[from] = int(n)
	}

	if _, err := tx.Exec(`
        UPDATE campaigns SET
            totals_queued   = totals_queued - $1,
            totals_sending  = totals_sending - $2,
            totals_canceled = totals_canceled + $3,
            updated_at      = $4
        WHERE id=$5
    `, moved[model.SendQueued], moved[model.SendSending],
		moved[model.SendQueued]+moved[model.SendSending], at, campaignID); err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return moved[model.SendQueued], moved[model.SendSending], nil
}

var _ SendRepositoryInterface = (*SendRepository)(nil)
