// internal/service/ledger.go
package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/m15x/disparo-backend/internal/errors"
	"github.com/m15x/disparo-backend/internal/metrics"
	"github.com/m15x/disparo-backend/internal/model"
	"github.com/m15x/disparo-backend/internal/phone"
	"github.com/m15x/disparo-backend/internal/repository"
	"github.com/m15x/disparo-backend/internal/sse"
)

// transitionRule gives the permitted source statuses for a reported stage.
type transitionRule struct {
	from []string
	to   string
}

// transitions is the Send status state machine, keyed by reported stage.
// A report whose stage's from-set excludes the current status is skipped,
// not rejected, so replayed and out-of-order reports are harmless.
var transitions = map[string]transitionRule{
	model.SendSending:   {from: []string{model.SendQueued}, to: model.SendSending},
	model.SendSent:      {from: []string{model.SendSending, model.SendQueued}, to: model.SendSent},
	model.SendDelivered: {from: []string{model.SendSent, model.SendSending}, to: model.SendDelivered},
	model.SendRead:      {from: []string{model.SendDelivered, model.SendSent}, to: model.SendRead},
	model.SendFailed:    {from: []string{model.SendQueued, model.SendSending, model.SendSent}, to: model.SendFailed},
	model.SendCanceled:  {from: []string{model.SendQueued, model.SendSending}, to: model.SendCanceled},
}

// decrementable statuses give up a counter unit when left; incrementable
// statuses gain one when entered. queued is entered only via enqueue.
var (
	decrementable = map[string]bool{
		model.SendQueued: true, model.SendSending: true,
		model.SendSent: true, model.SendDelivered: true,
	}
	incrementable = map[string]bool{
		model.SendSending: true, model.SendSent: true, model.SendDelivered: true,
		model.SendRead: true, model.SendFailed: true, model.SendCanceled: true,
	}
	terminalSuccess = map[string]bool{
		model.SendSent: true, model.SendDelivered: true, model.SendRead: true,
	}
)

const maxClaimLimit = 500

// ClaimNotifier tells the worker fleet a campaign has queued work.
type ClaimNotifier interface {
	PublishCampaignStart(campaignID int) error
}

// Ledger owns campaign/send state: the delivery state machine, the aggregate
// counters that must stay reconciled with it, and the claim/report protocol.
type Ledger struct {
	Campaigns  repository.CampaignRepositoryInterface
	Sends      repository.SendRepositoryInterface
	Hub        *sse.Hub
	Throughput *Throughput
	Metrics    *metrics.Metrics
	Notifier   ClaimNotifier
	Log        zerolog.Logger

	now func() time.Time
}

func NewLedger(
	campaigns repository.CampaignRepositoryInterface,
	sends repository.SendRepositoryInterface,
	hub *sse.Hub,
	tput *Throughput,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Ledger {
	return &Ledger{
		Campaigns:  campaigns,
		Sends:      sends,
		Hub:        hub,
		Throughput: tput,
		Metrics:    m,
		Log:        log,
		now:        time.Now,
	}
}

// EnqueueItem is one candidate recipient for a campaign.
type EnqueueItem struct {
	Phone   string `json:"phone"`
	Payload string `json:"payload"`
}

// ReportInput is an authenticated status report from a worker.
type ReportInput struct {
	Phone     string `json:"phone"`
	Stage     string `json:"stage"`
	MessageID string `json:"messageId"`
	ZaapID    string `json:"zaapId"`
	Error     string `json:"error"`
}

// ReportResult distinguishes applied reports from idempotent skips.
type ReportResult struct {
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// CampaignSummary is the live progress view for observers.
type CampaignSummary struct {
	CampaignID    int          `json:"campaignId"`
	Status        string       `json:"status"`
	Totals        model.Totals `json:"totals"`
	StartedAt     *time.Time   `json:"startedAt,omitempty"`
	CompletedAt   *time.Time   `json:"completedAt,omitempty"`
	Percent       int          `json:"percent"`
	Throughput    int          `json:"throughput"`
	AvgThroughput float64      `json:"avgThroughput"`
	EtaSeconds    *int         `json:"etaSeconds"`
}

func (l *Ledger) CreateCampaign(name string, batchSize, throttlePerSecond int) (*model.Campaign, error) {
	if name == "" {
		return nil, appErrors.ErrMissingFields
	}
	c := &model.Campaign{
		Name:              name,
		Status:            model.CampaignDraft,
		BatchSize:         batchSize,
		ThrottlePerSecond: throttlePerSecond,
	}
	if err := l.Campaigns.Create(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (l *Ledger) ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error) {
	return l.Campaigns.List(offset, limit, status)
}

func (l *Ledger) GetCampaign(id int) (*model.Campaign, error) {
	return l.Campaigns.GetByID(id)
}

// sendChecksum is the deterministic identity of (campaign, phone, payload).
func sendChecksum(campaignID int, phoneDigits, payload string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%d|%s|%s", campaignID, phoneDigits, payload))
	return hex.EncodeToString(sum[:])
}

// Enqueue inserts queued Send rows for the given recipients. Checksum
// collisions are reported as duplicates, not errors, and never touch the
// campaign counters.
func (l *Ledger) Enqueue(campaignID int, items []EnqueueItem) (inserted, duplicated int, err error) {
	if _, err := l.Campaigns.GetByID(campaignID); err != nil {
		return 0, 0, err
	}

	for _, item := range items {
		digits := phone.Digits(item.Phone)
		if digits == "" {
			continue
		}
		payload := item.Payload
		if payload == "" {
			payload = "{}"
		}
		s := &model.Send{
			CampaignID: campaignID,
			Phone:      digits,
			Payload:    payload,
			Checksum:   sendChecksum(campaignID, digits, payload),
		}
		ok, err := l.Sends.Insert(s)
		if err != nil {
			return inserted, duplicated, err
		}
		if ok {
			inserted++
		} else {
			duplicated++
		}
	}

	if inserted > 0 {
		if err := l.Campaigns.ApplyTotalsDelta(campaignID, model.TotalsDelta{
			Total:  inserted,
			Queued: inserted,
		}); err != nil {
			return inserted, duplicated, err
		}
	}
	if l.Metrics != nil {
		l.Metrics.EnqueuedTotal.Add(float64(inserted))
		l.Metrics.DuplicatesTotal.Add(float64(duplicated))
	}
	l.emitSummary(campaignID)
	return inserted, duplicated, nil
}

// Start moves the campaign to running and mints a fresh capability token.
// The raw token is returned exactly once.
func (l *Ledger) Start(campaignID int) (*model.Campaign, string, error) {
	token, hash := mintDispatchToken()
	expires := l.now().Add(dispatchTokenTTL)
	if err := l.Campaigns.MarkRunning(campaignID, hash, expires); err != nil {
		return nil, "", err
	}
	c, err := l.Campaigns.GetByID(campaignID)
	if err != nil {
		return nil, "", err
	}
	l.notifyWorkers(campaignID)
	l.emitSummary(campaignID)
	return c, token, nil
}

func (l *Ledger) Pause(campaignID int) error {
	if err := l.Campaigns.UpdateStatus(campaignID, model.CampaignPaused); err != nil {
		return err
	}
	l.emitSummary(campaignID)
	return nil
}

// Resume re-mints the token: workers holding the pre-pause token fail closed.
func (l *Ledger) Resume(campaignID int) (string, error) {
	token, hash := mintDispatchToken()
	expires := l.now().Add(dispatchTokenTTL)
	if err := l.Campaigns.MarkRunning(campaignID, hash, expires); err != nil {
		return "", err
	}
	l.notifyWorkers(campaignID)
	l.emitSummary(campaignID)
	return token, nil
}

// Cancel marks the campaign canceled and moves every queued/sending send to
// canceled in one transaction, so the ledger is never observed half-updated.
func (l *Ledger) Cancel(campaignID int) error {
	if _, err := l.Campaigns.GetByID(campaignID); err != nil {
		return err
	}
	queued, sending, err := l.Sends.CancelPending(campaignID, l.now())
	if err != nil {
		return err
	}
	l.Throughput.Forget(campaignID)
	l.Log.Info().Int("campaign_id", campaignID).
		Int("queued", queued).Int("sending", sending).
		Msg("campaign canceled")
	l.emitSummary(campaignID)
	return nil
}

func (l *Ledger) Summary(campaignID int) (*CampaignSummary, error) {
	c, err := l.Campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	return l.buildSummary(c), nil
}

func (l *Ledger) buildSummary(c *model.Campaign) *CampaignSummary {
	remaining := c.Totals.Total - c.Totals.Done()
	if remaining < 0 {
		remaining = 0
	}
	return &CampaignSummary{
		CampaignID:    c.ID,
		Status:        c.Status,
		Totals:        c.Totals,
		StartedAt:     c.StartedAt,
		CompletedAt:   c.CompletedAt,
		Percent:       c.Totals.Percent(),
		Throughput:    l.Throughput.Instant(c.ID),
		AvgThroughput: l.Throughput.Average(c.ID),
		EtaSeconds:    l.Throughput.ETASeconds(c.ID, remaining),
	}
}

// Claim reserves up to limit oldest queued sends for exclusive processing by
// one worker. The reservation is a single conditional update, so concurrent
// claimers never overlap.
func (l *Ledger) Claim(campaignID, limit int) ([]model.Send, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > maxClaimLimit {
		limit = maxClaimLimit
	}
	if _, err := l.Campaigns.GetByID(campaignID); err != nil {
		return nil, err
	}

	claimed, err := l.Sends.Claim(campaignID, limit, l.now())
	if err != nil {
		return nil, err
	}
	if len(claimed) > 0 {
		// Adjust by the number actually reserved, which may be fewer than
		// the requested limit.
		if err := l.Campaigns.ApplyTotalsDelta(campaignID, model.TotalsDelta{
			Queued:  -len(claimed),
			Sending: len(claimed),
		}); err != nil {
			return claimed, err
		}
		if l.Metrics != nil {
			l.Metrics.ClaimedTotal.Add(float64(len(claimed)))
		}
		l.emitSummary(campaignID)
	}
	return claimed, nil
}

// Report validates the capability token and applies a stage transition.
func (l *Ledger) Report(campaignID int, token string, rep ReportInput) (*ReportResult, error) {
	if rep.Stage == "" || rep.Phone == "" {
		return nil, appErrors.ErrMissingFields
	}
	if _, ok := transitions[rep.Stage]; !ok {
		return nil, appErrors.ErrInvalidStage
	}

	c, err := l.Campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if err := verifyDispatchToken(c.DispatchTokenHash, c.DispatchTokenExpiresAt, token, l.now()); err != nil {
		if l.Metrics != nil {
			l.Metrics.ReportsTotal.WithLabelValues(rep.Stage, "rejected").Inc()
		}
		return nil, err
	}

	send, err := l.Sends.GetByPhone(campaignID, phone.Digits(rep.Phone))
	if err != nil {
		return nil, err
	}
	if send == nil {
		return nil, appErrors.ErrSendNotFound
	}
	return l.ApplyStage(send, rep.Stage, rep.MessageID, rep.ZaapID, rep.Error)
}

// ReportByCorrelation applies a gateway callback matched by messageId/zaapId.
func (l *Ledger) ReportByCorrelation(messageID, zaapID, stage, errText string) (*ReportResult, error) {
	if _, ok := transitions[stage]; !ok {
		return nil, appErrors.ErrInvalidStage
	}
	send, err := l.Sends.GetByCorrelation(messageID, zaapID)
	if err != nil {
		return nil, err
	}
	if send == nil {
		return nil, appErrors.ErrSendNotFound
	}
	return l.ApplyStage(send, stage, messageID, zaapID, errText)
}

// ApplyStage runs the state machine for one send: conditional status flip,
// signed counter delta, throughput mark, completion check and events.
func (l *Ledger) ApplyStage(send *model.Send, stage, messageID, zaapID, errText string) (*ReportResult, error) {
	rule := transitions[stage]
	if !contains(rule.from, send.Status) {
		if l.Metrics != nil {
			l.Metrics.ReportsTotal.WithLabelValues(stage, "skipped").Inc()
		}
		return &ReportResult{
			Skipped: true,
			Reason:  fmt.Sprintf("invalid_transition from %s to %s", send.Status, stage),
		}, nil
	}

	now := l.now()
	applied, err := l.Sends.Transition(send.ID, send.Status, rule.to, now, messageID, zaapID, errText)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost the race to a concurrent reporter; their transition won.
		if l.Metrics != nil {
			l.Metrics.ReportsTotal.WithLabelValues(stage, "skipped").Inc()
		}
		return &ReportResult{Skipped: true, Reason: "concurrent_update"}, nil
	}

	var delta model.TotalsDelta
	addBucket(&delta, send.Status, -1, decrementable)
	addBucket(&delta, rule.to, +1, incrementable)
	if err := l.Campaigns.ApplyTotalsDelta(send.CampaignID, delta); err != nil {
		return nil, err
	}

	if terminalSuccess[stage] {
		l.Throughput.Mark(send.CampaignID)
	}
	if l.Metrics != nil {
		l.Metrics.ReportsTotal.WithLabelValues(stage, "applied").Inc()
	}

	if completed, err := l.Campaigns.MarkCompleted(send.CampaignID, now); err != nil {
		l.Log.Error().Err(err).Int("campaign_id", send.CampaignID).Msg("completion check failed")
	} else if completed {
		l.Log.Info().Int("campaign_id", send.CampaignID).Msg("campaign completed")
	}

	l.Hub.Emit(sse.CampaignKey(send.CampaignID), "send_update", map[string]any{
		"phone":     send.Phone,
		"stage":     stage,
		"messageId": messageID,
		"zaapId":    zaapID,
		"t":         now,
	})
	l.emitSummary(send.CampaignID)
	return &ReportResult{OK: true}, nil
}

func (l *Ledger) ListSends(campaignID int, status string, offset, limit int) ([]model.Send, error) {
	return l.Sends.List(campaignID, status, offset, limit)
}

func (l *Ledger) QueuedSends(campaignID, limit int) ([]model.Send, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	return l.Sends.Queued(campaignID, limit)
}

func (l *Ledger) notifyWorkers(campaignID int) {
	if l.Notifier == nil {
		return
	}
	if err := l.Notifier.PublishCampaignStart(campaignID); err != nil {
		l.Log.Warn().Err(err).Int("campaign_id", campaignID).Msg("claim job publish failed")
	}
}

func (l *Ledger) emitSummary(campaignID int) {
	c, err := l.Campaigns.GetByID(campaignID)
	if err != nil {
		l.Log.Debug().Err(err).Int("campaign_id", campaignID).Msg("summary emit skipped")
		return
	}
	l.Hub.Emit(sse.CampaignKey(campaignID), "summary", l.buildSummary(c))
}

func addBucket(d *model.TotalsDelta, status string, n int, allowed map[string]bool) {
	if !allowed[status] {
		return
	}
	switch status {
	case model.SendQueued:
		d.Queued += n
	case model.SendSending:
		d.Sending += n
	case model.SendSent:
		d.Sent += n
	case model.SendDelivered:
		d.Delivered += n
	case model.SendRead:
		d.Read += n
	case model.SendFailed:
		d.Failed += n
	case model.SendCanceled:
		d.Canceled += n
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
