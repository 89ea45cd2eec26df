// internal/service/claim_worker.go
package service

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/m15x/disparo-backend/internal/gateway"
	"github.com/m15x/disparo-backend/internal/model"
)

// ClaimWorker drains a campaign's queued sends through the gateway. It shares
// the Ledger with the server process, so stage transitions skip the HTTP
// report path and hit the state machine directly.
type ClaimWorker struct {
	Ledger   *Ledger
	Gateway  gateway.Client
	Instance string
	Log      zerolog.Logger
}

func NewClaimWorker(ledger *Ledger, gw gateway.Client, instance string, log zerolog.Logger) *ClaimWorker {
	if instance == "" {
		instance = "whatsapp1"
	}
	return &ClaimWorker{Ledger: ledger, Gateway: gw, Instance: instance, Log: log}
}

// sendPayload is the per-recipient message stored at enqueue time.
type sendPayload struct {
	Message     string `json:"message"`
	Type        string `json:"type"`
	MediaBase64 string `json:"mediaBase64"`
}

// ProcessCampaign claims batches until the campaign has no queued work or
// stops running. Rate limiting follows the campaign's own throttle setting.
func (w *ClaimWorker) ProcessCampaign(ctx context.Context, campaignID int) error {
	c, err := w.Ledger.GetCampaign(campaignID)
	if err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if c.ThrottlePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.ThrottlePerSecond), 1)
	}

	for {
		c, err = w.Ledger.GetCampaign(campaignID)
		if err != nil {
			return err
		}
		if c.Status != model.CampaignRunning {
			w.Log.Info().Int("campaign_id", campaignID).Str("status", c.Status).
				Msg("campaign no longer running, stopping")
			return nil
		}

		batch, err := w.Ledger.Claim(campaignID, c.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		for _, send := range batch {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			w.processSend(ctx, send)
		}
	}
}

func (w *ClaimWorker) processSend(ctx context.Context, send model.Send) {
	var p sendPayload
	if err := json.Unmarshal([]byte(send.Payload), &p); err != nil || p.Message == "" {
		p.Message = send.Payload
	}

	var (
		res *gateway.SendResult
		err error
	)
	switch p.Type {
	case model.DisparoImage:
		res, err = w.Gateway.SendImage(ctx, w.Instance, send.Phone, p.Message, p.MediaBase64)
	case model.DisparoVideo:
		res, err = w.Gateway.SendVideo(ctx, w.Instance, send.Phone, p.Message, p.MediaBase64)
	default:
		res, err = w.Gateway.SendText(ctx, w.Instance, send.Phone, p.Message)
	}

	if err != nil {
		w.Log.Warn().Err(err).Int("send_id", send.ID).Str("phone", send.Phone).Msg("gateway send failed")
		if _, aerr := w.Ledger.ApplyStage(&send, model.SendFailed, "", "", err.Error()); aerr != nil {
			w.Log.Error().Err(aerr).Int("send_id", send.ID).Msg("failed stage not recorded")
		}
		return
	}
	if _, aerr := w.Ledger.ApplyStage(&send, model.SendSent, res.MessageID, res.ZaapID, ""); aerr != nil {
		w.Log.Error().Err(aerr).Int("send_id", send.ID).Msg("sent stage not recorded")
	}
}
