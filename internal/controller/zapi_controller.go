// internal/controller/zapi_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	appErrors "github.com/m15x/disparo-backend/internal/errors"
	"github.com/m15x/disparo-backend/internal/model"
	"github.com/m15x/disparo-backend/internal/service"
)

type ZapiController struct {
	Ledger *service.Ledger
	Poller *service.InstanceStatusPoller
	Log    zerolog.Logger
}

// callbackStage maps the gateway's status names onto ledger stages.
func callbackStage(status string) string {
	switch strings.ToUpper(status) {
	case "SENT":
		return model.SendSent
	case "RECEIVED", "DELIVERED":
		return model.SendDelivered
	case "READ", "READ-SELF":
		return model.SendRead
	case "FAILED", "ERROR":
		return model.SendFailed
	default:
		return ""
	}
}

// Callback receives delivery receipts pushed by the gateway and applies them
// by correlation id. Unknown messages and stale statuses are acknowledged
// anyway so the gateway stops retrying.
func (c *ZapiController) Callback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MessageID string `json:"messageId"`
		ZaapID    string `json:"zaapId"`
		ID        string `json:"id"`
		Status    string `json:"status"`
		Error     string `json:"error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.MessageID == "" {
		body.MessageID = body.ID
	}

	stage := callbackStage(body.Status)
	if stage == "" {
		c.Log.Debug().Str("status", body.Status).Msg("ignoring unmapped callback status")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	result, err := c.Ledger.ReportByCorrelation(body.MessageID, body.ZaapID, stage, body.Error)
	if err != nil {
		if errors.Is(err, appErrors.ErrSendNotFound) {
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Status reports the last polled connection state of every gateway instance.
func (c *ZapiController) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instances": c.Poller.Snapshot(),
	})
}
