// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/m15x/disparo-backend/internal/service"
	"github.com/m15x/disparo-backend/internal/sse"
)

type CampaignController struct {
	Ledger *service.Ledger
	Hub    *sse.Hub
	Log    zerolog.Logger
}

func campaignID(r *http.Request) int {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	return id
}

// dispatchToken reads the capability token from the X-Dispatch-Token header
// or, for legacy workers, from the request body's dispatchToken field.
func dispatchToken(r *http.Request, body map[string]json.RawMessage) string {
	if t := strings.TrimSpace(r.Header.Get("X-Dispatch-Token")); t != "" {
		return t
	}
	if raw, ok := body["dispatchToken"]; ok {
		var t string
		if err := json.Unmarshal(raw, &t); err == nil {
			return t
		}
	}
	return ""
}

func (c *CampaignController) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name              string `json:"name"`
		BatchSize         int    `json:"batchSize"`
		ThrottlePerSecond int    `json:"throttlePerSecond"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign, err := c.Ledger.CreateCampaign(body.Name, body.BatchSize, body.ThrottlePerSecond)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	campaigns, total, err := c.Ledger.ListCampaigns((page-1)*pageSize, pageSize, status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": campaigns,
		"pagination": map[string]int{
			"page":        page,
			"page_size":   pageSize,
			"total_count": total,
		},
	})
}

func (c *CampaignController) Get(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.Ledger.GetCampaign(campaignID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) Enqueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Items []service.EnqueueItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	inserted, duplicated, err := c.Ledger.Enqueue(campaignID(r), body.Items)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"inserted":   inserted,
		"duplicated": duplicated,
	})
}

func (c *CampaignController) Start(w http.ResponseWriter, r *http.Request) {
	campaign, token, err := c.Ledger.Start(campaignID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]interface{}{"campaign": campaign}
	// Trusted in-process workers opt out of the raw token echo.
	if r.Header.Get("x-no-token") == "" {
		resp["dispatchToken"] = token
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *CampaignController) Pause(w http.ResponseWriter, r *http.Request) {
	if err := c.Ledger.Pause(campaignID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (c *CampaignController) Resume(w http.ResponseWriter, r *http.Request) {
	token, err := c.Ledger.Resume(campaignID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]interface{}{"ok": true}
	if r.Header.Get("x-no-token") == "" {
		resp["dispatchToken"] = token
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *CampaignController) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := c.Ledger.Cancel(campaignID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (c *CampaignController) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := c.Ledger.Summary(campaignID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (c *CampaignController) Sends(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = 50
	}
	status := r.URL.Query().Get("status")

	sends, err := c.Ledger.ListSends(campaignID(r), status, offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": sends})
}

func (c *CampaignController) Queued(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	sends, err := c.Ledger.QueuedSends(campaignID(r), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": sends})
}

func (c *CampaignController) Claim(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Limit int `json:"limit"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	claimed, err := c.Ledger.Claim(campaignID(r), body.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"claimed": claimed,
		"count":   len(claimed),
	})
}

func (c *CampaignController) Report(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	var rep service.ReportInput
	for k, v := range raw {
		switch k {
		case "phone":
			json.Unmarshal(v, &rep.Phone)
		case "stage":
			json.Unmarshal(v, &rep.Stage)
		case "messageId":
			json.Unmarshal(v, &rep.MessageID)
		case "zaapId":
			json.Unmarshal(v, &rep.ZaapID)
		case "error":
			json.Unmarshal(v, &rep.Error)
		}
	}

	result, err := c.Ledger.Report(campaignID(r), dispatchToken(r, raw), rep)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Stream is the campaign progress SSE endpoint. Every subscriber gets a hello
// event, then live send/summary events plus a periodic summary heartbeat.
func (c *CampaignController) Stream(w http.ResponseWriter, r *http.Request) {
	id := campaignID(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	key := sse.CampaignKey(id)
	events := c.Hub.Subscribe(key)
	defer c.Hub.Unsubscribe(key, events)

	writeSSE(w, "hello", map[string]interface{}{"campaignId": id})
	if summary, err := c.Ledger.Summary(id); err == nil {
		writeSSE(w, "summary", summary)
	}
	flusher.Flush()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			writeSSE(w, ev.Type, ev.Data)
			flusher.Flush()
		case <-ticker.C:
			if summary, err := c.Ledger.Summary(id); err == nil {
				writeSSE(w, "summary", summary)
			}
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
