// internal/controller/disparo_controller.go
package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/m15x/disparo-backend/internal/errors"
	"github.com/m15x/disparo-backend/internal/repository"
	"github.com/m15x/disparo-backend/internal/service"
	"github.com/m15x/disparo-backend/internal/sse"
)

type DisparoController struct {
	Disparo *service.DisparoService
	Hub     *sse.Hub
	Log     zerolog.Logger
}

func (c *DisparoController) Start(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Instance        string `json:"instance"`
		Type            string `json:"type"`
		Message         string `json:"message"`
		MediaBase64     string `json:"mediaBase64"`
		WaitProfile     string `json:"waitProfile"`
		Tag             string `json:"tag"`
		SkipAlreadySent bool   `json:"skipAlreadySent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.WaitProfile == "" {
		body.WaitProfile = "30-100"
	}

	runID, err := c.Disparo.Start(service.DisparoPayload{
		Instance:    body.Instance,
		Type:        body.Type,
		Message:     body.Message,
		MediaBase64: body.MediaBase64,
		WaitProfile: body.WaitProfile,
		Filter: repository.ContactFilter{
			Tag:             body.Tag,
			SkipAlreadySent: body.SkipAlreadySent,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"runId":  runID,
		"status": "running",
	})
}

func instanceParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body struct {
		Instance string `json:"instance"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}
	if body.Instance == "" {
		body.Instance = r.URL.Query().Get("instance")
	}
	if body.Instance == "" {
		writeError(w, appErrors.ErrMissingFields)
		return "", false
	}
	return body.Instance, true
}

func (c *DisparoController) Pause(w http.ResponseWriter, r *http.Request) {
	instance, ok := instanceParam(w, r)
	if !ok {
		return
	}
	c.Disparo.Pause(instance)
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (c *DisparoController) Resume(w http.ResponseWriter, r *http.Request) {
	instance, ok := instanceParam(w, r)
	if !ok {
		return
	}
	c.Disparo.Resume(instance)
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (c *DisparoController) Cancel(w http.ResponseWriter, r *http.Request) {
	instance, ok := instanceParam(w, r)
	if !ok {
		return
	}
	c.Disparo.Cancel(instance)
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceling"})
}

func (c *DisparoController) Status(w http.ResponseWriter, r *http.Request) {
	instance := r.URL.Query().Get("instance")
	if instance == "" {
		writeError(w, appErrors.ErrMissingFields)
		return
	}
	status, err := c.Disparo.Status(instance)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Stream is the disparo progress SSE endpoint, shared by every instance.
func (c *DisparoController) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events := c.Hub.Subscribe(sse.DisparoKey)
	defer c.Hub.Unsubscribe(sse.DisparoKey, events)

	writeSSE(w, "hello", map[string]string{"channel": sse.DisparoKey})
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
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
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
