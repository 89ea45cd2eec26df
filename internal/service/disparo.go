// internal/service/disparo.go
package service

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/m15x/disparo-backend/internal/errors"
	"github.com/m15x/disparo-backend/internal/gateway"
	"github.com/m15x/disparo-backend/internal/metrics"
	"github.com/m15x/disparo-backend/internal/model"
	"github.com/m15x/disparo-backend/internal/phone"
	"github.com/m15x/disparo-backend/internal/repository"
	"github.com/m15x/disparo-backend/internal/sse"
)

const (
	defaultBatchLimit = 100
	pausePollInterval = 400 * time.Millisecond

	// A disparo run found in the DB but not updated within this window is
	// considered stale for status rehydration.
	runFreshness = 5 * time.Minute
)

// delayRange maps a wait profile to its [min,max] second range.
func delayRange(profile string) (minS, maxS int) {
	switch profile {
	case "20-30":
		return 20, 30
	case "60-200":
		return 60, 200
	default: // "30-100"
		return 30, 100
	}
}

// DisparoPayload describes one broadcast over the contact collection.
type DisparoPayload struct {
	RunID       string
	Instance    string
	Type        string
	Message     string
	MediaBase64 string
	WaitProfile string
	Filter      repository.ContactFilter
}

// instanceState is the in-memory control block for one gateway instance.
// Guarded by DisparoService.mu.
type instanceState struct {
	cancel bool
	pause  bool
	runID  string
}

// RunStatus is the external view of an instance's run.
type RunStatus struct {
	Status   string          `json:"status"`
	Instance string          `json:"instance"`
	RunID    string          `json:"runId,omitempty"`
	Type     string          `json:"type,omitempty"`
	Totals   model.RunTotals `json:"totals"`
}

// DisparoService runs the push-model broadcast loop: one cooperative
// sequential loop per gateway instance, with pause/resume/cancel and
// randomized throttling between successful sends.
type DisparoService struct {
	Runs        repository.DisparoRunRepositoryInterface
	Contacts    repository.ContactRepositoryInterface
	Gateway     gateway.Client
	Paraphraser gateway.Paraphraser
	Hub         *sse.Hub
	Metrics     *metrics.Metrics
	Log         zerolog.Logger
	BatchLimit  int

	mu     sync.Mutex
	states map[string]*instanceState

	// Test seams.
	sleep     func(time.Duration)
	randDelay func(minS, maxS int) time.Duration
}

func NewDisparoService(
	runs repository.DisparoRunRepositoryInterface,
	contacts repository.ContactRepositoryInterface,
	gw gateway.Client,
	hub *sse.Hub,
	m *metrics.Metrics,
	log zerolog.Logger,
) *DisparoService {
	return &DisparoService{
		Runs:       runs,
		Contacts:   contacts,
		Gateway:    gw,
		Hub:        hub,
		Metrics:    m,
		Log:        log,
		BatchLimit: defaultBatchLimit,
		states:     make(map[string]*instanceState),
		sleep:      time.Sleep,
		randDelay: func(minS, maxS int) time.Duration {
			minMs := minS * 1000
			maxMs := maxS * 1000
			return time.Duration(minMs+rand.Intn(maxMs-minMs+1)) * time.Millisecond
		},
	}
}

func (s *DisparoService) state(instance string) *instanceState {
	st, ok := s.states[instance]
	if !ok {
		st = &instanceState{}
		s.states[instance] = st
	}
	return st
}

// Start validates that the instance is free, persists run metadata and
// launches the loop without blocking the caller.
func (s *DisparoService) Start(p DisparoPayload) (string, error) {
	if p.Instance == "" || p.Type == "" || p.Message == "" || p.WaitProfile == "" {
		return "", appErrors.ErrMissingFields
	}
	if p.RunID == "" {
		p.RunID = uuid.NewString()
	}

	s.mu.Lock()
	st := s.state(p.Instance)
	if st.runID != "" && !st.cancel {
		s.mu.Unlock()
		return "", appErrors.ErrRunInProgress
	}
	st.cancel = false
	st.pause = false
	st.runID = p.RunID
	s.mu.Unlock()

	run := &model.DisparoRun{
		RunID:       p.RunID,
		Type:        p.Type,
		Instance:    p.Instance,
		Message:     p.Message,
		MediaBase64: p.MediaBase64,
		WaitProfile: p.WaitProfile,
	}
	if err := s.Runs.StartRun(run); err != nil {
		s.resetState(p.Instance)
		return "", err
	}

	if s.Metrics != nil {
		s.Metrics.ActiveRuns.Inc()
	}
	go func() {
		defer func() {
			if s.Metrics != nil {
				s.Metrics.ActiveRuns.Dec()
			}
		}()
		if err := s.loop(p); err != nil {
			s.Log.Error().Err(err).Str("run_id", p.RunID).Msg("disparo loop aborted")
			s.resetState(p.Instance)
		}
	}()

	return p.RunID, nil
}

func (s *DisparoService) Pause(instance string) {
	s.mu.Lock()
	s.state(instance).pause = true
	s.mu.Unlock()
}

func (s *DisparoService) Resume(instance string) {
	s.mu.Lock()
	s.state(instance).pause = false
	s.mu.Unlock()
}

func (s *DisparoService) Cancel(instance string) {
	s.mu.Lock()
	s.state(instance).cancel = true
	s.mu.Unlock()
}

func (s *DisparoService) flags(instance string) (cancel, pause bool) {
	s.mu.Lock()
	st := s.state(instance)
	cancel, pause = st.cancel, st.pause
	s.mu.Unlock()
	return
}

func (s *DisparoService) resetState(instance string) {
	s.mu.Lock()
	s.states[instance] = &instanceState{}
	s.mu.Unlock()
}

// Status reports the live run for an instance, rehydrating from the store
// when this process holds no in-memory state (e.g. after a restart).
func (s *DisparoService) Status(instance string) (*RunStatus, error) {
	s.mu.Lock()
	st := s.state(instance)
	runID, paused, canceled := st.runID, st.pause, st.cancel
	s.mu.Unlock()

	if runID == "" {
		last, err := s.Runs.LatestActive(instance)
		if err != nil {
			return nil, err
		}
		if last == nil || time.Since(last.UpdatedAt) > runFreshness {
			return &RunStatus{Status: model.RunIdle, Instance: instance}, nil
		}
		return &RunStatus{
			Status:   last.Status,
			Instance: instance,
			RunID:    last.RunID,
			Type:     last.Type,
			Totals:   last.Totals,
		}, nil
	}

	status := model.RunRunning
	if canceled {
		status = model.RunCanceled
	} else if paused {
		status = model.RunPaused
	}
	view := &RunStatus{Status: status, Instance: instance, RunID: runID}
	if run, err := s.Runs.LatestActive(instance); err == nil && run != nil && run.RunID == runID {
		view.Type = run.Type
		view.Totals = run.Totals
	}
	return view, nil
}

// loop is the dispatch engine. It pages through matching contacts by id
// cursor in bounded batches, checks the cancel flag per batch and per
// contact, busy-polls while paused, and throttles only after successes.
func (s *DisparoService) loop(p DisparoPayload) error {
	ctx := context.Background()

	total, err := s.Contacts.Count(p.Filter)
	if err != nil {
		return err
	}
	if err := s.Runs.SetQueuedTotal(p.RunID, total); err != nil {
		return err
	}

	totals := model.RunTotals{Queued: total}
	minS, maxS := delayRange(p.WaitProfile)
	batchLimit := s.BatchLimit
	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}

	lastID := 0
batchLoop:
	for {
		if canceled, _ := s.flags(p.Instance); canceled {
			break
		}
		batch, err := s.Contacts.NextBatch(p.Filter, lastID, batchLimit)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		for _, contact := range batch {
			if canceled, _ := s.flags(p.Instance); canceled {
				break batchLoop
			}
			for {
				canceled, paused := s.flags(p.Instance)
				if canceled || !paused {
					break
				}
				s.sleep(pausePollInterval)
			}
			if canceled, _ := s.flags(p.Instance); canceled {
				break batchLoop
			}
			lastID = contact.ID

			ok, sentMessage, errMsg := s.dispatchOne(ctx, p, contact)
			if ok {
				totals.Sent++
			} else {
				totals.Errors++
			}
			totals.Processed++

			if err := s.Runs.UpdateProgress(p.RunID, totals, lastID); err != nil {
				s.Log.Error().Err(err).Str("run_id", p.RunID).Msg("progress update failed")
			}
			s.writeAudit(ctx, p, contact, ok, sentMessage, errMsg)

			if s.Metrics != nil {
				result := "ok"
				if !ok {
					result = "error"
				}
				s.Metrics.DisparosTotal.WithLabelValues(p.Instance, result).Inc()
			}
			s.Hub.Emit(sse.DisparoKey, "disparo:progress", map[string]any{
				"runId":     p.RunID,
				"instance":  p.Instance,
				"processed": totals.Processed,
				"sent":      totals.Sent,
				"errors":    totals.Errors,
				"total":     total,
				"last": map[string]any{
					"id":    contact.ID,
					"error": errMsg,
				},
			})

			// Throttle only successful sends; errors skip ahead immediately.
			if ok {
				delay := s.randDelay(minS, maxS)
				s.Hub.Emit(sse.DisparoKey, "disparo:wait", map[string]any{
					"runId":   p.RunID,
					"seconds": int(delay.Round(time.Second).Seconds()),
					"until":   time.Now().Add(delay).UnixMilli(),
				})
				s.sleep(delay)
			}
		}
	}

	canceled, _ := s.flags(p.Instance)
	status := model.RunCompleted
	if canceled {
		status = model.RunCanceled
	}
	if err := s.Runs.Finish(p.RunID, status, time.Now()); err != nil {
		s.Log.Error().Err(err).Str("run_id", p.RunID).Msg("run finalize failed")
	}
	s.Hub.Emit(sse.DisparoKey, "disparo:done", map[string]any{
		"runId":  p.RunID,
		"status": status,
	})
	s.Log.Info().Str("run_id", p.RunID).Str("status", status).
		Int("processed", totals.Processed).Int("sent", totals.Sent).Int("errors", totals.Errors).
		Msg("disparo run finished")
	s.resetState(p.Instance)
	return nil
}

// dispatchOne handles a single contact: normalize, existence check, render,
// optional paraphrase, gateway send. Per-recipient failures never abort the
// run; they are recorded and counted.
func (s *DisparoService) dispatchOne(ctx context.Context, p DisparoPayload, contact model.Contact) (ok bool, sentMessage, errMsg string) {
	normalized := phone.NormalizeBR(contact.Phone)
	if normalized == "" {
		return false, "", "invalid_phone"
	}

	exists, err := s.Gateway.PhoneExists(ctx, p.Instance, normalized)
	if err != nil {
		return false, "", "phone_check_failed: " + err.Error()
	}
	if !exists {
		return false, "", "phone_not_exists"
	}

	message := RenderMessage(p.Message, contact.Name)
	if s.Paraphraser != nil {
		if rewritten, err := s.Paraphraser.Rewrite(ctx, message); err == nil && rewritten != "" {
			message = rewritten
		}
		// Paraphrasing failures are swallowed; the original message is used.
	}

	switch p.Type {
	case model.DisparoImage:
		_, err = s.Gateway.SendImage(ctx, p.Instance, normalized, message, p.MediaBase64)
	case model.DisparoVideo:
		_, err = s.Gateway.SendVideo(ctx, p.Instance, normalized, message, p.MediaBase64)
	default:
		_, err = s.Gateway.SendText(ctx, p.Instance, normalized, message)
	}
	if err != nil {
		return false, message, err.Error()
	}
	return true, message, ""
}

func (s *DisparoService) writeAudit(ctx context.Context, p DisparoPayload, contact model.Contact, ok bool, sentMessage, errMsg string) {
	device, err := s.Gateway.DevicePhoneNumber(ctx, p.Instance)
	if err != nil {
		device = ""
	}
	message := sentMessage
	if message == "" {
		message = p.Message
	}
	audit := model.DisparoAudit{
		At:       time.Now(),
		Ok:       ok,
		Error:    errMsg,
		Instance: p.Instance,
		Device:   device,
		Message:  message,
		Type:     p.Type,
	}
	if err := s.Contacts.WriteAudit(contact.ID, audit); err != nil {
		s.Log.Warn().Err(err).Int("contact_id", contact.ID).Msg("audit write failed")
	}
}
