package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/m15x/disparo-backend/internal/errors"
	"github.com/m15x/disparo-backend/internal/gateway"
	"github.com/m15x/disparo-backend/internal/model"
	"github.com/m15x/disparo-backend/internal/repository"
	"github.com/m15x/disparo-backend/internal/sse"
)

// --- In-memory run and contact stores ---

type memRunRepo struct {
	mu   sync.Mutex
	runs map[string]*model.DisparoRun
}

func newMemRunRepo() *memRunRepo {
	return &memRunRepo{runs: map[string]*model.DisparoRun{}}
}

func (r *memRunRepo) StartRun(run *model.DisparoRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	run.Status = model.RunRunning
	run.StartedAt = &now
	run.UpdatedAt = now
	cp := *run
	r.runs[run.RunID] = &cp
	return nil
}

func (r *memRunRepo) SetQueuedTotal(runID string, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runID].Totals.Queued = total
	return nil
}

func (r *memRunRepo) UpdateProgress(runID string, t model.RunTotals, lastContactID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := r.runs[runID]
	run.Totals.Sent = t.Sent
	run.Totals.Errors = t.Errors
	run.Totals.Processed = t.Processed
	run.LastContactID = lastContactID
	run.UpdatedAt = time.Now()
	return nil
}

func (r *memRunRepo) Finish(runID, status string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := r.runs[runID]
	run.Status = status
	run.FinishedAt = &at
	run.UpdatedAt = at
	return nil
}

func (r *memRunRepo) LatestActive(instance string) (*model.DisparoRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *model.DisparoRun
	for _, run := range r.runs {
		if run.Instance != instance {
			continue
		}
		if run.Status != model.RunRunning && run.Status != model.RunPaused {
			continue
		}
		if latest == nil || run.StartedAt.After(*latest.StartedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *memRunRepo) get(runID string) model.DisparoRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.runs[runID]
}

type memContactRepo struct {
	mu       sync.Mutex
	contacts []model.Contact
	audits   map[int]model.DisparoAudit
}

func newMemContactRepo(contacts []model.Contact) *memContactRepo {
	return &memContactRepo{contacts: contacts, audits: map[int]model.DisparoAudit{}}
}

func (r *memContactRepo) match(c model.Contact, f repository.ContactFilter) bool {
	if f.Tag != "" && c.Tag != f.Tag {
		return false
	}
	if f.SkipAlreadySent && c.LastDisparoAt != nil {
		return false
	}
	return true
}

func (r *memContactRepo) Count(f repository.ContactFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.contacts {
		if r.match(c, f) {
			n++
		}
	}
	return n, nil
}

func (r *memContactRepo) NextBatch(f repository.ContactFilter, afterID, limit int) ([]model.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Contact{}
	for _, c := range r.contacts {
		if len(out) >= limit {
			break
		}
		if c.ID > afterID && r.match(c, f) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memContactRepo) WriteAudit(contactID int, a model.DisparoAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits[contactID] = a
	return nil
}

// fakeGateway answers sends instantly, with configurable failures.
type fakeGateway struct {
	mu        sync.Mutex
	sent      []string
	failPhone map[string]bool
	block     chan struct{}  // when set, SendText waits for a receive
	onSend    func(nSent int) // invoked after each successful send
}

func (g *fakeGateway) SendText(ctx context.Context, instance, phone, message string) (*gateway.SendResult, error) {
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	if g.failPhone[phone] {
		g.mu.Unlock()
		return nil, fmt.Errorf("gateway refused %s", phone)
	}
	g.sent = append(g.sent, phone)
	n := len(g.sent)
	cb := g.onSend
	g.mu.Unlock()
	if cb != nil {
		cb(n)
	}
	return &gateway.SendResult{MessageID: "m-" + phone, ZaapID: "z-" + phone, Status: 200}, nil
}

func (g *fakeGateway) SendImage(ctx context.Context, instance, phone, caption, imageBase64 string) (*gateway.SendResult, error) {
	return g.SendText(ctx, instance, phone, caption)
}

func (g *fakeGateway) SendVideo(ctx context.Context, instance, phone, caption, videoBase64 string) (*gateway.SendResult, error) {
	return g.SendText(ctx, instance, phone, caption)
}

func (g *fakeGateway) PhoneExists(ctx context.Context, instance, phone string) (bool, error) {
	return true, nil
}

func (g *fakeGateway) DevicePhoneNumber(ctx context.Context, instance string) (string, error) {
	return "5511000000000", nil
}

func (g *fakeGateway) Status(ctx context.Context, instance string) (*gateway.InstanceStatus, error) {
	return &gateway.InstanceStatus{Instance: instance, Connected: true, SmartphoneConnected: true}, nil
}

func (g *fakeGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

// --- Helpers ---

func newTestDisparo(contacts []model.Contact, gw gateway.Client) (*DisparoService, *memRunRepo, *memContactRepo) {
	runs := newMemRunRepo()
	repo := newMemContactRepo(contacts)
	svc := NewDisparoService(runs, repo, gw, sse.NewHub(), nil, zerolog.Nop())
	svc.sleep = func(time.Duration) {}
	svc.randDelay = func(minS, maxS int) time.Duration { return 0 }
	return svc, runs, repo
}

func waitRunDone(t *testing.T, runs *memRunRepo, runID string) model.DisparoRun {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		run := runs.get(runID)
		if run.Status != model.RunRunning && run.Status != model.RunPaused {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish in time", runID)
	return model.DisparoRun{}
}

func testContacts() []model.Contact {
	return []model.Contact{
		{ID: 1, Phone: "5511999990001", Name: "Ana"},
		{ID: 2, Phone: "5511999990002", Name: "Bruno"},
		{ID: 3, Phone: "123", Name: "Sem Telefone"}, // cannot be normalized
		{ID: 4, Phone: "5511999990004", Name: "Carla"},
		{ID: 5, Phone: "5511999990005", Name: "Diego"},
	}
}

// --- Tests ---

func TestDisparoRunCompletes(t *testing.T) {
	gw := &fakeGateway{failPhone: map[string]bool{"5511999990004": true}}
	svc, runs, repo := newTestDisparo(testContacts(), gw)

	runID, err := svc.Start(DisparoPayload{
		Instance:    "whatsapp1",
		Type:        model.DisparoText,
		Message:     "Oi {{name}}!",
		WaitProfile: "30-100",
	})
	require.NoError(t, err)

	run := waitRunDone(t, runs, runID)
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Equal(t, 5, run.Totals.Queued)
	assert.Equal(t, 5, run.Totals.Processed)
	assert.Equal(t, 3, run.Totals.Sent)
	assert.Equal(t, 2, run.Totals.Errors)
	assert.Equal(t, run.Totals.Processed, run.Totals.Sent+run.Totals.Errors)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.Len(t, repo.audits, 5)
	assert.False(t, repo.audits[3].Ok)
	assert.Equal(t, "invalid_phone", repo.audits[3].Error)
	assert.True(t, repo.audits[1].Ok)
	assert.Equal(t, "Oi Ana!", repo.audits[1].Message)
	assert.Equal(t, "5511000000000", repo.audits[1].Device)
}

func TestDisparoFilterByTag(t *testing.T) {
	contacts := testContacts()
	contacts[0].Tag = "vip"
	contacts[1].Tag = "vip"
	gw := &fakeGateway{}
	svc, runs, _ := newTestDisparo(contacts, gw)

	runID, err := svc.Start(DisparoPayload{
		Instance:    "whatsapp1",
		Type:        model.DisparoText,
		Message:     "oi",
		WaitProfile: "20-30",
		Filter:      repository.ContactFilter{Tag: "vip"},
	})
	require.NoError(t, err)

	run := waitRunDone(t, runs, runID)
	assert.Equal(t, 2, run.Totals.Queued)
	assert.Equal(t, 2, run.Totals.Processed)
	assert.Equal(t, 2, gw.sentCount())
}

func TestDisparoRejectsSecondStart(t *testing.T) {
	gw := &fakeGateway{block: make(chan struct{})}
	svc, runs, _ := newTestDisparo(testContacts(), gw)

	runID, err := svc.Start(DisparoPayload{
		Instance:    "whatsapp1",
		Type:        model.DisparoText,
		Message:     "oi",
		WaitProfile: "30-100",
	})
	require.NoError(t, err)

	_, err = svc.Start(DisparoPayload{
		Instance:    "whatsapp1",
		Type:        model.DisparoText,
		Message:     "oi de novo",
		WaitProfile: "30-100",
	})
	assert.ErrorIs(t, err, appErrors.ErrRunInProgress)

	// A different instance is free to start.
	otherID, err := svc.Start(DisparoPayload{
		Instance:    "whatsapp2",
		Type:        model.DisparoText,
		Message:     "oi",
		WaitProfile: "30-100",
	})
	require.NoError(t, err)

	svc.Cancel("whatsapp1")
	svc.Cancel("whatsapp2")
	close(gw.block)

	run := waitRunDone(t, runs, runID)
	assert.Equal(t, model.RunCanceled, run.Status)
	waitRunDone(t, runs, otherID)
}

func TestDisparoCancelStopsEarly(t *testing.T) {
	gw := &fakeGateway{}
	svc, runs, _ := newTestDisparo(testContacts(), gw)

	// Cancel the run from inside the first post-send delay.
	svc.randDelay = func(minS, maxS int) time.Duration { return time.Hour }
	svc.sleep = func(d time.Duration) {
		if d == time.Hour {
			svc.Cancel("whatsapp1")
		}
	}

	runID, err := svc.Start(DisparoPayload{
		Instance:    "whatsapp1",
		Type:        model.DisparoText,
		Message:     "oi",
		WaitProfile: "30-100",
	})
	require.NoError(t, err)

	run := waitRunDone(t, runs, runID)
	assert.Equal(t, model.RunCanceled, run.Status)
	assert.Less(t, run.Totals.Processed, 5)
	assert.Equal(t, run.Totals.Processed, run.Totals.Sent+run.Totals.Errors)
}

func TestDisparoPauseResumesWithoutReprocessing(t *testing.T) {
	gw := &fakeGateway{}
	svc, runs, _ := newTestDisparo(testContacts(), gw)

	gw.onSend = func(n int) {
		if n == 2 {
			svc.Pause("whatsapp1")
		}
	}
	resumed := false
	svc.sleep = func(d time.Duration) {
		if d == pausePollInterval && !resumed {
			resumed = true
			svc.Resume("whatsapp1")
		}
	}

	runID, err := svc.Start(DisparoPayload{
		Instance:    "whatsapp1",
		Type:        model.DisparoText,
		Message:     "oi",
		WaitProfile: "30-100",
	})
	require.NoError(t, err)

	run := waitRunDone(t, runs, runID)
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Equal(t, 5, run.Totals.Processed)
	assert.Equal(t, 4, run.Totals.Sent)
	assert.Equal(t, 1, run.Totals.Errors)

	// Resuming continued from the cursor: every reachable phone sent once.
	gw.mu.Lock()
	defer gw.mu.Unlock()
	seen := map[string]int{}
	for _, p := range gw.sent {
		seen[p]++
	}
	assert.Len(t, seen, 4)
	for phone, n := range seen {
		assert.Equal(t, 1, n, "phone %s dispatched %d times", phone, n)
	}
}

func TestDisparoCancelWhilePaused(t *testing.T) {
	gw := &fakeGateway{}
	svc, runs, _ := newTestDisparo(testContacts(), gw)

	gw.onSend = func(n int) {
		if n == 1 {
			svc.Pause("whatsapp1")
		}
	}
	svc.sleep = func(d time.Duration) {
		if d == pausePollInterval {
			svc.Cancel("whatsapp1")
		}
	}

	runID, err := svc.Start(DisparoPayload{
		Instance:    "whatsapp1",
		Type:        model.DisparoText,
		Message:     "oi",
		WaitProfile: "30-100",
	})
	require.NoError(t, err)

	run := waitRunDone(t, runs, runID)
	assert.Equal(t, model.RunCanceled, run.Status)
	assert.Equal(t, 1, run.Totals.Processed)
	assert.Equal(t, run.Totals.Processed, run.Totals.Sent+run.Totals.Errors)
}

func TestDisparoStartValidation(t *testing.T) {
	gw := &fakeGateway{}
	svc, _, _ := newTestDisparo(testContacts(), gw)

	_, err := svc.Start(DisparoPayload{Type: model.DisparoText, Message: "oi", WaitProfile: "30-100"})
	assert.ErrorIs(t, err, appErrors.ErrMissingFields)

	_, err = svc.Start(DisparoPayload{Instance: "whatsapp1", Message: "oi", WaitProfile: "30-100"})
	assert.ErrorIs(t, err, appErrors.ErrMissingFields)
}

func TestDisparoStatusTransitions(t *testing.T) {
	gw := &fakeGateway{block: make(chan struct{})}
	svc, runs, _ := newTestDisparo(testContacts(), gw)

	st, err := svc.Status("whatsapp1")
	require.NoError(t, err)
	assert.Equal(t, model.RunIdle, st.Status)

	runID, err := svc.Start(DisparoPayload{
		Instance:    "whatsapp1",
		Type:        model.DisparoText,
		Message:     "oi",
		WaitProfile: "30-100",
	})
	require.NoError(t, err)

	st, err = svc.Status("whatsapp1")
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, st.Status)
	assert.Equal(t, runID, st.RunID)

	svc.Pause("whatsapp1")
	st, _ = svc.Status("whatsapp1")
	assert.Equal(t, model.RunPaused, st.Status)

	svc.Resume("whatsapp1")
	st, _ = svc.Status("whatsapp1")
	assert.Equal(t, model.RunRunning, st.Status)

	svc.Cancel("whatsapp1")
	close(gw.block)
	waitRunDone(t, runs, runID)

	// The in-memory state resets shortly after the run is finalized.
	assert.Eventually(t, func() bool {
		st, err := svc.Status("whatsapp1")
		return err == nil && st.Status == model.RunIdle
	}, time.Second, 5*time.Millisecond)
}

func TestDelayRange(t *testing.T) {
	lo, hi := delayRange("20-30")
	assert.Equal(t, 20, lo)
	assert.Equal(t, 30, hi)
	lo, hi = delayRange("60-200")
	assert.Equal(t, 60, lo)
	assert.Equal(t, 200, hi)
	lo, hi = delayRange("anything else")
	assert.Equal(t, 30, lo)
	assert.Equal(t, 100, hi)
}
