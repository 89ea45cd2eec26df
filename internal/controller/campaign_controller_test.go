package controller_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m15x/disparo-backend/internal/controller"
	appErrors "github.com/m15x/disparo-backend/internal/errors"
	"github.com/m15x/disparo-backend/internal/metrics"
	"github.com/m15x/disparo-backend/internal/model"
	"github.com/m15x/disparo-backend/internal/service"
	"github.com/m15x/disparo-backend/internal/sse"
)

// --- Mock repositories ---

type stubCampaignRepo struct {
	campaign *model.Campaign
}

func (s *stubCampaignRepo) Create(c *model.Campaign) error {
	c.ID = 1
	c.CreatedAt = time.Now()
	cp := *c
	s.campaign = &cp
	return nil
}

func (s *stubCampaignRepo) GetByID(id int) (*model.Campaign, error) {
	if s.campaign == nil || s.campaign.ID != id {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *s.campaign
	return &cp, nil
}

func (s *stubCampaignRepo) List(offset, limit int, status string) ([]*model.Campaign, int, error) {
	if s.campaign == nil {
		return []*model.Campaign{}, 0, nil
	}
	return []*model.Campaign{s.campaign}, 1, nil
}

func (s *stubCampaignRepo) UpdateStatus(id int, status string) error {
	s.campaign.Status = status
	return nil
}

func (s *stubCampaignRepo) MarkRunning(id int, tokenHash string, expiresAt time.Time) error {
	if s.campaign == nil || s.campaign.ID != id {
		return appErrors.NewCampaignNotFound(id)
	}
	s.campaign.Status = model.CampaignRunning
	s.campaign.DispatchTokenHash = tokenHash
	s.campaign.DispatchTokenExpiresAt = &expiresAt
	return nil
}

func (s *stubCampaignRepo) ApplyTotalsDelta(id int, d model.TotalsDelta) error { return nil }
func (s *stubCampaignRepo) MarkCompleted(id int, at time.Time) (bool, error)  { return false, nil }

type stubSendRepo struct{}

func (s *stubSendRepo) Insert(send *model.Send) (bool, error)                { return true, nil }
func (s *stubSendRepo) GetByPhone(int, string) (*model.Send, error)          { return nil, nil }
func (s *stubSendRepo) GetByCorrelation(string, string) (*model.Send, error) { return nil, nil }
func (s *stubSendRepo) Transition(int, string, string, time.Time, string, string, string) (bool, error) {
	return true, nil
}
func (s *stubSendRepo) Claim(int, int, time.Time) ([]model.Send, error) { return []model.Send{}, nil }
func (s *stubSendRepo) List(int, string, int, int) ([]model.Send, error) {
	return []model.Send{}, nil
}
func (s *stubSendRepo) Queued(int, int) ([]model.Send, error)           { return []model.Send{}, nil }
func (s *stubSendRepo) CancelPending(int, time.Time) (int, int, error)  { return 0, 0, nil }

// --- Helpers ---

func newTestRouter(repo *stubCampaignRepo) *chi.Mux {
	ledger := service.NewLedger(repo, &stubSendRepo{}, sse.NewHub(), service.NewThroughput(), metrics.New(), zerolog.Nop())
	ctrl := &controller.CampaignController{Ledger: ledger, Hub: sse.NewHub(), Log: zerolog.Nop()}

	r := chi.NewRouter()
	r.Post("/campaigns", ctrl.Create)
	r.Get("/campaigns", ctrl.List)
	r.Post("/campaigns/{id}/start", ctrl.Start)
	r.Get("/campaigns/{id}/summary", ctrl.Summary)
	r.Post("/campaigns/{id}/report", ctrl.Report)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// --- Tests ---

func TestCreateCampaign(t *testing.T) {
	r := newTestRouter(&stubCampaignRepo{})

	w := doJSON(t, r, "POST", "/campaigns", map[string]any{"name": "promo"})
	require.Equal(t, http.StatusCreated, w.Code)

	var created model.Campaign
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.Equal(t, 1, created.ID)
	assert.Equal(t, "promo", created.Name)
	assert.Equal(t, model.CampaignDraft, created.Status)
}

func TestCreateCampaignRequiresName(t *testing.T) {
	r := newTestRouter(&stubCampaignRepo{})

	w := doJSON(t, r, "POST", "/campaigns", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var res map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, "missing_fields", res["error"])
}

func TestSummaryNotFound(t *testing.T) {
	r := newTestRouter(&stubCampaignRepo{})

	w := doJSON(t, r, "GET", "/campaigns/9/summary", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartReturnsTokenOnce(t *testing.T) {
	repo := &stubCampaignRepo{}
	r := newTestRouter(repo)

	doJSON(t, r, "POST", "/campaigns", map[string]any{"name": "promo"})
	w := doJSON(t, r, "POST", "/campaigns/1/start", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Campaign      model.Campaign `json:"campaign"`
		DispatchToken string         `json:"dispatchToken"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, model.CampaignRunning, res.Campaign.Status)
	assert.NotEmpty(t, res.DispatchToken)
	// The stored hash is never the raw token.
	assert.NotEqual(t, res.DispatchToken, repo.campaign.DispatchTokenHash)
}

func TestStartSuppressesTokenEcho(t *testing.T) {
	r := newTestRouter(&stubCampaignRepo{})
	doJSON(t, r, "POST", "/campaigns", map[string]any{"name": "promo"})

	req := httptest.NewRequest("POST", "/campaigns/1/start", nil)
	req.Header.Set("x-no-token", "1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var res map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	_, ok := res["dispatchToken"]
	assert.False(t, ok)
}

func TestReportRejectsMissingToken(t *testing.T) {
	r := newTestRouter(&stubCampaignRepo{})
	doJSON(t, r, "POST", "/campaigns", map[string]any{"name": "promo"})
	doJSON(t, r, "POST", "/campaigns/1/start", nil)

	w := doJSON(t, r, "POST", "/campaigns/1/report", map[string]any{
		"phone": "5511999990001",
		"stage": "sent",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var res map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, "missing_token", res["error"])
}

func TestReportRejectsBadToken(t *testing.T) {
	r := newTestRouter(&stubCampaignRepo{})
	doJSON(t, r, "POST", "/campaigns", map[string]any{"name": "promo"})
	doJSON(t, r, "POST", "/campaigns/1/start", nil)

	req := httptest.NewRequest("POST", "/campaigns/1/report", bytes.NewReader([]byte(`{"phone":"5511999990001","stage":"sent"}`)))
	req.Header.Set("X-Dispatch-Token", "forged")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
