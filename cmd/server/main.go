// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/m15x/disparo-backend/internal/controller"
	"github.com/m15x/disparo-backend/internal/db"
	"github.com/m15x/disparo-backend/internal/gateway"
	"github.com/m15x/disparo-backend/internal/metrics"
	"github.com/m15x/disparo-backend/internal/queue"
	"github.com/m15x/disparo-backend/internal/repository"
	"github.com/m15x/disparo-backend/internal/service"
	"github.com/m15x/disparo-backend/internal/sse"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, relying on OS environment variables")
	}

	conn, err := db.Open(log)
	if err != nil {
		log.Fatal().Err(err).Msg("database unavailable")
	}
	defer conn.Close()

	campaignRepo := &repository.CampaignRepository{DB: conn}
	sendRepo := &repository.SendRepository{DB: conn}
	contactRepo := &repository.ContactRepository{DB: conn}
	runRepo := &repository.DisparoRunRepository{DB: conn}

	hub := sse.NewHub()
	m := metrics.New()
	tput := service.NewThroughput()

	ledger := service.NewLedger(campaignRepo, sendRepo, hub, tput, m, log)

	// The broker is optional: without it claims are driven over HTTP only.
	if publisher, err := queue.Dial(queue.URL()); err != nil {
		log.Warn().Err(err).Msg("broker unavailable, claim notifications disabled")
	} else {
		defer publisher.Close()
		ledger.Notifier = publisher
	}

	zapi := gateway.NewZAPI(log)
	disparo := service.NewDisparoService(runRepo, contactRepo, zapi, hub, m, log)
	disparo.Paraphraser = gateway.NewParaphraserFromEnv()

	poller := service.NewInstanceStatusPoller(zapi, hub, log)
	go poller.Run(context.Background())

	campaignController := &controller.CampaignController{Ledger: ledger, Hub: hub, Log: log}
	disparoController := &controller.DisparoController{Disparo: disparo, Hub: hub, Log: log}
	zapiController := &controller.ZapiController{Ledger: ledger, Poller: poller, Log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Campaign ledger routes
	r.Post("/campaigns", campaignController.Create)
	r.Get("/campaigns", campaignController.List)
	r.Get("/campaigns/{id}", campaignController.Get)
	r.Post("/campaigns/{id}/enqueue", campaignController.Enqueue)
	r.Post("/campaigns/{id}/start", campaignController.Start)
	r.Post("/campaigns/{id}/pause", campaignController.Pause)
	r.Post("/campaigns/{id}/resume", campaignController.Resume)
	r.Post("/campaigns/{id}/cancel", campaignController.Cancel)
	r.Get("/campaigns/{id}/summary", campaignController.Summary)
	r.Get("/campaigns/{id}/sends", campaignController.Sends)
	r.Get("/campaigns/{id}/queued", campaignController.Queued)
	r.Post("/campaigns/{id}/claim", campaignController.Claim)
	r.Post("/campaigns/{id}/report", campaignController.Report)
	r.Get("/campaigns/{id}/stream", campaignController.Stream)

	// Disparo (push-model broadcast) routes
	r.Post("/disparo/start", disparoController.Start)
	r.Post("/disparo/pause", disparoController.Pause)
	r.Post("/disparo/resume", disparoController.Resume)
	r.Post("/disparo/cancel", disparoController.Cancel)
	r.Get("/disparo/status", disparoController.Status)
	r.Get("/disparo/stream", disparoController.Stream)

	// Gateway routes
	r.Post("/zapi/callback", zapiController.Callback)
	r.Get("/zapi/status", zapiController.Status)

	r.Handle("/metrics", m.Handler())

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Info().Str("addr", addr).Msg("server running")
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
