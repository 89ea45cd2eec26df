// cmd/worker/main.go
package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

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

	ledger := service.NewLedger(campaignRepo, sendRepo, sse.NewHub(), service.NewThroughput(), metrics.New(), log)
	worker := service.NewClaimWorker(ledger, gateway.NewZAPI(log), os.Getenv("WORKER_INSTANCE"), log)

	broker, err := amqp.Dial(queue.URL())
	if err != nil {
		log.Fatal().Err(err).Msg("broker unavailable")
	}
	defer broker.Close()

	deliveries, err := queue.Consume(broker)
	if err != nil {
		log.Fatal().Err(err).Msg("consumer setup failed")
	}

	log.Info().Str("queue", queue.ClaimQueue).Msg("worker running, waiting for campaigns")
	ctx := context.Background()

	for d := range deliveries {
		var job queue.Job
		if err := json.Unmarshal(d.Body, &job); err != nil {
			log.Warn().Err(err).Msg("invalid job, dropping")
			d.Ack(false)
			continue
		}

		if err := worker.ProcessCampaign(ctx, job.CampaignID); err != nil {
			log.Error().Err(err).Int("campaign_id", job.CampaignID).Msg("campaign processing failed")
			var retryCount int32
			if v, ok := d.Headers["x-retry-count"].(int32); ok {
				retryCount = v
			}
			if retryCount < 3 {
				d.Nack(false, true)
				continue
			}
		}
		d.Ack(false)
	}
}
