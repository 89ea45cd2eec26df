// internal/service/instance_status.go
package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/m15x/disparo-backend/internal/gateway"
	"github.com/m15x/disparo-backend/internal/sse"
)

const statusPollInterval = 10 * time.Second

// InstanceStatusPoller watches gateway instance connectivity and pushes
// changes to observers. Polling is the only option; the gateway has no
// connection webhook.
type InstanceStatusPoller struct {
	Gateway   gateway.Client
	Hub       *sse.Hub
	Log       zerolog.Logger
	Instances []string
	Interval  time.Duration

	mu   sync.Mutex
	last map[string]gateway.InstanceStatus
}

func NewInstanceStatusPoller(gw gateway.Client, hub *sse.Hub, log zerolog.Logger) *InstanceStatusPoller {
	return &InstanceStatusPoller{
		Gateway:   gw,
		Hub:       hub,
		Log:       log,
		Instances: []string{"whatsapp1", "whatsapp2"},
		Interval:  statusPollInterval,
		last:      make(map[string]gateway.InstanceStatus),
	}
}

// Run polls until ctx is canceled. Meant to be launched as a goroutine.
func (p *InstanceStatusPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *InstanceStatusPoller) pollOnce(ctx context.Context) {
	for _, instance := range p.Instances {
		st, err := p.Gateway.Status(ctx, instance)
		if err != nil {
			p.Log.Debug().Err(err).Str("instance", instance).Msg("status poll failed")
			continue
		}

		p.mu.Lock()
		prev, seen := p.last[instance]
		changed := !seen || prev != *st
		p.last[instance] = *st
		p.mu.Unlock()

		if changed {
			p.Hub.Emit(sse.GatewayKey, "zapi:status", st)
			p.Log.Info().Str("instance", instance).
				Bool("connected", st.Connected).
				Bool("smartphone", st.SmartphoneConnected).
				Msg("gateway status changed")
		}
	}
}

// Snapshot returns the last observed status for every instance.
func (p *InstanceStatusPoller) Snapshot() []gateway.InstanceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]gateway.InstanceStatus, 0, len(p.Instances))
	for _, instance := range p.Instances {
		if st, ok := p.last[instance]; ok {
			out = append(out, st)
		} else {
			out = append(out, gateway.InstanceStatus{Instance: instance})
		}
	}
	return out
}
