// Package health runs the gateway's periodic background work: the
// provider health sweep that keeps the local sidecar's availability
// cache warm, and the scheduled weather-alert broadcast.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/handyboss/relay-gateway/internal/events"
	"github.com/handyboss/relay-gateway/internal/nlu"
	"github.com/handyboss/relay-gateway/internal/relay"
	"github.com/handyboss/relay-gateway/internal/storage"
)

const sweepInterval = 30 * time.Second

// Service owns the sweep loop and the cron scheduler.
type Service struct {
	providers *nlu.Providers
	store     storage.Store
	hub       *relay.Hub
	events    *events.Publisher
	cron      *cron.Cron
	cancel    context.CancelFunc
	logger    *slog.Logger
}

// New creates the background service. schedule is a cron spec for the
// weather-alert sweep; empty disables it.
func New(providers *nlu.Providers, store storage.Store, hub *relay.Hub,
	pub *events.Publisher, schedule string, logger *slog.Logger) (*Service, error) {
	s := &Service{
		providers: providers,
		store:     store,
		hub:       hub,
		events:    pub,
		cron:      cron.New(),
		logger:    logger,
	}
	if schedule != "" {
		if _, err := s.cron.AddFunc(schedule, s.broadcastWeatherAlerts); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start launches the sweep loop and the cron scheduler.
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.sweepLoop(ctx)
	s.cron.Start()
}

// Stop halts background work and waits for running cron jobs.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
}

func (s *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep probes the local sidecar so its availability cache reflects
// reality before the next chain run needs it. The hosted providers are
// credential-gated and need no probing.
func (s *Service) sweep(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.providers.Local.CheckHealth(probeCtx)
	s.providers.Local.MarkHealth(err == nil)
	if err != nil {
		s.logger.Debug("local model unhealthy", "error", err)
	}
}

func (s *Service) broadcastWeatherAlerts() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alerts, err := s.store.WeatherAlerts(ctx)
	if err != nil {
		s.logger.Warn("failed to read weather alerts", "error", err)
		return
	}
	if len(alerts) == 0 {
		return
	}

	env := relay.WeatherAlertEnvelope{
		Kind:      relay.KindWeatherAlert,
		Alerts:    alerts,
		Timestamp: relay.Timestamp{Time: time.Now()},
	}
	s.hub.Broadcast(env, nil)
	s.events.Publish(ctx, events.ChannelWeatherAlert, env)
	s.logger.Info("weather alerts broadcast", "count", len(alerts))
}
