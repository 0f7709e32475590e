package wallet

import (
	"context"
	"log/slog"
	"time"
)

// Poller periodically refreshes external wallet balances.
type Poller struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewPoller builds a poller over every network the service has a client for.
func NewPoller(service *Service, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{service: service, interval: interval, logger: logger}
}

// Run polls immediately and then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("wallet poller started", "interval", p.interval.String(), "networks", p.service.Networks())
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.SyncOnce(ctx)
	for {
		select {
		case <-ticker.C:
			p.SyncOnce(ctx)
		case <-ctx.Done():
			p.logger.Info("wallet poller stopped")
			return
		}
	}
}

// SyncOnce polls each network once.
func (p *Poller) SyncOnce(ctx context.Context) []SyncResult {
	var results []SyncResult
	for _, network := range p.service.Networks() {
		res, err := p.service.SyncNetwork(ctx, network)
		if err != nil {
			p.logger.Error("wallet sync error", "network", network, "error", err)
			continue
		}
		if res.Skipped {
			p.logger.Debug("wallet sync skipped, another instance holds the lock", "network", network)
		}
		results = append(results, res)
	}
	return results
}
