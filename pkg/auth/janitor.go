package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/phoenixkit/phoenixkit/pkg/observability"
)

// Janitor periodically purges expired session tokens on a cron
// schedule.
type Janitor struct {
	store   *TokenStore
	cron    *cron.Cron
	log     *observability.Logger
	metrics *observability.Metrics
}

// NewJanitor creates a token janitor. The schedule accepts standard
// cron expressions and descriptors like "@hourly".
func NewJanitor(store *TokenStore, log *observability.Logger, metrics *observability.Metrics) *Janitor {
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Janitor{
		store:   store,
		cron:    cron.New(),
		log:     log,
		metrics: metrics,
	}
}

// Start registers the purge job and begins the schedule
func (j *Janitor) Start(schedule string) error {
	_, err := j.cron.AddFunc(schedule, j.runOnce)
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	j.cron.Start()
	j.log.WithField("schedule", schedule).Info("session token janitor started")
	return nil
}

// Stop halts the schedule and waits for a running purge to finish
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.log.Info("session token janitor stopped")
}

func (j *Janitor) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	purged, err := j.store.PurgeExpired(ctx)
	if err != nil {
		j.log.WithError(err).Error("session token purge failed")
		return
	}
	if j.metrics != nil {
		j.metrics.TokensPurgedTotal.Add(float64(purged))
	}
	if purged > 0 {
		j.log.WithField("purged", purged).Info("expired session tokens purged")
	}
}
