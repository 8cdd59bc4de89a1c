package provision

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/phoenixkit/phoenixkit/pkg/config"
	"github.com/phoenixkit/phoenixkit/pkg/observability"
	"github.com/phoenixkit/phoenixkit/pkg/schema"
)

// Provisioner lazily detects a database store and brings its schema up
// to the target version on first use. The detected handle is cached, so
// every caller after the first gets the same pool.
type Provisioner struct {
	cfg        *config.Config
	log        *observability.Logger
	metrics    *observability.Metrics
	generators []SourceGenerator

	group singleflight.Group

	mu sync.RWMutex
	db *sql.DB
}

// Option configures a Provisioner
type Option func(*Provisioner)

// WithSourceGenerators replaces the discovery strategy list. Hosts can
// prepend or append their own generators around the defaults.
func WithSourceGenerators(generators ...SourceGenerator) Option {
	return func(p *Provisioner) { p.generators = generators }
}

// NewProvisioner creates a provisioner. It performs no I/O until
// EnsureSetup is called.
func NewProvisioner(cfg *config.Config, log *observability.Logger, metrics *observability.Metrics, opts ...Option) *Provisioner {
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	p := &Provisioner{
		cfg:        cfg,
		log:        log,
		metrics:    metrics,
		generators: DefaultSourceGenerators(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// targetVersion resolves the configured target, defaulting to the
// latest known version
func (p *Provisioner) targetVersion() int {
	if v := p.cfg.Provision.TargetVersion; v > 0 {
		return v
	}
	return schema.LatestVersion
}

// EnsureSetup returns the provisioned database handle, detecting the
// store and migrating its schema on first call. Concurrent first calls
// collapse into one detection and one migration; the advisory lock in
// the migration runner protects against other processes doing the same.
func (p *Provisioner) EnsureSetup(ctx context.Context) (*sql.DB, error) {
	p.mu.RLock()
	if db := p.db; db != nil {
		p.mu.RUnlock()
		return db, nil
	}
	p.mu.RUnlock()

	result, err, _ := p.group.Do("setup", func() (interface{}, error) {
		// a racing caller may have finished while we queued
		p.mu.RLock()
		if db := p.db; db != nil {
			p.mu.RUnlock()
			return db, nil
		}
		p.mu.RUnlock()

		db, err := p.setup(ctx)
		if err != nil {
			if p.metrics != nil {
				p.metrics.ProvisionAttemptsTotal.WithLabelValues("error").Inc()
			}
			return nil, err
		}
		if p.metrics != nil {
			p.metrics.ProvisionAttemptsTotal.WithLabelValues("ok").Inc()
		}

		p.mu.Lock()
		p.db = db
		p.mu.Unlock()
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*sql.DB), nil
}

func (p *Provisioner) setup(ctx context.Context) (*sql.DB, error) {
	db, source, err := detect(ctx, p.cfg, p.generators, p.log, p.metrics)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(p.cfg.Database.MaxConns)
	db.SetMaxIdleConns(p.cfg.Database.MinConns)
	db.SetConnMaxLifetime(p.cfg.Database.MaxLifetime)
	db.SetConnMaxIdleTime(p.cfg.Database.MaxIdleTime)

	if p.cfg.Provision.Enabled {
		if err := p.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	p.log.WithFields(map[string]interface{}{
		"source":    source.Name,
		"namespace": p.cfg.Database.SchemaPrefix,
	}).Info("database store provisioned")
	return db, nil
}

// EnsureSchema migrates the store to the target version if it is
// behind. Stores already at or above the target are left untouched.
func (p *Provisioner) EnsureSchema(ctx context.Context, db *sql.DB) error {
	runner := schema.NewRunner(db, p.cfg.Database.SchemaPrefix,
		schema.WithLogger(p.log),
		schema.WithMetrics(p.metrics),
	)

	installed, _, err := runner.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema status: %w", err)
	}

	target := p.targetVersion()
	if installed >= target {
		p.log.WithFields(map[string]interface{}{
			"installed": installed,
			"target":    target,
		}).Debug("schema already provisioned")
		return nil
	}

	return runner.Migrate(ctx, target)
}

// DB returns the cached handle, or nil when EnsureSetup has not
// succeeded yet.
func (p *Provisioner) DB() *sql.DB {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.db
}

// Reset closes and discards the cached handle so the next EnsureSetup
// re-runs detection. Intended for tests and for recovering from a store
// that went away.
func (p *Provisioner) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		p.db.Close()
		p.db = nil
	}
}
