package schema

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/lib/pq"

	"github.com/phoenixkit/phoenixkit/pkg/observability"
)

// Runner orchestrates ordered application of migration steps to move a
// namespace from its installed version to a target version. Each up or
// down call is one step batch: all step applications plus a single
// version write, committed in one transaction serialized by a
// per-namespace advisory lock. A failed step fails the whole batch and
// leaves the recorded version untouched.
type Runner struct {
	db      *sql.DB
	store   *VersionStore
	steps   []Step
	log     *observability.Logger
	metrics *observability.Metrics
}

// Option configures a Runner
type Option func(*Runner)

// WithSteps overrides the default step set
func WithSteps(steps []Step) Option {
	return func(r *Runner) { r.steps = steps }
}

// WithLogger sets the runner's logger
func WithLogger(log *observability.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithMetrics sets the runner's metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a migration runner for one namespace prefix
func NewRunner(db *sql.DB, prefix string, opts ...Option) *Runner {
	r := &Runner{
		db:    db,
		store: NewVersionStore(prefix),
		steps: DefaultSteps(),
		log:   observability.NewLogger(observability.InfoLevel, nil),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Latest returns the highest version in the configured step set
func (r *Runner) Latest() int {
	latest := 0
	for _, s := range r.steps {
		if s.Version() > latest {
			latest = s.Version()
		}
	}
	return latest
}

// Status returns the installed and latest known versions
func (r *Runner) Status(ctx context.Context) (installed, latest int, err error) {
	installed, err = r.store.Current(ctx, r.db)
	if err != nil {
		return 0, 0, err
	}
	return installed, r.Latest(), nil
}

// plan selects the steps for the half-open version range and verifies
// that every index in the range resolves to a defined step. An index
// with no step is a fatal configuration error, never a silent skip.
func (r *Runner) plan(from, to int, descending bool) ([]Step, error) {
	byVersion := make(map[int]Step, len(r.steps))
	for _, s := range r.steps {
		byVersion[s.Version()] = s
	}

	var planned []Step
	if descending {
		for v := from; v > to; v-- {
			step, ok := byVersion[v]
			if !ok {
				return nil, &MissingStepError{Index: v}
			}
			planned = append(planned, step)
		}
	} else {
		for v := from + 1; v <= to; v++ {
			step, ok := byVersion[v]
			if !ok {
				return nil, &MissingStepError{Index: v}
			}
			planned = append(planned, step)
		}
	}
	return planned, nil
}

// lockKey derives the advisory lock key for a namespace
func lockKey(prefix string) int64 {
	h := fnv.New64a()
	h.Write([]byte("phoenix_kit:" + prefix))
	return int64(h.Sum64())
}

// Migrate brings the namespace up to the target version. Calling it
// when already at or above the target is a guaranteed no-op, so
// concurrent callers racing the same target are safe: the advisory
// lock serializes them and the loser observes the winner's version.
func (r *Runner) Migrate(ctx context.Context, target int) error {
	if target < 1 {
		return fmt.Errorf("invalid migration target %d", target)
	}

	start := time.Now()
	err := r.migrate(ctx, target)
	if r.metrics != nil {
		r.metrics.ObserveMigration("up", start, err)
	}
	return err
}

func (r *Runner) migrate(ctx context.Context, target int) error {
	prefix := r.store.Prefix()
	log := r.log.WithField("namespace", prefix)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start migration transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", lockKey(prefix)); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	installed, err := r.store.Current(ctx, tx)
	if err != nil {
		return err
	}

	if installed >= target {
		log.WithFields(map[string]interface{}{
			"installed": installed,
			"target":    target,
		}).Debug("schema already at or above target version")
		return tx.Commit()
	}

	planned, err := r.plan(installed, target, false)
	if err != nil {
		log.WithError(err).Error("migration aborted: step set has a gap")
		return err
	}

	if prefix != "public" {
		stmt := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(prefix))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema %q: %w", prefix, err)
		}
	}
	if err := r.store.EnsureSentinel(ctx, tx); err != nil {
		return err
	}

	for _, step := range planned {
		log.WithFields(map[string]interface{}{
			"version":     step.Version(),
			"description": step.Description(),
		}).Info("applying migration step")

		if err := step.Up(ctx, tx, prefix); err != nil {
			merr := &MigrationError{Version: step.Version(), Direction: "up", Err: err}
			log.WithError(merr).Error("migration step failed; batch rolled back")
			return merr
		}
		if r.metrics != nil {
			r.metrics.MigrationStepsTotal.WithLabelValues("up").Inc()
		}
	}

	if err := r.store.Record(ctx, tx, target); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration batch: %w", err)
	}

	if r.metrics != nil {
		r.metrics.InstalledSchemaVersion.WithLabelValues(prefix).Set(float64(target))
	}
	log.WithFields(map[string]interface{}{
		"from": installed,
		"to":   target,
	}).Info("schema migrated")
	return nil
}

// Rollback brings the namespace down to the target version, undoing
// every step above the target in descending order but leaving the
// target step's schema state in place. Rolling back to 0 drops the
// version sentinel itself, returning the namespace to the
// never-installed state.
func (r *Runner) Rollback(ctx context.Context, target int) error {
	if target < 0 {
		return fmt.Errorf("invalid rollback target %d", target)
	}

	start := time.Now()
	err := r.rollback(ctx, target)
	if r.metrics != nil {
		r.metrics.ObserveMigration("down", start, err)
	}
	return err
}

func (r *Runner) rollback(ctx context.Context, target int) error {
	prefix := r.store.Prefix()
	log := r.log.WithField("namespace", prefix)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start rollback transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", lockKey(prefix)); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	installed, err := r.store.Current(ctx, tx)
	if err != nil {
		return err
	}

	if installed <= target {
		log.WithFields(map[string]interface{}{
			"installed": installed,
			"target":    target,
		}).Debug("schema already at or below target version")
		return tx.Commit()
	}

	planned, err := r.plan(installed, target, true)
	if err != nil {
		log.WithError(err).Error("rollback aborted: step set has a gap")
		return err
	}

	for _, step := range planned {
		log.WithFields(map[string]interface{}{
			"version":     step.Version(),
			"description": step.Description(),
		}).Info("reverting migration step")

		if err := step.Down(ctx, tx, prefix); err != nil {
			merr := &MigrationError{Version: step.Version(), Direction: "down", Err: err}
			log.WithError(merr).Error("rollback step failed; batch rolled back")
			return merr
		}
		if r.metrics != nil {
			r.metrics.MigrationStepsTotal.WithLabelValues("down").Inc()
		}
	}

	if target == 0 {
		// full rollback: the version marker object goes away entirely
		if err := r.store.DropSentinel(ctx, tx); err != nil {
			return err
		}
	} else if err := r.store.Record(ctx, tx, target); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollback batch: %w", err)
	}

	if r.metrics != nil {
		r.metrics.InstalledSchemaVersion.WithLabelValues(prefix).Set(float64(target))
	}
	log.WithFields(map[string]interface{}{
		"from": installed,
		"to":   target,
	}).Info("schema rolled back")
	return nil
}
