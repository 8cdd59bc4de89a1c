package provision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "github.com/lib/pq"

	"github.com/phoenixkit/phoenixkit/pkg/config"
	"github.com/phoenixkit/phoenixkit/pkg/observability"
)

// ErrStoreNotFound is returned when no candidate source yields a
// reachable PostgreSQL store.
var ErrStoreNotFound = errors.New("no usable database store detected")

// CandidateSource is one place a database DSN may come from, tried in
// declaration order.
type CandidateSource struct {
	// Name identifies the source in logs and metrics
	Name string
	// DSN is the connection string the source resolved to
	DSN string
	// Explicit marks sources the operator configured directly, as
	// opposed to ambient environment discovery. Explicit sources are
	// trusted even when the liveness probe cannot complete.
	Explicit bool
}

// SourceGenerator produces zero or more DSN candidates from
// configuration. Hosts can register their own generators to extend
// discovery beyond the built-in conventions.
type SourceGenerator func(*config.Config) []CandidateSource

// ConfiguredSource yields the explicitly configured DSN, if any
func ConfiguredSource(cfg *config.Config) []CandidateSource {
	if cfg.Database.URL == "" {
		return nil
	}
	return []CandidateSource{{
		Name:     "configured",
		DSN:      cfg.Database.URL,
		Explicit: true,
	}}
}

// DatabaseURLSource yields the conventional DATABASE_URL variable
func DatabaseURLSource(cfg *config.Config) []CandidateSource {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil
	}
	return []CandidateSource{{Name: "DATABASE_URL", DSN: dsn}}
}

// AppNameSource derives <APP_NAME>_DATABASE_URL from the configured
// application name
func AppNameSource(cfg *config.Config) []CandidateSource {
	if cfg.Provision.AppName == "" {
		return nil
	}
	key := strings.ToUpper(strings.ReplaceAll(cfg.Provision.AppName, "-", "_")) + "_DATABASE_URL"
	dsn := os.Getenv(key)
	if dsn == "" {
		return nil
	}
	return []CandidateSource{{Name: key, DSN: dsn}}
}

// LibpqEnvSource composes a DSN from the ambient PG* variables
func LibpqEnvSource(cfg *config.Config) []CandidateSource {
	dsn := libpqEnvDSN()
	if dsn == "" {
		return nil
	}
	return []CandidateSource{{Name: "libpq_env", DSN: dsn}}
}

// DefaultSourceGenerators is the built-in strategy order: explicit
// configuration first, then the host application's conventional
// variables, then ambient libpq environment.
func DefaultSourceGenerators() []SourceGenerator {
	return []SourceGenerator{
		ConfiguredSource,
		DatabaseURLSource,
		AppNameSource,
		LibpqEnvSource,
	}
}

// candidateSources runs the generators in order and concatenates their
// candidates
func candidateSources(cfg *config.Config, generators []SourceGenerator) []CandidateSource {
	var sources []CandidateSource
	for _, generate := range generators {
		sources = append(sources, generate(cfg)...)
	}
	return sources
}

// libpqEnvDSN composes a DSN from the standard PG* variables. PGHOST or
// PGDATABASE must be present for the ambient environment to count as a
// candidate at all.
func libpqEnvDSN() string {
	host := os.Getenv("PGHOST")
	dbname := os.Getenv("PGDATABASE")
	if host == "" && dbname == "" {
		return ""
	}

	parts := []string{}
	add := func(key, value, fallback string) {
		if value == "" {
			value = fallback
		}
		if value != "" {
			parts = append(parts, key+"="+value)
		}
	}
	add("host", host, "localhost")
	add("port", os.Getenv("PGPORT"), "5432")
	add("dbname", dbname, "")
	add("user", os.Getenv("PGUSER"), "")
	add("password", os.Getenv("PGPASSWORD"), "")
	add("sslmode", os.Getenv("PGSSLMODE"), "prefer")

	return strings.Join(parts, " ")
}

// probe verifies a candidate is a live PostgreSQL server
func probe(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return fmt.Errorf("version probe failed: %w", err)
	}
	if !strings.Contains(version, "PostgreSQL") {
		return fmt.Errorf("store is not PostgreSQL: %q", version)
	}
	return nil
}

// detect walks the candidate sources and returns the first that
// resolves to a live PostgreSQL store. An explicit source whose probe
// fails is still returned optimistically: the operator named it, so a
// transient outage should surface later as a query error rather than a
// silent fallback to a different database.
func detect(ctx context.Context, cfg *config.Config, generators []SourceGenerator, log *observability.Logger, metrics *observability.Metrics) (*sql.DB, CandidateSource, error) {
	sources := candidateSources(cfg, generators)
	if len(sources) == 0 {
		return nil, CandidateSource{}, ErrStoreNotFound
	}

	record := func(source, outcome string) {
		if metrics != nil {
			metrics.StoreDetectionsTotal.WithLabelValues(source, outcome).Inc()
		}
	}

	for _, source := range sources {
		db, err := sql.Open("postgres", source.DSN)
		if err != nil {
			log.WithFields(map[string]interface{}{
				"source": source.Name,
			}).WithError(err).Warn("candidate source rejected")
			record(source.Name, "invalid")
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout)
		err = probe(probeCtx, db)
		cancel()

		if err == nil {
			log.WithField("source", source.Name).Info("database store detected")
			record(source.Name, "ok")
			return db, source, nil
		}

		if source.Explicit {
			log.WithField("source", source.Name).WithError(err).
				Warn("explicit store unreachable; keeping it anyway")
			record(source.Name, "unverified")
			return db, source, nil
		}

		log.WithField("source", source.Name).WithError(err).Debug("candidate source not usable")
		record(source.Name, "unreachable")
		db.Close()
	}

	return nil, CandidateSource{}, ErrStoreNotFound
}
