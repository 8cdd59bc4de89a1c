package phoenixkit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/phoenixkit/phoenixkit/pkg/accounts"
	"github.com/phoenixkit/phoenixkit/pkg/auth"
	"github.com/phoenixkit/phoenixkit/pkg/config"
	"github.com/phoenixkit/phoenixkit/pkg/observability"
	"github.com/phoenixkit/phoenixkit/pkg/provision"
	"github.com/phoenixkit/phoenixkit/pkg/settings"
)

// Kit wires all components together for a host application. Construct
// it with New, call Initialize once at startup, and mount its routes on
// the host's router.
type Kit struct {
	cfg     *config.Config
	log     *observability.Logger
	metrics *observability.Metrics

	provisioner *provision.Provisioner

	// initMu serializes whole Initialize calls; mu guards field reads
	initMu sync.Mutex

	mu       sync.RWMutex
	accounts *accounts.Store
	tokens   *auth.TokenStore
	settings *settings.Store
	janitor  *auth.Janitor
	mounted  *mux.Router
}

// New creates a Kit from configuration. No I/O happens until
// Initialize.
func New(cfg *config.Config) (*Kit, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := observability.NewLogger(cfg.Observability.LogLevel, nil)

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	return &Kit{
		cfg:         cfg,
		log:         log,
		metrics:     metrics,
		provisioner: provision.NewProvisioner(cfg, log, metrics),
	}, nil
}

// Initialize detects the database store, provisions the schema, and
// builds the stores and background jobs. Concurrent and repeated calls
// are safe: calls serialize, at most one initialization ever wins, and
// a failed call can be retried.
func (k *Kit) Initialize(ctx context.Context) error {
	k.initMu.Lock()
	defer k.initMu.Unlock()

	k.mu.RLock()
	initialized := k.mounted != nil
	k.mu.RUnlock()
	if initialized {
		return nil
	}

	db, err := k.provisioner.EnsureSetup(ctx)
	if err != nil {
		return fmt.Errorf("failed to provision database store: %w", err)
	}

	prefix := k.cfg.Database.SchemaPrefix
	accountStore := accounts.NewStore(db, prefix,
		accounts.WithLogger(k.log),
		accounts.WithMetrics(k.metrics),
	)
	tokens := auth.NewTokenStore(db, prefix, k.cfg.Auth.SessionTokenValidity, k.log)
	handlers := accounts.NewHandlers(accountStore, tokens, k.log, k.cfg.Auth.BcryptCost)

	janitor := auth.NewJanitor(tokens, k.log, k.metrics)
	if err := janitor.Start(k.cfg.Auth.JanitorSchedule); err != nil {
		return err
	}

	mounted := mux.NewRouter()
	handlers.RegisterRoutes(mounted)

	k.mu.Lock()
	k.accounts = accountStore
	k.tokens = tokens
	k.settings = settings.NewStore(db, prefix)
	k.janitor = janitor
	k.mounted = mounted
	k.mu.Unlock()

	if k.metrics != nil {
		k.metrics.CollectDBStats(db)
	}

	k.log.WithField("namespace", prefix).Info("phoenixkit initialized")
	return nil
}

// Shutdown stops background jobs and releases the database handle
func (k *Kit) Shutdown() {
	k.mu.Lock()
	janitor := k.janitor
	k.janitor = nil
	k.mounted = nil
	k.accounts = nil
	k.tokens = nil
	k.settings = nil
	k.mu.Unlock()

	if janitor != nil {
		janitor.Stop()
	}
	k.provisioner.Reset()
}

// RegisterRoutes mounts the account and role endpoints on the host's
// router. Routes registered before Initialize succeeds respond with a
// setup-required error instead of failing registration, so the host's
// endpoints stay up while provisioning is still pending.
func (k *Kit) RegisterRoutes(router *mux.Router) {
	router.PathPrefix("/phoenixkit/").HandlerFunc(k.dispatch)
}

func (k *Kit) dispatch(w http.ResponseWriter, r *http.Request) {
	k.mu.RLock()
	mounted := k.mounted
	k.mu.RUnlock()

	if mounted == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "setup required: no database store has been provisioned",
		})
		return
	}
	mounted.ServeHTTP(w, r)
}

// DB returns the provisioned database handle, or nil before Initialize
func (k *Kit) DB() *sql.DB {
	return k.provisioner.DB()
}

// Accounts returns the account store, or nil before Initialize
func (k *Kit) Accounts() *accounts.Store {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.accounts
}

// Tokens returns the session token store, or nil before Initialize
func (k *Kit) Tokens() *auth.TokenStore {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.tokens
}

// Settings returns the settings store, or nil before Initialize
func (k *Kit) Settings() *settings.Store {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.settings
}

// Metrics returns the metrics registry wrapper, or nil when metrics
// are disabled
func (k *Kit) Metrics() *observability.Metrics {
	return k.metrics
}

// Logger returns the kit's logger
func (k *Kit) Logger() *observability.Logger {
	return k.log
}
