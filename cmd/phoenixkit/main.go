package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/phoenixkit/phoenixkit/pkg/config"
	"github.com/phoenixkit/phoenixkit/pkg/observability"
	"github.com/phoenixkit/phoenixkit/pkg/phoenixkit"
	"github.com/phoenixkit/phoenixkit/pkg/provision"
	"github.com/phoenixkit/phoenixkit/pkg/schema"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: phoenixkit <command> [flags]

Commands:
  serve      Run the HTTP server with the account API
  migrate    Migrate the schema up to a target version
  rollback   Roll the schema back to a target version
  status     Print installed and latest schema versions

Configuration is read from PHOENIXKIT_* environment variables.
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "phoenixkit: %v\n", err)
		os.Exit(1)
	}
	log := observability.NewLogger(cfg.Observability.LogLevel, nil)

	switch os.Args[1] {
	case "serve":
		runServe(cfg, log, os.Args[2:])
	case "migrate":
		runMigrate(cfg, log, os.Args[2:], false)
	case "rollback":
		runMigrate(cfg, log, os.Args[2:], true)
	case "status":
		runStatus(cfg, log)
	default:
		usage()
	}
}

// connect detects the store without touching the schema
func connect(cfg *config.Config, log *observability.Logger) *provision.Provisioner {
	// schema commands manage versions explicitly
	cfg.Provision.Enabled = false
	return provision.NewProvisioner(cfg, log, nil)
}

func runMigrate(cfg *config.Config, log *observability.Logger, args []string, down bool) {
	name := "migrate"
	if down {
		name = "rollback"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	target := fs.Int("target", -1, "target schema version")
	fs.Parse(args)

	if *target < 0 {
		if down {
			fmt.Fprintln(os.Stderr, "phoenixkit: rollback requires -target")
			os.Exit(2)
		}
		*target = schema.LatestVersion
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := connect(cfg, log).EnsureSetup(ctx)
	if err != nil {
		log.WithError(err).Error("store detection failed")
		os.Exit(1)
	}
	defer db.Close()

	runner := schema.NewRunner(db, cfg.Database.SchemaPrefix, schema.WithLogger(log))
	if down {
		err = runner.Rollback(ctx, *target)
	} else {
		err = runner.Migrate(ctx, *target)
	}
	if err != nil {
		log.WithError(err).Error(name + " failed")
		os.Exit(1)
	}
}

func runStatus(cfg *config.Config, log *observability.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := connect(cfg, log).EnsureSetup(ctx)
	if err != nil {
		log.WithError(err).Error("store detection failed")
		os.Exit(1)
	}
	defer db.Close()

	runner := schema.NewRunner(db, cfg.Database.SchemaPrefix, schema.WithLogger(log))
	installed, latest, err := runner.Status(ctx)
	if err != nil {
		log.WithError(err).Error("status read failed")
		os.Exit(1)
	}

	fmt.Printf("namespace: %s\ninstalled: %d\nlatest:    %d\n",
		cfg.Database.SchemaPrefix, installed, latest)
	if installed < latest {
		fmt.Println("run 'phoenixkit migrate' to update")
	}
}

func runServe(cfg *config.Config, log *observability.Logger, args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", 8080, "port to listen on")
	fs.Parse(args)

	kit, err := phoenixkit.New(cfg)
	if err != nil {
		log.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	err = kit.Initialize(ctx)
	cancel()
	if err != nil {
		// keep serving; endpoints answer with a setup-required error
		// until provisioning succeeds
		log.WithError(err).Warn("initialization failed; serving in setup-required mode")
	}
	defer kit.Shutdown()

	router := mux.NewRouter()
	kit.RegisterRoutes(router)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		db := kit.DB()
		if db == nil {
			http.Error(w, "setup required", http.StatusServiceUnavailable)
			return
		}
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if metrics := kit.Metrics(); metrics != nil {
		router.Handle("/metrics", metrics.Handler())
	}

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(*port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.WithField("port", *port).Info("phoenixkit server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	log.Info("phoenixkit server stopped")
}
