// Package main runs the surety layer server: the protocol engines, the REST
// gateway with the oracle request stream, the simulated oracle agent pool and
// the stale-round monitor.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/SuretyLabs/surety_layer/internal/app"
	"github.com/SuretyLabs/surety_layer/internal/app/httpapi"
	"github.com/SuretyLabs/surety_layer/internal/app/services/oracles"
	"github.com/SuretyLabs/surety_layer/internal/app/storage/postgres"
	"github.com/SuretyLabs/surety_layer/internal/config"
	"github.com/SuretyLabs/surety_layer/internal/platform/migrations"
	"github.com/SuretyLabs/surety_layer/pkg/logger"
)

func main() {
	agents := flag.Int("agents", 20, "Number of simulated oracle agents (0 disables the pool)")
	monitorInterval := flag.Duration("monitor-interval", 30*time.Second, "Stale round sweep interval")
	envFile := flag.String("env", "", "Optional .env file to load before reading configuration")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "load env file %s: %v\n", *envFile, err)
			os.Exit(1)
		}
	} else {
		// A missing default .env is fine.
		_ = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig(cfg.Logging))
	log = log.WithField("component", "suretyserver")

	stores := app.Stores{}
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN != "" {
		pg, err := postgres.Open(
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			time.Duration(cfg.Database.ConnMaxLifetime)*time.Second,
		)
		if err != nil {
			log.WithError(err).Fatal("open postgres")
		}
		defer pg.Close()

		if err := migrations.Apply(context.Background(), pg.DB()); err != nil {
			log.WithError(err).Fatal("apply migrations")
		}
		stores = app.Stores{
			Control:  pg,
			Airlines: pg,
			Flights:  pg,
			Policies: pg,
			Oracles:  pg,
		}
		log.Info("using postgres ledger store")
	} else {
		log.Info("using in-memory ledger store")
	}

	application, err := app.New(cfg.Protocol, stores, log)
	if err != nil {
		log.WithError(err).Fatal("build application")
	}

	if *agents > 0 {
		pool := oracles.NewAgentPool(application.Oracles, nil, *agents, cfg.Protocol.RegistrationFee, nil)
		if err := application.Attach(pool); err != nil {
			log.WithError(err).Fatal("attach agent pool")
		}
	}
	monitor := oracles.NewRoundMonitor(application.Oracles, *monitorInterval, 2*(*monitorInterval), nil)
	if err := application.Attach(monitor); err != nil {
		log.WithError(err).Fatal("attach round monitor")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewHandler(application, log.WithField("component", "httpapi")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("surety layer listening")
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("application stop")
	}
	log.Info("stopped")
}
