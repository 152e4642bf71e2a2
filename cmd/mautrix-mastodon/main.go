// Copyright 2024-2026 Aiku AI

// Command mautrix-mastodon is a Mastodon-Matrix bridge bot. It runs one bot
// per configured Mastodon account, relaying the account's live stream into
// every Matrix room the bot occupies, and receives appservice transactions
// from the homeserver through a deduplicating intake endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exzerolog"
	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-mastodon/pkg/bridge"
	"github.com/aiku/mautrix-mastodon/pkg/mastodonapi"
	"github.com/aiku/mautrix-mastodon/pkg/matrixapi"
	"github.com/aiku/mautrix-mastodon/pkg/store"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configDir := flag.String("config-dir", "", "directory containing config.yaml (default: working directory)")
	flag.Parse()

	cfg, err := bridge.LoadConfig(*configDir)
	if err != nil {
		// Logging is not configured yet; write the error raw.
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	log := newLogger(cfg.Log)
	exzerolog.SetupDefaults(&log)
	log.Info().
		Str("tag", Tag).Str("commit", Commit).Str("build_time", BuildTime).
		Int("accounts", len(cfg.Accounts)).
		Msg("Starting mautrix-mastodon")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Bridge exited with error")
	}
}

func newLogger(cfg bridge.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.Format == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.With().Timestamp().Logger().Level(level)
}

func run(cfg *bridge.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registration, err := bridge.LoadRegistration(cfg.Appservice.RegistrationPath)
	if err != nil {
		return err
	}

	db, err := store.NewDB(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("Error closing database")
		}
	}()
	st := store.New(db, log)

	factory := func(account bridge.AccountConfig) (bridge.SourceClient, bridge.RoomClient, error) {
		source := mastodonapi.New(account.Mastodon, log.With().Str("account", account.ID).Logger())
		rooms, err := matrixapi.New(cfg.Homeserver.Address, id.UserID(account.MatrixUserID), account.MatrixAccessToken,
			log.With().Str("account", account.ID).Logger())
		if err != nil {
			return nil, nil, err
		}
		return source, rooms, nil
	}
	registry := bridge.NewRegistry(cfg, st, factory, log)

	appsvc := bridge.NewAppService(registration, st, registry, log)
	server := &http.Server{
		Addr:         cfg.Appservice.ListenAddr,
		Handler:      appsvc.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler, err := retentionScheduler(ctx, cfg, st, log)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("Starting appservice intake")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		registry.StartAll(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down appservice intake")
		}
		registry.StopAll(shutdownCtx)
		if scheduler != nil {
			if err := scheduler.Shutdown(); err != nil {
				log.Error().Err(err).Msg("Error shutting down scheduler")
			}
		}
		return nil
	})

	return g.Wait()
}

// retentionScheduler starts the optional daily sweep of old transaction
// records. Retention is an operator policy: with a zero retention the
// records are kept forever and no scheduler is created.
func retentionScheduler(ctx context.Context, cfg *bridge.Config, st *store.Store, log zerolog.Logger) (gocron.Scheduler, error) {
	retention := cfg.Database.TransactionRetention
	if retention <= 0 {
		return nil, nil
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			pruned, err := st.PruneTransactions(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Error().Err(err).Msg("Transaction retention sweep failed")
				return
			}
			if pruned > 0 {
				log.Info().Int64("pruned", pruned).Msg("Pruned old transaction records")
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	scheduler.Start()
	return scheduler, nil
}
