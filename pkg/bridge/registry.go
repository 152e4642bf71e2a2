// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/mautrix-mastodon/pkg/store"
)

// ClientFactory builds the pair of authenticated network clients for one
// account. The bootstrap wires the real adapters; tests inject fakes.
type ClientFactory func(cfg AccountConfig) (SourceClient, RoomClient, error)

// Registry supervises one bot per configured account. Bots are constructed
// eagerly at registry creation; an account whose bot cannot be constructed
// (bad clients, malformed templates) is logged and skipped without touching
// the others.
type Registry struct {
	bots  map[string]*Bot
	order []string
	log   zerolog.Logger
}

// NewRegistry constructs all bots. It never fails as a whole: per-account
// construction errors only cost that account its bot.
func NewRegistry(cfg *Config, st *store.Store, factory ClientFactory, log zerolog.Logger) *Registry {
	r := &Registry{
		bots: make(map[string]*Bot, len(cfg.Accounts)),
		log:  log.With().Str("component", "registry").Logger(),
	}

	for _, account := range cfg.Accounts {
		source, rooms, err := factory(account)
		if err != nil {
			r.log.Error().Err(err).Str("account", account.ID).Msg("Failed to create network clients")
			continue
		}
		bot, err := NewBot(account, source, rooms, st, log)
		if err != nil {
			r.log.Error().Err(err).Str("account", account.ID).Msg("Failed to create bot")
			continue
		}
		r.bots[account.ID] = bot
		r.order = append(r.order, account.ID)
	}

	return r
}

// Bot returns the bot for an account id.
func (r *Registry) Bot(accountID string) (*Bot, bool) {
	bot, ok := r.bots[accountID]
	return bot, ok
}

// Bots returns all bots in configuration order.
func (r *Registry) Bots() []*Bot {
	out := make([]*Bot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.bots[id])
	}
	return out
}

// StartAll starts every bot's stream ingestor in parallel. One bot failing
// to start never prevents the others; each failure is logged with the
// offending account.
func (r *Registry) StartAll(ctx context.Context) {
	g, _ := errgroup.WithContext(ctx)
	for _, bot := range r.bots {
		g.Go(func() error {
			if !bot.Start() {
				r.log.Error().Str("account", bot.AccountID()).Msg("Bot did not start")
			}
			return nil
		})
	}
	_ = g.Wait()
	r.log.Info().Int("count", len(r.bots)).Msg("Registry started")
}

// StopAll stops every bot, best effort, in parallel.
func (r *Registry) StopAll(ctx context.Context) {
	g, _ := errgroup.WithContext(ctx)
	for _, bot := range r.bots {
		g.Go(func() error {
			bot.Stop()
			return nil
		})
	}
	_ = g.Wait()
	r.log.Info().Msg("Registry stopped")
}
