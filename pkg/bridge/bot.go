// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodsign/monday"
	"github.com/rs/zerolog"

	"github.com/aiku/mautrix-mastodon/pkg/store"
)

// SourceClient is the Mastodon-side collaborator: an already-authenticated
// client that can open a real-time user event stream and do the point
// lookups the renderer needs for enrichment.
type SourceClient interface {
	StatusLookup
	// Subscribe opens the account's event stream and delivers events to the
	// handler until the subscription is cancelled or the stream fails.
	Subscribe(ctx context.Context, h EventHandler) (Subscription, error)
}

// Subscription is a handle on one live stream. Cancel is fire-and-forget
// and safe to call concurrently with in-flight event callbacks.
type Subscription interface {
	Cancel()
}

// EventHandler receives decoded events from the stream, on the stream's own
// delivery goroutine.
type EventHandler interface {
	OnStatus(s *Status)
	OnNotification(n *Notification)
	// OnStreamError reports a feed-level transport failure. The subscription
	// is dead once this fires; resuming requires a new Subscribe.
	OnStreamError(err error)
}

// botState is the stream ingestor's lifecycle state.
type botState int

const (
	stateStopped botState = iota
	stateStarting
	stateRunning
)

// Bot is the runtime pairing of one account configuration with its two
// network clients. It owns at most one live stream subscription and is
// supervised by the Registry.
type Bot struct {
	cfg      AccountConfig
	source   SourceClient
	rooms    RoomClient
	renderer *EventRenderer
	delivery *DeliveryService
	log      zerolog.Logger

	mu    sync.Mutex
	state botState
	sub   Subscription
}

// NewBot constructs a bot for one account. Template compilation happens
// here: a malformed template is a fatal configuration error for this account
// and the bot is never created.
func NewBot(cfg AccountConfig, source SourceClient, rooms RoomClient, st *store.Store, log zerolog.Logger) (*Bot, error) {
	botLog := log.With().Str("account", cfg.ID).Logger()

	templates := NewTemplateCache(cfg.Templates)
	if err := templates.Validate(); err != nil {
		return nil, fmt.Errorf("account %s: %w", cfg.ID, err)
	}

	// The formatter is a pure function of the account configuration, built
	// once instead of per render.
	locale := monday.Locale(cfg.DateTimeLocale)
	layout := cfg.DateTimeFormat
	formatTime := func(t time.Time) string {
		return monday.Format(t, layout, locale)
	}

	var lookup StatusLookup
	if cfg.FetchMissingContent {
		lookup = source
	}

	b := &Bot{
		cfg:      cfg,
		source:   source,
		rooms:    rooms,
		renderer: NewEventRenderer(cfg, templates, lookup, formatTime, botLog),
		delivery: NewDeliveryService(rooms, st.Account(cfg.ID), botLog),
		log:      botLog,
		state:    stateStopped,
	}
	return b, nil
}

// AccountID returns the configured account identifier.
func (b *Bot) AccountID() string {
	return b.cfg.ID
}

// Running reports whether the stream subscription is live.
func (b *Bot) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateRunning
}

// Start opens the account's stream subscription. It is a no-op when already
// running. A subscription failure is logged and reported as false; the bot
// falls back to stopped and the registry keeps running.
func (b *Bot) Start() bool {
	b.mu.Lock()
	if b.state == stateRunning {
		b.mu.Unlock()
		return true
	}
	b.state = stateStarting
	if b.sub != nil {
		b.sub.Cancel()
		b.sub = nil
	}
	b.mu.Unlock()

	sub, err := b.source.Subscribe(context.Background(), b)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.log.Error().Err(err).Msg("Failed to open stream subscription")
		b.state = stateStopped
		return false
	}
	if b.state != stateStarting {
		// Stop raced with the subscribe call; honor it.
		sub.Cancel()
		return false
	}
	b.sub = sub
	b.state = stateRunning
	b.log.Info().Msg("Stream subscription started")
	return true
}

// Stop cancels the subscription if one is live. Idempotent and safe to call
// concurrently with in-flight event callbacks; already-dispatched callbacks
// run to completion.
func (b *Bot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		b.sub.Cancel()
		b.sub = nil
	}
	if b.state != stateStopped {
		b.log.Info().Msg("Stream subscription stopped")
	}
	b.state = stateStopped
}

// OnStatus renders a status and delivers it. Runs synchronously on the
// stream delivery goroutine; delivery is bounded by per-call timeouts in
// the room client.
func (b *Bot) OnStatus(s *Status) {
	b.deliver(b.renderer.RenderStatus(s))
}

// OnNotification renders a notification and delivers it.
func (b *Bot) OnNotification(n *Notification) {
	b.deliver(b.renderer.RenderNotification(n))
}

func (b *Bot) deliver(message string) {
	b.delivery.Deliver(context.Background(), message)
}

// OnStreamError surfaces a feed transport failure to every joined room and
// leaves the bot stopped. Restarting is an explicit registry decision, not
// an automatic retry: a tight reconnect loop would mask a dead credential.
func (b *Bot) OnStreamError(err error) {
	b.log.Error().Err(err).Msg("Stream failed")

	b.mu.Lock()
	b.sub = nil
	b.state = stateStopped
	b.mu.Unlock()

	b.notifyRooms(fmt.Sprintf("Streaming failed: %s", err))
}

// notifyRooms sends a plain diagnostic notice to every joined room, best
// effort.
func (b *Bot) notifyRooms(message string) {
	ctx := context.Background()
	rooms, err := b.rooms.JoinedRooms(ctx)
	if err != nil {
		b.log.Error().Err(err).Msg("Failed to enumerate rooms for diagnostic notice")
		return
	}
	for _, room := range rooms {
		if sendErr := b.rooms.SendNotice(ctx, room, message, ""); sendErr != nil {
			b.log.Error().Err(sendErr).Stringer("room_id", room).Msg("Failed to send diagnostic notice")
		}
	}
}
