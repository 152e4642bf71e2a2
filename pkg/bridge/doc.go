// Copyright 2024-2026 Aiku AI

// Package bridge implements the core of a Mastodon-Matrix bridge: one bot
// per configured Mastodon account, each relaying the account's stream into
// every Matrix room the bot occupies.
//
// # Core Types
//
// [Registry] supervises the bots: eager construction per account, parallel
// start/stop, failure isolation between accounts. It also routes inbound
// Matrix events (invites, !masto commands) to the right bot.
//
// [Bot] pairs one account configuration with an authenticated Mastodon
// client and an authenticated Matrix client. It owns at most one live
// stream subscription; a feed failure stops the bot and restarting is an
// explicit supervisor decision, never an automatic retry.
//
// [EventRenderer] and [TemplateCache] turn stream events into notice text:
// one lazily-compiled mustache template per event kind, raw interpolation,
// missing fields rendering empty.
//
// [DeliveryService] fans rendered text out to all joined rooms as rich
// notices inside one scoped store transaction, surviving per-room failures.
//
// [AppService] is the inbound half: homeserver transaction pushes are
// deduplicated durably (process-then-record) before their events reach the
// registry, so at-least-once delivery never causes duplicate processing.
//
// The network clients are collaborators behind the [SourceClient] and
// [RoomClient] interfaces; the mastodonapi and matrixapi packages provide
// the production implementations.
package bridge
