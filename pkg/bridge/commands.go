// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/event"
)

// commandPrefix starts every bot command in a Matrix room.
const commandPrefix = "!masto"

// DispatchMatrixEvent routes one event of an accepted transaction. Invites
// addressed to a bot user trigger an autojoin; m.room.message events are
// checked for bot commands. Everything else is ignored. Dispatch is
// idempotent with respect to transaction replays: joins and command
// handling tolerate repetition.
func (r *Registry) DispatchMatrixEvent(ctx context.Context, evt *event.Event) error {
	switch evt.Type {
	case event.StateMember:
		r.handleMembership(ctx, evt)
	case event.EventMessage:
		r.handleMessage(ctx, evt)
	}
	return nil
}

// handleMembership joins a bot to rooms it gets invited to.
func (r *Registry) handleMembership(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsMember()
	if content == nil || content.Membership != event.MembershipInvite {
		return
	}
	if evt.StateKey == nil {
		return
	}
	for _, bot := range r.Bots() {
		if *evt.StateKey != bot.cfg.MatrixUserID {
			continue
		}
		if err := bot.rooms.JoinRoom(ctx, evt.RoomID); err != nil {
			bot.log.Error().Err(err).Stringer("room_id", evt.RoomID).Msg("Failed to join room on invite")
		} else {
			bot.log.Info().Stringer("room_id", evt.RoomID).Msg("Joined room on invite")
		}
	}
}

// handleMessage parses and executes bot commands. Commands may name an
// account (`!masto start work`); without one they apply to every bot.
func (r *Registry) handleMessage(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsMessage()
	if content == nil || !strings.HasPrefix(content.Body, commandPrefix) {
		return
	}
	if r.isOwnUser(evt.Sender.String()) {
		return
	}

	fields := strings.Fields(content.Body)
	command := "help"
	if len(fields) > 1 {
		command = fields[1]
	}

	targets := r.Bots()
	if len(fields) > 2 {
		bot, ok := r.Bot(fields[2])
		if !ok {
			r.log.Warn().Str("account", fields[2]).Msg("Command for unknown account")
			return
		}
		targets = []*Bot{bot}
	}

	for _, bot := range targets {
		bot.handleCommand(ctx, evt, command)
	}
}

// isOwnUser reports whether the sender is one of the bridge's own bot
// users, so the bridge never reacts to its own messages.
func (r *Registry) isOwnUser(sender string) bool {
	for _, bot := range r.bots {
		if bot.cfg.MatrixUserID == sender {
			return true
		}
	}
	return false
}

// handleCommand executes one command for this bot, replying into the room
// the command came from. start and stop are the explicit restart path for a
// failed stream.
func (b *Bot) handleCommand(ctx context.Context, evt *event.Event, command string) {
	reply := func(text string) {
		if err := b.rooms.SendNotice(ctx, evt.RoomID, text, ""); err != nil {
			b.log.Error().Err(err).Stringer("room_id", evt.RoomID).Msg("Failed to send command reply")
		}
	}

	switch command {
	case "help":
		reply(fmt.Sprintf("%s help|status|start|stop [account] - control the Mastodon bridge", commandPrefix))
	case "status":
		state := "stopped"
		if b.Running() {
			state = "running"
		}
		reply(fmt.Sprintf("%s: %s", b.cfg.ID, state))
	case "start":
		if b.Start() {
			reply(fmt.Sprintf("%s: streaming started", b.cfg.ID))
		} else {
			reply(fmt.Sprintf("%s: failed to start streaming", b.cfg.ID))
		}
	case "stop":
		b.Stop()
		reply(fmt.Sprintf("%s: streaming stopped", b.cfg.ID))
	default:
		reply(fmt.Sprintf("Unknown command %q, try %s help", command, commandPrefix))
	}
}
