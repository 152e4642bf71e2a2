// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"strings"
	"testing"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

func inviteEvent(room id.RoomID, invitee string) *event.Event {
	return &event.Event{
		Type:     event.StateMember,
		RoomID:   room,
		Sender:   id.UserID("@inviter:example.org"),
		StateKey: &invitee,
		Content: event.Content{
			Parsed: &event.MemberEventContent{Membership: event.MembershipInvite},
		},
	}
}

func messageEvent(room id.RoomID, sender, body string) *event.Event {
	return &event.Event{
		Type:   event.EventMessage,
		RoomID: room,
		Sender: id.UserID(sender),
		Content: event.Content{
			Parsed: &event.MessageEventContent{MsgType: event.MsgText, Body: body},
		},
	}
}

// TestDispatch_InviteTriggersJoin verifies an invite addressed to a bot
// user joins that bot to the room.
func TestDispatch_InviteTriggersJoin(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, twoAccountConfig(), nil)
	room := id.RoomID("!new:example.org")

	err := f.registry.DispatchMatrixEvent(context.Background(), inviteEvent(room, "@main:example.org"))
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	if joins := f.rooms["main"].Joins(); len(joins) != 1 || joins[0] != room {
		t.Fatalf("expected main to join %s, got %v", room, joins)
	}
	if joins := f.rooms["alt"].Joins(); len(joins) != 0 {
		t.Fatalf("expected alt to stay out, got %v", joins)
	}
}

// TestDispatch_InviteForStrangerIgnored verifies invites for users the
// bridge does not own are ignored.
func TestDispatch_InviteForStrangerIgnored(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, twoAccountConfig(), nil)

	err := f.registry.DispatchMatrixEvent(context.Background(),
		inviteEvent(id.RoomID("!new:example.org"), "@someone:example.org"))
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	for accountID, rooms := range f.rooms {
		if len(rooms.Joins()) != 0 {
			t.Fatalf("expected %s not to join, got %v", accountID, rooms.Joins())
		}
	}
}

// TestDispatch_NonCommandMessageIgnored verifies ordinary chatter is not
// treated as a command.
func TestDispatch_NonCommandMessageIgnored(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, twoAccountConfig(), nil)

	err := f.registry.DispatchMatrixEvent(context.Background(),
		messageEvent("!r:example.org", "@user:example.org", "hello everyone"))
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	for _, rooms := range f.rooms {
		if len(rooms.Sent()) != 0 {
			t.Fatalf("expected no replies, got %v", rooms.Sent())
		}
	}
}

// TestDispatch_OwnMessagesIgnored verifies the bridge never reacts to
// commands sent by its own bot users.
func TestDispatch_OwnMessagesIgnored(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, twoAccountConfig(), nil)

	err := f.registry.DispatchMatrixEvent(context.Background(),
		messageEvent("!r:example.org", "@main:example.org", "!masto status"))
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	for _, rooms := range f.rooms {
		if len(rooms.Sent()) != 0 {
			t.Fatalf("expected no replies to own messages, got %v", rooms.Sent())
		}
	}
}

// TestCommand_StatusRepliesPerBot verifies the status command replies once
// per bot with its stream state.
func TestCommand_StatusRepliesPerBot(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, twoAccountConfig(), nil)
	room := id.RoomID("!r:example.org")

	err := f.registry.DispatchMatrixEvent(context.Background(),
		messageEvent(room, "@user:example.org", "!masto status"))
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	mainSent := f.rooms["main"].Sent()
	if len(mainSent) != 1 || !strings.Contains(mainSent[0].Plain, "main: stopped") {
		t.Fatalf("unexpected main status reply: %v", mainSent)
	}
	altSent := f.rooms["alt"].Sent()
	if len(altSent) != 1 || !strings.Contains(altSent[0].Plain, "alt: stopped") {
		t.Fatalf("unexpected alt status reply: %v", altSent)
	}
}

// TestCommand_StartTargetsOneAccount verifies a command naming an account
// only touches that bot.
func TestCommand_StartTargetsOneAccount(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, twoAccountConfig(), nil)
	room := id.RoomID("!r:example.org")

	err := f.registry.DispatchMatrixEvent(context.Background(),
		messageEvent(room, "@user:example.org", "!masto start alt"))
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	if f.sources["alt"].Subscribes() != 1 {
		t.Fatalf("expected alt to subscribe, got %d", f.sources["alt"].Subscribes())
	}
	if f.sources["main"].Subscribes() != 0 {
		t.Fatalf("expected main untouched, got %d subscribes", f.sources["main"].Subscribes())
	}
	sent := f.rooms["alt"].Sent()
	if len(sent) != 1 || !strings.Contains(sent[0].Plain, "streaming started") {
		t.Fatalf("unexpected start reply: %v", sent)
	}
}

// TestCommand_StopStopsStream verifies the stop command cancels a running
// subscription.
func TestCommand_StopStopsStream(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, twoAccountConfig(), nil)
	room := id.RoomID("!r:example.org")
	bot, _ := f.registry.Bot("main")
	bot.Start()

	err := f.registry.DispatchMatrixEvent(context.Background(),
		messageEvent(room, "@user:example.org", "!masto stop main"))
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	if bot.Running() {
		t.Fatal("expected main to be stopped")
	}
}

// TestCommand_UnknownAccountIgnored verifies a command for an account the
// bridge does not manage is dropped without replies.
func TestCommand_UnknownAccountIgnored(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, twoAccountConfig(), nil)

	err := f.registry.DispatchMatrixEvent(context.Background(),
		messageEvent("!r:example.org", "@user:example.org", "!masto start nosuch"))
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	for _, rooms := range f.rooms {
		if len(rooms.Sent()) != 0 {
			t.Fatalf("expected no replies for unknown account, got %v", rooms.Sent())
		}
	}
}

// TestCommand_BarePrefixShowsHelp verifies the bare prefix produces the
// help reply.
func TestCommand_BarePrefixShowsHelp(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, twoAccountConfig(), nil)

	err := f.registry.DispatchMatrixEvent(context.Background(),
		messageEvent("!r:example.org", "@user:example.org", "!masto"))
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	sent := f.rooms["main"].Sent()
	if len(sent) != 1 || !strings.Contains(sent[0].Plain, "help|status|start|stop") {
		t.Fatalf("unexpected help reply: %v", sent)
	}
}
