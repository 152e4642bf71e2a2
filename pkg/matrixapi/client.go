// Copyright 2024-2026 Aiku AI

// Package matrixapi adapts the mautrix client to the bridge's
// target-network contract: joined-room enumeration, rich notices, and
// invite autojoin.
package matrixapi

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-mastodon/pkg/bridge"
)

// Client wraps an authenticated Matrix client for one bot user.
type Client struct {
	mx  *mautrix.Client
	log zerolog.Logger
}

var _ bridge.RoomClient = (*Client)(nil)

// New creates a client for an already-provisioned bot user. The access
// token is assumed valid; the appservice registration handshake is not this
// package's concern.
func New(homeserverURL string, userID id.UserID, accessToken string, log zerolog.Logger) (*Client, error) {
	mx, err := mautrix.NewClient(homeserverURL, userID, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	return &Client{
		mx:  mx,
		log: log.With().Str("component", "matrix_client").Stringer("user_id", userID).Logger(),
	}, nil
}

// JoinedRooms enumerates the rooms the bot user currently occupies.
func (c *Client) JoinedRooms(ctx context.Context) ([]id.RoomID, error) {
	resp, err := c.mx.JoinedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list joined rooms: %w", err)
	}
	return resp.JoinedRooms, nil
}

// SendNotice sends a notice with an optional formatted body.
func (c *Client) SendNotice(ctx context.Context, room id.RoomID, plain, formatted string) error {
	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    plain,
	}
	if formatted != "" && formatted != plain {
		content.Format = event.FormatHTML
		content.FormattedBody = formatted
	}
	if _, err := c.mx.SendMessageEvent(ctx, room, event.EventMessage, content); err != nil {
		return fmt.Errorf("failed to send notice to %s: %w", room, err)
	}
	return nil
}

// JoinRoom accepts an invite.
func (c *Client) JoinRoom(ctx context.Context, room id.RoomID) error {
	if _, err := c.mx.JoinRoomByID(ctx, room); err != nil {
		return fmt.Errorf("failed to join room %s: %w", room, err)
	}
	return nil
}
