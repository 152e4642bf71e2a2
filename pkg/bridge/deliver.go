// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-mastodon/pkg/store"
)

// RoomClient is the target-network collaborator: an already-authenticated
// Matrix client reduced to what the core needs.
type RoomClient interface {
	JoinedRooms(ctx context.Context) ([]id.RoomID, error)
	// SendNotice sends a rich notice: plain is the fallback body, formatted
	// the markup form. An empty formatted string sends a plain notice.
	SendNotice(ctx context.Context, room id.RoomID, plain, formatted string) error
	JoinRoom(ctx context.Context, room id.RoomID) error
}

// DeliveryService fans rendered text out to every room the bot occupies,
// inside one scoped store transaction that also keeps per-account delivery
// accounting.
type DeliveryService struct {
	rooms RoomClient
	state *store.AccountState
	log   zerolog.Logger
}

func NewDeliveryService(rooms RoomClient, state *store.AccountState, log zerolog.Logger) *DeliveryService {
	return &DeliveryService{
		rooms: rooms,
		state: state,
		log:   log.With().Str("component", "delivery").Logger(),
	}
}

// Deliver sends the message to all joined rooms as a rich notice, deriving
// the plain-text fallback from the markup. One room failing does not stop
// the batch; failing to enumerate rooms aborts the whole delivery. Errors
// are logged, never returned into the feed.
func (d *DeliveryService) Deliver(ctx context.Context, message string) {
	rooms, err := d.rooms.JoinedRooms(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("Failed to enumerate joined rooms")
		return
	}
	if len(rooms) == 0 {
		d.log.Debug().Msg("No joined rooms, dropping message")
		return
	}

	plain := format.HTMLToText(message)

	err = d.state.RunInTransaction(ctx, func(tx *store.Tx) error {
		delivered := 0
		for _, room := range rooms {
			if sendErr := d.rooms.SendNotice(ctx, room, plain, message); sendErr != nil {
				d.log.Error().Err(sendErr).Stringer("room_id", room).Msg("Failed to deliver notice")
				continue
			}
			delivered++
		}

		count, _, getErr := tx.Get(ctx, store.KeyDeliveredCount)
		if getErr != nil {
			return getErr
		}
		prev, _ := strconv.Atoi(count)
		if setErr := tx.Set(ctx, store.KeyDeliveredCount, strconv.Itoa(prev+delivered)); setErr != nil {
			return setErr
		}
		return tx.Set(ctx, store.KeyLastDeliveryAt, time.Now().UTC().Format(time.RFC3339))
	})
	if err != nil {
		d.log.Error().Err(err).Msg("Delivery accounting failed")
	}
}
