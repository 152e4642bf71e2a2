// Copyright 2024-2026 Aiku AI

// Package mastodonapi adapts the go-mastodon client to the bridge's
// source-network contract: a cancellable user-stream subscription plus the
// point lookups used for reply enrichment.
package mastodonapi

import (
	"context"
	"fmt"
	"strconv"

	mstdn "github.com/mattn/go-mastodon"
	"github.com/rs/zerolog"

	"github.com/aiku/mautrix-mastodon/pkg/bridge"
)

// Client wraps an authenticated Mastodon API client for one account.
type Client struct {
	c   *mstdn.Client
	log zerolog.Logger
}

var _ bridge.SourceClient = (*Client)(nil)

// New creates a client from already-established credentials. No network
// call happens here; the token is assumed valid.
func New(cfg bridge.MastodonConfig, log zerolog.Logger) *Client {
	return &Client{
		c: mstdn.NewClient(&mstdn.Config{
			Server:       cfg.Server,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			AccessToken:  cfg.AccessToken,
		}),
		log: log.With().Str("component", "mastodon_client").Logger(),
	}
}

// Status fetches one status by id.
func (c *Client) Status(ctx context.Context, statusID string) (*bridge.Status, error) {
	s, err := c.c.GetStatus(ctx, mstdn.ID(statusID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch status %s: %w", statusID, err)
	}
	return convertStatus(s), nil
}

// AccountByID fetches one account by id.
func (c *Client) AccountByID(ctx context.Context, accountID string) (*bridge.Account, error) {
	a, err := c.c.GetAccount(ctx, mstdn.ID(accountID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account %s: %w", accountID, err)
	}
	acct := convertAccount(a)
	return &acct, nil
}

// Subscribe opens the user stream and pumps events into the handler on a
// dedicated goroutine. The first transport error ends the subscription:
// the handler's OnStreamError fires once and the internal reconnect loop of
// the upstream client is cancelled, leaving resumption to the supervisor.
func (c *Client) Subscribe(ctx context.Context, h bridge.EventHandler) (bridge.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	ch, err := c.c.StreamingUser(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open user stream: %w", err)
	}

	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for evt := range ch {
			switch e := evt.(type) {
			case *mstdn.UpdateEvent:
				if e.Status != nil {
					h.OnStatus(convertStatus(e.Status))
				}
			case *mstdn.NotificationEvent:
				if e.Notification != nil {
					h.OnNotification(convertNotification(e.Notification))
				}
			case *mstdn.ErrorEvent:
				cancel()
				h.OnStreamError(e)
				return
			default:
				// Deletes and anything newer are not bridged.
				c.log.Trace().Msg("Ignoring unhandled stream event")
			}
		}
	}()
	return sub, nil
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel tears the stream down without waiting for in-flight callbacks.
func (s *subscription) Cancel() {
	s.cancel()
}

func convertStatus(s *mstdn.Status) *bridge.Status {
	if s == nil {
		return nil
	}
	out := &bridge.Status{
		ID:                 string(s.ID),
		URI:                s.URI,
		URL:                s.URL,
		Account:            convertAccount(&s.Account),
		InReplyToID:        idString(s.InReplyToID),
		InReplyToAccountID: idString(s.InReplyToAccountID),
		Reblog:             convertStatus(s.Reblog),
		Content:            s.Content,
		CreatedAt:          s.CreatedAt,
		ReblogsCount:       s.ReblogsCount,
		FavouritesCount:    s.FavouritesCount,
		Reblogged:          asBool(s.Reblogged),
		Favourited:         asBool(s.Favourited),
		Sensitive:          s.Sensitive,
		SpoilerText:        s.SpoilerText,
		Visibility:         s.Visibility,
		// The streaming payload decoder does not expose the originating
		// application; the renderer treats a nil Application as empty.
	}
	for _, e := range s.Emojis {
		out.Emojis = append(out.Emojis, &bridge.Emoji{
			Shortcode: e.ShortCode,
			StaticURL: e.StaticURL,
			URL:       e.URL,
		})
	}
	for _, a := range s.MediaAttachments {
		out.MediaAttachments = append(out.MediaAttachments, &bridge.Attachment{
			ID:         string(a.ID),
			Type:       a.Type,
			URL:        a.URL,
			RemoteURL:  a.RemoteURL,
			PreviewURL: a.PreviewURL,
			TextURL:    a.TextURL,
		})
	}
	for _, m := range s.Mentions {
		out.Mentions = append(out.Mentions, &bridge.Mention{
			ID:       string(m.ID),
			URL:      m.URL,
			Username: m.Username,
			Acct:     m.Acct,
		})
	}
	for _, t := range s.Tags {
		out.Tags = append(out.Tags, &bridge.Tag{
			Name: t.Name,
			URL:  t.URL,
		})
	}
	return out
}

func convertAccount(a *mstdn.Account) bridge.Account {
	if a == nil {
		return bridge.Account{}
	}
	return bridge.Account{
		ID:             string(a.ID),
		Username:       a.Username,
		Acct:           a.Acct,
		DisplayName:    a.DisplayName,
		Locked:         a.Locked,
		CreatedAt:      a.CreatedAt,
		FollowersCount: a.FollowersCount,
		FollowingCount: a.FollowingCount,
		StatusesCount:  a.StatusesCount,
		Note:           a.Note,
		URL:            a.URL,
		Avatar:         a.Avatar,
		Header:         a.Header,
	}
}

func convertNotification(n *mstdn.Notification) *bridge.Notification {
	return &bridge.Notification{
		ID:        string(n.ID),
		Type:      n.Type,
		CreatedAt: n.CreatedAt,
		Account:   convertAccount(&n.Account),
		Status:    convertStatus(n.Status),
	}
}

// idString normalizes the in_reply_to fields, which arrive as null, string,
// or number depending on the server.
func idString(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case mstdn.ID:
		return string(id)
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return fmt.Sprintf("%v", id)
	}
}

// asBool normalizes nullable boolean fields.
func asBool(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}
