// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// renderFailureMessage replaces the rendered text when template execution
// fails. The failure is logged; the feed never sees an error.
const renderFailureMessage = "Cannot render the message"

// enrichTimeout bounds each missing-content lookup so a slow Mastodon API
// cannot stall the feed delivery goroutine.
const enrichTimeout = 5 * time.Second

// StatusLookup is the point-lookup subset of the source-network client,
// used only for missing-content enrichment.
type StatusLookup interface {
	Status(ctx context.Context, id string) (*Status, error)
	AccountByID(ctx context.Context, id string) (*Account, error)
}

// EventRenderer turns source-network events into formatted notice text for
// one account. It is owned by a single bot and safe for use from the feed
// delivery goroutine.
type EventRenderer struct {
	templates   *TemplateCache
	lookup      StatusLookup
	fetchParent bool
	formatTime  func(time.Time) string
	log         zerolog.Logger
}

// NewEventRenderer builds a renderer over the account's template cache.
// lookup may be nil when the account does not enable missing-content fetch.
func NewEventRenderer(cfg AccountConfig, templates *TemplateCache, lookup StatusLookup, formatTime func(time.Time) string, log zerolog.Logger) *EventRenderer {
	return &EventRenderer{
		templates:   templates,
		lookup:      lookup,
		fetchParent: cfg.FetchMissingContent && lookup != nil,
		formatTime:  formatTime,
		log:         log.With().Str("component", "renderer").Logger(),
	}
}

// RenderStatus renders a status through the post, reply, or boost template.
// A boost wins over a reply; this precedence is fixed.
func (r *EventRenderer) RenderStatus(s *Status) string {
	kind := ClassifyStatus(s)
	tmpl, err := r.templates.TemplateFor(kind)
	if err != nil {
		r.log.Error().Err(err).Str("kind", kind.String()).Msg("No template for status")
		return renderFailureMessage
	}

	statusCtx := r.statusContext(s, true)
	if r.fetchParent {
		r.enrichReply(s, statusCtx)
	}
	return r.execute(tmpl, statusCtx)
}

// RenderNotification renders a notification through the template for its
// kind. Unrecognized kinds produce a plain diagnostic line instead of going
// through a template; they are never dropped.
func (r *EventRenderer) RenderNotification(n *Notification) string {
	kind := ClassifyNotification(n)
	if kind == KindUnknown {
		return fmt.Sprintf("Unknown notification: %s at [%s]: %s", n.Type, n.CreatedAt.Format(time.RFC3339), n.ID)
	}

	tmpl, err := r.templates.TemplateFor(kind)
	if err != nil {
		r.log.Error().Err(err).Str("kind", kind.String()).Msg("No template for notification")
		return renderFailureMessage
	}

	notifCtx := map[string]interface{}{
		"id": n.ID,
		// Notification timestamps stay in wire form; only statuses use the
		// account's date format.
		"created_at": n.CreatedAt.Format(time.RFC3339),
		"account":    r.accountContext(&n.Account),
		"type":       n.Type,
	}
	if n.Status != nil {
		notifCtx["status"] = r.statusContext(n.Status, true)
	}
	return r.execute(tmpl, notifCtx)
}

func (r *EventRenderer) execute(tmpl Template, context map[string]interface{}) string {
	out, err := tmpl.Render(context)
	if err != nil {
		r.log.Error().Err(err).Msg("Template execution failed")
		return renderFailureMessage
	}
	return out
}

// enrichReply adds in_reply_to and in_reply_to_account to the context when
// the status is a reply and the parents can be fetched. Lookup failures are
// logged and the field is simply omitted.
func (r *EventRenderer) enrichReply(s *Status, statusCtx map[string]interface{}) {
	if s.InReplyToID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
		parent, err := r.lookup.Status(ctx, s.InReplyToID)
		cancel()
		if err != nil {
			r.log.Warn().Err(err).Str("status_id", s.InReplyToID).Msg("Cannot fetch parent status")
		} else {
			statusCtx["in_reply_to"] = r.statusContext(parent, false)
		}
	}

	if s.InReplyToAccountID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
		parent, err := r.lookup.AccountByID(ctx, s.InReplyToAccountID)
		cancel()
		if err != nil {
			r.log.Warn().Err(err).Str("account_id", s.InReplyToAccountID).Msg("Cannot fetch parent account")
		} else {
			statusCtx["in_reply_to_account"] = r.accountContext(parent)
		}
	}
}

// statusContext flattens a status into a template context. expandReblog
// bounds the nesting to a single level: a boosted status's own boost is not
// expanded.
func (r *EventRenderer) statusContext(s *Status, expandReblog bool) map[string]interface{} {
	m := map[string]interface{}{
		"id":                     s.ID,
		"uri":                    s.URI,
		"url":                    s.URL,
		"account":                r.accountContext(&s.Account),
		"in_reply_to_id":         s.InReplyToID,
		"in_reply_to_account_id": s.InReplyToAccountID,
		"content":                s.Content,
		"created_at":             r.formatTime(s.CreatedAt),
		"reblogs_count":          s.ReblogsCount,
		"favourites_count":       s.FavouritesCount,
		"reblogged":              s.Reblogged,
		"favourited":             s.Favourited,
		"sensitive":              s.Sensitive,
		"spoiler_text":           s.SpoilerText,
		"visibility":             s.Visibility,
	}
	if s.Reblog != nil && expandReblog {
		m["reblog"] = r.statusContext(s.Reblog, false)
	}

	emojis := make([]map[string]interface{}, 0, len(s.Emojis))
	for _, e := range s.Emojis {
		if e == nil {
			continue
		}
		emojis = append(emojis, map[string]interface{}{
			"shortcode":  e.Shortcode,
			"static_url": e.StaticURL,
			"url":        e.URL,
		})
	}
	m["emojis"] = emojis

	attachments := make([]map[string]interface{}, 0, len(s.MediaAttachments))
	for _, a := range s.MediaAttachments {
		if a == nil {
			continue
		}
		attachments = append(attachments, map[string]interface{}{
			"id":          a.ID,
			"type":        a.Type,
			"url":         a.URL,
			"remote_url":  a.RemoteURL,
			"preview_url": a.PreviewURL,
			"text_url":    a.TextURL,
		})
	}
	m["media_attachments"] = attachments

	mentions := make([]map[string]interface{}, 0, len(s.Mentions))
	for _, mn := range s.Mentions {
		if mn == nil {
			continue
		}
		mentions = append(mentions, map[string]interface{}{
			"id":       mn.ID,
			"url":      mn.URL,
			"username": mn.Username,
			"acct":     mn.Acct,
		})
	}
	m["mentions"] = mentions

	tags := make([]map[string]interface{}, 0, len(s.Tags))
	for _, t := range s.Tags {
		if t == nil {
			continue
		}
		tags = append(tags, map[string]interface{}{
			"name": t.Name,
			"url":  t.URL,
		})
	}
	m["tags"] = tags

	application := map[string]interface{}{}
	if s.Application != nil {
		application["name"] = s.Application.Name
		application["website"] = s.Application.Website
	}
	m["application"] = application

	return m
}

func (r *EventRenderer) accountContext(a *Account) map[string]interface{} {
	return map[string]interface{}{
		"id":              a.ID,
		"username":        a.Username,
		"acct":            a.Acct,
		"display_name":    a.DisplayName,
		"locked":          a.Locked,
		"created_at":      a.CreatedAt.Format(time.RFC3339),
		"followers_count": a.FollowersCount,
		"following_count": a.FollowingCount,
		"statuses_count":  a.StatusesCount,
		"note":            a.Note,
		"url":             a.URL,
		"avatar":          a.Avatar,
		"header":          a.Header,
	}
}
