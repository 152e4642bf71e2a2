// Copyright 2024-2026 Aiku AI

package bridge

import "time"

// EventKind is the closed set of bridged event variants. Classification
// happens once at the ingestion boundary; everything downstream switches on
// the kind instead of re-inspecting wire type strings.
type EventKind int

const (
	KindPost EventKind = iota
	KindReply
	KindBoost
	KindMention
	KindReblog
	KindFavourite
	KindFollow
	KindUnknown
)

func (k EventKind) String() string {
	switch k {
	case KindPost:
		return "post"
	case KindReply:
		return "reply"
	case KindBoost:
		return "boost"
	case KindMention:
		return "mention"
	case KindReblog:
		return "reblog"
	case KindFavourite:
		return "favourite"
	case KindFollow:
		return "follow"
	default:
		return "unknown"
	}
}

// Status is a Mastodon status as the core consumes it. Wire-format details
// live in the source-network adapter; by the time a Status reaches the
// renderer it is fully parsed.
type Status struct {
	ID                 string
	URI                string
	URL                string
	Account            Account
	InReplyToID        string
	InReplyToAccountID string
	Reblog             *Status
	Content            string
	CreatedAt          time.Time
	Emojis             []*Emoji
	ReblogsCount       int64
	FavouritesCount    int64
	Reblogged          bool
	Favourited         bool
	Sensitive          bool
	SpoilerText        string
	Visibility         string
	MediaAttachments   []*Attachment
	Mentions           []*Mention
	Tags               []*Tag
	Application        *Application
}

// Notification is a Mastodon notification (mention, reblog, favourite,
// follow, or something newer the bridge does not know about).
type Notification struct {
	ID        string
	Type      string
	CreatedAt time.Time
	Account   Account
	Status    *Status
}

type Account struct {
	ID             string
	Username       string
	Acct           string
	DisplayName    string
	Locked         bool
	CreatedAt      time.Time
	FollowersCount int64
	FollowingCount int64
	StatusesCount  int64
	Note           string
	URL            string
	Avatar         string
	Header         string
}

type Emoji struct {
	Shortcode string
	StaticURL string
	URL       string
}

type Attachment struct {
	ID         string
	Type       string
	URL        string
	RemoteURL  string
	PreviewURL string
	TextURL    string
}

type Mention struct {
	ID       string
	URL      string
	Username string
	Acct     string
}

type Tag struct {
	Name string
	URL  string
}

type Application struct {
	Name    string
	Website string
}

// ClassifyStatus decides which template family a status belongs to. A boost
// always wins over a reply: a boosted status that itself replies to something
// is still rendered with the boost template.
func ClassifyStatus(s *Status) EventKind {
	switch {
	case s.Reblog != nil:
		return KindBoost
	case s.InReplyToID != "":
		return KindReply
	default:
		return KindPost
	}
}

// ClassifyNotification maps the wire type string to a variant. Unrecognized
// types become KindUnknown; the raw type stays available on the notification.
func ClassifyNotification(n *Notification) EventKind {
	switch n.Type {
	case "mention":
		return KindMention
	case "reblog":
		return KindReblog
	case "favourite":
		return KindFavourite
	case "follow":
		return KindFollow
	default:
		return KindUnknown
	}
}
