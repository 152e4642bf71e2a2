// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-mastodon/pkg/store"
)

// newTestStore opens a real SQLite store in a temp directory. The store
// layer is cheap enough that bridging tests run against the real thing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return store.New(db, zerolog.Nop())
}

// testAccountConfig returns a minimal valid account configuration with the
// default templates and date settings filled in.
func testAccountConfig(accountID string) AccountConfig {
	cfg := Config{Accounts: []AccountConfig{{
		ID:                accountID,
		MatrixUserID:      "@" + accountID + ":example.org",
		MatrixAccessToken: "token",
	}}}
	cfg.applyAccountDefaults()
	return cfg.Accounts[0]
}

// fakeSubscription records cancellations.
type fakeSubscription struct {
	mu        sync.Mutex
	cancelled int
}

func (s *fakeSubscription) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled++
}

func (s *fakeSubscription) Cancelled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// fakeSource implements SourceClient without any network.
type fakeSource struct {
	mu           sync.Mutex
	subscribeErr error
	subscribes   int
	handler      EventHandler
	subs         []*fakeSubscription

	statuses    map[string]*Status
	accounts    map[string]*Account
	lookupErr   error
	lookupCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		statuses: make(map[string]*Status),
		accounts: make(map[string]*Account),
	}
}

func (f *fakeSource) Subscribe(_ context.Context, h EventHandler) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.handler = h
	sub := &fakeSubscription{}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeSource) Subscribes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

func (f *fakeSource) Status(_ context.Context, statusID string) (*Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupCalls++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	s, ok := f.statuses[statusID]
	if !ok {
		return nil, errors.New("status not found")
	}
	return s, nil
}

func (f *fakeSource) AccountByID(_ context.Context, accountID string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupCalls++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	a, ok := f.accounts[accountID]
	if !ok {
		return nil, errors.New("account not found")
	}
	return a, nil
}

// sentNotice is one captured SendNotice call.
type sentNotice struct {
	Room      id.RoomID
	Plain     string
	Formatted string
}

// fakeRooms implements RoomClient without any network.
type fakeRooms struct {
	mu        sync.Mutex
	joined    []id.RoomID
	joinedErr error
	sendErrs  map[id.RoomID]error
	sent      []sentNotice
	joinCalls []id.RoomID
	joinErr   error
}

func newFakeRooms(rooms ...id.RoomID) *fakeRooms {
	return &fakeRooms{
		joined:   rooms,
		sendErrs: make(map[id.RoomID]error),
	}
}

func (f *fakeRooms) JoinedRooms(context.Context) ([]id.RoomID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinedErr != nil {
		return nil, f.joinedErr
	}
	return append([]id.RoomID(nil), f.joined...), nil
}

func (f *fakeRooms) SendNotice(_ context.Context, room id.RoomID, plain, formatted string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErrs[room]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentNotice{Room: room, Plain: plain, Formatted: formatted})
	return nil
}

func (f *fakeRooms) JoinRoom(_ context.Context, room id.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joinCalls = append(f.joinCalls, room)
	return nil
}

func (f *fakeRooms) Sent() []sentNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentNotice(nil), f.sent...)
}

func (f *fakeRooms) Joins() []id.RoomID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]id.RoomID(nil), f.joinCalls...)
}

// errTemplate always fails at render time.
type errTemplate struct{}

func (errTemplate) Render(...interface{}) (string, error) {
	return "", errors.New("render exploded")
}

// newTestBot wires a bot with fake network clients and a real temp store.
func newTestBot(t *testing.T, cfg AccountConfig, source *fakeSource, rooms *fakeRooms) *Bot {
	t.Helper()
	bot, err := NewBot(cfg, source, rooms, newTestStore(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create bot: %v", err)
	}
	return bot
}
