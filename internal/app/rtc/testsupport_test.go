package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"crewchat/internal/app/store"
	"crewchat/internal/app/user"
)

// fakeStore is an in-memory Store with per-operation failure injection and an
// ordered call log, so tests can assert persist-before-broadcast sequencing.
type fakeStore struct {
	mu sync.Mutex

	users    map[string]user.Profile
	channels map[string]bool
	members  map[string]map[string]bool // channelID -> userID -> present
	messages map[string]store.Message
	// messageID -> emoji -> userID -> present
	reactions map[string]map[string]map[string]bool
	statuses  map[string]string

	calls    []string
	failures map[string]error

	nextMessageID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[string]user.Profile),
		channels:  make(map[string]bool),
		members:   make(map[string]map[string]bool),
		messages:  make(map[string]store.Message),
		reactions: make(map[string]map[string]map[string]bool),
		statuses:  make(map[string]string),
		failures:  make(map[string]error),
	}
}

func (f *fakeStore) addUser(p user.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[p.ID] = p
}

func (f *fakeStore) addChannel(channelID string, memberIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.channels[channelID] = true
	set := make(map[string]bool)
	for _, id := range memberIDs {
		set[id] = true
	}
	f.members[channelID] = set
}

func (f *fakeStore) removeMember(channelID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[channelID], userID)
}

func (f *fakeStore) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

func (f *fakeStore) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// record appends the op to the call log and returns the injected failure, if
// any. Callers hold f.mu.
func (f *fakeStore) record(op string) error {
	f.calls = append(f.calls, op)
	return f.failures[op]
}

func (f *fakeStore) GetUserProfile(ctx context.Context, userID string) (user.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("GetUserProfile"); err != nil {
		return user.Profile{}, err
	}

	p, ok := f.users[userID]
	if !ok {
		return user.Profile{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("ChannelExists"); err != nil {
		return false, err
	}
	return f.channels[channelID], nil
}

func (f *fakeStore) IsMember(ctx context.Context, userID, channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("IsMember"); err != nil {
		return false, err
	}
	return f.members[channelID][userID], nil
}

func (f *fakeStore) ChannelMembers(ctx context.Context, channelID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("ChannelMembers"); err != nil {
		return nil, err
	}

	var ids []string
	for id := range f.members[channelID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) AppendMessage(ctx context.Context, params store.AppendMessageParams) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("AppendMessage"); err != nil {
		return store.Message{}, err
	}

	f.nextMessageID++
	msg := store.Message{
		ID:        fmt.Sprintf("msg-%d", f.nextMessageID),
		ChannelID: params.ChannelID,
		UserID:    params.UserID,
		Content:   params.Content,
		ReplyTo:   params.ReplyTo,
		Files:     params.Files,
		CreatedAt: time.Now(),
	}
	f.messages[msg.ID] = msg
	return msg, nil
}

func (f *fakeStore) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (store.ReactionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("ToggleReaction"); err != nil {
		return store.ReactionResult{}, err
	}

	if _, ok := f.messages[messageID]; !ok {
		return store.ReactionResult{}, store.ErrNotFound
	}

	byEmoji, ok := f.reactions[messageID]
	if !ok {
		byEmoji = make(map[string]map[string]bool)
		f.reactions[messageID] = byEmoji
	}
	byUser, ok := byEmoji[emoji]
	if !ok {
		byUser = make(map[string]bool)
		byEmoji[emoji] = byUser
	}

	result := store.ReactionResult{}
	if byUser[userID] {
		delete(byUser, userID)
		result.Action = store.ReactionRemoved
	} else {
		byUser[userID] = true
		result.Action = store.ReactionAdded
	}

	var emojis []string
	for e, users := range byEmoji {
		if len(users) > 0 {
			emojis = append(emojis, e)
		}
	}
	sort.Strings(emojis)
	for _, e := range emojis {
		result.Counts = append(result.Counts, store.ReactionCount{Emoji: e, Count: len(byEmoji[e])})
	}

	return result, nil
}

func (f *fakeStore) UpsertMembership(ctx context.Context, userID, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("UpsertMembership"); err != nil {
		return err
	}

	set, ok := f.members[channelID]
	if !ok {
		set = make(map[string]bool)
		f.members[channelID] = set
	}
	set[userID] = true
	return nil
}

func (f *fakeStore) RemoveMembership(ctx context.Context, userID, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("RemoveMembership"); err != nil {
		return err
	}

	delete(f.members[channelID], userID)
	return nil
}

func (f *fakeStore) SetUserStatus(ctx context.Context, userID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("SetUserStatus"); err != nil {
		return err
	}

	f.statuses[userID] = status
	return nil
}

// fakeCache is an in-memory Cache with a controllable clock, so TTL expiry can
// be tested without sleeping.
type fakeCache struct {
	mu  sync.Mutex
	now time.Time

	entries map[string]fakeCacheEntry

	setErr  error
	getErr  error
	delErr  error
	keysErr error
}

type fakeCacheEntry struct {
	value     string
	expiresAt time.Time
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		now:     time.Now(),
		entries: make(map[string]fakeCacheEntry),
	}
}

func (f *fakeCache) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.setErr != nil {
		return f.setErr
	}
	f.entries[key] = fakeCacheEntry{value: value, expiresAt: f.now.Add(ttl)}
	return nil
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return "", false, f.getErr
	}

	entry, ok := f.entries[key]
	if !ok || !entry.expiresAt.After(f.now) {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (f *fakeCache) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.delErr != nil {
		return f.delErr
	}
	delete(f.entries, key)
	return nil
}

func (f *fakeCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.keysErr != nil {
		return nil, f.keysErr
	}

	var keys []string
	for key, entry := range f.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix && entry.expiresAt.After(f.now) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// fakeSocket is a scriptable Socket. Inbound frames are fed through a channel;
// outbound text frames are recorded. Close unblocks any pending read.
type fakeSocket struct {
	mu      sync.Mutex
	inbound chan []byte
	written [][]byte

	closeOnce sync.Once
	closeCh   chan struct{}
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound: make(chan []byte, 16),
		closeCh: make(chan struct{}),
	}
}

func (f *fakeSocket) feed(data []byte) {
	f.inbound <- data
}

func (f *fakeSocket) writtenFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.written...)
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return websocket.TextMessage, data, nil
	case <-f.closeCh:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closeCh:
		return errors.New("use of closed connection")
	default:
	}

	if messageType == websocket.TextMessage {
		f.mu.Lock()
		f.written = append(f.written, data)
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeSocket) SetReadLimit(limit int64) {}
func (f *fakeSocket) SetReadDeadline(t time.Time) error { return nil }
func (f *fakeSocket) SetWriteDeadline(t time.Time) error { return nil }
func (f *fakeSocket) SetPongHandler(h func(string) error) {}

func (f *fakeSocket) Close() error {
	f.closeOnce.Do(func() { close(f.closeCh) })
	return nil
}

// testRig wires a full realtime core over the fakes.
type testRig struct {
	store       *fakeStore
	cache       *fakeCache
	registry    *Registry
	index       *Index
	engine      *Engine
	typing      *TypingStore
	coordinator *Coordinator
	hub         *Hub
}

func newTestRig() *testRig {
	st := newFakeStore()
	ca := newFakeCache()
	registry := NewRegistry()
	index := NewIndex(st)
	engine := NewEngine(registry, index)
	typing := NewTypingStore(ca, engine)
	coordinator := NewCoordinator(st, engine, index, registry, typing)
	hub := NewHub(registry, index, engine, typing, coordinator)

	return &testRig{
		store:       st,
		cache:       ca,
		registry:    registry,
		index:       index,
		engine:      engine,
		typing:      typing,
		coordinator: coordinator,
		hub:         hub,
	}
}

// connect registers an authenticated connection and subscribes it to the given
// channels, bypassing the wire protocol.
func (r *testRig) connect(t *testing.T, p user.Profile, channels ...string) *Conn {
	t.Helper()

	c := NewConn(newFakeSocket(), p)
	r.registry.Register(c)

	for _, channelID := range channels {
		cerr := r.index.Subscribe(context.Background(), c, channelID)
		require.Nil(t, cerr)
	}

	return c
}

// drain empties the connection's outbound queue and decodes the frames.
func drain(t *testing.T, c *Conn) []Envelope {
	t.Helper()

	var events []Envelope
	for {
		select {
		case data := <-c.send:
			var env Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			events = append(events, env)
		default:
			return events
		}
	}
}

// eventsOfType filters a decoded frame list by event type.
func eventsOfType(events []Envelope, t EventType) []Envelope {
	var out []Envelope
	for _, e := range events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func frame(t *testing.T, eventType EventType, payload any) []byte {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	data, err := json.Marshal(Envelope{Type: eventType, Payload: raw})
	require.NoError(t, err)
	return data
}
