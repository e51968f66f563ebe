package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewchat/internal/app/rtc"
	"crewchat/internal/app/store"
	"crewchat/internal/app/user"
	"crewchat/internal/configs"
	"crewchat/internal/pkg/auth/jwt"
	"crewchat/internal/pkg/errs"
	"crewchat/internal/pkg/resp"
)

const testSecret = "router-test-secret"

// memStore is a minimal in-memory rtc.Store for exercising the HTTP surface.
type memStore struct {
	mu       sync.Mutex
	users    map[string]user.Profile
	channels map[string]map[string]bool
	statuses map[string]string
	nextID   int
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]user.Profile),
		channels: make(map[string]map[string]bool),
		statuses: make(map[string]string),
	}
}

func (m *memStore) GetUserProfile(ctx context.Context, userID string) (user.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.users[userID]
	if !ok {
		return user.Profile{}, store.ErrNotFound
	}
	return p, nil
}

func (m *memStore) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.channels[channelID]
	return ok, nil
}

func (m *memStore) IsMember(ctx context.Context, userID, channelID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[channelID][userID], nil
}

func (m *memStore) ChannelMembers(ctx context.Context, channelID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id := range m.channels[channelID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore) AppendMessage(ctx context.Context, params store.AppendMessageParams) (store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	return store.Message{
		ID:        "m1",
		ChannelID: params.ChannelID,
		UserID:    params.UserID,
		Content:   params.Content,
		CreatedAt: time.Now(),
	}, nil
}

func (m *memStore) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (store.ReactionResult, error) {
	return store.ReactionResult{Action: store.ReactionAdded}, nil
}

func (m *memStore) UpsertMembership(ctx context.Context, userID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.channels[channelID]
	if !ok {
		set = make(map[string]bool)
		m.channels[channelID] = set
	}
	set[userID] = true
	return nil
}

func (m *memStore) RemoveMembership(ctx context.Context, userID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels[channelID], userID)
	return nil
}

func (m *memStore) SetUserStatus(ctx context.Context, userID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[userID] = status
	return nil
}

// noCache satisfies rtc.Cache with a permanently empty, error-free cache.
type noCache struct{}

func (noCache) Set(ctx context.Context, key, value string, ttl time.Duration) error { return nil }
func (noCache) Get(ctx context.Context, key string) (string, bool, error)           { return "", false, nil }
func (noCache) Del(ctx context.Context, key string) error                           { return nil }
func (noCache) Keys(ctx context.Context, prefix string) ([]string, error)           { return nil, nil }

func newTestServer(t *testing.T, st *memStore) *httptest.Server {
	t.Helper()

	cfg := &configs.AppConfig{
		Environment:    "development",
		Port:           8080,
		AllowedOrigins: []string{},
		JWTSecret:      testSecret,
	}

	registry := rtc.NewRegistry()
	index := rtc.NewIndex(st)
	engine := rtc.NewEngine(registry, index)
	typing := rtc.NewTypingStore(noCache{}, engine)
	coordinator := rtc.NewCoordinator(st, engine, index, registry, typing)
	hub := rtc.NewHub(registry, index, engine, typing, coordinator)

	deps := &AppDeps{
		Config:      cfg,
		Auth:        rtc.NewAuthenticator(testSecret, st),
		Hub:         hub,
		Coordinator: coordinator,
	}

	srv := httptest.NewServer(NewRouter(deps))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Shutdown)
	return srv
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()

	token, err := jwt.GenerateToken(userID, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func decodeResponse(t *testing.T, res *http.Response) resp.JSONResponse {
	t.Helper()
	defer res.Body.Close()

	var body resp.JSONResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, newMemStore())

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Zero(t, decodeResponse(t, res).Code)
}

func TestChannelJoinRequiresAuth(t *testing.T) {
	srv := newTestServer(t, newMemStore())

	res, err := http.Post(srv.URL+"/api/channels/join", "application/json", strings.NewReader(`{"channelId":"general"}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, errs.ErrUnauthorized, decodeResponse(t, res).Code)
}

func TestChannelJoinAndLeave(t *testing.T) {
	st := newMemStore()
	st.users["u1"] = user.Profile{ID: "u1", Name: "Alice"}
	require.NoError(t, st.UpsertMembership(context.Background(), "founder", "general"))

	srv := newTestServer(t, st)
	token := tokenFor(t, "u1")

	join := func(path string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(`{"channelId":"general"}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return res
	}

	res := join("/api/channels/join")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Zero(t, decodeResponse(t, res).Code)

	isMember, err := st.IsMember(context.Background(), "u1", "general")
	require.NoError(t, err)
	assert.True(t, isMember)

	res = join("/api/channels/leave")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Zero(t, decodeResponse(t, res).Code)

	isMember, err = st.IsMember(context.Background(), "u1", "general")
	require.NoError(t, err)
	assert.False(t, isMember)
}

func TestChannelJoinUnknownChannel(t *testing.T) {
	st := newMemStore()
	st.users["u1"] = user.Profile{ID: "u1"}

	srv := newTestServer(t, st)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/channels/join", strings.NewReader(`{"channelId":"nope"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "u1"))

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	assert.Equal(t, errs.ErrChannelNotFound, decodeResponse(t, res).Code)
}

func TestWebsocketRejectsMissingToken(t *testing.T) {
	srv := newTestServer(t, newMemStore())

	res, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, errs.ErrAuthMissing, decodeResponse(t, res).Code)
}

func TestWebsocketRejectsUnknownSubject(t *testing.T) {
	srv := newTestServer(t, newMemStore())

	res, err := http.Get(srv.URL + "/ws?token=" + tokenFor(t, "ghost"))
	require.NoError(t, err)

	assert.Equal(t, errs.ErrAuthUnknownSubject, decodeResponse(t, res).Code)
}

func TestWebsocketSessionEndToEnd(t *testing.T) {
	st := newMemStore()
	st.users["u1"] = user.Profile{ID: "u1", Name: "Alice"}
	require.NoError(t, st.UpsertMembership(context.Background(), "u1", "general"))

	srv := newTestServer(t, st)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + tokenFor(t, "u1")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readEvent := func() (string, json.RawMessage) {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

		var env struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &env))
		return env.Type, env.Payload
	}

	// The fresh connection gets the online roster first.
	eventType, _ := readEvent()
	assert.Equal(t, "user_list_update", eventType)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "join_channel",
		"payload": map[string]string{"channelId": "general"},
	}))

	eventType, _ = readEvent()
	assert.Equal(t, "channel_state", eventType)

	// The joiner is also in the room, so it hears its own arrival.
	eventType, _ = readEvent()
	assert.Equal(t, "user_joined", eventType)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "send_message",
		"payload": map[string]string{"channelId": "general", "content": "hello"},
	}))

	// Sending clears the sender's typing indicator before the message lands.
	eventType, _ = readEvent()
	assert.Equal(t, "typing", eventType)

	eventType, payload := readEvent()
	require.Equal(t, "new_message", eventType)

	var msg struct {
		ID      string `json:"id"`
		Content string `json:"content"`
		User    struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "u1", msg.User.ID)
}
