/*
This file defines the Hub, which owns connection lifecycle: registering an
authenticated connection, dispatching its inbound events, and tearing it down
exactly once no matter how many paths race to do so.
*/
package rtc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"crewchat/internal/app/user"
	"crewchat/internal/pkg/errs"
	"crewchat/internal/pkg/logx"
)

// eventTimeout bounds the store and cache work done for a single inbound event.
const eventTimeout = 10 * time.Second

// Hub runs the lifecycle of live connections and routes their events to the
// coordinator, index, and typing store.
type Hub struct {
	registry    *Registry
	index       *Index
	engine      *Engine
	typing      *TypingStore
	coordinator *Coordinator
	logger      zerolog.Logger
}

// NewHub constructs a Hub and wires the engine's delivery-failure teardown
// back into it.
func NewHub(registry *Registry, index *Index, engine *Engine, typing *TypingStore, coordinator *Coordinator) *Hub {
	h := &Hub{
		registry:    registry,
		index:       index,
		engine:      engine,
		typing:      typing,
		coordinator: coordinator,
		logger:      logx.Logger().With().Str("component", "Hub").Logger(),
	}

	engine.OnDeliveryFailure(h.Drop)

	return h
}

// Run registers the connection and services it until the peer disconnects.
// It blocks for the lifetime of the connection and guarantees teardown on
// return.
func (h *Hub) Run(c *Conn) {
	wentOnline := h.registry.Register(c)

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	if wentOnline {
		h.coordinator.SetPresence(ctx, c.Profile(), true)
	} else {
		// The roster did not change, but the new connection still needs it.
		if data, err := NewEvent(EventUserListUpdate, h.registry.OnlineUsers()); err == nil {
			h.engine.ToConn(c, data)
		}
	}
	cancel()

	go c.WritePump()

	c.ReadPump(func(data []byte) {
		h.handleEvent(c, data)
	})

	h.Drop(c)
}

// Drop tears the connection down: unsubscribes it everywhere, unregisters it,
// closes its outbound queue, and emits the resulting user_left and presence
// facts. Idempotent: the read pump, a delivery failure, and Shutdown may all
// call it for the same connection.
func (h *Hub) Drop(c *Conn) {
	c.dropOnce.Do(func() {
		rooms := h.index.UnsubscribeAll(c)
		wentOffline := h.registry.Unregister(c)
		c.shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()

		for _, channelID := range rooms {
			if !h.userWatching(c.UserID(), channelID, nil) {
				h.announcePresenceInRoom(ctx, EventUserLeft, c.Profile(), channelID)
			}
		}

		if wentOffline {
			h.coordinator.SetPresence(ctx, c.Profile(), false)
		}

		h.logger.Info().
			Str("conn_id", c.ID()).
			Str("user_id", c.UserID()).
			Bool("went_offline", wentOffline).
			Msg("Connection dropped.")
	})
}

// Shutdown tears down every live connection, as part of graceful server stop.
func (h *Hub) Shutdown() {
	for _, c := range h.registry.Connections() {
		h.Drop(c)
	}
}

// handleEvent decodes one inbound frame and dispatches it. Malformed or
// unsupported frames produce an error event on the originating connection;
// the connection itself stays up.
func (h *Hub) handleEvent(c *Conn, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.sendError(c, errs.NewError(errs.ErrEventPayloadInvalid))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch env.Type {
	case EventJoinChannel:
		var p JoinChannelPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ChannelID == "" {
			h.sendError(c, errs.NewError(errs.ErrEventPayloadInvalid))
			return
		}
		h.handleJoin(ctx, c, p.ChannelID)

	case EventLeaveChannel:
		var p LeaveChannelPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ChannelID == "" {
			h.sendError(c, errs.NewError(errs.ErrEventPayloadInvalid))
			return
		}
		h.handleLeave(ctx, c, p.ChannelID)

	case EventSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ChannelID == "" {
			h.sendError(c, errs.NewError(errs.ErrEventPayloadInvalid))
			return
		}
		if cerr := h.coordinator.SendMessage(ctx, c.Profile(), p); cerr != nil {
			h.sendError(c, cerr)
		}

	case EventTyping:
		var p TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ChannelID == "" {
			h.sendError(c, errs.NewError(errs.ErrEventPayloadInvalid))
			return
		}
		// Identity always comes from the authenticated connection, never
		// from the payload. Indicators only flow to rooms the connection
		// actually watches.
		if !c.InRoom(p.ChannelID) {
			return
		}
		if p.IsTyping {
			h.typing.SetTyping(ctx, p.ChannelID, c.Profile())
		} else {
			h.typing.ClearTyping(ctx, p.ChannelID, c.Profile())
		}

	case EventReaction:
		var p ReactionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.MessageID == "" || p.Emoji == "" {
			h.sendError(c, errs.NewError(errs.ErrEventPayloadInvalid))
			return
		}
		if cerr := h.coordinator.ToggleReaction(ctx, c.Profile(), p); cerr != nil {
			h.sendError(c, cerr)
		}

	default:
		h.logger.Warn().
			Str("conn_id", c.ID()).
			Str("event_type", string(env.Type)).
			Msg("Unsupported event type.")
		h.sendError(c, errs.NewError(errs.ErrEventUnsupported))
	}
}

// handleJoin subscribes the connection to a channel, sends the joiner its
// channel_state snapshot, and announces user_joined to the room when this is
// the user's first watching connection. A rejoin on the same connection counts
// as already watching, so it never re-announces.
func (h *Hub) handleJoin(ctx context.Context, c *Conn, channelID string) {
	alreadyWatching := c.InRoom(channelID) || h.userWatching(c.UserID(), channelID, c)

	if cerr := h.index.Subscribe(ctx, c, channelID); cerr != nil {
		h.sendError(c, cerr)
		return
	}

	h.sendChannelState(ctx, c, channelID)

	if !alreadyWatching {
		h.announcePresenceInRoom(ctx, EventUserJoined, c.Profile(), channelID)
	}
}

// handleLeave unsubscribes the connection from a channel and announces
// user_left when the user has no other connection watching it. Leaving a
// channel the connection never joined is a no-op.
func (h *Hub) handleLeave(ctx context.Context, c *Conn, channelID string) {
	if !c.InRoom(channelID) {
		return
	}

	h.index.Unsubscribe(c, channelID)

	if !h.userWatching(c.UserID(), channelID, nil) {
		h.announcePresenceInRoom(ctx, EventUserLeft, c.Profile(), channelID)
	}
}

// sendChannelState pushes the subscribe-time snapshot to one connection: which
// channel members are currently online, and who is typing right now.
func (h *Hub) sendChannelState(ctx context.Context, c *Conn, channelID string) {
	members, err := h.index.MembersOf(ctx, channelID)
	if err != nil {
		h.logger.Error().Err(err).Str("channel_id", channelID).Msg("Failed to resolve members for channel state.")
		return
	}

	online := make([]user.Profile, 0, len(members))
	for _, userID := range members {
		conns := h.registry.ConnectionsFor(userID)
		if len(conns) == 0 {
			continue
		}
		p := conns[0].Profile()
		p.Status = user.StatusOnline
		online = append(online, p)
	}

	typers := h.typing.ActiveTypers(ctx, channelID)
	if typers == nil {
		typers = []string{}
	}

	data, err := NewEvent(EventChannelState, ChannelStatePayload{
		ChannelID: channelID,
		Online:    online,
		Typing:    typers,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build channel_state event.")
		return
	}

	h.engine.ToConn(c, data)
}

// announcePresenceInRoom broadcasts a user_joined or user_left event to a
// channel's watchers.
func (h *Hub) announcePresenceInRoom(ctx context.Context, t EventType, p user.Profile, channelID string) {
	data, err := NewEvent(t, UserEventPayload{
		UserID:    p.ID,
		UserName:  p.Name,
		ChannelID: channelID,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build room presence event.")
		return
	}

	h.engine.ToRoom(ctx, channelID, data)
}

// userWatching reports whether the user has a live connection (other than
// exclude) currently subscribed to the channel.
func (h *Hub) userWatching(userID, channelID string, exclude *Conn) bool {
	for _, c := range h.registry.ConnectionsFor(userID) {
		if c == exclude {
			continue
		}
		if c.InRoom(channelID) {
			return true
		}
	}
	return false
}

// sendError delivers an error event to the originating connection only.
func (h *Hub) sendError(c *Conn, cerr *errs.CustomError) {
	data, err := NewEvent(EventError, ErrorPayload{
		Code:    cerr.Code,
		Message: cerr.Message,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build error event.")
		return
	}

	h.engine.ToConn(c, data)
}
