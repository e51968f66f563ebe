/*
Package rtc contains the real-time presence and broadcast core: the connection
registry, the room membership index, the broadcast engine, the typing store,
and the coordinator that sequences durable writes before fan-out.

This file defines the wire events exchanged with clients over a live
connection. Every frame is a JSON envelope of {type, payload}.
*/
package rtc

import (
	"encoding/json"

	"crewchat/internal/app/store"
	"crewchat/internal/app/user"
)

// EventType identifies the kind of wire event inside an envelope.
type EventType string

// Client -> core events.
const (
	EventJoinChannel  EventType = "join_channel"
	EventLeaveChannel EventType = "leave_channel"
	EventSendMessage  EventType = "send_message"
	EventTyping       EventType = "typing"
	EventReaction     EventType = "reaction"
)

// Core -> client events.
const (
	EventNewMessage     EventType = "new_message"
	EventReactionUpdate EventType = "reaction_update"
	EventUserJoined     EventType = "user_joined"
	EventUserLeft       EventType = "user_left"
	EventUserListUpdate EventType = "user_list_update"
	EventChannelState   EventType = "channel_state"
	EventError          EventType = "error"
)

// Envelope is the inbound frame shape. The payload stays raw until the event
// type is known.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// outboundEnvelope mirrors Envelope for serialization of server-built events.
type outboundEnvelope struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// NewEvent marshals an outbound event into its wire form. Events are encoded
// once and the same bytes are enqueued to every target connection.
func NewEvent(t EventType, payload any) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Type: t, Payload: payload})
}

// JoinChannelPayload asks to start watching a channel.
type JoinChannelPayload struct {
	ChannelID string `json:"channelId"`
}

// LeaveChannelPayload asks to stop watching a channel.
type LeaveChannelPayload struct {
	ChannelID string `json:"channelId"`
}

// SendMessagePayload carries a message intent. The server assigns id and
// timestamp only after the message is durably persisted.
type SendMessagePayload struct {
	ChannelID string   `json:"channelId"`
	Content   string   `json:"content"`
	Files     []string `json:"files,omitempty"`
	ReplyTo   string   `json:"replyTo,omitempty"`
}

// TypingPayload is used both inbound (client reports typing state) and
// outbound (core relays it to the room, with the sender identified).
type TypingPayload struct {
	UserID    string `json:"userId,omitempty"`
	UserName  string `json:"userName,omitempty"`
	ChannelID string `json:"channelId"`
	IsTyping  bool   `json:"isTyping"`
}

// ReactionPayload carries a reaction toggle intent. The client never states
// whether it is adding or removing; the store decides atomically.
type ReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	ChannelID string `json:"channelId"`
}

// NewMessagePayload is the canonical broadcast form of a persisted message.
type NewMessagePayload struct {
	ID        string                `json:"id"`
	ChannelID string                `json:"channelId"`
	User      user.Profile          `json:"user"`
	Content   string                `json:"content"`
	Timestamp int64                 `json:"timestamp"`
	Reactions []store.ReactionCount `json:"reactions"`
	Files     []string              `json:"files"`
	ReplyTo   string                `json:"replyTo,omitempty"`
}

// ReactionUpdatePayload relays the post-persistence aggregate counts for a
// message, never a client-guessed delta.
type ReactionUpdatePayload struct {
	MessageID string                `json:"messageId"`
	ChannelID string                `json:"channelId"`
	Action    string                `json:"action"`
	Reactions []store.ReactionCount `json:"reactions"`
}

// UserEventPayload announces a user starting or stopping to watch a channel.
type UserEventPayload struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	ChannelID string `json:"channelId"`
}

// ChannelStatePayload is the snapshot sent to a connection right after it
// subscribes: who is currently online in the channel and who is typing.
type ChannelStatePayload struct {
	ChannelID string         `json:"channelId"`
	Online    []user.Profile `json:"online"`
	Typing    []string       `json:"typing"`
}

// ErrorPayload is delivered to the originating connection only.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
