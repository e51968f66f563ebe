/*
This file defines the Coordinator, which sequences every durable intent:
validate the actor against the durable store, persist, then broadcast the
canonical persisted result. Once an intent is persisted it cannot fail;
broadcasting is best-effort and never rolls anything back.
*/
package rtc

import (
	"context"

	"github.com/rs/zerolog"

	"crewchat/internal/app/store"
	"crewchat/internal/app/user"
	"crewchat/internal/pkg/errs"
	"crewchat/internal/pkg/logx"
)

// Store is the narrow persistence surface the coordinator consumes.
type Store interface {
	MembershipStore
	IdentityStore
	AppendMessage(ctx context.Context, params store.AppendMessageParams) (store.Message, error)
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (store.ReactionResult, error)
	UpsertMembership(ctx context.Context, userID, channelID string) error
	RemoveMembership(ctx context.Context, userID, channelID string) error
	SetUserStatus(ctx context.Context, userID, status string) error
}

// Intent lifecycle states, for structured logging of the persist-then-
// broadcast sequence.
const (
	opReceived     = "received"
	opPersisting   = "persisting"
	opPersisted    = "persisted"
	opBroadcasting = "broadcasting"
	opDone         = "done"
	opFailed       = "failed"
)

// Coordinator owns the persist-first, broadcast-second sequencing of message,
// reaction, membership, and presence changes.
type Coordinator struct {
	store    Store
	engine   *Engine
	index    *Index
	registry *Registry
	typing   *TypingStore
	logger   zerolog.Logger
}

// NewCoordinator constructs a Coordinator over its collaborators.
func NewCoordinator(st Store, engine *Engine, index *Index, registry *Registry, typing *TypingStore) *Coordinator {
	return &Coordinator{
		store:    st,
		engine:   engine,
		index:    index,
		registry: registry,
		typing:   typing,
		logger:   logx.Logger().With().Str("component", "Coordinator").Logger(),
	}
}

// SendMessage persists a message intent and broadcasts the canonical record.
// The membership gate reads the durable store directly; a stale cache is never
// trusted for authorization.
func (co *Coordinator) SendMessage(ctx context.Context, sender user.Profile, p SendMessagePayload) *errs.CustomError {
	log := co.logger.With().
		Str("op", "send_message").
		Str("user_id", sender.ID).
		Str("channel_id", p.ChannelID).
		Logger()
	log.Debug().Str("state", opReceived).Msg("Intent received.")

	if len(p.Content) > MaxContentBytes {
		return errs.NewError(errs.ErrMessageContentTooLong)
	}

	isMember, err := co.store.IsMember(ctx, sender.ID, p.ChannelID)
	if err != nil {
		log.Error().Err(err).Str("state", opFailed).Msg("Membership gate failed.")
		return errs.NewError(errs.ErrPersistenceFailure)
	}
	if !isMember {
		log.Warn().Str("state", opFailed).Msg("Intent rejected: sender is not a channel member.")
		return errs.NewError(errs.ErrForbidden)
	}

	log.Debug().Str("state", opPersisting).Msg("Persisting message.")
	msg, err := co.store.AppendMessage(ctx, store.AppendMessageParams{
		ChannelID: p.ChannelID,
		UserID:    sender.ID,
		Content:   p.Content,
		ReplyTo:   p.ReplyTo,
		Files:     p.Files,
	})
	if err != nil {
		log.Error().Err(err).Str("state", opFailed).Msg("Message persistence failed, no broadcast.")
		return errs.NewError(errs.ErrPersistenceFailure)
	}
	log.Debug().Str("state", opPersisted).Str("message_id", msg.ID).Msg("Message persisted.")

	// Sending a message ends any typing indicator from this user.
	co.typing.ClearTyping(ctx, p.ChannelID, sender)

	files := msg.Files
	if files == nil {
		files = []string{}
	}

	data, err := NewEvent(EventNewMessage, NewMessagePayload{
		ID:        msg.ID,
		ChannelID: msg.ChannelID,
		User:      sender,
		Content:   msg.Content,
		Timestamp: msg.CreatedAt.UnixMilli(),
		Reactions: []store.ReactionCount{},
		Files:     files,
		ReplyTo:   msg.ReplyTo,
	})
	if err != nil {
		// The message is durable; the room just won't hear about it live.
		log.Error().Err(err).Msg("Failed to build new_message event.")
		return nil
	}

	log.Debug().Str("state", opBroadcasting).Msg("Broadcasting canonical message.")
	co.engine.ToRoom(ctx, p.ChannelID, data)
	log.Debug().Str("state", opDone).Msg("Intent complete.")

	return nil
}

// ToggleReaction flips a (message, user, emoji) triple in the durable store,
// which alone decides between add and remove, and broadcasts the refreshed
// aggregate counts.
func (co *Coordinator) ToggleReaction(ctx context.Context, sender user.Profile, p ReactionPayload) *errs.CustomError {
	log := co.logger.With().
		Str("op", "reaction").
		Str("user_id", sender.ID).
		Str("message_id", p.MessageID).
		Logger()
	log.Debug().Str("state", opReceived).Msg("Intent received.")

	isMember, err := co.store.IsMember(ctx, sender.ID, p.ChannelID)
	if err != nil {
		log.Error().Err(err).Str("state", opFailed).Msg("Membership gate failed.")
		return errs.NewError(errs.ErrPersistenceFailure)
	}
	if !isMember {
		log.Warn().Str("state", opFailed).Msg("Intent rejected: sender is not a channel member.")
		return errs.NewError(errs.ErrForbidden)
	}

	log.Debug().Str("state", opPersisting).Msg("Toggling reaction.")
	result, err := co.store.ToggleReaction(ctx, p.MessageID, sender.ID, p.Emoji)
	if err != nil {
		if err == store.ErrNotFound {
			log.Warn().Str("state", opFailed).Msg("Intent rejected: message not found.")
			return errs.NewError(errs.ErrMessageNotFound)
		}
		log.Error().Err(err).Str("state", opFailed).Msg("Reaction persistence failed, no broadcast.")
		return errs.NewError(errs.ErrPersistenceFailure)
	}
	log.Debug().Str("state", opPersisted).Str("action", result.Action).Msg("Reaction toggled.")

	counts := result.Counts
	if counts == nil {
		counts = []store.ReactionCount{}
	}

	data, err := NewEvent(EventReactionUpdate, ReactionUpdatePayload{
		MessageID: p.MessageID,
		ChannelID: p.ChannelID,
		Action:    result.Action,
		Reactions: counts,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to build reaction_update event.")
		return nil
	}

	log.Debug().Str("state", opBroadcasting).Msg("Broadcasting reaction update.")
	co.engine.ToRoom(ctx, p.ChannelID, data)
	log.Debug().Str("state", opDone).Msg("Intent complete.")

	return nil
}

// JoinChannel durably adds the user to the channel and invalidates the cached
// member set, so the next delivery-set resolution sees the change.
func (co *Coordinator) JoinChannel(ctx context.Context, userID, channelID string) *errs.CustomError {
	exists, err := co.store.ChannelExists(ctx, channelID)
	if err != nil {
		co.logger.Error().Err(err).Str("channel_id", channelID).Msg("Channel existence check failed.")
		return errs.NewError(errs.ErrPersistenceFailure)
	}
	if !exists {
		return errs.NewError(errs.ErrChannelNotFound)
	}

	if err := co.store.UpsertMembership(ctx, userID, channelID); err != nil {
		co.logger.Error().Err(err).Str("channel_id", channelID).Msg("Membership upsert failed.")
		return errs.NewError(errs.ErrPersistenceFailure)
	}

	co.index.Invalidate(channelID)
	return nil
}

// LeaveChannel durably removes the user from the channel and invalidates the
// cached member set. Connections still subscribed stop receiving events after
// the next resolution; they are not force-closed.
func (co *Coordinator) LeaveChannel(ctx context.Context, userID, channelID string) *errs.CustomError {
	if err := co.store.RemoveMembership(ctx, userID, channelID); err != nil {
		co.logger.Error().Err(err).Str("channel_id", channelID).Msg("Membership removal failed.")
		return errs.NewError(errs.ErrPersistenceFailure)
	}

	co.index.Invalidate(channelID)
	return nil
}

// SetPresence durably records the derived online/offline status and pushes a
// fresh user_list_update to every live connection. Presence persistence is
// best-effort: the status column is derived state, so a store failure here is
// logged, never surfaced to the client.
func (co *Coordinator) SetPresence(ctx context.Context, p user.Profile, online bool) {
	status := user.StatusOffline
	if online {
		status = user.StatusOnline
	}

	if err := co.store.SetUserStatus(ctx, p.ID, status); err != nil {
		co.logger.Error().Err(err).
			Str("user_id", p.ID).
			Str("status", status).
			Msg("Failed to persist user status.")
	}

	data, err := NewEvent(EventUserListUpdate, co.registry.OnlineUsers())
	if err != nil {
		co.logger.Error().Err(err).Msg("Failed to build user_list_update event.")
		return
	}

	co.engine.ToAll(data)
}
