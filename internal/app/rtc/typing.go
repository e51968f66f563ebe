/*
This file defines the TypingStore, holding who-is-typing-where state in the
ephemeral cache collaborator. The state is advisory: it may be lost at any
time, and a failing cache degrades to "no indicators shown", never stale ones.
*/
package rtc

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crewchat/internal/app/user"
	"crewchat/internal/pkg/logx"
)

// TypingTTL bounds how long a typing indicator stays alive without renewal.
// An entry older than this is absent even if not yet evicted.
const TypingTTL = 5 * time.Second

const typingKeyPrefix = "typing:"

// Cache is the ephemeral key/value surface backing typing indicators.
type Cache interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// TypingStore records and relays short-lived typing indicators.
type TypingStore struct {
	cache  Cache
	engine *Engine
	logger zerolog.Logger
}

// NewTypingStore constructs a TypingStore over the given cache and engine.
func NewTypingStore(cache Cache, engine *Engine) *TypingStore {
	return &TypingStore{
		cache:  cache,
		engine: engine,
		logger: logx.Logger().With().Str("component", "TypingStore").Logger(),
	}
}

func typingKey(channelID, userID string) string {
	return typingKeyPrefix + channelID + ":" + userID
}

// SetTyping records that the user is typing in the channel and broadcasts the
// indicator to the room. The cache entry expires on its own after TypingTTL;
// no explicit clear is required. If the cache write fails the broadcast is
// skipped entirely, so no indicator can outlive its expiry authority.
func (t *TypingStore) SetTyping(ctx context.Context, channelID string, who user.Profile) {
	if err := t.cache.Set(ctx, typingKey(channelID, who.ID), "1", TypingTTL); err != nil {
		t.logger.Warn().Err(err).Str("channel_id", channelID).Msg("Typing cache write failed, indicator suppressed.")
		return
	}

	t.broadcast(ctx, channelID, who, true)
}

// ClearTyping removes the indicator immediately and broadcasts typing=false.
// Called on explicit clears and on message send. A cache failure here is
// logged and the clear broadcast still goes out: telling the room someone
// stopped typing is always safe.
func (t *TypingStore) ClearTyping(ctx context.Context, channelID string, who user.Profile) {
	if err := t.cache.Del(ctx, typingKey(channelID, who.ID)); err != nil {
		t.logger.Warn().Err(err).Str("channel_id", channelID).Msg("Typing cache delete failed.")
	}

	t.broadcast(ctx, channelID, who, false)
}

// ActiveTypers returns the user ids with a live typing indicator in the
// channel, for subscribe-time snapshots. Degrades to none on cache failure.
func (t *TypingStore) ActiveTypers(ctx context.Context, channelID string) []string {
	prefix := typingKeyPrefix + channelID + ":"

	keys, err := t.cache.Keys(ctx, prefix)
	if err != nil {
		t.logger.Warn().Err(err).Str("channel_id", channelID).Msg("Typing cache scan failed, reporting no typers.")
		return nil
	}

	typers := make([]string, 0, len(keys))
	for _, key := range keys {
		typers = append(typers, strings.TrimPrefix(key, prefix))
	}
	return typers
}

func (t *TypingStore) broadcast(ctx context.Context, channelID string, who user.Profile, isTyping bool) {
	data, err := NewEvent(EventTyping, TypingPayload{
		UserID:    who.ID,
		UserName:  who.Name,
		ChannelID: channelID,
		IsTyping:  isTyping,
	})
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to build typing event.")
		return
	}

	t.engine.ToRoom(ctx, channelID, data)
}
