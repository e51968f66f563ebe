/*
This file defines the Index struct, which maps channel ids to the set of user
ids permitted to receive events for that channel. Authorization checks read
the durable store directly; the cached member sets are used only to resolve
delivery sets, where seconds of staleness are tolerated.
*/
package rtc

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"crewchat/internal/pkg/errs"
	"crewchat/internal/pkg/logx"
)

// MembershipStore is the slice of the durable store the index consumes.
type MembershipStore interface {
	ChannelExists(ctx context.Context, channelID string) (bool, error)
	IsMember(ctx context.Context, userID, channelID string) (bool, error)
	ChannelMembers(ctx context.Context, channelID string) ([]string, error)
}

// Index caches durable channel membership for delivery-set resolution and
// gates subscriptions with always-fresh store checks.
type Index struct {
	store MembershipStore

	mu      sync.RWMutex
	members map[string]map[string]struct{} // channelID -> set of userIDs

	logger zerolog.Logger
}

// NewIndex constructs an Index over the given membership store.
func NewIndex(store MembershipStore) *Index {
	return &Index{
		store:   store,
		members: make(map[string]map[string]struct{}),
		logger:  logx.Logger().With().Str("component", "Index").Logger(),
	}
}

// Subscribe validates that the connection's user is a current member of the
// channel, reading the durable store directly rather than the cache, and marks
// the connection as watching it. Idempotent: subscribing twice yields the
// same state as subscribing once.
func (ix *Index) Subscribe(ctx context.Context, c *Conn, channelID string) *errs.CustomError {
	exists, err := ix.store.ChannelExists(ctx, channelID)
	if err != nil {
		ix.logger.Error().Err(err).Str("channel_id", channelID).Msg("Channel existence check failed.")
		return errs.NewError(errs.ErrPersistenceFailure)
	}
	if !exists {
		return errs.NewError(errs.ErrChannelNotFound)
	}

	isMember, err := ix.store.IsMember(ctx, c.UserID(), channelID)
	if err != nil {
		ix.logger.Error().Err(err).Str("channel_id", channelID).Msg("Membership check failed.")
		return errs.NewError(errs.ErrPersistenceFailure)
	}
	if !isMember {
		ix.logger.Warn().
			Str("user_id", c.UserID()).
			Str("channel_id", channelID).
			Msg("Subscribe rejected: not a channel member.")
		return errs.NewError(errs.ErrForbidden)
	}

	if err := ix.refresh(ctx, channelID); err != nil {
		return errs.NewError(errs.ErrPersistenceFailure)
	}

	c.trackRoom(channelID)

	ix.logger.Info().
		Str("conn_id", c.ID()).
		Str("user_id", c.UserID()).
		Str("channel_id", channelID).
		Msg("Connection subscribed to channel.")

	return nil
}

// Unsubscribe stops the connection from watching the channel. Idempotent.
func (ix *Index) Unsubscribe(c *Conn, channelID string) {
	c.forgetRoom(channelID)
}

// UnsubscribeAll removes the connection from every channel it watches, as part
// of connection teardown, and returns the channels it was watching.
func (ix *Index) UnsubscribeAll(c *Conn) []string {
	return c.forgetAllRooms()
}

// MembersOf resolves the delivery set for a channel from the cache,
// read-through on a miss. The result may lag explicit join/leave operations
// by up to one Invalidate; it is never used for authorization.
func (ix *Index) MembersOf(ctx context.Context, channelID string) ([]string, error) {
	ix.mu.RLock()
	set, ok := ix.members[channelID]
	if ok {
		members := make([]string, 0, len(set))
		for id := range set {
			members = append(members, id)
		}
		ix.mu.RUnlock()
		return members, nil
	}
	ix.mu.RUnlock()

	if err := ix.refresh(ctx, channelID); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	members := make([]string, 0, len(ix.members[channelID]))
	for id := range ix.members[channelID] {
		members = append(members, id)
	}
	return members, nil
}

// Invalidate drops the cached member set for a channel. Called whenever an
// explicit join/leave operation is processed, so the next MembersOf re-reads
// the durable store.
func (ix *Index) Invalidate(channelID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	delete(ix.members, channelID)
}

// refresh replaces the cached member set with the durable store's view.
func (ix *Index) refresh(ctx context.Context, channelID string) error {
	members, err := ix.store.ChannelMembers(ctx, channelID)
	if err != nil {
		ix.logger.Error().Err(err).Str("channel_id", channelID).Msg("Member set refresh failed.")
		return err
	}

	set := make(map[string]struct{}, len(members))
	for _, id := range members {
		set[id] = struct{}{}
	}

	ix.mu.Lock()
	ix.members[channelID] = set
	ix.mu.Unlock()

	return nil
}
