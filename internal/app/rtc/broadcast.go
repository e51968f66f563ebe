/*
This file defines the Engine struct, which fans a single event out to every
live connection entitled to receive it. Delivery to one connection is
independent of delivery to any other: a slow or dead peer is torn down and
the loop moves on.
*/
package rtc

import (
	"context"

	"github.com/rs/zerolog"

	"crewchat/internal/pkg/logx"
)

// Engine resolves delivery sets and enqueues events onto connections.
// It is a fan-out, not a queue: nothing is retained for absent clients,
// who replay history through the REST layer on reconnect.
type Engine struct {
	registry *Registry
	index    *Index

	// teardown is invoked (on its own goroutine) for a connection whose
	// delivery failed. Wired to Hub.Drop at construction time.
	teardown func(*Conn)

	logger zerolog.Logger
}

// NewEngine constructs a broadcast engine over the given registry and index.
func NewEngine(registry *Registry, index *Index) *Engine {
	return &Engine{
		registry: registry,
		index:    index,
		logger:   logx.Logger().With().Str("component", "Engine").Logger(),
	}
}

// OnDeliveryFailure sets the teardown hook invoked for connections whose
// delivery failed.
func (e *Engine) OnDeliveryFailure(fn func(*Conn)) {
	e.teardown = fn
}

// ToRoom delivers the event to every connection currently subscribed to the
// channel. Events from a single coordinator operation are enqueued in emission
// order on the caller's goroutine, so per-connection order follows emission
// order within a channel. Returns the number of successful deliveries; zero
// deliveries (nobody watching) is success, not an error.
func (e *Engine) ToRoom(ctx context.Context, channelID string, data []byte) int {
	members, err := e.index.MembersOf(ctx, channelID)
	if err != nil {
		e.logger.Error().Err(err).Str("channel_id", channelID).Msg("Delivery set resolution failed, dropping broadcast.")
		return 0
	}

	delivered := 0
	for _, userID := range members {
		for _, c := range e.registry.ConnectionsFor(userID) {
			if !c.InRoom(channelID) {
				continue
			}
			if e.deliver(c, data) {
				delivered++
			}
		}
	}

	return delivered
}

// ToAll delivers the event to every live connection, regardless of channel
// subscriptions. Used for presence snapshots.
func (e *Engine) ToAll(data []byte) int {
	delivered := 0
	for _, c := range e.registry.Connections() {
		if e.deliver(c, data) {
			delivered++
		}
	}
	return delivered
}

// ToConn delivers the event to a single connection (e.g. error events, which
// go to the originator only).
func (e *Engine) ToConn(c *Conn, data []byte) {
	e.deliver(c, data)
}

// deliver enqueues onto one connection. A failure tears that connection down
// and is invisible to every sibling delivery.
func (e *Engine) deliver(c *Conn, data []byte) bool {
	if err := c.Enqueue(data); err != nil {
		e.logger.Warn().
			Err(err).
			Str("conn_id", c.ID()).
			Str("user_id", c.UserID()).
			Msg("Delivery failed, tearing down connection.")

		if e.teardown != nil {
			go e.teardown(c)
		}
		return false
	}
	return true
}
