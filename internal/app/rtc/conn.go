/*
This file defines the Conn struct, representing one live transport-level socket
owned by exactly one authenticated user. It manages the read/write pumps,
the buffered outbound queue, and the set of channels the connection watches.
*/
package rtc

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"crewchat/internal/app/user"
	"crewchat/internal/pkg/logx"
)

const (
	// timeout duration for writing to the underlying socket.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxMessageSize = 8192

	// MaxContentBytes is the maximum allowed size (in bytes) for message content.
	MaxContentBytes = 5000

	// capacity of the per-connection outbound queue. A peer that falls this far
	// behind is treated as wedged and torn down.
	sendQueueSize = 256
)

// Delivery errors reported by Enqueue. Both trigger teardown of the failing
// connection, never a retry.
var (
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("connection send queue full")
)

// Socket abstracts the transport-level connection so the core can be exercised
// without a network peer. *websocket.Conn satisfies it directly.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Conn represents an active client connection and its associated user.
type Conn struct {
	// id is an opaque, process-unique identifier for this connection.
	id string

	// profile is the identity projection resolved at handshake time.
	profile user.Profile

	// sock is the underlying transport socket.
	sock Socket

	// send is the buffered outbound queue consumed by WritePump.
	send chan []byte

	// sendMu guards closed together with sends into the queue, so the queue
	// is never written after it has been closed.
	sendMu sync.Mutex
	closed bool

	// dropOnce makes connection teardown idempotent across the read pump,
	// delivery failures, and shutdown all racing to tear it down.
	dropOnce sync.Once

	// roomMu guards the set of channel ids this connection watches.
	roomMu sync.RWMutex
	rooms  map[string]struct{}

	createdAt  time.Time
	lastActive atomic.Int64

	logger zerolog.Logger
}

// NewConn constructs a Conn for an authenticated socket.
func NewConn(sock Socket, profile user.Profile) *Conn {
	id := uuid.NewString()

	logger := logx.Logger().With().
		Str("conn_id", id).
		Str("user_id", profile.ID).
		Logger()

	c := &Conn{
		id:        id,
		profile:   profile,
		sock:      sock,
		send:      make(chan []byte, sendQueueSize),
		rooms:     make(map[string]struct{}),
		createdAt: time.Now(),
		logger:    logger,
	}
	c.touch()

	return c
}

// ID returns the opaque connection id.
func (c *Conn) ID() string { return c.id }

// UserID returns the owning user's id.
func (c *Conn) UserID() string { return c.profile.ID }

// Profile returns the identity projection resolved at handshake time.
func (c *Conn) Profile() user.Profile { return c.profile }

// CreatedAt returns the time the connection completed its handshake.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// LastActive returns the time of the last inbound frame or pong.
func (c *Conn) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Conn) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// InRoom reports whether the connection currently watches the channel.
func (c *Conn) InRoom(channelID string) bool {
	c.roomMu.RLock()
	defer c.roomMu.RUnlock()

	_, ok := c.rooms[channelID]
	return ok
}

// Rooms returns the channel ids the connection currently watches.
func (c *Conn) Rooms() []string {
	c.roomMu.RLock()
	defer c.roomMu.RUnlock()

	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

// trackRoom marks the channel as watched. Idempotent.
func (c *Conn) trackRoom(channelID string) {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()

	c.rooms[channelID] = struct{}{}
}

// forgetRoom removes the channel from the watched set. Idempotent.
func (c *Conn) forgetRoom(channelID string) {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()

	delete(c.rooms, channelID)
}

// forgetAllRooms clears the watched set and returns what it contained.
func (c *Conn) forgetAllRooms() []string {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()

	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.rooms = make(map[string]struct{})
	return rooms
}

// Enqueue queues an event for delivery without blocking. A full queue or a
// closed connection is a delivery failure the caller must handle by tearing
// this connection down; siblings are unaffected.
func (c *Conn) Enqueue(data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return ErrConnClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// shutdown marks the connection closed and closes the outbound queue, which
// makes WritePump emit a close frame and release the socket. Safe to call
// multiple times and concurrently with Enqueue.
func (c *Conn) shutdown() {
	c.sendMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.sendMu.Unlock()
}

// ReadPump reads frames from the socket and hands them to the given handler.
// It maintains the pong heartbeat and the idle read deadline, and returns when
// the peer disconnects, errors, or times out. The caller performs teardown.
func (c *Conn) ReadPump(handle func(data []byte)) {
	c.sock.SetReadLimit(maxMessageSize)

	if err := c.sock.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.sock.SetPongHandler(func(string) error {
		c.touch()
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading frame (client close/going away)")
			}
			return
		}

		c.touch()
		handle(data)
	}
}

// WritePump drains the outbound queue to the socket and sends periodic pings.
// Every write carries a bounded deadline so a wedged peer cannot hold the pump.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.sock.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Socket close error in WritePump")
		}
	}()

	for {
		select {
		case data, ok := <-c.send:
			if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to set write deadline")
				return
			}

			if !ok {
				// Queue closed by shutdown: say goodbye and release the socket.
				if err := c.sock.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug().Err(err).Msg("Error writing close frame")
				}
				return
			}

			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn().Err(err).Msg("Error writing frame")
				return
			}

		case <-ticker.C:
			if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
				return
			}

			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn().Err(err).Msg("Error writing ping")
				return
			}
		}
	}
}
