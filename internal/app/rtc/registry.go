/*
This file defines the Registry struct, the sole owner of the set of live
connections. It is sharded by user id: handshake and teardown churn on one
user never contends with broadcast lookups for another.
*/
package rtc

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"crewchat/internal/app/user"
	"crewchat/internal/pkg/logx"
)

// registryShardCount fixes the number of lock shards. Power of two so the
// shard index is a cheap mask.
const registryShardCount = 32

type registryShard struct {
	mu    sync.RWMutex
	users map[string]map[string]*Conn // userID -> connID -> conn
}

// Registry owns all live connections, keyed by user identity. A connection id
// appears in at most one user's set: registration keys on the connection's
// owning user, and connection ids are process-unique.
type Registry struct {
	shards [registryShardCount]*registryShard
	logger zerolog.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{
		logger: logx.Logger().With().Str("component", "Registry").Logger(),
	}

	for i := range r.shards {
		r.shards[i] = &registryShard{
			users: make(map[string]map[string]*Conn),
		}
	}

	return r
}

func (r *Registry) shard(userID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return r.shards[h.Sum32()&(registryShardCount-1)]
}

// Register adds the connection under its owning user's set. Idempotent per
// connection id. Returns true if this was the user's first live connection,
// i.e. the user just came online.
func (r *Registry) Register(c *Conn) (wentOnline bool) {
	s := r.shard(c.UserID())

	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.users[c.UserID()]
	if !ok {
		set = make(map[string]*Conn)
		s.users[c.UserID()] = set
	}

	if _, exists := set[c.ID()]; exists {
		return false
	}

	wentOnline = len(set) == 0
	set[c.ID()] = c

	r.logger.Info().
		Str("conn_id", c.ID()).
		Str("user_id", c.UserID()).
		Int("user_connections", len(set)).
		Msg("Connection registered.")

	return wentOnline
}

// Unregister removes the connection. Returns true if it was the user's last
// live connection, the went-offline fact the Coordinator durably persists.
// Unregistering an unknown or already-removed connection is a no-op.
func (r *Registry) Unregister(c *Conn) (wentOffline bool) {
	s := r.shard(c.UserID())

	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.users[c.UserID()]
	if !ok {
		return false
	}

	// Remove only the exact instance registered under this id, so a stale
	// teardown cannot evict a replacement connection.
	if registered, exists := set[c.ID()]; !exists || registered != c {
		return false
	}

	delete(set, c.ID())
	if len(set) == 0 {
		delete(s.users, c.UserID())
		wentOffline = true
	}

	r.logger.Info().
		Str("conn_id", c.ID()).
		Str("user_id", c.UserID()).
		Bool("went_offline", wentOffline).
		Msg("Connection unregistered.")

	return wentOffline
}

// ConnectionsFor returns the user's live connections. An empty slice (user has
// no live sockets) is a valid answer, not an error.
func (r *Registry) ConnectionsFor(userID string) []*Conn {
	s := r.shard(userID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.users[userID]
	conns := make([]*Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	s := r.shard(userID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.users[userID]) > 0
}

// OnlineUsers returns one identity projection per online user, sorted by user
// id for stable user_list_update payloads.
func (r *Registry) OnlineUsers() []user.Profile {
	var online []user.Profile

	for _, s := range r.shards {
		s.mu.RLock()
		for _, set := range s.users {
			for _, c := range set {
				p := c.Profile()
				p.Status = user.StatusOnline
				online = append(online, p)
				break
			}
		}
		s.mu.RUnlock()
	}

	sort.Slice(online, func(i, j int) bool { return online[i].ID < online[j].ID })
	return online
}

// Connections returns every live connection across all users.
func (r *Registry) Connections() []*Conn {
	var conns []*Conn

	for _, s := range r.shards {
		s.mu.RLock()
		for _, set := range s.users {
			for _, c := range set {
				conns = append(conns, c)
			}
		}
		s.mu.RUnlock()
	}

	return conns
}
