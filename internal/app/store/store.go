/*
Package store implements the durable-store collaborator for the realtime core.

It owns the narrow persistence surface the core is allowed to touch: identity
lookup, channel membership, message append, reaction toggling, and user status.
All reads and writes go through a pgx connection pool; schema management is done
with embedded goose migrations.
*/
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crewchat/internal/app/user"
)

// Reaction toggle actions, broadcast verbatim in reaction_update events.
const (
	ReactionAdded   = "added"
	ReactionRemoved = "removed"
)

// Message is the canonical, persisted form of a chat message. Identity is the
// store-assigned id; a message without one has not been sent.
type Message struct {
	ID        string
	ChannelID string
	UserID    string
	Content   string
	ReplyTo   string
	Files     []string
	CreatedAt time.Time
}

// AppendMessageParams carries the client intent for a message append. The id
// and timestamp are assigned by the store, never by the client.
type AppendMessageParams struct {
	ChannelID string
	UserID    string
	Content   string
	ReplyTo   string
	Files     []string
}

// ReactionCount is one row of the aggregate reaction view for a message.
type ReactionCount struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// ReactionResult reports the outcome of an atomic reaction toggle: which way
// the toggle went, plus the refreshed aggregate counts re-read from the store.
type ReactionResult struct {
	Action string
	Counts []ReactionCount
}

// Queries provides typed access to the durable store over a pgx pool.
type Queries struct {
	pool *pgxpool.Pool
}

// New returns a Queries instance bound to the given connection pool.
func New(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

// GetUserProfile resolves the identity projection for a user id.
// Returns ErrNotFound if the user does not exist (e.g., deleted account).
func (q *Queries) GetUserProfile(ctx context.Context, userID string) (user.Profile, error) {
	var p user.Profile

	row := q.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(avatar, ''), status FROM users WHERE id = $1`,
		userID,
	)

	if err := row.Scan(&p.ID, &p.Name, &p.Avatar, &p.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.Profile{}, ErrNotFound
		}
		return user.Profile{}, fmt.Errorf("get user profile: %w", err)
	}

	return p, nil
}

// ChannelExists reports whether the channel id refers to an existing channel.
func (q *Queries) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	var exists bool

	err := q.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM channels WHERE id = $1)`,
		channelID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("channel exists: %w", err)
	}

	return exists, nil
}

// IsMember performs the authoritative, always-fresh membership check used at
// privilege boundaries (subscribe and persistence gating).
func (q *Queries) IsMember(ctx context.Context, userID, channelID string) (bool, error) {
	var isMember bool

	err := q.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM channel_members WHERE channel_id = $1 AND user_id = $2
		)`,
		channelID, userID,
	).Scan(&isMember)
	if err != nil {
		return false, fmt.Errorf("is member: %w", err)
	}

	return isMember, nil
}

// ChannelMembers returns the user ids of every member of the channel. The
// membership index caches this result for delivery-set resolution.
func (q *Queries) ChannelMembers(ctx context.Context, channelID string) ([]string, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT user_id FROM channel_members WHERE channel_id = $1`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("channel members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("channel members scan: %w", err)
		}
		members = append(members, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("channel members rows: %w", err)
	}

	return members, nil
}

// AppendMessage durably persists a message and returns the canonical record,
// including the server-assigned id and timestamp.
func (q *Queries) AppendMessage(ctx context.Context, params AppendMessageParams) (Message, error) {
	msg := Message{
		ChannelID: params.ChannelID,
		UserID:    params.UserID,
		Content:   params.Content,
		ReplyTo:   params.ReplyTo,
		Files:     params.Files,
	}

	var replyTo *string
	if params.ReplyTo != "" {
		replyTo = &params.ReplyTo
	}

	row := q.pool.QueryRow(ctx,
		`INSERT INTO messages (channel_id, user_id, content, reply_to, files)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		params.ChannelID, params.UserID, params.Content, replyTo, params.Files,
	)

	if err := row.Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}

	return msg, nil
}

// ToggleReaction atomically flips the (message, user, emoji) triple and re-reads
// the aggregate counts inside the same transaction. The caller never computes
// the add/remove decision itself; concurrent duplicate toggles serialize here.
func (q *Queries) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (ReactionResult, error) {
	var result ReactionResult

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return ReactionResult{}, fmt.Errorf("toggle reaction begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`,
		messageID,
	).Scan(&exists)
	if err != nil {
		return ReactionResult{}, fmt.Errorf("toggle reaction lookup: %w", err)
	}
	if !exists {
		return ReactionResult{}, ErrNotFound
	}

	var inserted string
	err = tx.QueryRow(ctx,
		`INSERT INTO reactions (message_id, user_id, emoji)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (message_id, user_id, emoji) DO NOTHING
		 RETURNING emoji`,
		messageID, userID, emoji,
	).Scan(&inserted)

	switch {
	case err == nil:
		result.Action = ReactionAdded
	case errors.Is(err, pgx.ErrNoRows):
		// Triple already present: this toggle removes it.
		if _, err := tx.Exec(ctx,
			`DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
			messageID, userID, emoji,
		); err != nil {
			return ReactionResult{}, fmt.Errorf("toggle reaction delete: %w", err)
		}
		result.Action = ReactionRemoved
	default:
		return ReactionResult{}, fmt.Errorf("toggle reaction insert: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT emoji, COUNT(*) FROM reactions WHERE message_id = $1 GROUP BY emoji ORDER BY emoji`,
		messageID,
	)
	if err != nil {
		return ReactionResult{}, fmt.Errorf("toggle reaction counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rc ReactionCount
		if err := rows.Scan(&rc.Emoji, &rc.Count); err != nil {
			return ReactionResult{}, fmt.Errorf("toggle reaction counts scan: %w", err)
		}
		result.Counts = append(result.Counts, rc)
	}
	if err := rows.Err(); err != nil {
		return ReactionResult{}, fmt.Errorf("toggle reaction counts rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ReactionResult{}, fmt.Errorf("toggle reaction commit: %w", err)
	}

	return result, nil
}

// UpsertMembership durably adds the user to the channel. Idempotent.
func (q *Queries) UpsertMembership(ctx context.Context, userID, channelID string) error {
	_, err := q.pool.Exec(ctx,
		`INSERT INTO channel_members (channel_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT (channel_id, user_id) DO NOTHING`,
		channelID, userID,
	)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

// RemoveMembership durably removes the user from the channel. Idempotent.
func (q *Queries) RemoveMembership(ctx context.Context, userID, channelID string) error {
	_, err := q.pool.Exec(ctx,
		`DELETE FROM channel_members WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}
	return nil
}

// SetUserStatus persists the derived presence status for a user.
func (q *Queries) SetUserStatus(ctx context.Context, userID, status string) error {
	_, err := q.pool.Exec(ctx,
		`UPDATE users SET status = $2 WHERE id = $1`,
		userID, status,
	)
	if err != nil {
		return fmt.Errorf("set user status: %w", err)
	}
	return nil
}
