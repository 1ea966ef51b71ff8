package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"tribechat/internal/apperrors"
)

// Repository is the message store: the durable source of truth the live
// transport is reconciled against.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const messageColumns = `m.id, m.tribe_id, m.sender_id, u.username, m.content,
	m.mentions, m.reactions, m.edited, m.edited_at, m.reply_to, m.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m         Message
		mentions  []byte
		reactions []byte
		editedAt  sql.NullTime
		replyTo   uuid.NullUUID
	)
	err := row.Scan(&m.ID, &m.TribeID, &m.SenderID, &m.SenderName, &m.Content,
		&mentions, &reactions, &m.Edited, &editedAt, &replyTo, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(mentions, &m.Mentions); err != nil {
		return nil, fmt.Errorf("decode mentions: %w", err)
	}
	if err := json.Unmarshal(reactions, &m.Reactions); err != nil {
		return nil, fmt.Errorf("decode reactions: %w", err)
	}
	if editedAt.Valid {
		t := editedAt.Time
		m.EditedAt = &t
	}
	if replyTo.Valid {
		id := replyTo.UUID
		m.ReplyTo = &id
	}
	return &m, nil
}

// Save appends a message to the tribe's history. The store assigns id and
// created_at; both come back on the returned record.
func (r *Repository) Save(ctx context.Context, tribeID, senderID int, content string, mentions []string, replyTo *uuid.UUID) (*Message, error) {
	if mentions == nil {
		mentions = []string{}
	}
	mentionsJSON, err := json.Marshal(mentions)
	if err != nil {
		return nil, err
	}

	var replyToArg any
	if replyTo != nil {
		replyToArg = *replyTo
	}

	query := `
		WITH inserted AS (
			INSERT INTO messages (tribe_id, sender_id, content, mentions, reply_to)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING *
		)
		SELECT ` + messageColumns + `
		FROM inserted m
		JOIN users u ON m.sender_id = u.id
	`
	msg, err := scanMessage(r.db.QueryRowContext(ctx, query,
		tribeID, senderID, content, mentionsJSON, replyToArg))
	if err != nil {
		return nil, storeErr(err)
	}
	return msg, nil
}

// Fetch returns up to limit messages with created_at strictly before the
// cursor (or the latest ones when the cursor is nil), in ascending order for
// display. Supplying the oldest returned created_at as the next cursor pages
// backward through history.
func (r *Repository) Fetch(ctx context.Context, tribeID, limit int, before *time.Time) ([]Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.tribe_id = $1
		  AND ($2::timestamptz IS NULL OR m.created_at < $2)
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3
	`
	var beforeArg any
	if before != nil {
		beforeArg = *before
	}
	rows, err := r.db.QueryContext(ctx, query, tribeID, beforeArg, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}

	// Newest-first from the index, oldest-first for the caller.
	return lo.Reverse(messages), nil
}

// ToggleReaction flips the (user, emoji) entry on a message's reaction set:
// present → removed, absent → appended. The whole flip is one conditional
// UPDATE so two interleaved toggles can never lose each other's writes.
func (r *Repository) ToggleReaction(ctx context.Context, tribeID int, messageID uuid.UUID, userID int, userName, emoji string) (*Message, error) {
	// Containment probe matches on (user_id, emoji) only; the stored entry
	// also carries user_name.
	probe, err := json.Marshal([]map[string]any{{"user_id": userID, "emoji": emoji}})
	if err != nil {
		return nil, err
	}
	entry, err := json.Marshal([]Reaction{{Emoji: emoji, UserID: userID, UserName: userName}})
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE messages m
		SET reactions = CASE
			WHEN m.reactions @> $3::jsonb THEN (
				SELECT COALESCE(jsonb_agg(r), '[]'::jsonb)
				FROM jsonb_array_elements(m.reactions) AS r
				WHERE NOT ((r->>'user_id')::int = $4 AND r->>'emoji' = $5)
			)
			ELSE m.reactions || $6::jsonb
		END
		FROM users u
		WHERE m.id = $1 AND m.tribe_id = $2 AND u.id = m.sender_id
		RETURNING ` + messageColumns
	msg, err := scanMessage(r.db.QueryRowContext(ctx, query,
		messageID, tribeID, probe, userID, emoji, entry))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", messageID, apperrors.ErrNotFound)
		}
		return nil, storeErr(err)
	}
	return msg, nil
}

// Edit replaces the content of the sender's own message and marks it edited.
// Mentions are not recomputed; they stay the send-time snapshot.
func (r *Repository) Edit(ctx context.Context, tribeID int, messageID uuid.UUID, senderID int, content string) (*Message, error) {
	query := `
		UPDATE messages m
		SET content = $4, edited = TRUE, edited_at = now()
		FROM users u
		WHERE m.id = $1 AND m.tribe_id = $2 AND m.sender_id = $3 AND u.id = m.sender_id
		RETURNING ` + messageColumns
	msg, err := scanMessage(r.db.QueryRowContext(ctx, query,
		messageID, tribeID, senderID, content))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.notFoundOrForbidden(ctx, tribeID, messageID)
		}
		return nil, storeErr(err)
	}
	return msg, nil
}

// Delete removes the sender's own message permanently. Receivers that miss
// the broadcast keep a stale copy until their next history fetch.
func (r *Repository) Delete(ctx context.Context, tribeID int, messageID uuid.UUID, senderID int) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM messages WHERE id = $1 AND tribe_id = $2 AND sender_id = $3",
		messageID, tribeID, senderID)
	if err != nil {
		return storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return r.notFoundOrForbidden(ctx, tribeID, messageID)
	}
	return nil
}

// notFoundOrForbidden disambiguates a zero-row sender-guarded mutation: the
// message either does not exist or belongs to someone else.
func (r *Repository) notFoundOrForbidden(ctx context.Context, tribeID int, messageID uuid.UUID) error {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1 AND tribe_id = $2)",
		messageID, tribeID,
	).Scan(&exists)
	if err != nil {
		return storeErr(err)
	}
	if exists {
		return fmt.Errorf("message %s: not the sender: %w", messageID, apperrors.ErrForbidden)
	}
	return fmt.Errorf("message %s: %w", messageID, apperrors.ErrNotFound)
}

// storeErr tags infrastructure failures so the gateway surfaces them as 503
// rather than a generic 500.
func storeErr(err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
}
