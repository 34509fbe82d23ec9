package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/RobSpectre/api.tokenbowl.ai/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")

	// ErrStorageUnavailable wraps storage-layer failures. The operation that
	// hit it is fatal for the caller; data is never silently dropped.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

const messageColumns = "id, from_username, to_username, content, message_type, created_at"

// appendLockID is the advisory lock key serializing the insert+trim
// sequence across concurrent appends.
const appendLockID = 7234101

// MessageRepository is the message store: ordered persistence of messages
// and per-user read state, with history trimming at append time.
type MessageRepository interface {
	Append(ctx context.Context, from string, to *string, content string, kind models.MessageType) (models.Message, error)
	ListRoom(ctx context.Context, limit, offset int, since *time.Time) ([]models.Message, int, error)
	ListDirect(ctx context.Context, username string, limit, offset int, since *time.Time) ([]models.Message, int, error)
	Get(ctx context.Context, messageID uuid.UUID) (models.Message, error)
	Delete(ctx context.Context, messageID uuid.UUID) error
	MarkRead(ctx context.Context, username string, messageID uuid.UUID) (bool, error)
	MarkAllRead(ctx context.Context, username string, scope models.MessageType) (int, error)
	UnreadRoom(ctx context.Context, username string, limit, offset int) ([]models.Message, error)
	UnreadDirect(ctx context.Context, username string, limit, offset int) ([]models.Message, error)
	UnreadCount(ctx context.Context, username string) (room int, direct int, total int, err error)
}

// MessageRepo is a sqlx-backed message store.
type MessageRepo struct {
	db           *sqlx.DB
	historyLimit int
}

// NewMessageRepo constructs a MessageRepo retaining at most historyLimit
// messages.
func NewMessageRepo(db *sqlx.DB, historyLimit int) *MessageRepo {
	return &MessageRepo{db: db, historyLimit: historyLimit}
}

// Append stores a message, assigning its id and timestamp, trims history to
// the configured bound and marks the sender as having read their own
// message. The insert, trim and receipt run in one transaction so a
// concurrent reader never observes the bound exceeded.
func (r *MessageRepo) Append(ctx context.Context, from string, to *string, content string, kind models.MessageType) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, storageErr(err)
	}
	defer tx.Rollback()

	// Serialize writers. Under READ COMMITTED the trim subquery of a
	// concurrent append cannot see this transaction's insert, so without the
	// lock two appends can both target the same victim row and leave the
	// bound exceeded after commit.
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", appendLockID); err != nil {
		return models.Message{}, storageErr(err)
	}

	var msg models.Message
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO messages (id, from_username, to_username, content, message_type, created_at)
         VALUES ($1, $2, $3, $4, $5, NOW())
         RETURNING `+messageColumns,
		uuid.New(), from, to, content, kind).StructScan(&msg)
	if err != nil {
		return models.Message{}, storageErr(err)
	}

	// Evict the oldest messages beyond the bound. Orphaned read receipts go
	// with them via ON DELETE CASCADE.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM messages WHERE id IN (
            SELECT id FROM messages
            ORDER BY created_at DESC, id DESC
            OFFSET $1
         )`, r.historyLimit)
	if err != nil {
		return models.Message{}, storageErr(err)
	}

	// The sender has read their own message by definition. The receipt is
	// skipped when the message itself was just evicted by the trim.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO read_receipts (message_id, username, read_at)
         SELECT $1, $2, NOW() WHERE EXISTS (SELECT 1 FROM messages WHERE id = $1)
         ON CONFLICT (message_id, username) DO NOTHING`,
		msg.ID, from)
	if err != nil {
		return models.Message{}, storageErr(err)
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, storageErr(err)
	}
	return msg, nil
}

// ListRoom returns room-scope messages oldest first within [offset,
// offset+limit), optionally filtered to those created after since. The
// returned total is the matching count at query time.
func (r *MessageRepo) ListRoom(ctx context.Context, limit, offset int, since *time.Time) ([]models.Message, int, error) {
	where := "to_username IS NULL"
	args := []interface{}{}
	if since != nil {
		where += " AND created_at > $1"
		args = append(args, *since)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM messages WHERE "+where, args...); err != nil {
		return nil, 0, storageErr(err)
	}

	query := fmt.Sprintf("SELECT %s FROM messages WHERE %s ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d",
		messageColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, 0, storageErr(err)
	}
	return msgs, total, nil
}

// ListDirect returns direct messages sent to or by the user, oldest first.
func (r *MessageRepo) ListDirect(ctx context.Context, username string, limit, offset int, since *time.Time) ([]models.Message, int, error) {
	where := "to_username IS NOT NULL AND (to_username = $1 OR from_username = $1)"
	args := []interface{}{username}
	if since != nil {
		where += " AND created_at > $2"
		args = append(args, *since)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM messages WHERE "+where, args...); err != nil {
		return nil, 0, storageErr(err)
	}

	query := fmt.Sprintf("SELECT %s FROM messages WHERE %s ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d",
		messageColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, 0, storageErr(err)
	}
	return msgs, total, nil
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID uuid.UUID) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, "SELECT "+messageColumns+" FROM messages WHERE id = $1", messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, storageErr(err)
	}
	return msg, nil
}

// Delete removes a message and, via cascade, its read receipts.
func (r *MessageRepo) Delete(ctx context.Context, messageID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", messageID)
	if err != nil {
		return storageErr(err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkRead records a read receipt for the user. Idempotent: returns false
// without error when the message was already read.
func (r *MessageRepo) MarkRead(ctx context.Context, username string, messageID uuid.UUID) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1)", messageID); err != nil {
		return false, storageErr(err)
	}
	if !exists {
		return false, ErrMessageNotFound
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO read_receipts (message_id, username, read_at) VALUES ($1, $2, NOW())
         ON CONFLICT (message_id, username) DO NOTHING`,
		messageID, username)
	if err != nil {
		return false, storageErr(err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, storageErr(err)
	}
	return count > 0, nil
}

// MarkAllRead marks every unread message visible to the user as read. An
// empty scope covers both room and direct messages. Returns how many
// receipts were created.
func (r *MessageRepo) MarkAllRead(ctx context.Context, username string, scope models.MessageType) (int, error) {
	scopeCond := "(m.to_username IS NULL OR m.to_username = $1)"
	switch scope {
	case models.MessageTypeRoom:
		scopeCond = "m.to_username IS NULL"
	case models.MessageTypeDirect:
		scopeCond = "m.to_username = $1"
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO read_receipts (message_id, username, read_at)
         SELECT m.id, $1, NOW() FROM messages m
         LEFT JOIN read_receipts rr ON m.id = rr.message_id AND rr.username = $1
         WHERE rr.message_id IS NULL
         AND m.from_username != $1
         AND `+scopeCond+`
         ON CONFLICT (message_id, username) DO NOTHING`,
		username)
	if err != nil {
		return 0, storageErr(err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr(err)
	}
	return int(count), nil
}

// UnreadRoom returns unread room messages for the user, oldest first.
func (r *MessageRepo) UnreadRoom(ctx context.Context, username string, limit, offset int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT m.id, m.from_username, m.to_username, m.content, m.message_type, m.created_at
         FROM messages m
         LEFT JOIN read_receipts rr ON m.id = rr.message_id AND rr.username = $1
         WHERE m.to_username IS NULL
         AND rr.message_id IS NULL
         AND m.from_username != $1
         ORDER BY m.created_at ASC, m.id ASC
         LIMIT $2 OFFSET $3`,
		username, limit, offset)
	if err != nil {
		return nil, storageErr(err)
	}
	return msgs, nil
}

// UnreadDirect returns unread direct messages addressed to the user.
func (r *MessageRepo) UnreadDirect(ctx context.Context, username string, limit, offset int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT m.id, m.from_username, m.to_username, m.content, m.message_type, m.created_at
         FROM messages m
         LEFT JOIN read_receipts rr ON m.id = rr.message_id AND rr.username = $1
         WHERE m.to_username = $1
         AND rr.message_id IS NULL
         AND m.from_username != $1
         ORDER BY m.created_at ASC, m.id ASC
         LIMIT $2 OFFSET $3`,
		username, limit, offset)
	if err != nil {
		return nil, storageErr(err)
	}
	return msgs, nil
}

// UnreadCount returns unread counts per scope for the user.
func (r *MessageRepo) UnreadCount(ctx context.Context, username string) (int, int, int, error) {
	var room int
	err := r.db.GetContext(ctx, &room,
		`SELECT COUNT(*) FROM messages m
         LEFT JOIN read_receipts rr ON m.id = rr.message_id AND rr.username = $1
         WHERE m.to_username IS NULL
         AND rr.message_id IS NULL
         AND m.from_username != $1`,
		username)
	if err != nil {
		return 0, 0, 0, storageErr(err)
	}

	var direct int
	err = r.db.GetContext(ctx, &direct,
		`SELECT COUNT(*) FROM messages m
         LEFT JOIN read_receipts rr ON m.id = rr.message_id AND rr.username = $1
         WHERE m.to_username = $1
         AND rr.message_id IS NULL
         AND m.from_username != $1`,
		username)
	if err != nil {
		return 0, 0, 0, storageErr(err)
	}

	return room, direct, room + direct, nil
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
