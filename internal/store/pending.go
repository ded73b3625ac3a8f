package store

import (
	"database/sql"
	"fmt"
	"time"
)

// RememberPending stores a durable reply handle. TTL zero means
// DefaultPendingTTL. Re-remembering the same (channel, messageId) refreshes
// the row.
func (d *DB) RememberPending(p *PendingMessage, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	now := time.Now()
	err := d.exec(`
		INSERT INTO pending_messages (message_id, channel, sender, sender_id, chat_ref, reply_ref, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel, message_id) DO UPDATE SET
			sender = excluded.sender,
			sender_id = excluded.sender_id,
			chat_ref = excluded.chat_ref,
			reply_ref = excluded.reply_ref,
			expires_at = excluded.expires_at`,
		p.MessageID, p.Channel, p.Sender, p.SenderID, p.ChatRef, p.ReplyRef,
		now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("remember pending: %w", err)
	}
	return nil
}

// ReadPending returns the pending handle for (channel, messageId), or
// ErrNotFound when absent or expired. Expired rows are left for the next
// PurgeExpiredPending pass.
func (d *DB) ReadPending(channel, messageID string) (*PendingMessage, error) {
	row := d.queryRow(`
		SELECT message_id, channel, sender, sender_id, chat_ref, reply_ref, expires_at, created_at
		FROM pending_messages WHERE channel = ? AND message_id = ? AND expires_at > ?`,
		channel, messageID, time.Now().UnixMilli())

	var p PendingMessage
	var expires, created int64
	err := row.Scan(&p.MessageID, &p.Channel, &p.Sender, &p.SenderID, &p.ChatRef,
		&p.ReplyRef, &expires, &created)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read pending: %w", err)
	}
	p.ExpiresAt = fromMillis(expires)
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

// ClearPending removes one handle once the reply is delivered.
func (d *DB) ClearPending(messageID string) error {
	if err := d.exec(`DELETE FROM pending_messages WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("clear pending: %w", err)
	}
	return nil
}

// PurgeExpiredPending deletes every expired handle; idempotent.
func (d *DB) PurgeExpiredPending() (int, error) {
	res, err := d.sql.Exec(d.bind(`DELETE FROM pending_messages WHERE expires_at <= ?`),
		time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge pending: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
