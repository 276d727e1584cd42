// Package bus implements the durable, ordered, append-only message log that
// underpins every cross-agent communication in the system. It is the single
// ordering authority per channel; cross-channel ordering is never
// guaranteed.
//
// Records are flat string->string maps, matching the wire shape mandated by
// the design notes: nested structure travels as an embedded JSON-encoded
// string inside a field, never as a nested object at the bus layer.
package bus

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/oracle-arb/internal/database"
	"github.com/rs/zerolog"
)

// CommandsChannel is the well-known channel the orchestrator publishes
// lifecycle commands to (e.g. HALT_ALL).
const CommandsChannel = "system.commands"

// Record is a flat wire message. Nested payloads are embedded as a
// serialized string field by the publisher.
type Record map[string]string

// Message is a durable log entry returned by Consume/ConsumeGroup.
type Message struct {
	ID        int64
	Channel   string
	Record    Record
	CreatedAt time.Time
}

// Bus is a SQLite-backed durable log shared by every agent in the process.
type Bus struct {
	db  *database.DB
	log zerolog.Logger
}

// New builds a Bus over an already-migrated database connection.
func New(db *database.DB, log zerolog.Logger) (*Bus, error) {
	if err := db.Migrate(schema); err != nil {
		return nil, fmt.Errorf("failed to migrate bus schema: %w", err)
	}
	return &Bus{db: db, log: log.With().Str("component", "bus").Logger()}, nil
}

// Publish atomically appends record to channel and returns its message id.
func (b *Bus) Publish(channel string, record Record) (int64, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("failed to encode record for channel %s: %w", channel, err)
	}

	res, err := b.db.Conn().Exec(
		"INSERT INTO bus_messages (channel, payload, created_at) VALUES (?, ?, ?)",
		channel, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted message id: %w", err)
	}
	return id, nil
}

// PublishCommand is a convenience wrapper for publishing to system.commands.
func (b *Bus) PublishCommand(cmd string, fields Record) (int64, error) {
	record := Record{"command": cmd}
	for k, v := range fields {
		record[k] = v
	}
	return b.Publish(CommandsChannel, record)
}

// Consume performs a non-grouped read of up to maxCount records on channel
// with id strictly greater than fromID. blockFor, if non-zero, polls until
// a record appears or the duration elapses.
func (b *Bus) Consume(channel string, fromID int64, maxCount int, blockFor time.Duration) ([]Message, error) {
	deadline := time.Now().Add(blockFor)
	for {
		msgs, err := b.readChannel(channel, fromID, maxCount)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 || blockFor <= 0 || time.Now().After(deadline) {
			return msgs, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (b *Bus) readChannel(channel string, fromID int64, maxCount int) ([]Message, error) {
	rows, err := b.db.Conn().Query(
		"SELECT id, payload, created_at FROM bus_messages WHERE channel = ? AND id > ? ORDER BY id ASC LIMIT ?",
		channel, fromID, maxCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read channel %s: %w", channel, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			id        int64
			payload   string
			createdAt time.Time
		)
		if err := rows.Scan(&id, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		var record Record
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			b.log.Warn().Err(err).Int64("message_id", id).Msg("dropping message with unparseable payload")
			continue
		}
		out = append(out, Message{ID: id, Channel: channel, Record: record, CreatedAt: createdAt})
	}
	return out, rows.Err()
}

// EnsureGroup idempotently creates a consumer group on channel, starting
// its cursor at start ("0" replays every prior message; "$" starts only
// from new messages published after group creation).
func (b *Bus) EnsureGroup(channel, group, start string) error {
	var cursor int64
	if start == "$" {
		var maxID sql.NullInt64
		if err := b.db.Conn().QueryRow("SELECT MAX(id) FROM bus_messages WHERE channel = ?", channel).Scan(&maxID); err != nil {
			return fmt.Errorf("failed to resolve tail cursor for %s: %w", channel, err)
		}
		if maxID.Valid {
			cursor = maxID.Int64
		}
	}

	_, err := b.db.Conn().Exec(
		"INSERT INTO bus_groups (channel, group_name, cursor, created_at) VALUES (?, ?, ?, ?) ON CONFLICT(channel, group_name) DO NOTHING",
		channel, group, cursor, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to ensure group %s on %s: %w", group, channel, err)
	}
	return nil
}

// ConsumeGroup reads up to maxCount records after the group's cursor. The
// cursor does not advance here — it advances only on Ack, so a crash
// between delivery and ack redelivers the same messages on restart
// (at-least-once; consumers must be idempotent, per the unique-constraint
// guard on persisted trades).
func (b *Bus) ConsumeGroup(channel, group, consumerName string, maxCount int, blockFor time.Duration) ([]Message, error) {
	cursor, err := b.groupCursor(channel, group)
	if err != nil {
		return nil, err
	}
	return b.Consume(channel, cursor, maxCount, blockFor)
}

func (b *Bus) groupCursor(channel, group string) (int64, error) {
	var cursor int64
	err := b.db.Conn().QueryRow(
		"SELECT cursor FROM bus_groups WHERE channel = ? AND group_name = ?", channel, group,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		if err := b.EnsureGroup(channel, group, "0"); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cursor for group %s on %s: %w", group, channel, err)
	}
	return cursor, nil
}

// Ack advances group's cursor to messageID, finalizing processing up to
// and including that message. Acking an id behind the current cursor is a
// no-op.
func (b *Bus) Ack(channel, group string, messageID int64) error {
	_, err := b.db.Conn().Exec(
		"UPDATE bus_groups SET cursor = ? WHERE channel = ? AND group_name = ? AND cursor < ?",
		messageID, channel, group, messageID,
	)
	if err != nil {
		return fmt.Errorf("failed to ack message %d on %s/%s: %w", messageID, channel, group, err)
	}
	return nil
}
