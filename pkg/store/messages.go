package store

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/rcs_core/pkg/chat"
	"github.com/arzzra/rcs_core/pkg/contact"
)

// Direction направление сообщения или чата.
type Direction int

const (
	Incoming Direction = iota
	Outgoing
	Irrelevant
)

// MessageStatus состояние сообщения в журнале.
type MessageStatus int

const (
	MessageQueued MessageStatus = iota
	MessageSending
	MessageSent
	MessageFailed
	MessageReceived
	MessageDelivered
	MessageDisplayed
)

// MessageRecord строка журнала сообщений.
type MessageRecord struct {
	MsgID         string
	ChatID        string
	Contact       contact.ID
	Content       string
	MimeType      string
	Direction     Direction
	Status        MessageStatus
	Timestamp     time.Time
	TimestampSent time.Time
}

// AddMessage сохраняет сообщение чата. Содержимое приводится к виду для
// хранения (геопозиция строкой).
func (s *SQLiteStore) AddMessage(ctx context.Context, chatID string, m *chat.Message, dir Direction, status MessageStatus) error {
	content, err := chat.NetworkContentToPersisted(m)
	if err != nil {
		return err
	}
	s.logger.Debug("SQLiteStore.AddMessage",
		slog.String("chatID", chatID),
		slog.String("msgID", m.ID()),
		slog.String("mimeType", m.MimeType()))

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (msg_id, chat_id, contact, content, mime_type, direction, status, timestamp, timestamp_sent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID(), chatID, m.Remote().String(), content, m.MimeType(), int(dir), int(status),
		m.Timestamp().UnixMilli(), m.TimestampSent().UnixMilli())
	return errors.Wrapf(err, "add message %s", m.ID())
}

// SetMessageStatus обновляет состояние сообщения.
func (s *SQLiteStore) SetMessageStatus(ctx context.Context, msgID string, status MessageStatus) error {
	err := s.execOne(ctx, `UPDATE messages SET status = ? WHERE msg_id = ?`, int(status), msgID)
	return errors.Wrapf(err, "set message %s status", msgID)
}

// Message возвращает сообщение по идентификатору.
func (s *SQLiteStore) Message(ctx context.Context, msgID string) (*MessageRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT msg_id, chat_id, contact, content, mime_type, direction, status, timestamp, timestamp_sent
		FROM messages WHERE msg_id = ?`, msgID)
	rec, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get message %s", msgID)
	}
	return rec, nil
}

// ChatMessages возвращает сообщения чата в порядке времени.
func (s *SQLiteStore) ChatMessages(ctx context.Context, chatID string) ([]*MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT msg_id, chat_id, contact, content, mime_type, direction, status, timestamp, timestamp_sent
		FROM messages WHERE chat_id = ? ORDER BY timestamp, rowid`, chatID)
	if err != nil {
		return nil, errors.Wrapf(err, "list messages of %s", chatID)
	}
	defer rows.Close()

	var out []*MessageRecord
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*MessageRecord, error) {
	var (
		rec         MessageRecord
		remote      string
		dir, status int
		ts, tsSent  int64
	)
	if err := row.Scan(&rec.MsgID, &rec.ChatID, &remote, &rec.Content, &rec.MimeType,
		&dir, &status, &ts, &tsSent); err != nil {
		return nil, err
	}
	rec.Contact = contact.ID(remote)
	rec.Direction = Direction(dir)
	rec.Status = MessageStatus(status)
	rec.Timestamp = time.UnixMilli(ts)
	rec.TimestampSent = time.UnixMilli(tsSent)
	return &rec, nil
}
