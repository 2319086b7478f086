// Package store хранит журналы сообщений и групповых чатов, а также записи
// для докачки файлов, в SQLite.
package store

import (
	"context"
	"database/sql"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// ErrNotFound запись отсутствует.
var ErrNotFound = errors.New("record not found")

// SQLiteStore реализует журналы поверх SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore открывает базу по dsn (":memory:" для тестов) и применяет миграции.
func NewSQLiteStore(dsn string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// у каждого соединения :memory: своя база
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable foreign keys")
	}

	s := &SQLiteStore{db: db, logger: logger.With(slog.String("component", "store"))}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			msg_id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			contact TEXT NOT NULL,
			content TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			direction INTEGER NOT NULL,
			status INTEGER NOT NULL DEFAULT 0,
			timestamp INTEGER NOT NULL,
			timestamp_sent INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS group_chats (
			chat_id TEXT PRIMARY KEY,
			contact TEXT,
			subject TEXT NOT NULL DEFAULT '',
			participants TEXT NOT NULL DEFAULT '',
			state INTEGER NOT NULL,
			reason_code INTEGER NOT NULL,
			direction INTEGER NOT NULL,
			rejoin_id TEXT,
			user_abortion INTEGER NOT NULL DEFAULT 0,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_group_chats_state ON group_chats(state)`,
		`CREATE TABLE IF NOT EXISTS ft_resume (
			tid TEXT PRIMARY KEY,
			transfer_id TEXT NOT NULL,
			contact TEXT NOT NULL,
			file_name TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return errors.Wrapf(err, "migration failed\n%s", m)
		}
	}
	return nil
}

// Close закрывает соединение с базой.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// execOne выполняет обновление одной строки и возвращает ErrNotFound, если
// строка не найдена.
func (s *SQLiteStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
