package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/rcs_core/pkg/contact"
	"github.com/arzzra/rcs_core/pkg/upload"
)

var _ upload.ResumeStore = (*SQLiteStore)(nil)

// SaveResumeUpload сохраняет или заменяет запись для докачки.
func (s *SQLiteStore) SaveResumeUpload(ctx context.Context, rec upload.ResumeRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO ft_resume (tid, transfer_id, contact, file_name, mime_type, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.TID, rec.TransferID, rec.Remote.String(), rec.FileName, rec.MimeType, rec.Size,
		rec.CreatedAt.UnixMilli())
	return errors.Wrapf(err, "save resume record %s", rec.TID)
}

// ResumeUpload возвращает запись по tid.
func (s *SQLiteStore) ResumeUpload(ctx context.Context, tid string) (*upload.ResumeRecord, bool, error) {
	var (
		rec     upload.ResumeRecord
		remote  string
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT tid, transfer_id, contact, file_name, mime_type, size, created_at FROM ft_resume WHERE tid = ?`,
		tid).Scan(&rec.TID, &rec.TransferID, &remote, &rec.FileName, &rec.MimeType, &rec.Size, &created)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get resume record %s", tid)
	}
	rec.Remote = contact.ID(remote)
	rec.CreatedAt = time.UnixMilli(created)
	return &rec, true, nil
}

// DeleteResumeUpload удаляет запись; отсутствие записи не ошибка.
func (s *SQLiteStore) DeleteResumeUpload(ctx context.Context, tid string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ft_resume WHERE tid = ?`, tid)
	return errors.Wrapf(err, "delete resume record %s", tid)
}

// PendingResumeUploads все сохраненные записи, старые первыми.
func (s *SQLiteStore) PendingResumeUploads(ctx context.Context) ([]upload.ResumeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tid, transfer_id, contact, file_name, mime_type, size, created_at FROM ft_resume ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "list resume records")
	}
	defer rows.Close()

	var out []upload.ResumeRecord
	for rows.Next() {
		var (
			rec     upload.ResumeRecord
			remote  string
			created int64
		)
		if err := rows.Scan(&rec.TID, &rec.TransferID, &remote, &rec.FileName, &rec.MimeType, &rec.Size, &created); err != nil {
			return nil, err
		}
		rec.Remote = contact.ID(remote)
		rec.CreatedAt = time.UnixMilli(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}
