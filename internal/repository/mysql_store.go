package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// MySQLBlobStore keeps records in the auth_storage table created by
// database.Open.  With a positive TTL, rows not saved for TTL read as
// missing and are removed by Prune.
type MySQLBlobStore struct {
	DB  *sql.DB
	TTL time.Duration
}

func NewMySQLBlobStore(db *sql.DB, ttl time.Duration) *MySQLBlobStore {
	return &MySQLBlobStore{DB: db, TTL: ttl}
}

func (s *MySQLBlobStore) Load(ctx context.Context, key string) ([]byte, error) {
	var (
		payload   []byte
		updatedAt time.Time
	)
	err := s.DB.QueryRowContext(ctx,
		"SELECT payload, updated_at FROM auth_storage WHERE session_key=? LIMIT 1",
		key).Scan(&payload, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if s.expired(updatedAt, time.Now()) {
		return nil, ErrNotFound
	}
	return payload, nil
}

// Save upserts the record and refreshes updated_at.
func (s *MySQLBlobStore) Save(ctx context.Context, key string, payload []byte) error {
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO auth_storage (session_key, payload, updated_at) VALUES (?,?,UTC_TIMESTAMP()) ON DUPLICATE KEY UPDATE payload=VALUES(payload), updated_at=UTC_TIMESTAMP()",
		key, payload)
	return err
}

func (s *MySQLBlobStore) Delete(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM auth_storage WHERE session_key=?", key)
	return err
}

// Prune deletes rows older than TTL and reports how many went.  It does
// nothing without a TTL.
func (s *MySQLBlobStore) Prune(ctx context.Context) (int64, error) {
	if s.TTL <= 0 {
		return 0, nil
	}
	res, err := s.DB.ExecContext(ctx,
		"DELETE FROM auth_storage WHERE updated_at < ?",
		time.Now().UTC().Add(-s.TTL))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *MySQLBlobStore) expired(updatedAt, now time.Time) bool {
	return s.TTL > 0 && now.Sub(updatedAt) > s.TTL
}
