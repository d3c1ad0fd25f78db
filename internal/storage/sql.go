package storage

import (
	"context"
	"database/sql"
	"time"

	logx "castbot/pkg/logx"
)

// sqlStore backs both the sqlite and postgres drivers; only the statements differ.
type sqlStore struct {
	db  *sql.DB
	log logx.Logger
	q   queries
}

type queries struct {
	loadAll string
	upsert  string
	delete  string
}

func (s *sqlStore) LoadAll(ctx context.Context) (map[string][]byte, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, s.q.loadAll)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]byte{}
	for rows.Next() {
		var (
			code string
			data []byte
		)
		if err := rows.Scan(&code, &data); err != nil {
			return nil, err
		}
		out[code] = data
	}
	return out, rows.Err()
}

func (s *sqlStore) Save(ctx context.Context, code string, data []byte) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if err := checkCode(code); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q.upsert, code, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *sqlStore) Delete(ctx context.Context, code string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, s.q.delete, code)
	return err
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
