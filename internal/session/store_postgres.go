package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool used by PostgresStore, so it can be
// mocked with pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore keeps one row per session with the full state as JSONB.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func AutoMigrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS radio_sessions (
          id         TEXT PRIMARY KEY,
          creator_id TEXT NOT NULL,
          state      JSONB NOT NULL,
          seq        BIGINT NOT NULL DEFAULT 0,
          updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
      )
    `); err != nil {
		log.Printf("migrate radio_sessions: %v", err)
		return err
	}
	if _, err := db.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS jam_sessions (
          id         TEXT PRIMARY KEY,
          creator_id TEXT NOT NULL,
          state      JSONB NOT NULL,
          seq        BIGINT NOT NULL DEFAULT 0,
          updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
      )
    `); err != nil {
		log.Printf("migrate jam_sessions: %v", err)
		return err
	}
	return nil
}

func (s *PostgresStore) SaveRadio(ctx context.Context, r Radio) error {
	state, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
      INSERT INTO radio_sessions (id, creator_id, state, seq, updated_at)
      VALUES ($1, $2, $3, $4, now())
      ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, seq = EXCLUDED.seq, updated_at = now()
    `, r.ID, r.Creator, state, int64(r.Seq))
	return err
}

func (s *PostgresStore) DeleteRadio(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM radio_sessions WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) SaveJam(ctx context.Context, j Jam) error {
	state, err := json.Marshal(j)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
      INSERT INTO jam_sessions (id, creator_id, state, seq, updated_at)
      VALUES ($1, $2, $3, $4, now())
      ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, seq = EXCLUDED.seq, updated_at = now()
    `, j.ID, j.Creator, state, int64(j.Seq))
	return err
}

func (s *PostgresStore) DeleteJam(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM jam_sessions WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) Load(ctx context.Context) ([]Radio, []Jam, error) {
	radios, err := loadStates[Radio](ctx, s.db, `SELECT state FROM radio_sessions ORDER BY updated_at`)
	if err != nil {
		return nil, nil, fmt.Errorf("load radios: %w", err)
	}
	jams, err := loadStates[Jam](ctx, s.db, `SELECT state FROM jam_sessions ORDER BY updated_at`)
	if err != nil {
		return nil, nil, fmt.Errorf("load jams: %w", err)
	}
	return radios, jams, nil
}

func loadStates[T any](ctx context.Context, db DB, query string) ([]T, error) {
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
