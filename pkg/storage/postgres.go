package storage

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres keeps snapshots in a table with one row per session.
type Postgres struct {
	db    pgConn
	close func()
	table string
}

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func NewPostgres(ctx context.Context, dsn, table string) (*Postgres, error) {
	if !tableName.MatchString(table) {
		return nil, errors.Errorf("bad table name %q", table)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres pool")
	}
	p := &Postgres{db: pool, close: pool.Close, table: table}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		session_id TEXT PRIMARY KEY,
		snapshot BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, p.table))
	return errors.Wrap(err, "postgres migrate")
}

func (p *Postgres) Load(ctx context.Context, key string) ([]byte, error) {
	if err := CheckKey(key); err != nil {
		return nil, err
	}
	var dat []byte
	err := p.db.QueryRow(ctx, fmt.Sprintf(`SELECT snapshot FROM %s WHERE session_id = $1`, p.table), key).Scan(&dat)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "postgres load %v", key)
	}
	return dat, nil
}

func (p *Postgres) Save(ctx context.Context, key string, data []byte) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	_, err := p.db.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (session_id, snapshot, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (session_id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = now()`, p.table), key, data)
	return errors.Wrapf(err, "postgres save %v", key)
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	_, err := p.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1`, p.table), key)
	return errors.Wrapf(err, "postgres delete %v", key)
}

func (p *Postgres) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}
