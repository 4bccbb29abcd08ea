package docstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Store on a single JSONB documents table.
// Transactions run at serializable isolation; conflicting transactions
// are retried until the retry budget is exhausted.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and initializes the schema
// through migrations.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func ioErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// Get returns the document stored under the id, or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return nil, ioErr("get document", err)
	}
	return decodeDoc(raw, id)
}

// Set stores the document under the id, overwriting any previous value.
func (s *PostgresStore) Set(ctx context.Context, collection, id string, doc Document) error {
	raw, err := encodeDoc(doc, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data`,
		collection, id, raw,
	)
	if err != nil {
		return ioErr("set document", err)
	}
	return nil
}

// Update merges fields into an existing document.
func (s *PostgresStore) Update(ctx context.Context, collection, id string, fields Document) error {
	raw, err := encodeDoc(fields, time.Now().UTC())
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET data = data || $3::jsonb WHERE collection = $1 AND id = $2`,
		collection, id, raw,
	)
	if err != nil {
		return ioErr("update document", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

// Delete removes the document. Deleting a missing document is a no-op.
func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err != nil {
		return ioErr("delete document", err)
	}
	return nil
}

// Add stores the document under a freshly assigned id.
func (s *PostgresStore) Add(ctx context.Context, collection string, doc Document) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

// QueryEqual returns the documents matching every filter through JSONB
// containment, ordered by id for determinism.
func (s *PostgresStore) QueryEqual(ctx context.Context, collection string, filters Document) ([]Document, error) {
	query := `SELECT id, data FROM documents WHERE collection = $1 ORDER BY id`
	args := []any{collection}

	if len(filters) > 0 {
		filterJSON, err := json.Marshal(filters)
		if err != nil {
			return nil, fmt.Errorf("marshal filters: %w", err)
		}
		query = `SELECT id, data FROM documents WHERE collection = $1 AND data @> $2::jsonb ORDER BY id`
		args = append(args, filterJSON)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, ioErr("query documents", err)
	}
	defer rows.Close()

	var res []Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, ioErr("scan document", err)
		}
		doc, err := decodeDoc(raw, id)
		if err != nil {
			return nil, err
		}
		res = append(res, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, ioErr("rows error", err)
	}

	return res, nil
}

type pgTx struct {
	ctx context.Context
	tx  pgx.Tx
	err error
}

func (t *pgTx) Get(collection, id string) (Document, error) {
	var raw []byte
	err := t.tx.QueryRow(t.ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, id,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return nil, ioErr("get document", err)
	}
	return decodeDoc(raw, id)
}

func (t *pgTx) Set(collection, id string, doc Document) {
	if t.err != nil {
		return
	}
	raw, err := encodeDoc(doc, time.Now().UTC())
	if err != nil {
		t.err = err
		return
	}
	_, err = t.tx.Exec(t.ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data`,
		collection, id, raw,
	)
	if err != nil {
		t.err = ioErr("set document", err)
	}
}

func (t *pgTx) Delete(collection, id string) {
	if t.err != nil {
		return
	}
	_, err := t.tx.Exec(t.ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err != nil {
		t.err = ioErr("delete document", err)
	}
}

// RunTransaction executes fn inside a serializable transaction and
// retries on serialization conflicts. Errors returned by fn are passed
// through without retry.
func (s *PostgresStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(100*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.runTransactionOnce(ctx, fn)
		if err != nil && isSerializationError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *PostgresStore) runTransactionOnce(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return ioErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	t := &pgTx{ctx: ctx, tx: tx}
	if err := fn(t); err != nil {
		return err
	}
	if t.err != nil {
		return t.err
	}

	if err := tx.Commit(ctx); err != nil {
		return ioErr("commit tx", err)
	}
	return nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
