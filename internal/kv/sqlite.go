package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goran-ethernal/EntityIndexor/internal/db"
	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/internal/metrics"
	"github.com/goran-ethernal/EntityIndexor/internal/migrations"
	"github.com/goran-ethernal/EntityIndexor/pkg/config"
	"github.com/russross/meddler"
)

const (
	sqlitePageSize    = 256
	sqliteGetManySize = 500
)

type kvRow struct {
	Key   string `meddler:"key"`
	Value []byte `meddler:"value"`
}

// SQLiteStorage keeps all pairs in a single kv table.
type SQLiteStorage struct {
	db          *sql.DB
	maintenance db.Maintenance
	log         *logger.Logger
	closed      atomic.Bool
}

var _ Storage = (*SQLiteStorage)(nil)

// OpenSQLite opens (creating when needed) the database at cfg.Path, migrates
// it and starts background maintenance when maint is set.
func OpenSQLite(
	ctx context.Context,
	cfg config.DatabaseConfig,
	maint *config.MaintenanceConfig,
	log *logger.Logger,
) (*SQLiteStorage, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:mnd
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}

	if err := migrations.RunMigrations(log, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	maintenance := db.NewMaintenanceCoordinator(cfg.Path, sqlDB, maint, log)
	if err := maintenance.Start(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to start maintenance: %w", err)
	}

	log.Infof("opened sqlite kv store at %s", cfg.Path)

	return &SQLiteStorage{db: sqlDB, maintenance: maintenance, log: log}, nil
}

// Maintenance returns the coordinator guarding this database.
func (s *SQLiteStorage) Maintenance() db.Maintenance {
	return s.maintenance
}

func (s *SQLiteStorage) begin(op string) (func(error), error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	unlock := s.maintenance.AcquireOperationLock()
	start := time.Now()

	return func(err error) {
		unlock()
		metrics.KVOperation(config.BackendSQLite, op, start, err)
	}, nil
}

// Get implements Storage.
func (s *SQLiteStorage) Get(ctx context.Context, key string) (value []byte, err error) {
	done, err := s.begin("get")
	if err != nil {
		return nil, err
	}
	defer func() { done(err) }()

	return sqliteGet(s.db, key)
}

// GetMany implements Storage.
func (s *SQLiteStorage) GetMany(ctx context.Context, keys []string) (result map[string][]byte, err error) {
	done, err := s.begin("get_many")
	if err != nil {
		return nil, err
	}
	defer func() { done(err) }()

	result = make(map[string][]byte, len(keys))
	for start := 0; start < len(keys); start += sqliteGetManySize {
		chunk := keys[start:min(start+sqliteGetManySize, len(keys))]

		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}

		query := "SELECT key, value FROM kv WHERE key IN (?" + strings.Repeat(", ?", len(chunk)-1) + ")"

		var rows []*kvRow
		if err := meddler.QueryAll(s.db, &rows, query, args...); err != nil {
			return nil, fmt.Errorf("failed to query keys: %w", err)
		}

		for _, r := range rows {
			result[r.Key] = nonNil(r.Value)
		}
	}

	return result, nil
}

// Put implements Storage.
func (s *SQLiteStorage) Put(ctx context.Context, key string, value []byte) (err error) {
	done, err := s.begin("put")
	if err != nil {
		return err
	}
	defer func() { done(err) }()

	return sqlitePut(ctx, s.db, key, value)
}

// Delete implements Storage.
func (s *SQLiteStorage) Delete(ctx context.Context, keys ...string) (err error) {
	done, err := s.begin("delete")
	if err != nil {
		return err
	}
	defer func() { done(err) }()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, key := range keys {
			if err := sqliteDelete(ctx, tx, key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Transaction implements Storage.
func (s *SQLiteStorage) Transaction(ctx context.Context, fn func(Txn) error) (err error) {
	done, err := s.begin("transaction")
	if err != nil {
		return err
	}
	defer func() { done(err) }()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&sqliteTxn{ctx: ctx, tx: tx})
	})
}

func (s *SQLiteStorage) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// List implements Storage. Rows are fetched in pages so the maintenance lock
// is never held across calls to Next.
func (s *SQLiteStorage) List(ctx context.Context, opts ListOptions) (Iterator, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	return &sqliteIterator{
		storage: s,
		ctx:     ctx,
		opts:    opts,
		from:    opts.lowerBound(),
		upper:   prefixUpperBound(opts.Prefix),
	}, nil
}

// Close stops maintenance and closes the database.
func (s *SQLiteStorage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	if err := s.maintenance.Stop(); err != nil {
		s.log.Warnf("failed to stop maintenance: %v", err)
	}

	return s.db.Close()
}

type sqliteTxn struct {
	ctx context.Context //nolint:containedctx
	tx  *sql.Tx
}

func (t *sqliteTxn) Get(key string) ([]byte, error) {
	return sqliteGet(t.tx, key)
}

func (t *sqliteTxn) Put(key string, value []byte) error {
	return sqlitePut(t.ctx, t.tx, key, value)
}

func (t *sqliteTxn) Delete(key string) error {
	return sqliteDelete(t.ctx, t.tx, key)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func sqliteGet(q meddler.DB, key string) ([]byte, error) {
	var row kvRow
	err := meddler.QueryRow(q, &row, "SELECT key, value FROM kv WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}

	return nonNil(row.Value), nil
}

func sqlitePut(ctx context.Context, e execer, key string, value []byte) error {
	const upsert = `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := e.ExecContext(ctx, upsert, key, nonNil(value)); err != nil {
		return fmt.Errorf("failed to put %q: %w", key, err)
	}
	return nil
}

func sqliteDelete(ctx context.Context, e execer, key string) error {
	if _, err := e.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// nonNil keeps present-but-empty values distinguishable from absent ones.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

type sqliteIterator struct {
	storage *SQLiteStorage
	ctx     context.Context //nolint:containedctx
	opts    ListOptions
	upper   []byte

	from      string
	afterFrom bool
	page      []*kvRow
	pos       int
	exhausted bool
	returned  int
	current   *kvRow
	err       error
}

func (it *sqliteIterator) Next() bool {
	if it.err != nil {
		return false
	}

	if it.pos >= len(it.page) {
		if it.exhausted || !it.fetch() {
			return false
		}
	}

	row := it.page[it.pos]
	it.pos++

	if !it.opts.contains(row.Key, it.returned) {
		it.exhausted = true
		it.page = nil
		return false
	}

	it.current = row
	it.returned++
	return true
}

func (it *sqliteIterator) fetch() bool {
	done, err := it.storage.begin("list")
	if err != nil {
		it.err = err
		return false
	}

	cmp := ">="
	if it.afterFrom {
		cmp = ">"
	}

	query := "SELECT key, value FROM kv WHERE key " + cmp + " ?"
	args := []any{it.from}
	if it.upper != nil {
		query += " AND key < ?"
		args = append(args, string(it.upper))
	}
	query += " ORDER BY key ASC LIMIT ?"
	args = append(args, sqlitePageSize)

	var rows []*kvRow
	err = meddler.QueryAll(it.storage.db, &rows, query, args...)
	done(err)
	if err != nil {
		it.err = fmt.Errorf("failed to list keys: %w", err)
		return false
	}

	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}

	if len(rows) < sqlitePageSize {
		it.exhausted = true
	}
	if len(rows) == 0 {
		return false
	}

	it.page = rows
	it.pos = 0
	it.from = rows[len(rows)-1].Key
	it.afterFrom = true

	return true
}

func (it *sqliteIterator) Key() string {
	return it.current.Key
}

func (it *sqliteIterator) Value() []byte {
	return nonNil(it.current.Value)
}

func (it *sqliteIterator) Err() error {
	return it.err
}

func (it *sqliteIterator) Close() error {
	it.page = nil
	it.exhausted = true
	return nil
}
