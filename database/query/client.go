// SPDX-License-Identifier: ice License 1.0

package query

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	memoryTarget = ":memory:"
)

type (
	// Store is the sqlite backed event store. All calls share one connection, so every add and
	// delete is serialized and `:memory:` targets stay a single database.
	Store struct {
		*sqlx.DB

		stmtCacheMx *sync.RWMutex
		stmtCache   map[string]*sqlx.NamedStmt
	}
)

var (
	//go:embed DDL.sql
	ddl string
)

// New opens target (a file path, a `file:` uri or `:memory:`) and applies the schema.
func New(target string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dsn(target))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to `%v`", target)
	}
	db.SetMaxOpenConns(1)
	db.Mapper = reflectx.NewMapperFunc("db", func(in string) string {
		if n := strings.ToLower(in); n != "createdat" {
			return n
		}

		return "created_at"
	})

	store := &Store{
		DB:          db,
		stmtCacheMx: new(sync.RWMutex),
		stmtCache:   make(map[string]*sqlx.NamedStmt),
	}
	for _, statement := range strings.Split(ddl, "--------") {
		if _, err = db.Exec(statement); err != nil {
			return nil, multierror.Append(
				errors.Wrapf(err, "failed to apply DDL statement `%v`", strings.TrimSpace(statement)),
				db.Close(),
			).ErrorOrNil()
		}
	}

	return store, nil
}

// dsn turns on case-sensitive LIKE so id/author prefixes keep their exact case.
func dsn(target string) string {
	if target == "" {
		target = memoryTarget
	}
	sep := "?"
	if strings.ContainsRune(target, '?') {
		sep = "&"
	}

	return target + sep + "_cslike=true"
}

func (*Store) exec(ctx context.Context, tx *sqlx.Tx, stmt *sqlx.NamedStmt, arg any) (rowsAffected int64, err error) {
	if tx != nil {
		stmt = tx.NamedStmtContext(ctx, stmt)
	}

	result, err := stmt.ExecContext(ctx, arg)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to exec prepared sql: `%v`", stmt.QueryString)
	}
	if rowsAffected, err = result.RowsAffected(); err != nil {
		return 0, errors.Wrapf(err, "failed to process rows affected for exec prepared sql: `%v`", stmt.QueryString)
	}

	return rowsAffected, nil
}

// prepare returns the cached statement for sql. The cache lock is never held while preparing:
// preparing needs the single connection, which a running transaction may hold.
func (db *Store) prepare(ctx context.Context, sql string) (*sqlx.NamedStmt, error) {
	hash := hashSQL(sql)

	db.stmtCacheMx.RLock()
	stmt, found := db.stmtCache[hash]
	db.stmtCacheMx.RUnlock()
	if found {
		return stmt, nil
	}

	prepared, err := db.PrepareNamedContext(ctx, sql)
	if err != nil {
		return nil, err //nolint:wrapcheck // Wrapped by the callers.
	}
	db.stmtCacheMx.Lock()
	if stmt, found = db.stmtCache[hash]; !found {
		db.stmtCache[hash] = prepared
		db.stmtCacheMx.Unlock()

		return prepared, nil
	}
	db.stmtCacheMx.Unlock()

	return stmt, errors.Wrap(prepared.Close(), "failed to close duplicate statement")
}

// prepareAll resolves every statement a transaction needs before it starts.
func (db *Store) prepareAll(ctx context.Context, sqls ...string) ([]*sqlx.NamedStmt, error) {
	stmts := make([]*sqlx.NamedStmt, 0, len(sqls))
	for _, sql := range sqls {
		stmt, err := db.prepare(ctx, sql)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to prepare `%v`", sql)
		}
		stmts = append(stmts, stmt)
	}

	return stmts, nil
}

// inTx runs fn inside a transaction. Statements fn needs must be prepared before the call:
// the single connection is held by the transaction until it finishes.
func (db *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err = fn(tx); err != nil {
		return multierror.Append(err, errors.Wrap(tx.Rollback(), "failed to rollback")).ErrorOrNil()
	}

	return errors.Wrap(tx.Commit(), "failed to commit transaction")
}

func (db *Store) Close() error {
	var result *multierror.Error

	db.stmtCacheMx.Lock()
	for hash, stmt := range db.stmtCache {
		if err := stmt.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "failed to close statement"))
		}
		delete(db.stmtCache, hash)
	}
	db.stmtCacheMx.Unlock()

	if err := db.DB.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "failed to close database"))
	}

	return result.ErrorOrNil()
}

func hashSQL(sql string) (hash string) {
	sum := sha256.Sum256([]byte(sql))

	return string(sum[:])
}
