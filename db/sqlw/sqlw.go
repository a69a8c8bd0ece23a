// database/sql wrappers for sqlite
package sqlw

import (
	"context"
	"database/sql"
	"time"
)

type Queryable interface {
	Exec(query string, args ...any) (sql.Result, error)
	MustExec(query string, args ...any) sql.Result
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

type DB struct {
	impl *sql.DB
}

func Wrap(db *sql.DB) *DB {
	return &DB{impl: db}
}

func (db *DB) Close() error {
	return db.impl.Close()
}

// Conn binds the pool to a context so that queries read like the rest of the code.
func (db *DB) Conn(ctx context.Context) *Conn {
	return &Conn{
		impl: db.impl,
		ctx:  ctx,
	}
}

type Conn struct {
	impl *sql.DB
	ctx  context.Context
}

func (conn *Conn) Begin() (*Tx, error) {
	t1 := time.Now()
	defer addDuration(conn.ctx, t1)()

	tx, err := conn.impl.BeginTx(conn.ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{
		impl: tx,
		ctx:  conn.ctx,
	}, nil
}

func (conn *Conn) Exec(query string, args ...any) (sql.Result, error) {
	t1 := time.Now()
	defer addDuration(conn.ctx, t1)()

	return conn.impl.ExecContext(conn.ctx, query, args...)
}

func (conn *Conn) MustExec(query string, args ...any) sql.Result {
	result, err := conn.Exec(query, args...)
	if err != nil {
		panic(err)
	}
	return result
}

func (conn *Conn) Query(query string, args ...any) (*sql.Rows, error) {
	t1 := time.Now()
	defer addDuration(conn.ctx, t1)()

	return conn.impl.QueryContext(conn.ctx, query, args...)
}

func (conn *Conn) QueryRow(query string, args ...any) *sql.Row {
	t1 := time.Now()
	defer addDuration(conn.ctx, t1)()

	return conn.impl.QueryRowContext(conn.ctx, query, args...)
}

type Tx struct {
	impl *sql.Tx
	ctx  context.Context
}

func (tx *Tx) Commit() error {
	t1 := time.Now()
	defer addDuration(tx.ctx, t1)()

	return tx.impl.Commit()
}

// Rollback after Commit returns sql.ErrTxDone, so a deferred Rollback is safe.
func (tx *Tx) Rollback() error {
	t1 := time.Now()
	defer addDuration(tx.ctx, t1)()

	return tx.impl.Rollback()
}

func (tx *Tx) Exec(query string, args ...any) (sql.Result, error) {
	t1 := time.Now()
	defer addDuration(tx.ctx, t1)()

	return tx.impl.ExecContext(tx.ctx, query, args...)
}

func (tx *Tx) MustExec(query string, args ...any) sql.Result {
	result, err := tx.Exec(query, args...)
	if err != nil {
		panic(err)
	}
	return result
}

func (tx *Tx) Query(query string, args ...any) (*sql.Rows, error) {
	t1 := time.Now()
	defer addDuration(tx.ctx, t1)()

	return tx.impl.QueryContext(tx.ctx, query, args...)
}

func (tx *Tx) QueryRow(query string, args ...any) *sql.Row {
	t1 := time.Now()
	defer addDuration(tx.ctx, t1)()

	return tx.impl.QueryRowContext(tx.ctx, query, args...)
}

type dbDurationKeyType struct{}

var dbDurationKey = &dbDurationKeyType{}

func addDuration(ctx context.Context, t1 time.Time) func() {
	return func() {
		t2 := time.Now()
		dbDurationAny := ctx.Value(dbDurationKey)
		if dbDurationAny != nil {
			dbDuration := dbDurationAny.(*time.Duration)
			*dbDuration += t2.Sub(t1)
		}
	}
}

// DbDuration is the time spent in the database under a context from WithDbDuration.
func DbDuration(ctx context.Context) time.Duration {
	dbDuration := ctx.Value(dbDurationKey)
	if dbDuration == nil {
		panic("Must call sqlw.WithDbDuration() first")
	}

	return *dbDuration.(*time.Duration)
}

func WithDbDuration(ctx context.Context) context.Context {
	dbDuration := time.Duration(0)
	return context.WithValue(ctx, dbDurationKey, &dbDuration)
}
