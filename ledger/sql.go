package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"
)

var (
	_ Backend = &SQLBackend{}
	_ Updater = &SQLBackend{}
)

// SQLBackend keeps the ledger in a SQL table.
// Save runs in a transaction,
// so a crash can't leave a half-written ledger the way it can with FileBackend.
// Update runs its whole load-modify-save in one transaction
// that excludes other writers,
// including ones in other processes.
// It works with the sqlite3 and postgres drivers.
type SQLBackend struct {
	db     *sql.DB
	driver string
}

// Schema is the SQL that NewSQLBackend executes.
// It creates the `versions` table if it does not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS versions (
  identity TEXT PRIMARY KEY NOT NULL,
  last_version TEXT NOT NULL,
  last_updated TEXT NOT NULL,
  upload_count INTEGER NOT NULL
);
`

// NewSQLBackend produces a SQLBackend using db for storage.
// The driver is the name db was opened with,
// "sqlite3" or "postgres".
func NewSQLBackend(ctx context.Context, db *sql.DB, driver string) (*SQLBackend, error) {
	switch driver {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", driver)
	}
	_, err := db.ExecContext(ctx, Schema)
	return &SQLBackend{db: db, driver: driver}, errors.Wrap(err, "creating versions table")
}

type execQueryer interface {
	sqlutil.QueryerContext
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
}

func load(ctx context.Context, db sqlutil.QueryerContext) (State, error) {
	const q = `SELECT identity, last_version, last_updated, upload_count FROM versions`

	st := make(State)
	err := sqlutil.ForQueryRows(ctx, db, q, func(identity, version, updated string, count int) error {
		t, err := time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			return errors.Wrapf(ErrCorrupt, "parsing last_updated %q of %s: %s", updated, identity, err)
		}
		st[identity] = Entry{LastVersion: version, LastUpdated: t, UploadCount: count}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying versions")
	}
	return st, nil
}

func save(ctx context.Context, db execQueryer, st State) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM versions`); err != nil {
		return errors.Wrap(err, "clearing versions")
	}

	const q = `INSERT INTO versions (identity, last_version, last_updated, upload_count) VALUES ($1, $2, $3, $4)`
	for identity, e := range st {
		_, err := db.ExecContext(ctx, q, identity, e.LastVersion, e.LastUpdated.UTC().Format(time.RFC3339Nano), e.UploadCount)
		if err != nil {
			return errors.Wrapf(err, "inserting %s", identity)
		}
	}
	return nil
}

// Load implements Backend.Load.
func (b *SQLBackend) Load(ctx context.Context) (State, error) {
	return load(ctx, b.db)
}

// Save implements Backend.Save.
func (b *SQLBackend) Save(ctx context.Context, st State) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = save(ctx, tx, st); err != nil {
		return err
	}
	err = tx.Commit()
	return errors.Wrap(err, "committing versions")
}

// Update implements Updater.
func (b *SQLBackend) Update(ctx context.Context, f func(State) error) error {
	if b.driver == "sqlite3" {
		return b.updateSqlite(ctx, f)
	}
	return b.updatePostgres(ctx, f)
}

func modify(ctx context.Context, db execQueryer, f func(State) error) error {
	st, err := load(ctx, db)
	if err != nil {
		return err
	}
	if err := f(st); err != nil {
		return err
	}
	return save(ctx, db, st)
}

// A deferred sqlite transaction takes its write lock only at the first write,
// by which time a concurrent one may have read the same state.
// BEGIN IMMEDIATE takes it up front,
// so the driver's busy timeout queues competing writers instead.
// That needs a dedicated connection,
// since database/sql has no way to ask for it.
func (b *SQLBackend) updateSqlite(ctx context.Context, f func(State) error) (err error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return errors.Wrap(err, "getting connection")
	}
	defer conn.Close()

	if _, err = conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			if _, rbErr := conn.ExecContext(context.Background(), `ROLLBACK`); rbErr != nil {
				log.WithError(rbErr).Error("rolling back ledger update")
			}
		}
	}()

	if err = modify(ctx, conn, f); err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `COMMIT`)
	return errors.Wrap(err, "committing versions")
}

func (b *SQLBackend) updatePostgres(ctx context.Context, f func(State) error) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// Conflicts with itself, so concurrent updates queue here.
	if _, err = tx.ExecContext(ctx, `LOCK TABLE versions IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return errors.Wrap(err, "locking versions")
	}
	if err = modify(ctx, tx, f); err != nil {
		return err
	}
	err = tx.Commit()
	return errors.Wrap(err, "committing versions")
}
