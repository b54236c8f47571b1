// Package pg implements a blob store in a Postgresql database.
package pg

import (
	"context"
	"database/sql"
	stderrs "errors"
	"time"

	_ "github.com/lib/pq" // register the postgres type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/store"
)

var _ bsv.Store = &Store{}

// Store is a Postgresql-based blob store.
type Store struct {
	db *sql.DB
}

// Schema is the SQL that New executes.
// It creates the `blobs` table if it does not exist.
// (If it does exist, it must have the columns and constraints described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS blobs (
  handle TEXT PRIMARY KEY NOT NULL,
  data BYTEA NOT NULL,
  epochs INTEGER NOT NULL,
  deletable BOOLEAN NOT NULL,
  owner TEXT NOT NULL,
  stored_at TIMESTAMP WITH TIME ZONE NOT NULL
);
`

// New produces a new Store using `db` for storage.
// It expects to create table `blobs`,
// or for that table already to exist with the correct schema.
// (See variable Schema.)
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, Schema)
	return &Store{db: db}, errors.Wrap(err, "creating blobs table")
}

// Get gets the blob with handle h.
func (s *Store) Get(ctx context.Context, h bsv.Handle) ([]byte, error) {
	const q = `SELECT data FROM blobs WHERE handle = $1`

	var result []byte
	err := s.db.QueryRowContext(ctx, q, string(h)).Scan(&result)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil, bsv.ErrNotFound
	}
	return result, errors.Wrapf(err, "getting blob %s", h)
}

// Put adds a blob to the store if it wasn't already present.
func (s *Store) Put(ctx context.Context, blob []byte, opts bsv.PutOptions) (bsv.Handle, error) {
	const q = `INSERT INTO blobs (handle, data, epochs, deletable, owner, stored_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT DO NOTHING`

	var owner string
	if opts.Signer != nil {
		owner = opts.Signer.Address()
	}

	h := bsv.HandleOf(blob)
	_, err := s.db.ExecContext(ctx, q, string(h), blob, opts.Epochs, opts.Deletable, owner, time.Now())
	if err != nil {
		return "", errors.Wrap(err, "inserting blob")
	}
	return h, nil
}

func init() {
	store.Register("pg", func(ctx context.Context, conf map[string]interface{}) (bsv.Store, error) {
		conn, err := store.String(conf, "conn")
		if err != nil {
			return nil, err
		}
		db, err := sql.Open("postgres", conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening db")
		}
		return New(ctx, db)
	})
}
