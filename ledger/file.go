package ledger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/bobg/flock"
	"github.com/pkg/errors"
)

// DefaultPath is where the file backend keeps the ledger
// when no other location is configured.
const DefaultPath = "versions.json"

var (
	_ Backend = &FileBackend{}
	_ Locker  = &FileBackend{}
)

// FileBackend keeps the ledger in a single pretty-printed JSON file.
// Save overwrites the whole file.
// An advisory lock on a sibling ".lock" file
// keeps processes sharing the file from interleaving their updates.
// A lock left behind by a crashed process expires after a minute.
type FileBackend struct {
	path    string
	flocker flock.Locker
}

// NewFileBackend produces a FileBackend for the file at path.
func NewFileBackend(path string) *FileBackend {
	if path == "" {
		path = DefaultPath
	}
	return &FileBackend{path: path}
}

// Path is the location of the ledger file.
func (b *FileBackend) Path() string {
	return b.path
}

// Load implements Backend.Load.
func (b *FileBackend) Load(_ context.Context) (State, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(State), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", b.path)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "parsing %s: %s", b.path, err)
	}
	if st == nil {
		st = make(State)
	}
	return st, nil
}

// Save implements Backend.Save.
// It is not atomic:
// a crash partway through can leave a corrupt file behind.
func (b *FileBackend) Save(_ context.Context, st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding version data")
	}
	if dir := filepath.Dir(b.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "ensuring %s exists", dir)
		}
	}
	return errors.Wrapf(os.WriteFile(b.path, data, 0644), "writing %s", b.path)
}

// lockPoll is how often Lock retries a lock held by someone else.
const lockPoll = 20 * time.Millisecond

// Lock implements Locker.
// It waits for a lock held elsewhere to be released (or to expire),
// returning early only if ctx is canceled.
func (b *FileBackend) Lock(ctx context.Context) error {
	if dir := filepath.Dir(b.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "ensuring %s exists", dir)
		}
	}
	for {
		err := b.flocker.Lock(b.path)
		if !errors.Is(err, flock.ErrLocked) {
			return errors.Wrapf(err, "locking %s", b.path)
		}

		t := time.NewTimer(lockPoll)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Wrapf(ctx.Err(), "waiting for lock on %s", b.path)
		case <-t.C:
		}
	}
}

// Unlock implements Locker.
func (b *FileBackend) Unlock() error {
	return b.flocker.Unlock(b.path)
}
