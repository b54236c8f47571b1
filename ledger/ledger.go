// Package ledger keeps the local version history of repeatedly uploaded files.
//
// Each logical file identity
// (usually the path it was uploaded from)
// maps to an Entry holding its last version,
// when it was last uploaded,
// and how many uploads have been recorded.
// The remote store knows none of this;
// the ledger is the only place that history lives.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("logger", "ledger")

// Entry is the version history of one identity.
type Entry struct {
	LastVersion string    `json:"lastVersion"`
	LastUpdated time.Time `json:"lastUpdated"`
	UploadCount int       `json:"uploadCount"`
}

// State maps identities to their entries.
type State map[string]Entry

// Backend persists a State.
type Backend interface {
	// Load reads the persisted state.
	// A backend with nothing persisted yet returns an empty State.
	// A backend whose persisted state can't be parsed returns an error wrapping ErrCorrupt.
	Load(context.Context) (State, error)

	// Save replaces the persisted state wholesale.
	Save(context.Context, State) error
}

// Locker is implemented by backends that can exclude other writers,
// including ones in other processes,
// for the duration of a load-modify-save.
type Locker interface {
	Lock(context.Context) error
	Unlock() error
}

// Updater is implemented by backends that can run a load-modify-save
// as one atomic operation,
// such as a database transaction.
// Update loads the state, passes it to f for modification,
// and saves the result if f returns no error.
type Updater interface {
	Update(ctx context.Context, f func(State) error) error
}

var (
	// ErrCorrupt means persisted ledger state could not be parsed.
	ErrCorrupt = errors.New("ledger corrupt")

	// ErrMalformedVersion means a version string is not dot-separated non-negative integers.
	ErrMalformedVersion = errors.New("malformed version")
)

// SeedVersion is the version assigned to an identity's first upload.
const SeedVersion = "0.1.0"

// Ledger computes and records versions.
// It is safe for concurrent use by multiple goroutines.
// Record is also safe across processes
// when the backend is a Locker or an Updater.
type Ledger struct {
	b Backend

	mu sync.Mutex // serializes update

	// Strict makes Load surface ErrCorrupt instead of starting over with an empty state.
	Strict bool

	now func() time.Time
}

// New produces a Ledger persisted by b.
func New(b Backend) *Ledger {
	return &Ledger{b: b, now: time.Now}
}

// Load reads the persisted state.
// Unless the ledger is Strict,
// corrupt state is logged and discarded:
// the result is an empty State and no error,
// trading version-history continuity for availability.
func (l *Ledger) Load(ctx context.Context) (State, error) {
	st, err := l.b.Load(ctx)
	if errors.Is(err, ErrCorrupt) && !l.Strict {
		log.WithError(err).Warn("could not load version data, starting with an empty ledger")
		return make(State), nil
	}
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = make(State)
	}
	return st, nil
}

// Save replaces the persisted state.
func (l *Ledger) Save(ctx context.Context, st State) error {
	return l.b.Save(ctx, st)
}

// Get returns the entry for an identity.
func (l *Ledger) Get(ctx context.Context, identity string) (Entry, bool, error) {
	st, err := l.Load(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := st[identity]
	return e, ok, nil
}

// NextVersion gives the version the next upload of identity should carry.
// A non-empty override is returned as-is, without consulting history.
// An identity with no history gets SeedVersion.
// Otherwise the last recorded version is incremented (see Increment).
func (l *Ledger) NextVersion(ctx context.Context, identity, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	e, ok, err := l.Get(ctx, identity)
	if err != nil {
		return "", err
	}
	if !ok {
		return SeedVersion, nil
	}
	v, err := Increment(e.LastVersion)
	return v, errors.Wrapf(err, "computing next version of %s", identity)
}

// Record notes a successful upload of identity at version.
// Call it only after the store has confirmed the write.
func (l *Ledger) Record(ctx context.Context, identity, version string) (Entry, error) {
	var result Entry
	err := l.update(ctx, func(st State) error {
		e, ok := st[identity]
		if ok {
			e.UploadCount++
		} else {
			e.UploadCount = 1
		}
		e.LastVersion = version
		e.LastUpdated = l.now().UTC()
		st[identity] = e
		result = e
		return nil
	})
	if err != nil {
		return Entry{}, errors.Wrapf(err, "recording %s at version %s", identity, version)
	}
	log.WithFields(logrus.Fields{"identity": identity, "version": version, "uploads": result.UploadCount}).Info("recorded upload")
	return result, nil
}

func (l *Ledger) update(ctx context.Context, f func(State) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if u, ok := l.b.(Updater); ok {
		err := u.Update(ctx, f)
		if errors.Is(err, ErrCorrupt) && !l.Strict {
			log.WithError(err).Warn("could not load version data, starting with an empty ledger")
			if err := l.b.Save(ctx, make(State)); err != nil {
				return errors.Wrap(err, "resetting ledger")
			}
			err = u.Update(ctx, f)
		}
		return err
	}

	if lk, ok := l.b.(Locker); ok {
		if err := lk.Lock(ctx); err != nil {
			return errors.Wrap(err, "locking ledger")
		}
		defer func() {
			if err := lk.Unlock(); err != nil {
				log.WithError(err).Error("unlocking ledger")
			}
		}()
	}

	st, err := l.Load(ctx)
	if err != nil {
		return err
	}
	if err := f(st); err != nil {
		return err
	}
	return l.Save(ctx, st)
}

// Increment computes the version following v.
//
//   - With three or more components, the third (patch) is incremented
//     and anything after it is dropped: 1.2.3 -> 1.2.4.
//   - With two, a patch component of 1 is added: 1.2 -> 1.2.1.
//   - With one, .0.1 is added: 5 -> 5.0.1.
//
// Every component must be a non-negative decimal integer;
// otherwise the error wraps ErrMalformedVersion.
func Increment(v string) (string, error) {
	parts := strings.Split(v, ".")
	for _, p := range parts {
		if !isDecimal(p) {
			return "", errors.Wrapf(ErrMalformedVersion, "%q", v)
		}
	}

	switch len(parts) {
	case 1:
		return v + ".0.1", nil
	case 2:
		return v + ".1", nil
	}

	patch, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return "", errors.Wrapf(ErrMalformedVersion, "%q: %s", v, err)
	}
	return fmt.Sprintf("%s.%s.%d", parts[0], parts[1], patch+1), nil
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
