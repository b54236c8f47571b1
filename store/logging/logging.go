// Package logging implements a store that delegates everything to a nested store,
// logging operations as they happen.
package logging

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/store"
)

var _ bsv.Store = &Store{}

// Store logs each operation on a nested store.
type Store struct {
	s   bsv.Store
	log logrus.FieldLogger
}

// New produces a Store logging operations on s to l.
// A nil l means the standard logrus logger.
func New(s bsv.Store, l logrus.FieldLogger) *Store {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &Store{s: s, log: l.WithField("logger", "store")}
}

func (s *Store) Get(ctx context.Context, h bsv.Handle) ([]byte, error) {
	start := time.Now()
	b, err := s.s.Get(ctx, h)
	l := s.log.WithFields(logrus.Fields{"handle": h, "elapsed": time.Since(start)})
	if err != nil {
		l.WithError(err).Error("Get")
	} else {
		l.WithField("size", len(b)).Info("Get")
	}
	return b, err
}

func (s *Store) Put(ctx context.Context, blob []byte, opts bsv.PutOptions) (bsv.Handle, error) {
	start := time.Now()
	h, err := s.s.Put(ctx, blob, opts)
	l := s.log.WithFields(logrus.Fields{
		"size":      len(blob),
		"epochs":    opts.Epochs,
		"deletable": opts.Deletable,
		"elapsed":   time.Since(start),
	})
	if err != nil {
		l.WithError(err).Error("Put")
	} else {
		l.WithField("handle", h).Info("Put")
	}
	return h, err
}

func init() {
	store.Register("logging", func(ctx context.Context, conf map[string]interface{}) (bsv.Store, error) {
		nested, err := store.Nested(ctx, conf, "nested")
		if err != nil {
			return nil, err
		}
		return New(nested, nil), nil
	})
}
