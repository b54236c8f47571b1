// Package walrus implements a blob store on the Walrus decentralized storage network,
// through the HTTP APIs of a Walrus publisher (for writes)
// and aggregator (for reads).
package walrus

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/store"
)

var log = logrus.WithField("logger", "walrus")

var _ bsv.Store = &Store{}

// Testnet endpoints.
const (
	DefaultPublisher  = "https://publisher.walrus-testnet.walrus.space"
	DefaultAggregator = "https://aggregator.walrus-testnet.walrus.space"
)

// Store talks to a Walrus publisher and aggregator.
type Store struct {
	publisher  string
	aggregator string
	client     *http.Client
}

// New produces a new Store.
// A nil client means http.DefaultClient.
func New(publisher, aggregator string, client *http.Client) *Store {
	if client == nil {
		client = http.DefaultClient
	}
	return &Store{
		publisher:  strings.TrimSuffix(publisher, "/"),
		aggregator: strings.TrimSuffix(aggregator, "/"),
		client:     client,
	}
}

// StatusError is an unexpected HTTP response from a publisher or aggregator.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Body)
}

// Retryable tells whether err is worth retrying.
// Client errors (4xx) other than timeouts and rate limiting are not,
// nor is bsv.ErrNotFound.
// Everything else,
// including transport failures,
// is.
func Retryable(err error) bool {
	if errors.Is(err, bsv.ErrNotFound) {
		return false
	}
	var e *StatusError
	if errors.As(err, &e) && e.Code >= 400 && e.Code < 500 {
		return e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests
	}
	return true
}

// maxErrBody bounds how much of an error response is kept in a StatusError.
const maxErrBody = 512

func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

// Put stores a blob through the publisher.
// Epochs and Deletable are passed along as query parameters,
// and the resulting blob object is sent to the Signer's address.
func (s *Store) Put(ctx context.Context, blob []byte, opts bsv.PutOptions) (bsv.Handle, error) {
	q := url.Values{}
	if opts.Epochs > 0 {
		q.Set("epochs", strconv.Itoa(opts.Epochs))
	}
	if opts.Deletable {
		q.Set("deletable", "true")
	} else {
		q.Set("permanent", "true")
	}
	if opts.Signer != nil {
		if addr := opts.Signer.Address(); addr != "" {
			q.Set("send_object_to", addr)
		}
	}
	u := s.publisher + "/v1/blobs?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(blob))
	if err != nil {
		return "", errors.Wrap(err, "creating request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "sending blob to publisher")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("storing blob", resp)
	}

	obj, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "decoding publisher response")
	}
	h, status, err := parseStoreResponse(obj)
	if err != nil {
		return "", err
	}

	log.WithFields(logrus.Fields{
		"handle":  h,
		"size":    len(blob),
		"status":  status,
		"elapsed": time.Since(start),
	}).Debug("stored blob")

	return h, nil
}

// parseStoreResponse gets the blob ID out of a publisher response,
// which has one of two shapes:
// newlyCreated.blobObject.blobId for a new blob,
// alreadyCertified.blobId for one already stored.
func parseStoreResponse(obj *jason.Object) (bsv.Handle, string, error) {
	if id, err := obj.GetString("newlyCreated", "blobObject", "blobId"); err == nil {
		return bsv.Handle(id), "newlyCreated", nil
	}
	if id, err := obj.GetString("alreadyCertified", "blobId"); err == nil {
		return bsv.Handle(id), "alreadyCertified", nil
	}
	return "", "", errors.New("no blob ID in publisher response")
}

// Get reads a blob through the aggregator.
func (s *Store) Get(ctx context.Context, h bsv.Handle) ([]byte, error) {
	if h.IsZero() || strings.ContainsAny(string(h), "/?#") {
		return nil, bsv.ErrNotFound
	}
	u := s.aggregator + "/v1/blobs/" + url.PathEscape(string(h))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "reading blob %s from aggregator", h)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		b, err := io.ReadAll(resp.Body)
		return b, errors.Wrapf(err, "reading body of blob %s", h)
	case http.StatusNotFound:
		return nil, bsv.ErrNotFound
	}
	return nil, statusError(fmt.Sprintf("reading blob %s", h), resp)
}

// Config parameters:
//   publisher: publisher base URL (default DefaultPublisher)
//   aggregator: aggregator base URL (default DefaultAggregator)
//   timeout: per-request timeout in seconds (default none)
func init() {
	store.Register("walrus", func(_ context.Context, conf map[string]interface{}) (bsv.Store, error) {
		publisher, ok := conf["publisher"].(string)
		if !ok {
			publisher = DefaultPublisher
		}
		aggregator, ok := conf["aggregator"].(string)
		if !ok {
			aggregator = DefaultAggregator
		}
		timeout, err := store.Int(conf, "timeout", 0)
		if err != nil {
			return nil, err
		}
		return New(publisher, aggregator, &http.Client{Timeout: time.Duration(timeout) * time.Second}), nil
	})
}
