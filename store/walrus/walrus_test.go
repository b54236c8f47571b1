package walrus

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/antonholmquist/jason"
	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/testutil"
)

// fakeWalrus plays both publisher and aggregator.
type fakeWalrus struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	queries []url.Values
	fail    int // fail this many PUTs with a 503
}

func newFakeWalrus(t *testing.T) (*fakeWalrus, *Store) {
	f := &fakeWalrus{blobs: make(map[string][]byte)}

	r := chi.NewRouter()
	r.Put("/v1/blobs", f.put)
	r.Get("/v1/blobs/{id}", f.get)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return f, New(srv.URL, srv.URL+"/", srv.Client())
}

func (f *fakeWalrus) put(w http.ResponseWriter, req *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, req.URL.Query())
	if f.fail > 0 {
		f.fail--
		http.Error(w, "try later", http.StatusServiceUnavailable)
		return
	}

	b, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sum := sha256.Sum256(b)
	id := base64.RawURLEncoding.EncodeToString(sum[:])

	w.Header().Set("Content-Type", "application/json")
	if _, ok := f.blobs[id]; ok {
		fmt.Fprintf(w, `{"alreadyCertified":{"blobId":%q,"endEpoch":42}}`, id)
		return
	}
	f.blobs[id] = b
	fmt.Fprintf(w, `{"newlyCreated":{"blobObject":{"id":"0x1","blobId":%q,"size":%d},"cost":100}}`, id, len(b))
}

func (f *fakeWalrus) get(w http.ResponseWriter, req *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.blobs[chi.URLParam(req, "id")]
	if !ok {
		http.NotFound(w, req)
		return
	}
	w.Write(b)
}

type testSigner string

func (s testSigner) Address() string { return string(s) }

func TestStore(t *testing.T) {
	_, s := newFakeWalrus(t)
	testutil.ReadWrite(context.Background(), t, s, testutil.Data(1<<20))
}

func TestQuery(t *testing.T) {
	f, s := newFakeWalrus(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, []byte("a"), bsv.PutOptions{Epochs: 3, Signer: testSigner("0xabc")}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, []byte("b"), bsv.PutOptions{Epochs: 5, Deletable: true}); err != nil {
		t.Fatal(err)
	}

	want := []url.Values{
		{"epochs": {"3"}, "permanent": {"true"}, "send_object_to": {"0xabc"}},
		{"epochs": {"5"}, "deletable": {"true"}},
	}
	if diff := cmp.Diff(want, f.queries); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusError(t *testing.T) {
	f, s := newFakeWalrus(t)
	f.fail = 1

	_, err := s.Put(context.Background(), []byte("a"), bsv.PutOptions{})
	var e *StatusError
	if !errors.As(err, &e) {
		t.Fatalf("got %v, want StatusError", err)
	}
	if e.Code != http.StatusServiceUnavailable {
		t.Errorf("got code %d", e.Code)
	}
	if !strings.Contains(e.Body, "try later") {
		t.Errorf("got body %q", e.Body)
	}
	if !Retryable(err) {
		t.Error("503 should be retryable")
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("connection refused"), true},
		{bsv.ErrNotFound, false},
		{errors.Wrap(bsv.ErrNotFound, "x"), false},
		{&StatusError{Code: 400}, false},
		{&StatusError{Code: 413}, false},
		{&StatusError{Code: 408}, true},
		{&StatusError{Code: 429}, true},
		{&StatusError{Code: 500}, true},
	}
	for i, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Errorf("case %d (%v): got %v, want %v", i+1, c.err, got, c.want)
		}
	}
}

func TestParseStoreResponse(t *testing.T) {
	cases := []struct {
		body       string
		wantHandle bsv.Handle
		wantStatus string
		wantErr    bool
	}{
		{`{"newlyCreated":{"blobObject":{"blobId":"abc"}}}`, "abc", "newlyCreated", false},
		{`{"alreadyCertified":{"blobId":"def","endEpoch":1}}`, "def", "alreadyCertified", false},
		{`{"somethingElse":{}}`, "", "", true},
		{`{"newlyCreated":{"blobObject":{"blobId":7}}}`, "", "", true},
	}
	for i, c := range cases {
		obj, err := jason.NewObjectFromBytes([]byte(c.body))
		if err != nil {
			t.Fatal(err)
		}
		h, status, err := parseStoreResponse(obj)
		if c.wantErr {
			if err == nil {
				t.Errorf("case %d: got no error", i+1)
			}
			continue
		}
		if err != nil {
			t.Errorf("case %d: %s", i+1, err)
			continue
		}
		if h != c.wantHandle || status != c.wantStatus {
			t.Errorf("case %d: got (%s, %s), want (%s, %s)", i+1, h, status, c.wantHandle, c.wantStatus)
		}
	}
}
