package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/testutil"
)

// fakeS3 serves just enough of the path-style S3 protocol for Store.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]http.Header
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch req.Method {
	case http.MethodPut:
		b, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.objects[req.URL.Path] = b
		f.meta[req.URL.Path] = req.Header.Clone()
		w.Header().Set("ETag", `"x"`)
		w.WriteHeader(http.StatusOK)

	case http.MethodGet:
		b, ok := f.objects[req.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Write(b)

	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func newFakeStore(t *testing.T) (*Store, *fakeS3) {
	f := &fakeS3{objects: make(map[string][]byte), meta: make(map[string]http.Header)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(srv.URL),
		Region:           aws.String("us-east-1"),
		S3ForcePathStyle: aws.Bool(true),
		Credentials:      credentials.NewStaticCredentials("id", "secret", ""),
	})
	if err != nil {
		t.Fatal(err)
	}
	return New("bucket", "blobs/", sess), f
}

type testSigner string

func (s testSigner) Address() string { return string(s) }

func TestFakeStore(t *testing.T) {
	s, _ := newFakeStore(t)
	testutil.ReadWrite(context.Background(), t, s, testutil.Data(64*1024))
}

func TestKeyAndMetadata(t *testing.T) {
	s, f := newFakeStore(t)
	h, err := s.Put(context.Background(), []byte("hello"), bsv.PutOptions{Epochs: 3, Signer: testSigner("0x9")})
	if err != nil {
		t.Fatal(err)
	}

	path := "/bucket/blobs/" + h.String()
	if _, ok := f.objects[path]; !ok {
		t.Fatalf("no object at %s", path)
	}
	hdr := f.meta[path]
	if got := hdr.Get("X-Amz-Meta-Epochs"); got != "3" {
		t.Errorf("got epochs metadata %q, want 3", got)
	}
	if got := hdr.Get("X-Amz-Meta-Owner"); got != "0x9" {
		t.Errorf("got owner metadata %q, want 0x9", got)
	}
}

const bucketVar = "BSV_S3_TESTING_BUCKET"

func TestStore(t *testing.T) {
	bucket := os.Getenv(bucketVar)
	if bucket == "" {
		t.Skipf("to run %s, set %s to the name of a writable bucket (credentials come from the usual AWS environment)", t.Name(), bucketVar)
	}
	sess, err := session.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	prefix := "bsvtest/" + strings.ReplaceAll(t.Name(), "/", "_") + "/"
	testutil.ReadWrite(context.Background(), t, New(bucket, prefix, sess), testutil.Data(1<<20))
}
