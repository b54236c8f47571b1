package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/client"
	"github.com/bobg/bsv/ledger"
	"github.com/bobg/bsv/store/mem"
	"github.com/bobg/bsv/testutil"
	"github.com/bobg/bsv/upload"
)

type testSigner string

func (s testSigner) Address() string { return string(s) }

func newTestServer(t *testing.T) (*httptest.Server, *mem.Store) {
	t.Helper()

	st := mem.New()
	c := client.New(st, testSigner("0xabc"))
	c.Retry.Sleep = func(context.Context, time.Duration) error { return nil }

	led := ledger.New(ledger.NewFileBackend(filepath.Join(t.TempDir(), "versions.json")))

	s := &Server{
		Client:   c,
		Uploader: &upload.Uploader{Client: c, Ledger: led},
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatal(err)
	}
	return m
}

func uploadBody(t *testing.T, field, fileName string, data []byte, fields map[string]string) (string, *bytes.Buffer) {
	t.Helper()

	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if field != "" {
		fw, err := w.CreateFormFile(field, fileName)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return w.FormDataContentType(), buf
}

func postFile(t *testing.T, url, field, fileName string, data []byte, fields map[string]string) *http.Response {
	t.Helper()

	contentType, body := uploadBody(t, field, fileName, data, fields)
	resp, err := http.Post(url+"/upload", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	m := decode(t, resp)
	if m["status"] != "ok" {
		t.Errorf("got status %v, want ok", m["status"])
	}
	if m["address"] != "0xabc" {
		t.Errorf("got address %v, want 0xabc", m["address"])
	}
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/upload", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("got status %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("got Access-Control-Allow-Origin %q", got)
	}
}

func TestUploadRetrieve(t *testing.T) {
	srv, _ := newTestServer(t)
	data := testutil.Data(100000)

	resp := postFile(t, srv.URL, "tarFile", "site.tar.gz", data, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status %d", resp.StatusCode)
	}
	m := decode(t, resp)
	if m["success"] != true {
		t.Errorf("got success %v", m["success"])
	}
	if m["fileName"] != "site.tar.gz" {
		t.Errorf("got fileName %v", m["fileName"])
	}
	if m["fileSize"] != float64(len(data)) {
		t.Errorf("got fileSize %v, want %d", m["fileSize"], len(data))
	}
	if m["description"] != "Uploaded tar file" {
		t.Errorf("got description %v", m["description"])
	}
	if diff := cmp.Diff([]interface{}{"uploaded", "tar"}, m["tags"]); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	if _, ok := m["version"]; ok {
		t.Error("unversioned upload reported a version")
	}

	blobID, _ := m["blobId"].(string)
	if !bsv.Handle(blobID).Valid() {
		t.Fatalf("got invalid blobId %q", blobID)
	}

	resp, err := http.Get(srv.URL + "/retrieve/" + blobID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retrieve status %d", resp.StatusCode)
	}
	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	if err != nil {
		t.Fatal(err)
	}
	if params["filename"] != "site.tar.gz" {
		t.Errorf("got filename %q", params["filename"])
	}
	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("retrieved payload differs from upload")
	}

	resp, err = http.Get(srv.URL + "/retrieve/" + blobID + "?fileName=other.tar")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	_, params, err = mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	if err != nil {
		t.Fatal(err)
	}
	if params["filename"] != "other.tar" {
		t.Errorf("got filename %q, want other.tar", params["filename"])
	}

	resp, err = http.Get(srv.URL + "/info/" + blobID)
	if err != nil {
		t.Fatal(err)
	}
	m = decode(t, resp)
	meta, _ := m["metadata"].(map[string]interface{})
	if meta["fileName"] != "site.tar.gz" {
		t.Errorf("got info metadata %v", meta)
	}
}

func TestUploadAnnotations(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postFile(t, srv.URL, "file", "a.bin", []byte("abc"), map[string]string{
		"description": "nightly build",
		"tags":        "ci, nightly,,",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status %d", resp.StatusCode)
	}
	m := decode(t, resp)
	if m["description"] != "nightly build" {
		t.Errorf("got description %v", m["description"])
	}
	if diff := cmp.Diff([]interface{}{"ci", "nightly"}, m["tags"]); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestUploadNoFile(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postFile(t, srv.URL, "", "", nil, map[string]string{"description": "x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	m := decode(t, resp)
	if m["error"] != "No file uploaded" {
		t.Errorf("got error %v", m["error"])
	}
}

func TestVersionedUpload(t *testing.T) {
	srv, _ := newTestServer(t)

	for i, want := range []string{"0.1.0", "0.1.1"} {
		resp := postFile(t, srv.URL, "tarFile", "site.tar.gz", []byte{byte(i)}, map[string]string{"identity": "dist/site"})
		m := decode(t, resp)
		if m["version"] != want {
			t.Errorf("upload %d: got version %v, want %s", i, m["version"], want)
		}
		if m["uploadCount"] != float64(i+1) {
			t.Errorf("upload %d: got uploadCount %v", i, m["uploadCount"])
		}
	}

	resp := postFile(t, srv.URL, "tarFile", "site.tar.gz", []byte("x"), map[string]string{"identity": "dist/site", "version": "2.0.0"})
	m := decode(t, resp)
	if m["version"] != "2.0.0" {
		t.Errorf("got version %v, want 2.0.0", m["version"])
	}

	resp, err := http.Get(srv.URL + "/versions/dist/site")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("versions status %d", resp.StatusCode)
	}
	m = decode(t, resp)
	entry, _ := m["entry"].(map[string]interface{})
	if entry["lastVersion"] != "2.0.0" {
		t.Errorf("got lastVersion %v", entry["lastVersion"])
	}
	if entry["uploadCount"] != float64(3) {
		t.Errorf("got uploadCount %v", entry["uploadCount"])
	}
	if m["nextVersion"] != "2.0.1" {
		t.Errorf("got nextVersion %v", m["nextVersion"])
	}

	resp, err = http.Get(srv.URL + "/versions/unknown")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got status %d for unknown identity", resp.StatusCode)
	}
}

func TestRecords(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"content": {"message": "hi", "n": 1}, "description": "greeting", "tags": ["x"]}`
	resp, err := http.Post(srv.URL+"/records", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("store status %d", resp.StatusCode)
	}
	m := decode(t, resp)
	blobID, _ := m["blobId"].(string)

	resp, err = http.Get(srv.URL + "/records/" + blobID)
	if err != nil {
		t.Fatal(err)
	}
	m = decode(t, resp)
	if diff := cmp.Diff(map[string]interface{}{"message": "hi", "n": float64(1)}, m["content"]); diff != "" {
		t.Errorf("content mismatch (-want +got):\n%s", diff)
	}
	meta, _ := m["metadata"].(map[string]interface{})
	if meta["description"] != "greeting" {
		t.Errorf("got metadata %v", meta)
	}

	resp, err = http.Post(srv.URL+"/records", "application/json", strings.NewReader(`{"description": "no content"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d for missing content", resp.StatusCode)
	}
}

func TestErrors(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	missing := bsv.HandleOf([]byte("never stored"))
	resp, err := http.Get(srv.URL + "/retrieve/" + string(missing))
	if err != nil {
		t.Fatal(err)
	}
	m := decode(t, resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got status %d for unknown handle", resp.StatusCode)
	}
	if m["error"] != "Failed to retrieve file" || m["details"] == "" {
		t.Errorf("got error body %v", m)
	}

	unframed, err := st.Put(ctx, []byte("no separator here"), bsv.PutOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{"/retrieve/", "/info/", "/records/"} {
		resp, err := http.Get(srv.URL + path + string(unframed))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: got status %d for unframed blob", path, resp.StatusCode)
		}
	}
}

func TestList(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/list")
	if err != nil {
		t.Fatal(err)
	}
	m := decode(t, resp)
	if diff := cmp.Diff([]interface{}{}, m["blobs"]); diff != "" {
		t.Errorf("blobs mismatch (-want +got):\n%s", diff)
	}
}

func TestUploadTooLarge(t *testing.T) {
	st := mem.New()
	s := &Server{Client: client.New(st, nil), MaxUpload: 1024}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp := postFile(t, srv.URL, "tarFile", "big.tar", testutil.Data(4096), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if st.Len() != 0 {
		t.Errorf("oversized upload stored %d blobs", st.Len())
	}
}

func TestConcurrentVersionedUpload(t *testing.T) {
	const n = 10
	srv, _ := newTestServer(t)

	type pending struct {
		contentType string
		body        *bytes.Buffer
	}
	var uploads []pending
	for i := 0; i < n; i++ {
		contentType, body := uploadBody(t, "tarFile", "a.tar", []byte{byte(i)}, map[string]string{"identity": "a.tar"})
		uploads = append(uploads, pending{contentType: contentType, body: body})
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		versions []string
	)
	for i, u := range uploads {
		wg.Add(1)
		go func(i int, u pending) {
			defer wg.Done()

			resp, err := http.Post(srv.URL+"/upload", u.contentType, u.body)
			if err != nil {
				t.Error(err)
				return
			}
			defer resp.Body.Close()

			var m map[string]interface{}
			if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
				t.Error(err)
				return
			}
			if resp.StatusCode != http.StatusOK {
				t.Errorf("upload %d: got status %d (%v)", i, resp.StatusCode, m["details"])
				return
			}
			v, _ := m["version"].(string)

			mu.Lock()
			versions = append(versions, v)
			mu.Unlock()
		}(i, u)
	}
	wg.Wait()

	sort.Strings(versions)
	for i := 1; i < len(versions); i++ {
		if versions[i] == versions[i-1] {
			t.Errorf("version %s handed out twice", versions[i])
		}
	}

	resp, err := http.Get(srv.URL + "/versions/a.tar")
	if err != nil {
		t.Fatal(err)
	}
	m := decode(t, resp)
	entry, _ := m["entry"].(map[string]interface{})
	if entry["uploadCount"] != float64(n) {
		t.Errorf("got uploadCount %v, want %d", entry["uploadCount"], n)
	}
}
