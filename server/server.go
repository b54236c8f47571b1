// Package server exposes a client.Client over HTTP.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/client"
	"github.com/bobg/bsv/frame"
	"github.com/bobg/bsv/upload"
)

var log = logrus.WithField("logger", "server")

// DefaultMaxUpload is the upload size limit when Server.MaxUpload is zero.
const DefaultMaxUpload = 100 << 20

// DefaultFileName names a download whose blob records no file name.
const DefaultFileName = "retrieved-file.tar.gz"

// Server handles HTTP requests for storing and retrieving blobs.
type Server struct {
	Client *client.Client

	// Uploader, if set, enables versioned uploads and the /versions route.
	Uploader *upload.Uploader

	// MaxUpload limits the size of an upload request, in bytes.
	MaxUpload int64

	// Sentry reports server errors to Sentry.
	// The DSN must already be set with raven.SetDSN.
	Sentry bool
}

// Handler produces the HTTP handler for s.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", s.health)
	r.Post("/upload", s.upload)
	r.Get("/retrieve/{handle}", s.retrieve)
	r.Get("/info/{handle}", s.info)
	r.Post("/records", s.storeRecord)
	r.Get("/records/{handle}", s.retrieveRecord)
	r.Get("/list", s.list)
	r.Get("/versions/*", s.versions)

	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)
		log.WithFields(logrus.Fields{
			"method":     req.Method,
			"path":       req.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"elapsed":    time.Since(start),
			"request_id": middleware.GetReqID(req.Context()),
		}).Info("request")
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("writing response")
	}
}

// fail writes an error response.
// The status code comes from the kind of error:
// unknown handles are 404,
// malformed blobs and requests are 400,
// and everything else is 500 (and goes to Sentry if enabled).
func (s *Server) fail(w http.ResponseWriter, req *http.Request, msg string, err error) {
	code := http.StatusInternalServerError
	var (
		mpe *frame.MetadataParseError
		bre *badRequestError
	)
	switch {
	case errors.Is(err, bsv.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, frame.ErrFormat), errors.As(err, &mpe), errors.As(err, &bre):
		code = http.StatusBadRequest
	}

	l := log.WithError(err).WithFields(logrus.Fields{"path": req.URL.Path, "status": code})
	if code >= 500 {
		l.Error(msg)
		if s.Sentry {
			raven.CaptureError(err, map[string]string{"path": req.URL.Path}, raven.NewHttp(req))
		}
	} else {
		l.Warn(msg)
	}

	writeJSON(w, code, map[string]string{
		"error":   msg,
		"details": err.Error(),
	})
}

type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...interface{}) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "blob storage API is running",
		"address": s.Client.Address(),
	})
}

func (s *Server) maxUpload() int64 {
	if s.MaxUpload > 0 {
		return s.MaxUpload
	}
	return DefaultMaxUpload
}

// Multipart fields that may hold the uploaded file.
var fileFields = []string{"tarFile", "file"}

func (s *Server) upload(w http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(w, req.Body, s.maxUpload())

	// Parts beyond 32MB are spooled to temp files, which RemoveAll cleans up.
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		s.fail(w, req, "Failed to upload file", badRequest("parsing upload: %s", err))
		return
	}
	defer req.MultipartForm.RemoveAll()

	var (
		data     []byte
		fileName string
		found    bool
	)
	for _, field := range fileFields {
		f, hdr, err := req.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			s.fail(w, req, "Failed to upload file", badRequest("reading %s: %s", field, err))
			return
		}
		data, err = io.ReadAll(f)
		f.Close()
		if err != nil {
			s.fail(w, req, "Failed to upload file", errors.Wrap(err, "reading upload"))
			return
		}
		fileName, found = hdr.Filename, true
		break
	}
	if !found {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file uploaded"})
		return
	}

	a := client.Annotations{
		Description: req.FormValue("description"),
		Tags:        splitTags(req.FormValue("tags")),
	}
	if a.Description == "" {
		a.Description = "Uploaded tar file"
	}
	if a.Tags == nil {
		a.Tags = []string{"uploaded", "tar"}
	}

	resp := map[string]interface{}{
		"success":     true,
		"fileName":    fileName,
		"fileSize":    len(data),
		"description": a.Description,
		"tags":        a.Tags,
		"message":     "File uploaded successfully",
	}

	identity, version := req.FormValue("identity"), req.FormValue("version")
	if s.Uploader != nil && (identity != "" || version != "") {
		if identity == "" {
			identity = fileName
		}
		res, err := s.Uploader.UploadBytes(req.Context(), identity, fileName, data, version, a)
		if err != nil {
			s.fail(w, req, "Failed to upload file", err)
			return
		}
		resp["blobId"] = res.Handle
		resp["identity"] = res.Identity
		resp["version"] = res.Version
		resp["uploadCount"] = res.Entry.UploadCount
	} else {
		h, err := s.Client.StoreBytes(req.Context(), fileName, data, a)
		if err != nil {
			s.fail(w, req, "Failed to upload file", err)
			return
		}
		resp["blobId"] = h
	}

	writeJSON(w, http.StatusOK, resp)
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func (s *Server) retrieve(w http.ResponseWriter, req *http.Request) {
	h := bsv.Handle(chi.URLParam(req, "handle"))
	meta, payload, err := s.Client.RetrieveFileBytes(req.Context(), h)
	if err != nil {
		s.fail(w, req, "Failed to retrieve file", err)
		return
	}

	fileName := req.URL.Query().Get("fileName")
	if fileName == "" {
		fileName = meta.FileName
	}
	if fileName == "" {
		fileName = DefaultFileName
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": fileName}))
	w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
	if _, err := w.Write(payload); err != nil {
		log.WithError(err).WithField("handle", h).Warn("sending file")
	}
}

func (s *Server) info(w http.ResponseWriter, req *http.Request) {
	h := bsv.Handle(chi.URLParam(req, "handle"))
	info, err := s.Client.Info(req.Context(), h)
	if err != nil {
		s.fail(w, req, "Failed to get file info", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"blobId":   h,
		"metadata": info.Meta,
		"fileSize": info.Size,
		"message":  "File info retrieved successfully",
	})
}

type recordRequest struct {
	Content     json.RawMessage `json:"content"`
	Description string          `json:"description"`
	Tags        []string        `json:"tags"`
}

func (s *Server) storeRecord(w http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(w, req.Body, s.maxUpload())

	var rr recordRequest
	if err := json.NewDecoder(req.Body).Decode(&rr); err != nil {
		s.fail(w, req, "Failed to store record", badRequest("decoding request: %s", err))
		return
	}
	if len(rr.Content) == 0 {
		s.fail(w, req, "Failed to store record", badRequest("missing content"))
		return
	}

	h, err := s.Client.StoreRecord(req.Context(), rr.Content, client.Annotations{Description: rr.Description, Tags: rr.Tags})
	if err != nil {
		s.fail(w, req, "Failed to store record", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"blobId":  h,
	})
}

func (s *Server) retrieveRecord(w http.ResponseWriter, req *http.Request) {
	h := bsv.Handle(chi.URLParam(req, "handle"))
	rec, err := s.Client.RetrieveRecord(req.Context(), h)
	if err != nil {
		s.fail(w, req, "Failed to retrieve record", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"blobId":   h,
		"content":  rec.Content,
		"metadata": rec.Meta,
	})
}

func (s *Server) list(w http.ResponseWriter, req *http.Request) {
	handles, err := s.Client.ListRecentBlobs(req.Context(), 10)
	if err != nil {
		s.fail(w, req, "Failed to list blobs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"blobs":   handles,
		"message": "The store cannot enumerate blobs; see /versions for local upload history",
	})
}

func (s *Server) versions(w http.ResponseWriter, req *http.Request) {
	if s.Uploader == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Version tracking is not enabled"})
		return
	}
	identity, err := url.PathUnescape(chi.URLParam(req, "*"))
	if err != nil {
		s.fail(w, req, "Failed to get versions", badRequest("bad identity: %s", err))
		return
	}
	if identity == "" {
		s.fail(w, req, "Failed to get versions", badRequest("missing identity"))
		return
	}
	e, ok, err := s.Uploader.Ledger.Get(req.Context(), identity)
	if err != nil {
		s.fail(w, req, "Failed to get versions", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("No versions recorded for %s", identity)})
		return
	}
	next, err := s.Uploader.Ledger.NextVersion(req.Context(), identity, "")
	if err != nil {
		next = ""
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"identity":    identity,
		"entry":       e,
		"nextVersion": next,
	})
}
