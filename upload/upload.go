// Package upload publishes versioned files:
// it stores each file through a client.Client
// and keeps its version history in a ledger.Ledger.
package upload

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/client"
	"github.com/bobg/bsv/frame"
	"github.com/bobg/bsv/ledger"
)

var log = logrus.WithField("logger", "upload")

// VersionKey is the metadata key holding an upload's version.
const VersionKey = "version"

// Uploader stores files and records their versions.
//
// It is safe for concurrent use.
// Uploads of the same identity through one Uploader are serialized,
// so each gets its own version.
// Uploaders in different processes can still hand out the same version
// to simultaneous uploads of one identity,
// though the ledger counts both.
type Uploader struct {
	Client *client.Client
	Ledger *ledger.Ledger

	// Verify reads each blob back after storing it
	// and compares its size to what was written.
	Verify bool

	mu    sync.Mutex // protects locks
	locks map[string]*sync.Mutex
}

// lock holds identity's lock and returns the function that releases it.
func (u *Uploader) lock(identity string) func() {
	u.mu.Lock()
	if u.locks == nil {
		u.locks = make(map[string]*sync.Mutex)
	}
	m, ok := u.locks[identity]
	if !ok {
		m = new(sync.Mutex)
		u.locks[identity] = m
	}
	u.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Result describes a completed upload.
type Result struct {
	Identity string     `json:"identity"`
	Version  string     `json:"version"`
	Handle   bsv.Handle `json:"handle"`
	Size     int64      `json:"size"`

	// Verified is true when the blob was read back and matched in size.
	Verified bool `json:"verified"`

	Entry ledger.Entry `json:"entry"`
}

// Upload stores the file at path under the identity path.
// See UploadAs.
func (u *Uploader) Upload(ctx context.Context, path, override string, a client.Annotations) (*Result, error) {
	return u.UploadAs(ctx, path, path, override, a)
}

// UploadAs stores the file at path as a new version of identity.
// The version is override if that is non-empty,
// otherwise the next one in identity's history.
// The version is added to the blob's metadata.
//
// The ledger is updated only after the store confirms the write,
// so a failed upload leaves the version history untouched.
func (u *Uploader) UploadAs(ctx context.Context, identity, path, override string, a client.Annotations) (*Result, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "file not found: %s", path)
	}
	if fi.IsDir() {
		return nil, errors.Errorf("%s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return u.UploadBytes(ctx, identity, filepath.Base(path), data, override, a)
}

// UploadBytes stores data,
// named fileName,
// as a new version of identity.
// It is UploadAs for content that is already in memory.
func (u *Uploader) UploadBytes(ctx context.Context, identity, fileName string, data []byte, override string, a client.Annotations) (*Result, error) {
	unlock := u.lock(identity)
	defer unlock()

	version, err := u.Ledger.NextVersion(ctx, identity, override)
	if err != nil {
		return nil, err
	}

	l := log.WithFields(logrus.Fields{"identity": identity, "version": version})
	l.WithField("size", len(data)).Infof("uploading %s", fileName)

	a.Extra = withVersion(a.Extra, version)
	h, err := u.Client.StoreBytes(ctx, fileName, data, a)
	if err != nil {
		return nil, errors.Wrapf(err, "uploading %s", fileName)
	}

	res := &Result{
		Identity: identity,
		Version:  version,
		Handle:   h,
		Size:     int64(len(data)),
	}

	if u.Verify {
		res.Verified = u.verify(ctx, h, res.Size)
	}

	e, err := u.Ledger.Record(ctx, identity, version)
	if err != nil {
		return res, errors.Wrapf(err, "stored %s as %s but could not record it", fileName, h)
	}
	res.Entry = e

	l.WithField("handle", h).Info("upload complete")
	return res, nil
}

// verify reads h back and compares its payload size to want.
// A failure here doesn't undo the upload; it's logged.
func (u *Uploader) verify(ctx context.Context, h bsv.Handle, want int64) bool {
	info, err := u.Client.Info(ctx, h)
	if err != nil {
		log.WithError(err).WithField("handle", h).Warn("could not read back blob to verify it")
		return false
	}
	if int64(info.PayloadSize) != want {
		log.WithField("handle", h).Warnf("size mismatch: original %d bytes, retrieved %d bytes", want, info.PayloadSize)
		return false
	}
	log.WithField("handle", h).Debug("verified blob size")
	return true
}

func withVersion(extra map[string]interface{}, version string) map[string]interface{} {
	result := make(map[string]interface{}, len(extra)+1)
	for k, v := range extra {
		result[k] = v
	}
	result[VersionKey] = version
	return result
}

// Download writes the payload of h to outputPath
// and returns its metadata.
func (u *Uploader) Download(ctx context.Context, h bsv.Handle, outputPath string) (frame.Metadata, error) {
	return u.Client.RetrieveFile(ctx, h, outputPath)
}

// Version gets the version recorded in a blob's metadata, if any.
func Version(meta frame.Metadata) (string, bool) {
	v, ok := meta.Get(VersionKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
