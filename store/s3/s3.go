// Package s3 implements a blob store on Amazon S3
// or any service speaking its protocol.
package s3

import (
	"bytes"
	"context"
	stderrs "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/store"
)

var _ bsv.Store = &Store{}

// Store keeps blobs as objects in an S3 bucket.
// Every key is Prefix followed by the blob's handle,
// so one bucket can hold several stores.
type Store struct {
	svc    *s3.S3
	Bucket string
	Prefix string
}

// New produces a new Store using the given bucket and key prefix.
// The authorization method and credentials in the session are used for all accesses.
func New(bucket, prefix string, sess *session.Session) *Store {
	return &Store{
		svc:    s3.New(sess),
		Bucket: bucket,
		Prefix: prefix,
	}
}

func (s *Store) key(h bsv.Handle) string {
	return s.Prefix + h.String()
}

// Get gets the blob with handle h.
func (s *Store) Get(ctx context.Context, h bsv.Handle) ([]byte, error) {
	if !h.Valid() {
		return nil, bsv.ErrNotFound
	}
	key := s.key(h)
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, bsv.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting object %s", key)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if out.ContentLength != nil {
		buf.Grow(int(*out.ContentLength))
	}
	_, err = io.Copy(&buf, out.Body)
	return buf.Bytes(), errors.Wrapf(err, "reading object %s", key)
}

// Put adds a blob to the store.
// Objects are named by content,
// so rewriting one that already exists is harmless.
func (s *Store) Put(ctx context.Context, blob []byte, opts bsv.PutOptions) (bsv.Handle, error) {
	var (
		h   = bsv.HandleOf(blob)
		key = s.key(h)
	)
	meta := map[string]*string{
		"Epochs":    aws.String(strconv.Itoa(opts.Epochs)),
		"Deletable": aws.String(strconv.FormatBool(opts.Deletable)),
	}
	if opts.Signer != nil {
		meta["Owner"] = aws.String(opts.Signer.Address())
	}

	_, err := s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Body:          bytes.NewReader(blob),
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(key),
		ContentLength: aws.Int64(int64(len(blob))),
		Metadata:      meta,
	})
	if err != nil {
		return "", errors.Wrapf(err, "putting object %s", key)
	}
	return h, nil
}

func isNotFound(err error) bool {
	var rf awserr.RequestFailure
	if stderrs.As(err, &rf) && rf.StatusCode() == http.StatusNotFound {
		return true
	}
	var ae awserr.Error
	if stderrs.As(err, &ae) {
		switch ae.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// Config parameters:
//   bucket (required)
//   prefix
//   endpoint: for S3-compatible services; implies path-style addressing
//   region (default us-east-1)
//   access_key, secret_key: static credentials; otherwise the SDK's default chain is used
func init() {
	store.Register("s3", func(_ context.Context, conf map[string]interface{}) (bsv.Store, error) {
		bucket, err := store.String(conf, "bucket")
		if err != nil {
			return nil, err
		}
		prefix, _ := conf["prefix"].(string)

		awsConf := &aws.Config{Region: aws.String("us-east-1")}
		if region, ok := conf["region"].(string); ok {
			awsConf.Region = aws.String(region)
		}
		if endpoint, ok := conf["endpoint"].(string); ok {
			awsConf.Endpoint = aws.String(endpoint)
			awsConf.S3ForcePathStyle = aws.Bool(true)
		}
		if id, ok := conf["access_key"].(string); ok {
			secret, _ := conf["secret_key"].(string)
			awsConf.Credentials = credentials.NewStaticCredentials(id, secret, "")
		}

		sess, err := session.NewSession(awsConf)
		if err != nil {
			return nil, errors.Wrap(err, "creating AWS session")
		}
		return New(bucket, prefix, sess), nil
	})
}
