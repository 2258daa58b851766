package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/coffersTech/logserver/logstore"
)

// ObjectOptions configures an ObjectSink.
type ObjectOptions struct {
	// Endpoint is host[:port] of the S3-compatible service, e.g. "minio:9000".
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	// Prefix is prepended to every object key.
	Prefix     string
	InstanceID string
}

// objectAPI is the part of *minio.Client the sink needs.
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectSink writes each upload as one zstd-compressed NDJSON object:
//
//	<bucket>/<prefix>/<instance-id>/<unix-nanos>.ndjson.zst
type ObjectSink struct {
	opts    ObjectOptions
	api     objectAPI
	encoder *zstd.Encoder
	now     func() time.Time

	bucketMu    sync.Mutex
	bucketReady bool
}

var _ logstore.Sink = (*ObjectSink)(nil)

// NewObjectSink connects a minio client for opts.
func NewObjectSink(opts ObjectOptions) (*ObjectSink, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("object sink needs an endpoint and a bucket")
	}
	mc, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "minio client")
	}
	return newObjectSink(opts, mc)
}

func newObjectSink(opts ObjectOptions, api objectAPI) (*ObjectSink, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd encoder")
	}
	return &ObjectSink{opts: opts, api: api, encoder: enc, now: time.Now}, nil
}

// ObjectKey returns the key used for an upload made at t.
func (s *ObjectSink) ObjectKey(t time.Time) string {
	parts := make([]string, 0, 3)
	if p := strings.Trim(s.opts.Prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	if s.opts.InstanceID != "" {
		parts = append(parts, s.opts.InstanceID)
	}
	parts = append(parts, fmt.Sprintf("%d.ndjson.zst", t.UnixNano()))
	return strings.Join(parts, "/")
}

// ensureBucket creates the bucket once per sink (idempotent).
func (s *ObjectSink) ensureBucket(ctx context.Context) error {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()

	if s.bucketReady {
		return nil
	}
	exists, err := s.api.BucketExists(ctx, s.opts.Bucket)
	if err != nil {
		return classifyObjectErr(errors.Wrapf(err, "check bucket %s", s.opts.Bucket))
	}
	if !exists {
		if err := s.api.MakeBucket(ctx, s.opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return classifyObjectErr(errors.Wrapf(err, "create bucket %s", s.opts.Bucket))
		}
	}
	s.bucketReady = true
	return nil
}

// Send stores payload as a new object.
func (s *ObjectSink) Send(ctx context.Context, payload []byte) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	body := s.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	key := s.ObjectKey(s.now())
	_, err := s.api.PutObject(ctx, s.opts.Bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:     "application/x-ndjson",
		ContentEncoding: "zstd",
	})
	if err != nil {
		return classifyObjectErr(errors.Wrapf(err, "put object %s", key))
	}
	return nil
}

// classifyObjectErr marks authorization failures as permanent.
func classifyObjectErr(err error) error {
	resp := minio.ToErrorResponse(errors.UnwrapAll(err))
	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusUnauthorized:
		return errors.Mark(err, logstore.ErrRejected)
	}
	return err
}
