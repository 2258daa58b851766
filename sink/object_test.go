package sink

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/logserver/logstore"
)

type fakeObjects struct {
	buckets map[string]bool
	objects map[string][]byte
	opts    map[string]minio.PutObjectOptions
	putErr  error
	made    int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{
		buckets: map[string]bool{},
		objects: map[string][]byte{},
		opts:    map[string]minio.PutObjectOptions{},
	}
}

func (f *fakeObjects) BucketExists(_ context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeObjects) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.made++
	f.buckets[bucket] = true
	return nil
}

func (f *fakeObjects) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[bucket+"/"+key] = data
	f.opts[bucket+"/"+key] = opts
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func TestObjectSinkPutsCompressedObject(t *testing.T) {
	api := newFakeObjects()
	s, err := newObjectSink(ObjectOptions{Bucket: "logs", Prefix: "/devices/", InstanceID: "inst-1"}, api)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(0, 1735230000000000000) }

	payload := []byte(`{"msg":"A"}` + "\n")
	require.NoError(t, s.Send(context.Background(), payload))
	require.NoError(t, s.Send(context.Background(), payload))
	assert.Equal(t, 1, api.made, "bucket created once")

	key := "logs/devices/inst-1/1735230000000000000.ndjson.zst"
	require.Contains(t, api.objects, key)
	assert.Equal(t, "zstd", api.opts[key].ContentEncoding)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	raw, err := dec.DecodeAll(api.objects[key], nil)
	require.NoError(t, err)
	assert.Equal(t, payload, raw)
}

func TestObjectSinkKeyWithoutPrefix(t *testing.T) {
	s, err := newObjectSink(ObjectOptions{Bucket: "logs"}, newFakeObjects())
	require.NoError(t, err)
	assert.Equal(t, "42.ndjson.zst", s.ObjectKey(time.Unix(0, 42)))
}

func TestObjectSinkAccessDeniedIsPermanent(t *testing.T) {
	api := newFakeObjects()
	api.putErr = minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}
	s, err := newObjectSink(ObjectOptions{Bucket: "logs"}, api)
	require.NoError(t, err)

	err = s.Send(context.Background(), []byte("{}\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, logstore.ErrRejected))

	api.putErr = errors.New("connection reset")
	err = s.Send(context.Background(), []byte("{}\n"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, logstore.ErrRejected))
}

func TestNewObjectSinkValidates(t *testing.T) {
	_, err := NewObjectSink(ObjectOptions{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}
