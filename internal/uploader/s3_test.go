package uploader

import (
	"context"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type s3Request struct {
	Method      string
	Path        string
	ContentType string
	DeviceID    string
}

func newFakeS3(t *testing.T) (*httptest.Server, func() []s3Request) {
	return startFakeS3(t, httptest.NewServer)
}

func startFakeS3(t *testing.T, start func(http.Handler) *httptest.Server) (*httptest.Server, func() []s3Request) {
	var mu sync.Mutex
	var requests []s3Request

	srv := start(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, s3Request{
			Method:      r.Method,
			Path:        r.URL.Path,
			ContentType: r.Header.Get("Content-Type"),
			DeviceID:    r.Header.Get("X-Amz-Meta-Device-Id"),
		})
		mu.Unlock()

		if r.URL.Path == "/missing-bucket" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []s3Request {
		mu.Lock()
		defer mu.Unlock()
		return append([]s3Request(nil), requests...)
	}
}

func newTestS3(t *testing.T, srv *httptest.Server, bucket string) *S3Uploader {
	t.Helper()
	if srv.TLS == nil {
		// a CA bundle from the environment must not leak into plain http tests
		t.Setenv("AWS_CA_BUNDLE", "")
	}
	u, err := NewS3Uploader(context.Background(), &S3Config{
		Bucket:    bucket,
		Prefix:    "wedding/camera-1",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		AccessKey: "test",
		SecretKey: "test",
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)
	return u
}

func TestS3Uploader_Upload(t *testing.T) {
	srv, requests := newFakeS3(t)
	u := newTestS3(t, srv, "photos")

	require.NoError(t, u.EnsureReady(context.Background()))

	a := writeArtifact(t, t.TempDir(), "wedding_1.jpg", "pixels")
	require.NoError(t, u.Upload(context.Background(), a))

	reqs := requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodHead, reqs[0].Method)
	assert.Equal(t, "/photos", reqs[0].Path)

	assert.Equal(t, http.MethodPut, reqs[1].Method)
	assert.Equal(t, "/photos/wedding/camera-1/wedding_1.jpg", reqs[1].Path)
	assert.Equal(t, "image/jpeg", reqs[1].ContentType)
	assert.NotEmpty(t, reqs[1].DeviceID)
}

func TestS3Uploader_EnsureReadyMissingBucket(t *testing.T) {
	srv, _ := newFakeS3(t)
	u := newTestS3(t, srv, "missing-bucket")

	assert.ErrorIs(t, u.EnsureReady(context.Background()), ErrNotReady)
}

func TestS3Uploader_MissingFile(t *testing.T) {
	srv, requests := newFakeS3(t)
	u := newTestS3(t, srv, "photos")

	err := u.Upload(context.Background(), writeArtifactPath(t, "wedding_gone.jpg"))
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.Empty(t, requests())
}

func TestS3Uploader_Key(t *testing.T) {
	u := &S3Uploader{cfg: &S3Config{}}
	assert.Equal(t, "wedding_1.jpg", u.Key("wedding_1.jpg"))

	u.cfg.Prefix = "events/2026/"
	assert.Equal(t, "events/2026/wedding_1.jpg", u.Key("wedding_1.jpg"))
}

func TestS3Uploader_CustomCABundle(t *testing.T) {
	srv, requests := startFakeS3(t, httptest.NewTLSServer)

	bundle := filepath.Join(t.TempDir(), "ca.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(bundle, certPEM, 0o644))
	t.Setenv("AWS_CA_BUNDLE", bundle)

	u := newTestS3(t, srv, "photos")
	require.NoError(t, u.EnsureReady(context.Background()))

	a := writeArtifact(t, t.TempDir(), "wedding_1.jpg", "pixels")
	require.NoError(t, u.Upload(context.Background(), a))
	assert.Len(t, requests(), 2)
}
