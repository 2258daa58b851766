// Package sink holds the remote destinations a log store uploads to.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/segmentio/encoding/json"

	"github.com/coffersTech/logserver/internal/logging"
	"github.com/coffersTech/logserver/logstore"
)

// Version is reported to the collector during the handshake.
const Version = "0.2.0"

const (
	ingestPath    = "/api/ingest/batch"
	handshakePath = "/api/registry/handshake"
)

// HTTPOptions configures an HTTPSink.
type HTTPOptions struct {
	// URL is the collector base URL, e.g. http://localhost:8088.
	URL        string
	APIKey     string
	Service    string
	InstanceID string
	// Timeout bounds one request. Defaults to 10s.
	Timeout time.Duration
	Client  *http.Client
	Logger  *log.Logger
}

// HandshakeRequest announces an uploading instance to the collector.
type HandshakeRequest struct {
	InstanceID  string `json:"instance_id"`
	ServiceName string `json:"service_name"`
	HostName    string `json:"hostname"`
	Language    string `json:"language"`
	Version     string `json:"sdk_version"`
}

// HTTPSink uploads zstd-compressed NDJSON batches to the collector ingest API.
type HTTPSink struct {
	opts       HTTPOptions
	client     *http.Client
	encoder    *zstd.Encoder
	log        *log.Logger
	registered atomic.Bool
}

var _ logstore.Sink = (*HTTPSink)(nil)

// NewHTTPSink validates opts and returns a sink.
func NewHTTPSink(opts HTTPOptions) (*HTTPSink, error) {
	if opts.URL == "" {
		return nil, errors.New("collector URL is required")
	}
	opts.URL = strings.TrimRight(opts.URL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd encoder")
	}
	return &HTTPSink{opts: opts, client: client, encoder: enc, log: logger}, nil
}

// Send registers the instance on first use, then posts payload.
func (s *HTTPSink) Send(ctx context.Context, payload []byte) error {
	if !s.registered.Load() {
		if err := s.handshake(ctx); err != nil {
			// Ingest does not depend on registration; try again next time.
			s.log.Warn("collector handshake failed", "err", err)
		} else {
			s.registered.Store(true)
		}
	}

	body := s.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.URL+ingestPath, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build ingest request")
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Content-Encoding", "zstd")
	s.setIdentity(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send batch")
	}
	defer resp.Body.Close()
	return checkResponse(resp)
}

func (s *HTTPSink) handshake(ctx context.Context) error {
	hostname, _ := os.Hostname()
	data, err := json.Marshal(HandshakeRequest{
		InstanceID:  s.opts.InstanceID,
		ServiceName: s.opts.Service,
		HostName:    hostname,
		Language:    fmt.Sprintf("go-%s", runtime.Version()),
		Version:     Version,
	})
	if err != nil {
		return errors.Wrap(err, "encode handshake")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.URL+handshakePath, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "build handshake request")
	}
	req.Header.Set("Content-Type", "application/json")
	s.setIdentity(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "handshake")
	}
	defer resp.Body.Close()
	return checkResponse(resp)
}

func (s *HTTPSink) setIdentity(req *http.Request) {
	if s.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.APIKey)
	}
	if s.opts.InstanceID != "" {
		req.Header.Set("X-Instance-ID", s.opts.InstanceID)
	}
	if s.opts.Service != "" {
		req.Header.Set("X-Service", s.opts.Service)
	}
}

// checkResponse maps non-2xx statuses to errors. Client errors other than
// 408 and 429 cannot succeed on retry and are marked logstore.ErrRejected.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err := errors.Newf("collector returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return err
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return errors.Mark(err, logstore.ErrRejected)
	default:
		return err
	}
}
