// Package collector is the receiving end of log uploads: it authenticates
// batches, keeps them in a write-ahead log and periodically moves them into
// compressed archives that expire after a retention window.
package collector

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"github.com/valyala/fastjson"

	"github.com/coffersTech/logserver/internal/logging"
	"github.com/coffersTech/logserver/internal/logline"
)

const (
	walFileName = "ingest.wal"
	archiveDir  = "archive"
)

// Config configures a collector Server.
type Config struct {
	Addr    string
	DataDir string
	// APIKeyHashes are bcrypt hashes of accepted bearer keys. Empty disables
	// authentication.
	APIKeyHashes []string
	// Retention is how long archives are kept. Zero keeps them forever.
	Retention     time.Duration
	FlushInterval time.Duration
	CleanInterval time.Duration
	// RateLimit is requests per second per instance. Zero disables limiting.
	RateLimit       float64
	RateBurst       int
	InstanceTimeout time.Duration
	MaxBodyBytes    int64
	Logger          *log.Logger
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8088"
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
	if c.CleanInterval <= 0 {
		c.CleanInterval = time.Hour
	}
	if c.InstanceTimeout <= 0 {
		c.InstanceTimeout = 10 * time.Minute
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 32 << 20
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	return c
}

// Server is the collector HTTP server and its background jobs.
type Server struct {
	cfg      Config
	log      *log.Logger
	wal      *WAL
	archive  *Archiver
	registry *Registry
	keys     *keyring
	limiter  *limiter
	parser   fastjson.ParserPool
	decoder  *zstd.Decoder
	prom     *prometheus.Registry
	metrics  *metrics
	srv      *http.Server

	bgCancel context.CancelFunc
	bg       sync.WaitGroup
	stopOnce sync.Once
}

// New opens the data directory. Records left in the WAL by a previous run are
// archived by the first flush.
func New(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	if cfg.DataDir == "" {
		return nil, errors.New("collector data dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", cfg.DataDir)
	}

	wal, err := OpenWAL(filepath.Join(cfg.DataDir, walFileName))
	if err != nil {
		return nil, err
	}
	archive, err := NewArchiver(filepath.Join(cfg.DataDir, archiveDir))
	if err != nil {
		_ = wal.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(cfg.MaxBodyBytes)*4))
	if err != nil {
		_ = wal.Close()
		return nil, errors.Wrap(err, "create zstd decoder")
	}

	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		wal:      wal,
		archive:  archive,
		registry: NewRegistry(),
		keys:     newKeyring(cfg.APIKeyHashes),
		limiter:  newLimiter(cfg.RateLimit, cfg.RateBurst),
		decoder:  dec,
		prom:     prometheus.NewRegistry(),
	}
	s.metrics = newMetrics(s.prom, s)
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if !s.keys.Enabled() {
		s.log.Warn("no API key hashes configured, ingest is unauthenticated")
	}
	if n := wal.Size(); n > 0 {
		s.log.Info("pending records found in WAL", "bytes", n)
	}
	return s, nil
}

// Handler returns the collector routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/ingest/batch", promhttp.InstrumentHandlerCounter(s.metrics.requests,
		s.requireKey(http.HandlerFunc(s.handleIngest))))
	mux.Handle("/api/registry/handshake", s.requireKey(http.HandlerFunc(s.handleHandshake)))
	mux.Handle("/api/registry/instances", s.requireKey(http.HandlerFunc(s.handleListInstances)))
	mux.Handle("/api/search", s.requireKey(http.HandlerFunc(s.handleSearch)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.prom, promhttp.HandlerOpts{}))
	return mux
}

// Registry returns the instance registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Archiver returns the archive store.
func (s *Server) Archiver() *Archiver {
	return s.archive
}

// Start runs the background jobs and serves HTTP until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.StartBackground(ctx)
	s.log.Info("collector listening", "addr", s.cfg.Addr, "data", s.cfg.DataDir, "retention", s.cfg.Retention)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve")
	}
	return nil
}

// StartBackground starts the flusher, the cleaner and the registry pruner.
func (s *Server) StartBackground(ctx context.Context) {
	ctx, s.bgCancel = context.WithCancel(ctx)
	jobs := []func(context.Context){
		s.runFlusher,
		s.runCleaner,
		func(ctx context.Context) {
			s.registry.RunPrune(ctx, s.cfg.InstanceTimeout/2, s.cfg.InstanceTimeout)
		},
	}
	for _, job := range jobs {
		job := job
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			job(ctx)
		}()
	}
}

// Shutdown stops accepting requests, stops background jobs, archives what is
// left in the WAL and closes it.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		err = errors.Wrap(s.srv.Shutdown(ctx), "http shutdown")
		if s.bgCancel != nil {
			s.bgCancel()
		}
		s.bg.Wait()

		s.log.Info("flushing WAL to archive")
		if _, ferr := s.Flush(); ferr != nil {
			err = errors.CombineErrors(err, ferr)
		}
		err = errors.CombineErrors(err, s.wal.Close())
		s.decoder.Close()
	})
	return err
}

// Flush moves every WAL record into a new archive.
func (s *Server) Flush() (int, error) {
	var path string
	n, err := s.wal.Drain(func(recs []Record) error {
		var werr error
		path, werr = s.archive.Write(recs)
		return werr
	})
	if err != nil {
		s.metrics.flushErrors.Inc()
		return 0, errors.Wrap(err, "flush wal")
	}
	if n > 0 {
		s.metrics.archives.Inc()
		s.metrics.archivedRows.Add(float64(n))
		s.log.Debug("archive written", "path", path, "entries", n)
	}
	return n, nil
}

// Purge deletes archives past the retention window.
func (s *Server) Purge(now time.Time) (int, error) {
	removed, err := s.archive.PurgeExpired(s.cfg.Retention, now)
	s.metrics.purged.Add(float64(len(removed)))
	for _, name := range removed {
		s.log.Info("expired archive deleted", "file", name)
	}
	return len(removed), err
}

func (s *Server) runFlusher(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := s.Flush(); err != nil {
				s.log.Error("flush failed", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) runCleaner(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanInterval)
	defer ticker.Stop()
	s.log.Info("cleaner started", "retention", s.cfg.Retention, "interval", s.cfg.CleanInterval)
	for {
		select {
		case <-ticker.C:
			if _, err := s.Purge(time.Now()); err != nil {
				s.log.Error("purge failed", "err", err)
			}
			s.limiter.sweep(s.cfg.InstanceTimeout)
		case <-ctx.Done():
			return
		}
	}
}

// IngestResponse is returned by the ingest endpoint.
type IngestResponse struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// handleIngest accepts a batch as NDJSON or a JSON array, optionally zstd
// compressed, and writes it to the WAL. The WAL is synced once per request.
// POST /api/ingest/batch
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	instance := r.Header.Get("X-Instance-ID")
	if instance == "" {
		instance = remoteIP(r)
	}
	if !s.limiter.Allow(instance) {
		s.metrics.rateLimited.Inc()
		w.Header().Set("Retry-After", "1")
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	switch enc := strings.ToLower(r.Header.Get("Content-Encoding")); enc {
	case "", "identity":
	case "zstd":
		if body, err = s.decoder.DecodeAll(body, nil); err != nil {
			http.Error(w, "Invalid zstd body", http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "Unsupported Content-Encoding "+enc, http.StatusUnsupportedMediaType)
		return
	}

	p := s.parser.Get()
	recs, rejected, err := parseBatch(p, body)
	s.parser.Put(p)
	if err != nil {
		s.metrics.malformed.Add(float64(rejected))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := time.Now()
	service := r.Header.Get("X-Service")
	for i := range recs {
		rec := &recs[i]
		rec.Instance = instance
		rec.ReceivedAt = now
		if rec.Service == "" {
			rec.Service = service
		}
		if rec.Time.IsZero() {
			rec.Time = now
		}
		if err := s.wal.Write(*rec); err != nil {
			s.log.Error("wal write failed", "err", err)
			http.Error(w, "Storage failure", http.StatusInternalServerError)
			return
		}
	}
	if len(recs) > 0 {
		if err := s.wal.Sync(); err != nil {
			s.log.Error("wal sync failed", "err", err)
			http.Error(w, "Storage failure", http.StatusInternalServerError)
			return
		}
	}

	s.registry.KeepAlive(instance)
	s.metrics.entries.Add(float64(len(recs)))
	s.metrics.malformed.Add(float64(rejected))
	if rejected > 0 {
		s.log.Warn("malformed entries skipped", "instance", instance, "count", rejected)
	}
	writeJSON(w, http.StatusOK, IngestResponse{Accepted: len(recs), Rejected: rejected})
}

// parseBatch decodes a JSON array or NDJSON. Malformed NDJSON lines are
// skipped and counted; a batch where nothing parses is an error.
func parseBatch(p *fastjson.Parser, body []byte) ([]Record, int, error) {
	trimmed := strings.TrimSpace(string(body[:min(len(body), 64)]))
	if strings.HasPrefix(trimmed, "[") {
		v, err := p.ParseBytes(body)
		if err != nil {
			return nil, 0, errors.Wrap(err, "invalid JSON array")
		}
		arr, _ := v.Array()
		recs := make([]Record, 0, len(arr))
		rejected := 0
		for _, item := range arr {
			rec, err := recordFromValue(item)
			if err != nil {
				rejected++
				continue
			}
			recs = append(recs, rec)
		}
		if len(recs) == 0 && rejected > 0 {
			return nil, rejected, errors.New("no valid entries in batch")
		}
		return recs, rejected, nil
	}

	var recs []Record
	rejected := 0
	_ = logline.Lines(body, func(line []byte) error {
		v, err := p.ParseBytes(line)
		if err != nil {
			rejected++
			return nil
		}
		rec, err := recordFromValue(v)
		if err != nil {
			rejected++
			return nil
		}
		recs = append(recs, rec)
		return nil
	})
	if len(recs) == 0 && rejected > 0 {
		return nil, rejected, errors.New("no valid entries in batch")
	}
	return recs, rejected, nil
}

func recordFromValue(v *fastjson.Value) (Record, error) {
	e, err := logline.FromValue(v)
	if err != nil {
		return Record{}, err
	}
	return Record{Entry: e, Service: string(v.GetStringBytes("service"))}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
