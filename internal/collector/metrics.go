package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests     *prometheus.CounterVec
	entries      prometheus.Counter
	malformed    prometheus.Counter
	authFailures prometheus.Counter
	rateLimited  prometheus.Counter
	archives     prometheus.Counter
	archivedRows prometheus.Counter
	purged       prometheus.Counter
	flushErrors  prometheus.Counter
}

func newMetrics(reg *prometheus.Registry, s *Server) *metrics {
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "collector_instances",
		Help: "Registered uploading instances.",
	}, func() float64 { return float64(s.registry.Len()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "collector_wal_bytes",
		Help: "Bytes waiting in the write-ahead log.",
	}, func() float64 { return float64(s.wal.Size()) })

	return &metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_ingest_requests_total",
			Help: "Ingest requests by response code.",
		}, []string{"code"}),
		entries: f.NewCounter(prometheus.CounterOpts{
			Name: "collector_ingested_entries_total",
			Help: "Entries written to the write-ahead log.",
		}),
		malformed: f.NewCounter(prometheus.CounterOpts{
			Name: "collector_malformed_entries_total",
			Help: "Ingested lines that could not be parsed.",
		}),
		authFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "collector_auth_failures_total",
			Help: "Requests with an unknown API key.",
		}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "collector_rate_limited_total",
			Help: "Ingest requests rejected by the per-instance limiter.",
		}),
		archives: f.NewCounter(prometheus.CounterOpts{
			Name: "collector_archives_written_total",
			Help: "Archive files written by the flusher.",
		}),
		archivedRows: f.NewCounter(prometheus.CounterOpts{
			Name: "collector_archived_entries_total",
			Help: "Entries moved from the write-ahead log into archives.",
		}),
		purged: f.NewCounter(prometheus.CounterOpts{
			Name: "collector_archives_purged_total",
			Help: "Archive files deleted by retention.",
		}),
		flushErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "collector_flush_errors_total",
			Help: "Failed flusher runs.",
		}),
	}
}
