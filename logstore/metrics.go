package logstore

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	appended     prometheus.Counter
	appendErrors prometheus.Counter
	uploads      *prometheus.CounterVec
	uploadedRows prometheus.Counter
	uploadedSize prometheus.Counter
	clears       prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		appended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logstore_appended_entries_total",
			Help: "Entries written to local log storage",
		}),
		appendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logstore_append_errors_total",
			Help: "Entries that could not be written to local log storage",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logstore_uploads_total",
			Help: "Finished uploads by outcome",
		}, []string{"result"}),
		uploadedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logstore_uploaded_entries_total",
			Help: "Entries delivered to the sink",
		}),
		uploadedSize: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logstore_uploaded_bytes_total",
			Help: "Payload bytes delivered to the sink",
		}),
		clears: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logstore_clears_total",
			Help: "Completed clears of local log storage",
		}),
	}
	if reg == nil {
		return m
	}
	m.appended = register(reg, m.appended)
	m.appendErrors = register(reg, m.appendErrors)
	m.uploads = register(reg, m.uploads)
	m.uploadedRows = register(reg, m.uploadedRows)
	m.uploadedSize = register(reg, m.uploadedSize)
	m.clears = register(reg, m.clears)
	return m
}

// register adds c to reg, reusing an identical collector a second store
// already registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) observeUpload(res UploadResult, err error) {
	switch {
	case err == nil:
		m.uploads.WithLabelValues("success").Inc()
		m.uploadedRows.Add(float64(res.Entries))
		m.uploadedSize.Add(float64(res.Bytes))
	case errors.Is(err, ErrNoSink):
		m.uploads.WithLabelValues("no_sink").Inc()
	default:
		m.uploads.WithLabelValues("failure").Inc()
	}
}
