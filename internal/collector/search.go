package collector

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/coffersTech/logserver/internal/query"
)

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
)

// Field implements query.Fields; instance and service are addressable too.
func (r Record) Field(key string) (string, bool) {
	switch key {
	case "instance":
		return r.Instance, r.Instance != ""
	case "service":
		return r.Service, r.Service != ""
	}
	return query.EntryFields(r.Entry).Field(key)
}

// Text implements query.Fields.
func (r Record) Text() []string {
	return append(query.EntryFields(r.Entry).Text(), r.Service, r.Instance)
}

// Search returns the newest records matching f, oldest first. Archives whose
// newest entry is before since are skipped; a zero since scans everything.
func (s *Server) Search(f *query.Filter, since time.Time, limit int) ([]Record, error) {
	names, err := s.archive.List()
	if err != nil {
		return nil, err
	}

	var out []Record
	keep := func(rec Record) {
		if !since.IsZero() && rec.Time.Before(since) {
			return
		}
		if !f.Match(rec) {
			return
		}
		out = append(out, rec)
		if len(out) > limit {
			out = out[1:]
		}
	}

	for _, name := range names {
		if !since.IsZero() {
			if maxTs, err := extractMaxTs(name); err == nil && maxTs < since.UnixNano() {
				continue
			}
		}
		recs, err := s.archive.Read(filepath.Join(s.archive.dir, name))
		if err != nil {
			s.log.Warn("skipping unreadable archive", "file", name, "err", err)
			continue
		}
		for _, rec := range recs {
			keep(rec)
		}
	}

	pending, err := s.wal.Replay()
	if err != nil {
		return nil, err
	}
	for _, rec := range pending {
		keep(rec)
	}
	return out, nil
}

// handleSearch filters archived and pending records.
// GET /api/search?q=<query>&since=<duration>&limit=<n>
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()

	f, err := query.Compile(q.Get("q"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var since time.Time
	if v := q.Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			http.Error(w, "Invalid since duration", http.StatusBadRequest)
			return
		}
		since = time.Now().Add(-d)
	}

	limit := defaultSearchLimit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			limit = min(n, maxSearchLimit)
		}
	}

	recs, err := s.Search(f, since, limit)
	if err != nil {
		s.log.Error("search failed", "err", err)
		http.Error(w, "Search failed", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}
