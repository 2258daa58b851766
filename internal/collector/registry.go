package collector

import (
	"context"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
)

// Instance is an uploading process known to the collector.
type Instance struct {
	InstanceID   string `json:"instance_id"`
	ServiceName  string `json:"service_name"`
	Hostname     string `json:"hostname"`
	IP           string `json:"ip"`
	SdkVersion   string `json:"sdk_version"`
	Language     string `json:"language"`
	RegisteredAt int64  `json:"registered_at"`
	LastSeenAt   int64  `json:"last_seen_at"`
}

// HandshakeResponse is returned to a registering instance.
type HandshakeResponse struct {
	Level string `json:"level"`
}

// Registry tracks instances by id.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	now       func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[string]*Instance),
		now:       time.Now,
	}
}

// RegisterOrUpdate adds an instance or refreshes an existing one, keeping its
// original registration time.
func (r *Registry) RegisterOrUpdate(inst Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().Unix()
	if existing, ok := r.instances[inst.InstanceID]; ok {
		inst.RegisteredAt = existing.RegisteredAt
	} else if inst.RegisteredAt == 0 {
		inst.RegisteredAt = now
	}
	inst.LastSeenAt = now
	r.instances[inst.InstanceID] = &inst
}

// Get returns a copy of the instance with id.
func (r *Registry) Get(id string) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	if !ok {
		return Instance{}, false
	}
	return *inst, true
}

// KeepAlive refreshes LastSeenAt for a known instance.
func (r *Registry) KeepAlive(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[id]; ok {
		inst.LastSeenAt = r.now().Unix()
	}
}

// List returns all instances ordered by id.
func (r *Registry) List() []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		list = append(list, *inst)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].InstanceID < list[j].InstanceID })
	return list
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// Prune removes instances not seen within timeout and returns how many.
func (r *Registry) Prune(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-timeout).Unix()
	n := 0
	for id, inst := range r.instances {
		if inst.LastSeenAt < cutoff {
			delete(r.instances, id)
			n++
		}
	}
	return n
}

// RunPrune prunes stale instances every interval until ctx ends.
func (r *Registry) RunPrune(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Prune(timeout)
		case <-ctx.Done():
			return
		}
	}
}

// handleHandshake registers the calling instance.
// POST /api/registry/handshake
func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var inst Instance
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&inst); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if inst.InstanceID == "" {
		inst.InstanceID = r.Header.Get("X-Instance-ID")
	}
	if inst.InstanceID == "" {
		http.Error(w, "instance_id is required", http.StatusBadRequest)
		return
	}
	if inst.IP == "" {
		inst.IP = remoteIP(r)
	}

	s.registry.RegisterOrUpdate(inst)
	s.log.Info("instance registered", "instance", inst.InstanceID, "service", inst.ServiceName, "host", inst.Hostname)

	writeJSON(w, http.StatusOK, HandshakeResponse{Level: "INFO"})
}

// handleListInstances returns the registered instances.
// GET /api/registry/instances
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.registry.List())
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
