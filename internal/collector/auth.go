package collector

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// keyring checks bearer keys against bcrypt hashes. Keys that matched once
// are remembered by digest so later requests skip bcrypt.
type keyring struct {
	hashes [][]byte
	known  sync.Map // [32]byte -> struct{}
}

func newKeyring(hashes []string) *keyring {
	k := &keyring{}
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			k.hashes = append(k.hashes, []byte(h))
		}
	}
	return k
}

// Enabled reports whether any key is configured.
func (k *keyring) Enabled() bool {
	return len(k.hashes) > 0
}

// Check reports whether key matches one of the configured hashes.
func (k *keyring) Check(key string) bool {
	if key == "" {
		return false
	}
	digest := sha256.Sum256([]byte(key))
	if _, ok := k.known.Load(digest); ok {
		return true
	}
	for _, h := range k.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			k.known.Store(digest, struct{}{})
			return true
		}
	}
	return false
}

// HashKey returns the bcrypt hash to configure for key.
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(h), err
}

// requireKey wraps next with bearer key authentication. With no keys
// configured every request passes.
func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.keys.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="logserver"`)
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}
		if !s.keys.Check(token) {
			s.metrics.authFailures.Inc()
			w.Header().Set("WWW-Authenticate", `Bearer realm="logserver"`)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
