package sink

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const instanceFile = "instance-id"

// InstanceID returns the identifier persisted in dir, creating one on first
// use. If dir cannot hold the file an ephemeral id is returned with the error.
func InstanceID(dir string) (string, error) {
	path := filepath.Join(dir, instanceFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.New().String()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return id, errors.Wrapf(err, "create %s", dir)
	}
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return id, errors.Wrapf(err, "persist instance id")
	}
	return id, nil
}
