// Package journal is the local, append-only storage behind a log store: a
// directory of newline-delimited segment files rotated by size.
package journal

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/coffersTech/logserver/internal/logline"
)

const segmentExt = ".log"

// backupTimeFormat mirrors the timestamp lumberjack puts in rotated names.
const backupTimeFormat = "2006-01-02T15-04-05.000"

// Config describes where segments live and how they rotate.
type Config struct {
	// Dir holds the active segment and its rotated backups.
	Dir string
	// Name is the segment base name, without extension.
	Name string
	// MaxSizeMB is the size in megabytes at which the active segment rotates.
	MaxSizeMB int
	// MaxBackups is the number of rotated segments to keep. 0 keeps all.
	MaxBackups int
	// MaxAgeDays removes rotated segments older than this. 0 keeps all.
	MaxAgeDays int
}

// Journal appends lines to the active segment and reads all segments back.
type Journal struct {
	cfg Config

	mu     sync.Mutex
	writer *lumberjack.Logger
}

// New returns a journal for cfg. Nothing touches the disk until Open.
func New(cfg Config) *Journal {
	if cfg.Name == "" {
		cfg.Name = "app"
	}
	return &Journal{cfg: cfg}
}

// Dir returns the storage directory.
func (j *Journal) Dir() string {
	return j.cfg.Dir
}

// ActivePath returns the path of the segment receiving appends.
func (j *Journal) ActivePath() string {
	return filepath.Join(j.cfg.Dir, j.cfg.Name+segmentExt)
}

// Open creates the directory and the active segment if absent. A torn last
// line left by an interrupted write is cut off so later appends start on a
// clean line.
func (j *Journal) Open() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(j.cfg.Dir, 0o755); err != nil {
		return errors.Wrapf(err, "create log dir %s", j.cfg.Dir)
	}

	path := j.ActivePath()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open segment %s", path)
	}
	defer f.Close()

	if err := repairTail(f); err != nil {
		return errors.Wrapf(err, "repair segment %s", path)
	}

	if j.writer == nil {
		j.writer = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    j.cfg.MaxSizeMB,
			MaxBackups: j.cfg.MaxBackups,
			MaxAge:     j.cfg.MaxAgeDays,
		}
	}
	return nil
}

// repairTail truncates f after its last newline.
func repairTail(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}

	data, err := io.ReadAll(io.NewSectionReader(f, 0, size))
	if err != nil {
		return err
	}
	return f.Truncate(int64(len(logline.Complete(data))))
}

// Append writes one newline-terminated line with a single write, so a line
// never straddles two segments.
func (j *Journal) Append(line []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer == nil {
		return errors.New("journal is not open")
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		return errors.New("journal lines must end with a newline")
	}
	if _, err := j.writer.Write(line); err != nil {
		return errors.Wrap(err, "append to segment")
	}
	return nil
}

// Segments lists existing segment paths, oldest first, active segment last.
func (j *Journal) Segments() ([]string, error) {
	entries, err := os.ReadDir(j.cfg.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "list log dir %s", j.cfg.Dir)
	}

	prefix := j.cfg.Name + "-"
	var backups []string
	hasActive := false
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if name == j.cfg.Name+segmentExt {
			hasActive = true
			continue
		}
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, segmentExt) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), segmentExt)
		if len(stamp) != len(backupTimeFormat) {
			continue
		}
		backups = append(backups, filepath.Join(j.cfg.Dir, name))
	}

	// Zero-padded timestamps sort lexicographically in time order.
	sort.Strings(backups)
	if hasActive {
		backups = append(backups, j.ActivePath())
	}
	return backups, nil
}

// Snapshot returns the complete lines of every segment in order.
func (j *Journal) Snapshot() ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	segments, err := j.Segments()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, path := range segments {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Removed by backup retention between listing and reading.
				continue
			}
			return nil, errors.Wrapf(err, "read segment %s", path)
		}
		buf.Write(logline.Complete(data))
	}
	return buf.Bytes(), nil
}

// Size returns the total bytes held in all segments.
func (j *Journal) Size() (int64, int, error) {
	segments, err := j.Segments()
	if err != nil {
		return 0, 0, err
	}
	var total int64
	count := 0
	for _, path := range segments {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, 0, errors.Wrapf(err, "stat segment %s", path)
		}
		total += info.Size()
		count++
	}
	return total, count, nil
}

// Clear closes the active segment and deletes every segment. The journal
// stays usable: the next Append recreates an empty active segment.
func (j *Journal) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer != nil {
		if err := j.writer.Close(); err != nil {
			return errors.Wrap(err, "close active segment")
		}
	}

	segments, err := j.Segments()
	if err != nil {
		return err
	}
	for _, path := range segments {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrapf(err, "remove segment %s", path)
		}
	}
	return nil
}

// Close releases the active segment. Stored data is kept.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer == nil {
		return nil
	}
	err := j.writer.Close()
	j.writer = nil
	return errors.Wrap(err, "close journal")
}
