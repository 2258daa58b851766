package collector

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/segmentio/encoding/json"
)

const (
	archivePrefix = "batch_"
	archiveSuffix = ".ndjson.zst"
)

// Archiver writes drained WAL records to zstd-compressed NDJSON files named
// batch_<minTs>_<maxTs>.ndjson.zst, timestamps in unix nanos.
type Archiver struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewArchiver returns an archiver writing into dir.
func NewArchiver(dir string) (*Archiver, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd decoder")
	}
	return &Archiver{dir: dir, encoder: enc, decoder: dec}, nil
}

// Write stores recs as one archive and returns its path.
func (a *Archiver) Write(recs []Record) (string, error) {
	if len(recs) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	minTs, maxTs := recs[0].Time.UnixNano(), recs[0].Time.UnixNano()
	for _, rec := range recs {
		ts := rec.Time.UnixNano()
		minTs = min(minTs, ts)
		maxTs = max(maxTs, ts)

		data, err := json.Marshal(rec)
		if err != nil {
			return "", errors.Wrap(err, "encode archive record")
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create archive dir %s", a.dir)
	}
	data := a.encoder.EncodeAll(buf.Bytes(), nil)

	// Two flushes can cover the same range; later ones get a sequence suffix.
	base := fmt.Sprintf("%s%d_%d", archivePrefix, minTs, maxTs)
	for seq := 0; ; seq++ {
		name := base + archiveSuffix
		if seq > 0 {
			name = fmt.Sprintf("%s-%d%s", base, seq, archiveSuffix)
		}
		path := filepath.Join(a.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", errors.Wrapf(err, "create archive %s", name)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return "", errors.Wrapf(err, "write archive %s", name)
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return "", errors.Wrapf(err, "sync archive %s", name)
		}
		return path, errors.Wrapf(f.Close(), "close archive %s", name)
	}
}

// Read decodes the archive at path.
func (a *Archiver) Read(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read archive %s", path)
	}
	raw, err := a.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "decompress archive %s", path)
	}

	var recs []Record
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return recs, errors.Wrapf(err, "decode archive %s", path)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// List returns archive file names in dir, sorted by name.
func (a *Archiver) List() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read archive dir %s", a.dir)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isArchive(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func isArchive(name string) bool {
	return strings.HasPrefix(name, archivePrefix) && strings.HasSuffix(name, archiveSuffix)
}

// extractMaxTs parses batch_<min>_<max>[-seq].ndjson.zst.
func extractMaxTs(name string) (int64, error) {
	if !isArchive(name) {
		return 0, errors.Newf("not an archive: %s", name)
	}
	base := strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), archiveSuffix)
	parts := strings.Split(base, "_")
	if len(parts) != 2 {
		return 0, errors.Newf("invalid archive name: %s", name)
	}
	// A leading '-' is the sign of a pre-epoch timestamp, not a sequence.
	maxTs := parts[1]
	if i := strings.LastIndexByte(maxTs, '-'); i > 0 {
		maxTs = maxTs[:i]
	}
	return strconv.ParseInt(maxTs, 10, 64)
}
