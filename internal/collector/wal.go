package collector

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/encoding/json"

	"github.com/coffersTech/logserver/internal/logline"
)

// Record is an ingested entry together with where it came from.
type Record struct {
	logline.Entry
	Instance   string    `json:"instance,omitempty"`
	Service    string    `json:"service,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// walFile is the subset of *os.File the WAL uses.
type walFile interface {
	io.ReadWriteSeeker
	io.Closer
	Sync() error
	Truncate(size int64) error
}

// WAL keeps ingested records on disk until the flusher archives them.
// Frame format: [len uint32 LE][JSON].
type WAL struct {
	file walFile
	path string
	mu   sync.Mutex
	size int64
}

// OpenWAL opens or creates the WAL file at path.
func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open wal %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "stat wal %s", path)
	}
	return &WAL{file: f, path: path, size: info.Size()}, nil
}

// Write appends one record. Records are not durable until Sync.
func (w *WAL) Write(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode wal record")
	}

	frame := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(frame); err != nil {
		// Drop the partial frame so later frames stay aligned.
		if terr := w.file.Truncate(w.size); terr != nil {
			err = errors.CombineErrors(err, errors.Wrap(terr, "truncate torn frame"))
		}
		return errors.Wrap(err, "write wal")
	}
	w.size += int64(len(frame))
	return nil
}

// Sync flushes the WAL file buffers to disk.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Wrap(w.file.Sync(), "sync wal")
}

// Size returns the number of bytes waiting in the WAL.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Drain replays every record and passes them to fn. The WAL is truncated only
// when fn succeeds, so a failed archive keeps the records for the next try.
// Writers block while fn runs.
func (w *WAL) Drain(fn func([]Record) error) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	recs, err := w.replay()
	if err != nil {
		return 0, err
	}
	if len(recs) > 0 {
		if err := fn(recs); err != nil {
			return 0, err
		}
	}
	if err := w.file.Truncate(0); err != nil {
		return 0, errors.Wrap(err, "truncate wal")
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return 0, errors.Wrap(err, "rewind wal")
	}
	w.size = 0
	return len(recs), nil
}

// Replay returns the records currently in the WAL.
func (w *WAL) Replay() ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.replay()
}

// replay stops at a torn trailing frame; everything before it is returned.
func (w *WAL) replay() ([]Record, error) {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "rewind wal")
	}
	defer func() { _, _ = w.file.Seek(0, io.SeekEnd) }()

	r := bufio.NewReader(w.file)
	var recs []Record
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return recs, nil
			}
			return recs, errors.Wrap(err, "wal replay (len)")
		}

		data := make([]byte, binary.LittleEndian.Uint32(lenBuf))
		if _, err := io.ReadFull(r, data); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return recs, nil
			}
			return recs, errors.Wrap(err, "wal replay (data)")
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return recs, errors.Wrap(err, "wal replay (unmarshal)")
		}
		recs = append(recs, rec)
	}
}

// Close closes the WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
