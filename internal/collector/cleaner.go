package collector

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
)

// PurgeExpired deletes archives whose newest entry is older than now minus
// retention. A non-positive retention keeps everything.
func (a *Archiver) PurgeExpired(retention time.Duration, now time.Time) ([]string, error) {
	if retention <= 0 {
		return nil, nil
	}
	names, err := a.List()
	if err != nil {
		return nil, err
	}

	threshold := now.Add(-retention).UnixNano()
	var removed []string
	var errs error
	for _, name := range names {
		maxTs, err := extractMaxTs(name)
		if err != nil {
			continue
		}
		if maxTs >= threshold {
			continue
		}
		if err := os.Remove(filepath.Join(a.dir, name)); err != nil && !os.IsNotExist(err) {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "delete %s", name))
			continue
		}
		removed = append(removed, name)
	}
	return removed, errs
}
