package imageserver

import (
	"os"
	"strings"
	"time"

	"github.com/benpate/derp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// abandonedTempAge is how old a temp file must be before the janitor assumes
// its writer is gone.
const abandonedTempAge = time.Hour

// CacheJanitor periodically removes expired renditions and abandoned temp
// files from the cache filesystem.  Lookups already ignore expired entries,
// so the janitor only reclaims disk space.
type CacheJanitor struct {
	fs       afero.Fs
	maxAge   time.Duration
	interval time.Duration
	done     chan struct{}
}

// NewCacheJanitor returns a fully initialized CacheJanitor.  Call Start to begin sweeping.
func NewCacheJanitor(fs afero.Fs, maxAge time.Duration, interval time.Duration) *CacheJanitor {
	return &CacheJanitor{
		fs:       fs,
		maxAge:   maxAge,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start runs a background process that sweeps the cache until Close is called.
func (janitor *CacheJanitor) Start() {

	if janitor.interval <= 0 {
		return
	}

	go janitor.run()
}

// Close shuts down the background process.
func (janitor *CacheJanitor) Close() {
	close(janitor.done)
}

func (janitor *CacheJanitor) run() {

	ticker := time.NewTicker(janitor.interval)
	defer ticker.Stop()

	for {
		select {

		case <-janitor.done:
			return

		case <-ticker.C:
			janitor.Sweep()
		}
	}
}

// Sweep removes every expired file from the cache, and returns the number of files removed.
func (janitor *CacheJanitor) Sweep() int {

	const location = "imageserver.CacheJanitor.Sweep"

	now := time.Now()
	removed := 0

	err := afero.Walk(janitor.fs, ".", func(path string, info os.FileInfo, err error) error {

		// Files may disappear while we walk.  Keep going.
		if err != nil {
			return nil
		}

		if info.IsDir() {
			return nil
		}

		if !janitor.isExpired(info, now) {
			return nil
		}

		if err := janitor.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			derp.Report(derp.Wrap(err, location, "Unable to remove expired file", path))
			return nil
		}

		removed++
		return nil
	})

	if err != nil {
		derp.Report(derp.Wrap(err, location, "Unable to walk cache directory"))
	}

	log.Debug().
		Str("location", location).
		Int("removed", removed).
		Msg("Swept cache.")

	return removed
}

// isExpired returns TRUE for renditions older than max-age, and temp files that nobody finished.
func (janitor *CacheJanitor) isExpired(info os.FileInfo, now time.Time) bool {

	age := now.Sub(info.ModTime())

	if strings.HasPrefix(info.Name(), ".") && strings.HasSuffix(info.Name(), tempSuffix) {
		return age > abandonedTempAge
	}

	return age > janitor.maxAge
}
