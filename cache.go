package imageserver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benpate/derp"
	"github.com/benpate/rosetta/convert"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// CacheKey identifies one rendition of one original.  Identical parameters
// always produce identical keys.
type CacheKey struct {
	Path    string // Canonical path of the original, relative to the image root
	Width   int
	Height  int
	Quality int
	Format  Format // Format of the rendition (not necessarily of the original)
}

// String returns a deterministic, human-readable encoding of the key.
func (key CacheKey) String() string {
	return key.Path + ";w=" + convert.String(key.Width) + ";h=" + convert.String(key.Height) + ";q=" + convert.String(key.Quality) + ";f=" + key.Format.String()
}

// Dir returns the name of the directory within the cache where every rendition of this original is stored.
func (key CacheKey) Dir() string {
	return filepath.FromSlash(key.Path)
}

// Filename returns the name of the cached file for an original with the provided modification time.
// The modification time is part of the name, so a changed original can never match an old entry.
func (key CacheKey) Filename(originalModTime time.Time) string {
	return key.prefix() + "m" + convert.String(originalModTime.UnixNano()) + key.Format.Extension()
}

// CachePath returns the complete path (within the cache filesystem) of the cached file.
func (key CacheKey) CachePath(originalModTime time.Time) string {
	return filepath.Join(key.Dir(), key.Filename(originalModTime))
}

// prefix is shared by every generation of this key
func (key CacheKey) prefix() string {

	var buffer strings.Builder

	buffer.WriteString("w" + convert.String(key.Width))
	buffer.WriteString("_h" + convert.String(key.Height))
	buffer.WriteString("_q" + convert.String(key.Quality))
	buffer.WriteString("_")

	return buffer.String()
}

// CacheStore keeps renditions on a filesystem.  There is no in-memory index:
// the filesystem is the only source of truth, and is safe to share between
// processes because every write is a rename of a completed temp file.
type CacheStore struct {
	fs     afero.Fs
	maxAge time.Duration
}

// NewCacheStore returns a CacheStore that writes into fs and expires entries after maxAge.
func NewCacheStore(fs afero.Fs, maxAge time.Duration) CacheStore {
	return CacheStore{
		fs:     fs,
		maxAge: maxAge,
	}
}

// Get returns the cached rendition for this key, if it exists, was generated
// from an original with this exact modification time, and is younger than max-age.
func (cache CacheStore) Get(key CacheKey, originalModTime time.Time) ([]byte, bool) {

	const location = "imageserver.CacheStore.Get"

	filename := key.CachePath(originalModTime)

	info, err := cache.fs.Stat(filename)

	if err != nil {
		return nil, false
	}

	// Guard against an empty file left behind by a failed write
	if info.Size() == 0 {
		return nil, false
	}

	if time.Since(info.ModTime()) > cache.maxAge {

		log.Trace().
			Str("location", location).
			Str("filename", filename).
			Msg("Cached file is expired.  Removing...")

		if err := cache.fs.Remove(filename); err != nil && !os.IsNotExist(err) {
			derp.Report(derp.Wrap(err, location, "Unable to remove expired cache file", filename))
		}

		return nil, false
	}

	data, err := afero.ReadFile(cache.fs, filename)

	if err != nil {
		derp.Report(derp.Wrap(err, location, "Unable to read cached file", filename))
		return nil, false
	}

	return data, true
}

// Put writes a rendition into the cache.  The data is written to a temp file
// in the same directory and renamed into place, so a concurrent reader sees
// either nothing or the complete file.  If the context is canceled before the
// rename, the temp file is discarded.
func (cache CacheStore) Put(ctx context.Context, key CacheKey, data []byte, originalModTime time.Time) error {

	const location = "imageserver.CacheStore.Put"

	filename := key.CachePath(originalModTime)

	if err := cache.fs.MkdirAll(key.Dir(), 0o755); err != nil {
		return newError(KindCacheWrite, location, "Unable to create cache directory", derp.Wrap(err, location, "Error creating cache directory", key.Dir()))
	}

	if err := writeAtomic(ctx, cache.fs, filename, data); err != nil {
		return newError(KindCacheWrite, location, "Unable to write cache file", derp.Wrap(err, location, "Error writing cache file", filename))
	}

	log.Trace().
		Str("location", location).
		Str("filename", filename).
		Msg("Created new cached file...")

	cache.removeStale(key, originalModTime)
	return nil
}

// Purge removes every rendition of an original.
func (cache CacheStore) Purge(relative string) error {

	const location = "imageserver.CacheStore.Purge"

	dir := filepath.FromSlash(relative)

	if err := cache.fs.RemoveAll(dir); err != nil {
		return newError(KindCacheWrite, location, "Unable to purge cache", derp.Wrap(err, location, "Error removing cache directory", dir))
	}

	return nil
}

// removeStale deletes renditions with the same parameters that were made
// from an older version of the original.  Failures only cost disk space.
func (cache CacheStore) removeStale(key CacheKey, originalModTime time.Time) {

	const location = "imageserver.CacheStore.removeStale"

	current := key.Filename(originalModTime)
	prefix := key.prefix()

	entries, err := afero.ReadDir(cache.fs, key.Dir())

	if err != nil {
		derp.Report(derp.Wrap(err, location, "Unable to list cache directory", key.Dir()))
		return
	}

	for _, entry := range entries {

		name := entry.Name()

		if entry.IsDir() || name == current || !strings.HasPrefix(name, prefix) {
			continue
		}

		if err := cache.fs.Remove(filepath.Join(key.Dir(), name)); err != nil && !os.IsNotExist(err) {
			derp.Report(derp.Wrap(err, location, "Unable to remove stale cache file", name))
		}
	}
}

// writeAtomic writes data to a uniquely named temp file next to filename,
// syncs it, and renames it over filename.  The temp file never survives a failure.
func writeAtomic(ctx context.Context, fs afero.Fs, filename string, data []byte) error {

	const location = "imageserver.writeAtomic"

	tempFilename := tempName(filename)

	tempFile, err := fs.OpenFile(tempFilename, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)

	if err != nil {
		return derp.Wrap(err, location, "Unable to create temp file", tempFilename)
	}

	success := false

	defer func() {
		if !success {
			if err := fs.Remove(tempFilename); err != nil && !os.IsNotExist(err) {
				derp.Report(derp.Wrap(err, location, "Unable to remove temp file", tempFilename))
			}
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return derp.Wrap(err, location, "Unable to write temp file", tempFilename)
	}

	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return derp.Wrap(err, location, "Unable to sync temp file", tempFilename)
	}

	if err := tempFile.Close(); err != nil {
		return derp.Wrap(err, location, "Unable to close temp file", tempFilename)
	}

	// Last chance to abandon the write.  After the rename, the file is visible.
	if err := ctx.Err(); err != nil {
		return derp.Wrap(err, location, "Write canceled", filename)
	}

	if err := fs.Rename(tempFilename, filename); err != nil {
		return derp.Wrap(err, location, "Unable to rename temp file", tempFilename, filename)
	}

	success = true
	return nil
}

// tempName returns a hidden, unique sibling of filename.
func tempName(filename string) string {
	return filepath.Join(filepath.Dir(filename), "."+filepath.Base(filename)+"."+uuid.NewString()+tempSuffix)
}

const tempSuffix = ".tmp"
