package imageserver

import (
	"context"
	"os"
	"time"

	"github.com/benpate/derp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Get locates the original, resizes it if necessary, and returns the result.
// Resized renditions are read from the cache when a fresh one exists, and
// written to the cache when they are generated.  Originals that need no
// processing are returned directly and never cached.
func (server ImageServer) Get(ctx context.Context, request ImageRequest) (Rendition, error) {

	const location = "imageserver.Get"

	filename, err := server.resolver.Resolve(request.Path)

	if err != nil {
		return Rendition{}, err
	}

	relative, err := server.resolver.Relative(filename)

	if err != nil {
		return Rendition{}, err
	}

	format := FormatFromExtension(filename)

	if !format.IsSupported() {
		return Rendition{}, newError(KindUnsupportedFormat, location, "Unsupported file type", nil)
	}

	original, err := server.statOriginal(filename)

	if err != nil {
		return Rendition{}, err
	}

	// If there is nothing to do, then return the original and exit
	if !needsEncoding(format, request) {

		data, err := server.readOriginal(filename)

		if err != nil {
			return Rendition{}, err
		}

		server.metrics.CacheLookups.WithLabelValues(string(CacheBypass)).Inc()

		return Rendition{
			Data:        data,
			Format:      format,
			ModTime:     original.ModTime(),
			CacheStatus: CacheBypass,
		}, nil
	}

	// If the rendition exists in the cache, then return it and exit
	key := request.CacheKey(relative, OutputFormat(format, request))

	if data, ok := server.cache.Get(key, original.ModTime()); ok {

		log.Trace().
			Str("location", location).
			Str("filename", relative).
			Str("key", key.String()).
			Msg("File found in cache.  Returning cached file.")

		server.metrics.CacheLookups.WithLabelValues(string(CacheHit)).Inc()

		return Rendition{
			Data:        data,
			Format:      key.Format,
			ModTime:     original.ModTime(),
			CacheStatus: CacheHit,
		}, nil
	}

	server.metrics.CacheLookups.WithLabelValues(string(CacheMiss)).Inc()

	// FALL THROUGH TO RESIZE...

	data, err := server.readOriginal(filename)

	if err != nil {
		return Rendition{}, err
	}

	start := time.Now()
	rendition, err := server.resizer.Resize(data, format, request)
	server.metrics.ResizeDuration.WithLabelValues(format.String()).Observe(time.Since(start).Seconds())

	if err != nil {
		return Rendition{}, err
	}

	rendition.ModTime = original.ModTime()
	rendition.CacheStatus = CacheMiss

	// If the original changed while we were reading it, then this rendition
	// may not match the recorded modification time.  Serve it, but don't cache it.
	if current, err := server.originals.Stat(filename); err != nil || !current.ModTime().Equal(original.ModTime()) {

		log.Debug().
			Str("location", location).
			Str("filename", relative).
			Msg("Original changed during resize.  Skipping cache.")

		return rendition, nil
	}

	if err := server.cache.Put(ctx, key, rendition.Data, original.ModTime()); err != nil {
		return Rendition{}, err
	}

	// Great success.
	return rendition, nil
}

// statOriginal confirms that the original is a regular file within the size limit.
func (server ImageServer) statOriginal(filename string) (os.FileInfo, error) {

	const location = "imageserver.statOriginal"

	info, err := server.originals.Stat(filename)

	if err != nil {

		if os.IsNotExist(err) {
			return nil, newError(KindNotFound, location, "Image does not exist", nil)
		}

		return nil, newError(KindUpstreamIO, location, "Unable to read image", derp.Wrap(err, location, "Error getting stats for original file", filename))
	}

	if !info.Mode().IsRegular() {
		return nil, newError(KindNotFound, location, "Image does not exist", nil)
	}

	if info.Size() > server.config.MaxFileSize() {
		return nil, newError(KindPayloadTooLarge, location, "Image exceeds the maximum file size", nil)
	}

	return info, nil
}

// readOriginal loads the complete original file.
func (server ImageServer) readOriginal(filename string) ([]byte, error) {

	const location = "imageserver.readOriginal"

	data, err := afero.ReadFile(server.originals, filename)

	if err != nil {

		if os.IsNotExist(err) {
			return nil, newError(KindNotFound, location, "Image does not exist", nil)
		}

		return nil, newError(KindUpstreamIO, location, "Unable to read image", derp.Wrap(err, location, "Error reading original file", filename))
	}

	return data, nil
}
