// Package imageserver serves images from a directory over HTTP, resizing
// them on demand and caching the results on disk.  It can also accept
// authenticated uploads of new originals.
package imageserver

import (
	"os"

	"github.com/benpate/derp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
)

// authThrottleCapacity is the number of distinct clients tracked by the AuthThrottle.
const authThrottleCapacity = 10_000

// ImageServer manages original images on a filesystem, and resizes them when requested.
type ImageServer struct {
	config    Config
	resolver  PathResolver
	originals afero.Fs   // Original images, addressed by the absolute paths returned from the resolver
	cache     CacheStore // Resized images (may be deleted at any time)
	resizer   Resizer
	uploader  Uploader
	throttle  *AuthThrottle
	metrics   *Metrics
}

// Option modifies an ImageServer while it is being created.
type Option func(*ImageServer)

// WithCacheFilesystem stores renditions in fs instead of the configured cache root.
func WithCacheFilesystem(fs afero.Fs) Option {
	return func(server *ImageServer) {
		server.cache = NewCacheStore(fs, server.config.CacheTTL())
	}
}

// WithResizer replaces the default ResizeEngine.
func WithResizer(resizer Resizer) Option {
	return func(server *ImageServer) {
		server.resizer = resizer
	}
}

// WithRegistry registers the server's metrics with registry instead of a private one.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(server *ImageServer) {
		server.metrics = NewMetrics(registry)
	}
}

// New returns a fully initialized ImageServer.  Any error here means the
// configuration cannot be served, and the process should not start.
func New(config Config, options ...Option) (ImageServer, error) {

	const location = "imageserver.New"

	if err := config.Validate(); err != nil {
		return ImageServer{}, derp.Wrap(err, location, "Invalid configuration")
	}

	resolver, err := NewPathResolver(config.ImageRoot)

	if err != nil {
		return ImageServer{}, derp.Wrap(err, location, "Invalid image root", config.ImageRoot)
	}

	originals := afero.NewOsFs()

	result := ImageServer{
		config:    config,
		resolver:  resolver,
		originals: originals,
		resizer:   NewResizeEngine(config),
		uploader:  NewUploader(config, resolver, originals),
	}

	for _, option := range options {
		option(&result)
	}

	// Default cache lives in the configured cache root
	if result.cache.fs == nil {

		if err := os.MkdirAll(config.CacheRoot, 0o755); err != nil {
			return ImageServer{}, derp.Wrap(err, location, "Unable to create cache root", config.CacheRoot)
		}

		result.cache = NewCacheStore(afero.NewBasePathFs(afero.NewOsFs(), config.CacheRoot), config.CacheTTL())
	}

	if result.metrics == nil {
		result.metrics = NewMetrics(prometheus.NewRegistry())
	}

	// Created last: the throttle owns background goroutines that only Close releases
	throttle, err := NewAuthThrottle(config.AuthMaxFailures, config.AuthLockoutDuration(), authThrottleCapacity)

	if err != nil {
		return ImageServer{}, derp.Wrap(err, location, "Unable to create authentication throttle")
	}

	result.throttle = throttle
	return result, nil
}

// Config returns the configuration this server was created with.
func (server ImageServer) Config() Config {
	return server.config
}

// CacheFilesystem returns the filesystem that holds cached renditions.
func (server ImageServer) CacheFilesystem() afero.Fs {
	return server.cache.fs
}

// Close releases background resources.
func (server ImageServer) Close() {
	server.throttle.Close()
}
