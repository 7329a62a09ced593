package imageserver

import (
	"context"

	"github.com/benpate/derp"
	"github.com/rs/zerolog/log"
)

// Post authenticates an upload client and stores a new original.  Clients
// that present too many bad credentials are locked out for a while.
// It returns the normalized path of the stored image, relative to the image root.
func (server ImageServer) Post(ctx context.Context, client string, request UploadRequest) (string, error) {

	const location = "imageserver.Post"

	relative, err := server.post(ctx, client, request)

	if err != nil {
		server.metrics.Uploads.WithLabelValues(KindOf(err).String()).Inc()
		return "", err
	}

	server.metrics.Uploads.WithLabelValues("stored").Inc()

	// Renditions of the old version would be ignored anyway (the modification
	// time changed) but there is no reason to keep them around.
	if err := server.cache.Purge(relative); err != nil {
		derp.Report(derp.Wrap(err, location, "Unable to purge cached renditions", relative))
	}

	log.Info().
		Str("location", location).
		Str("filename", relative).
		Str("client", client).
		Msg("Image uploaded.")

	return relative, nil
}

func (server ImageServer) post(ctx context.Context, client string, request UploadRequest) (string, error) {

	// Disabled uploads fail before anything else, and never count against a client
	if !server.uploader.Enabled() {
		return "", newError(KindUploadDisabled, "imageserver.post", "Uploads are disabled", nil)
	}

	if err := server.throttle.Allow(client); err != nil {
		return "", err
	}

	if err := server.uploader.Authorize(request.Credential); err != nil {
		server.throttle.Fail(client)
		return "", err
	}

	server.throttle.Succeed(client)

	return server.uploader.Store(ctx, request)
}
