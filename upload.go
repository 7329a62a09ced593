package imageserver

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"image"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/benpate/derp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// UploadRequest is a new original image, as received from an upload client.
// The caller owns Body; Store copies it into the image root.
type UploadRequest struct {
	Path        string // Destination, relative to the image root (still URL-escaped)
	Body        io.Reader
	ContentType string
	Credential  string
}

// Uploader authenticates upload clients and writes new originals into the image root.
type Uploader struct {
	enabled     bool
	apiKey      [sha256.Size]byte
	maxFileSize int64
	maxPixels   int
	resolver    PathResolver
	originals   afero.Fs
}

// NewUploader returns an Uploader that writes through the provided resolver and filesystem.
func NewUploader(config Config, resolver PathResolver, originals afero.Fs) Uploader {
	return Uploader{
		enabled:     config.UploadEnabled && config.UploadAPIKey != "",
		apiKey:      sha256.Sum256([]byte(config.UploadAPIKey)),
		maxFileSize: config.MaxFileSize(),
		maxPixels:   config.MaxPixels,
		resolver:    resolver,
		originals:   originals,
	}
}

// Enabled returns TRUE if uploads are accepted at all.
func (uploader Uploader) Enabled() bool {
	return uploader.enabled
}

// CredentialFromRequest returns the credential presented by an upload client:
// an "Authorization: Bearer" header, or (deprecated) an "api_key" query parameter.
func CredentialFromRequest(header http.Header, query url.Values) string {

	if authorization := strings.TrimSpace(header.Get("Authorization")); authorization != "" {

		scheme, token, found := strings.Cut(authorization, " ")

		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}

		return ""
	}

	if apiKey := query.Get("api_key"); apiKey != "" {

		log.Warn().
			Str("location", "imageserver.CredentialFromRequest").
			Msg("API key passed in querystring.  This is deprecated; use an Authorization: Bearer header instead.")

		return apiKey
	}

	return ""
}

// Authorize checks a presented credential against the configured API key.
// When uploads are disabled, every credential is rejected.
func (uploader Uploader) Authorize(credential string) error {

	const location = "imageserver.Uploader.Authorize"

	if !uploader.enabled {
		return newError(KindUploadDisabled, location, "Uploads are disabled", nil)
	}

	if credential == "" {
		return newError(KindAuthentication, location, "Missing API key", nil)
	}

	// Compare digests so that the comparison time does not depend on the key length either
	presented := sha256.Sum256([]byte(credential))

	if subtle.ConstantTimeCompare(presented[:], uploader.apiKey[:]) != 1 {
		return newError(KindAuthentication, location, "Invalid API key", nil)
	}

	return nil
}

// Store validates an upload and atomically writes it into the image root.
// It returns the normalized destination path, relative to the image root.
// Every validation happens before anything is written.
func (uploader Uploader) Store(ctx context.Context, request UploadRequest) (string, error) {

	const location = "imageserver.Uploader.Store"

	// 1 & 2: Feature switch and credentials
	if err := uploader.Authorize(request.Credential); err != nil {
		return "", err
	}

	// 3: Destination must be inside the image root
	destination, err := uploader.resolver.Resolve(request.Path)

	if err != nil {
		return "", err
	}

	relative, err := uploader.resolver.Relative(destination)

	if err != nil {
		return "", err
	}

	// 4: Only supported image types.  The declared Content-Type must agree with the extension.
	format := FormatFromExtension(destination)

	if !format.IsSupported() {
		return "", newError(KindUnsupportedFormat, location, "Unsupported file extension", nil)
	}

	declared := FormatFromMimeType(request.ContentType)

	if !declared.IsSupported() {
		return "", newError(KindUnsupportedFormat, location, "Unsupported Content-Type", nil)
	}

	if declared != format {
		return "", newError(KindUnsupportedFormat, location, "Content-Type is "+declared.String()+", but the filename says "+format.String(), nil)
	}

	// 5: Size limit.  Read one extra byte to detect oversized bodies.
	body, err := io.ReadAll(io.LimitReader(request.Body, uploader.maxFileSize+1))

	if err != nil {
		return "", newError(KindUpstreamIO, location, "Unable to read upload", derp.Wrap(err, location, "Error reading request body", relative))
	}

	if int64(len(body)) > uploader.maxFileSize {
		return "", newError(KindPayloadTooLarge, location, "Image exceeds the maximum upload size", nil)
	}

	// 6: The body must really be an image, of the format its name claims
	if err := validateImage(body, format, uploader.maxPixels); err != nil {
		return "", err
	}

	// Write it.
	if err := uploader.originals.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return "", newError(KindUpstreamIO, location, "Unable to store image", derp.Wrap(err, location, "Error creating destination directory", relative))
	}

	if err := writeAtomic(ctx, uploader.originals, destination, body); err != nil {
		return "", newError(KindUpstreamIO, location, "Unable to store image", derp.Wrap(err, location, "Error writing original", relative))
	}

	log.Debug().
		Str("location", location).
		Str("filename", relative).
		Int("size", len(body)).
		Str("format", format.String()).
		Msg("Stored uploaded image.")

	return relative, nil
}

// validateImage decodes the image header, and confirms that it matches the
// expected format and fits within maxPixels.
func validateImage(body []byte, expected Format, maxPixels int) error {

	const location = "imageserver.validateImage"

	config, name, err := image.DecodeConfig(bytes.NewReader(body))

	if err != nil {
		return newError(KindInvalidImage, location, "Body is not a valid image", derp.Wrap(err, location, "Error decoding image header"))
	}

	detected := FormatFromDecoder(name)

	if !detected.IsSupported() {
		return newError(KindInvalidImage, location, "Body is not a supported image", nil)
	}

	if detected != expected {
		return newError(KindInvalidImage, location, "Body is "+detected.String()+", but the filename says "+expected.String(), nil)
	}

	if config.Width < 1 || config.Height < 1 {
		return newError(KindInvalidImage, location, "Image has no pixels", nil)
	}

	return checkPixels(location, config.Width, config.Height, maxPixels)
}
