package imageserver

import (
	"bytes"
	"image"
	"math"
	"time"

	"github.com/benpate/derp"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
)

// CacheStatus describes where a Rendition came from.
type CacheStatus string

const (
	CacheHit    CacheStatus = "hit"
	CacheMiss   CacheStatus = "miss"
	CacheBypass CacheStatus = "bypass"
)

// Rendition is an encoded image, ready to be returned to a client.
type Rendition struct {
	Data        []byte
	Format      Format
	Width       int // 0 when the original was passed through without decoding
	Height      int // 0 when the original was passed through without decoding
	ModTime     time.Time
	CacheStatus CacheStatus
}

// Resizer produces a Rendition of an original image.  ResizeEngine is the
// production implementation.
type Resizer interface {
	Resize(original []byte, format Format, request ImageRequest) (Rendition, error)
}

// ResizeEngine decodes, resizes, and re-encodes images.
type ResizeEngine struct {
	maxWidth  int
	maxHeight int
	maxPixels int
}

// NewResizeEngine returns a ResizeEngine that enforces the configured dimension limits.
func NewResizeEngine(config Config) ResizeEngine {
	return ResizeEngine{
		maxWidth:  config.MaxWidth,
		maxHeight: config.MaxHeight,
		maxPixels: config.MaxPixels,
	}
}

// OutputFormat returns the Format that Resize will produce for this
// combination of original Format and request.
func OutputFormat(format Format, request ImageRequest) Format {

	if !needsEncoding(format, request) {
		return format
	}

	return format.ResizedFormat()
}

// needsEncoding returns FALSE when the original bytes can be returned untouched.
// Without a requested size, only an explicit JPEG quality forces a re-encode.
func needsEncoding(format Format, request ImageRequest) bool {

	if request.Resize() {
		return true
	}

	return request.ExplicitQuality && format.UsesQuality()
}

// Resize returns a Rendition of the original image that honors the requested
// dimensions and quality.  Request values are validated before any decoding.
func (engine ResizeEngine) Resize(original []byte, format Format, request ImageRequest) (Rendition, error) {

	const location = "imageserver.ResizeEngine.Resize"

	if err := engine.validate(request); err != nil {
		return Rendition{}, err
	}

	if !format.IsSupported() {
		return Rendition{}, newError(KindUnsupportedFormat, location, "Unsupported image format", nil)
	}

	// Nothing to do.  Return the original as-is.
	if !needsEncoding(format, request) {
		return Rendition{
			Data:   original,
			Format: format,
		}, nil
	}

	// Read the header first, so that the pixel buffer is never allocated for oversized images
	header, _, err := image.DecodeConfig(bytes.NewReader(original))

	if err != nil {
		return Rendition{}, newError(KindUpstreamIO, location, "Unable to decode image", derp.Wrap(err, location, "Error decoding image header", format.String()))
	}

	if err := checkPixels(location, header.Width, header.Height, engine.maxPixels); err != nil {
		return Rendition{}, err
	}

	img, err := imaging.Decode(bytes.NewReader(original), imaging.AutoOrientation(true))

	if err != nil {
		return Rendition{}, newError(KindUpstreamIO, location, "Unable to decode image", derp.Wrap(err, location, "Error decoding image", format.String()))
	}

	bounds := img.Bounds()
	width, height := TargetDimensions(bounds.Dx(), bounds.Dy(), request.Width, request.Height, engine.maxWidth, engine.maxHeight)

	if width != bounds.Dx() || height != bounds.Dy() {
		img = imaging.Resize(img, width, height, imaging.Lanczos)
	}

	output := format.ResizedFormat()

	var buffer bytes.Buffer

	if err := output.Encode(&buffer, img, request.Quality); err != nil {
		return Rendition{}, newError(KindUpstreamIO, location, "Unable to encode image", derp.Wrap(err, location, "Error encoding image", output.String()))
	}

	log.Trace().
		Str("location", location).
		Str("filename", request.Path).
		Int("width", width).
		Int("height", height).
		Str("format", output.String()).
		Msg("Resized image.")

	return Rendition{
		Data:   buffer.Bytes(),
		Format: output,
		Width:  width,
		Height: height,
	}, nil
}

// validate rejects requests that exceed the engine's limits, rather than clamping them.
func (engine ResizeEngine) validate(request ImageRequest) error {

	const location = "imageserver.ResizeEngine.validate"

	if request.Quality < 1 || request.Quality > 100 {
		return newError(KindQualityOutOfRange, location, "Quality must be between 1 and 100", nil)
	}

	if request.Width < 0 || request.Height < 0 {
		return newError(KindInvalidParameter, location, "Dimensions must be positive", nil)
	}

	if request.Width > engine.maxWidth || request.Height > engine.maxHeight {
		return newError(KindDimensionExceeded, location, "Requested dimensions exceed the configured maximum", nil)
	}

	return nil
}

// checkPixels rejects images whose decoded pixel buffer would exceed maxPixels.
func checkPixels(location string, width int, height int, maxPixels int) error {

	if int64(width)*int64(height) > int64(maxPixels) {
		return newError(KindPayloadTooLarge, location, "Image has too many pixels", nil)
	}

	return nil
}

// TargetDimensions computes the output size of an image.  Zero means "not
// requested".  With one dimension, the other follows the original aspect
// ratio.  With both, the image is scaled to fit inside the box without
// cropping.  Results are clamped to [1, max].
func TargetDimensions(originalWidth int, originalHeight int, width int, height int, maxWidth int, maxHeight int) (int, int) {

	if originalWidth <= 0 || originalHeight <= 0 {
		return clamp(width, maxWidth), clamp(height, maxHeight)
	}

	ow := float64(originalWidth)
	oh := float64(originalHeight)

	switch {

	case width == 0 && height == 0:
		return originalWidth, originalHeight

	case height == 0:
		height = int(math.Round(float64(width) * oh / ow))

	case width == 0:
		width = int(math.Round(float64(height) * ow / oh))

	default:
		scale := math.Min(float64(width)/ow, float64(height)/oh)
		width = int(math.Round(scale * ow))
		height = int(math.Round(scale * oh))
	}

	return clamp(width, maxWidth), clamp(height, maxHeight)
}

func clamp(value int, maximum int) int {
	return max(1, min(value, maximum))
}
