package imageserver

import (
	"image"
	"image/png"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // registers the BMP decoder with image.Decode
	_ "golang.org/x/image/webp" // registers the WEBP decoder with image.Decode
)

// Format is the closed set of image formats this server knows how to read.
// Anything else is FormatUnsupported.
type Format int

const (
	FormatUnsupported Format = iota
	FormatJPEG
	FormatPNG
	FormatGIF
	FormatWEBP
	FormatBMP
)

// SupportedFormats lists every readable format, in a stable order.
var SupportedFormats = []Format{FormatJPEG, FormatPNG, FormatGIF, FormatWEBP, FormatBMP}

// FormatFromExtension maps a filename (or a bare extension) to a Format.
func FormatFromExtension(filename string) Format {

	switch strings.ToLower(filepath.Ext(filename)) {

	case ".jpg", ".jpeg":
		return FormatJPEG

	case ".png":
		return FormatPNG

	case ".gif":
		return FormatGIF

	case ".webp":
		return FormatWEBP

	case ".bmp":
		return FormatBMP
	}

	return FormatUnsupported
}

// FormatFromMimeType maps a Content-Type header value to a Format.
// Parameters (e.g. "; charset=binary") are ignored.
func FormatFromMimeType(contentType string) Format {

	mediaType, _, err := mime.ParseMediaType(contentType)

	if err != nil {
		return FormatUnsupported
	}

	switch mediaType {

	case "image/jpeg", "image/jpg", "image/pjpeg":
		return FormatJPEG

	case "image/png":
		return FormatPNG

	case "image/gif":
		return FormatGIF

	case "image/webp":
		return FormatWEBP

	case "image/bmp", "image/x-bmp", "image/x-ms-bmp":
		return FormatBMP
	}

	return FormatUnsupported
}

// FormatFromDecoder maps the format name returned by image.Decode / image.DecodeConfig.
func FormatFromDecoder(name string) Format {

	switch name {

	case "jpeg":
		return FormatJPEG

	case "png":
		return FormatPNG

	case "gif":
		return FormatGIF

	case "webp":
		return FormatWEBP

	case "bmp":
		return FormatBMP
	}

	return FormatUnsupported
}

func (format Format) String() string {

	switch format {

	case FormatJPEG:
		return "JPEG"

	case FormatPNG:
		return "PNG"

	case FormatGIF:
		return "GIF"

	case FormatWEBP:
		return "WEBP"

	case FormatBMP:
		return "BMP"
	}

	return "unsupported"
}

// IsSupported returns TRUE for every Format except FormatUnsupported.
func (format Format) IsSupported() bool {
	return format != FormatUnsupported
}

// MimeType returns the Content-Type used when serving this Format.
func (format Format) MimeType() string {

	switch format {

	case FormatJPEG:
		return "image/jpeg"

	case FormatPNG:
		return "image/png"

	case FormatGIF:
		return "image/gif"

	case FormatWEBP:
		return "image/webp"

	case FormatBMP:
		return "image/bmp"
	}

	return "application/octet-stream"
}

// Extension returns the canonical file extension (with the leading dot).
func (format Format) Extension() string {

	switch format {

	case FormatJPEG:
		return ".jpg"

	case FormatPNG:
		return ".png"

	case FormatGIF:
		return ".gif"

	case FormatWEBP:
		return ".webp"

	case FormatBMP:
		return ".bmp"
	}

	return ""
}

// ResizedFormat is the Format written when an image of this Format is
// re-encoded.  There is no pure-Go WEBP encoder, so resized WEBP images are
// written as (lossless, alpha-preserving) PNG.  Everything else keeps its format.
func (format Format) ResizedFormat() Format {

	if format == FormatWEBP {
		return FormatPNG
	}

	return format
}

// UsesQuality returns TRUE if the encoder for this Format honors a quality setting.
func (format Format) UsesQuality() bool {
	return format == FormatJPEG
}

// Encode writes img to w in this Format.  Quality only applies to JPEG.
func (format Format) Encode(w io.Writer, img image.Image, quality int) error {

	switch format {

	case FormatJPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))

	case FormatPNG:
		return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression))

	case FormatGIF:
		return imaging.Encode(w, img, imaging.GIF)

	case FormatBMP:
		return imaging.Encode(w, img, imaging.BMP)
	}

	return newError(KindUnsupportedFormat, "imageserver.Format.Encode", "No encoder for format "+format.String(), nil)
}
