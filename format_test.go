package imageserver

import (
	"bytes"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatFromExtension(t *testing.T) {

	require.Equal(t, FormatJPEG, FormatFromExtension("a.jpg"))
	require.Equal(t, FormatJPEG, FormatFromExtension("photos/a.JPEG"))
	require.Equal(t, FormatPNG, FormatFromExtension("a.Png"))
	require.Equal(t, FormatGIF, FormatFromExtension("a.gif"))
	require.Equal(t, FormatWEBP, FormatFromExtension("a.webp"))
	require.Equal(t, FormatBMP, FormatFromExtension("a.bmp"))
	require.Equal(t, FormatUnsupported, FormatFromExtension("a.svg"))
	require.Equal(t, FormatUnsupported, FormatFromExtension("a.jpg.php"))
	require.Equal(t, FormatUnsupported, FormatFromExtension("jpg"))
}

func TestFormatFromMimeType(t *testing.T) {

	require.Equal(t, FormatJPEG, FormatFromMimeType("image/jpeg"))
	require.Equal(t, FormatPNG, FormatFromMimeType("image/png; charset=binary"))
	require.Equal(t, FormatWEBP, FormatFromMimeType("IMAGE/WEBP"))
	require.Equal(t, FormatUnsupported, FormatFromMimeType("image/svg+xml"))
	require.Equal(t, FormatUnsupported, FormatFromMimeType(""))
}

func TestFormat_Properties(t *testing.T) {

	for _, format := range SupportedFormats {
		require.True(t, format.IsSupported())
		require.NotEqual(t, "application/octet-stream", format.MimeType())
		require.Equal(t, format, FormatFromExtension("x"+format.Extension()))
		require.Equal(t, format, FormatFromMimeType(format.MimeType()))
	}

	require.False(t, FormatUnsupported.IsSupported())
	require.Equal(t, FormatPNG, FormatWEBP.ResizedFormat())
	require.Equal(t, FormatJPEG, FormatJPEG.ResizedFormat())
	require.True(t, FormatJPEG.UsesQuality())
	require.False(t, FormatPNG.UsesQuality())
}

func TestFormat_Encode(t *testing.T) {

	img := solidImage(8, 8, color.White)

	var buffer bytes.Buffer
	require.Nil(t, FormatPNG.Encode(&buffer, img, 85))

	_, _, name := decodeSize(t, buffer.Bytes())
	require.Equal(t, "png", name)

	require.ErrorIs(t, FormatWEBP.Encode(&buffer, img, 85), ErrUnsupportedFormat)
}

func TestKindOf(t *testing.T) {

	err := newError(KindNotFound, "test", "Missing", nil)

	require.Equal(t, KindNotFound, KindOf(err))
	require.ErrorIs(t, err, ErrNotFound)
	require.NotErrorIs(t, err, ErrPathTraversal)
	require.Equal(t, KindUnknown, KindOf(nil))
	require.Contains(t, err.Error(), "Missing")
}
