package imageserver

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTargetDimensions(t *testing.T) {

	test := func(originalWidth, originalHeight, width, height, expectedWidth, expectedHeight int) {
		w, h := TargetDimensions(originalWidth, originalHeight, width, height, 4000, 4000)
		require.Equal(t, expectedWidth, w, "width")
		require.Equal(t, expectedHeight, h, "height")
	}

	// Width only
	test(1600, 1200, 800, 0, 800, 600)

	// Both dimensions fit inside the box
	test(1600, 1200, 800, 800, 800, 600)
	test(1200, 1600, 800, 800, 600, 800)

	// Height only
	test(1600, 1200, 0, 300, 400, 300)

	// Nothing requested
	test(1600, 1200, 0, 0, 1600, 1200)

	// Upscaling is allowed
	test(100, 50, 400, 0, 400, 200)

	// Rounding
	test(1000, 333, 100, 0, 100, 33)
	test(3, 2, 1, 0, 1, 1)

	// Extreme ratios never produce an empty image
	test(10000, 1, 100, 0, 100, 1)
}

func TestTargetDimensions_Clamp(t *testing.T) {

	w, h := TargetDimensions(100, 1000, 400, 0, 4000, 2000)
	require.Equal(t, 400, w)
	require.Equal(t, 2000, h)
}

func TestResize_JPEG(t *testing.T) {

	engine := NewResizeEngine(DefaultConfig())
	original := encodeJPEG(t, solidImage(1600, 1200, color.RGBA{200, 100, 50, 255}), 95)

	rendition, err := engine.Resize(original, FormatJPEG, ImageRequest{Width: 800, Quality: 85})
	require.Nil(t, err)
	require.Equal(t, FormatJPEG, rendition.Format)
	require.Equal(t, 800, rendition.Width)
	require.Equal(t, 600, rendition.Height)

	width, height, name := decodeSize(t, rendition.Data)
	require.Equal(t, 800, width)
	require.Equal(t, 600, height)
	require.Equal(t, "jpeg", name)
}

func TestResize_JPEGQuality(t *testing.T) {

	engine := NewResizeEngine(DefaultConfig())
	original := encodeJPEG(t, noisyImage(200, 200), 100)

	low, err := engine.Resize(original, FormatJPEG, ImageRequest{Quality: 10, ExplicitQuality: true})
	require.Nil(t, err)

	high, err := engine.Resize(original, FormatJPEG, ImageRequest{Quality: 95, ExplicitQuality: true})
	require.Nil(t, err)

	require.Less(t, len(low.Data), len(high.Data))

	width, height, _ := decodeSize(t, low.Data)
	require.Equal(t, 200, width)
	require.Equal(t, 200, height)
}

func TestResize_PNG(t *testing.T) {

	engine := NewResizeEngine(DefaultConfig())
	original := encodePNG(t, solidImage(400, 200, color.NRGBA{0, 0, 255, 128}))

	rendition, err := engine.Resize(original, FormatPNG, ImageRequest{Height: 50, Quality: 85})
	require.Nil(t, err)
	require.Equal(t, FormatPNG, rendition.Format)

	width, height, name := decodeSize(t, rendition.Data)
	require.Equal(t, 100, width)
	require.Equal(t, 50, height)
	require.Equal(t, "png", name)

	// Alpha survives
	img, _, err := image.Decode(bytes.NewReader(rendition.Data))
	require.Nil(t, err)
	_, _, _, alpha := img.At(50, 25).RGBA()
	require.Less(t, alpha, uint32(0xffff))
}

func TestResize_GIFAndBMP(t *testing.T) {

	engine := NewResizeEngine(DefaultConfig())
	img := solidImage(64, 32, color.RGBA{255, 0, 0, 255})

	rendition, err := engine.Resize(encodeGIF(t, img), FormatGIF, ImageRequest{Width: 32, Quality: 85})
	require.Nil(t, err)
	require.Equal(t, FormatGIF, rendition.Format)
	width, height, name := decodeSize(t, rendition.Data)
	require.Equal(t, 32, width)
	require.Equal(t, 16, height)
	require.Equal(t, "gif", name)

	rendition, err = engine.Resize(encodeBMP(t, img), FormatBMP, ImageRequest{Width: 16, Quality: 85})
	require.Nil(t, err)
	require.Equal(t, FormatBMP, rendition.Format)
	width, height, name = decodeSize(t, rendition.Data)
	require.Equal(t, 16, width)
	require.Equal(t, 8, height)
	require.Equal(t, "bmp", name)
}

func TestResize_PassThrough(t *testing.T) {

	engine := NewResizeEngine(DefaultConfig())
	original := encodePNG(t, solidImage(10, 10, color.White))

	// PNG ignores quality, so there is nothing to do
	rendition, err := engine.Resize(original, FormatPNG, ImageRequest{Quality: 50, ExplicitQuality: true})
	require.Nil(t, err)
	require.Equal(t, original, rendition.Data)
	require.Equal(t, FormatPNG, rendition.Format)
}

func TestResize_Errors(t *testing.T) {

	engine := NewResizeEngine(DefaultConfig())
	original := encodeJPEG(t, solidImage(10, 10, color.White), 90)

	_, err := engine.Resize(original, FormatJPEG, ImageRequest{Width: 10, Quality: 0})
	require.ErrorIs(t, err, ErrQualityOutOfRange)

	_, err = engine.Resize(original, FormatJPEG, ImageRequest{Width: 10, Quality: 101})
	require.ErrorIs(t, err, ErrQualityOutOfRange)

	_, err = engine.Resize(original, FormatJPEG, ImageRequest{Width: 4001, Quality: 85})
	require.ErrorIs(t, err, ErrDimensionExceeded)

	_, err = engine.Resize(original, FormatJPEG, ImageRequest{Height: 4001, Quality: 85})
	require.ErrorIs(t, err, ErrDimensionExceeded)

	_, err = engine.Resize(original, FormatJPEG, ImageRequest{Width: -1, Quality: 85})
	require.ErrorIs(t, err, ErrInvalidParameter)

	_, err = engine.Resize(original, FormatUnsupported, ImageRequest{Width: 10, Quality: 85})
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = engine.Resize([]byte("not an image"), FormatJPEG, ImageRequest{Width: 10, Quality: 85})
	require.ErrorIs(t, err, ErrUpstreamIO)
}

func TestResize_TooManyPixels(t *testing.T) {

	engine := NewResizeEngine(DefaultConfig())

	_, err := engine.Resize(headerOnlyPNG(60000, 60000), FormatPNG, ImageRequest{Width: 10, Quality: 85})
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	// The bound is inclusive
	config := DefaultConfig()
	config.MaxPixels = 100
	engine = NewResizeEngine(config)

	_, err = engine.Resize(encodePNG(t, solidImage(10, 10, color.White)), FormatPNG, ImageRequest{Width: 5, Quality: 85})
	require.Nil(t, err)

	_, err = engine.Resize(encodePNG(t, solidImage(10, 11, color.White)), FormatPNG, ImageRequest{Width: 5, Quality: 85})
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestOutputFormat(t *testing.T) {

	resize := ImageRequest{Width: 100, Quality: 85}
	none := ImageRequest{Quality: 85}

	require.Equal(t, FormatPNG, OutputFormat(FormatWEBP, resize))
	require.Equal(t, FormatWEBP, OutputFormat(FormatWEBP, none))
	require.Equal(t, FormatJPEG, OutputFormat(FormatJPEG, resize))
	require.Equal(t, FormatGIF, OutputFormat(FormatGIF, resize))
}

// noisyImage returns an image that compresses poorly, so that JPEG quality makes a visible difference.
func noisyImage(width int, height int) *image.NRGBA {

	img := image.NewNRGBA(image.Rect(0, 0, width, height))

	for y := range height {
		for x := range width {
			img.Set(x, y, color.NRGBA{uint8(x * 37 % 256), uint8(y * 91 % 256), uint8((x ^ y) * 13 % 256), 255})
		}
	}

	return img
}
