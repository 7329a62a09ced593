package imageserver

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

// solidImage returns a width x height image filled with one color.
func solidImage(width int, height int, fill color.Color) *image.NRGBA {

	img := image.NewNRGBA(image.Rect(0, 0, width, height))

	for y := range height {
		for x := range width {
			img.Set(x, y, fill)
		}
	}

	return img
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	var buffer bytes.Buffer
	require.Nil(t, jpeg.Encode(&buffer, img, &jpeg.Options{Quality: quality}))
	return buffer.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	var buffer bytes.Buffer
	require.Nil(t, png.Encode(&buffer, img))
	return buffer.Bytes()
}

func encodeGIF(t *testing.T, img image.Image) []byte {
	var buffer bytes.Buffer
	require.Nil(t, gif.Encode(&buffer, img, nil))
	return buffer.Bytes()
}

func encodeBMP(t *testing.T, img image.Image) []byte {
	var buffer bytes.Buffer
	require.Nil(t, bmp.Encode(&buffer, img))
	return buffer.Bytes()
}

// headerOnlyPNG returns a tiny PNG whose header claims width x height RGBA
// pixels.  It carries no pixel data, so decoding it in full would fail only
// after allocating the whole buffer.
func headerOnlyPNG(width uint32, height uint32) []byte {

	var buffer bytes.Buffer
	buffer.WriteString("\x89PNG\r\n\x1a\n")

	writeChunk := func(kind string, data []byte) {
		chunk := append([]byte(kind), data...)
		_ = binary.Write(&buffer, binary.BigEndian, uint32(len(data)))
		buffer.Write(chunk)
		_ = binary.Write(&buffer, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	}

	header := make([]byte, 13)
	binary.BigEndian.PutUint32(header[0:4], width)
	binary.BigEndian.PutUint32(header[4:8], height)
	header[8] = 8 // bit depth
	header[9] = 6 // RGBA

	writeChunk("IHDR", header)
	writeChunk("IDAT", nil)
	writeChunk("IEND", nil)

	return buffer.Bytes()
}

// decodeSize returns the dimensions and format name of an encoded image.
func decodeSize(t *testing.T, data []byte) (int, int, string) {
	config, name, err := image.DecodeConfig(bytes.NewReader(data))
	require.Nil(t, err)
	return config.Width, config.Height, name
}

// writeFile creates a file (and its parent directories) beneath root.
func writeFile(t *testing.T, root string, relative string, data []byte) string {

	filename := filepath.Join(root, filepath.FromSlash(relative))

	require.Nil(t, os.MkdirAll(filepath.Dir(filename), 0o755))
	require.Nil(t, os.WriteFile(filename, data, 0o644))

	return filename
}

// testConfig returns a valid Config rooted in fresh temp directories.
func testConfig(t *testing.T) Config {

	config := DefaultConfig()
	config.ImageRoot = t.TempDir()
	config.CacheRoot = t.TempDir()
	config.JanitorInterval = 0

	return config
}

// newTestServer returns an ImageServer for config, closed automatically at the end of the test.
func newTestServer(t *testing.T, config Config, options ...Option) ImageServer {

	server, err := New(config, options...)
	require.Nil(t, err)

	t.Cleanup(server.Close)
	return server
}
