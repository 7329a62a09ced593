package imageserver

import (
	"net/url"
	"strconv"
	"strings"
)

// ImageRequest represents all the parameters available for requesting an image.
// This is generated directly from a URL.
type ImageRequest struct {
	Path            string // Requested path, relative to the image root (still URL-escaped)
	Width           int    // Set via ?w=800 querystring.  Zero means "not requested"
	Height          int    // Set via ?h=600 querystring.  Zero means "not requested"
	Quality         int    // Set via ?q=85 querystring.  Defaults to Config.DefaultQuality
	ExplicitQuality bool   // TRUE if the caller provided a quality
}

// ParseImageRequest reads the path and querystring of a request into an ImageRequest.
// Malformed values are rejected here so that nothing touches the filesystem
// for a request that can never succeed.
func ParseImageRequest(path string, query url.Values, config Config) (ImageRequest, error) {

	const location = "imageserver.ParseImageRequest"

	result := ImageRequest{
		Path:    path,
		Quality: config.DefaultQuality,
	}

	width, ok, err := positiveParam(query, "w")

	if err != nil {
		return ImageRequest{}, err
	}

	if ok {
		if width > config.MaxWidth {
			return ImageRequest{}, newError(KindDimensionExceeded, location, "Width exceeds "+strconv.Itoa(config.MaxWidth), nil)
		}
		result.Width = width
	}

	height, ok, err := positiveParam(query, "h")

	if err != nil {
		return ImageRequest{}, err
	}

	if ok {
		if height > config.MaxHeight {
			return ImageRequest{}, newError(KindDimensionExceeded, location, "Height exceeds "+strconv.Itoa(config.MaxHeight), nil)
		}
		result.Height = height
	}

	if value := strings.TrimSpace(query.Get("q")); value != "" {

		quality, err := strconv.Atoi(value)

		if err != nil {
			return ImageRequest{}, newError(KindInvalidParameter, location, "Quality must be an integer", nil)
		}

		if err := ValidateQuality(quality); err != nil {
			return ImageRequest{}, err
		}

		result.Quality = quality
		result.ExplicitQuality = true
	}

	return result, nil
}

// ValidateQuality returns ErrQualityOutOfRange unless 1 <= quality <= 100.
func ValidateQuality(quality int) error {

	if quality < 1 || quality > 100 {
		return newError(KindQualityOutOfRange, "imageserver.ValidateQuality", "Quality must be between 1 and 100", nil)
	}

	return nil
}

// positiveParam reads an optional, positive integer from the querystring.
func positiveParam(query url.Values, name string) (int, bool, error) {

	const location = "imageserver.positiveParam"

	value := strings.TrimSpace(query.Get(name))

	if value == "" {
		return 0, false, nil
	}

	result, err := strconv.Atoi(value)

	if err != nil {
		return 0, false, newError(KindInvalidParameter, location, "Parameter '"+name+"' must be an integer", nil)
	}

	if result < 1 {
		return 0, false, newError(KindInvalidParameter, location, "Parameter '"+name+"' must be positive", nil)
	}

	return result, true, nil
}

// Resize returns TRUE if the request asks for different dimensions.
func (request ImageRequest) Resize() bool {
	return (request.Width > 0) || (request.Height > 0)
}

// CacheKey returns the key of the cached rendition for this request.
// relative is the canonical path of the original, relative to the image root.
func (request ImageRequest) CacheKey(relative string, format Format) CacheKey {
	return CacheKey{
		Path:    relative,
		Width:   request.Width,
		Height:  request.Height,
		Quality: request.Quality,
		Format:  format,
	}
}
