package imageserver

import "errors"

// Kind names a category of failure.  Components report failures by Kind, and
// only the router decides which HTTP status a Kind becomes.
type Kind int

const (
	KindUnknown Kind = iota
	KindPathTraversal
	KindUnsupportedFormat
	KindDimensionExceeded
	KindQualityOutOfRange
	KindInvalidParameter
	KindNotFound
	KindAuthentication
	KindUploadDisabled
	KindTooManyAttempts
	KindPayloadTooLarge
	KindInvalidImage
	KindCacheWrite
	KindUpstreamIO
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown error",
	KindPathTraversal:     "path traversal",
	KindUnsupportedFormat: "unsupported format",
	KindDimensionExceeded: "dimension exceeded",
	KindQualityOutOfRange: "quality out of range",
	KindInvalidParameter:  "invalid parameter",
	KindNotFound:          "not found",
	KindAuthentication:    "authentication failed",
	KindUploadDisabled:    "uploads disabled",
	KindTooManyAttempts:   "too many attempts",
	KindPayloadTooLarge:   "payload too large",
	KindInvalidImage:      "invalid image",
	KindCacheWrite:        "cache write failed",
	KindUpstreamIO:        "upstream i/o failed",
}

func (kind Kind) String() string {
	if name, ok := kindNames[kind]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Sentinels for use with errors.Is
var (
	ErrPathTraversal     = &Error{Kind: KindPathTraversal}
	ErrUnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
	ErrDimensionExceeded = &Error{Kind: KindDimensionExceeded}
	ErrQualityOutOfRange = &Error{Kind: KindQualityOutOfRange}
	ErrInvalidParameter  = &Error{Kind: KindInvalidParameter}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrAuthentication    = &Error{Kind: KindAuthentication}
	ErrUploadDisabled    = &Error{Kind: KindUploadDisabled}
	ErrTooManyAttempts   = &Error{Kind: KindTooManyAttempts}
	ErrPayloadTooLarge   = &Error{Kind: KindPayloadTooLarge}
	ErrInvalidImage      = &Error{Kind: KindInvalidImage}
	ErrCacheWrite        = &Error{Kind: KindCacheWrite}
	ErrUpstreamIO        = &Error{Kind: KindUpstreamIO}
)

// Error is a classified failure.  Message is safe to show to a client;
// Cause holds the full diagnostic chain (usually a derp.Error) and is only
// ever written to the server log.
type Error struct {
	Kind     Kind
	Location string
	Message  string
	Cause    error
}

func newError(kind Kind, location string, message string, cause error) *Error {
	return &Error{
		Kind:     kind,
		Location: location,
		Message:  message,
		Cause:    cause,
	}
}

func (err *Error) Error() string {

	result := err.Kind.String()

	if err.Location != "" {
		result = err.Location + ": " + result
	}

	if err.Message != "" {
		result = result + ": " + err.Message
	}

	if err.Cause != nil {
		result = result + ": " + err.Cause.Error()
	}

	return result
}

func (err *Error) Unwrap() error {
	return err.Cause
}

// Is matches any *Error of the same Kind, so that the package sentinels work
// with errors.Is regardless of message or cause.
func (err *Error) Is(target error) bool {
	if other, ok := target.(*Error); ok {
		return other.Kind == err.Kind
	}
	return false
}

// KindOf returns the Kind of the first *Error in the chain, or KindUnknown.
func KindOf(err error) Kind {

	var classified *Error

	if errors.As(err, &classified) {
		return classified.Kind
	}

	return KindUnknown
}
