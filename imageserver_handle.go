package imageserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Request is an inbound request, as delivered by a transport adapter.
type Request struct {
	Method     string
	Path       string // URL-escaped path, e.g. "/photos/vacation.jpg"
	Query      url.Values
	Header     http.Header
	Body       io.Reader
	RemoteAddr string // Identifies the client for authentication throttling
}

// Response is everything a transport adapter needs to write a reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// uploadResult is the body of a successful upload
type uploadResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

// uploadError is the body of a failed upload
type uploadError struct {
	Error string `json:"error"`
}

// Handle dispatches a request to the read or write flow and translates the
// outcome into a Response.  This is the only place that knows about HTTP status codes.
func (server ImageServer) Handle(ctx context.Context, request Request) Response {

	var response Response

	switch request.Method {

	case http.MethodGet:
		response = server.handleRead(ctx, request)

	case http.MethodHead:
		response = server.handleRead(ctx, request)
		response.Body = nil

	case http.MethodPost:
		response = server.handleWrite(ctx, request)

	default:
		response = textResponse(http.StatusMethodNotAllowed, "Method Not Allowed")
		response.Header.Set("Allow", "GET, HEAD, POST")
	}

	server.metrics.observeResponse(request.Method, response.StatusCode)
	return response
}

// handleRead serves (possibly resized) images.
func (server ImageServer) handleRead(ctx context.Context, request Request) Response {

	const location = "imageserver.handleRead"

	imageRequest, err := ParseImageRequest(request.Path, request.Query, server.config)

	if err != nil {
		return server.readError(location, request, err)
	}

	rendition, err := server.Get(ctx, imageRequest)

	if err != nil {
		return server.readError(location, request, err)
	}

	response := Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       rendition.Data,
	}

	response.Header.Set("Content-Type", rendition.Format.MimeType())
	response.Header.Set("Content-Length", strconv.Itoa(len(rendition.Data)))
	response.Header.Set("Cache-Control", "public, max-age="+strconv.Itoa(server.config.CacheMaxAge))
	response.Header.Set("X-Cache", string(rendition.CacheStatus))

	if !rendition.ModTime.IsZero() {
		response.Header.Set("Last-Modified", rendition.ModTime.UTC().Format(http.TimeFormat))
	}

	return response
}

// handleWrite accepts uploads of new originals.
func (server ImageServer) handleWrite(ctx context.Context, request Request) Response {

	const location = "imageserver.handleWrite"

	upload := UploadRequest{
		Path:        request.Path,
		Body:        request.Body,
		ContentType: request.Header.Get("Content-Type"),
		Credential:  CredentialFromRequest(request.Header, request.Query),
	}

	if upload.Body == nil {
		upload.Body = http.NoBody
	}

	relative, err := server.Post(ctx, request.RemoteAddr, upload)

	if err != nil {
		return server.writeError(location, request, err)
	}

	return jsonResponse(http.StatusCreated, uploadResult{
		Success: true,
		Message: "Image uploaded successfully",
		Path:    relative,
	})
}

// readError translates a read-flow failure into a plain-text response.
func (server ImageServer) readError(location string, request Request, err error) Response {

	switch KindOf(err) {

	case KindPathTraversal:
		logClientError(location, request, err)
		return textResponse(http.StatusForbidden, "Forbidden: Invalid path")

	case KindUnsupportedFormat:
		logClientError(location, request, err)
		return textResponse(http.StatusForbidden, "Forbidden: Unsupported file type")

	case KindNotFound:
		logClientError(location, request, err)
		return textResponse(http.StatusNotFound, "Not Found: Image does not exist")

	case KindInvalidParameter, KindDimensionExceeded, KindQualityOutOfRange:
		logClientError(location, request, err)
		return textResponse(http.StatusBadRequest, "Bad Request: "+clientMessage(err))

	case KindPayloadTooLarge:
		logClientError(location, request, err)
		return textResponse(http.StatusRequestEntityTooLarge, "Payload Too Large: Image exceeds the maximum file size")
	}

	logServerError(location, request, err)
	return textResponse(http.StatusInternalServerError, "Internal Server Error")
}

// writeError translates a write-flow failure into a JSON response.
func (server ImageServer) writeError(location string, request Request, err error) Response {

	switch KindOf(err) {

	case KindUploadDisabled:
		logClientError(location, request, err)
		return jsonResponse(http.StatusUnauthorized, uploadError{Error: "Uploads are disabled"})

	case KindAuthentication:
		logClientError(location, request, err)
		return jsonResponse(http.StatusUnauthorized, uploadError{Error: "Invalid or missing API key"})

	case KindTooManyAttempts:
		logClientError(location, request, err)
		response := jsonResponse(http.StatusTooManyRequests, uploadError{Error: "Too many failed attempts"})
		response.Header.Set("Retry-After", strconv.Itoa(server.config.AuthLockout))
		return response

	case KindPathTraversal:
		logClientError(location, request, err)
		return jsonResponse(http.StatusForbidden, uploadError{Error: "Invalid path"})

	case KindUnsupportedFormat, KindInvalidImage, KindInvalidParameter:
		logClientError(location, request, err)
		return jsonResponse(http.StatusBadRequest, uploadError{Error: clientMessage(err)})

	case KindPayloadTooLarge:
		logClientError(location, request, err)
		return jsonResponse(http.StatusRequestEntityTooLarge, uploadError{Error: "Image exceeds the maximum upload size"})
	}

	logServerError(location, request, err)
	return jsonResponse(http.StatusInternalServerError, uploadError{Error: "Failed to store image"})
}

func textResponse(statusCode int, message string) Response {

	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Content-Length", strconv.Itoa(len(message)))

	return Response{
		StatusCode: statusCode,
		Header:     header,
		Body:       []byte(message),
	}
}

func jsonResponse(statusCode int, value any) Response {

	body, err := json.Marshal(value)

	if err != nil {
		log.Error().Err(err).Str("location", "imageserver.jsonResponse").Msg("Unable to encode JSON response")
		return textResponse(http.StatusInternalServerError, "Internal Server Error")
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", strconv.Itoa(len(body)))

	return Response{
		StatusCode: statusCode,
		Header:     header,
		Body:       body,
	}
}

// clientMessage returns the safe, client-facing part of an error.
func clientMessage(err error) string {

	if classified, ok := err.(*Error); ok && classified.Message != "" {
		return classified.Message
	}

	return KindOf(err).String()
}

func logClientError(location string, request Request, err error) {
	log.Debug().
		Str("location", location).
		Str("method", request.Method).
		Str("path", request.Path).
		Str("kind", KindOf(err).String()).
		Msg(clientMessage(err))
}

// logServerError writes the complete error chain, which is never sent to the client.
func logServerError(location string, request Request, err error) {
	log.Error().
		Err(err).
		Str("location", location).
		Str("method", request.Method).
		Str("path", request.Path).
		Str("kind", KindOf(err).String()).
		Msg("Request failed")
}
