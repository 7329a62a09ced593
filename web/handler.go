// Package web adapts an imageserver.ImageServer to net/http.
package web

import (
	"net"
	"net/http"
	"time"

	"github.com/benpate/imageserver"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// NewHandler returns an http.Handler that sends every request to server.
func NewHandler(server imageserver.ImageServer, logger zerolog.Logger) http.Handler {

	config := server.Config()
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(hlog.NewHandler(logger))
	router.Use(hlog.RemoteAddrHandler("remote"))
	router.Use(hlog.AccessHandler(accessLog))
	router.Use(middleware.Recoverer)

	if len(config.CORSAllowedOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: config.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"X-Cache", "Content-Length", "Last-Modified"},
			MaxAge:         300,
		}))
	}

	router.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {

		response := server.Handle(r.Context(), imageserver.Request{
			Method:     r.Method,
			Path:       r.URL.EscapedPath(),
			Query:      r.URL.Query(),
			Header:     r.Header,
			Body:       r.Body,
			RemoteAddr: clientAddress(r),
		})

		writeResponse(w, response)
	})

	return router
}

// NewMetricsHandler exposes the collectors in gatherer in the Prometheus text format.
func NewMetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func writeResponse(w http.ResponseWriter, response imageserver.Response) {

	header := w.Header()

	for name, values := range response.Header {
		header[name] = values
	}

	w.WriteHeader(response.StatusCode)

	if len(response.Body) > 0 {
		_, _ = w.Write(response.Body)
	}
}

func accessLog(r *http.Request, status int, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("request_id", middleware.GetReqID(r.Context())).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("")
}

// clientAddress identifies the client by the IP address of the TCP peer.
// Forwarding headers are ignored.
func clientAddress(r *http.Request) string {

	host, _, err := net.SplitHostPort(r.RemoteAddr)

	if err != nil {
		return r.RemoteAddr
	}

	return host
}
