// Package httpapi exposes the relay over HTTP: the WebSocket endpoint, image
// uploads, blob downloads, room inspection, health and metrics.
package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/barlink/internal/chat/hub"
	"github.com/cory-johannsen/barlink/internal/chat/upload"
	"github.com/cory-johannsen/barlink/internal/observability"
)

// Deps are the collaborators the router serves.
type Deps struct {
	Hub     *hub.Hub
	Metrics *observability.Metrics
	Logger  *zap.Logger
	// WS handles WebSocket upgrades at WSPath.
	WS     http.Handler
	WSPath string
	// Blobs serves stored uploads under PublicPath.
	Blobs      http.Handler
	PublicPath string
	Limiter    *RateLimiter
	MaxBytes   int64
}

// NewRouter builds the relay's HTTP handler.
//
// Precondition: every field of d must be set.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", d.Metrics)

	mux.Handle("GET "+d.WSPath, d.WS)
	mux.Handle("POST /upload", NewUploadHandler(d.Hub.Relay(), d.Limiter, d.Metrics, d.Logger, d.MaxBytes))

	public := strings.TrimRight(d.PublicPath, "/")
	mux.Handle("GET "+public+"/", http.StripPrefix(public+"/", d.Blobs))

	mux.HandleFunc("GET /bars", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string][]string{"bars": d.Hub.Rooms()})
	})
	mux.HandleFunc("GET /bars/{bar}", func(w http.ResponseWriter, r *http.Request) {
		info, ok := d.Hub.Room(r.PathValue("bar"))
		if !ok {
			writeError(w, http.StatusNotFound, "no live bar with that name")
			return
		}
		writeJSON(w, http.StatusOK, info)
	})

	return CORS(WithLogging(d.Logger, mux))
}

// FileBlobs serves blobs from a directory.
func FileBlobs(dir string) http.Handler {
	return http.FileServer(http.Dir(dir))
}

// OpenerBlobs serves blobs from a store that holds them itself. The request
// path, with the public prefix stripped, is the blob name.
func OpenerBlobs(opener upload.BlobOpener, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path
		if name == "" || strings.Contains(name, "/") {
			writeError(w, http.StatusNotFound, "no such upload")
			return
		}
		blob, err := opener.Open(r.Context(), name)
		if errors.Is(err, upload.ErrBlobNotFound) {
			writeError(w, http.StatusNotFound, "no such upload")
			return
		}
		if err != nil {
			logger.Warn("opening blob", zap.String("name", name), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "reading upload")
			return
		}
		w.Header().Set("Content-Type", blob.ContentType)
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(blob.Data)
	})
}
