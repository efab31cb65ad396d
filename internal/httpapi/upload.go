package httpapi

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/barlink/internal/chat"
	"github.com/cory-johannsen/barlink/internal/chat/upload"
	"github.com/cory-johannsen/barlink/internal/observability"
)

// uploadFields are the multipart field names accepted for the image, in order.
var uploadFields = []string{"image", "file"}

// UploadResponse is the body of a successful upload.
type UploadResponse struct {
	URL string `json:"url"`
}

// UploadHandler accepts multipart image uploads.
type UploadHandler struct {
	relay    *upload.Relay
	limiter  *RateLimiter
	metrics  *observability.Metrics
	logger   *zap.Logger
	maxBytes int64
}

// NewUploadHandler creates an UploadHandler.
//
// Precondition: relay, limiter, metrics and logger must be non-nil; maxBytes > 0.
func NewUploadHandler(relay *upload.Relay, limiter *RateLimiter, metrics *observability.Metrics, logger *zap.Logger, maxBytes int64) *UploadHandler {
	return &UploadHandler{
		relay:    relay,
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger,
		maxBytes: maxBytes,
	}
}

// ServeHTTP stores the uploaded image and, when a session is named, relays it
// into that session's room.
func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow(ClientIP(r)) {
		h.reject(w, http.StatusTooManyRequests, "too many uploads, slow down")
		return
	}

	if r.ContentLength > h.maxBytes {
		h.reject(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		h.reject(w, http.StatusBadRequest, "expected a multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := formFile(r)
	if err != nil {
		h.reject(w, http.StatusBadRequest, "no image provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.reject(w, http.StatusBadRequest, "reading image")
		return
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		h.reject(w, http.StatusUnsupportedMediaType, "file is not an image")
		return
	}

	blob := upload.Blob{
		Name:        filepath.Base(header.Filename),
		ContentType: contentType,
		Data:        data,
	}

	var url string
	if sid := r.FormValue("session"); sid != "" {
		var msg chat.Message
		msg, err = h.relay.RelayImage(r.Context(), chat.SessionID(sid), blob)
		url = msg.ImageURL
		if err == nil {
			h.metrics.IncImage()
		}
	} else {
		url, err = h.relay.Store(r.Context(), blob)
	}
	if err != nil {
		h.logger.Warn("upload failed", zap.String("name", blob.Name), zap.Error(err))
		if errors.Is(err, chat.ErrSessionNotFound) {
			h.reject(w, http.StatusBadRequest, "unknown session")
			return
		}
		if errors.Is(err, chat.ErrNotInRoom) {
			h.reject(w, http.StatusConflict, "session has not joined a bar")
			return
		}
		h.reject(w, http.StatusBadGateway, err.Error())
		return
	}

	h.metrics.IncUpload()
	writeJSON(w, http.StatusOK, UploadResponse{URL: url})
}

func (h *UploadHandler) reject(w http.ResponseWriter, status int, message string) {
	h.metrics.IncUploadFailure()
	writeError(w, status, message)
}

func formFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	var lastErr error
	for _, field := range uploadFields {
		file, header, err := r.FormFile(field)
		if err == nil {
			return file, header, nil
		}
		lastErr = err
	}
	return nil, nil, lastErr
}
