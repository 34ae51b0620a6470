package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/Brownie44l1/sign-api/internal/history"
	"github.com/Brownie44l1/sign-api/internal/model"
)

// Options tunes request handling. Zero values fall back to defaults.
type Options struct {
	MaxUploadBytes  int64
	ProcessingDelay time.Duration
	AudioURL        string
	TFJSDir         string
	HistoryLimit    int
}

type Handler struct {
	loader  *model.Loader
	history *history.Store
	opts    Options
}

func NewHandler(loader *model.Loader, store *history.Store, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.AudioURL == "" {
		opts.AudioURL = "/audio/sample_audio.mp3"
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	if store == nil {
		store = &history.Store{}
	}
	return &Handler{
		loader:  loader,
		history: store,
		opts:    opts,
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, errText, message string) {
	writeJSON(w, status, errorResponse{Success: false, Error: errText, Message: message})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.loader.Snapshot())
}

func (h *Handler) Classes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"classes": h.loader.Snapshot().Classes})
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "Use POST")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err.Error())
		return
	}

	var req model.PredictionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	h.loader.Load(r.Context())
	expectedSize := model.DefaultImageSize * model.DefaultImageSize * 3
	if md, ok := h.loader.Metadata(); ok {
		expectedSize = md.InputSize()
	}
	if len(req.Image) != expectedSize {
		writeError(w, http.StatusBadRequest, "Invalid input size",
			fmt.Sprintf("Expected %d values, got %d", expectedSize, len(req.Image)))
		return
	}

	h.predict(w, r, model.Input{Tensor: req.Image})
}

// PredictFromImage runs the model on an uploaded photo (form field "image").
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "Use POST")
		return
	}
	in, ok := h.readImage(w, r)
	if !ok {
		return
	}
	h.predict(w, r, in)
}

// Capture is the camera path. The client reports whether the user granted
// camera access; a denied capture never carries an image.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "Use POST")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.formError(w, err)
		return
	}
	if strings.EqualFold(r.FormValue("permission"), "denied") {
		writeError(w, http.StatusForbidden, "Camera permission denied",
			"Please allow camera access in your browser and try again")
		return
	}
	in, ok := h.readImage(w, r)
	if !ok {
		return
	}
	if in.FileName == "" || in.FileName == "blob" {
		in.FileName = fmt.Sprintf("capture-%d.jpg", time.Now().Unix())
	}
	h.predict(w, r, in)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := h.opts.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = min(n, 500)
		}
	}
	entries, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		log.Printf("History query error: %v", err)
		writeError(w, http.StatusInternalServerError, "History unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": h.history.Enabled(), "predictions": entries})
}

// ModelJSON serves the browser model description at /tfjs_model/model.json.
func (h *Handler) ModelJSON(w http.ResponseWriter, r *http.Request) {
	if h.opts.TFJSDir == "" {
		writeError(w, http.StatusNotFound, "Model not found", "No model directory configured")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/tfjs_model/")
	if name == "" || name != filepath.Base(name) {
		writeError(w, http.StatusNotFound, "Model not found", "Unknown model file")
		return
	}
	http.ServeFile(w, r, filepath.Join(h.opts.TFJSDir, name))
}

func (h *Handler) readImage(w http.ResponseWriter, r *http.Request) (model.Input, bool) {
	if r.MultipartForm == nil {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
		if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
			h.formError(w, err)
			return model.Input{}, false
		}
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image file provided",
			"Use 'image' as the form field name")
		return model.Input{}, false
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read file", err.Error())
		return model.Input{}, false
	}

	mimeType := contentType(header, raw)
	if !strings.HasPrefix(mimeType, "image/") {
		writeError(w, http.StatusUnsupportedMediaType, "Unsupported file type",
			fmt.Sprintf("Please upload an image file, got %s", mimeType))
		return model.Input{}, false
	}

	log.Printf("Received file: %s, size: %d bytes", header.Filename, header.Size)

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid image format", "Supported: JPEG, PNG, GIF")
		return model.Input{}, false
	}
	log.Printf("Image format: %s, dimensions: %dx%d", format, img.Bounds().Dx(), img.Bounds().Dy())

	return model.Input{Image: img, FileName: header.Filename, Raw: raw}, true
}

func (h *Handler) predict(w http.ResponseWriter, r *http.Request, in model.Input) {
	result, err := h.loader.Predict(r.Context(), in)
	if errors.Is(err, model.ErrModelNotLoaded) {
		writeError(w, http.StatusServiceUnavailable, "Model not loaded", "The model is still loading, please try again")
		return
	}
	if err != nil {
		log.Printf("Prediction error: %v", err)
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "Prediction failed",
			"Failed to process image. Please try again.")
		return
	}

	if _, err := h.history.Record(r.Context(), history.Entry{
		RequestID:  RequestIDFromContext(r.Context()),
		FileName:   in.FileName,
		Class:      result.Class,
		Confidence: result.Confidence,
		Mode:       result.Mode,
	}); err != nil {
		log.Printf("History record error: %v", err)
	}

	writeJSON(w, http.StatusOK, result)
}

// formError maps a failed multipart parse to 413 when the body hit the
// upload limit and to 400 otherwise.
func (h *Handler) formError(w http.ResponseWriter, err error) {
	if isTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large",
			fmt.Sprintf("Uploads are limited to %d MB", h.opts.MaxUploadBytes>>20))
		return
	}
	writeError(w, http.StatusBadRequest, "Failed to parse form", err.Error())
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

// contentType trusts the part header unless it is missing or generic.
func contentType(header *multipart.FileHeader, head []byte) string {
	ct := header.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(head)
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
