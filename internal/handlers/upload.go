package handlers

import (
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const apiVersion = "1.0.0"

// The clip is never analysed, so the answer is fixed down to the reported
// processing time.
const (
	cannedTranscription  = "Wellcome to sanket, please upload your video to translate sign language"
	cannedProcessingTime = "2.3 seconds"
)

type uploadResponse struct {
	Success        bool    `json:"success"`
	AudioURL       string  `json:"audioUrl"`
	Transcription  string  `json:"transcription"`
	ProcessingTime string  `json:"processingTime"`
	Confidence     float64 `json:"confidence"`
	Message        string  `json:"message"`
}

// Upload accepts a sign language clip and answers with a fixed translation.
// The processing delay stands in for the video model that does not exist yet.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Sign Language to Audio API",
			"version": apiVersion,
			"endpoints": map[string]string{
				"upload": "POST /api/upload - Upload sign language video for conversion",
			},
		})
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "Use GET or POST")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		if isTooLarge(err) {
			h.formError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to process video", "Request must be a multipart form")
		return
	}

	file, header, err := formFile(r, "video", "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided",
			"Use 'video' as the form field name")
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		writeError(w, http.StatusBadRequest, "Failed to read file", err.Error())
		return
	}
	mimeType := contentType(header, head[:n])
	if !strings.HasPrefix(mimeType, "video/") && !strings.HasPrefix(mimeType, "image/") {
		writeError(w, http.StatusUnsupportedMediaType, "Unsupported file type",
			fmt.Sprintf("Please upload a video file, got %s", mimeType))
		return
	}

	log.Printf("Received upload: %s (%s, %d bytes)", header.Filename, mimeType, header.Size)

	if h.opts.ProcessingDelay > 0 {
		timer := time.NewTimer(h.opts.ProcessingDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-r.Context().Done():
			log.Printf("Upload cancelled: %v", r.Context().Err())
			return
		}
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Success:        true,
		AudioURL:       h.opts.AudioURL,
		Transcription:  cannedTranscription,
		ProcessingTime: cannedProcessingTime,
		Confidence:     0.95,
		Message:        "Sign language successfully converted to audio",
	})
}

func formFile(r *http.Request, fields ...string) (multipart.File, *multipart.FileHeader, error) {
	var lastErr error
	for _, field := range fields {
		file, header, err := r.FormFile(field)
		if err == nil {
			return file, header, nil
		}
		lastErr = err
	}
	return nil, nil, lastErr
}
