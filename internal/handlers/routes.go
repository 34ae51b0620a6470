package handlers

import (
	"net/http"

	"golang.org/x/time/rate"
)

// Endpoint is a route listed in the startup banner.
type Endpoint struct {
	Method, Path, Description string
}

var Endpoints = []Endpoint{
	{"GET", "/health", "Health check"},
	{"GET", "/api/status", "Model status and current file"},
	{"GET", "/api/classes", "Sign labels"},
	{"POST", "/predict", "Raw array prediction"},
	{"POST", "/predict/image", "Predict from image upload"},
	{"POST", "/api/capture", "Predict from camera capture"},
	{"POST", "/api/upload", "Sign language video to audio"},
	{"GET", "/api/history", "Recent predictions"},
	{"GET", "/tfjs_model/model.json", "Browser model description"},
}

// Routes wires every endpoint. limiter may be nil.
func (h *Handler) Routes(limiter *rate.Limiter) http.Handler {
	limited := func(fn http.HandlerFunc) http.Handler { return rateLimit(limiter, fn) }

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/api/status", h.Status)
	mux.HandleFunc("/api/classes", h.Classes)
	mux.HandleFunc("/api/history", h.History)
	mux.HandleFunc("/tfjs_model/", h.ModelJSON)
	mux.Handle("/predict", limited(h.Predict))
	mux.Handle("/predict/image", limited(h.PredictFromImage))
	mux.Handle("/api/capture", limited(h.Capture))
	mux.Handle("/api/upload", limited(h.Upload))

	return withRequestID(logRequests(enableCORS(mux)))
}
