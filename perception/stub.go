package perception

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"net/http"

	_ "image/jpeg"
	_ "image/png"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/okralabs/uiheal/uimap"
)

// stubVersion is reported by the stub's /health endpoint.
const stubVersion = "0.1.0"

// StubServer implements the perception wire protocol in-process, backed by
// a Detector. It exists for development and end-to-end tests where the real
// vision service is not running; the client cannot tell them apart.
type StubServer struct {
	detector Detector
	logger   *slog.Logger
}

// NewStubServer creates a stub backed by det (MockDetector when nil).
func NewStubServer(det Detector, logger *slog.Logger) *StubServer {
	if det == nil {
		det = MockDetector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StubServer{detector: det, logger: logger}
}

// Router returns the HTTP handler implementing /parse and /health.
func (s *StubServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Post("/parse", s.handleParse)
	r.Get("/health", s.handleHealth)
	return r
}

func (s *StubServer) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	img, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid base64 image: %v", err))
		return
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid image format: %v", err))
		return
	}

	dets := s.detector.Detect(img, cfg.Width, cfg.Height)
	m := uimap.FromDetections(dets, cfg.Width, cfg.Height, img, "", "")

	s.logger.Info("perception stub: parsed screenshot",
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height), "elements", len(m.Elements))

	writeJSON(w, http.StatusOK, m)
}

func (s *StubServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthStatus{
		Status:  "ok",
		Version: stubVersion,
		Parser:  "mock",
	})
}

func httpError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
