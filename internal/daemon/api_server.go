package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"scanstation/internal/api"
	"scanstation/internal/config"
	"scanstation/internal/device"
	"scanstation/internal/logging"
	"scanstation/internal/services"
	"scanstation/internal/workflow"
)

const (
	defaultThumbWidth = 320
	maxThumbWidth     = 2048
	maxRequestBody    = 1 << 20
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}
	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(token string) http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestID)
	r.Use(authMiddleware(token))

	r.HandleFunc("/api/capture", s.handleCapture).Methods(http.MethodGet)
	r.HandleFunc("/api/capture/trigger", s.handleTrigger(false)).Methods(http.MethodPost)
	r.HandleFunc("/api/capture/retake", s.handleTrigger(true)).Methods(http.MethodPost)
	r.HandleFunc("/api/capture/finish", s.handleFinish).Methods(http.MethodPost)
	r.HandleFunc("/api/keys/{key}", s.handleKey).Methods(http.MethodPost)
	r.HandleFunc("/api/crop", s.handleClearCrops).Methods(http.MethodDelete)
	r.HandleFunc("/api/crop/{parity}", s.handleSetCrop).Methods(http.MethodPut)
	r.HandleFunc("/api/overlay/crop/{parity}", s.handleOpenCrop).Methods(http.MethodPost)
	r.HandleFunc("/api/overlay/config", s.handleOpenConfig).Methods(http.MethodPost)
	r.HandleFunc("/api/overlay/lightbox/{seq:[0-9]+}", s.handleOpenLightbox).Methods(http.MethodPost)
	r.HandleFunc("/api/overlay", s.handleCloseOverlay).Methods(http.MethodDelete)
	r.HandleFunc("/api/config", s.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/config", s.handleSaveConfig).Methods(http.MethodPost)
	r.HandleFunc("/api/devices", s.handleDevices).Methods(http.MethodGet)
	r.HandleFunc("/api/pages/{seq:[0-9]+}/raw", s.handlePageRaw).Methods(http.MethodGet)
	r.HandleFunc("/api/pages/{seq:[0-9]+}/thumb", s.handlePageThumb).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func (s *apiServer) handleCapture(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.daemon.Snapshot()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromSnapshot(snap))
}

func (s *apiServer) handleTrigger(retake bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		forwarded, err := s.daemon.Trigger(r.Context(), retake)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		status := http.StatusAccepted
		if !forwarded {
			status = http.StatusConflict
		}
		s.writeJSON(w, status, api.TriggerResponse{Forwarded: forwarded})
	}
}

func (s *apiServer) handleFinish(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.Finish(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *apiServer) handleKey(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if !s.daemon.PressKey(key) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no binding for key %q", key))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *apiServer) handleSetCrop(w http.ResponseWriter, r *http.Request) {
	parity, err := workflow.ParseParity(mux.Vars(r)["parity"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var rect api.Rect
	if !s.decode(w, r, &rect) {
		return
	}
	if err := s.daemon.SetCrop(r.Context(), parity, rect.ToRect()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleClearCrops(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.ClearCrops(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleOpenCrop(w http.ResponseWriter, r *http.Request) {
	parity, err := workflow.ParseParity(mux.Vars(r)["parity"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondOverlay(w, s.daemon.OpenCrop(parity))
}

func (s *apiServer) handleOpenConfig(w http.ResponseWriter, _ *http.Request) {
	s.respondOverlay(w, s.daemon.OpenConfig())
}

func (s *apiServer) handleOpenLightbox(w http.ResponseWriter, r *http.Request) {
	seq, ok := s.sequence(w, r)
	if !ok {
		return
	}
	s.respondOverlay(w, s.daemon.OpenLightbox(seq))
}

func (s *apiServer) handleCloseOverlay(w http.ResponseWriter, _ *http.Request) {
	s.respondOverlay(w, s.daemon.CloseOverlay())
}

func (s *apiServer) respondOverlay(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	snap, err := s.daemon.Snapshot()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromSnapshot(snap))
}

func (s *apiServer) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	settings, err := s.daemon.Settings()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromSettings(settings))
}

func (s *apiServer) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var payload api.DeviceSettings
	if !s.decode(w, r, &payload) {
		return
	}
	if err := s.daemon.SaveConfig(r.Context(), payload.ToSettings()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *apiServer) handleDevices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.FromDevices(s.daemon.Status().Devices))
}

func (s *apiServer) handlePageRaw(w http.ResponseWriter, r *http.Request) {
	page, ok := s.page(w, r)
	if !ok {
		return
	}
	http.ServeFile(w, r, page.Path)
}

func (s *apiServer) handlePageThumb(w http.ResponseWriter, r *http.Request) {
	page, ok := s.page(w, r)
	if !ok {
		return
	}
	width := defaultThumbWidth
	if raw := strings.TrimSpace(r.URL.Query().Get("width")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxThumbWidth {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("width must be between 1 and %d", maxThumbWidth))
			return
		}
		width = parsed
	}
	img, err := device.Thumbnail(page.Path, width)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := png.Encode(w, img); err != nil {
		s.log().Warn("failed to encode thumbnail", logging.Sequence(page.Sequence), logging.Error(err))
	}
}

func (s *apiServer) page(w http.ResponseWriter, r *http.Request) (workflow.Page, bool) {
	seq, ok := s.sequence(w, r)
	if !ok {
		return workflow.Page{}, false
	}
	page, err := s.daemon.Page(seq)
	if err != nil {
		s.writeServiceError(w, err)
		return workflow.Page{}, false
	}
	return page, true
}

func (s *apiServer) sequence(w http.ResponseWriter, r *http.Request) (int, bool) {
	seq, err := strconv.Atoi(mux.Vars(r)["seq"])
	if err != nil || seq < 1 {
		s.writeError(w, http.StatusBadRequest, "invalid page sequence")
		return 0, false
	}
	return seq, true
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	resp := api.ErrorResponse{
		Error: err.Error(),
		Kind:  services.Kind(err),
		Hint:  services.Hint(err),
	}
	var validation *workflow.ValidationError
	if errors.As(err, &validation) {
		resp.Fields = validation.Fields
	}
	s.writeJSON(w, statusForError(err), resp)
}

func statusForError(err error) int {
	var validation *workflow.ValidationError
	switch {
	case errors.Is(err, ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	}
	switch services.Kind(err) {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "busy":
		return http.StatusConflict
	case "timeout":
		return http.StatusGatewayTimeout
	case "device":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String("component", "api-server"))
	}
	return logging.NewNop()
}
