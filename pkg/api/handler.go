package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/dispatch"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/health"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/lifecycle"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/message"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/service"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/store"
)

// Service defines the operations the HTTP surface exposes.
type Service interface {
	Status() lifecycle.Status
	MessageByID(ctx context.Context, id string) (*message.Message, error)
	Groups(ctx context.Context) ([]service.Group, error)
	Send(ctx context.Context, req *dispatch.SendRequest) (dispatch.Result, error)
	History(ctx context.Context, limit int) ([]store.Transition, error)
	Restart()
	Health() health.Status
}

var _ Service = (*service.Service)(nil)

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status           string `json:"status"`
	Uptime           int64  `json:"uptime"`
	Timestamp        string `json:"timestamp"`
	MessagesReceived int64  `json:"messagesReceived"`
	MessagesSent     int64  `json:"messagesSent"`
	ReinitCount      int    `json:"reinitCount"`
}

// Handler serves the HTTP API.
type Handler struct {
	svc Service
	log *slog.Logger
	now func() time.Time
}

// NewHandler creates a Handler backed by svc.
func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		svc: svc,
		log: log.With("component", "api"),
		now: time.Now,
	}
}

// Mount registers all API routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/api/health", h.health)

	r.Route("/api/whatsapp", func(r chi.Router) {
		r.Get("/qr", h.qr)
		r.Get("/message", h.message)
		r.Get("/groups", h.groups)
		r.Post("/send", h.send)
		r.Get("/history", h.history)
		r.Post("/restart", h.restart)
	})
}

// NewRouter returns a router with the API mounted behind the standard
// middleware stack. Request bodies are capped at maxBodyBytes.
func NewRouter(h *Handler, maxBodyBytes int64) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(recoverer(h.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))
	if maxBodyBytes > 0 {
		r.Use(middleware.RequestSize(maxBodyBytes))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeResponse(w, http.StatusNotFound, "Not Found", nil)
	})

	h.Mount(r)
	return r
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	st := h.svc.Health()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:           "healthy",
		Uptime:           st.UptimeSeconds,
		Timestamp:        h.now().UTC().Format(time.RFC3339Nano),
		MessagesReceived: st.MessagesReceived,
		MessagesSent:     st.MessagesSent,
		ReinitCount:      st.ReinitCount,
	})
}

func (h *Handler) qr(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

type messageRequest struct {
	ID string `json:"id"`
}

// message accepts the id as ?id= or in a JSON body, which dashboard clients
// send even on GET.
func (h *Handler) message(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" && r.Body != nil {
		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeResponse(w, decodeStatus(err), "Invalid request body: "+err.Error(), nil)
			return
		}
		id = req.ID
	}
	if id == "" {
		writeResponse(w, http.StatusBadRequest, "Message ID is required", nil)
		return
	}

	msg, err := h.svc.MessageByID(r.Context(), id)
	if errors.Is(err, service.ErrNotReady) {
		writeResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err != nil {
		h.log.Error("failed to get message", "id", id, "error", err)
		writeResponse(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	writeResponse(w, http.StatusOK, "Message retrieved successfully", msg)
}

func (h *Handler) groups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.svc.Groups(r.Context())
	if errors.Is(err, service.ErrNotReady) {
		writeResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err != nil {
		h.log.Error("failed to get groups", "error", err)
		writeResponse(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	writeResponse(w, http.StatusOK, "Groups retrieved successfully", groups)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	var req dispatch.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, decodeStatus(err), "Invalid request body: "+err.Error(), nil)
		return
	}

	res, err := h.svc.Send(r.Context(), &req)
	var verr *dispatch.ValidationError
	if errors.As(err, &verr) {
		writeResponse(w, http.StatusBadRequest, verr.Message, nil)
		return
	}
	if err != nil {
		writeResponse(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	if !res.Success {
		writeResponse(w, http.StatusBadRequest, res.Message, nil)
		return
	}
	writeResponse(w, http.StatusOK, res.Message, res.Data)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeResponse(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	transitions, err := h.svc.History(r.Context(), limit)
	if err != nil {
		h.log.Error("failed to get history", "error", err)
		writeResponse(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if transitions == nil {
		transitions = []store.Transition{}
	}

	writeResponse(w, http.StatusOK, "History retrieved successfully", transitions)
}

func (h *Handler) restart(w http.ResponseWriter, _ *http.Request) {
	h.svc.Restart()
	writeResponse(w, http.StatusAccepted, "Restart scheduled", h.svc.Status())
}
