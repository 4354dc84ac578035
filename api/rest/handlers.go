package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/alexnthnz/notification-dispatch/internal/monitoring"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
	"github.com/alexnthnz/notification-dispatch/internal/offline"
	"github.com/alexnthnz/notification-dispatch/internal/orchestrator"
	"github.com/alexnthnz/notification-dispatch/internal/preferences"
)

// Publisher hands accepted events to the dispatcher workers.
type Publisher interface {
	PublishEvent(ctx context.Context, event notification.Event) error
}

// Handler holds dependencies for REST API handlers
type Handler struct {
	publisher Publisher
	orch      *orchestrator.Orchestrator
	prefs     *preferences.Resolver
	queue     *offline.Queue
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	validator *validator.Validate
}

// NewHandler creates a new REST API handler
func NewHandler(
	publisher Publisher,
	orch *orchestrator.Orchestrator,
	prefs *preferences.Resolver,
	queue *offline.Queue,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		publisher: publisher,
		orch:      orch,
		prefs:     prefs,
		queue:     queue,
		metrics:   metrics,
		logger:    logger,
		validator: validator.New(),
	}
}

// DispatchRequest represents the request body for dispatching a notification
type DispatchRequest struct {
	ID          string            `json:"id,omitempty"`
	RecipientID string            `json:"recipient_id" validate:"required"`
	Type        string            `json:"type" validate:"required,oneof=like comment follow mention message payment system"`
	Title       string            `json:"title"`
	Body        string            `json:"body" validate:"required"`
	Data        map[string]string `json:"data,omitempty"`
}

// DispatchResponse represents the response for dispatching a notification
type DispatchResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// AttemptsResponse bundles the delivery attempts and audit trail for an event
type AttemptsResponse struct {
	EventID  string                         `json:"event_id"`
	Attempts []notification.DeliveryAttempt `json:"attempts"`
	Audit    []notification.AuditLogEntry   `json:"audit"`
}

// DrainResponse represents the outcome of an offline queue drain
type DrainResponse struct {
	UserID    string `json:"user_id"`
	Delivered int    `json:"delivered"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Dispatch handles POST /dispatch. Accepted events are published to
// the dispatch topic; the worker owns routing, retries and queueing.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", zap.Error(err))
		h.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Error("Request validation failed", zap.Error(err))
		h.writeErrorResponse(w, fmt.Sprintf("Validation error: %v", err), http.StatusBadRequest)
		return
	}

	event := notification.Event{
		ID:          req.ID,
		RecipientID: req.RecipientID,
		Type:        notification.Type(req.Type),
		Title:       req.Title,
		Body:        req.Body,
		Data:        req.Data,
		CreatedAt:   time.Now().UTC(),
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if err := h.publisher.PublishEvent(r.Context(), event); err != nil {
		h.logger.Error("Failed to publish event", zap.Error(err), zap.String("event_id", event.ID))
		h.writeErrorResponse(w, "Failed to accept notification", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Notification accepted",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("recipient_id", event.RecipientID),
	)

	response := DispatchResponse{
		ID:      event.ID,
		Status:  "accepted",
		Message: "Notification accepted for dispatch",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(response)
}

// GetAttempts handles GET /notifications/{id}/attempts
func (h *Handler) GetAttempts(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if id == "" {
		h.writeErrorResponse(w, "Notification ID is required", http.StatusBadRequest)
		return
	}

	attempts, err := h.orch.Attempts(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load attempts", zap.Error(err), zap.String("event_id", id))
		h.writeErrorResponse(w, "Failed to retrieve delivery attempts", http.StatusInternalServerError)
		return
	}

	trail, err := h.orch.Trail(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load audit trail", zap.Error(err), zap.String("event_id", id))
		h.writeErrorResponse(w, "Failed to retrieve audit trail", http.StatusInternalServerError)
		return
	}

	if len(attempts) == 0 && len(trail) == 0 {
		h.writeErrorResponse(w, "Notification not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AttemptsResponse{EventID: id, Attempts: attempts, Audit: trail})
}

// GetPreferences handles GET /users/{id}/preferences
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["id"]

	prefs, err := h.prefs.Get(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load preferences", zap.Error(err), zap.String("user_id", userID))
		h.writeErrorResponse(w, "Failed to retrieve preferences", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(prefs)
}

// UpdatePreferences handles PUT /users/{id}/preferences
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["id"]

	var prefs notification.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		h.logger.Error("Failed to decode preferences", zap.Error(err))
		h.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	prefs.UserID = userID

	if err := prefs.Validate(); err != nil {
		h.writeErrorResponse(w, fmt.Sprintf("Validation error: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.prefs.Update(r.Context(), prefs); err != nil {
		h.logger.Error("Failed to update preferences", zap.Error(err), zap.String("user_id", userID))
		h.writeErrorResponse(w, "Failed to update preferences", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Preferences updated", zap.String("user_id", userID))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(prefs)
}

// Drain handles POST /users/{id}/drain. A reconnect notice from the
// edge triggers replay of all queued notifications for the user.
func (h *Handler) Drain(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["id"]

	delivered, err := h.queue.DrainFor(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to drain offline queue", zap.Error(err), zap.String("user_id", userID))
		h.writeErrorResponse(w, "Failed to drain offline queue", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Offline queue drained",
		zap.String("user_id", userID),
		zap.Int("delivered", delivered),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(DrainResponse{UserID: userID, Delivered: delivered})
}

// PurgeUser handles DELETE /users/{id}
func (h *Handler) PurgeUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["id"]

	if err := h.orch.PurgeUser(r.Context(), userID); err != nil {
		h.logger.Error("Failed to purge user", zap.Error(err), zap.String("user_id", userID))
		h.writeErrorResponse(w, "Failed to purge user data", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "notification-dispatch",
		"version":   "1.0.0",
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// Metrics handles GET /metrics (Prometheus metrics)
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.Handler().ServeHTTP(w, r)
}

// writeErrorResponse writes an error response
func (h *Handler) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// SetupRoutes sets up all REST API routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/dispatch", h.Dispatch).Methods("POST")
	api.HandleFunc("/notifications/{id}/attempts", h.GetAttempts).Methods("GET")
	api.HandleFunc("/users/{id}/preferences", h.GetPreferences).Methods("GET")
	api.HandleFunc("/users/{id}/preferences", h.UpdatePreferences).Methods("PUT")
	api.HandleFunc("/users/{id}/drain", h.Drain).Methods("POST")
	api.HandleFunc("/users/{id}", h.PurgeUser).Methods("DELETE")

	// Health and metrics
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/metrics", h.Metrics).Methods("GET")

	// Add middleware
	router.Use(h.loggingMiddleware)
	router.Use(h.corsMiddleware)

	return router
}

// loggingMiddleware logs HTTP requests
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response recorder to capture status code
		recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(recorder, r)

		duration := time.Since(start)
		h.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", recorder.statusCode),
			zap.Duration("duration", duration),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// corsMiddleware adds CORS headers
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseRecorder wraps http.ResponseWriter to capture status code
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
