package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/virtualbank/backend/internal/notification"
	"github.com/virtualbank/backend/pkg/jsonutil"
	"github.com/virtualbank/backend/pkg/observability"
)

// NotificationHandler serves the REST API and the two push transports
// (SSE and WebSocket) on top of the service and the connection registry.
type NotificationHandler struct {
	service     *notification.Service
	registry    *notification.Registry
	connTimeout time.Duration
	log         *observability.Logger
	upgrader    websocket.Upgrader
}

func NewNotificationHandler(service *notification.Service, registry *notification.Registry, connTimeout time.Duration, log *observability.Logger) *NotificationHandler {
	return &NotificationHandler{
		service:     service,
		registry:    registry,
		connTimeout: connTimeout,
		log:         log.Named("http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The gateway terminates auth; origin policy lives there too.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *NotificationHandler) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/notifications").Subrouter()
	api.HandleFunc("", h.Create).Methods(http.MethodPost)
	api.HandleFunc("", h.List).Methods(http.MethodGet)
	api.HandleFunc("", h.DeleteAll).Methods(http.MethodDelete)
	api.HandleFunc("/unread", h.ListUnread).Methods(http.MethodGet)
	api.HandleFunc("/unread-count", h.UnreadCount).Methods(http.MethodGet)
	api.HandleFunc("/read-all", h.MarkAllRead).Methods(http.MethodPut)
	api.HandleFunc("/old", h.DeleteOldRead).Methods(http.MethodDelete)
	api.HandleFunc("/stream", h.Stream).Methods(http.MethodGet)
	api.HandleFunc("/stream", h.Disconnect).Methods(http.MethodDelete)
	api.HandleFunc("/ws", h.WebSocket).Methods(http.MethodGet)
	api.HandleFunc("/{id}", h.Get).Methods(http.MethodGet)
	api.HandleFunc("/{id}", h.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/{id}/read", h.MarkRead).Methods(http.MethodPut)
	api.HandleFunc("/{id}/unread", h.MarkUnread).Methods(http.MethodPut)

	return r
}

// userID extracts the authenticated user from the X-User-ID header set
// by the gateway. An empty header is treated as unauthenticated.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func (h *NotificationHandler) Health(w http.ResponseWriter, r *http.Request) {
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":             "active",
		"service":            "notifications",
		"active_connections": h.registry.ActiveConnections(),
		"connected_users":    h.registry.ConnectedUsers(),
	})
}

type createNotificationRequest struct {
	UserID   string                `json:"userId"`
	Type     notification.Type     `json:"type"`
	Channel  notification.Channel  `json:"channel"`
	Title    string                `json:"title"`
	Message  string                `json:"message"`
	Priority notification.Priority `json:"priority"`
}

// Create accepts a notification and publishes it to the event log. The
// write is acknowledged before the consumer persists it, so the response
// is 202 rather than 201.
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller := userID(r)
	if caller == "" {
		jsonutil.WriteErrorStatusJSON(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req createNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonutil.WriteErrorJSON(w, "Invalid request body")
		return
	}
	if req.UserID == "" {
		req.UserID = caller
	}
	if req.Channel == "" {
		req.Channel = notification.ChannelInApp
	}
	if req.Priority == "" {
		req.Priority = notification.PriorityMedium
	}

	if err := h.service.CreateAndPublish(r.Context(), req.UserID, req.Type, req.Channel, req.Title, req.Message, req.Priority); err != nil {
		jsonutil.WriteErrorJSON(w, err.Error())
		return
	}
	jsonutil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.List)
}

func (h *NotificationHandler) ListUnread(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.ListUnread)
}

func (h *NotificationHandler) list(w http.ResponseWriter, r *http.Request, fetch func(ctx context.Context, userID string, page, size int) ([]*notification.Notification, error)) {
	user := userID(r)
	if user == "" {
		jsonutil.WriteErrorStatusJSON(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	items, err := fetch(r.Context(), user, page, size)
	if err != nil {
		jsonutil.WriteErrorStatusJSON(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}
	if items == nil {
		items = []*notification.Notification{}
	}
	jsonutil.WriteJSON(w, http.StatusOK, items)
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		jsonutil.WriteErrorStatusJSON(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	count, err := h.service.UnreadCount(r.Context(), user)
	if err != nil {
		jsonutil.WriteErrorStatusJSON(w, http.StatusInternalServerError, "Failed to count notifications")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]int64{"unreadCount": count})
}

func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		jsonutil.WriteErrorStatusJSON(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	n, err := h.service.Get(r.Context(), mux.Vars(r)["id"], user)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, n)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.mark(w, r, h.service.MarkRead)
}

func (h *NotificationHandler) MarkUnread(w http.ResponseWriter, r *http.Request) {
	h.mark(w, r, h.service.MarkUnread)
}

func (h *NotificationHandler) mark(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id, userID string) (*notification.Notification, error)) {
	user := userID(r)
	if user == "" {
		jsonutil.WriteErrorStatusJSON(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	n, err := fn(r.Context(), mux.Vars(r)["id"], user)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.pushUnreadCount(r, user)
	jsonutil.WriteJSON(w, http.StatusOK, n)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		jsonutil.WriteErrorStatusJSON(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	updated, err := h.service.MarkAllRead(r.Context(), user)
	if err != nil {
		jsonutil.WriteErrorStatusJSON(w, http.StatusInternalServerError, "Failed to mark notifications read")
		return
	}
	h.pushUnreadCount(r, user)
	jsonutil.WriteJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		jsonutil.WriteErrorStatusJSON(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if err := h.service.Delete(r.Context(), mux.Vars(r)["id"], user); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		jsonutil.WriteErrorStatusJSON(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if err := h.service.DeleteAll(r.Context(), user); err != nil {
		jsonutil.WriteErrorStatusJSON(w, http.StatusInternalServerError, "Failed to delete notifications")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) DeleteOldRead(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		jsonutil.WriteErrorStatusJSON(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	deleted, err := h.service.DeleteOldRead(r.Context(), user, days)
	if err != nil {
		jsonutil.WriteErrorStatusJSON(w, http.StatusInternalServerError, "Failed to delete notifications")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// Stream holds the request open as a Server-Sent Events session. The
// registry queues events into the connection buffer; this loop drains
// them onto the wire until the client goes away, the connection is
// evicted, or the idle timeout fires.
func (h *NotificationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		jsonutil.WriteErrorStatusJSON(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonutil.WriteErrorStatusJSON(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	conn := h.registry.Register(user)
	defer h.registry.Unregister(conn)

	// Fixed lifetime ceiling from connection start. Traffic, heartbeats
	// included, does not extend it; clients are expected to reconnect.
	lifetime := time.NewTimer(h.connTimeout)
	defer lifetime.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.Done():
			return
		case <-lifetime.C:
			h.log.Info("stream lifetime reached, closing", "user_id", user, "conn_id", conn.ID())
			return
		case ev := <-conn.Events():
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Disconnect force-closes every push connection the user has open.
func (h *NotificationHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		jsonutil.WriteErrorStatusJSON(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	h.registry.UnregisterAll(user)
	jsonutil.WriteJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WebSocket serves the same event stream over a WebSocket session.
func (h *NotificationHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		jsonutil.WriteErrorStatusJSON(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	conn := h.registry.Register(user)
	defer h.registry.Unregister(conn)

	// Read pump. Inbound payloads are ignored; reading is only needed to
	// notice the peer closing and to answer control frames.
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Same fixed lifetime ceiling as the SSE transport.
	lifetime := time.NewTimer(h.connTimeout)
	defer lifetime.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readClosed:
			return
		case <-conn.Done():
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "evicted"),
				time.Now().Add(time.Second))
			return
		case <-lifetime.C:
			h.log.Info("websocket lifetime reached, closing", "user_id", user, "conn_id", conn.ID())
			return
		case ev := <-conn.Events():
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteJSON(wsFrame{Event: ev.Name, Data: ev.Data}); err != nil {
				return
			}
		}
	}
}

// pushUnreadCount refreshes the badge on any live connections after a
// read-state change made through the REST API.
func (h *NotificationHandler) pushUnreadCount(r *http.Request, user string) {
	if !h.registry.HasConnections(user) {
		return
	}
	count, err := h.service.UnreadCount(r.Context(), user)
	if err != nil {
		h.log.Warn("failed to refresh unread count", "user_id", user, "error", err)
		return
	}
	h.registry.PushUnreadCount(user, count)
}

func (h *NotificationHandler) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, notification.ErrNotFound) {
		jsonutil.WriteErrorStatusJSON(w, http.StatusNotFound, "Notification not found")
		return
	}
	jsonutil.WriteErrorJSON(w, err.Error())
}
