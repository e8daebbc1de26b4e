package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/virtualbank/backend/internal/notification"
	"github.com/virtualbank/backend/pkg/observability"
)

type stubPublisher struct {
	published []*notification.Notification
}

func (s *stubPublisher) Publish(ctx context.Context, n *notification.Notification) error {
	s.published = append(s.published, n)
	return nil
}

func (s *stubPublisher) PublishAsync(n *notification.Notification) <-chan error {
	s.published = append(s.published, n)
	result := make(chan error, 1)
	result <- nil
	return result
}

func newTestHandlerTimeout(db *notification.MockDB, publisher *stubPublisher, connTimeout time.Duration) (*NotificationHandler, *notification.Registry) {
	logger := observability.NewLogger("test")
	repo := notification.NewTestRepository(db)
	service := notification.NewService(repo, publisher, notification.NewUnreadCache(nil), logger)
	registry := notification.NewRegistry(logger)
	return NewNotificationHandler(service, registry, connTimeout, logger), registry
}

func newTestHandler(db *notification.MockDB, publisher *stubPublisher) (*NotificationHandler, *notification.Registry) {
	return newTestHandlerTimeout(db, publisher, time.Minute)
}

func TestNotificationHandler_Create(t *testing.T) {
	tests := []struct {
		name           string
		reqBody        string
		headers        map[string]string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Valid Request",
			reqBody:        `{"type":"SECURITY_ALERT","channel":"BOTH","title":"Alert","message":"New login","priority":"URGENT"}`,
			headers:        map[string]string{"X-User-ID": "user_123"},
			expectedStatus: http.StatusAccepted,
			expectedBody:   `"status":"queued"`,
		},
		{
			name:           "Unauthorized",
			reqBody:        `{"type":"SECURITY_ALERT","title":"Alert","message":"New login"}`,
			headers:        map[string]string{},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Authentication required",
		},
		{
			name:           "Invalid Body",
			reqBody:        `{not json`,
			headers:        map[string]string{"X-User-ID": "user_123"},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Invalid request body",
		},
		{
			name:           "Missing Title",
			reqBody:        `{"type":"SECURITY_ALERT","message":"New login"}`,
			headers:        map[string]string{"X-User-ID": "user_123"},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "title",
		},
		{
			name:           "Unknown Type",
			reqBody:        `{"type":"CARRIER_PIGEON","title":"Alert","message":"New login"}`,
			headers:        map[string]string{"X-User-ID": "user_123"},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := &stubPublisher{}
			h, _ := newTestHandler(&notification.MockDB{}, publisher)

			req := httptest.NewRequest("POST", "/api/notifications", strings.NewReader(tt.reqBody))
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()

			h.Create(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.expectedBody) {
				t.Errorf("Expected body to contain '%s', got '%s'", tt.expectedBody, w.Body.String())
			}
			if tt.expectedStatus == http.StatusAccepted && len(publisher.published) != 1 {
				t.Errorf("Expected 1 publish, got %d", len(publisher.published))
			}
		})
	}
}

func TestNotificationHandler_Get(t *testing.T) {
	db := &notification.MockDB{
		QueryRowContextFunc: func(ctx context.Context, query string, args ...any) notification.Row {
			if len(args) > 0 && args[0] == "n_1" {
				return &notification.MockRow{ScanFunc: func(dest ...any) error {
					*(dest[0].(*string)) = "n_1"
					*(dest[1].(*string)) = "user_123"
					*(dest[2].(*notification.Type)) = notification.TypeSecurityAlert
					*(dest[3].(*notification.Channel)) = notification.ChannelInApp
					*(dest[4].(*string)) = "Alert"
					*(dest[5].(*string)) = "New login"
					*(dest[6].(*notification.Priority)) = notification.PriorityHigh
					*(dest[7].(*bool)) = false
					*(dest[8].(*time.Time)) = time.Now().UTC()
					return nil
				}}
			}
			return &notification.MockRow{ScanFunc: func(dest ...any) error { return sql.ErrNoRows }}
		},
	}
	h, _ := newTestHandler(db, &stubPublisher{})
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	tests := []struct {
		name           string
		path           string
		userID         string
		expectedStatus int
	}{
		{"Found", "/api/notifications/n_1", "user_123", http.StatusOK},
		{"Not Found", "/api/notifications/missing", "user_123", http.StatusNotFound},
		{"Unauthorized", "/api/notifications/n_1", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", srv.URL+tt.path, nil)
			if tt.userID != "" {
				req.Header.Set("X-User-ID", tt.userID)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, resp.StatusCode)
			}
		})
	}
}

func TestNotificationHandler_UnreadCount(t *testing.T) {
	db := &notification.MockDB{
		QueryRowContextFunc: func(ctx context.Context, query string, args ...any) notification.Row {
			return &notification.MockRow{ScanFunc: func(dest ...any) error {
				*(dest[0].(*int64)) = 9
				return nil
			}}
		},
	}
	h, _ := newTestHandler(db, &stubPublisher{})

	req := httptest.NewRequest("GET", "/api/notifications/unread-count", nil)
	req.Header.Set("X-User-ID", "user_123")
	w := httptest.NewRecorder()

	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"unreadCount":9`) {
		t.Errorf("Expected the unread count, got '%s'", w.Body.String())
	}
}

func TestNotificationHandler_Health(t *testing.T) {
	h, registry := newTestHandler(&notification.MockDB{}, &stubPublisher{})
	conn := registry.Register("user_123")
	defer registry.Unregister(conn)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"active_connections":1`) || !strings.Contains(body, `"service":"notifications"`) {
		t.Errorf("Unexpected health body: '%s'", body)
	}
}

// readSSEEvent reads one "event:"/"data:" frame off the stream.
func readSSEEvent(t *testing.T, r *bufio.Reader) (name, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("stream read failed: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && name != "":
			return name, data
		}
	}
}

func TestNotificationHandler_Stream(t *testing.T) {
	h, registry := newTestHandler(&notification.MockDB{}, &stubPublisher{})
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	req, _ := http.NewRequest("GET", srv.URL+"/api/notifications/stream", nil)
	req.Header.Set("X-User-ID", "user_123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Expected text/event-stream, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)

	name, _ := readSSEEvent(t, reader)
	if name != "connected" {
		t.Fatalf("Expected the connected event first, got %q", name)
	}

	// Wait for the registry to see the connection, then push through it.
	deadline := time.Now().Add(time.Second)
	for !registry.HasConnections("user_123") {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	n := &notification.Notification{ID: "n_1", UserID: "user_123",
		Type: notification.TypeSecurityAlert, Channel: notification.ChannelInApp,
		Title: "Alert", Message: "New login", Priority: notification.PriorityUrgent,
		CreatedAt: time.Now().UTC()}
	registry.Push("user_123", n)
	registry.PushUnreadCount("user_123", 1)

	name, data := readSSEEvent(t, reader)
	if name != "notification" || !strings.Contains(data, `"id":"n_1"`) {
		t.Fatalf("Expected the notification event, got %q with %q", name, data)
	}
	name, data = readSSEEvent(t, reader)
	if name != "unread-count" || !strings.Contains(data, `"unreadCount":1`) {
		t.Fatalf("Expected the unread-count event, got %q with %q", name, data)
	}
}

func TestNotificationHandler_WebSocket(t *testing.T) {
	h, registry := newTestHandler(&notification.MockDB{}, &stubPublisher{})
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/notifications/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"X-User-ID": {"user_123"}})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer ws.Close()

	var frame struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	ws.SetReadDeadline(time.Now().Add(time.Second))
	if err := ws.ReadJSON(&frame); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if frame.Event != "connected" {
		t.Fatalf("Expected the connected frame first, got %q", frame.Event)
	}

	registry.PushUnreadCount("user_123", 2)

	ws.SetReadDeadline(time.Now().Add(time.Second))
	if err := ws.ReadJSON(&frame); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if frame.Event != "unread-count" || !strings.Contains(string(frame.Data), `"unreadCount":2`) {
		t.Fatalf("Expected the unread-count frame, got %q with %q", frame.Event, frame.Data)
	}
}

func TestNotificationHandler_StreamLifetimeIsHardCeiling(t *testing.T) {
	h, registry := newTestHandlerTimeout(&notification.MockDB{}, &stubPublisher{}, 200*time.Millisecond)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	// Heartbeats much faster than the ceiling; they must not extend it.
	stop := make(chan struct{})
	heartbeatsDone := make(chan struct{})
	go func() {
		defer close(heartbeatsDone)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				registry.Heartbeat()
			}
		}
	}()
	defer func() { close(stop); <-heartbeatsDone }()

	req, _ := http.NewRequest("GET", srv.URL+"/api/notifications/stream", nil)
	req.Header.Set("X-User-ID", "user_123")
	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	// Drain frames until the server closes the stream.
	reader := bufio.NewReader(resp.Body)
	for {
		if _, err := reader.ReadString('\n'); err != nil {
			break
		}
		if time.Since(start) > 3*time.Second {
			t.Fatal("stream still open well past the lifetime ceiling")
		}
	}

	elapsed := time.Since(start)
	if elapsed < 150*time.Millisecond {
		t.Errorf("stream closed after %v, before the ceiling", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("stream closed after %v, heartbeats must not extend the ceiling", elapsed)
	}
}

func TestNotificationHandler_WebSocketLifetimeIsHardCeiling(t *testing.T) {
	h, registry := newTestHandlerTimeout(&notification.MockDB{}, &stubPublisher{}, 200*time.Millisecond)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/notifications/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"X-User-ID": {"user_123"}})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer ws.Close()

	stop := make(chan struct{})
	heartbeatsDone := make(chan struct{})
	go func() {
		defer close(heartbeatsDone)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				registry.Heartbeat()
			}
		}
	}()
	defer func() { close(stop); <-heartbeatsDone }()

	start := time.Now()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	elapsed := time.Since(start)
	if elapsed < 150*time.Millisecond {
		t.Errorf("websocket closed after %v, before the ceiling", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("websocket closed after %v, heartbeats must not extend the ceiling", elapsed)
	}
}

func TestNotificationHandler_StreamUnauthorized(t *testing.T) {
	h, _ := newTestHandler(&notification.MockDB{}, &stubPublisher{})

	req := httptest.NewRequest("GET", "/api/notifications/stream", nil)
	w := httptest.NewRecorder()

	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", w.Code)
	}
}

func TestNotificationHandler_Disconnect(t *testing.T) {
	h, registry := newTestHandler(&notification.MockDB{}, &stubPublisher{})
	conn := registry.Register("user_123")

	req := httptest.NewRequest("DELETE", "/api/notifications/stream", nil)
	req.Header.Set("X-User-ID", "user_123")
	w := httptest.NewRecorder()

	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection should be closed after disconnect")
	}
	if registry.HasConnections("user_123") {
		t.Error("user should have no connections left")
	}
}
