package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/virtualbank/backend/pkg/observability"
)

// Push event names. Clients ignore names they do not know.
const (
	EventConnected    = "connected"
	EventNotification = "notification"
	EventUnreadCount  = "unread-count"
	EventHeartbeat    = "heartbeat"
)

// Event is one frame pushed to a client connection.
type Event struct {
	Name string
	Data []byte
}

var errConnDead = errors.New("connection is closed or its buffer is full")

// Conn is one live push connection. The transport handler drains Events
// and closes the connection when its session ends; the registry writes
// into the buffer and treats a full buffer as a dead peer.
type Conn struct {
	id     string
	userID string
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func newConn(userID string) *Conn {
	return &Conn{
		id:     uuid.New().String(),
		userID: userID,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) UserID() string { return c.userID }

// Events is drained by the transport handler.
func (c *Conn) Events() <-chan Event { return c.events }

// Done is closed when the connection is torn down from either side.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) close() {
	c.once.Do(func() { close(c.done) })
}

// send never blocks. A closed connection or a full buffer (a peer that
// stopped draining) counts as a send failure.
func (c *Conn) send(ev Event) error {
	select {
	case <-c.done:
		return errConnDead
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return errConnDead
	default:
		return errConnDead
	}
}

// Registry is the process-local map of user id to open push connections.
// It owns only the ephemeral mapping; nothing here is persisted. All
// methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[*Conn]struct{}
	log   *observability.Logger
}

func NewRegistry(log *observability.Logger) *Registry {
	return &Registry{
		conns: make(map[string]map[*Conn]struct{}),
		log:   log.Named("registry"),
	}
}

// Register creates a connection for a user, queues the initial
// "connected" event, and returns it for the transport handler to drain.
func (r *Registry) Register(userID string) *Conn {
	c := newConn(userID)

	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[*Conn]struct{})
		r.conns[userID] = set
	}
	set[c] = struct{}{}
	total := len(set)
	// Queued under the lock: no fan-out can observe the connection
	// before this, so the client always sees "connected" first.
	_ = c.send(Event{Name: EventConnected, Data: []byte(`{"message":"connection established"}`)})
	r.mu.Unlock()

	connectionEvents.WithLabelValues(statusCreated).Inc()
	activeConnections.Inc()
	r.log.Info("push connection created", "userId", userID, "connections", total)
	return c
}

// Unregister removes one connection and completes it. Removing a
// connection that is already gone is a no-op.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	set, ok := r.conns[c.userID]
	if ok {
		if _, present := set[c]; !present {
			ok = false
		} else {
			delete(set, c)
			if len(set) == 0 {
				delete(r.conns, c.userID)
			}
		}
	}
	r.mu.Unlock()

	c.close()
	if ok {
		connectionEvents.WithLabelValues(statusRemoved).Inc()
		activeConnections.Dec()
		r.log.Debug("push connection removed", "userId", c.userID, "connId", c.id)
	}
}

// UnregisterAll tears down every connection for a user, e.g. on logout.
func (r *Registry) UnregisterAll(userID string) {
	r.mu.Lock()
	set := r.conns[userID]
	delete(r.conns, userID)
	r.mu.Unlock()

	for c := range set {
		c.close()
		connectionEvents.WithLabelValues(statusRemoved).Inc()
		activeConnections.Dec()
	}
	if len(set) > 0 {
		r.log.Info("removed all push connections", "userId", userID, "count", len(set))
	}
}

// Push fans a notification out to every live connection of the user.
// A failure on one connection evicts only that connection.
func (r *Registry) Push(userID string, n *Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		pushSends.WithLabelValues(statusFailed).Inc()
		r.log.Error("failed to encode notification for push", "id", n.ID, "error", err)
		return
	}
	r.fanOut(userID, Event{Name: EventNotification, Data: data})
}

// PushUnreadCount fans the user's unread counter out to their connections.
func (r *Registry) PushUnreadCount(userID string, count int64) {
	data := []byte(fmt.Sprintf(`{"unreadCount":%d}`, count))
	r.fanOut(userID, Event{Name: EventUnreadCount, Data: data})
}

func (r *Registry) fanOut(userID string, ev Event) {
	for _, c := range r.snapshot(userID) {
		if err := c.send(ev); err != nil {
			pushSends.WithLabelValues(statusFailed).Inc()
			r.log.Warn("push send failed, evicting connection", "userId", userID, "connId", c.id)
			r.Unregister(c)
			continue
		}
		pushSends.WithLabelValues(statusSent).Inc()
	}
}

// Heartbeat sends a liveness ping to every registered connection. A
// failed heartbeat is treated exactly like a failed push: the connection
// is evicted. This reaps half-open connections the transport would
// otherwise leave dangling.
func (r *Registry) Heartbeat() {
	r.mu.RLock()
	var all []*Conn
	for _, set := range r.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	r.mu.RUnlock()

	if len(all) == 0 {
		return
	}

	data := []byte(fmt.Sprintf(`{"timestamp":%d}`, time.Now().UnixMilli()))
	ev := Event{Name: EventHeartbeat, Data: data}
	for _, c := range all {
		if err := c.send(ev); err != nil {
			r.log.Debug("heartbeat failed, evicting connection", "userId", c.userID, "connId", c.id)
			r.Unregister(c)
		}
	}
}

// RunHeartbeat ticks Heartbeat until ctx is cancelled.
func (r *Registry) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Heartbeat()
		}
	}
}

// Drain tears down every connection, for shutdown.
func (r *Registry) Drain() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]map[*Conn]struct{})
	r.mu.Unlock()

	for _, set := range conns {
		for c := range set {
			c.close()
			connectionEvents.WithLabelValues(statusRemoved).Inc()
			activeConnections.Dec()
		}
	}
}

// ActiveConnections returns the number of open connections.
func (r *Registry) ActiveConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, set := range r.conns {
		total += len(set)
	}
	return total
}

// ConnectedUsers returns the number of users with at least one connection.
func (r *Registry) ConnectedUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// HasConnections reports whether a user has any open connection.
func (r *Registry) HasConnections(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

func (r *Registry) snapshot(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.conns[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}
