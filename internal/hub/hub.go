// Package hub multiplexes each agent's live terminal output to any number
// of subscribed viewers.
//
// Every agent session keeps a bounded ring buffer of output chunks. A
// viewer connecting mid-stream first receives the full buffered history,
// then live chunks, so late joiners see exactly what earlier viewers saw.
// Sessions with no viewers for an idle window are garbage-collected.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/squadron-dev/squadron/internal/event"
	"github.com/squadron-dev/squadron/internal/logging"

	"github.com/google/uuid"
)

// Defaults for session buffering and garbage collection.
const (
	// DefaultBufferSize is the number of output chunks retained per agent.
	DefaultBufferSize = 1000

	// DefaultIdleTimeout is how long a session may have zero viewers
	// before it is eligible for removal.
	DefaultIdleTimeout = 30 * time.Second

	// viewerQueueSlack is extra channel capacity beyond the replay buffer
	// so live chunks arriving during replay are not dropped immediately.
	viewerQueueSlack = 256
)

// MessageKind discriminates the messages a viewer receives.
type MessageKind int

const (
	// KindData carries one chunk of terminal output.
	KindData MessageKind = iota

	// KindClear tells the viewer to reset its display.
	KindClear

	// KindClosed tells the viewer the agent's terminal is gone. It is the
	// last message a viewer receives before its channel closes.
	KindClosed
)

// Message is one unit of the terminal channel protocol.
type Message struct {
	Kind MessageKind
	Data []byte
}

// viewer is one subscribed connection. Slow viewers that fall behind the
// queue capacity lose chunks rather than blocking the broadcast.
type viewer struct {
	id string
	ch chan Message
}

// session holds one agent's ring buffer and its viewers.
type session struct {
	agentID    string
	buffer     []Message // ring of KindData/KindClear entries
	start      int
	count      int
	viewers    map[string]*viewer
	emptySince time.Time
}

// Hub fans out agent terminal output. Safe for concurrent use.
type Hub struct {
	mu          sync.Mutex
	sessions    map[string]*session
	bus         *event.Bus
	log         *logging.Logger
	bufferSize  int
	idleTimeout time.Duration
}

// Option configures a Hub.
type Option func(*Hub)

// WithBufferSize overrides the per-session chunk retention.
func WithBufferSize(n int) Option {
	return func(h *Hub) { h.bufferSize = n }
}

// WithIdleTimeout overrides the zero-viewer removal window.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *Hub) { h.idleTimeout = d }
}

// New creates a hub publishing terminal events on bus.
func New(bus *event.Bus, log *logging.Logger, opts ...Option) *Hub {
	if log == nil {
		log = logging.NopLogger()
	}
	h := &Hub{
		sessions:    make(map[string]*session),
		bus:         bus,
		log:         log,
		bufferSize:  DefaultBufferSize,
		idleTimeout: DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Append buffers a chunk of agent output and broadcasts it to every
// connected viewer. The session is created on first append.
func (h *Hub) Append(agentID string, data []byte) {
	if len(data) == 0 {
		return
	}

	// Broadcast keeps its own copy; callers may reuse the slice.
	chunk := make([]byte, len(data))
	copy(chunk, data)
	msg := Message{Kind: KindData, Data: chunk}

	h.mu.Lock()
	s := h.ensureSession(agentID)
	s.push(msg, h.bufferSize)
	for _, v := range s.viewers {
		v.send(msg)
	}
	h.mu.Unlock()

	if h.bus != nil {
		h.bus.Publish(event.NewTerminalDataEvent(agentID, chunk))
	}
}

// Connect subscribes a viewer to an agent's terminal. The returned channel
// first delivers the full buffered history, then live messages. The cancel
// function disconnects the viewer and closes the channel. Connecting
// before the agent's first output creates the session, so early viewers
// still get the replay-then-live stream once output starts.
func (h *Hub) Connect(agentID string) (<-chan Message, func()) {
	h.mu.Lock()
	s := h.ensureSession(agentID)

	v := &viewer{
		id: uuid.NewString(),
		ch: make(chan Message, h.bufferSize+viewerQueueSlack),
	}

	// Replay history before registering for live traffic, all under the
	// lock, so no live chunk can interleave with the replay.
	for i := 0; i < s.count; i++ {
		v.ch <- s.buffer[(s.start+i)%len(s.buffer)]
	}
	s.viewers[v.id] = v
	s.emptySince = time.Time{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		cur, ok := h.sessions[agentID]
		if !ok {
			return
		}
		if _, registered := cur.viewers[v.id]; !registered {
			return
		}
		delete(cur.viewers, v.id)
		close(v.ch)
		if len(cur.viewers) == 0 {
			cur.emptySince = time.Now()
		}
	}
	return v.ch, cancel
}

// Clear empties an agent's buffer and tells viewers to reset.
func (h *Hub) Clear(agentID string) {
	h.mu.Lock()
	s, ok := h.sessions[agentID]
	if ok {
		s.start, s.count = 0, 0
		for _, v := range s.viewers {
			v.send(Message{Kind: KindClear})
		}
	}
	h.mu.Unlock()

	if ok && h.bus != nil {
		h.bus.Publish(event.NewTerminalClearEvent(agentID))
	}
}

// Close removes an agent's session, notifying still-connected viewers
// before their channels close.
func (h *Hub) Close(agentID string) {
	h.mu.Lock()
	s, ok := h.sessions[agentID]
	if ok {
		h.removeSessionLocked(s)
	}
	h.mu.Unlock()

	if ok && h.bus != nil {
		h.bus.Publish(event.NewTerminalClosedEvent(agentID))
	}
}

// ViewerCount returns the number of viewers connected to an agent.
func (h *Hub) ViewerCount(agentID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[agentID]; ok {
		return len(s.viewers)
	}
	return 0
}

// SessionCount returns the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Run garbage-collects idle sessions until ctx is done. Sessions with zero
// viewers for the idle window are removed.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.idleTimeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweepIdle()
		}
	}
}

// sweepIdle removes sessions whose zero-viewer window has elapsed.
func (h *Hub) sweepIdle() {
	cutoff := time.Now().Add(-h.idleTimeout)

	h.mu.Lock()
	var removed []string
	for id, s := range h.sessions {
		if len(s.viewers) == 0 && !s.emptySince.IsZero() && s.emptySince.Before(cutoff) {
			h.removeSessionLocked(s)
			removed = append(removed, id)
		}
	}
	h.mu.Unlock()

	for _, id := range removed {
		h.log.Info("removed idle terminal session", "agent", id)
		if h.bus != nil {
			h.bus.Publish(event.NewTerminalClosedEvent(id))
		}
	}
}

// removeSessionLocked tears down a session. Caller holds h.mu.
func (h *Hub) removeSessionLocked(s *session) {
	for _, v := range s.viewers {
		v.send(Message{Kind: KindClosed})
		close(v.ch)
	}
	delete(h.sessions, s.agentID)
}

// ensureSession returns the session for agentID, creating it if needed.
// Caller holds h.mu.
func (h *Hub) ensureSession(agentID string) *session {
	if s, ok := h.sessions[agentID]; ok {
		return s
	}
	s := &session{
		agentID:    agentID,
		buffer:     make([]Message, h.bufferSize),
		viewers:    make(map[string]*viewer),
		emptySince: time.Now(),
	}
	h.sessions[agentID] = s
	return s
}

// push appends to the ring, evicting the oldest chunk when full.
func (s *session) push(msg Message, size int) {
	if s.count < size {
		s.buffer[(s.start+s.count)%size] = msg
		s.count++
		return
	}
	s.buffer[s.start] = msg
	s.start = (s.start + 1) % size
}

// send delivers without blocking; a full queue drops the message.
func (v *viewer) send(msg Message) {
	select {
	case v.ch <- msg:
	default:
	}
}
