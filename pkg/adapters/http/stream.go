package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/go-chi/chi/v5"
)

const streamBuffer = 10

// StreamManager fans checkpoint diffs out to SSE subscribers of a session.
// Subscribers that fall behind lose diffs rather than stall the engine.
type StreamManager struct {
	mu     sync.RWMutex
	subs   map[string][]chan string
	logger *slog.Logger
}

func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{subs: map[string][]chan string{}, logger: logger}
}

func streamKey(tenantID, sessionID string) string {
	return tenantID + "/" + sessionID
}

// Hooks publishes every checkpoint diff to the session's subscribers.
func (sm *StreamManager) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnCheckpoint: func(_ context.Context, e *domain.CheckpointEvent) {
			if e.Diff == nil {
				return
			}
			raw, err := json.Marshal(e.Diff)
			if err != nil {
				sm.logger.Error("Failed to encode session diff", "session_id", e.SessionID, "err", err)
				return
			}
			sm.Broadcast(e.TenantID, e.SessionID, string(raw))
		},
	}
}

// Subscribe registers a listener for one session. The returned func removes
// it and closes the channel.
func (sm *StreamManager) Subscribe(tenantID, sessionID string) (<-chan string, func()) {
	key := streamKey(tenantID, sessionID)
	ch := make(chan string, streamBuffer)

	sm.mu.Lock()
	sm.subs[key] = append(sm.subs[key], ch)
	sm.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			list := sm.subs[key]
			for i, c := range list {
				if c == ch {
					list = append(list[:i], list[i+1:]...)
					break
				}
			}
			if len(list) == 0 {
				delete(sm.subs, key)
			} else {
				sm.subs[key] = list
			}
			close(ch)
		})
	}
}

// Broadcast delivers msg to every subscriber of the session without blocking.
func (sm *StreamManager) Broadcast(tenantID, sessionID, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	dropped := 0
	for _, ch := range sm.subs[streamKey(tenantID, sessionID)] {
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		sm.logger.Warn("Dropped session diff for slow subscribers", "session_id", sessionID, "subscribers", dropped)
	}
}

func writeEvent(w http.ResponseWriter, event, data string) {
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// SubscribeSession streams checkpoint diffs of one session as server-sent events.
func (s *Server) SubscribeSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming_unsupported", nil)
		return
	}

	updates, cancel := s.Streams.Subscribe(chi.URLParam(r, "tenantID"), chi.URLParam(r, "sessionID"))
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	writeEvent(w, "ready", "connected")

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-updates:
			if !ok {
				return
			}
			writeEvent(w, "checkpoint", msg)
		}
	}
}
