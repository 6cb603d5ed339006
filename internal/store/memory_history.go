package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// MemoryHistory is an in-process history store. Sessions and messages are
// partitioned by tenant; a session id from another tenant is invisible.
type MemoryHistory struct {
	mu       sync.RWMutex
	sessions map[string]map[string][]Message // tenant -> session -> messages (append order)
}

// NewMemoryHistory creates an empty history store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{sessions: make(map[string]map[string][]Message)}
}

func (h *MemoryHistory) CreateSession(_ context.Context, scope tenancy.Scope, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	tenant := h.sessions[scope.TenantID]
	if tenant == nil {
		tenant = make(map[string][]Message)
		h.sessions[scope.TenantID] = tenant
	}
	if _, exists := tenant[sessionID]; !exists {
		tenant[sessionID] = nil
	}
	return nil
}

func (h *MemoryHistory) AppendMessage(_ context.Context, scope tenancy.Scope, msg *Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	tenant := h.sessions[scope.TenantID]
	if tenant == nil {
		return fault.New(fault.NotFound, "session %s not found", msg.SessionID)
	}
	if _, exists := tenant[msg.SessionID]; !exists {
		return fault.New(fault.NotFound, "session %s not found", msg.SessionID)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	tenant[msg.SessionID] = append(tenant[msg.SessionID], *msg)
	return nil
}

func (h *MemoryHistory) ListMessages(_ context.Context, scope tenancy.Scope, sessionID string, limit int, before time.Time) ([]Message, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	tenant := h.sessions[scope.TenantID]
	if tenant == nil {
		return []Message{}, nil
	}
	msgs, exists := tenant[sessionID]
	if !exists {
		return []Message{}, nil
	}

	filtered := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if !before.IsZero() && !m.Timestamp.Before(before) {
			continue
		}
		filtered = append(filtered, m)
	}
	// Newest window, returned ascending.
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	out := make([]Message, len(filtered))
	copy(out, filtered)
	return out, nil
}

func (h *MemoryHistory) Ping(context.Context) error { return nil }
