// Package platform defines the transport interfaces and the registry that
// binds roomdigest to the messaging platforms of its host. Capabilities are
// modeled as optional interfaces: core code type-asserts for TextSender,
// MediaSender, Reactor or HistoryFetcher instead of probing with reflection.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/selwynd/roomdigest/pkg/roomdigest/analysis"
)

// Transport is the minimal contract every registered platform handle meets.
type Transport interface {
	// Name returns the handle identifier (unique per registration).
	Name() string

	// Protocol returns the messaging protocol served (e.g. "matrix").
	Protocol() string

	// Connected reports whether the handle is currently usable.
	Connected() bool
}

// TextSender sends plain-text messages.
type TextSender interface {
	Transport
	SendText(ctx context.Context, roomID, body string) error
}

// MediaSender uploads binary content and sends media messages.
type MediaSender interface {
	Transport

	// UploadBinary stores bytes on the platform and returns a content
	// reference usable in SendMedia.
	UploadBinary(ctx context.Context, data []byte, mimeType, filename string) (string, error)

	// SendMedia sends previously uploaded content to a room.
	SendMedia(ctx context.Context, roomID, contentRef, filename, mimeType string) error
}

// Reactor reacts to messages with an emoji.
type Reactor interface {
	Transport
	React(ctx context.Context, roomID, eventID, emoji string) error
}

// HistoryFetcher fetches message history and lists joined rooms.
type HistoryFetcher interface {
	Transport

	// FetchMessages returns the room history for the last sinceDays days,
	// oldest first.
	FetchMessages(ctx context.Context, roomID string, sinceDays int) ([]analysis.Message, error)

	// JoinedRooms lists the rooms this handle participates in.
	JoinedRooms(ctx context.Context) ([]string, error)
}

// ErrNoTransport means no registered handle could serve the request.
var ErrNoTransport = errors.New("platform: no usable transport")

// Registry tracks the platform handles registered by the host. Handles come
// and go with connection churn, so lookups by recorded ID may go stale;
// ResolveForProtocol transparently redirects to a sibling handle serving
// the same protocol.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
	logger     *slog.Logger
}

// NewRegistry creates an empty transport registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		transports: make(map[string]Transport),
		logger:     logger.With("component", "platform"),
	}
}

// Register adds a transport handle under the given platform ID.
func (r *Registry) Register(id string, t Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.transports[id]; exists {
		return fmt.Errorf("platform %q already registered", id)
	}
	r.transports[id] = t
	r.logger.Info("platform registered", "platform", id, "protocol", t.Protocol())
	return nil
}

// Unregister removes a handle, typically on disconnect.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
	r.logger.Info("platform unregistered", "platform", id)
}

// Get returns the handle registered under id.
func (r *Registry) Get(id string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[id]
	return t, ok
}

// All returns a snapshot of the registered handles.
func (r *Registry) All() map[string]Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]Transport, len(r.transports))
	for k, v := range r.transports {
		snapshot[k] = v
	}
	return snapshot
}

// ResolveForProtocol returns a connected handle for the given platform ID,
// falling back to any other registered handle serving the same protocol
// when the recorded one is gone or disconnected. The substitution is logged
// so operators can see the redirect.
func (r *Registry) ResolveForProtocol(id, protocol string) (string, Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.transports[id]; ok && t.Connected() && t.Protocol() == protocol {
		return id, t, nil
	}

	for candidateID, t := range r.transports {
		if candidateID == id {
			continue
		}
		if t.Protocol() == protocol && t.Connected() {
			r.logger.Warn("platform handle stale, redirecting",
				"requested", id,
				"substitute", candidateID,
				"protocol", protocol,
			)
			return candidateID, t, nil
		}
	}

	return "", nil, fmt.Errorf("%w for protocol %q (requested %q)", ErrNoTransport, protocol, id)
}

// HistoryFetchers returns the registered handles that can fetch history,
// keyed by platform ID.
func (r *Registry) HistoryFetchers() map[string]HistoryFetcher {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]HistoryFetcher)
	for id, t := range r.transports {
		if hf, ok := t.(HistoryFetcher); ok && t.Connected() {
			out[id] = hf
		}
	}
	return out
}
