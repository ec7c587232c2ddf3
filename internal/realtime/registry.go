// Package realtime tracks live Server-Sent Event streams per channel and
// fans events out to them.
package realtime

import (
	"sync"

	"github.com/eldtechnologies/greenhub/internal/metrics"
)

// Channel is one of the independent broadcast namespaces.
type Channel string

const (
	ChannelIoT           Channel = "iot"
	ChannelNotifications Channel = "notifications"
	ChannelChat          Channel = "chat"
)

// Channels lists every known channel.
var Channels = []Channel{ChannelIoT, ChannelNotifications, ChannelChat}

// ParseChannel maps a path segment to a Channel.
func ParseChannel(s string) (Channel, bool) {
	for _, c := range Channels {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Handle is one client's open push connection.
type Handle interface {
	// Send queues an encoded frame. It must not block.
	Send(frame []byte) error
	// Close releases the connection. Safe to call more than once.
	Close()
}

// Registry maps principals to their open handles, per channel.
type Registry struct {
	mu       sync.RWMutex
	channels map[Channel]map[int64]map[Handle]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{channels: make(map[Channel]map[int64]map[Handle]struct{})}
	for _, c := range Channels {
		r.channels[c] = make(map[int64]map[Handle]struct{})
	}
	return r
}

// Register adds h to the principal's set on channel c.
func (r *Registry) Register(c Channel, principalID int64, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byPrincipal, ok := r.channels[c]
	if !ok {
		byPrincipal = make(map[int64]map[Handle]struct{})
		r.channels[c] = byPrincipal
	}
	set, ok := byPrincipal[principalID]
	if !ok {
		set = make(map[Handle]struct{})
		byPrincipal[principalID] = set
	}
	if _, dup := set[h]; dup {
		return
	}
	set[h] = struct{}{}
	metrics.StreamConnections.WithLabelValues(string(c)).Inc()
}

// Unregister removes h. The principal's entry is dropped once its set is
// empty. Removing an unknown handle is a no-op.
func (r *Registry) Unregister(c Channel, principalID int64, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.channels[c][principalID]
	if !ok {
		return false
	}
	if _, ok := set[h]; !ok {
		return false
	}
	delete(set, h)
	if len(set) == 0 {
		delete(r.channels[c], principalID)
	}
	metrics.StreamConnections.WithLabelValues(string(c)).Dec()
	return true
}

// HandlesFor returns a snapshot of the principal's handles on channel c.
// The returned slice is safe to iterate while the registry changes.
func (r *Registry) HandlesFor(c Channel, principalID int64) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.channels[c][principalID]
	if len(set) == 0 {
		return nil
	}
	handles := make([]Handle, 0, len(set))
	for h := range set {
		handles = append(handles, h)
	}
	return handles
}

// Len returns the number of principals with at least one handle on c.
func (r *Registry) Len(c Channel) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[c])
}

// Has reports whether the principal has an entry on c.
func (r *Registry) Has(c Channel, principalID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[c][principalID]
	return ok
}

// Connections returns the number of open handles on c.
func (r *Registry) Connections(c Channel) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, set := range r.channels[c] {
		n += len(set)
	}
	return n
}

// Shutdown closes and forgets every handle on every channel.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c, byPrincipal := range r.channels {
		for _, set := range byPrincipal {
			for h := range set {
				h.Close()
			}
		}
		r.channels[c] = make(map[int64]map[Handle]struct{})
		metrics.StreamConnections.WithLabelValues(string(c)).Set(0)
	}
}
