package main

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"
)

// StreamSender defines the minimal interface the hub needs from a stream: the
// ability to push a conversation update to the connected client.
type StreamSender interface {
	Send(*structpb.Value) error
}

// ConnectionHub manages active Subscribe streams. It maps user ids to one or
// more active streams so the server can push conversation updates to every
// currently-connected endpoint of a participant.
type ConnectionHub struct {
	mu      sync.RWMutex
	streams map[string]map[int64]StreamSender
	nextID  int64
}

// NewConnectionHub creates a new hub instance.
func NewConnectionHub() *ConnectionHub {
	return &ConnectionHub{streams: make(map[string]map[int64]StreamSender)}
}

// Register registers a stream for the given user and returns a connection id
// to pass to Unregister when the stream closes.
func (h *ConnectionHub) Register(userID string, s StreamSender) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.streams[userID]; !ok {
		h.streams[userID] = make(map[int64]StreamSender)
	}

	h.nextID++
	id := h.nextID
	h.streams[userID][id] = s
	return id
}

// Unregister removes a previously-registered stream for the given user.
func (h *ConnectionHub) Unregister(userID string, id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.streams[userID]; ok {
		delete(conns, id)
		if len(conns) == 0 {
			delete(h.streams, userID)
		}
	}
}

// Connected reports how many streams the user currently has open.
func (h *ConnectionHub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[userID])
}

// SendToUser sends update to all streams of the user. It returns an error if
// the user is not connected, otherwise the first send error; streams that
// fail are unregistered.
func (h *ConnectionHub) SendToUser(userID string, update *structpb.Value) error {
	// copy under the read lock; Send may block and must not hold it
	h.mu.RLock()
	conns := make(map[int64]StreamSender, len(h.streams[userID]))
	for id, st := range h.streams[userID] {
		conns[id] = st
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("user %s not connected", userID)
	}

	var firstErr error
	var failedIDs []int64

	for id, st := range conns {
		if err := st.Send(update); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failedIDs = append(failedIDs, id)
		}
	}

	for _, id := range failedIDs {
		h.Unregister(userID, id)
	}

	return firstErr
}
