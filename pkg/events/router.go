// Package events classifies inbound push messages by type and dispatches
// them to registered handlers.
package events

import (
	"sync"

	"github.com/droidfleet/fleetsync/pkg/logger"
	"github.com/droidfleet/fleetsync/pkg/models"
)

// Handler consumes one inbound message.
type Handler func(msg models.Message)

// Router fans a message out to handlers registered for its exact type and
// then to wildcard handlers, so generic observers see all traffic without
// enumerating every type. Unknown types reach wildcard handlers only and
// are not an error.
type Router struct {
	log logger.Logger

	mu       sync.RWMutex
	handlers map[string]map[int]Handler
	nextID   int
}

// NewRouter creates an empty router.
func NewRouter(log logger.Logger) *Router {
	return &Router{
		log:      log,
		handlers: make(map[string]map[int]Handler),
	}
}

// Register adds a handler for the given message type (models.Wildcard for
// all types) and returns a token for Unregister.
func (r *Router) Register(msgType string, h Handler) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID

	bucket := r.handlers[msgType]
	if bucket == nil {
		bucket = make(map[int]Handler)
		r.handlers[msgType] = bucket
	}

	bucket[id] = h

	return id
}

// Unregister removes a previously registered handler.
func (r *Router) Unregister(msgType string, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bucket, ok := r.handlers[msgType]; ok {
		delete(bucket, id)

		if len(bucket) == 0 {
			delete(r.handlers, msgType)
		}
	}
}

// Dispatch delivers the message to exact-type handlers, then wildcard
// handlers. Each handler runs inside its own recover boundary: one
// panicking handler must not prevent delivery to the rest, and must never
// propagate into the transport's read loop.
func (r *Router) Dispatch(msg models.Message) {
	r.mu.RLock()

	handlers := make([]Handler, 0, 8)
	ids := make([]int, 0, 8)

	for id, h := range r.handlers[msg.Type] {
		handlers = append(handlers, h)
		ids = append(ids, id)
	}

	if msg.Type != models.Wildcard {
		for id, h := range r.handlers[models.Wildcard] {
			handlers = append(handlers, h)
			ids = append(ids, id)
		}
	}

	r.mu.RUnlock()

	for i, h := range handlers {
		r.dispatchOne(msg, ids[i], h)
	}
}

func (r *Router) dispatchOne(msg models.Message, id int, h Handler) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Str("type", msg.Type).
				Int("handler_id", id).
				Interface("panic", rec).
				Msg("Message handler panicked")
		}
	}()

	h(msg)
}
