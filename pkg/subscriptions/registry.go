// Package subscriptions tracks which topics the client wants pushed
// updates for and replays them after every reconnect.
package subscriptions

import (
	"sort"
	"sync"

	"github.com/droidfleet/fleetsync/pkg/logger"
	"github.com/droidfleet/fleetsync/pkg/models"
)

// Sender is the outbound surface the registry needs; satisfied by
// *transport.Channel.
type Sender interface {
	Send(msg models.Message) error
}

// Registry is an idempotent topic subscription set that survives
// reconnects.
type Registry struct {
	sender Sender
	log    logger.Logger

	mu     sync.Mutex
	topics map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(sender Sender, log logger.Logger) *Registry {
	return &Registry{
		sender: sender,
		log:    log,
		topics: make(map[string]struct{}),
	}
}

// Subscribe adds the topic to the set and, if connected, sends a subscribe
// frame. Subscribing to an already-subscribed topic does not error and
// sends nothing.
func (r *Registry) Subscribe(topic string) error {
	r.mu.Lock()

	if _, ok := r.topics[topic]; ok {
		r.mu.Unlock()
		return nil
	}

	r.topics[topic] = struct{}{}
	r.mu.Unlock()

	return r.sendControl(models.MessageTypeSubscribe, topic)
}

// Unsubscribe removes the topic and, if connected, sends an unsubscribe
// frame.
func (r *Registry) Unsubscribe(topic string) error {
	r.mu.Lock()

	if _, ok := r.topics[topic]; !ok {
		r.mu.Unlock()
		return nil
	}

	delete(r.topics, topic)
	r.mu.Unlock()

	return r.sendControl(models.MessageTypeUnsubscribe, topic)
}

// Topics returns a sorted snapshot of the current set.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		out = append(out, topic)
	}

	sort.Strings(out)

	return out
}

// Replay re-issues one subscribe frame per topic in the set. Called on
// every transition into Open. Topics are independent, so order does not
// matter and a failed send does not stop the rest.
func (r *Registry) Replay() {
	for _, topic := range r.Topics() {
		if err := r.sendControl(models.MessageTypeSubscribe, topic); err != nil {
			r.log.Warn().Err(err).Str("topic", topic).Msg("Subscription replay failed")
		}
	}
}

func (r *Registry) sendControl(msgType, topic string) error {
	msg, err := models.NewMessage(msgType, models.SubscribePayload{Topic: topic})
	if err != nil {
		return err
	}

	if err := r.sender.Send(msg); err != nil {
		// Not connected is fine: the set is the source of truth and the
		// topic will be replayed once the channel opens.
		r.log.Debug().Err(err).Str("topic", topic).Msg("Subscription control frame not sent")
		return nil
	}

	return nil
}
