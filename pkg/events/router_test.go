package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/droidfleet/fleetsync/pkg/logger"
	"github.com/droidfleet/fleetsync/pkg/models"
)

func newTestRouter() *Router {
	return NewRouter(logger.NewTestLogger())
}

func TestDispatchExactTypeThenWildcard(t *testing.T) {
	r := newTestRouter()

	var got []string

	r.Register(models.MessageTypeDeviceUpdate, func(models.Message) { got = append(got, "exact") })
	r.Register(models.Wildcard, func(models.Message) { got = append(got, "wildcard") })

	r.Dispatch(models.Message{Type: models.MessageTypeDeviceUpdate})

	assert.Equal(t, []string{"exact", "wildcard"}, got)
}

func TestDispatchUnknownTypeReachesWildcardOnly(t *testing.T) {
	r := newTestRouter()

	var exact, wildcard int

	r.Register(models.MessageTypeDeviceUpdate, func(models.Message) { exact++ })
	r.Register(models.Wildcard, func(models.Message) { wildcard++ })

	// Forward compatibility: a server-added type is not an error.
	r.Dispatch(models.Message{Type: "policy_drift"})

	assert.Zero(t, exact)
	assert.Equal(t, 1, wildcard)
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	r := newTestRouter()

	var delivered int

	r.Register(models.MessageTypeSystemAlert, func(models.Message) { panic("boom") })
	r.Register(models.MessageTypeSystemAlert, func(models.Message) { delivered++ })
	r.Register(models.Wildcard, func(models.Message) { delivered++ })

	assert.NotPanics(t, func() {
		r.Dispatch(models.Message{Type: models.MessageTypeSystemAlert})
	})

	assert.Equal(t, 2, delivered)
}

func TestUnregister(t *testing.T) {
	r := newTestRouter()

	var calls int

	id := r.Register(models.MessageTypeAIInsight, func(models.Message) { calls++ })

	r.Dispatch(models.Message{Type: models.MessageTypeAIInsight})
	r.Unregister(models.MessageTypeAIInsight, id)
	r.Dispatch(models.Message{Type: models.MessageTypeAIInsight})

	assert.Equal(t, 1, calls)
}
