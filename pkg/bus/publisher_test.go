package bus

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droidfleet/fleetsync/pkg/fleet"
	"github.com/droidfleet/fleetsync/pkg/logger"
	"github.com/droidfleet/fleetsync/pkg/models"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	pubErr   error
	drained  bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.pubErr != nil {
		return f.pubErr
	}

	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)

	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestPublishChangeSubjectAndPayload(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "", logger.NewTestLogger())

	p.PublishChange(fleet.Change{
		Kind:   fleet.ChangeUpdated,
		Device: models.Device{ID: "d1", Name: "Pixel 8", Status: models.DeviceStatusOnline},
	})

	require.Len(t, conn.subjects, 1)
	assert.Equal(t, "fleet.devices.d1.updated", conn.subjects[0])

	var event struct {
		Kind   fleet.ChangeKind `json:"kind"`
		Device models.Device    `json:"device"`
	}

	require.NoError(t, json.Unmarshal(conn.payloads[0], &event))
	assert.Equal(t, fleet.ChangeUpdated, event.Kind)
	assert.Equal(t, "d1", event.Device.ID)
	assert.Equal(t, models.DeviceStatusOnline, event.Device.Status)
}

func TestPublishChangeCustomPrefix(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "mdm.sync", logger.NewTestLogger())

	p.PublishChange(fleet.Change{
		Kind:   fleet.ChangeRemoved,
		Device: models.Device{ID: "d2"},
	})

	require.Len(t, conn.subjects, 1)
	assert.Equal(t, "mdm.sync.d2.removed", conn.subjects[0])
}

func TestPublishChangeFailureIsSwallowed(t *testing.T) {
	conn := &fakeConn{pubErr: errors.New("nats: connection closed")}
	p := NewPublisher(conn, "", logger.NewTestLogger())

	assert.NotPanics(t, func() {
		p.PublishChange(fleet.Change{Kind: fleet.ChangeUpdated, Device: models.Device{ID: "d1"}})
	})
}

func TestCloseDrains(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "", logger.NewTestLogger())

	require.NoError(t, p.Close())
	assert.True(t, conn.drained)
}
