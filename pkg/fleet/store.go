// Package fleet holds the client-side mirror of the managed device fleet.
// It reconciles three independent update sources: live push events,
// periodic full refresh, and locally issued optimistic mutations.
package fleet

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/droidfleet/fleetsync/pkg/logger"
	"github.com/droidfleet/fleetsync/pkg/models"
)

var (
	// ErrDeviceNotFound is returned when an optimistic mutation targets an
	// unknown device id.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrUnknownCommand is returned by Confirm/Rollback for a correlation
	// id with no pending command.
	ErrUnknownCommand = errors.New("unknown pending command")

	// ErrEmptyMutation is returned when an optimistic mutation touches no
	// fields.
	ErrEmptyMutation = errors.New("empty mutation")
)

// ChangeKind classifies a store change event.
type ChangeKind string

const (
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// Change describes one device change, delivered to the change listener.
type Change struct {
	Kind   ChangeKind
	Device models.Device
}

// entry is one device record plus its revision bookkeeping.
type entry struct {
	device models.Device

	// fieldRev maps field name to the revision that last wrote it. The
	// revision counter is store-wide and strictly increasing, which makes
	// it per-device monotonic and unambiguous across remove/recreate.
	fieldRev map[string]uint64
}

// pendingCommand is the undo record for one in-flight optimistic mutation.
type pendingCommand struct {
	deviceID string
	captured *models.DeviceUpdate // previous field values; nil for removals
	removed  *models.Device       // full record for optimistic removals
	revision uint64               // revision assigned to the optimistic write
}

// Store is the single source of truth for fleet state as observed by the
// client. All writes go through ApplyPush, ApplyFullRefresh, and the
// optimistic begin/confirm/rollback entry points; reads return deep
// copies, never references into store state.
type Store struct {
	log logger.Logger
	now func() time.Time

	mu       sync.Mutex
	rev      uint64
	devices  map[string]*entry
	pending  map[uuid.UUID]*pendingCommand
	onChange func(Change)
}

// NewStore creates an empty store.
func NewStore(log logger.Logger) *Store {
	return &Store{
		log:     log,
		now:     time.Now,
		devices: make(map[string]*entry),
		pending: make(map[uuid.UUID]*pendingCommand),
	}
}

// SetChangeListener registers a callback invoked after every device change,
// outside the store lock. Must be set before concurrent use.
func (s *Store) SetChangeListener(fn func(Change)) {
	s.onChange = fn
}

// ApplyPush merges a partial update into the device record, creating it if
// absent. LastSeen defaults to the time of receipt when the payload does
// not supply its own timestamp.
func (s *Store) ApplyPush(deviceID string, update *models.DeviceUpdate) {
	if deviceID == "" || update == nil {
		return
	}

	u := *update
	if u.LastSeen == nil {
		now := s.now().UTC()
		u.LastSeen = &now
	}

	s.mu.Lock()

	e, ok := s.devices[deviceID]
	if !ok {
		e = &entry{
			device:   models.Device{ID: deviceID},
			fieldRev: make(map[string]uint64),
		}
		s.devices[deviceID] = e
	}

	s.applyLocked(e, &u)
	change := Change{Kind: ChangeUpdated, Device: *models.CloneDevice(&e.device)}

	s.mu.Unlock()

	s.emit(change)
}

// ApplyFullRefresh replaces the collection with the authoritative snapshot.
// This is the only operation permitted to silently delete devices. Pending
// commands for deleted devices are dropped; refreshed fields count as the
// latest writers, so a later rollback will not stomp them.
func (s *Store) ApplyFullRefresh(devices []models.Device) {
	s.mu.Lock()

	seen := make(map[string]struct{}, len(devices))
	changes := make([]Change, 0, len(devices))

	for i := range devices {
		d := devices[i]
		if d.ID == "" {
			continue
		}

		seen[d.ID] = struct{}{}

		e, ok := s.devices[d.ID]
		if !ok {
			e = &entry{fieldRev: make(map[string]uint64)}
			s.devices[d.ID] = e
		}

		s.rev++

		e.device = *models.CloneDevice(&d)
		for _, f := range allFields {
			e.fieldRev[f] = s.rev
		}

		changes = append(changes, Change{Kind: ChangeUpdated, Device: d})
	}

	for id, e := range s.devices {
		if _, ok := seen[id]; ok {
			continue
		}

		changes = append(changes, Change{Kind: ChangeRemoved, Device: *models.CloneDevice(&e.device)})
		delete(s.devices, id)

		for cid, p := range s.pending {
			if p.deviceID == id {
				delete(s.pending, cid)
			}
		}
	}

	s.mu.Unlock()

	for _, c := range changes {
		s.emit(c)
	}
}

// BeginOptimistic records the pre-mutation values of the fields the
// mutation touches, applies the mutation immediately, and returns the
// correlation id used to later Confirm or Rollback it.
func (s *Store) BeginOptimistic(deviceID string, mutation *models.DeviceUpdate) (uuid.UUID, error) {
	if mutation == nil || mutation.IsEmpty() {
		return uuid.Nil, ErrEmptyMutation
	}

	s.mu.Lock()

	e, ok := s.devices[deviceID]
	if !ok {
		s.mu.Unlock()
		return uuid.Nil, ErrDeviceNotFound
	}

	captured := mutation.CaptureFrom(&e.device)
	s.applyLocked(e, mutation)

	id := uuid.New()
	s.pending[id] = &pendingCommand{
		deviceID: deviceID,
		captured: captured,
		revision: s.rev,
	}

	change := Change{Kind: ChangeUpdated, Device: *models.CloneDevice(&e.device)}

	s.mu.Unlock()

	s.emit(change)

	return id, nil
}

// BeginOptimisticRemove deletes the device immediately and records the full
// record so a failed remove command can restore it.
func (s *Store) BeginOptimisticRemove(deviceID string) (uuid.UUID, error) {
	s.mu.Lock()

	e, ok := s.devices[deviceID]
	if !ok {
		s.mu.Unlock()
		return uuid.Nil, ErrDeviceNotFound
	}

	removed := models.CloneDevice(&e.device)
	delete(s.devices, deviceID)

	s.rev++

	id := uuid.New()
	s.pending[id] = &pendingCommand{
		deviceID: deviceID,
		removed:  removed,
		revision: s.rev,
	}

	change := Change{Kind: ChangeRemoved, Device: *removed}

	s.mu.Unlock()

	s.emit(change)

	return id, nil
}

// Confirm discards the pending command; the optimistic state becomes final.
func (s *Store) Confirm(correlationID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[correlationID]; !ok {
		return ErrUnknownCommand
	}

	delete(s.pending, correlationID)

	return nil
}

// Rollback restores the fields captured at BeginOptimistic time, but only
// those not touched by a newer update since: last-applied-wins per field,
// decided by the revision counter. A rollback fully superseded by newer
// revisions is skipped silently.
func (s *Store) Rollback(correlationID uuid.UUID) error {
	s.mu.Lock()

	p, ok := s.pending[correlationID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownCommand
	}

	delete(s.pending, correlationID)

	var change *Change

	switch {
	case p.removed != nil:
		change = s.rollbackRemoveLocked(p)
	default:
		change = s.rollbackFieldsLocked(p)
	}

	s.mu.Unlock()

	if change != nil {
		s.emit(*change)
	}

	return nil
}

func (s *Store) rollbackRemoveLocked(p *pendingCommand) *Change {
	// A push may have re-created the device while the remove was in
	// flight; that newer record wins.
	if _, ok := s.devices[p.deviceID]; ok {
		s.log.Debug().Str("device_id", p.deviceID).Msg("Stale remove rollback skipped")
		return nil
	}

	s.rev++

	e := &entry{
		device:   *models.CloneDevice(p.removed),
		fieldRev: make(map[string]uint64),
	}
	for _, f := range allFields {
		e.fieldRev[f] = s.rev
	}

	s.devices[p.deviceID] = e

	return &Change{Kind: ChangeUpdated, Device: *models.CloneDevice(&e.device)}
}

func (s *Store) rollbackFieldsLocked(p *pendingCommand) *Change {
	e, ok := s.devices[p.deviceID]
	if !ok {
		// Deleted by a full refresh in the meantime; nothing to restore.
		return nil
	}

	restorable := make([]string, 0, 4)

	for _, f := range p.captured.Fields() {
		if e.fieldRev[f] == p.revision {
			restorable = append(restorable, f)
		}
	}

	if len(restorable) == 0 {
		s.log.Debug().Str("device_id", p.deviceID).Msg("Stale rollback skipped")
		return nil
	}

	restore := p.captured.Project(restorable)
	s.applyLocked(e, restore)

	return &Change{Kind: ChangeUpdated, Device: *models.CloneDevice(&e.device)}
}

// HasPending reports whether a correlation id is still in flight.
func (s *Store) HasPending(correlationID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[correlationID]

	return ok
}

// Get returns a copy of one device record.
func (s *Store) Get(deviceID string) (*models.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.devices[deviceID]
	if !ok {
		return nil, false
	}

	return models.CloneDevice(&e.device), true
}

// applyLocked merges an update into an entry and stamps the touched fields
// with a fresh revision.
func (s *Store) applyLocked(e *entry, update *models.DeviceUpdate) {
	s.rev++

	update.Apply(&e.device)

	for _, f := range update.Fields() {
		e.fieldRev[f] = s.rev
	}
}

func (s *Store) emit(c Change) {
	if s.onChange != nil {
		s.onChange(c)
	}
}

var allFields = []string{
	models.FieldName,
	models.FieldModel,
	models.FieldManufacturer,
	models.FieldOSVersion,
	models.FieldConnectionType,
	models.FieldIPAddress,
	models.FieldStatus,
	models.FieldLastSeen,
	models.FieldBatteryLevel,
	models.FieldStorageUsed,
	models.FieldCPUUsage,
	models.FieldMemoryUsage,
}
