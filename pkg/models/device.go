/*
 * Copyright 2026 DroidFleet Labs.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"time"
)

// DeviceStatus is the reported connectivity state of a managed device.
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
)

// Device represents one managed Android endpoint as mirrored on the client.
// The ID is assigned at enrollment and never reused.
type Device struct {
	ID string `json:"id"`

	// Descriptive fields, set at enrollment and rarely mutated.
	Name           string `json:"name,omitempty"`
	Model          string `json:"model,omitempty"`
	Manufacturer   string `json:"manufacturer,omitempty"`
	OSVersion      string `json:"os_version,omitempty"`
	ConnectionType string `json:"connection_type,omitempty"`
	IPAddress      string `json:"ip_address,omitempty"`

	// Live fields, merged on every push update.
	Status       DeviceStatus `json:"status,omitempty"`
	LastSeen     time.Time    `json:"last_seen,omitempty"`
	BatteryLevel int          `json:"battery_level"`
	StorageUsed  int          `json:"storage_used"`

	// Reported only once the device starts shipping metrics.
	CPUUsage    *float64 `json:"cpu_usage,omitempty"`
	MemoryUsage *float64 `json:"memory_usage,omitempty"`
}

// DeviceUpdate is a partial update to a device. Only non-nil fields are
// applied, so a live-metric push never erases descriptive fields.
type DeviceUpdate struct {
	Name           *string       `json:"name,omitempty"`
	Model          *string       `json:"model,omitempty"`
	Manufacturer   *string       `json:"manufacturer,omitempty"`
	OSVersion      *string       `json:"os_version,omitempty"`
	ConnectionType *string       `json:"connection_type,omitempty"`
	IPAddress      *string       `json:"ip_address,omitempty"`
	Status         *DeviceStatus `json:"status,omitempty"`
	LastSeen       *time.Time    `json:"last_seen,omitempty"`
	BatteryLevel   *int          `json:"battery_level,omitempty"`
	StorageUsed    *int          `json:"storage_used,omitempty"`
	CPUUsage       *float64      `json:"cpu_usage,omitempty"`
	MemoryUsage    *float64      `json:"memory_usage,omitempty"`
}

// Fields returns the names of the fields this update touches, in the
// canonical field-name vocabulary used by the store's revision tracking.
func (u *DeviceUpdate) Fields() []string {
	fields := make([]string, 0, 12)

	if u.Name != nil {
		fields = append(fields, FieldName)
	}
	if u.Model != nil {
		fields = append(fields, FieldModel)
	}
	if u.Manufacturer != nil {
		fields = append(fields, FieldManufacturer)
	}
	if u.OSVersion != nil {
		fields = append(fields, FieldOSVersion)
	}
	if u.ConnectionType != nil {
		fields = append(fields, FieldConnectionType)
	}
	if u.IPAddress != nil {
		fields = append(fields, FieldIPAddress)
	}
	if u.Status != nil {
		fields = append(fields, FieldStatus)
	}
	if u.LastSeen != nil {
		fields = append(fields, FieldLastSeen)
	}
	if u.BatteryLevel != nil {
		fields = append(fields, FieldBatteryLevel)
	}
	if u.StorageUsed != nil {
		fields = append(fields, FieldStorageUsed)
	}
	if u.CPUUsage != nil {
		fields = append(fields, FieldCPUUsage)
	}
	if u.MemoryUsage != nil {
		fields = append(fields, FieldMemoryUsage)
	}

	return fields
}

// IsEmpty reports whether the update touches no fields.
func (u *DeviceUpdate) IsEmpty() bool {
	return len(u.Fields()) == 0
}

// Canonical field names shared by DeviceUpdate and the store's per-field
// revision tracking.
const (
	FieldName           = "name"
	FieldModel          = "model"
	FieldManufacturer   = "manufacturer"
	FieldOSVersion      = "os_version"
	FieldConnectionType = "connection_type"
	FieldIPAddress      = "ip_address"
	FieldStatus         = "status"
	FieldLastSeen       = "last_seen"
	FieldBatteryLevel   = "battery_level"
	FieldStorageUsed    = "storage_used"
	FieldCPUUsage       = "cpu_usage"
	FieldMemoryUsage    = "memory_usage"
)

// Apply merges the update into the device, overwriting only the fields the
// update carries.
func (u *DeviceUpdate) Apply(d *Device) {
	if u.Name != nil {
		d.Name = *u.Name
	}
	if u.Model != nil {
		d.Model = *u.Model
	}
	if u.Manufacturer != nil {
		d.Manufacturer = *u.Manufacturer
	}
	if u.OSVersion != nil {
		d.OSVersion = *u.OSVersion
	}
	if u.ConnectionType != nil {
		d.ConnectionType = *u.ConnectionType
	}
	if u.IPAddress != nil {
		d.IPAddress = *u.IPAddress
	}
	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.LastSeen != nil {
		d.LastSeen = *u.LastSeen
	}
	if u.BatteryLevel != nil {
		d.BatteryLevel = *u.BatteryLevel
	}
	if u.StorageUsed != nil {
		d.StorageUsed = *u.StorageUsed
	}
	if u.CPUUsage != nil {
		v := *u.CPUUsage
		d.CPUUsage = &v
	}
	if u.MemoryUsage != nil {
		v := *u.MemoryUsage
		d.MemoryUsage = &v
	}
}

// CaptureFrom returns an update holding the device's current values for
// exactly the fields this update touches. The store uses it to build the
// undo record for an optimistic mutation.
func (u *DeviceUpdate) CaptureFrom(d *Device) *DeviceUpdate {
	captured := &DeviceUpdate{}

	if u.Name != nil {
		v := d.Name
		captured.Name = &v
	}
	if u.Model != nil {
		v := d.Model
		captured.Model = &v
	}
	if u.Manufacturer != nil {
		v := d.Manufacturer
		captured.Manufacturer = &v
	}
	if u.OSVersion != nil {
		v := d.OSVersion
		captured.OSVersion = &v
	}
	if u.ConnectionType != nil {
		v := d.ConnectionType
		captured.ConnectionType = &v
	}
	if u.IPAddress != nil {
		v := d.IPAddress
		captured.IPAddress = &v
	}
	if u.Status != nil {
		v := d.Status
		captured.Status = &v
	}
	if u.LastSeen != nil {
		v := d.LastSeen
		captured.LastSeen = &v
	}
	if u.BatteryLevel != nil {
		v := d.BatteryLevel
		captured.BatteryLevel = &v
	}
	if u.StorageUsed != nil {
		v := d.StorageUsed
		captured.StorageUsed = &v
	}
	if u.CPUUsage != nil {
		if d.CPUUsage != nil {
			v := *d.CPUUsage
			captured.CPUUsage = &v
		} else {
			zero := 0.0
			captured.CPUUsage = &zero
		}
	}
	if u.MemoryUsage != nil {
		if d.MemoryUsage != nil {
			v := *d.MemoryUsage
			captured.MemoryUsage = &v
		} else {
			zero := 0.0
			captured.MemoryUsage = &zero
		}
	}

	return captured
}

// Project returns a copy of the update restricted to the given field names.
func (u *DeviceUpdate) Project(fields []string) *DeviceUpdate {
	keep := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		keep[f] = struct{}{}
	}

	out := &DeviceUpdate{}

	if _, ok := keep[FieldName]; ok {
		out.Name = u.Name
	}
	if _, ok := keep[FieldModel]; ok {
		out.Model = u.Model
	}
	if _, ok := keep[FieldManufacturer]; ok {
		out.Manufacturer = u.Manufacturer
	}
	if _, ok := keep[FieldOSVersion]; ok {
		out.OSVersion = u.OSVersion
	}
	if _, ok := keep[FieldConnectionType]; ok {
		out.ConnectionType = u.ConnectionType
	}
	if _, ok := keep[FieldIPAddress]; ok {
		out.IPAddress = u.IPAddress
	}
	if _, ok := keep[FieldStatus]; ok {
		out.Status = u.Status
	}
	if _, ok := keep[FieldLastSeen]; ok {
		out.LastSeen = u.LastSeen
	}
	if _, ok := keep[FieldBatteryLevel]; ok {
		out.BatteryLevel = u.BatteryLevel
	}
	if _, ok := keep[FieldStorageUsed]; ok {
		out.StorageUsed = u.StorageUsed
	}
	if _, ok := keep[FieldCPUUsage]; ok {
		out.CPUUsage = u.CPUUsage
	}
	if _, ok := keep[FieldMemoryUsage]; ok {
		out.MemoryUsage = u.MemoryUsage
	}

	return out
}

// CloneDevice returns a deep copy so callers can never mutate store state
// through a returned record.
func CloneDevice(src *Device) *Device {
	if src == nil {
		return nil
	}

	dst := *src

	if src.CPUUsage != nil {
		v := *src.CPUUsage
		dst.CPUUsage = &v
	}
	if src.MemoryUsage != nil {
		v := *src.MemoryUsage
		dst.MemoryUsage = &v
	}

	return &dst
}
