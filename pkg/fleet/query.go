package fleet

import (
	"sort"
	"strings"

	"github.com/droidfleet/fleetsync/pkg/models"
)

const defaultPageSize = 25

// Query filters and paginates the fleet snapshot. Zero values mean no
// filter; Page is 1-indexed.
type Query struct {
	Status   models.DeviceStatus
	Search   string
	Page     int
	PageSize int
}

// Page is one page of query results.
type Page struct {
	Devices    []models.Device
	Total      int
	PageNumber int
	PageSize   int
}

// Summary holds fleet-level counts for the dashboard header.
type Summary struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
}

// Snapshot returns a copy of all devices, sorted by id.
func (s *Store) Snapshot() []models.Device {
	s.mu.Lock()

	out := make([]models.Device, 0, len(s.devices))
	for _, e := range s.devices {
		out = append(out, *models.CloneDevice(&e.device))
	}

	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Query filters and paginates the current snapshot. It is a pure function
// over the snapshot and never mutates store state.
func (s *Store) Query(q Query) Page {
	snapshot := s.Snapshot()

	filtered := make([]models.Device, 0, len(snapshot))

	needle := strings.ToLower(strings.TrimSpace(q.Search))

	for _, d := range snapshot {
		if q.Status != "" && d.Status != q.Status {
			continue
		}

		if needle != "" && !matchesSearch(&d, needle) {
			continue
		}

		filtered = append(filtered, d)
	}

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	page := q.Page
	if page <= 0 {
		page = 1
	}

	start := (page - 1) * pageSize
	if start > len(filtered) {
		start = len(filtered)
	}

	end := start + pageSize
	if end > len(filtered) {
		end = len(filtered)
	}

	return Page{
		Devices:    filtered[start:end],
		Total:      len(filtered),
		PageNumber: page,
		PageSize:   pageSize,
	}
}

// Summarize counts devices by status over the current snapshot.
func (s *Store) Summarize() Summary {
	var sum Summary

	for _, d := range s.Snapshot() {
		sum.Total++

		switch d.Status {
		case models.DeviceStatusOnline:
			sum.Online++
		case models.DeviceStatusOffline:
			sum.Offline++
		}
	}

	return sum
}

func matchesSearch(d *models.Device, needle string) bool {
	for _, field := range []string{d.Name, d.Model, d.OSVersion} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}

	return false
}
