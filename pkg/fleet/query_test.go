package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droidfleet/fleetsync/pkg/models"
)

func seedFleet(s *Store) {
	s.ApplyFullRefresh([]models.Device{
		{ID: "d1", Name: "Pixel 8", Model: "GKWS6", OSVersion: "14", Status: models.DeviceStatusOnline},
		{ID: "d2", Name: "Galaxy S24", Model: "SM-S921", OSVersion: "14", Status: models.DeviceStatusOffline},
		{ID: "d3", Name: "Pixel 7a", Model: "GHL1X", OSVersion: "13", Status: models.DeviceStatusOnline},
		{ID: "d4", Name: "Xperia 1 V", Model: "XQ-DQ72", OSVersion: "13", Status: models.DeviceStatusOffline},
		{ID: "d5", Name: "Pixel Tablet", Model: "GTU8P", OSVersion: "14", Status: models.DeviceStatusOnline},
	})
}

func TestQueryStatusFilter(t *testing.T) {
	s := newTestStore()
	seedFleet(s)

	page := s.Query(Query{Status: models.DeviceStatusOnline})
	assert.Equal(t, 3, page.Total)

	for _, d := range page.Devices {
		assert.Equal(t, models.DeviceStatusOnline, d.Status)
	}
}

func TestQueryFreeTextSearch(t *testing.T) {
	s := newTestStore()
	seedFleet(s)

	tests := []struct {
		name   string
		search string
		want   []string
	}{
		{"by name", "pixel", []string{"d1", "d3", "d5"}},
		{"by model", "sm-s921", []string{"d2"}},
		{"by os version", "13", []string{"d3", "d4"}},
		{"no match", "iphone", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := s.Query(Query{Search: tt.search})

			ids := make([]string, 0, len(page.Devices))
			for _, d := range page.Devices {
				ids = append(ids, d.ID)
			}

			assert.Equal(t, tt.want, nilIfEmpty(ids))
		})
	}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}

	return s
}

func TestQueryPagination(t *testing.T) {
	s := newTestStore()
	seedFleet(s)

	page1 := s.Query(Query{Page: 1, PageSize: 2})
	require.Len(t, page1.Devices, 2)
	assert.Equal(t, 5, page1.Total)
	assert.Equal(t, "d1", page1.Devices[0].ID)

	page3 := s.Query(Query{Page: 3, PageSize: 2})
	require.Len(t, page3.Devices, 1)
	assert.Equal(t, "d5", page3.Devices[0].ID)

	beyond := s.Query(Query{Page: 9, PageSize: 2})
	assert.Empty(t, beyond.Devices)
	assert.Equal(t, 5, beyond.Total)
}

func TestQueryDoesNotMutateStore(t *testing.T) {
	s := newTestStore()
	seedFleet(s)

	before := s.Snapshot()

	s.Query(Query{Status: models.DeviceStatusOnline, Search: "pixel", Page: 2, PageSize: 1})

	assert.Equal(t, before, s.Snapshot())
}

func TestSummarize(t *testing.T) {
	s := newTestStore()
	seedFleet(s)

	sum := s.Summarize()
	assert.Equal(t, Summary{Total: 5, Online: 3, Offline: 2}, sum)
}
