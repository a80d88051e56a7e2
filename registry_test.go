package blebridge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryUpsertKeepsOneEntryPerAddress(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Upsert(ScanRecord{Address: "AA:BB", Name: "Sensor1"}))
	assert.True(t, r.Upsert(ScanRecord{Address: "CC:DD", Name: "Lamp"}))
	assert.False(t, r.Upsert(ScanRecord{Address: "aa:bb", Name: "Sensor1-updated", RSSI: -40}))

	got := r.Snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, "AA:BB", got[0].Address)
	assert.Equal(t, "Sensor1-updated", got[0].Name)
	assert.Equal(t, -40, got[0].RSSI)
	assert.Equal(t, "CC:DD", got[1].Address)
}

func TestRegistryLatestAttributesWin(t *testing.T) {
	r := NewRegistry()
	addresses := []string{"01:01", "02:02", "03:03"}

	for round := 0; round < 5; round++ {
		for _, a := range addresses {
			r.Upsert(ScanRecord{Address: a, Name: fmt.Sprintf("%s#%d", a, round), RSSI: -round})
		}
	}

	got := r.Snapshot()
	require.Len(t, got, len(addresses))
	for i, a := range addresses {
		assert.Equal(t, a, got[i].Address)
		assert.Equal(t, a+"#4", got[i].Name)
		assert.Equal(t, -4, got[i].RSSI)
	}
}

func TestRegistryLookupNormalizesAddress(t *testing.T) {
	r := NewRegistry()
	r.Upsert(ScanRecord{Address: " de:ad:be:ef:00:01 ", Name: "Tag"})

	rec, ok := r.Lookup("DE:AD:BE:EF:00:01")
	require.True(t, ok)
	assert.Equal(t, "Tag", rec.Name)

	_, ok = r.Lookup("de:ad:be:ef:00:02")
	assert.False(t, ok)
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Upsert(ScanRecord{Address: "AA:BB", Name: "before"})

	snap := r.Snapshot()
	snap[0].Name = "mutated"

	rec, _ := r.Lookup("AA:BB")
	assert.Equal(t, "before", rec.Name)
}

func TestRegistryReset(t *testing.T) {
	r := NewRegistry()
	r.Upsert(ScanRecord{Address: "AA:BB"})
	r.Upsert(ScanRecord{Address: "CC:DD"})
	require.Equal(t, 2, r.Len())

	r.Reset()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Snapshot())
	assert.True(t, r.Upsert(ScanRecord{Address: "AA:BB"}))
}
