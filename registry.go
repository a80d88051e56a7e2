package blebridge

import (
	"strings"
	"sync"
	"time"
)

// Advertisement is the opaque payload carried by a discovery event.
type Advertisement struct {
	ManufacturerData []byte            `json:"manufacturer_data,omitempty"`
	ServiceData      map[string][]byte `json:"service_data,omitempty"`
	Services         []string          `json:"services,omitempty"`
	TxPowerLevel     int               `json:"tx_power_level,omitempty"`
	Connectable      bool              `json:"connectable"`
}

// ScanRecord is one discovered peripheral.
type ScanRecord struct {
	Address     string
	Name        string
	DeviceClass *uint32
	RSSI        int
	Payload     Advertisement
	SeenAt      time.Time
}

// NormalizeAddress returns the canonical form of a device address.
func NormalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// Registry stores discovered devices keyed by address, in first-seen order.
type Registry struct {
	mu      sync.RWMutex
	index   map[string]int
	records []ScanRecord
}

func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

// Upsert inserts r or replaces the record with the same address. It reports
// whether the address was new.
func (r *Registry) Upsert(rec ScanRecord) bool {
	rec.Address = NormalizeAddress(rec.Address)

	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.index[rec.Address]; ok {
		r.records[i] = rec
		return false
	}
	r.index[rec.Address] = len(r.records)
	r.records = append(r.records, rec)
	return true
}

func (r *Registry) Lookup(address string) (ScanRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[NormalizeAddress(address)]
	if !ok {
		return ScanRecord{}, false
	}
	return r.records[i], true
}

// Snapshot returns a copy of all records in insertion order.
func (r *Registry) Snapshot() []ScanRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ScanRecord, len(r.records))
	copy(out, r.records)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records)
}

// Reset drops every record.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.index = make(map[string]int)
	r.records = nil
}
