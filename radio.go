package blebridge

import (
	"context"
	"sync"
)

// HardwareState is a link state reported by the radio.
type HardwareState int

const (
	HardwareDisconnected HardwareState = iota
	HardwareConnected
)

func (s HardwareState) String() string {
	if s == HardwareConnected {
		return "connected"
	}
	return "disconnected"
}

// ConnectionCallback receives link state changes for a connect request.
// err carries the radio's reason for a disconnect, if any.
type ConnectionCallback interface {
	OnConnectionStateChange(address string, state HardwareState, err error)
}

// Radio is the local Bluetooth radio.
type Radio interface {
	// Scan reports discoveries to h until ctx is done. It blocks.
	Scan(ctx context.Context, h func(ScanRecord)) error

	// Connect starts a connection to address and returns without waiting for
	// it. Progress is reported to cb; cancelling ctx abandons the attempt.
	Connect(ctx context.Context, address string, cb ConnectionCallback) error
}

// RadioProvider opens the radio. It is called lazily and again after a failure.
type RadioProvider func() (Radio, error)

// BondedDevice is a peripheral the OS holds a bond with.
type BondedDevice struct {
	Address string
	Name    string
	Path    string
	Adapter string
}

// BondStore exposes the OS bonded-device set.
type BondStore interface {
	Bonded(ctx context.Context) ([]BondedDevice, error)
	RemoveBond(ctx context.Context, dev BondedDevice) error
}

// Capability is a platform permission the host grants before operations run.
type Capability string

const (
	CapabilityScan    Capability = "scan"
	CapabilityConnect Capability = "connect"
)

// PermissionFunc reports whether a capability has been granted. A nil
// PermissionFunc grants everything.
type PermissionFunc func(Capability) bool

func (f PermissionFunc) check(op, address string, c Capability) error {
	if f == nil || f(c) {
		return nil
	}
	return opError(op, address, ErrPermissionDenied, nil)
}

// lazyRadio acquires the radio on first use and caches it once acquisition succeeds.
type lazyRadio struct {
	mu    sync.Mutex
	open  RadioProvider
	radio Radio
}

func (l *lazyRadio) get(op, address string) (Radio, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.radio != nil {
		return l.radio, nil
	}
	if l.open == nil {
		return nil, opError(op, address, ErrAdapterUnavailable, nil)
	}
	r, err := l.open()
	if err != nil {
		kind := Classify(err)
		if kind != ErrPermissionDenied {
			kind = ErrAdapterUnavailable
		}
		return nil, opError(op, address, kind, err)
	}
	if r == nil {
		return nil, opError(op, address, ErrAdapterUnavailable, nil)
	}
	l.radio = r
	return r, nil
}
