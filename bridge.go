package blebridge

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultDisconnectTimeout bounds a bond removal.
const DefaultDisconnectTimeout = 10 * time.Second

// Options configure a Bridge.
type Options struct {
	// Radio opens the local radio on first use.
	Radio RadioProvider
	// Bonds lists and removes OS bonds. Without it every disconnect fails
	// with ErrAdapterUnavailable.
	Bonds BondStore
	// Permissions reports capabilities granted by the host.
	Permissions PermissionFunc
	// OnStateChange is told about connection state transitions.
	OnStateChange StateListener

	ScanPeriod        time.Duration
	ConnectTimeout    time.Duration
	DisconnectTimeout time.Duration

	// PartialResultsOnStop delivers the devices seen so far to a scan that is
	// stopped early, instead of failing it with ErrScanStopped.
	PartialResultsOnStop bool

	Logger logrus.FieldLogger
}

func (o Options) logger() logrus.FieldLogger {
	if o.Logger == nil {
		return logrus.StandardLogger()
	}
	return o.Logger
}

// Device is the caller-facing view of a discovered device.
type Device struct {
	Address     string  `json:"address"`
	Name        string  `json:"name,omitempty"`
	DeviceClass *uint32 `json:"class,omitempty"`
}

// Devices converts scan records for the caller.
func Devices(records []ScanRecord) []Device {
	out := make([]Device, 0, len(records))
	for _, r := range records {
		out = append(out, Device{
			Address:     r.Address,
			Name:        r.Name,
			DeviceClass: r.DeviceClass,
		})
	}
	return out
}

// Bridge exposes scan, connect and disconnect as asynchronous operations.
type Bridge struct {
	registry *Registry
	scan     *ScanSession
	conn     *ConnectionManager
	log      logrus.FieldLogger

	disconnectTimeout time.Duration
}

func New(opts Options) *Bridge {
	radio := &lazyRadio{open: opts.Radio}
	registry := NewRegistry()

	timeout := opts.DisconnectTimeout
	if timeout <= 0 {
		timeout = DefaultDisconnectTimeout
	}

	return &Bridge{
		registry:          registry,
		scan:              newScanSession(radio, registry, opts),
		conn:              newConnectionManager(radio, registry, opts),
		log:               opts.logger(),
		disconnectTimeout: timeout,
	}
}

// Scan returns the underlying scan session.
func (b *Bridge) Scan() *ScanSession {
	return b.scan
}

// Connection returns the underlying connection manager.
func (b *Bridge) Connection() *ConnectionManager {
	return b.conn
}

// Registry returns the devices discovered by the last scan.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// ScanDevices opens a scan window. The result lists the devices discovered
// when the window closes. Calling ScanDevices while a window is open stops it:
// the open window's result fails with ErrScanStopped and the stopping call
// resolves with a nil list. A window that found nothing resolves with an
// empty, non-nil list.
func (b *Bridge) ScanDevices() *Pending[[]Device] {
	p := newPending[[]Device]()
	log := b.log.WithField("op", p.ID())

	started, err := b.scan.Start(func(records []ScanRecord, err error) {
		if err != nil {
			p.reject(normalize("scan", "", err))
			return
		}
		p.resolve(Devices(records))
	})
	switch {
	case err != nil:
		log.WithError(err).Warn("scan rejected")
		p.reject(normalize("scan", "", err))
	case !started:
		p.resolve(nil)
	}
	return p
}

// ConnectDevice connects to a device found by the last scan.
func (b *Bridge) ConnectDevice(address string) *Pending[bool] {
	p := newPending[bool]()

	err := b.conn.Connect(address, func(err error) {
		if err != nil {
			p.reject(normalize("connect", NormalizeAddress(address), err))
			return
		}
		p.resolve(true)
	})
	if err != nil {
		b.log.WithFields(logrus.Fields{
			"op":      p.ID(),
			"address": address,
		}).WithError(err).Warn("connect rejected")
		p.reject(normalize("connect", NormalizeAddress(address), err))
	}
	return p
}

// DisconnectDevice removes the bond with a bonded device.
func (b *Bridge) DisconnectDevice(address string) *Pending[bool] {
	p := newPending[bool]()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.disconnectTimeout)
		defer cancel()

		if err := b.conn.Disconnect(ctx, address); err != nil {
			p.reject(normalize("disconnect", NormalizeAddress(address), err))
			return
		}
		p.resolve(true)
	}()
	return p
}

// Devices returns the devices currently in the registry.
func (b *Bridge) Devices() []Device {
	return Devices(b.registry.Snapshot())
}

// State returns the connection state and the address it refers to.
func (b *Bridge) State() (ConnectionState, string) {
	return b.conn.State()
}

// Close stops any open scan window and abandons any connect attempt.
func (b *Bridge) Close() {
	b.scan.Stop()
	b.conn.Close()
}
