package blebridge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultConnectTimeout bounds a connect attempt that gets no answer from the radio.
const DefaultConnectTimeout = 30 * time.Second

// ConnectionState is the state of the ConnectionManager.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnectResultFunc receives the outcome of a connect attempt exactly once.
type ConnectResultFunc func(err error)

// StateListener is told about every connection state transition.
type StateListener func(state ConnectionState, address string)

// ConnectionManager drives the single connection to a discovered device.
type ConnectionManager struct {
	mu sync.Mutex

	radio    *lazyRadio
	registry *Registry
	bonds    BondStore
	permit   PermissionFunc
	listener StateListener
	log      logrus.FieldLogger
	timeout  time.Duration

	state   ConnectionState
	address string
	attempt uint64
	pending ConnectResultFunc
	cancel  context.CancelFunc
	timer   *time.Timer
}

func newConnectionManager(radio *lazyRadio, registry *Registry, opts Options) *ConnectionManager {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &ConnectionManager{
		radio:    radio,
		registry: registry,
		bonds:    opts.Bonds,
		permit:   opts.Permissions,
		listener: opts.OnStateChange,
		log:      opts.logger(),
		timeout:  timeout,
	}
}

// State returns the connection state and the address it refers to.
func (m *ConnectionManager) State() (ConnectionState, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state, m.address
}

// Connect starts connecting to a discovered device and returns immediately.
// If Connect returns an error, done is never called.
func (m *ConnectionManager) Connect(address string, done ConnectResultFunc) error {
	address = NormalizeAddress(address)
	if _, ok := m.registry.Lookup(address); !ok {
		return opError("connect", address, ErrDeviceNotFound, nil)
	}
	if err := m.permit.check("connect", address, CapabilityConnect); err != nil {
		return err
	}

	m.mu.Lock()
	switch m.state {
	case Connecting:
		m.mu.Unlock()
		return opError("connect", address, ErrOperationInProgress, nil)
	case Connected:
		current := m.address
		m.mu.Unlock()
		if current != address {
			return opError("connect", address, ErrOperationInProgress, nil)
		}
		done(nil)
		return nil
	}

	radio, err := m.radio.get("connect", address)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	m.attempt++
	attempt := m.attempt
	ctx, cancel := context.WithCancel(context.Background())
	m.state = Connecting
	m.address = address
	m.pending = done
	m.cancel = cancel
	m.timer = time.AfterFunc(m.timeout, func() { m.expire(attempt) })
	m.mu.Unlock()

	log := m.log.WithFields(logrus.Fields{
		"address": address,
		"attempt": attempt,
	})
	log.Info("connecting")
	m.notify(Connecting, address)

	if err := radio.Connect(ctx, address, &gattCallback{manager: m, attempt: attempt}); err != nil {
		log.WithError(err).Warn("connect request rejected by radio")
		m.mu.Lock()
		if m.attempt == attempt && m.pending != nil {
			m.resetLocked()
			m.mu.Unlock()
			m.notify(Disconnected, address)
		} else {
			m.mu.Unlock()
		}
		return normalize("connect", address, err)
	}
	return nil
}

// OnHardwareStateChange applies a link state change reported by the radio.
func (m *ConnectionManager) OnHardwareStateChange(address string, state HardwareState) {
	m.mu.Lock()
	attempt := m.attempt
	m.mu.Unlock()

	m.apply(attempt, NormalizeAddress(address), state, nil)
}

func (m *ConnectionManager) apply(attempt uint64, address string, hw HardwareState, cause error) {
	m.mu.Lock()
	current := attempt == m.attempt
	log := m.log.WithFields(logrus.Fields{
		"address": address,
		"attempt": attempt,
		"state":   hw,
	})

	switch hw {
	case HardwareConnected:
		if !current && m.pending != nil {
			m.mu.Unlock()
			log.Debug("ignoring connect from abandoned attempt")
			return
		}
		var done ConnectResultFunc
		if current && m.pending != nil {
			done = m.pending
			m.pending = nil
			m.stopAttemptLocked(false)
		}
		m.state = Connected
		m.address = address
		m.mu.Unlock()

		log.Info("connected")
		m.notify(Connected, address)
		if done != nil {
			done(nil)
		}

	default:
		if current && m.pending != nil {
			done := m.pending
			m.resetLocked()
			m.mu.Unlock()

			log.WithError(cause).Warn("connection failed")
			m.notify(Disconnected, address)
			done(opError("connect", address, ErrConnectionFailed, cause))
			return
		}
		if m.state == Disconnected || m.address != address {
			m.mu.Unlock()
			log.Debug("ignoring disconnect for inactive link")
			return
		}
		m.state = Disconnected
		m.stopAttemptLocked(true)
		m.mu.Unlock()

		log.Info("disconnected")
		m.notify(Disconnected, address)
	}
}

func (m *ConnectionManager) expire(attempt uint64) {
	m.mu.Lock()
	if m.attempt != attempt || m.pending == nil {
		m.mu.Unlock()
		return
	}
	done := m.pending
	address := m.address
	m.timer = nil
	m.resetLocked()
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"address": address,
		"timeout": m.timeout,
	}).Warn("connect timed out")
	m.notify(Disconnected, address)
	done(connectTimeoutError(address))
}

// resetLocked abandons the current attempt and returns to Disconnected.
func (m *ConnectionManager) resetLocked() {
	m.pending = nil
	m.state = Disconnected
	m.stopAttemptLocked(true)
}

func (m *ConnectionManager) stopAttemptLocked(cancel bool) {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if cancel && m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// Disconnect removes the OS bond with address. The address must be bonded;
// discovered-but-unbonded devices are not found.
func (m *ConnectionManager) Disconnect(ctx context.Context, address string) error {
	address = NormalizeAddress(address)
	if m.bonds == nil {
		return opError("disconnect", address, ErrAdapterUnavailable, nil)
	}

	bonded, err := m.bonds.Bonded(ctx)
	if err != nil {
		return normalize("disconnect", address, err)
	}

	var dev *BondedDevice
	for i := range bonded {
		if strings.EqualFold(bonded[i].Address, address) {
			dev = &bonded[i]
			break
		}
	}
	if dev == nil {
		return opError("disconnect", address, ErrDeviceNotFound, nil)
	}

	if err := m.bonds.RemoveBond(ctx, *dev); err != nil {
		m.log.WithField("address", address).WithError(err).Warn("bond removal failed")
		return opError("disconnect", address, ErrUnderlyingFailure, err)
	}
	m.log.WithField("address", address).Info("bond removed")
	return nil
}

// Close abandons any connect attempt in flight, failing it with ErrConnectionFailed.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	done := m.pending
	address := m.address
	if m.state == Connecting {
		m.resetLocked()
	} else {
		m.stopAttemptLocked(true)
	}
	m.mu.Unlock()

	if done != nil {
		done(opError("connect", address, ErrConnectionFailed, context.Canceled))
	}
}

func (m *ConnectionManager) notify(state ConnectionState, address string) {
	if m.listener != nil {
		m.listener(state, address)
	}
}

// gattCallback forwards radio link events for one attempt to its manager.
type gattCallback struct {
	manager *ConnectionManager
	attempt uint64
}

func (c *gattCallback) OnConnectionStateChange(address string, state HardwareState, err error) {
	c.manager.apply(c.attempt, NormalizeAddress(address), state, err)
}
