package blebridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// DefaultScanPeriod is the length of a scan window.
const DefaultScanPeriod = 10 * time.Second

// ScanState is the state of a ScanSession.
type ScanState int

const (
	ScanIdle ScanState = iota
	ScanScanning
)

func (s ScanState) String() string {
	if s == ScanScanning {
		return "scanning"
	}
	return "idle"
}

// ScanResultFunc receives the outcome of a scan window exactly once.
type ScanResultFunc func(records []ScanRecord, err error)

// ScanSession runs bounded discovery windows filling a Registry.
type ScanSession struct {
	mu sync.Mutex

	radio    *lazyRadio
	registry *Registry
	permit   PermissionFunc
	log      logrus.FieldLogger

	period        time.Duration
	partialOnStop bool

	state   ScanState
	gen     uint64
	id      string
	timer   *time.Timer
	cancel  context.CancelFunc
	pending ScanResultFunc
}

func newScanSession(radio *lazyRadio, registry *Registry, opts Options) *ScanSession {
	period := opts.ScanPeriod
	if period <= 0 {
		period = DefaultScanPeriod
	}
	return &ScanSession{
		radio:         radio,
		registry:      registry,
		permit:        opts.Permissions,
		log:           opts.logger(),
		period:        period,
		partialOnStop: opts.PartialResultsOnStop,
	}
}

func (s *ScanSession) State() ScanState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Start opens a new scan window and returns immediately; done is called
// when the window closes. If a window is already open, Start stops it instead
// and returns false without retaining done.
func (s *ScanSession) Start(done ScanResultFunc) (bool, error) {
	s.mu.Lock()

	if s.state == ScanScanning {
		halted := s.haltLocked()
		s.mu.Unlock()
		s.log.WithField("session", halted.id).Info("scan toggled off")
		s.finishStopped(halted)
		return false, nil
	}

	if err := s.permit.check("scan", "", CapabilityScan); err != nil {
		s.mu.Unlock()
		return false, err
	}
	radio, err := s.radio.get("scan", "")
	if err != nil {
		s.mu.Unlock()
		return false, err
	}

	s.registry.Reset()
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.state = ScanScanning
	s.id = ulid.Make().String()
	s.cancel = cancel
	s.pending = done
	s.timer = time.AfterFunc(s.period, func() { s.expire(gen) })
	log := s.log.WithFields(logrus.Fields{
		"session": s.id,
		"period":  s.period,
	})
	s.mu.Unlock()

	log.Info("scan started")
	go s.run(ctx, gen, radio, log)
	return true, nil
}

func (s *ScanSession) run(ctx context.Context, gen uint64, radio Radio, log logrus.FieldLogger) {
	err := radio.Scan(ctx, func(rec ScanRecord) { s.discovered(gen, rec) })
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	log.WithError(err).Error("scan failed")
	s.abort(gen, err)
}

// Stop closes the open window early. It reports whether a window was open.
func (s *ScanSession) Stop() bool {
	s.mu.Lock()
	if s.state != ScanScanning {
		s.mu.Unlock()
		return false
	}
	halted := s.haltLocked()
	s.mu.Unlock()

	s.log.WithField("session", halted.id).Info("scan stopped")
	s.finishStopped(halted)
	return true
}

// OnDiscovered records a discovery in the open window. Records arriving
// outside a window are dropped.
func (s *ScanSession) OnDiscovered(rec ScanRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recordLocked(s.gen, rec)
}

// discovered records a discovery reported by the radio scan of window gen.
// A cancelled scan may still report while it winds down; those are dropped.
func (s *ScanSession) discovered(gen uint64, rec ScanRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recordLocked(gen, rec)
}

func (s *ScanSession) recordLocked(gen uint64, rec ScanRecord) {
	if s.state != ScanScanning || s.gen != gen {
		return
	}
	if rec.SeenAt.IsZero() {
		rec.SeenAt = time.Now()
	}
	if s.registry.Upsert(rec) {
		s.log.WithFields(logrus.Fields{
			"address": NormalizeAddress(rec.Address),
			"name":    rec.Name,
			"rssi":    rec.RSSI,
		}).Debug("device discovered")
	}
}

// OnTimeout closes the current window and delivers its results.
func (s *ScanSession) OnTimeout() {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	s.expire(gen)
}

func (s *ScanSession) expire(gen uint64) {
	s.mu.Lock()
	if s.state != ScanScanning || s.gen != gen {
		s.mu.Unlock()
		return
	}
	records := s.registry.Snapshot()
	halted := s.haltLocked()
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"session": halted.id,
		"devices": len(records),
	}).Info("scan completed")
	if halted.pending != nil {
		halted.pending(records, nil)
	}
}

func (s *ScanSession) abort(gen uint64, err error) {
	s.mu.Lock()
	if s.state != ScanScanning || s.gen != gen {
		s.mu.Unlock()
		return
	}
	halted := s.haltLocked()
	s.mu.Unlock()

	if halted.pending != nil {
		halted.pending(nil, normalize("scan", "", err))
	}
}

type haltedScan struct {
	id      string
	pending ScanResultFunc
	records []ScanRecord
}

// haltLocked moves the session to Idle and cancels the radio scan and timer.
func (s *ScanSession) haltLocked() haltedScan {
	h := haltedScan{id: s.id, pending: s.pending}
	if s.partialOnStop {
		h.records = s.registry.Snapshot()
	}

	s.state = ScanIdle
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return h
}

func (s *ScanSession) finishStopped(h haltedScan) {
	if h.pending == nil {
		return
	}
	if s.partialOnStop {
		h.pending(h.records, nil)
		return
	}
	h.pending(nil, opError("scan", "", ErrScanStopped, nil))
}
