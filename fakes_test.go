package blebridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type connectCall struct {
	ctx     context.Context
	address string
	cb      ConnectionCallback
}

type fakeRadio struct {
	mu         sync.Mutex
	scans      int
	stops      int
	scanErr    error
	connectErr error
	connects   []connectCall
	handlers   []func(ScanRecord)
}

func (f *fakeRadio) Scan(ctx context.Context, h func(ScanRecord)) error {
	f.mu.Lock()
	f.scans++
	f.handlers = append(f.handlers, h)
	err := f.scanErr
	f.mu.Unlock()
	if err != nil {
		return err
	}

	<-ctx.Done()

	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	return ctx.Err()
}

func (f *fakeRadio) Connect(ctx context.Context, address string, cb ConnectionCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.connectErr != nil {
		return f.connectErr
	}
	f.connects = append(f.connects, connectCall{ctx: ctx, address: address, cb: cb})
	return nil
}

func (f *fakeRadio) counts() (scans, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.scans, f.stops
}

// handler returns the discovery handler given to the i-th radio scan.
func (f *fakeRadio) handler(t *testing.T, i int) func(ScanRecord) {
	t.Helper()
	var h func(ScanRecord)
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()

		if len(f.handlers) <= i {
			return false
		}
		h = f.handlers[i]
		return true
	}, time.Second, 5*time.Millisecond)
	return h
}

func (f *fakeRadio) lastConnect(t *testing.T) connectCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	require.NotEmpty(t, f.connects, "radio was never asked to connect")
	return f.connects[len(f.connects)-1]
}

func (f *fakeRadio) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.connects)
}

func (f *fakeRadio) provider() RadioProvider {
	return func() (Radio, error) { return f, nil }
}

type fakeBonds struct {
	mu        sync.Mutex
	bonded    []BondedDevice
	listErr   error
	removeErr error
	removed   []BondedDevice
}

func (f *fakeBonds) Bonded(_ context.Context) ([]BondedDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]BondedDevice(nil), f.bonded...), nil
}

func (f *fakeBonds) RemoveBond(_ context.Context, dev BondedDevice) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, dev)
	return nil
}

type stateChange struct {
	state   ConnectionState
	address string
}

type stateRecorder struct {
	mu      sync.Mutex
	changes []stateChange
}

func (r *stateRecorder) listen(state ConnectionState, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.changes = append(r.changes, stateChange{state, address})
}

func (r *stateRecorder) states() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ConnectionState, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.state)
	}
	return out
}

func nullLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}

// newTestBridge returns a bridge whose scan window and connect timeout never
// elapse on their own unless opts overrides them.
func newTestBridge(opts Options) *Bridge {
	if opts.ScanPeriod == 0 {
		opts.ScanPeriod = time.Hour
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger, _ = nullLogger()
	}
	return New(opts)
}

func wait[T any](t *testing.T, p *Pending[T]) (T, error) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("operation %s never settled", p.ID())
	}
	return p.Result()
}

func requireSettled[T any](t *testing.T, p *Pending[T]) {
	t.Helper()
	select {
	case <-p.Done():
	default:
		t.Fatalf("operation %s has not settled", p.ID())
	}
}

func requireUnsettled[T any](t *testing.T, p *Pending[T]) {
	t.Helper()
	select {
	case <-p.Done():
		v, err := p.Result()
		t.Fatalf("operation %s settled unexpectedly: %v, %v", p.ID(), v, err)
	default:
	}
}
