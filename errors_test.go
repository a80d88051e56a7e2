package blebridge

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"sentinel", ErrDeviceNotFound, ErrDeviceNotFound},
		{"wrapped sentinel", fmt.Errorf("bluez: %w", ErrAdapterUnavailable), ErrAdapterUnavailable},
		{"op error", opError("connect", "AA:BB", ErrConnectionFailed, cause), ErrConnectionFailed},
		{"eperm", fmt.Errorf("socket: %w", syscall.EPERM), ErrPermissionDenied},
		{"eacces", syscall.EACCES, ErrPermissionDenied},
		{"unknown", cause, ErrUnderlyingFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestOpErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("le connection timeout")
	err := error(opError("connect", "AA:BB", ErrConnectionFailed, cause))

	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrUnderlyingFailure)
	assert.Equal(t, "connect AA:BB: connection failed: le connection timeout", err.Error())

	var opErr *OpError
	assert.ErrorAs(t, fmt.Errorf("rpc: %w", err), &opErr)
	assert.Equal(t, "AA:BB", opErr.Address)
}

func TestOpErrorWithoutCause(t *testing.T) {
	err := opError("scan", "", ErrScanStopped, nil)

	assert.Equal(t, "scan: scan stopped", err.Error())
	assert.ErrorIs(t, err, ErrScanStopped)
}

func TestNormalizeKeepsOpError(t *testing.T) {
	orig := opError("connect", "AA:BB", ErrDeviceNotFound, nil)

	assert.Same(t, orig, normalize("connect", "AA:BB", orig))
	assert.Nil(t, normalize("connect", "AA:BB", nil))

	err := normalize("disconnect", "AA:BB", errors.New("dbus: closed"))
	assert.ErrorIs(t, err, ErrUnderlyingFailure)
}

func TestKindName(t *testing.T) {
	assert.Equal(t, "", KindName(nil))
	assert.Equal(t, "device_not_found", KindName(opError("connect", "x", ErrDeviceNotFound, nil)))
	assert.Equal(t, "operation_in_progress", KindName(ErrOperationInProgress))
	assert.Equal(t, "permission_denied", KindName(syscall.EPERM))
	assert.Equal(t, "underlying_failure", KindName(errors.New("x")))
	assert.Equal(t, "scan_stopped", KindName(ErrScanStopped))
}
