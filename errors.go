package blebridge

import (
	"context"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrAdapterUnavailable is returned when no usable radio exists (missing hardware or powered off).
	ErrAdapterUnavailable = errors.New("adapter unavailable")
	// ErrPermissionDenied is returned when the platform does not grant the BLE capability.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDeviceNotFound is returned when an address is neither discovered nor bonded.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrOperationInProgress is returned when a conflicting attempt is already running.
	ErrOperationInProgress = errors.New("operation in progress")
	// ErrConnectionFailed is returned when the radio reports a disconnect for a pending connect.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrUnderlyingFailure wraps any other platform error.
	ErrUnderlyingFailure = errors.New("underlying failure")
	// ErrScanStopped is returned to a scan that was stopped before its window elapsed.
	ErrScanStopped = errors.New("scan stopped")
)

var kinds = []error{
	ErrAdapterUnavailable,
	ErrPermissionDenied,
	ErrDeviceNotFound,
	ErrOperationInProgress,
	ErrConnectionFailed,
	ErrUnderlyingFailure,
	ErrScanStopped,
}

// OpError describes a failed operation. It matches both its Kind and its
// underlying cause with errors.Is.
type OpError struct {
	Op      string
	Address string
	Kind    error
	Err     error
}

func (e *OpError) Error() string {
	msg := e.Op
	if e.Address != "" {
		msg += " " + e.Address
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil && e.Err != e.Kind {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil || e.Err == e.Kind {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opError(op, address string, kind, err error) *OpError {
	return &OpError{Op: op, Address: address, Kind: kind, Err: err}
}

// Classify returns the taxonomy kind of err. Permission errnos map to
// ErrPermissionDenied and unknown errors map to ErrUnderlyingFailure.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	if errors.Is(err, os.ErrPermission) {
		return ErrPermissionDenied
	}
	return ErrUnderlyingFailure
}

// normalize turns any error into an *OpError for op, keeping an existing one intact.
func normalize(op, address string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return err
	}
	return opError(op, address, Classify(err), err)
}

// KindName returns a stable identifier for the kind of err, used on the wire.
func KindName(err error) string {
	switch Classify(err) {
	case nil:
		return ""
	case ErrAdapterUnavailable:
		return "adapter_unavailable"
	case ErrPermissionDenied:
		return "permission_denied"
	case ErrDeviceNotFound:
		return "device_not_found"
	case ErrOperationInProgress:
		return "operation_in_progress"
	case ErrConnectionFailed:
		return "connection_failed"
	case ErrScanStopped:
		return "scan_stopped"
	default:
		return "underlying_failure"
	}
}

func connectTimeoutError(address string) error {
	return opError("connect", address, ErrConnectionFailed, fmt.Errorf("no response from device: %w", context.DeadlineExceeded))
}
