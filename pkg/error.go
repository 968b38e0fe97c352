package pkg

import "errors"

// USB protocol and driver errors.
var (
	// ErrStall indicates the device returned a STALL handshake.
	ErrStall = errors.New("endpoint stalled")

	// ErrTimeout indicates a transfer was terminated by a timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrCancelled indicates a transfer was stopped before completion.
	ErrCancelled = errors.New("transfer stopped")

	// ErrOverrun indicates more data arrived than the buffer could hold.
	ErrOverrun = errors.New("data overrun")

	// ErrDataError indicates a FIFO or hardware inconsistency.
	ErrDataError = errors.New("data error")

	// ErrNoDevice indicates no device is attached at the referenced address.
	ErrNoDevice = errors.New("device not connected")

	// ErrNotConfigured indicates no device address is bound to the pipe.
	ErrNotConfigured = errors.New("pipe not configured")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")

	// ErrQueueOverflow indicates the pipe already owns a pending transfer.
	// Callers should retry after the pending transfer completes.
	ErrQueueOverflow = errors.New("queue overflow")

	// ErrNoResources indicates the message pool is exhausted.
	ErrNoResources = errors.New("no resources available")

	// ErrInvalidPipe indicates a pipe number outside the pipe table.
	ErrInvalidPipe = errors.New("invalid pipe")

	// ErrInvalidState indicates an invalid device state for the operation.
	ErrInvalidState = errors.New("invalid device state")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrAlreadyRunning indicates the host is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the host is not running.
	ErrNotRunning = errors.New("not running")

	// ErrRegistryFull indicates the class driver table has no free slot.
	ErrRegistryFull = errors.New("driver registry full")
)

// TransferStatus represents the terminal status of a USB transfer.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusSuccess      TransferStatus = iota // Requested length transferred
	TransferStatusShort                              // Ended early on a short packet
	TransferStatusStall                              // Endpoint stalled
	TransferStatusTimeout                            // Terminated by timeout
	TransferStatusStop                               // Terminated by explicit stop
	TransferStatusOverrun                            // More data than buffer space
	TransferStatusDataError                          // FIFO or hardware error
	TransferStatusNoConnection                       // Device went away
)

// String returns a string representation of the transfer status.
func (s TransferStatus) String() string {
	switch s {
	case TransferStatusSuccess:
		return "success"
	case TransferStatusShort:
		return "short"
	case TransferStatusStall:
		return "stall"
	case TransferStatusTimeout:
		return "timeout"
	case TransferStatusStop:
		return "stop"
	case TransferStatusOverrun:
		return "overrun"
	case TransferStatusDataError:
		return "data error"
	case TransferStatusNoConnection:
		return "no connection"
	default:
		return "unknown"
	}
}

// OK reports whether the status delivered usable data.
func (s TransferStatus) OK() bool {
	return s == TransferStatusSuccess || s == TransferStatusShort
}

// Error returns the corresponding error for the transfer status.
// Success and short transfers return nil.
func (s TransferStatus) Error() error {
	switch s {
	case TransferStatusSuccess, TransferStatusShort:
		return nil
	case TransferStatusStall:
		return ErrStall
	case TransferStatusTimeout:
		return ErrTimeout
	case TransferStatusStop:
		return ErrCancelled
	case TransferStatusOverrun:
		return ErrOverrun
	case TransferStatusNoConnection:
		return ErrNoDevice
	default:
		return ErrDataError
	}
}
