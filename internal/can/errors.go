package can

import (
	"errors"
	"fmt"
)

// Configuration errors
var (
	ErrPinsUnset    = errors.New("can: tx/rx pins not set")
	ErrOutOfRange   = errors.New("can: filter index out of range")
	ErrTableFull    = errors.New("can: filter table full")
	ErrInvalidFrame = errors.New("can: invalid frame")
)

// Send outcomes other than success
var (
	ErrNoData       = errors.New("can: frame has no data")
	ErrNotRunning   = errors.New("can: controller not running")
	ErrBusUnhealthy = errors.New("can: bus not operational")
	ErrThrottled    = errors.New("can: send interval not elapsed")
	ErrTransmit     = errors.New("can: transmit failed")
)

// Driver errors. Drivers wrap one of these so callers can classify failures.
var (
	ErrTimeout      = errors.New("timeout")
	ErrInvalidArg   = errors.New("invalid argument")
	ErrFail         = errors.New("generic failure")
	ErrInvalidState = errors.New("invalid state")
	ErrUnsupported  = errors.New("not supported")
)

// LifecycleError reports a failed driver install, start, stop or uninstall
type LifecycleError struct {
	Op  string
	Err error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("can: driver %s: %v", e.Op, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}
