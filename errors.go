package fwagent

import (
	"context"
	"fmt"

	"github.com/httprunner/fwagent/pkg/inventory"
	"github.com/httprunner/fwagent/pkg/runner"
	"github.com/pkg/errors"
)

// Process exit codes, one per failure class.
const (
	ExitOK             = 0
	ExitError          = 1
	ExitUsage          = 2
	ExitDegradedPool   = 3
	ExitDeviceOffline  = 4
	ExitSlotResolution = 5
	ExitTimeout        = 6
	ExitCommandFailure = 7
	ExitParseFailure   = 8
	ExitInterrupted    = 130
)

// DegradedPoolError means a pool failed its health check, so none of its
// devices may leave service.
type DegradedPoolError struct {
	Pool string
}

func (e *DegradedPoolError) Error() string {
	return fmt.Sprintf("pool %s is not healthy", e.Pool)
}

// SlotResolutionError means a device has no known enclosure/slot.
type SlotResolutionError struct {
	Pool   string
	Device string
}

func (e *SlotResolutionError) Error() string {
	return fmt.Sprintf("no enclosure slot known for device %s in pool %s", e.Device, e.Pool)
}

// DeviceOfflineError means the online command failed after the device was
// taken offline: the device is still out of service.
type DeviceOfflineError struct {
	Pool      string
	Device    string
	Err       error
	UpdateErr error
}

func (e *DeviceOfflineError) Error() string {
	msg := fmt.Sprintf("device %s in pool %s left offline: %v", e.Device, e.Pool, e.Err)
	if e.UpdateErr != nil {
		msg += fmt.Sprintf(" (firmware update also failed: %v)", e.UpdateErr)
	}
	return msg
}

func (e *DeviceOfflineError) Unwrap() error {
	return e.Err
}

// StageError attributes a failure to the state machine stage being entered.
type StageError struct {
	Pool   string
	Device string
	Stage  Stage
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s/%s: %s: %v", e.Pool, e.Device, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ExitCode maps a run error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var (
		degraded *DegradedPoolError
		offline  *DeviceOfflineError
		slot     *SlotResolutionError
		timeout  *runner.TimeoutError
		failure  *runner.CommandFailure
		parse    *inventory.ParseError
		usage    *UsageError
	)
	switch {
	case errors.As(err, &offline):
		return ExitDeviceOffline
	case errors.As(err, &degraded):
		return ExitDegradedPool
	case errors.As(err, &slot):
		return ExitSlotResolution
	case errors.As(err, &timeout):
		return ExitTimeout
	case errors.As(err, &failure):
		return ExitCommandFailure
	case errors.As(err, &parse):
		return ExitParseFailure
	case errors.As(err, &usage):
		return ExitUsage
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return ExitError
	}
}

// UsageError flags invalid flags or configuration.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string {
	return e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}
