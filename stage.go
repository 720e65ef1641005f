package fwagent

import (
	"time"

	"github.com/httprunner/fwagent/pkg/inventory"
)

// Stage is a state of the per-device update machine.
type Stage string

const (
	StageIdle          Stage = "idle"
	StageHealthChecked Stage = "health_checked"
	StageOffline       Stage = "offline"
	StageUpdated       Stage = "updated"
	StageOnline        Stage = "online"
	StageResyncClear   Stage = "resync_clear"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

// UpdateAttempt tracks one device through the state machine. It only lives
// for the duration of UpdateDevice and feeds error reports.
type UpdateAttempt struct {
	Pool      string
	Device    string
	Slot      inventory.Slot
	Stage     Stage
	FailedAt  Stage
	StartedAt time.Time
}

func newUpdateAttempt(pool, device string, slot inventory.Slot) *UpdateAttempt {
	return &UpdateAttempt{
		Pool:      pool,
		Device:    device,
		Slot:      slot,
		Stage:     StageIdle,
		StartedAt: time.Now(),
	}
}

func (a *UpdateAttempt) advance(stage Stage) {
	a.Stage = stage
}

// fail marks the attempt failed while entering target and wraps err.
func (a *UpdateAttempt) fail(target Stage, err error) error {
	a.Stage = StageFailed
	a.FailedAt = target
	return &StageError{Pool: a.Pool, Device: a.Device, Stage: target, Err: err}
}
