package fwagent

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/httprunner/fwagent/pkg/commands"
	"github.com/httprunner/fwagent/pkg/inventory"
	"github.com/httprunner/fwagent/pkg/runner"
	"github.com/rs/zerolog"
)

type stubPools struct {
	health    inventory.Health
	healthErr error
	resync    []bool
	polls     int
}

func (p *stubPools) PoolHealth(ctx context.Context, pool string) (inventory.Health, error) {
	return p.health, p.healthErr
}

func (p *stubPools) ResyncInProgress(ctx context.Context, pool string) (bool, error) {
	p.polls++
	if len(p.resync) == 0 {
		return false, nil
	}
	busy := p.resync[0]
	p.resync = p.resync[1:]
	return busy, nil
}

const (
	lineOffline = "zpool offline -t tank c0t0d0"
	lineUpdate  = "fwupdate update disk-firmware -e 1 -s 3 -f /fw/disk.bin"
	lineOnline  = "zpool online tank c0t0d0"
)

var testSlot = inventory.Slot{Enclosure: "1", Slot: "3", Device: "c0t0d0p0"}

func newTestOrchestrator(t *testing.T, r runner.Runner, pools PoolChecker) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(r, pools, OrchestratorConfig{
		Commands: commands.Defaults(),
		Firmware: "/fw/disk.bin",
		Metrics:  NewMetrics(),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	o.sleep = noSleep
	return o
}

func TestUpdateDeviceHappyPath(t *testing.T) {
	r := newScriptedRunner()
	pools := &stubPools{health: inventory.Healthy, resync: []bool{true, true, false}}
	o := newTestOrchestrator(t, r, pools)

	if err := o.UpdateDevice(context.Background(), "tank", "c0t0d0", testSlot); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	want := []string{lineOffline, lineUpdate, lineOnline}
	if !reflect.DeepEqual(r.calls, want) {
		t.Fatalf("calls mismatch:\n got %v\nwant %v", r.calls, want)
	}
	if pools.polls != 3 {
		t.Fatalf("expected 3 resync polls, got %d", pools.polls)
	}
}

func TestUpdateDeviceOnlineAfterFailedUpdate(t *testing.T) {
	r := newScriptedRunner().failOn(lineUpdate, 2)
	pools := &stubPools{health: inventory.Healthy}
	o := newTestOrchestrator(t, r, pools)

	err := o.UpdateDevice(context.Background(), "tank", "c0t0d0", testSlot)
	if err == nil {
		t.Fatal("expected update failure")
	}
	want := []string{lineOffline, lineUpdate, lineOnline}
	if !reflect.DeepEqual(r.calls, want) {
		t.Fatalf("online must follow a failed update:\n got %v\nwant %v", r.calls, want)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageUpdated {
		t.Fatalf("expected StageError at updated, got %v", err)
	}
	var failure *runner.CommandFailure
	if !errors.As(err, &failure) || failure.ExitStatus != 2 {
		t.Fatalf("update failure not surfaced: %v", err)
	}
	if pools.polls != 0 {
		t.Fatalf("resync must not be awaited after a failed update, polls=%d", pools.polls)
	}
	if ExitCode(err) != ExitCommandFailure {
		t.Fatalf("exit code = %d", ExitCode(err))
	}
}

func TestUpdateDeviceTimeoutStillOnlines(t *testing.T) {
	r := newScriptedRunner()
	r.fail[lineUpdate] = &runner.TimeoutError{Command: runner.Command{Line: lineUpdate}, Timeout: time.Second}
	o := newTestOrchestrator(t, r, &stubPools{health: inventory.Healthy})

	err := o.UpdateDevice(context.Background(), "tank", "c0t0d0", testSlot)
	if r.count(lineOnline) != 1 {
		t.Fatalf("expected exactly one online, calls=%v", r.calls)
	}
	if ExitCode(err) != ExitTimeout {
		t.Fatalf("exit code = %d (%v)", ExitCode(err), err)
	}
}

func TestUpdateDeviceDegradedPoolNeverOffline(t *testing.T) {
	r := newScriptedRunner()
	o := newTestOrchestrator(t, r, &stubPools{health: inventory.Degraded})

	err := o.UpdateDevice(context.Background(), "tank", "c0t0d0", testSlot)
	var degraded *DegradedPoolError
	if !errors.As(err, &degraded) || degraded.Pool != "tank" {
		t.Fatalf("expected DegradedPoolError, got %v", err)
	}
	if len(r.calls) != 0 {
		t.Fatalf("no command may run for a degraded pool, got %v", r.calls)
	}
	if ExitCode(err) != ExitDegradedPool {
		t.Fatalf("exit code = %d", ExitCode(err))
	}
}

func TestUpdateDeviceHealthQueryFailure(t *testing.T) {
	r := newScriptedRunner()
	o := newTestOrchestrator(t, r, &stubPools{healthErr: &runner.CommandFailure{ExitStatus: 1}})

	if err := o.UpdateDevice(context.Background(), "tank", "c0t0d0", testSlot); err == nil {
		t.Fatal("expected health query failure")
	}
	if len(r.calls) != 0 {
		t.Fatalf("no command may run without a health verdict, got %v", r.calls)
	}
}

func TestUpdateDeviceOfflineFailureStops(t *testing.T) {
	r := newScriptedRunner().failOn(lineOffline, 1)
	o := newTestOrchestrator(t, r, &stubPools{health: inventory.Healthy})

	err := o.UpdateDevice(context.Background(), "tank", "c0t0d0", testSlot)
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageOffline {
		t.Fatalf("expected StageError at offline, got %v", err)
	}
	if !reflect.DeepEqual(r.calls, []string{lineOffline}) {
		t.Fatalf("nothing may follow a failed offline, got %v", r.calls)
	}
}

func TestUpdateDeviceOnlineFailureIsDeviceOffline(t *testing.T) {
	r := newScriptedRunner().failOn(lineUpdate, 2).failOn(lineOnline, 1)
	pools := &stubPools{health: inventory.Healthy}
	o := newTestOrchestrator(t, r, pools)

	err := o.UpdateDevice(context.Background(), "tank", "c0t0d0", testSlot)
	var offline *DeviceOfflineError
	if !errors.As(err, &offline) {
		t.Fatalf("expected DeviceOfflineError, got %v", err)
	}
	if offline.UpdateErr == nil {
		t.Fatal("update error should be carried along")
	}
	if ExitCode(err) != ExitDeviceOffline {
		t.Fatalf("exit code = %d", ExitCode(err))
	}
	if pools.polls != 0 {
		t.Fatalf("no resync wait after a failed online, polls=%d", pools.polls)
	}
}

func TestUpdateDeviceCancelledBeforeOffline(t *testing.T) {
	r := newScriptedRunner()
	o := newTestOrchestrator(t, r, &stubPools{health: inventory.Healthy})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := o.UpdateDevice(ctx, "tank", "c0t0d0", testSlot)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(r.calls) != 0 {
		t.Fatalf("no device may go offline after an interrupt, got %v", r.calls)
	}
	if ExitCode(err) != ExitInterrupted {
		t.Fatalf("exit code = %d", ExitCode(err))
	}
}

func TestUpdateDeviceInterruptDuringResyncKeepsDeviceOnline(t *testing.T) {
	r := newScriptedRunner()
	pools := &stubPools{health: inventory.Healthy, resync: []bool{true, true, true, true}}
	o := newTestOrchestrator(t, r, pools)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sleeps int
	o.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		if sleeps == 3 {
			cancel()
		}
		return ctx.Err()
	}

	err := o.UpdateDevice(ctx, "tank", "c0t0d0", testSlot)
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageResyncClear {
		t.Fatalf("expected StageError at resync_clear, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if r.count(lineOnline) != 1 {
		t.Fatalf("device must be online before the wait, calls=%v", r.calls)
	}
	if pools.polls != 2 {
		t.Fatalf("expected 2 polls before interrupt, got %d", pools.polls)
	}
}

func TestNewOrchestratorRequiresFirmware(t *testing.T) {
	_, err := NewOrchestrator(newScriptedRunner(), &stubPools{}, OrchestratorConfig{}, zerolog.Nop())
	if ExitCode(err) != ExitUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}
