package fwagent

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/httprunner/fwagent/pkg/commands"
	"github.com/httprunner/fwagent/pkg/inventory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

const poolAResilvering = `  pool: poolA
 state: ONLINE
  scan: resilver in progress since Sun Oct 18 10:00:00 2026
config:

	NAME        STATE     READ WRITE CKSUM
	poolA       ONLINE       0     0     0
	  mirror-0  ONLINE       0     0     0
	    c0t0d0  ONLINE       0     0     0
	    c0t1d0  ONLINE       0     0     0

errors: No known data errors
`

const poolASingle = `  pool: poolA
 state: ONLINE
  scan: resilvered 1.2G in 0h3m with 0 errors on Sun Oct 18 10:03:00 2026
config:

	NAME        STATE     READ WRITE CKSUM
	poolA       ONLINE       0     0     0
	  c0t0d0    ONLINE       0     0     0

errors: No known data errors
`

func newFleet(t *testing.T, r *scriptedRunner, cfg DriverConfig) (*Driver, *Metrics) {
	t.Helper()
	inv, err := inventory.New(r, inventory.Config{Commands: commands.Defaults()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("inventory.New failed: %v", err)
	}
	metrics := NewMetrics()
	orch, err := NewOrchestrator(r, inv, OrchestratorConfig{
		Commands: commands.Defaults(),
		Firmware: "/fw/disk.bin",
		Metrics:  metrics,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	orch.sleep = noSleep
	cfg.Metrics = metrics
	return NewDriver(inv, orch, cfg, zerolog.Nop()), metrics
}

func singleDeviceFleet() *scriptedRunner {
	return newScriptedRunner().
		on("zpool list -H -o name", "rpool\npoolA\n").
		on("zpool status poolA", poolASingle, poolAResilvering, poolAResilvering, poolASingle).
		on("sesctl list", "ID  VENDOR\n1   HGST\n").
		on("sesctl slots 1", "3  encl1/slot3/c0t0d0p0  ok\n").
		on("zpool status -x poolA", "pool 'poolA' is healthy\n")
}

func TestRunSingleDeviceEndToEnd(t *testing.T) {
	r := singleDeviceFleet()
	driver, metrics := newFleet(t, r, DriverConfig{})

	summary, err := driver.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	want := []string{
		"zpool list -H -o name",
		"zpool status poolA",
		"sesctl list",
		"sesctl slots 1",
		"zpool status -x poolA",
		"zpool offline -t poolA c0t0d0",
		"fwupdate update disk-firmware -e 1 -s 3 -f /fw/disk.bin",
		"zpool online poolA c0t0d0",
		"zpool status poolA",
		"zpool status poolA",
		"zpool status poolA",
	}
	if !reflect.DeepEqual(r.calls, want) {
		t.Fatalf("command sequence mismatch:\n got %v\nwant %v", r.calls, want)
	}
	if summary.Planned != 1 || !reflect.DeepEqual(summary.Updated, []string{"poolA/c0t0d0"}) {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := testutil.ToFloat64(metrics.devicesTotal.WithLabelValues(string(StageDone))); got != 1 {
		t.Fatalf("devices done metric = %v", got)
	}
}

func TestRunUpdateFailureStillOnlinesThenAborts(t *testing.T) {
	r := singleDeviceFleet().failOn("fwupdate update disk-firmware -e 1 -s 3 -f /fw/disk.bin", 1)
	driver, _ := newFleet(t, r, DriverConfig{})

	_, err := driver.Run(context.Background())
	if err == nil {
		t.Fatal("expected run to abort")
	}
	if r.count("zpool online poolA c0t0d0") != 1 {
		t.Fatalf("online must be issued after a failed update, calls=%v", r.calls)
	}
	if last := r.calls[len(r.calls)-1]; last != "zpool online poolA c0t0d0" {
		t.Fatalf("run must stop right after onlining, last call %s", last)
	}
	if ExitCode(err) == ExitOK {
		t.Fatal("exit status must be non-zero")
	}
}

func TestRunDegradedPoolAbortsBeforeOffline(t *testing.T) {
	r := singleDeviceFleet().on("zpool status -x poolA", "  pool: poolA\n state: DEGRADED\n")
	driver, _ := newFleet(t, r, DriverConfig{})

	_, err := driver.Run(context.Background())
	var degraded *DegradedPoolError
	if !errors.As(err, &degraded) {
		t.Fatalf("expected DegradedPoolError, got %v", err)
	}
	for _, call := range r.calls {
		if strings.Contains(call, "offline") {
			t.Fatalf("offline issued for a degraded pool: %v", r.calls)
		}
	}
	if ExitCode(err) != ExitDegradedPool {
		t.Fatalf("exit code = %d", ExitCode(err))
	}
}

func TestRunUnresolvedSlotAbortsBeforeAnyAction(t *testing.T) {
	r := singleDeviceFleet().on("sesctl slots 1", "3  encl1/slot3/c9t9d0p0  ok\n")
	driver, _ := newFleet(t, r, DriverConfig{})

	_, err := driver.Run(context.Background())
	var slotErr *SlotResolutionError
	if !errors.As(err, &slotErr) || slotErr.Device != "c0t0d0" {
		t.Fatalf("expected SlotResolutionError, got %v", err)
	}
	if r.count("zpool status -x poolA") != 0 {
		t.Fatalf("no device work may start before every slot resolves, calls=%v", r.calls)
	}
	if ExitCode(err) != ExitSlotResolution {
		t.Fatalf("exit code = %d", ExitCode(err))
	}
}

type recordingUpdater struct {
	calls  []string
	failOn string
	cancel context.CancelFunc
}

func (u *recordingUpdater) UpdateDevice(ctx context.Context, pool, device string, slot inventory.Slot) error {
	key := pool + "/" + device
	u.calls = append(u.calls, key)
	if key == u.failOn {
		return errors.New("boom")
	}
	if u.cancel != nil {
		u.cancel()
	}
	return nil
}

type staticTopology struct {
	topo inventory.Topology
}

func (s staticTopology) Snapshot(ctx context.Context) (inventory.Topology, error) {
	return s.topo, nil
}

func twoPoolTopology() staticTopology {
	return staticTopology{topo: inventory.Topology{
		Pools: []inventory.Pool{
			{Name: "tank", Devices: []string{"c0t0d0", "c0t1d0"}},
			{Name: "archive", Devices: []string{"c1t0d0"}},
		},
		Slots: inventory.NewSlotMap([]inventory.Slot{
			{Enclosure: "1", Slot: "0", Device: "c0t0d0p0"},
			{Enclosure: "1", Slot: "1", Device: "c0t1d0p0"},
			{Enclosure: "2", Slot: "0", Device: "c1t0d0p0"},
		}),
	}}
}

func TestRunVisitsDevicesInPoolOrder(t *testing.T) {
	updater := &recordingUpdater{}
	driver := NewDriver(twoPoolTopology(), updater, DriverConfig{}, zerolog.Nop())

	summary, err := driver.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	want := []string{"tank/c0t0d0", "tank/c0t1d0", "archive/c1t0d0"}
	if !reflect.DeepEqual(updater.calls, want) {
		t.Fatalf("order mismatch: %v", updater.calls)
	}
	if summary.Planned != 3 || len(summary.Updated) != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRunReportsPoolAndDeviceProgress(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	driver := NewDriver(twoPoolTopology(), &recordingUpdater{}, DriverConfig{}, logger)

	if _, err := driver.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`"message":"pool 1/2 device 1/2"`,
		`"message":"pool 1/2 device 2/2"`,
		`"message":"pool 2/2 device 1/1"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("progress %s missing from log:\n%s", want, out)
		}
	}
	if !strings.Contains(out, `"pool":"archive","device":"c1t0d0","pool_index":2,"pool_count":2,"device_index":1,"device_count":1`) {
		t.Fatalf("progress fields missing for archive/c1t0d0:\n%s", out)
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	updater := &recordingUpdater{failOn: "tank/c0t1d0"}
	driver := NewDriver(twoPoolTopology(), updater, DriverConfig{}, zerolog.Nop())

	summary, err := driver.Run(context.Background())
	if err == nil {
		t.Fatal("expected failure")
	}
	if !reflect.DeepEqual(updater.calls, []string{"tank/c0t0d0", "tank/c0t1d0"}) {
		t.Fatalf("run continued past a failure: %v", updater.calls)
	}
	if !reflect.DeepEqual(summary.Updated, []string{"tank/c0t0d0"}) {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRunInterruptStopsBeforeNextDevice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updater := &recordingUpdater{cancel: cancel}
	driver := NewDriver(twoPoolTopology(), updater, DriverConfig{}, zerolog.Nop())

	_, err := driver.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(updater.calls) != 1 {
		t.Fatalf("only the in-flight device may complete, got %v", updater.calls)
	}
	if ExitCode(err) != ExitInterrupted {
		t.Fatalf("exit code = %d", ExitCode(err))
	}
}

func TestPlanPoolFilter(t *testing.T) {
	driver := NewDriver(twoPoolTopology(), nil, DriverConfig{Pools: []string{"archive"}}, zerolog.Nop())
	plan, err := driver.Plan(context.Background())
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(plan.Pools) != 1 || plan.Pools[0].Name != "archive" || plan.DeviceCount() != 1 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if plan.Pools[0].Devices[0].Slot.Enclosure != "2" {
		t.Fatalf("slot not resolved: %+v", plan.Pools[0].Devices[0])
	}

	driver = NewDriver(twoPoolTopology(), nil, DriverConfig{Pools: []string{"missing"}}, zerolog.Nop())
	_, err = driver.Plan(context.Background())
	if ExitCode(err) != ExitUsage {
		t.Fatalf("expected usage error for unknown pool, got %v", err)
	}
}
