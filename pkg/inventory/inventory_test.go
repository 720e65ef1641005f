package inventory

import (
	"context"
	"testing"

	"github.com/httprunner/fwagent/pkg/runner"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	outputs map[string]string
	fail    map[string]error
	calls   []string
}

func (r *stubRunner) Run(ctx context.Context, cmd runner.Command) (runner.Result, error) {
	r.calls = append(r.calls, cmd.Line)
	if err, ok := r.fail[cmd.Line]; ok {
		return runner.Result{Command: cmd, ExitStatus: 1}, err
	}
	return runner.Result{Command: cmd, Output: r.outputs[cmd.Line]}, nil
}

func newTestInventory(t *testing.T, r runner.Runner) *Inventory {
	t.Helper()
	inv, err := New(r, Config{}, zerolog.Nop())
	require.NoError(t, err)
	return inv
}

func TestListPoolsExcludesReserved(t *testing.T) {
	r := &stubRunner{outputs: map[string]string{
		"zpool list -H -o name": "rpool\ntank\narchive\n",
	}}
	pools, err := newTestInventory(t, r).ListPools(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"tank", "archive"}, pools)
}

func TestListPoolsCustomReserved(t *testing.T) {
	r := &stubRunner{outputs: map[string]string{
		"zpool list -H -o name": "rpool\ntank\nzones\n",
	}}
	inv, err := New(r, Config{ReservedPools: []string{"zones"}}, zerolog.Nop())
	require.NoError(t, err)
	pools, err := inv.ListPools(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"rpool", "tank"}, pools)
}

func TestQueryFailureIsReturned(t *testing.T) {
	failure := &runner.CommandFailure{ExitStatus: 1, Output: "no pools"}
	r := &stubRunner{fail: map[string]error{"zpool list -H -o name": failure}}
	_, err := newTestInventory(t, r).ListPools(context.Background())
	var got *runner.CommandFailure
	require.ErrorAs(t, err, &got)
	require.Equal(t, "no pools", got.Output)
}

func TestPoolHealthAndResync(t *testing.T) {
	r := &stubRunner{outputs: map[string]string{
		"zpool status -x tank": "pool 'tank' is healthy\n",
		"zpool status tank":    resilverStatus,
	}}
	inv := newTestInventory(t, r)

	health, err := inv.PoolHealth(context.Background(), "tank")
	require.NoError(t, err)
	require.Equal(t, Healthy, health)

	resync, err := inv.ResyncInProgress(context.Background(), "tank")
	require.NoError(t, err)
	require.True(t, resync)
}

func TestPoolHealthQuotesPoolName(t *testing.T) {
	r := &stubRunner{outputs: map[string]string{}}
	_, err := newTestInventory(t, r).PoolHealth(context.Background(), "tank; reboot")
	require.NoError(t, err)
	require.Equal(t, []string{"zpool status -x 'tank; reboot'"}, r.calls)
}

func TestSnapshotBuildsTopology(t *testing.T) {
	r := &stubRunner{outputs: map[string]string{
		"zpool list -H -o name": "rpool\ntank\n",
		"zpool status tank":     mirrorStatus,
		"sesctl list":           "ID VENDOR\n1 HGST\n",
		"sesctl slots 1":        "0 encl1/slot0/c0t0d0p0\n1 encl1/slot1/c0t1d0p0\n",
	}}
	topo, err := newTestInventory(t, r).Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, topo.Pools, 1)
	require.Equal(t, "tank", topo.Pools[0].Name)
	require.Equal(t, []string{"c0t0d0", "c0t1d0", "c0t2d0", "c0t3d0", "c1t0d0s0"}, topo.Pools[0].Devices)
	require.Equal(t, 2, topo.Slots.Len())

	slot, ok := topo.Slots.Lookup("c0t1d0")
	require.True(t, ok)
	require.Equal(t, Slot{Enclosure: "1", Slot: "1", Device: "c0t1d0p0"}, slot)
}

func TestNewRejectsBadDevicePattern(t *testing.T) {
	_, err := New(&stubRunner{}, Config{DevicePattern: "("}, zerolog.Nop())
	require.Error(t, err)
}
