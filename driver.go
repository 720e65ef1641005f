package fwagent

import (
	"context"
	"strings"
	"time"

	"github.com/httprunner/fwagent/pkg/inventory"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// TopologySource captures pools, devices and slots once per run.
type TopologySource interface {
	Snapshot(ctx context.Context) (inventory.Topology, error)
}

// DeviceUpdater takes one device through the update state machine.
type DeviceUpdater interface {
	UpdateDevice(ctx context.Context, pool, device string, slot inventory.Slot) error
}

// PlannedDevice is a device with its resolved slot.
type PlannedDevice struct {
	Device string         `json:"device" yaml:"device"`
	Slot   inventory.Slot `json:"slot" yaml:"slot"`
}

// PlannedPool lists the devices of one pool in update order.
type PlannedPool struct {
	Name    string          `json:"name" yaml:"name"`
	Devices []PlannedDevice `json:"devices" yaml:"devices"`
}

// Plan is the ordered work of a run.
type Plan struct {
	Pools []PlannedPool `json:"pools" yaml:"pools"`
}

// DeviceCount returns the number of devices across all pools.
func (p Plan) DeviceCount() int {
	var n int
	for _, pool := range p.Pools {
		n += len(pool.Devices)
	}
	return n
}

// Summary reports what a run did.
type Summary struct {
	Planned int
	Updated []string
	Elapsed time.Duration
}

// DriverConfig restricts a run.
type DriverConfig struct {
	// Pools limits the run to these pools; empty means every active pool.
	Pools   []string
	Metrics *Metrics
}

// Driver walks every device of every pool, strictly one at a time.
type Driver struct {
	topology TopologySource
	updater  DeviceUpdater
	pools    []string
	metrics  *Metrics
	logger   zerolog.Logger
}

// NewDriver builds a Driver.
func NewDriver(topology TopologySource, updater DeviceUpdater, cfg DriverConfig, logger zerolog.Logger) *Driver {
	var pools []string
	for _, name := range cfg.Pools {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			pools = append(pools, trimmed)
		}
	}
	return &Driver{
		topology: topology,
		updater:  updater,
		pools:    pools,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// Plan snapshots the topology and resolves every device's slot without
// touching anything. Any device without a slot fails the whole plan.
func (d *Driver) Plan(ctx context.Context) (Plan, error) {
	if d.topology == nil {
		return Plan{}, errors.New("driver: topology source is nil")
	}
	topo, err := d.topology.Snapshot(ctx)
	if err != nil {
		return Plan{}, err
	}
	pools, err := d.selectPools(topo.Pools)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{Pools: make([]PlannedPool, 0, len(pools))}
	for _, pool := range pools {
		planned := PlannedPool{Name: pool.Name, Devices: make([]PlannedDevice, 0, len(pool.Devices))}
		for _, device := range pool.Devices {
			slot, ok := topo.Slots.Lookup(device)
			if !ok {
				return Plan{}, &SlotResolutionError{Pool: pool.Name, Device: device}
			}
			planned.Devices = append(planned.Devices, PlannedDevice{Device: device, Slot: slot})
		}
		plan.Pools = append(plan.Pools, planned)
	}
	return plan, nil
}

func (d *Driver) selectPools(all []inventory.Pool) ([]inventory.Pool, error) {
	if len(d.pools) == 0 {
		return all, nil
	}
	byName := make(map[string]inventory.Pool, len(all))
	for _, pool := range all {
		byName[pool.Name] = pool
	}
	selected := make([]inventory.Pool, 0, len(d.pools))
	for _, name := range d.pools {
		pool, ok := byName[name]
		if !ok {
			return nil, &UsageError{Err: errors.Errorf("pool %s is not an active pool", name)}
		}
		selected = append(selected, pool)
	}
	return selected, nil
}

// Run plans the fleet and updates each device in pool order, then device
// order. The first failure stops the run. ctx cancellation is honoured
// between devices.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	started := time.Now()
	summary := Summary{}
	err := d.run(ctx, &summary)
	summary.Elapsed = time.Since(started)
	d.metrics.RunFinished(err)
	return summary, err
}

func (d *Driver) run(ctx context.Context, summary *Summary) error {
	if d.updater == nil {
		return errors.New("driver: device updater is nil")
	}
	plan, err := d.Plan(ctx)
	if err != nil {
		return err
	}
	summary.Planned = plan.DeviceCount()
	if summary.Planned == 0 {
		d.logger.Warn().Msg("no devices to update")
		return nil
	}
	d.logger.Info().
		Int("pools", len(plan.Pools)).
		Int("devices", summary.Planned).
		Msg("firmware rollout planned")

	for i, pool := range plan.Pools {
		for j, dev := range pool.Devices {
			if err := ctx.Err(); err != nil {
				d.logger.Warn().
					Str("pool", pool.Name).
					Str("device", dev.Device).
					Msg("interrupted, not starting next device")
				return errors.Wrap(err, "run interrupted")
			}
			d.logger.Info().
				Str("pool", pool.Name).
				Str("device", dev.Device).
				Int("pool_index", i+1).
				Int("pool_count", len(plan.Pools)).
				Int("device_index", j+1).
				Int("device_count", len(pool.Devices)).
				Msgf("pool %d/%d device %d/%d", i+1, len(plan.Pools), j+1, len(pool.Devices))
			if err := d.updater.UpdateDevice(ctx, pool.Name, dev.Device, dev.Slot); err != nil {
				return err
			}
			summary.Updated = append(summary.Updated, pool.Name+"/"+dev.Device)
		}
	}
	return nil
}
