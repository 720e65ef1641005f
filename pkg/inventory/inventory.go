// Package inventory turns pool and enclosure tool output into structured
// topology facts. Every query goes through a runner.Runner; any failure is
// returned to the caller untouched so a run never guesses at topology.
package inventory

import (
	"context"
	"regexp"
	"strings"

	"github.com/httprunner/fwagent/pkg/commands"
	"github.com/httprunner/fwagent/pkg/runner"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultReservedPools are platform pools never touched by an update run.
var DefaultReservedPools = []string{"rpool"}

// Config tunes an Inventory.
type Config struct {
	Commands      commands.Set
	ReservedPools []string
	// DevicePattern overrides DefaultDevicePattern.
	DevicePattern string
}

// Inventory queries live pool and enclosure state.
type Inventory struct {
	runner   runner.Runner
	commands commands.Set
	reserved map[string]struct{}
	device   *regexp.Regexp
	logger   zerolog.Logger
}

// New builds an Inventory over r.
func New(r runner.Runner, cfg Config, logger zerolog.Logger) (*Inventory, error) {
	if r == nil {
		return nil, errors.New("inventory: runner is nil")
	}
	if cfg.Commands.Templates == nil {
		cfg.Commands = commands.Defaults()
	}
	reservedPools := cfg.ReservedPools
	if reservedPools == nil {
		reservedPools = DefaultReservedPools
	}
	reserved := make(map[string]struct{}, len(reservedPools))
	for _, name := range reservedPools {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			reserved[trimmed] = struct{}{}
		}
	}
	pattern := strings.TrimSpace(cfg.DevicePattern)
	if pattern == "" {
		pattern = DefaultDevicePattern
	}
	device, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "inventory: compile device pattern %q", pattern)
	}
	return &Inventory{
		runner:   r,
		commands: cfg.Commands,
		reserved: reserved,
		device:   device,
		logger:   logger,
	}, nil
}

func (inv *Inventory) query(ctx context.Context, kind string, args map[string]string) (string, error) {
	cmd, err := inv.commands.Build(kind, args)
	if err != nil {
		return "", err
	}
	res, err := inv.runner.Run(ctx, cmd)
	if err != nil {
		return "", errors.Wrapf(err, "inventory: %s", kind)
	}
	return res.Output, nil
}

// ListPools returns pool names in listing order, reserved pools excluded.
func (inv *Inventory) ListPools(ctx context.Context) ([]string, error) {
	out, err := inv.query(ctx, commands.KindListPools, nil)
	if err != nil {
		return nil, err
	}
	var pools []string
	for _, name := range parsePoolList(out) {
		if _, skip := inv.reserved[name]; skip {
			inv.logger.Debug().Str("pool", name).Msg("skip reserved pool")
			continue
		}
		pools = append(pools, name)
	}
	return pools, nil
}

// ListDevices returns the member devices of pool in status order.
func (inv *Inventory) ListDevices(ctx context.Context, pool string) ([]string, error) {
	out, err := inv.query(ctx, commands.KindPoolStatus, map[string]string{commands.ArgPool: pool})
	if err != nil {
		return nil, err
	}
	devices, err := parseDevices(pool, out, inv.device)
	if err != nil {
		return nil, errors.Wrapf(err, "inventory: pool %s", pool)
	}
	return devices, nil
}

// PoolHealth is Healthy only when the health report says so explicitly.
func (inv *Inventory) PoolHealth(ctx context.Context, pool string) (Health, error) {
	out, err := inv.query(ctx, commands.KindPoolHealth, map[string]string{commands.ArgPool: pool})
	if err != nil {
		return Degraded, err
	}
	return parseHealth(out), nil
}

// ResyncInProgress reports whether pool is still resilvering.
func (inv *Inventory) ResyncInProgress(ctx context.Context, pool string) (bool, error) {
	out, err := inv.query(ctx, commands.KindPoolStatus, map[string]string{commands.ArgPool: pool})
	if err != nil {
		return false, err
	}
	return parseResync(out), nil
}

// BuildSlotMap enumerates enclosures and their slots.
func (inv *Inventory) BuildSlotMap(ctx context.Context) (SlotMap, error) {
	out, err := inv.query(ctx, commands.KindListEnclosures, nil)
	if err != nil {
		return SlotMap{}, err
	}
	var all []Slot
	for _, enclosure := range parseEnclosures(out) {
		slotsOut, err := inv.query(ctx, commands.KindListSlots, map[string]string{commands.ArgEnclosure: enclosure})
		if err != nil {
			return SlotMap{}, err
		}
		slots, err := parseSlots(enclosure, slotsOut)
		if err != nil {
			return SlotMap{}, errors.Wrapf(err, "inventory: enclosure %s", enclosure)
		}
		inv.logger.Debug().Str("enclosure", enclosure).Int("slots", len(slots)).Msg("enclosure scanned")
		all = append(all, slots...)
	}
	return NewSlotMap(all), nil
}

// Snapshot captures pools, their devices and the slot map in one pass.
func (inv *Inventory) Snapshot(ctx context.Context) (Topology, error) {
	names, err := inv.ListPools(ctx)
	if err != nil {
		return Topology{}, err
	}
	pools := make([]Pool, 0, len(names))
	for _, name := range names {
		devices, err := inv.ListDevices(ctx, name)
		if err != nil {
			return Topology{}, err
		}
		pools = append(pools, Pool{Name: name, Devices: devices})
	}
	slots, err := inv.BuildSlotMap(ctx)
	if err != nil {
		return Topology{}, err
	}
	inv.logger.Info().
		Int("pools", len(pools)).
		Int("slots", slots.Len()).
		Msg("inventory snapshot taken")
	return Topology{Pools: pools, Slots: slots}, nil
}
