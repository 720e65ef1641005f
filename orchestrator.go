// Package fwagent rolls disk firmware across storage pools one device at a
// time: health check, offline, update, online, then wait for the resilver
// before moving on.
package fwagent

import (
	"context"
	"strings"
	"time"

	"github.com/httprunner/fwagent/pkg/commands"
	"github.com/httprunner/fwagent/pkg/inventory"
	"github.com/httprunner/fwagent/pkg/runner"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is the pause between resilver status polls.
const DefaultPollInterval = 5 * time.Second

// PoolChecker answers the live pool questions the state machine asks.
type PoolChecker interface {
	PoolHealth(ctx context.Context, pool string) (inventory.Health, error)
	ResyncInProgress(ctx context.Context, pool string) (bool, error)
}

// OrchestratorConfig configures the per-device state machine.
type OrchestratorConfig struct {
	Commands     commands.Set
	Firmware     string
	PollInterval time.Duration
	Metrics      *Metrics
}

// Orchestrator drives a single device through
// idle → health_checked → offline → updated → online → resync_clear → done.
type Orchestrator struct {
	runner   runner.Runner
	pools    PoolChecker
	commands commands.Set
	firmware string
	poll     time.Duration
	metrics  *Metrics
	logger   zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator validates cfg and builds an Orchestrator.
func NewOrchestrator(r runner.Runner, pools PoolChecker, cfg OrchestratorConfig, logger zerolog.Logger) (*Orchestrator, error) {
	if r == nil {
		return nil, errors.New("orchestrator: runner is nil")
	}
	if pools == nil {
		return nil, errors.New("orchestrator: pool checker is nil")
	}
	if strings.TrimSpace(cfg.Firmware) == "" {
		return nil, &UsageError{Err: errors.New("firmware path is required")}
	}
	if cfg.Commands.Templates == nil {
		cfg.Commands = commands.Defaults()
	}
	if err := cfg.Commands.Validate(); err != nil {
		return nil, &UsageError{Err: err}
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Orchestrator{
		runner:   r,
		pools:    pools,
		commands: cfg.Commands,
		firmware: cfg.Firmware,
		poll:     poll,
		metrics:  cfg.Metrics,
		logger:   logger,
		sleep:    sleepContext,
	}, nil
}

// UpdateDevice runs the full state machine for one device. slot must already
// be resolved.
//
// Once the offline command has succeeded the online command is always
// issued, whatever happens to the firmware update. Cancelling ctx prevents
// the device from being taken offline and interrupts the resilver wait, but
// never skips the online step.
func (o *Orchestrator) UpdateDevice(ctx context.Context, pool, device string, slot inventory.Slot) error {
	attempt := newUpdateAttempt(pool, device, slot)
	logger := o.logger.With().
		Str("pool", pool).
		Str("device", device).
		Str("slot", slot.String()).
		Logger()

	err := o.run(ctx, attempt, logger)
	o.metrics.DeviceFinished(attempt, time.Since(attempt.StartedAt))
	if err != nil {
		logger.Error().Err(err).Str("failed_at", string(attempt.FailedAt)).Msg("device update failed")
		return err
	}
	logger.Info().Dur("elapsed", time.Since(attempt.StartedAt)).Msg("device update done")
	return nil
}

func (o *Orchestrator) run(ctx context.Context, attempt *UpdateAttempt, logger zerolog.Logger) error {
	pool, device, slot := attempt.Pool, attempt.Device, attempt.Slot

	health, err := o.pools.PoolHealth(ctx, pool)
	if err != nil {
		return attempt.fail(StageHealthChecked, err)
	}
	if health != inventory.Healthy {
		return attempt.fail(StageHealthChecked, &DegradedPoolError{Pool: pool})
	}
	attempt.advance(StageHealthChecked)

	if err := ctx.Err(); err != nil {
		return attempt.fail(StageOffline, err)
	}
	args := map[string]string{
		commands.ArgPool:      pool,
		commands.ArgDevice:    device,
		commands.ArgEnclosure: slot.Enclosure,
		commands.ArgSlot:      slot.Slot,
		commands.ArgFirmware:  o.firmware,
	}
	if err := o.exec(ctx, commands.KindOffline, args); err != nil {
		return attempt.fail(StageOffline, err)
	}
	attempt.advance(StageOffline)
	logger.Info().Msg("device offline")

	// from here on the device must come back regardless of interrupts
	held := context.WithoutCancel(ctx)
	updateErr := o.exec(held, commands.KindFirmwareUpdate, args)
	if updateErr != nil {
		logger.Error().Err(updateErr).Msg("firmware update failed, bringing device back online")
	} else {
		attempt.advance(StageUpdated)
		logger.Info().Str("firmware", o.firmware).Msg("firmware updated")
	}

	if err := o.exec(held, commands.KindOnline, args); err != nil {
		return attempt.fail(StageOnline, &DeviceOfflineError{
			Pool:      pool,
			Device:    device,
			Err:       err,
			UpdateErr: updateErr,
		})
	}
	if updateErr != nil {
		logger.Info().Msg("device back online after failed update")
		return attempt.fail(StageUpdated, updateErr)
	}
	attempt.advance(StageOnline)
	logger.Info().Msg("device online")

	if err := o.waitResync(ctx, pool, logger); err != nil {
		return attempt.fail(StageResyncClear, err)
	}
	attempt.advance(StageResyncClear)
	attempt.advance(StageDone)
	return nil
}

func (o *Orchestrator) exec(ctx context.Context, kind string, args map[string]string) error {
	cmd, err := o.commands.Build(kind, args)
	if err != nil {
		return err
	}
	_, err = o.runner.Run(ctx, cmd)
	return err
}

// waitResync blocks until the pool reports no resilver in progress. There is
// no upper bound; only ctx ends the wait early.
func (o *Orchestrator) waitResync(ctx context.Context, pool string, logger zerolog.Logger) error {
	started := time.Now()
	for polls := 1; ; polls++ {
		if err := o.sleep(ctx, o.poll); err != nil {
			return errors.Wrap(err, "resilver wait interrupted")
		}
		busy, err := o.pools.ResyncInProgress(ctx, pool)
		if err != nil {
			return err
		}
		if !busy {
			waited := time.Since(started)
			o.metrics.ResyncWaited(waited)
			logger.Info().Int("polls", polls).Dur("waited", waited).Msg("resilver clear")
			return nil
		}
		logger.Debug().Int("polls", polls).Msg("resilver in progress")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
