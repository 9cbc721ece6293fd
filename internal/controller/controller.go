// Package controller owns the lifecycle of system-level proxy enablement and
// applies merged configurations to the external core. All mutations to the
// proxy state and the published effective configuration are serialized
// through one mutex-guarded owner so concurrent activations cannot leave the
// core and the recorded state inconsistent.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/XppaiCyberr/clash-verge-xpp/internal/merge"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/sysproxy"
	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

// CoreReloader pushes a finished configuration to the external core.
type CoreReloader interface {
	Reload(ctx context.Context, document []byte) error
}

// flagEntry tracks one flag's state machine. The epoch is bumped on every
// user-triggered change so that an in-flight guard correction for the same
// flag is discarded when it lands.
type flagEntry struct {
	state FlagState
	epoch uint64
}

// Controller is the single mutation gateway for ProxyState.
type Controller struct {
	os     sysproxy.Manager
	core   CoreReloader
	logger *zap.Logger

	// proxy holds the system proxy settings written when enabling.
	proxy sysproxy.Settings

	mu     sync.Mutex
	system flagEntry
	tun    flagEntry
	guard  bool

	lastAppliedHash  string
	active           *merge.EffectiveConfig
	lastGuardCheckAt time.Time
	lastGuardResult  GuardResult
}

// New creates the controller and derives initial state by reading the OS.
// Persisted intent is never trusted across a restart; an inability to read
// the actual OS state here is fatal to the controller instance.
func New(os sysproxy.Manager, core CoreReloader, proxy sysproxy.Settings, logger *zap.Logger) (*Controller, error) {
	c := &Controller{
		os:     os,
		core:   core,
		proxy:  proxy,
		logger: logger.Named("controller"),
	}

	ctx := context.Background()
	actual, err := os.SystemProxy(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot read OS system proxy state: %w", err)
	}
	tunUp, err := os.Tun(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot read TUN adapter state: %w", err)
	}

	c.system.state = settled(actual.Enabled)
	c.tun.state = settled(tunUp)

	c.logger.Info("derived initial proxy state from OS",
		zap.String("system_proxy", string(c.system.state)),
		zap.String("tun", string(c.tun.state)))
	return c, nil
}

// State returns a snapshot of the current proxy state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		SystemProxy:           c.system.state,
		Tun:                   c.tun.state,
		Guard:                 c.guard,
		LastAppliedConfigHash: c.lastAppliedHash,
		LastGuardCheckAt:      c.lastGuardCheckAt,
		LastGuardResult:       c.lastGuardResult,
	}
}

// ActiveConfig returns the currently activated effective configuration, or
// nil when none has been activated yet.
func (c *Controller) ActiveConfig() *merge.EffectiveConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Activate pushes the configuration to the external core. Re-activating a
// configuration whose hash equals the last applied hash is a no-op that
// still succeeds. On reload failure the prior running configuration and the
// recorded hash are left untouched.
func (c *Controller) Activate(ctx context.Context, cfg *merge.EffectiveConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg.Hash == c.lastAppliedHash {
		c.logger.Debug("configuration already active", zap.String("hash", cfg.Hash))
		return nil
	}

	if err := c.core.Reload(ctx, cfg.Document); err != nil {
		return err
	}

	c.lastAppliedHash = cfg.Hash
	c.active = cfg
	c.logger.Info("configuration activated", zap.String("hash", cfg.Hash))
	return nil
}

// SetSystemProxy enables or disables the OS system proxy.
func (c *Controller) SetSystemProxy(ctx context.Context, enabled bool) error {
	return c.setFlag(ctx, FlagSystemProxy, enabled)
}

// SetTun enables or disables the virtual network adapter.
func (c *Controller) SetTun(ctx context.Context, enabled bool) error {
	return c.setFlag(ctx, FlagTun, enabled)
}

// SetGuard flips guard-mode intent. The guard loop observes it on its next
// tick.
func (c *Controller) SetGuard(enabled bool) {
	c.mu.Lock()
	c.guard = enabled
	c.mu.Unlock()
	c.logger.Info("guard mode changed", zap.Bool("enabled", enabled))
}

// GuardEnabled reports whether guard mode is on.
func (c *Controller) GuardEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guard
}

// setFlag drives one flag through its transient state, applies the OS
// mutation, and verifies it with an immediate read-back. A failure reverts
// the state machine to where it was.
func (c *Controller) setFlag(ctx context.Context, flag Flag, enabled bool) error {
	c.mu.Lock()
	entry := c.entry(flag)
	prior := entry.state
	entry.epoch++ // cancels any guard correction in flight for this flag
	if enabled {
		entry.state = StateEnabling
	} else {
		entry.state = StateDisabling
	}
	c.mu.Unlock()

	err := c.applyFlag(ctx, flag, enabled)

	c.mu.Lock()
	defer c.mu.Unlock()
	entry = c.entry(flag)
	if err != nil {
		entry.state = prior
		return err
	}
	entry.state = settled(enabled)
	c.logger.Info("flag applied", zap.String("flag", string(flag)), zap.Bool("enabled", enabled))
	return nil
}

// Intended reports the settled intent and epoch for a flag; ok is false while
// the flag is mid-transition. The guard loop uses this to decide whether a
// drift correction is warranted and to detect stale corrections.
func (c *Controller) Intended(flag Flag) (enabled bool, epoch uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.entry(flag)
	if !entry.state.Settled() {
		return false, entry.epoch, false
	}
	return entry.state == StateEnabled, entry.epoch, true
}

// CorrectFlag re-applies the intended state for a drifted flag on behalf of
// the guard loop. A correction whose epoch no longer matches (a user call
// arrived first) is discarded without touching the OS result.
func (c *Controller) CorrectFlag(ctx context.Context, flag Flag, epoch uint64) error {
	c.mu.Lock()
	entry := c.entry(flag)
	if entry.epoch != epoch || !entry.state.Settled() {
		c.mu.Unlock()
		return errStaleCorrection
	}
	intended := entry.state == StateEnabled
	c.mu.Unlock()

	err := c.applyFlag(ctx, flag, intended)

	c.mu.Lock()
	defer c.mu.Unlock()
	entry = c.entry(flag)
	if entry.epoch != epoch {
		// A user call superseded this correction while it was in flight;
		// discard the outcome.
		return errStaleCorrection
	}
	return err
}

// RecordGuardCheck stores the outcome of a guard tick.
func (c *Controller) RecordGuardCheck(at time.Time, result GuardResult) {
	c.mu.Lock()
	c.lastGuardCheckAt = at
	c.lastGuardResult = result
	c.mu.Unlock()
}

var errStaleCorrection = fmt.Errorf("correction superseded by user action")

// IsStaleCorrection reports whether a CorrectFlag error means the correction
// was discarded rather than failed.
func IsStaleCorrection(err error) bool {
	return err == errStaleCorrection
}

func (c *Controller) applyFlag(ctx context.Context, flag Flag, enabled bool) error {
	switch flag {
	case FlagSystemProxy:
		target := c.proxy
		target.Enabled = enabled
		if err := c.os.SetSystemProxy(ctx, target); err != nil {
			return err
		}
		actual, err := c.os.SystemProxy(ctx)
		if err != nil {
			return err
		}
		if !actual.Equal(target) {
			return &pkgerrors.OSStateError{
				Flag:     string(flag),
				Expected: target.String(),
				Actual:   actual.String(),
			}
		}
		return nil
	case FlagTun:
		if err := c.os.SetTun(ctx, enabled); err != nil {
			return err
		}
		actual, err := c.os.Tun(ctx)
		if err != nil {
			return err
		}
		if actual != enabled {
			return &pkgerrors.OSStateError{
				Flag:     string(flag),
				Expected: fmt.Sprint(enabled),
				Actual:   fmt.Sprint(actual),
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown flag %q", flag)
	}
}

func (c *Controller) entry(flag Flag) *flagEntry {
	if flag == FlagTun {
		return &c.tun
	}
	return &c.system
}

func settled(enabled bool) FlagState {
	if enabled {
		return StateEnabled
	}
	return StateDisabled
}
