// Package guard reconciles intended proxy state against observed OS state.
// While guard mode is enabled a periodic tick reads the actual OS settings
// and re-asserts the controller's intent on drift, at most once per cooldown
// window per flag so external flapping can never turn into a retry storm.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/XppaiCyberr/clash-verge-xpp/internal/controller"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/sysproxy"
)

// Options tune the reconciliation loop.
type Options struct {
	// Interval between checks.
	Interval time.Duration

	// Cooldown after a correction attempt before the next check may trigger
	// another correction for the same flag.
	Cooldown time.Duration

	// MaxFailures is the number of consecutive failed corrections after
	// which a flag is suspended from auto-correction.
	MaxFailures int
}

// DefaultOptions returns the default guard tuning.
func DefaultOptions() Options {
	return Options{
		Interval:    10 * time.Second,
		Cooldown:    30 * time.Second,
		MaxFailures: 3,
	}
}

// flagHealth tracks correction bookkeeping for one flag.
type flagHealth struct {
	cooldownUntil time.Time
	failures      int
	suspended     bool
}

// Loop is the guard reconciliation task.
type Loop struct {
	ctrl   *controller.Controller
	os     sysproxy.Manager
	clock  clockwork.Clock
	logger *zap.Logger
	opts   Options

	scheduler gocron.Scheduler
	running   bool

	mu     sync.Mutex
	health map[controller.Flag]*flagHealth
}

// New creates a guard loop. The clock is injectable so cooldown windows are
// testable without sleeping.
func New(ctrl *controller.Controller, os sysproxy.Manager, clock clockwork.Clock, opts Options, logger *zap.Logger) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultOptions().Cooldown
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultOptions().MaxFailures
	}
	return &Loop{
		ctrl:   ctrl,
		os:     os,
		clock:  clock,
		logger: logger.Named("guard"),
		opts:   opts,
		health: map[controller.Flag]*flagHealth{
			controller.FlagSystemProxy: {},
			controller.FlagTun:         {},
		},
	}
}

// Start begins periodic reconciliation on the loop's own schedule,
// independent of user-triggered operations.
func (l *Loop) Start(ctx context.Context) error {
	if l.running {
		return fmt.Errorf("guard loop is already running")
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create guard scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(l.opts.Interval),
		gocron.NewTask(func() {
			l.Tick(ctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create guard job: %w", err)
	}

	scheduler.Start()
	l.scheduler = scheduler
	l.running = true
	l.logger.Info("guard loop started", zap.Duration("interval", l.opts.Interval))
	return nil
}

// Stop shuts the loop down.
func (l *Loop) Stop() error {
	if !l.running {
		return nil
	}
	l.running = false
	return l.scheduler.Shutdown()
}

// Tick performs one reconciliation pass. It is a no-op while guard mode is
// disabled.
func (l *Loop) Tick(ctx context.Context) {
	if !l.ctrl.GuardEnabled() {
		return
	}

	result := controller.GuardResultOK
	if r := l.checkFlag(ctx, controller.FlagSystemProxy); worse(r, result) {
		result = r
	}
	if r := l.checkFlag(ctx, controller.FlagTun); worse(r, result) {
		result = r
	}

	l.ctrl.RecordGuardCheck(l.clock.Now(), result)
}

// checkFlag compares one flag's actual OS state against intent and corrects
// drift at most once per cooldown window.
func (l *Loop) checkFlag(ctx context.Context, flag controller.Flag) controller.GuardResult {
	intended, epoch, settled := l.ctrl.Intended(flag)
	if !settled {
		// A user transition is in progress; leave the flag alone.
		return controller.GuardResultOK
	}

	actual, err := l.readActual(ctx, flag)
	if err != nil {
		l.logger.Warn("failed to read OS state", zap.String("flag", string(flag)), zap.Error(err))
		return controller.GuardResultOK
	}

	l.mu.Lock()
	h := l.health[flag]
	if actual == intended {
		// No drift; a clean observation re-arms a suspended flag.
		h.failures = 0
		h.suspended = false
		l.mu.Unlock()
		return controller.GuardResultOK
	}
	if h.suspended {
		l.mu.Unlock()
		return controller.GuardResultSuspended
	}
	now := l.clock.Now()
	if now.Before(h.cooldownUntil) {
		l.mu.Unlock()
		return controller.GuardResultOK
	}
	h.cooldownUntil = now.Add(l.opts.Cooldown)
	l.mu.Unlock()

	l.logger.Info("drift detected, re-asserting intended state",
		zap.String("flag", string(flag)), zap.Bool("intended", intended), zap.Bool("actual", actual))

	err = l.ctrl.CorrectFlag(ctx, flag, epoch)
	if controller.IsStaleCorrection(err) {
		return controller.GuardResultOK
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		h.failures++
		l.logger.Warn("drift correction failed",
			zap.String("flag", string(flag)), zap.Int("consecutive_failures", h.failures), zap.Error(err))
		if h.failures >= l.opts.MaxFailures {
			h.suspended = true
			l.logger.Error("auto-correction suspended after repeated failures; manual intervention required",
				zap.String("flag", string(flag)))
			return controller.GuardResultSuspended
		}
		return controller.GuardResultFailed
	}

	h.failures = 0
	return controller.GuardResultCorrected
}

func (l *Loop) readActual(ctx context.Context, flag controller.Flag) (bool, error) {
	if flag == controller.FlagTun {
		return l.os.Tun(ctx)
	}
	s, err := l.os.SystemProxy(ctx)
	if err != nil {
		return false, err
	}
	return s.Enabled, nil
}

// worse reports whether a is a more severe outcome than b.
func worse(a, b controller.GuardResult) bool {
	return rank(a) > rank(b)
}

func rank(r controller.GuardResult) int {
	switch r {
	case controller.GuardResultCorrected:
		return 1
	case controller.GuardResultFailed:
		return 2
	case controller.GuardResultSuspended:
		return 3
	default:
		return 0
	}
}
