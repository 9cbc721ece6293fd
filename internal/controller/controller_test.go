package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/XppaiCyberr/clash-verge-xpp/internal/merge"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/sysproxy"
	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

// fakeOS is an in-memory sysproxy.Manager with injectable faults.
type fakeOS struct {
	mu    sync.Mutex
	proxy sysproxy.Settings
	tun   bool

	readErr     error
	setErr      error
	ignoreWrite bool

	setProxyCalls int
	setTunCalls   int
}

func (f *fakeOS) SystemProxy(ctx context.Context) (sysproxy.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.proxy, f.readErr
}

func (f *fakeOS) SetSystemProxy(ctx context.Context, s sysproxy.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setProxyCalls++
	if f.setErr != nil {
		return f.setErr
	}
	if !f.ignoreWrite {
		f.proxy = s
	}
	return nil
}

func (f *fakeOS) Tun(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tun, f.readErr
}

func (f *fakeOS) SetTun(ctx context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setTunCalls++
	if f.setErr != nil {
		return f.setErr
	}
	if !f.ignoreWrite {
		f.tun = enabled
	}
	return nil
}

type fakeCore struct {
	reloads int
	err     error
}

func (f *fakeCore) Reload(ctx context.Context, document []byte) error {
	f.reloads++
	return f.err
}

var testProxy = sysproxy.Settings{Host: "127.0.0.1", Port: 7897, Bypass: []string{"localhost"}}

func newTestController(t *testing.T, os *fakeOS, core *fakeCore) *Controller {
	t.Helper()
	ctrl, err := New(os, core, testProxy, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return ctrl
}

func testConfig(hash string) *merge.EffectiveConfig {
	return &merge.EffectiveConfig{Document: []byte("proxies: []\n"), Hash: hash, Stable: true}
}

func TestNewDerivesStateFromOS(t *testing.T) {
	os := &fakeOS{proxy: sysproxy.Settings{Enabled: true, Host: "127.0.0.1", Port: 7897}, tun: false}
	ctrl := newTestController(t, os, &fakeCore{})

	state := ctrl.State()
	if state.SystemProxy != StateEnabled {
		t.Errorf("expected system proxy enabled from OS read, got %s", state.SystemProxy)
	}
	if state.Tun != StateDisabled {
		t.Errorf("expected tun disabled from OS read, got %s", state.Tun)
	}
}

func TestNewFailsWhenOSUnreadable(t *testing.T) {
	os := &fakeOS{readErr: fmt.Errorf("gsettings unavailable")}
	if _, err := New(os, &fakeCore{}, testProxy, zap.NewNop()); err == nil {
		t.Fatal("expected constructor to fail when OS state cannot be read")
	}
}

func TestActivateIdempotentByHash(t *testing.T) {
	core := &fakeCore{}
	ctrl := newTestController(t, &fakeOS{}, core)
	ctx := context.Background()

	if err := ctrl.Activate(ctx, testConfig("aaa")); err != nil {
		t.Fatalf("Activate() error: %v", err)
	}
	if err := ctrl.Activate(ctx, testConfig("aaa")); err != nil {
		t.Fatalf("Activate() error: %v", err)
	}
	if core.reloads != 1 {
		t.Errorf("expected exactly one reload for the same hash, got %d", core.reloads)
	}

	if err := ctrl.Activate(ctx, testConfig("bbb")); err != nil {
		t.Fatalf("Activate() error: %v", err)
	}
	if core.reloads != 2 {
		t.Errorf("expected a second reload for a new hash, got %d", core.reloads)
	}
}

func TestActivateFailureKeepsPriorConfig(t *testing.T) {
	core := &fakeCore{}
	ctrl := newTestController(t, &fakeOS{}, core)
	ctx := context.Background()

	if err := ctrl.Activate(ctx, testConfig("aaa")); err != nil {
		t.Fatalf("Activate() error: %v", err)
	}

	core.err = &pkgerrors.ActivationError{Detail: "core rejected configuration"}
	err := ctrl.Activate(ctx, testConfig("bbb"))
	var aerr *pkgerrors.ActivationError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected ActivationError, got %v", err)
	}

	if got := ctrl.State().LastAppliedConfigHash; got != "aaa" {
		t.Errorf("failed activation must not advance the applied hash, got %s", got)
	}
	if cfg := ctrl.ActiveConfig(); cfg == nil || cfg.Hash != "aaa" {
		t.Error("failed activation must keep the prior active config")
	}
}

func TestSetSystemProxyAppliesAndVerifies(t *testing.T) {
	os := &fakeOS{}
	ctrl := newTestController(t, os, &fakeCore{})
	ctx := context.Background()

	if err := ctrl.SetSystemProxy(ctx, true); err != nil {
		t.Fatalf("SetSystemProxy() error: %v", err)
	}
	if ctrl.State().SystemProxy != StateEnabled {
		t.Errorf("expected enabled, got %s", ctrl.State().SystemProxy)
	}
	if !os.proxy.Enabled || os.proxy.Host != testProxy.Host || os.proxy.Port != testProxy.Port {
		t.Errorf("unexpected OS settings: %+v", os.proxy)
	}

	if err := ctrl.SetSystemProxy(ctx, false); err != nil {
		t.Fatalf("SetSystemProxy() error: %v", err)
	}
	if ctrl.State().SystemProxy != StateDisabled {
		t.Errorf("expected disabled, got %s", ctrl.State().SystemProxy)
	}
}

func TestSetFlagReadBackMismatch(t *testing.T) {
	os := &fakeOS{ignoreWrite: true}
	ctrl := newTestController(t, os, &fakeCore{})

	err := ctrl.SetSystemProxy(context.Background(), true)
	var oserr *pkgerrors.OSStateError
	if !errors.As(err, &oserr) {
		t.Fatalf("expected OSStateError, got %v", err)
	}
	if ctrl.State().SystemProxy != StateDisabled {
		t.Errorf("state must revert on verification failure, got %s", ctrl.State().SystemProxy)
	}
}

func TestSetTun(t *testing.T) {
	os := &fakeOS{}
	ctrl := newTestController(t, os, &fakeCore{})
	ctx := context.Background()

	if err := ctrl.SetTun(ctx, true); err != nil {
		t.Fatalf("SetTun() error: %v", err)
	}
	if !os.tun || ctrl.State().Tun != StateEnabled {
		t.Errorf("expected tun up, os=%v state=%s", os.tun, ctrl.State().Tun)
	}
}

func TestCorrectFlagReappliesIntent(t *testing.T) {
	os := &fakeOS{}
	ctrl := newTestController(t, os, &fakeCore{})
	ctx := context.Background()

	if err := ctrl.SetSystemProxy(ctx, true); err != nil {
		t.Fatalf("SetSystemProxy() error: %v", err)
	}

	// Something outside flips the OS state.
	os.mu.Lock()
	os.proxy.Enabled = false
	os.mu.Unlock()

	_, epoch, ok := ctrl.Intended(FlagSystemProxy)
	if !ok {
		t.Fatal("expected settled intent")
	}
	if err := ctrl.CorrectFlag(ctx, FlagSystemProxy, epoch); err != nil {
		t.Fatalf("CorrectFlag() error: %v", err)
	}
	if !os.proxy.Enabled {
		t.Error("correction must re-apply the intended OS state")
	}
}

func TestCorrectFlagStaleEpoch(t *testing.T) {
	os := &fakeOS{}
	ctrl := newTestController(t, os, &fakeCore{})
	ctx := context.Background()

	if err := ctrl.SetSystemProxy(ctx, true); err != nil {
		t.Fatalf("SetSystemProxy() error: %v", err)
	}
	_, epoch, _ := ctrl.Intended(FlagSystemProxy)

	// A user call lands before the guard correction does.
	if err := ctrl.SetSystemProxy(ctx, false); err != nil {
		t.Fatalf("SetSystemProxy() error: %v", err)
	}

	callsBefore := os.setProxyCalls
	err := ctrl.CorrectFlag(ctx, FlagSystemProxy, epoch)
	if !IsStaleCorrection(err) {
		t.Fatalf("expected stale correction, got %v", err)
	}
	if os.setProxyCalls != callsBefore {
		t.Error("stale correction must not touch the OS")
	}
	if ctrl.State().SystemProxy != StateDisabled {
		t.Error("stale correction must not override the user's state")
	}
}

func TestIntendedUnsettledDuringTransition(t *testing.T) {
	ctrl := newTestController(t, &fakeOS{}, &fakeCore{})
	ctrl.mu.Lock()
	ctrl.system.state = StateEnabling
	ctrl.mu.Unlock()

	if _, _, ok := ctrl.Intended(FlagSystemProxy); ok {
		t.Error("mid-transition flag must not report a settled intent")
	}
}
