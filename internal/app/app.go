package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/XppaiCyberr/clash-verge-xpp/internal/backup"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/controller"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/core"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/guard"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/merge"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/paths"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/profile"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/script"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage/sqlite"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/sysproxy"
)

// Settings keys used by the engine.
const (
	SettingCoreURL    = "core.url"
	SettingCoreSecret = "core.secret"
	SettingProxyHost  = "proxy.host"
	SettingProxyPort  = "proxy.port"
	SettingSyncURL    = "sync.url"
	SettingSyncUser   = "sync.username"
	SettingSyncPass   = "sync.password"
	SettingSyncSpace  = "sync.namespace"
)

// App wires the engine's services together.
type App struct {
	Storage  storage.Storage
	Profiles *profile.Manager
	Engine   *merge.Engine
	Core     *core.Client
	Logger   *zap.Logger

	ctrl      *controller.Controller
	guardLoop *guard.Loop
}

// New creates a new application instance
func New(verbose bool) (*App, error) {
	logger, err := newLogger(verbose)
	if err != nil {
		return nil, err
	}

	dataDir, err := paths.DataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}

	store, err := sqlite.New(filepath.Join(dataDir, "profiles.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	profiles := profile.NewManager(store, profile.NewFetcher(profile.DefaultFetcherConfig()), logger)
	sandbox := script.New(script.DefaultBudget, logger)
	engine := merge.NewEngine(store, sandbox, logger)

	// Any profile mutation invalidates the cached effective configuration.
	profiles.OnMutate(engine.Invalidate)

	ctx := context.Background()
	coreURL := settingOr(ctx, store, SettingCoreURL, "http://127.0.0.1:9090")
	coreSecret := settingOr(ctx, store, SettingCoreSecret, "")

	return &App{
		Storage:  store,
		Profiles: profiles,
		Engine:   engine,
		Core:     core.NewClient(coreURL, coreSecret),
		Logger:   logger,
	}, nil
}

// Controller returns the proxy state controller, constructing it on first
// use. Construction reads the actual OS state and fails when that read
// fails; commands that never touch OS state never pay that cost.
func (a *App) Controller() (*controller.Controller, error) {
	if a.ctrl != nil {
		return a.ctrl, nil
	}

	ctx := context.Background()
	host := settingOr(ctx, a.Storage, SettingProxyHost, "127.0.0.1")
	port, err := strconv.Atoi(settingOr(ctx, a.Storage, SettingProxyPort, "7897"))
	if err != nil {
		return nil, fmt.Errorf("invalid %s setting: %w", SettingProxyPort, err)
	}

	ctrl, err := controller.New(sysproxy.New(), a.Core, sysproxy.Settings{
		Host:   host,
		Port:   port,
		Bypass: []string{"localhost", "127.0.0.0/8", "::1"},
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	a.ctrl = ctrl
	return ctrl, nil
}

// Guard returns the guard loop, constructing it (and the controller) on
// first use.
func (a *App) Guard() (*guard.Loop, error) {
	if a.guardLoop != nil {
		return a.guardLoop, nil
	}
	ctrl, err := a.Controller()
	if err != nil {
		return nil, err
	}
	a.guardLoop = guard.New(ctrl, sysproxy.New(), clockwork.NewRealClock(), guard.DefaultOptions(), a.Logger)
	return a.guardLoop, nil
}

// Sync returns the backup service configured from settings.
func (a *App) Sync(ctx context.Context) (*backup.Service, error) {
	url, err := a.Storage.GetSetting(ctx, SettingSyncURL)
	if err != nil {
		if errors.Is(err, storage.ErrSettingNotFound) {
			return nil, fmt.Errorf("sync is not configured; set the %s setting first", SettingSyncURL)
		}
		return nil, err
	}

	store := backup.NewHTTPStore(url,
		settingOr(ctx, a.Storage, SettingSyncUser, ""),
		settingOr(ctx, a.Storage, SettingSyncPass, ""))
	namespace := settingOr(ctx, a.Storage, SettingSyncSpace, "default")
	return backup.NewService(store, a.Storage, namespace, a.Logger), nil
}

// MergeCurrent resolves the active chain and merges it.
func (a *App) MergeCurrent(ctx context.Context) (*merge.EffectiveConfig, error) {
	chain, err := a.Profiles.Chain(ctx)
	if err != nil {
		return nil, err
	}
	return a.Engine.Merge(ctx, chain)
}

// Activate merges the active chain and pushes the result to the core.
func (a *App) Activate(ctx context.Context) (*merge.EffectiveConfig, error) {
	cfg, err := a.MergeCurrent(ctx)
	if err != nil {
		return nil, err
	}
	ctrl, err := a.Controller()
	if err != nil {
		return nil, err
	}
	if err := ctrl.Activate(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Close closes the application and releases resources
func (a *App) Close() error {
	if a.guardLoop != nil {
		a.guardLoop.Stop()
	}
	if a.Logger != nil {
		a.Logger.Sync()
	}
	if a.Storage != nil {
		return a.Storage.Close()
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func settingOr(ctx context.Context, store storage.Storage, key, fallback string) string {
	value, err := store.GetSetting(ctx, key)
	if err != nil {
		return fallback
	}
	return value
}
