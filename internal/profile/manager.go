// Package profile owns the persistence and refresh lifecycle of proxy
// configuration profiles: remote documents fetched from subscription URLs,
// local documents, and the merge/script overlays applied on top of them.
package profile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/muhammadmuzzammil1998/jsonc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage/models"
	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

// maxConcurrentRefreshes bounds parallel network fetches in RefreshAll.
const maxConcurrentRefreshes = 4

// Manager implements the profile store contract on top of Storage.
type Manager struct {
	storage  storage.Storage
	fetcher  *Fetcher
	logger   *zap.Logger
	onMutate func()
}

// NewManager creates a new profile manager
func NewManager(store storage.Storage, fetcher *Fetcher, logger *zap.Logger) *Manager {
	return &Manager{
		storage: store,
		fetcher: fetcher,
		logger:  logger.Named("profile"),
	}
}

// OnMutate registers a hook invoked after any successful mutation, used to
// invalidate cached effective configurations derived from stored profiles.
func (m *Manager) OnMutate(fn func()) {
	m.onMutate = fn
}

func (m *Manager) mutated() {
	if m.onMutate != nil {
		m.onMutate()
	}
}

// AddOptions describes a profile to import.
type AddOptions struct {
	Name           string
	Kind           models.ProfileKind
	URL            string // remote profiles
	Content        string // local/merge/script profiles
	UpdateInterval int    // minutes; remote profiles only
}

// Add imports a profile. Remote profiles are fetched immediately; document
// content is normalized and parse-checked before anything is stored.
func (m *Manager) Add(ctx context.Context, opts AddOptions) (*models.Profile, error) {
	if !opts.Kind.Valid() {
		return nil, fmt.Errorf("unknown profile kind %q", opts.Kind)
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("profile name must not be empty")
	}

	profile := &models.Profile{
		ID:             uuid.NewString(),
		Name:           opts.Name,
		Kind:           opts.Kind,
		Content:        opts.Content,
		UpdateInterval: opts.UpdateInterval,
	}

	if opts.Kind == models.KindRemote {
		if opts.URL == "" {
			return nil, fmt.Errorf("remote profile requires a URL")
		}
		result, err := m.fetcher.Fetch(ctx, opts.URL, "")
		if err != nil {
			return nil, err
		}
		profile.URL = &opts.URL
		profile.Content = string(result.Content)
		profile.ETag = result.ETag
		now := time.Now()
		profile.LastFetched = &now
	}

	normalized, err := normalizeContent(profile.Kind, profile.Name, profile.Content)
	if err != nil {
		return nil, err
	}
	profile.Content = normalized
	profile.ContentHash = models.HashContent(normalized)

	if err := m.storage.CreateProfile(ctx, profile); err != nil {
		return nil, err
	}

	m.logger.Info("profile added",
		zap.String("id", profile.ID), zap.String("name", profile.Name), zap.String("kind", string(profile.Kind)))
	m.mutated()
	return profile, nil
}

// Update applies a partial update to a profile. New content is parse-checked
// before it replaces the old.
func (m *Manager) Update(ctx context.Context, id string, patch models.ProfilePatch) (*models.Profile, error) {
	profile, err := m.storage.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		profile.Name = *patch.Name
	}
	if patch.URL != nil {
		profile.URL = patch.URL
	}
	if patch.UpdateInterval != nil {
		profile.UpdateInterval = *patch.UpdateInterval
	}
	if patch.Position != nil {
		profile.Position = *patch.Position
	}
	if patch.Content != nil {
		normalized, err := normalizeContent(profile.Kind, profile.Name, *patch.Content)
		if err != nil {
			return nil, err
		}
		profile.Content = normalized
		profile.ContentHash = models.HashContent(normalized)
	}

	if err := m.storage.UpdateProfile(ctx, profile); err != nil {
		return nil, err
	}
	m.mutated()
	return profile, nil
}

// Remove deletes a profile. A profile referenced by the active merge chain
// fails with InUseError unless force is set, in which case dependent chain
// entries are pruned (clearing the base when it was the base).
func (m *Manager) Remove(ctx context.Context, id string, force bool) error {
	profile, err := m.storage.GetProfile(ctx, id)
	if err != nil {
		return err
	}

	chain, err := m.storage.GetChain(ctx)
	if err != nil {
		return err
	}

	if chain.References(id) && !force {
		return &pkgerrors.InUseError{ProfileID: id, Name: profile.Name}
	}

	tx, err := m.storage.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if chain.Prune(id) {
		if err := tx.SetChainEntries(ctx, chain.Entries); err != nil {
			return err
		}
	}
	if err := tx.DeleteProfile(ctx, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit removal: %w", err)
	}

	m.logger.Info("profile removed", zap.String("id", id), zap.String("name", profile.Name), zap.Bool("forced", force))
	m.mutated()
	return nil
}

// SetCurrent selects the profile used as the merge base.
func (m *Manager) SetCurrent(ctx context.Context, id string) error {
	profile, err := m.storage.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if profile.Kind != models.KindRemote && profile.Kind != models.KindLocal {
		return fmt.Errorf("profile '%s' has kind %s and cannot be the merge base", profile.Name, profile.Kind)
	}
	if err := m.storage.SetCurrentProfile(ctx, id); err != nil {
		return err
	}
	m.mutated()
	return nil
}

// Refresh re-fetches a remote profile's content. The refresh is
// transactional: new content replaces the old only after a successful fetch
// and parse, and a refresh that completes after the profile was removed is
// discarded.
func (m *Manager) Refresh(ctx context.Context, id string) (*models.Profile, error) {
	profile, err := m.storage.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if profile.Kind != models.KindRemote || profile.URL == nil {
		return nil, fmt.Errorf("profile '%s' is not a remote profile", profile.Name)
	}

	result, err := m.fetcher.Fetch(ctx, *profile.URL, profile.ETag)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if result.NotModified {
		profile.LastFetched = &now
		if err := m.storage.UpdateProfile(ctx, profile); err != nil {
			return nil, err
		}
		m.logger.Debug("profile unchanged upstream", zap.String("name", profile.Name))
		return profile, nil
	}

	normalized, err := normalizeContent(profile.Kind, profile.Name, string(result.Content))
	if err != nil {
		return nil, err
	}

	tx, err := m.storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Re-read inside the transaction: the profile may have been removed
	// while the fetch was in flight, in which case the result is discarded.
	fresh, err := tx.GetProfile(ctx, id)
	if err == storage.ErrProfileNotFound {
		m.logger.Info("discarding refresh for removed profile", zap.String("id", id))
		return nil, storage.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}

	fresh.Content = normalized
	fresh.ContentHash = models.HashContent(normalized)
	fresh.ETag = result.ETag
	fresh.LastFetched = &now

	if err := tx.UpdateProfile(ctx, fresh); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit refresh: %w", err)
	}

	m.logger.Info("profile refreshed", zap.String("name", fresh.Name), zap.String("hash", fresh.ContentHash))
	m.mutated()
	return fresh, nil
}

// RefreshResult pairs a profile with its refresh outcome.
type RefreshResult struct {
	ProfileID string
	Name      string
	Err       error
}

// RefreshAll refreshes every due remote profile. Fetches run concurrently;
// individual failures are reported per profile and do not abort the rest.
func (m *Manager) RefreshAll(ctx context.Context, onlyDue bool) ([]RefreshResult, error) {
	profiles, err := m.storage.GetAllProfiles(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var targets []*models.Profile
	for _, p := range profiles {
		if p.Kind != models.KindRemote {
			continue
		}
		if onlyDue && !p.RefreshDue(now) {
			continue
		}
		targets = append(targets, p)
	}

	results := make([]RefreshResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRefreshes)

	for i, p := range targets {
		i, p := i, p
		g.Go(func() error {
			_, err := m.Refresh(gctx, p.ID)
			results[i] = RefreshResult{ProfileID: p.ID, Name: p.Name, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// List returns all profiles ordered by position.
func (m *Manager) List(ctx context.Context) ([]*models.Profile, error) {
	return m.storage.GetAllProfiles(ctx)
}

// Get returns one profile by ID.
func (m *Manager) Get(ctx context.Context, id string) (*models.Profile, error) {
	return m.storage.GetProfile(ctx, id)
}

// Chain returns the active merge chain.
func (m *Manager) Chain(ctx context.Context) (*models.MergeChain, error) {
	return m.storage.GetChain(ctx)
}

// SetChainEntries replaces the chain's override/script entries after
// validating that each one exists and has a mergeable kind.
func (m *Manager) SetChainEntries(ctx context.Context, entries []string) error {
	for _, id := range entries {
		p, err := m.storage.GetProfile(ctx, id)
		if err != nil {
			return fmt.Errorf("chain entry %s: %w", id, err)
		}
		if p.Kind != models.KindMerge && p.Kind != models.KindScript {
			return fmt.Errorf("chain entry '%s' has kind %s; entries must be merge or script", p.Name, p.Kind)
		}
	}
	if err := m.storage.SetChainEntries(ctx, entries); err != nil {
		return err
	}
	m.mutated()
	return nil
}

// normalizeContent validates profile content and converts JSON/JSONC
// documents to plain JSON (a YAML subset) so the merge pipeline only ever
// sees YAML-parseable documents. Script content is passed through.
func normalizeContent(kind models.ProfileKind, name, content string) (string, error) {
	if kind == models.KindScript {
		if !strings.Contains(content, "main") {
			return "", &pkgerrors.ParseError{Source: name, Cause: fmt.Errorf("script does not define main(config)")}
		}
		return content, nil
	}

	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "//") {
		trimmed = string(jsonc.ToJSON([]byte(trimmed)))
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal([]byte(trimmed), &doc); err != nil {
		return "", &pkgerrors.ParseError{Source: name, Cause: err}
	}
	if doc == nil {
		return "", &pkgerrors.ParseError{Source: name, Cause: fmt.Errorf("document is empty")}
	}
	return trimmed, nil
}
