// Package backup syncs the profile set to a remote blob store. Conflicts are
// surfaced as ConflictError for explicit user resolution; last-writer-wins is
// never applied silently.
package backup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage/models"
)

const revSettingKey = "sync.last_rev"

// snapshot is the wire format of a sync blob.
type snapshot struct {
	Version  int               `yaml:"version"`
	Profiles []*models.Profile `yaml:"profiles"`
	Chain    []string          `yaml:"chain"`
	Current  string            `yaml:"current"`
}

// Service syncs profiles with a remote blob store.
type Service struct {
	store     BlobStore
	storage   storage.Storage
	namespace string
	logger    *zap.Logger
}

// NewService creates a sync service for the given user namespace.
func NewService(store BlobStore, st storage.Storage, namespace string, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		storage:   st,
		namespace: namespace,
		logger:    logger.Named("sync"),
	}
}

func (s *Service) key() string {
	return s.namespace + "/profiles.yaml"
}

// Push uploads the local profile set. It fails with ConflictError when the
// remote blob changed since the last pull.
func (s *Service) Push(ctx context.Context) error {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode sync snapshot: %w", err)
	}

	baseRev, err := s.storage.GetSetting(ctx, revSettingKey)
	if err != nil && !errors.Is(err, storage.ErrSettingNotFound) {
		return err
	}

	newRev, err := s.store.Put(ctx, s.key(), data, baseRev)
	if err != nil {
		return err
	}
	if err := s.storage.SetSetting(ctx, revSettingKey, newRev); err != nil {
		return err
	}

	s.logger.Info("profiles pushed", zap.Int("count", len(snap.Profiles)), zap.String("rev", newRev))
	return nil
}

// Pull downloads the remote profile set. With apply=false it only reports
// what would change; with apply=true the local set is replaced inside one
// transaction.
func (s *Service) Pull(ctx context.Context, apply bool) (*PullResult, error) {
	blob, err := s.store.Get(ctx, s.key())
	if err != nil {
		return nil, err
	}

	var snap snapshot
	if err := yaml.Unmarshal(blob.Data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode sync snapshot: %w", err)
	}

	result := &PullResult{Profiles: len(snap.Profiles), Rev: blob.Rev, Applied: apply}
	if !apply {
		return result, nil
	}

	tx, err := s.storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	existing, err := tx.GetAllProfiles(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range existing {
		if err := tx.DeleteProfile(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	for _, p := range snap.Profiles {
		if err := tx.CreateProfile(ctx, p); err != nil {
			return nil, err
		}
	}
	if err := tx.SetChainEntries(ctx, snap.Chain); err != nil {
		return nil, err
	}
	if snap.Current != "" {
		if err := tx.SetCurrentProfile(ctx, snap.Current); err != nil {
			return nil, err
		}
	}
	if err := tx.SetSetting(ctx, revSettingKey, blob.Rev); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit pull: %w", err)
	}

	s.logger.Info("profiles pulled", zap.Int("count", len(snap.Profiles)), zap.String("rev", blob.Rev))
	return result, nil
}

// PullResult summarizes a pull.
type PullResult struct {
	Profiles int
	Rev      string
	Applied  bool
}

func (s *Service) snapshot(ctx context.Context) (*snapshot, error) {
	profiles, err := s.storage.GetAllProfiles(ctx)
	if err != nil {
		return nil, err
	}
	chain, err := s.storage.GetChain(ctx)
	if err != nil {
		return nil, err
	}
	return &snapshot{
		Version:  1,
		Profiles: profiles,
		Chain:    chain.Entries,
		Current:  chain.Base,
	}, nil
}
