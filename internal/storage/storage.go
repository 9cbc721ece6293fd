package storage

import (
	"context"
	"errors"

	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage/models"
)

// Not-found sentinels returned by Storage implementations.
var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrSettingNotFound = errors.New("setting not found")
)

// Storage defines the interface for data persistence
type Storage interface {
	// Profile operations
	CreateProfile(ctx context.Context, profile *models.Profile) error
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	GetProfileByName(ctx context.Context, name string) (*models.Profile, error)
	GetAllProfiles(ctx context.Context) ([]*models.Profile, error)
	UpdateProfile(ctx context.Context, profile *models.Profile) error
	DeleteProfile(ctx context.Context, id string) error

	// Current selection. SetCurrentProfile clears any previous selection in
	// the same transaction so at most one profile is ever current.
	SetCurrentProfile(ctx context.Context, id string) error
	GetCurrentProfile(ctx context.Context) (*models.Profile, error)

	// Merge chain. The base is derived from the current profile; entries are
	// persisted in order.
	GetChain(ctx context.Context) (*models.MergeChain, error)
	SetChainEntries(ctx context.Context, entries []string) error

	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetAllSettings(ctx context.Context) (map[string]string, error)

	// Transactions
	BeginTx(ctx context.Context) (Transaction, error)

	// Close closes the storage connection
	Close() error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Storage
}
