package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage"
	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage/models"
)

// dbHandle is the common interface between *sql.DB and *sql.Tx.
type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB implements the Storage interface using SQLite
type DB struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &DB{db: db}

	if err := runMigrations(store); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) handle() dbHandle { return d.db }

// BeginTx starts a new transaction
func (d *DB) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx implements the Transaction interface
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error    { return t.tx.Commit() }
func (t *Tx) Rollback() error  { return t.tx.Rollback() }
func (t *Tx) handle() dbHandle { return t.tx }

func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *Tx) Close() error { return nil }

// ─── Profile operations ─────────────────────────────────────────────────────

const profileColumns = `id, name, kind, url, content, last_fetched, update_interval, etag, content_hash, position, current, created_at, updated_at`

func (d *DB) CreateProfile(ctx context.Context, profile *models.Profile) error {
	return createProfile(ctx, d.handle(), profile)
}
func (t *Tx) CreateProfile(ctx context.Context, profile *models.Profile) error {
	return createProfile(ctx, t.handle(), profile)
}

func createProfile(ctx context.Context, h dbHandle, profile *models.Profile) error {
	query := `
		INSERT INTO profiles (id, name, kind, url, content, last_fetched, update_interval, etag, content_hash, position, current)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := h.ExecContext(ctx, query,
		profile.ID, profile.Name, string(profile.Kind), profile.URL, profile.Content,
		profile.LastFetched, profile.UpdateInterval, profile.ETag, profile.ContentHash,
		profile.Position, profile.Current,
	)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

func (d *DB) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	return getProfile(ctx, d.handle(), `id = ?`, id)
}
func (t *Tx) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	return getProfile(ctx, t.handle(), `id = ?`, id)
}

func (d *DB) GetProfileByName(ctx context.Context, name string) (*models.Profile, error) {
	return getProfile(ctx, d.handle(), `name = ?`, name)
}
func (t *Tx) GetProfileByName(ctx context.Context, name string) (*models.Profile, error) {
	return getProfile(ctx, t.handle(), `name = ?`, name)
}

func (d *DB) GetCurrentProfile(ctx context.Context) (*models.Profile, error) {
	return getProfile(ctx, d.handle(), `current = 1`)
}
func (t *Tx) GetCurrentProfile(ctx context.Context) (*models.Profile, error) {
	return getProfile(ctx, t.handle(), `current = 1`)
}

func getProfile(ctx context.Context, h dbHandle, where string, args ...interface{}) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE ` + where
	row := h.QueryRowContext(ctx, query, args...)

	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return profile, nil
}

func (d *DB) GetAllProfiles(ctx context.Context) ([]*models.Profile, error) {
	return getAllProfiles(ctx, d.handle())
}
func (t *Tx) GetAllProfiles(ctx context.Context) ([]*models.Profile, error) {
	return getAllProfiles(ctx, t.handle())
}

func getAllProfiles(ctx context.Context, h dbHandle) ([]*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles ORDER BY position, created_at`
	rows, err := h.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

func (d *DB) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	return updateProfile(ctx, d.handle(), profile)
}
func (t *Tx) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	return updateProfile(ctx, t.handle(), profile)
}

func updateProfile(ctx context.Context, h dbHandle, profile *models.Profile) error {
	query := `
		UPDATE profiles
		SET name = ?, kind = ?, url = ?, content = ?, last_fetched = ?,
		    update_interval = ?, etag = ?, content_hash = ?, position = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := h.ExecContext(ctx, query,
		profile.Name, string(profile.Kind), profile.URL, profile.Content,
		profile.LastFetched, profile.UpdateInterval, profile.ETag,
		profile.ContentHash, profile.Position, profile.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrProfileNotFound
	}
	return nil
}

func (d *DB) DeleteProfile(ctx context.Context, id string) error {
	return deleteProfile(ctx, d.handle(), id)
}
func (t *Tx) DeleteProfile(ctx context.Context, id string) error {
	return deleteProfile(ctx, t.handle(), id)
}

func deleteProfile(ctx context.Context, h dbHandle, id string) error {
	result, err := h.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrProfileNotFound
	}
	return nil
}

func (d *DB) SetCurrentProfile(ctx context.Context, id string) error {
	return setCurrentProfile(ctx, d.handle(), id)
}
func (t *Tx) SetCurrentProfile(ctx context.Context, id string) error {
	return setCurrentProfile(ctx, t.handle(), id)
}

func setCurrentProfile(ctx context.Context, h dbHandle, id string) error {
	// Clear previous selection first so at most one profile is current.
	if _, err := h.ExecContext(ctx, `UPDATE profiles SET current = 0 WHERE current = 1`); err != nil {
		return fmt.Errorf("failed to clear current profile: %w", err)
	}
	if id == "" {
		return nil
	}
	result, err := h.ExecContext(ctx, `UPDATE profiles SET current = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to set current profile: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrProfileNotFound
	}
	return nil
}

// ─── Merge chain ────────────────────────────────────────────────────────────

func (d *DB) GetChain(ctx context.Context) (*models.MergeChain, error) {
	return getChain(ctx, d.handle())
}
func (t *Tx) GetChain(ctx context.Context) (*models.MergeChain, error) {
	return getChain(ctx, t.handle())
}

func getChain(ctx context.Context, h dbHandle) (*models.MergeChain, error) {
	chain := &models.MergeChain{}

	base, err := getProfile(ctx, h, `current = 1`)
	if err == nil {
		chain.Base = base.ID
	} else if err != storage.ErrProfileNotFound {
		return nil, err
	}

	rows, err := h.QueryContext(ctx, `SELECT profile_id FROM chain_entries ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		chain.Entries = append(chain.Entries, id)
	}
	return chain, rows.Err()
}

func (d *DB) SetChainEntries(ctx context.Context, entries []string) error {
	return setChainEntries(ctx, d.handle(), entries)
}
func (t *Tx) SetChainEntries(ctx context.Context, entries []string) error {
	return setChainEntries(ctx, t.handle(), entries)
}

func setChainEntries(ctx context.Context, h dbHandle, entries []string) error {
	if _, err := h.ExecContext(ctx, `DELETE FROM chain_entries`); err != nil {
		return fmt.Errorf("failed to clear chain entries: %w", err)
	}
	for i, id := range entries {
		if _, err := h.ExecContext(ctx, `INSERT INTO chain_entries (position, profile_id) VALUES (?, ?)`, i, id); err != nil {
			return fmt.Errorf("failed to insert chain entry %d: %w", i, err)
		}
	}
	return nil
}

// ─── Settings operations ────────────────────────────────────────────────────

func (d *DB) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, d.handle(), key)
}
func (t *Tx) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, t.handle(), key)
}

func getSetting(ctx context.Context, h dbHandle, key string) (string, error) {
	var value string
	err := h.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", storage.ErrSettingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value, nil
}

func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, d.handle(), key, value)
}
func (t *Tx) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, t.handle(), key, value)
}

func setSetting(ctx context.Context, h dbHandle, key, value string) error {
	query := `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := h.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (d *DB) GetAllSettings(ctx context.Context) (map[string]string, error) {
	return getAllSettings(ctx, d.handle())
}
func (t *Tx) GetAllSettings(ctx context.Context) (map[string]string, error) {
	return getAllSettings(ctx, t.handle())
}

func getAllSettings(ctx context.Context, h dbHandle) (map[string]string, error) {
	rows, err := h.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		settings[k] = v
	}
	return settings, rows.Err()
}

// ─── Scanning helpers ───────────────────────────────────────────────────────

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row scannable) (*models.Profile, error) {
	var (
		p           models.Profile
		kind        string
		url         sql.NullString
		lastFetched sql.NullTime
	)

	err := row.Scan(
		&p.ID, &p.Name, &kind, &url, &p.Content, &lastFetched,
		&p.UpdateInterval, &p.ETag, &p.ContentHash, &p.Position, &p.Current,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Kind = models.ProfileKind(kind)
	if url.Valid {
		p.URL = &url.String
	}
	if lastFetched.Valid {
		t := lastFetched.Time
		p.LastFetched = &t
	}
	return &p, nil
}
