package sqlite

const schema = `
-- Profile documents (remote, local, merge, script)
CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL CHECK (kind IN ('remote', 'local', 'merge', 'script')),

    -- Source locator (NULL for inline content)
    url TEXT,

    -- Raw document content
    content TEXT NOT NULL,

    -- Update metadata
    last_fetched TIMESTAMP,
    update_interval INTEGER DEFAULT 0,
    etag TEXT DEFAULT '',
    content_hash TEXT NOT NULL,

    position INTEGER DEFAULT 0,
    current BOOLEAN DEFAULT 0,

    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Ordered override/script entries of the active merge chain
CREATE TABLE IF NOT EXISTS chain_entries (
    position INTEGER PRIMARY KEY,
    profile_id TEXT NOT NULL,
    FOREIGN KEY (profile_id) REFERENCES profiles(id) ON DELETE CASCADE
);

-- Application settings
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_profiles_kind ON profiles(kind);
CREATE INDEX IF NOT EXISTS idx_profiles_current ON profiles(current);
`

func runMigrations(db *DB) error {
	_, err := db.db.Exec(schema)
	return err
}
