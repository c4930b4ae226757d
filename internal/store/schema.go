package store

// schemaVersion is bumped whenever the DDL below changes shape. Older stores
// are brought forward by the migrations in migrations.go.
const schemaVersion = 3

const schema = `
-- System configuration (schema_version lives here)
CREATE TABLE IF NOT EXISTS system_config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Fingerprints, content-addressed by the fingerprint string
CREATE TABLE IF NOT EXISTS fingerprints (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    fingerprint TEXT NOT NULL UNIQUE,
    duration_sec REAL NOT NULL DEFAULT 0,
    sample_rate_hz INTEGER NOT NULL DEFAULT 0,
    bit_depth INTEGER NOT NULL DEFAULT 0,
    channels INTEGER NOT NULL DEFAULT 0,
    codec TEXT NOT NULL DEFAULT '',
    bitrate_kbps INTEGER NOT NULL DEFAULT 0
);

-- Metadata, deduplicated by content
CREATE TABLE IF NOT EXISTS metadata (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    artist TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    album TEXT NOT NULL DEFAULT '',
    year INTEGER NOT NULL DEFAULT 0,
    genre TEXT NOT NULL DEFAULT '',
    track_number INTEGER NOT NULL DEFAULT 0,
    disc_number INTEGER NOT NULL DEFAULT 0,
    source TEXT NOT NULL DEFAULT 'tag' CHECK(source IN ('tag','service','filename-parse')),
    UNIQUE(artist, title, album, year, genre, track_number, disc_number, source)
);

-- Files: one row per absolute path, the center of the model
CREATE TABLE IF NOT EXISTS files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    absolute_path TEXT NOT NULL UNIQUE,
    content_hash TEXT NOT NULL DEFAULT '',
    size_bytes INTEGER NOT NULL DEFAULT 0,
    modified_time TEXT NOT NULL DEFAULT '',
    fingerprint_id INTEGER REFERENCES fingerprints(id),
    metadata_id INTEGER REFERENCES metadata(id),
    quality_score REAL,
    status TEXT NOT NULL DEFAULT 'discovered'
        CHECK(status IN ('discovered','analyzed','healthy','quarantined','organized','rejected','failed')),
    error_kind TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_files_status ON files(status);
CREATE INDEX IF NOT EXISTS idx_files_content_hash ON files(content_hash);

CREATE TRIGGER IF NOT EXISTS trg_files_updated_at
AFTER UPDATE ON files
FOR EACH ROW
BEGIN
    UPDATE files SET updated_at = strftime('%Y-%m-%dT%H:%M:%SZ','now') WHERE id = NEW.id;
END;

-- Quality analyses: one per file
CREATE TABLE IF NOT EXISTS quality_analyses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL UNIQUE REFERENCES files(id) ON DELETE CASCADE,
    technical_score REAL NOT NULL DEFAULT 0,
    audio_fidelity_score REAL NOT NULL DEFAULT 0,
    integrity_score REAL NOT NULL DEFAULT 0,
    reference_score REAL,
    final_score REAL NOT NULL DEFAULT 0,
    grade TEXT NOT NULL DEFAULT 'F',
    recommended_action TEXT NOT NULL DEFAULT 'keep'
        CHECK(recommended_action IN ('keep','replace','quarantine','delete_duplicate')),
    defects TEXT NOT NULL DEFAULT '[]',
    health_score INTEGER NOT NULL DEFAULT 100,
    clipping_ratio REAL NOT NULL DEFAULT -1,
    silence_ratio REAL NOT NULL DEFAULT -1
);

-- Transactions group file operations that commit or roll back as one
CREATE TABLE IF NOT EXISTS transactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL DEFAULT 'open'
        CHECK(status IN ('open','committing','committed','rolling-back','rolled-back')),
    reason TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT '',
    committed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);

-- File operations: the append-only intent log
CREATE TABLE IF NOT EXISTS file_operations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER REFERENCES files(id) ON DELETE SET NULL,
    transaction_id INTEGER NOT NULL REFERENCES transactions(id),
    kind TEXT NOT NULL
        CHECK(kind IN ('copy','move','link','write-tag','create-dir','rename','remove-source')),
    source_path TEXT NOT NULL DEFAULT '',
    destination_path TEXT NOT NULL DEFAULT '',
    source_hash TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK(status IN ('pending','performed','committed','rolled-back','failed')),
    started_at TEXT,
    finished_at TEXT,
    error TEXT NOT NULL DEFAULT '',
    seq INTEGER NOT NULL DEFAULT 0,
    payload TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_file_operations_txn_status ON file_operations(transaction_id, status);
CREATE INDEX IF NOT EXISTS idx_file_operations_file ON file_operations(file_id);

-- Duplicate groups and members
CREATE TABLE IF NOT EXISTS duplicate_groups (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key_kind TEXT NOT NULL CHECK(key_kind IN ('hash','fingerprint')),
    key_value TEXT NOT NULL,
    primary_file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    size INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS duplicate_members (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    group_id INTEGER NOT NULL REFERENCES duplicate_groups(id) ON DELETE CASCADE,
    file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    is_primary INTEGER NOT NULL DEFAULT 0,
    similarity REAL NOT NULL DEFAULT 1.0,
    UNIQUE(group_id, file_id)
);

CREATE INDEX IF NOT EXISTS idx_duplicate_members_file ON duplicate_members(file_id);

-- Checkpoints: recovery always uses the maximum id
CREATE TABLE IF NOT EXISTS checkpoints (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL DEFAULT '',
    phase TEXT NOT NULL DEFAULT '',
    last_batch_id INTEGER NOT NULL DEFAULT 0,
    counters TEXT NOT NULL DEFAULT '{}',
    open_transaction_ids TEXT NOT NULL DEFAULT '[]',
    created_at TEXT NOT NULL DEFAULT ''
);

-- Rejection audit trail
CREATE TABLE IF NOT EXISTS rejection_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    category TEXT NOT NULL
        CHECK(category IN ('duplicate','low_quality','corrupted','unsupported','invalid_metadata','error')),
    chosen_file_id INTEGER REFERENCES files(id) ON DELETE SET NULL,
    group_id INTEGER,
    original_path TEXT NOT NULL DEFAULT '',
    rejected_path TEXT NOT NULL DEFAULT '',
    reason_text TEXT NOT NULL DEFAULT '',
    quality_score REAL NOT NULL DEFAULT 0,
    content_hash TEXT NOT NULL DEFAULT '',
    rejected_at TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_rejection_entries_category ON rejection_entries(category);

-- Organization targets
CREATE TABLE IF NOT EXISTS organization_targets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL UNIQUE REFERENCES files(id) ON DELETE CASCADE,
    genre TEXT NOT NULL DEFAULT '',
    decade TEXT NOT NULL DEFAULT '',
    final_path TEXT NOT NULL DEFAULT '',
    pattern_used TEXT NOT NULL DEFAULT ''
);

-- Files parked for operator review instead of an Unknown output folder
CREATE TABLE IF NOT EXISTS review_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL UNIQUE REFERENCES files(id) ON DELETE CASCADE,
    reason TEXT NOT NULL
        CHECK(reason IN ('unknown_genre','missing_year','missing_artist_title')),
    details TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT ''
);
`
