package store

// Schema v1 - Initial database schema
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Abstract works (one per distinct book, keyed by normalized sort title)
CREATE TABLE IF NOT EXISTS work (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  title TEXT NOT NULL,
  sort_title TEXT,
  language TEXT,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_work_sort_title ON work(sort_title);

CREATE TABLE IF NOT EXISTS author (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  sort_name TEXT
);

CREATE INDEX IF NOT EXISTS idx_author_name ON author(name);

CREATE TABLE IF NOT EXISTS work_author (
  work_id INTEGER NOT NULL REFERENCES work(id) ON DELETE CASCADE,
  author_id INTEGER NOT NULL REFERENCES author(id) ON DELETE CASCADE,
  role TEXT NOT NULL DEFAULT 'author',
  PRIMARY KEY (work_id, author_id, role)
);

-- Concrete published editions of a work
CREATE TABLE IF NOT EXISTS edition (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  work_id INTEGER NOT NULL REFERENCES work(id) ON DELETE CASCADE,
  title TEXT,
  publisher TEXT,
  pub_year INTEGER,
  format TEXT,
  language TEXT,
  cover_url TEXT,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_edition_work ON edition(work_id);

CREATE TABLE IF NOT EXISTS identifier (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  edition_id INTEGER NOT NULL REFERENCES edition(id) ON DELETE CASCADE,
  scheme TEXT NOT NULL,
  value TEXT NOT NULL,
  UNIQUE (edition_id, scheme, value)
);

-- Files on disk, one row per content identity
CREATE TABLE IF NOT EXISTS file (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  edition_id INTEGER REFERENCES edition(id) ON DELETE SET NULL,
  path TEXT NOT NULL,
  ext TEXT,
  size_bytes INTEGER,
  sha256 TEXT UNIQUE NOT NULL,
  mime TEXT,
  added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  last_seen DATETIME
);

CREATE INDEX IF NOT EXISTS idx_file_edition ON file(edition_id);
CREATE INDEX IF NOT EXISTS idx_file_path ON file(path);

-- Raw provider payload cache, keyed by (provider, remote id)
CREATE TABLE IF NOT EXISTS provider_hit (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider TEXT NOT NULL,
  remote_id TEXT,
  edition_id INTEGER REFERENCES edition(id) ON DELETE SET NULL,
  payload_json TEXT NOT NULL,
  score REAL,
  fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_provider_hit_remote ON provider_hit(provider, remote_id);

-- Identification outcome per edition (upserted on every reconciliation run)
CREATE TABLE IF NOT EXISTS identify_result (
  edition_id INTEGER PRIMARY KEY REFERENCES edition(id) ON DELETE CASCADE,
  auto_accepted INTEGER NOT NULL DEFAULT 0,
  chosen_provider TEXT,
  top_score REAL NOT NULL DEFAULT 0,
  candidates_json TEXT NOT NULL DEFAULT '[]',
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_identify_result_score ON identify_result(auto_accepted, top_score);

-- Per-candidate audit rows, replaced wholesale on each reconciliation run
CREATE TABLE IF NOT EXISTS match_event (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  edition_id INTEGER NOT NULL REFERENCES edition(id) ON DELETE CASCADE,
  stage TEXT NOT NULL,
  provider TEXT NOT NULL,
  candidate_rank INTEGER NOT NULL,
  score REAL NOT NULL,
  accepted INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_match_event_edition ON match_event(edition_id);

-- Planned bulk reorganizations
CREATE TABLE IF NOT EXISTS organize_manifest (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  template TEXT NOT NULL,
  root TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'preview',
  watcher_state TEXT,
  notes TEXT,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS organize_op (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  manifest_id INTEGER NOT NULL REFERENCES organize_manifest(id) ON DELETE CASCADE,
  edition_id INTEGER REFERENCES edition(id) ON DELETE CASCADE,
  src_path TEXT NOT NULL,
  dst_path TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'planned',
  reason TEXT,
  src_sha256 TEXT,
  dst_sha256 TEXT
);

CREATE INDEX IF NOT EXISTS idx_organize_op_manifest ON organize_op(manifest_id);
CREATE INDEX IF NOT EXISTS idx_organize_op_status ON organize_op(manifest_id, status);
`

// Schema v2 - Full-text search over editions
const schemaV2 = `
CREATE VIRTUAL TABLE IF NOT EXISTS search USING fts5(
  title,
  authors,
  publisher
);
`
