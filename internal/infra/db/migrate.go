package db

import (
	"database/sql"
)

// MigrateUp creates the cache schema. Statements are idempotent so the
// gateway can run migrations unconditionally at startup.
func MigrateUp(db *sql.DB) error {
	// Ignored when it already exists or the role lacks superuser rights.
	_, _ = db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`)

	// Note: vector(1536) matches OpenAI text-embedding-3-small. The column
	// is reserved for semantic lookup; exact-match reads never touch it.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS llm_cache (
    fingerprint       CHAR(64) PRIMARY KEY,
    prompt            TEXT NOT NULL,
    model             VARCHAR(100) NOT NULL,
    response          TEXT NOT NULL,
    prompt_tokens     INT NOT NULL DEFAULT 0,
    completion_tokens INT NOT NULL DEFAULT 0,
    cost_usd          DOUBLE PRECISION NOT NULL DEFAULT 0,
    embedding         vector(1536),
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return err
	}

	// created_at index backs the periodic expiry sweep.
	if _, err := db.Exec(`
CREATE INDEX IF NOT EXISTS idx_llm_cache_created_at ON llm_cache(created_at)`); err != nil {
		return err
	}

	// IVFFlat index for future vector similarity lookup. Ignored when the
	// pgvector extension is unavailable.
	_, _ = db.Exec(`
CREATE INDEX IF NOT EXISTS idx_llm_cache_embedding
    ON llm_cache USING ivfflat (embedding vector_cosine_ops)
    WITH (lists = 100)`)

	return nil
}

// MigrateDown drops the cache schema. Use with caution: this deletes every
// cached response.
func MigrateDown(db *sql.DB) error {
	dropStatements := []string{
		`DROP INDEX IF EXISTS idx_llm_cache_embedding`,
		`DROP INDEX IF EXISTS idx_llm_cache_created_at`,
		`DROP TABLE IF EXISTS llm_cache CASCADE`,
	}

	for _, stmt := range dropStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
