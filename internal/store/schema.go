package store

// schemaSQL is the append-only schema for the claude_context database.
// Every statement is idempotent (IF NOT EXISTS / OR REPLACE) so it can be
// applied on every startup. Code tolerates optional columns that predate a
// given migration by selecting with COALESCE defaults.
const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS "uuid-ossp";
CREATE EXTENSION IF NOT EXISTS pg_trgm;
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE SCHEMA IF NOT EXISTS claude_context;

CREATE TABLE IF NOT EXISTS claude_context.projects (
    id          UUID PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    is_global   BOOLEAN NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS claude_context.datasets (
    id         UUID PRIMARY KEY,
    project_id UUID NOT NULL REFERENCES claude_context.projects(id),
    name       TEXT NOT NULL,
    scope      TEXT NOT NULL DEFAULT 'local',
    status     TEXT NOT NULL DEFAULT 'active',
    is_global  BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (project_id, name)
);

CREATE TABLE IF NOT EXISTS claude_context.dataset_collections (
    dataset_id      UUID PRIMARY KEY REFERENCES claude_context.datasets(id),
    collection_name TEXT NOT NULL UNIQUE,
    dimension       INTEGER NOT NULL DEFAULT 768,
    is_hybrid       BOOLEAN NOT NULL DEFAULT FALSE,
    point_count     BIGINT NOT NULL DEFAULT 0,
    last_indexed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS claude_context.indexed_files (
    project_id      UUID NOT NULL,
    dataset_id      UUID NOT NULL REFERENCES claude_context.datasets(id),
    relative_path   TEXT NOT NULL,
    sha256_hash     TEXT NOT NULL,
    file_size       BIGINT NOT NULL DEFAULT 0,
    chunk_count     INTEGER NOT NULL DEFAULT 0,
    language        TEXT NOT NULL DEFAULT '',
    collection_name TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (project_id, dataset_id, relative_path)
);

CREATE TABLE IF NOT EXISTS claude_context.github_jobs (
    id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    project_id    UUID NOT NULL,
    dataset_id    UUID NOT NULL,
    repo_url      TEXT NOT NULL,
    repo_org      TEXT NOT NULL DEFAULT '',
    repo_name     TEXT NOT NULL DEFAULT '',
    branch        TEXT NOT NULL DEFAULT 'main',
    sha           TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'pending',
    progress      INTEGER NOT NULL DEFAULT 0,
    current_phase TEXT NOT NULL DEFAULT '',
    current_file  TEXT NOT NULL DEFAULT '',
    error         TEXT NOT NULL DEFAULT '',
    retry_count   INTEGER NOT NULL DEFAULT 0,
    max_retries   INTEGER NOT NULL DEFAULT 3,
    priority      INTEGER NOT NULL DEFAULT 0,
    visible_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    indexed_files INTEGER NOT NULL DEFAULT 0,
    total_chunks  INTEGER NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at    TIMESTAMPTZ,
    completed_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS github_jobs_dispatch_idx
    ON claude_context.github_jobs (priority DESC, created_at)
    WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS claude_context.crawl_sessions (
    id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    dataset_id    UUID NOT NULL,
    external_id   TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'running',
    pages_crawled INTEGER NOT NULL DEFAULT 0,
    pages_failed  INTEGER NOT NULL DEFAULT 0,
    metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
    started_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at  TIMESTAMPTZ,
    UNIQUE (dataset_id, external_id)
);

CREATE TABLE IF NOT EXISTS claude_context.project_shares (
    source_project_id UUID NOT NULL,
    target_project_id UUID NOT NULL,
    resource_type     TEXT NOT NULL,
    resource_id       UUID NOT NULL,
    can_read          BOOLEAN NOT NULL DEFAULT TRUE,
    can_write         BOOLEAN NOT NULL DEFAULT FALSE,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (source_project_id, target_project_id, resource_type, resource_id),
    CHECK (source_project_id <> target_project_id)
);

CREATE TABLE IF NOT EXISTS claude_context.collections_metadata (
    collection_name TEXT PRIMARY KEY,
    dimension       INTEGER NOT NULL DEFAULT 768,
    is_hybrid       BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS claude_context.web_pages (
    id         UUID PRIMARY KEY,
    dataset_id UUID NOT NULL,
    url        TEXT NOT NULL,
    title      TEXT NOT NULL DEFAULT '',
    content    TEXT NOT NULL DEFAULT '',
    status     TEXT NOT NULL DEFAULT 'pending',
    metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
    crawled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (dataset_id, url)
);

CREATE TABLE IF NOT EXISTS claude_context.chunks (
    id          UUID PRIMARY KEY,
    dataset_id  UUID NOT NULL,
    web_page_id UUID,
    source_type TEXT NOT NULL DEFAULT 'web',
    chunk_index INTEGER NOT NULL DEFAULT 0,
    text        TEXT NOT NULL,
    summary     TEXT NOT NULL DEFAULT '',
    embedding   vector,
    metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS claude_context.watch_configs (
    id          UUID PRIMARY KEY,
    project_id  UUID NOT NULL,
    dataset_id  UUID NOT NULL,
    path        TEXT NOT NULL,
    enabled     BOOLEAN NOT NULL DEFAULT TRUE,
    auto_start  BOOLEAN NOT NULL DEFAULT TRUE,
    debounce_ms INTEGER NOT NULL DEFAULT 2000,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (project_id, dataset_id, path)
);

CREATE OR REPLACE FUNCTION claude_context.notify_stats_update()
RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('stats_updates', TG_TABLE_NAME);
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;

CREATE OR REPLACE FUNCTION claude_context.notify_github_job_update()
RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('github_job_updates', json_build_object(
        'id', NEW.id,
        'status', NEW.status,
        'progress', NEW.progress,
        'phase', NEW.current_phase
    )::text);
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DO $$
DECLARE
    tbl TEXT;
BEGIN
    FOREACH tbl IN ARRAY ARRAY['projects', 'datasets', 'indexed_files', 'web_pages', 'chunks', 'crawl_sessions']
    LOOP
        IF NOT EXISTS (
            SELECT 1 FROM pg_trigger
            WHERE tgname = tbl || '_stats_notify'
        ) THEN
            EXECUTE format(
                'CREATE TRIGGER %I AFTER INSERT OR UPDATE OR DELETE ON claude_context.%I
                 FOR EACH STATEMENT EXECUTE FUNCTION claude_context.notify_stats_update()',
                tbl || '_stats_notify', tbl);
        END IF;
    END LOOP;

    IF NOT EXISTS (
        SELECT 1 FROM pg_trigger WHERE tgname = 'github_jobs_update_notify'
    ) THEN
        CREATE TRIGGER github_jobs_update_notify
            AFTER INSERT OR UPDATE ON claude_context.github_jobs
            FOR EACH ROW EXECUTE FUNCTION claude_context.notify_github_job_update();
    END IF;
END
$$;
`
