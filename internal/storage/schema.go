package storage

// Schema is the idempotent DDL for the pipeline's tables. Applied by the
// pipeline binary on -init-db; every statement is safe to re-run.
const Schema = `
CREATE TABLE IF NOT EXISTS article_refs (
    source_url      TEXT PRIMARY KEY,
    title           TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    published_at    TIMESTAMPTZ NOT NULL,
    keyword_matched TEXT NOT NULL,
    collected_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_article_refs_published_at ON article_refs (published_at DESC);
CREATE INDEX IF NOT EXISTS idx_article_refs_keyword ON article_refs (keyword_matched);

CREATE TABLE IF NOT EXISTS article_contents (
    source_url   TEXT PRIMARY KEY REFERENCES article_refs (source_url),
    full_text    TEXT NOT NULL DEFAULT '',
    crawl_status TEXT NOT NULL,
    crawl_error  TEXT NOT NULL DEFAULT '',
    crawled_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS enriched_articles (
    source_url    TEXT PRIMARY KEY REFERENCES article_refs (source_url),
    category      TEXT NOT NULL,
    summary       TEXT NOT NULL,
    tags          JSONB NOT NULL DEFAULT '[]',
    background    JSONB NOT NULL DEFAULT '[]',
    keywords      JSONB NOT NULL DEFAULT '[]',
    related_stats JSONB NOT NULL DEFAULT '[]',
    model_version TEXT NOT NULL,
    enriched_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS indicator_observations (
    indicator_code   TEXT NOT NULL,
    observation_date DATE NOT NULL,
    value            DOUBLE PRECISION NOT NULL,
    unit             TEXT NOT NULL DEFAULT '',
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (indicator_code, observation_date)
);

CREATE TABLE IF NOT EXISTS pipeline_run_states (
    id              BIGSERIAL PRIMARY KEY,
    run_id          TEXT NOT NULL,
    kind            TEXT NOT NULL,
    stage           TEXT NOT NULL,
    started_at      TIMESTAMPTZ NOT NULL,
    completed_at    TIMESTAMPTZ,
    items_succeeded INT NOT NULL DEFAULT 0,
    items_failed    INT NOT NULL DEFAULT 0,
    last_error      TEXT NOT NULL DEFAULT '',
    recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_run_states_run_id ON pipeline_run_states (run_id);
`
