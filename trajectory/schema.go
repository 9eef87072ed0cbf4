package trajectory

// Schema contains the complete DDL for the trajectory tables.
const Schema = `
-- Runs: one scenario execution
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    scenario    TEXT NOT NULL,
    target_url  TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'running',
    started_at  INTEGER NOT NULL,
    finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

-- Steps: one action within a run, with the before/after screen snapshots
CREATE TABLE IF NOT EXISTS steps (
    id           TEXT PRIMARY KEY,
    run_id       TEXT NOT NULL,
    seq          INTEGER NOT NULL,
    name         TEXT NOT NULL,
    action       TEXT NOT NULL,
    target_id    TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'passed',
    before_hash  TEXT NOT NULL DEFAULT '',
    after_hash   TEXT NOT NULL DEFAULT '',
    before_uimap TEXT NOT NULL DEFAULT '',
    after_uimap  TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_steps_run ON steps(run_id, seq);

-- Healing events: a reference was resolved to a different element id
CREATE TABLE IF NOT EXISTS healing_events (
    id              TEXT PRIMARY KEY,
    step_id         TEXT NOT NULL,
    original_target TEXT NOT NULL,
    healed_target   TEXT NOT NULL,
    method          TEXT NOT NULL,
    confidence      REAL NOT NULL,
    candidates      TEXT NOT NULL DEFAULT '[]',
    created_at      INTEGER NOT NULL,
    FOREIGN KEY (step_id) REFERENCES steps(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_step ON healing_events(step_id);

-- Drift alerts: anomalies between expected and actual screens
CREATE TABLE IF NOT EXISTS drift_alerts (
    id                TEXT PRIMARY KEY,
    step_id           TEXT NOT NULL,
    severity          TEXT NOT NULL,
    alert_type        TEXT NOT NULL,
    description       TEXT NOT NULL,
    affected_elements TEXT NOT NULL DEFAULT '[]',
    expected          TEXT NOT NULL DEFAULT '',
    actual            TEXT NOT NULL DEFAULT '',
    created_at        INTEGER NOT NULL,
    FOREIGN KEY (step_id) REFERENCES steps(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_alerts_step ON drift_alerts(step_id);
CREATE INDEX IF NOT EXISTS idx_alerts_severity ON drift_alerts(severity);
`
