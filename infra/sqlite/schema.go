package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS moves (
    id TEXT PRIMARY KEY,
    client_id TEXT NOT NULL,
    status TEXT NOT NULL,
    category TEXT NOT NULL,
    assigned_mover TEXT,
    pickup TEXT NOT NULL,
    dropoff TEXT NOT NULL,
    classification TEXT NOT NULL,
    price TEXT NOT NULL,
    currency TEXT NOT NULL,
    scheduled_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS moves_assignee ON moves (assigned_mover, status);

CREATE TABLE IF NOT EXISTS offers (
    id TEXT PRIMARY KEY,
    move_id TEXT NOT NULL REFERENCES moves (id),
    mover_id TEXT NOT NULL,
    attempt INTEGER NOT NULL,
    status TEXT NOT NULL,
    sent_at INTEGER NOT NULL,
    responded_at INTEGER,
    expires_at INTEGER NOT NULL,
    close_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS offers_move ON offers (move_id);
CREATE INDEX IF NOT EXISTS offers_mover_status ON offers (mover_id, status);

CREATE TABLE IF NOT EXISTS move_history (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    move_id TEXT NOT NULL REFERENCES moves (id),
    from_phase TEXT NOT NULL,
    to_phase TEXT NOT NULL,
    actor TEXT NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS move_history_move ON move_history (move_id, seq);

CREATE TABLE IF NOT EXISTS locations (
    mover_id TEXT PRIMARY KEY,
    move_id TEXT NOT NULL DEFAULT '',
    lat REAL NOT NULL,
    lng REAL NOT NULL,
    heading REAL,
    speed REAL,
    recorded_at INTEGER NOT NULL,
    received_at INTEGER NOT NULL
);
`
