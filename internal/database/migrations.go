package database

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY,
    category TEXT,
    classified BOOLEAN NOT NULL DEFAULT false,
    replied BOOLEAN NOT NULL DEFAULT false,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    CHECK (classified = 0 OR category IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_messages_classified ON messages(classified);
`
