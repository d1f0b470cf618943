package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/inboxtriage/pkg/models"
)

// GetMessageRecord returns the processing state of a message by its UID
func (db *DB) GetMessageRecord(ctx context.Context, id int64) (*models.MessageRecord, error) {
	var rec models.MessageRecord
	query := `SELECT * FROM messages WHERE id = ?`
	err := db.GetContext(ctx, &rec, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message record: %w", err)
	}
	return &rec, nil
}

// EnsureMessageRecord creates a pending record (ignores if already exists)
func (db *DB) EnsureMessageRecord(ctx context.Context, id int64) error {
	query := `
		INSERT OR IGNORE INTO messages (id, category, classified, replied, created_at, updated_at)
		VALUES (?, NULL, false, false, ?, ?)
	`
	now := time.Now()
	if _, err := db.ExecContext(ctx, query, id, now, now); err != nil {
		return fmt.Errorf("failed to create message record: %w", err)
	}
	return nil
}

// SetMessageCategory stores the category and marks the message classified.
// A classified message keeps its category; ErrAlreadyClassified is returned.
func (db *DB) SetMessageCategory(ctx context.Context, id int64, category models.Category) error {
	if category == "" {
		return fmt.Errorf("failed to set category: empty category for message %d", id)
	}

	query := `UPDATE messages SET category = ?, classified = true, updated_at = ? WHERE id = ? AND classified = false`
	result, err := db.ExecContext(ctx, query, string(category), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set category: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	if _, err := db.GetMessageRecord(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyClassified
}

// IsMessageReplied returns the replied flag, false if the message is unknown
func (db *DB) IsMessageReplied(ctx context.Context, id int64) (bool, error) {
	var replied bool
	query := `SELECT replied FROM messages WHERE id = ?`
	err := db.GetContext(ctx, &replied, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get replied status: %w", err)
	}
	return replied, nil
}

// MarkMessageReplied marks a message as replied, creating its record if needed
func (db *DB) MarkMessageReplied(ctx context.Context, id int64) error {
	query := `
		INSERT INTO messages (id, category, classified, replied, created_at, updated_at)
		VALUES (?, NULL, false, true, ?, ?)
		ON CONFLICT(id) DO UPDATE SET replied = true, updated_at = excluded.updated_at
	`
	now := time.Now()
	if _, err := db.ExecContext(ctx, query, id, now, now); err != nil {
		return fmt.Errorf("failed to mark message as replied: %w", err)
	}
	return nil
}
