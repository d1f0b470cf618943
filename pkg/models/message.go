package models

import (
	"database/sql"
	"time"
)

// MessageRecord is the persisted processing state of a mailbox message
type MessageRecord struct {
	ID         int64          `db:"id"`         // IMAP UID
	Category   sql.NullString `db:"category"`   // Set once classified
	Classified bool           `db:"classified"` // Category durably assigned
	Replied    bool           `db:"replied"`    // Set by the send workflow
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

// CachedCategory returns the stored category when the record is classified
func (r *MessageRecord) CachedCategory() (Category, bool) {
	if r == nil || !r.Classified || !r.Category.Valid {
		return "", false
	}
	return Category(r.Category.String), true
}

// MailboxMessage is the per-fetch view of a message assembled by ingestion
type MailboxMessage struct {
	ID        uint32
	Sender    string   // Address only, display name stripped
	Subject   string   // Decoded subject
	Date      string   // Original Date header
	IsRead    bool     // \Seen present at fetch time
	Body      Body     // Plain-text body or NoContent
	Category  Category // Resolved from MessageRecord
	IsReplied bool     // Resolved from MessageRecord
}

// NoContentText is how an absent body is rendered to clients
const NoContentText = "No content"

// Body is the extracted plain-text body of a message.
// The zero value is NoContent: extraction found no text part. An empty but
// present body is Body{Present: true}.
type Body struct {
	Text    string
	Present bool
}

// NoContent marks a message without a qualifying plain-text part
var NoContent = Body{}

// TextBody returns a present body holding s
func TextBody(s string) Body {
	return Body{Text: s, Present: true}
}

// String returns the body text, or NoContentText when absent
func (b Body) String() string {
	if !b.Present {
		return NoContentText
	}
	return b.Text
}
