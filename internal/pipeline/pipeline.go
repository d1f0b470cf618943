package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mixelka/inboxtriage/internal/email"
	"github.com/mixelka/inboxtriage/internal/parser"
	"github.com/mixelka/inboxtriage/pkg/models"
)

// Session is one authenticated mailbox connection, used sequentially
type Session interface {
	ListRecentIDs(ctx context.Context, limit int) ([]uint32, error)
	FetchRaw(ctx context.Context, id uint32) (*email.RawMessage, error)
	Close()
}

// Mailbox opens sessions
type Mailbox interface {
	Connect(ctx context.Context) (Session, error)
}

// MailboxFunc adapts a function to Mailbox
type MailboxFunc func(ctx context.Context) (Session, error)

// Connect calls f(ctx)
func (f MailboxFunc) Connect(ctx context.Context) (Session, error) {
	return f(ctx)
}

// FromReader adapts an IMAP reader to Mailbox
func FromReader(r *email.Reader) Mailbox {
	return MailboxFunc(func(ctx context.Context) (Session, error) {
		sess, err := r.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return sess, nil
	})
}

// Extractor parses raw message bytes
type Extractor interface {
	Parse(raw []byte, flags []string) parser.ParsedMessage
}

// Classifier resolves a category; it never fails
type Classifier interface {
	Classify(ctx context.Context, id uint32, body string) models.Category
}

// ReplyStatus reports whether a message has been answered
type ReplyStatus interface {
	IsMessageReplied(ctx context.Context, id int64) (bool, error)
}

// Deps dependencies for creating a pipeline
type Deps struct {
	Mailbox     Mailbox
	Extractor   Extractor
	Classifier  Classifier
	ReplyStatus ReplyStatus
	BatchSize   int
	Logger      *slog.Logger
}

// Pipeline turns the newest mailbox messages into classified views
type Pipeline struct {
	mailbox     Mailbox
	extractor   Extractor
	classifier  Classifier
	replyStatus ReplyStatus
	batchSize   int
	logger      *slog.Logger
}

// New creates a new ingestion pipeline
func New(deps Deps) *Pipeline {
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Pipeline{
		mailbox:     deps.Mailbox,
		extractor:   deps.Extractor,
		classifier:  deps.Classifier,
		replyStatus: deps.ReplyStatus,
		batchSize:   batchSize,
		logger:      deps.Logger.With("component", "pipeline"),
	}
}

// Run processes the limit newest messages (the batch size when limit <= 0)
// and returns them newest first. Messages that fail are logged and left
// out; only failing to open the session or list ids aborts the run.
func (p *Pipeline) Run(ctx context.Context, limit int) ([]models.MailboxMessage, error) {
	if limit <= 0 {
		limit = p.batchSize
	}
	start := time.Now()

	sess, err := p.mailbox.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open mailbox session: %w", err)
	}
	defer sess.Close()

	ids, err := sess.ListRecentIDs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]models.MailboxMessage, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ingestion interrupted: %w", err)
		}

		msg, err := p.process(ctx, sess, id)
		if err != nil {
			p.logger.Error("skipping message", "uid", id, "error", err)
			continue
		}
		messages = append(messages, *msg)
	}

	p.logger.Info("ingestion run finished",
		"listed", len(ids),
		"returned", len(messages),
		"skipped", len(ids)-len(messages),
		"duration", time.Since(start),
	)

	return messages, nil
}

// process builds the view of a single message. Panics are turned into
// errors so one message cannot take the batch down.
func (p *Pipeline) process(ctx context.Context, sess Session, id uint32) (msg *models.MailboxMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg, err = nil, fmt.Errorf("panic while processing message: %v", r)
		}
	}()

	raw, err := sess.FetchRaw(ctx, id)
	if err != nil {
		return nil, err
	}

	parsed := p.extractor.Parse(raw.Raw, raw.Flags)
	category := p.classifier.Classify(ctx, id, parsed.Body.Text)

	return &models.MailboxMessage{
		ID:        id,
		Sender:    parsed.Sender,
		Subject:   parsed.Subject,
		Date:      parsed.Date,
		IsRead:    parsed.IsRead,
		Body:      parsed.Body,
		Category:  category,
		IsReplied: p.isReplied(ctx, id),
	}, nil
}

// isReplied is best effort: unknown or unreadable means not replied
func (p *Pipeline) isReplied(ctx context.Context, id uint32) bool {
	replied, err := p.replyStatus.IsMessageReplied(ctx, int64(id))
	if err != nil {
		p.logger.Warn("could not read replied status", "uid", id, "error", err)
		return false
	}
	return replied
}
