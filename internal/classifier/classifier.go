package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mixelka/inboxtriage/internal/database"
	"github.com/mixelka/inboxtriage/pkg/models"
)

// MaxInputRunes caps the body sent to the oracle
const MaxInputRunes = 8000

// Store is the slice of the message store the classifier needs
type Store interface {
	GetMessageRecord(ctx context.Context, id int64) (*models.MessageRecord, error)
	EnsureMessageRecord(ctx context.Context, id int64) error
	SetMessageCategory(ctx context.Context, id int64, category models.Category) error
}

// Oracle returns a raw label for body under a closed instruction
type Oracle interface {
	Categorize(ctx context.Context, instruction, body string) (string, error)
}

// Classifier assigns each message exactly one taxonomy label and
// remembers it in the store
type Classifier struct {
	store    Store
	oracle   Oracle
	taxonomy models.Taxonomy
	logger   *slog.Logger
}

// New creates a new classifier
func New(store Store, oracle Oracle, taxonomy models.Taxonomy, logger *slog.Logger) *Classifier {
	return &Classifier{
		store:    store,
		oracle:   oracle,
		taxonomy: taxonomy,
		logger:   logger.With("component", "classifier"),
	}
}

// Classify returns the category of message id. A persisted category is
// returned as is and never recomputed. Any failure yields the catch-all
// label; Classify never returns an error.
func (c *Classifier) Classify(ctx context.Context, id uint32, body string) models.Category {
	category, err := c.classify(ctx, int64(id), body)
	if err != nil {
		c.logger.Error("classification failed, using fallback",
			"uid", id,
			"fallback", c.taxonomy.Fallback(),
			"error", err,
		)
		return c.taxonomy.Fallback()
	}
	return category
}

func (c *Classifier) classify(ctx context.Context, id int64, body string) (models.Category, error) {
	rec, err := c.store.GetMessageRecord(ctx, id)
	switch {
	case err == nil:
		if cached, ok := rec.CachedCategory(); ok {
			return c.cached(id, cached), nil
		}
	case errors.Is(err, database.ErrNotFound):
	default:
		// Unreadable cache: treat as a miss
		c.logger.Warn("failed to read message record", "uid", id, "error", err)
	}

	if rec == nil {
		if err := c.store.EnsureMessageRecord(ctx, id); err != nil {
			return "", fmt.Errorf("failed to record pending message: %w", err)
		}
	}

	label, err := c.oracle.Categorize(ctx, c.taxonomy.Instruction(), truncate(body, MaxInputRunes))
	if err != nil {
		return "", fmt.Errorf("oracle call failed: %w", err)
	}

	category := c.taxonomy.Resolve(label)
	if category == c.taxonomy.Fallback() && models.Normalize(label) != category {
		c.logger.Info("unrecognized label, using fallback", "uid", id, "label", label)
	}

	err = c.store.SetMessageCategory(ctx, id, category)
	if errors.Is(err, database.ErrAlreadyClassified) {
		// Another run stored a category first; that one is final
		return c.stored(ctx, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to store category: %w", err)
	}

	c.logger.Debug("message classified", "uid", id, "category", category)
	return category, nil
}

func (c *Classifier) stored(ctx context.Context, id int64) (models.Category, error) {
	rec, err := c.store.GetMessageRecord(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to read stored category: %w", err)
	}
	category, ok := rec.CachedCategory()
	if !ok {
		return "", fmt.Errorf("message %d has no stored category", id)
	}
	return c.cached(id, category), nil
}

// cached guards against a stored label that has since left the taxonomy
func (c *Classifier) cached(id int64, category models.Category) models.Category {
	if c.taxonomy.Contains(category) {
		return category
	}
	c.logger.Warn("stored category not in taxonomy", "uid", id, "category", category)
	return c.taxonomy.Fallback()
}

// truncate cuts s to at most n runes
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
