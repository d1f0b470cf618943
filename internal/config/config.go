package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/mixelka/inboxtriage/pkg/models"
)

// Config application configuration
type Config struct {
	// HTTP
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":5000"`

	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/inboxtriage.db"`

	// Mailbox (IMAP)
	IMAPEmail       string        `env:"IMAP_EMAIL,required,notEmpty"`
	IMAPPassword    string        `env:"IMAP_PASSWORD,required,notEmpty"`
	IMAPServer      string        `env:"IMAP_SERVER"` // host:port, resolved from email domain if empty
	IMAPTLS         bool          `env:"IMAP_TLS" envDefault:"true"`
	IMAPMailbox     string        `env:"IMAP_MAILBOX" envDefault:"INBOX"`
	IMAPDialTimeout time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`

	// Send path (SMTP)
	SMTPServer   string        `env:"SMTP_SERVER" envDefault:"smtp.gmail.com:465"`
	SMTPUsername string        `env:"SMTP_USERNAME"` // defaults to IMAP_EMAIL
	SMTPPassword string        `env:"SMTP_PASSWORD"` // defaults to IMAP_PASSWORD
	SMTPFrom     string        `env:"SMTP_FROM"`     // defaults to SMTP_USERNAME
	SMTPTLS      bool          `env:"SMTP_TLS" envDefault:"true"`
	SMTPTimeout  time.Duration `env:"SMTP_TIMEOUT" envDefault:"30s"`

	// Ingestion
	BatchSize        int      `env:"BATCH_SIZE" envDefault:"10"`
	Categories       []string `env:"CATEGORIES" envSeparator:"," envDefault:"urgent,support,sales,complaint,newsletter,other"`
	CategoryFallback string   `env:"CATEGORY_FALLBACK" envDefault:"other"`

	// Classification and reply oracle
	LLMAPIKey        string        `env:"LLM_API_KEY,required,notEmpty"`
	LLMBaseURL       string        `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	LLMClassifyModel string        `env:"LLM_CLASSIFY_MODEL" envDefault:"gpt-3.5-turbo"`
	LLMReplyModel    string        `env:"LLM_REPLY_MODEL" envDefault:"gpt-4"`
	LLMTimeout       time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"

	taxonomy models.Taxonomy
}

// Taxonomy returns the validated category taxonomy
func (c *Config) Taxonomy() models.Taxonomy {
	return c.taxonomy
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// finalize validates values and fills defaults derived from other fields
func (c *Config) finalize() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}

	tax, err := models.NewTaxonomy(c.Categories, c.CategoryFallback)
	if err != nil {
		return fmt.Errorf("invalid CATEGORIES: %w", err)
	}
	c.taxonomy = tax

	if c.SMTPUsername == "" {
		c.SMTPUsername = c.IMAPEmail
	}
	if c.SMTPPassword == "" {
		c.SMTPPassword = c.IMAPPassword
	}
	if c.SMTPFrom == "" {
		c.SMTPFrom = c.SMTPUsername
	}

	return nil
}
