package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	netsmtp "net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// DefaultSubject is used when a reply is sent without a subject
const DefaultSubject = "Re: Your email"

// Config configuration for the sender
type Config struct {
	Server   string // host:port
	Username string
	Password string
	From     string
	TLS      bool // implicit TLS; otherwise STARTTLS when offered
	Timeout  time.Duration
}

// Outgoing is a plain text message to one recipient
type Outgoing struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers replies through a single SMTP account
type Sender struct {
	config Config
	logger *slog.Logger
}

// NewSender creates a new SMTP sender
func NewSender(cfg Config, logger *slog.Logger) *Sender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &Sender{
		config: cfg,
		logger: logger.With("component", "smtp_sender", "server", cfg.Server),
	}
}

// Send composes msg and delivers it. A rejected login is reported as
// *AuthenticationError.
func (s *Sender) Send(ctx context.Context, msg Outgoing) error {
	data, err := s.buildMessage(msg, time.Now())
	if err != nil {
		return err
	}

	to := strings.TrimSpace(msg.To)
	start := time.Now()
	if err := s.deliver(ctx, to, data); err != nil {
		s.logger.Error("failed to send reply", "to", to, "error", err)
		return err
	}

	s.logger.Info("reply sent", "to", to, "bytes", len(data), "duration", time.Since(start))
	return nil
}

// buildMessage renders msg as an RFC 5322 text/plain message
func (s *Sender) buildMessage(msg Outgoing, now time.Time) ([]byte, error) {
	to, err := mail.ParseAddress(strings.TrimSpace(msg.To))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecipient, msg.To)
	}
	if strings.TrimSpace(msg.Body) == "" {
		return nil, ErrEmptyBody
	}

	subject := sanitizeHeaderValue(strings.TrimSpace(msg.Subject))
	if subject == "" {
		subject = DefaultSubject
	}

	var h mail.Header
	h.SetDate(now)
	h.SetSubject(subject)
	if from, err := mail.ParseAddress(s.config.From); err == nil {
		h.SetAddressList("From", []*mail.Address{from})
	} else {
		h.Set("From", sanitizeHeaderValue(s.config.From))
	}
	h.SetAddressList("To", []*mail.Address{to})
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}
	if _, err := w.Write([]byte(msg.Body)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message: %w", err)
	}

	return buf.Bytes(), nil
}

func (s *Sender) deliver(ctx context.Context, to string, data []byte) error {
	host, _, err := net.SplitHostPort(s.config.Server)
	if err != nil {
		return fmt.Errorf("invalid smtp server %q: %w", s.config.Server, err)
	}

	conn, err := s.dial(ctx, host)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	// Unblock any pending exchange when the caller gives up
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	deadline := time.Now().Add(s.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	client, err := netsmtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if !s.config.TLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}

	auth := netsmtp.PlainAuth("", s.config.Username, s.config.Password, host)
	if err := client.Auth(auth); err != nil {
		if isAuthRejection(err) {
			return &AuthenticationError{Username: s.config.Username, Err: err}
		}
		return fmt.Errorf("SMTP auth: %w", err)
	}

	if err := client.Mail(bareAddress(s.config.From)); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT TO: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close message data: %w", err)
	}

	return client.Quit()
}

func (s *Sender) dial(ctx context.Context, host string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: s.config.Timeout}
	if !s.config.TLS {
		return dialer.DialContext(ctx, "tcp", s.config.Server)
	}
	tlsDialer := &tls.Dialer{
		NetDialer: dialer,
		Config:    &tls.Config{ServerName: host},
	}
	return tlsDialer.DialContext(ctx, "tcp", s.config.Server)
}

// bareAddress strips a display name for the envelope sender
func bareAddress(s string) string {
	if addr, err := mail.ParseAddress(s); err == nil {
		return addr.Address
	}
	return strings.TrimSpace(s)
}

// sanitizeHeaderValue removes CR/LF to prevent header injection
func sanitizeHeaderValue(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
