package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// RawMessage is an unparsed message with the flags returned by the fetch
type RawMessage struct {
	ID    uint32
	Raw   []byte
	Flags []string
}

// ReaderConfig configuration for the mailbox reader
type ReaderConfig struct {
	Username    string
	Password    string
	Server      string // host:port
	TLS         bool
	Mailbox     string // defaults to INBOX
	DialTimeout time.Duration
}

// Reader opens sessions against a single mailbox. It holds no connection
// state, so concurrent callers each get their own session.
type Reader struct {
	config ReaderConfig
	logger *slog.Logger
}

// NewReader creates a new mailbox reader
func NewReader(cfg ReaderConfig, logger *slog.Logger) *Reader {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	return &Reader{
		config: cfg,
		logger: logger.With("component", "mailbox_reader", "email", cfg.Username),
	}
}

// Connect dials the server, logs in and selects the mailbox.
// The caller must Close the returned session.
func (r *Reader) Connect(ctx context.Context) (*Session, error) {
	r.logger.Debug("connecting to IMAP server", "server", r.config.Server)

	conn, err := r.dial(ctx)
	if err != nil {
		return nil, &ConnectivityError{Op: "dial", Server: r.config.Server, Err: err}
	}

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, &ConnectivityError{Op: "greeting", Server: r.config.Server, Err: err}
	}
	imapClient.Timeout = r.config.DialTimeout

	if err := imapClient.Login(r.config.Username, r.config.Password); err != nil {
		imapClient.Logout()
		if isTransportError(err) {
			return nil, &ConnectivityError{Op: "login", Server: r.config.Server, Err: err}
		}
		return nil, &AuthenticationError{Username: r.config.Username, Err: err}
	}

	if _, err := imapClient.Select(r.config.Mailbox, false); err != nil {
		imapClient.Logout()
		return nil, &ConnectivityError{Op: "select " + r.config.Mailbox, Server: r.config.Server, Err: err}
	}

	r.logger.Debug("connected to IMAP server", "mailbox", r.config.Mailbox)

	return &Session{
		client: imapClient,
		server: r.config.Server,
		logger: r.logger,
	}, nil
}

// MarkSeen opens a short session and sets \Seen on a message.
// Failures are logged, never returned.
func (r *Reader) MarkSeen(ctx context.Context, id uint32) {
	sess, err := r.Connect(ctx)
	if err != nil {
		r.logger.Warn("failed to mark message as seen", "uid", id, "error", err)
		return
	}
	defer sess.Close()

	sess.MarkSeen(ctx, id)
}

func (r *Reader) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: r.config.DialTimeout}
	if !r.config.TLS {
		return dialer.DialContext(ctx, "tcp", r.config.Server)
	}

	host, _, err := net.SplitHostPort(r.config.Server)
	if err != nil {
		return nil, fmt.Errorf("invalid server address: %w", err)
	}
	tlsDialer := &tls.Dialer{
		NetDialer: dialer,
		Config:    &tls.Config{ServerName: host},
	}
	return tlsDialer.DialContext(ctx, "tcp", r.config.Server)
}

// isTransportError reports whether err came from the connection rather than
// from a server response
func isTransportError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, client.ErrLoginDisabled) ||
		errors.Is(err, client.ErrAlreadyLoggedOut)
}

// Session is an authenticated connection with the mailbox selected.
// The underlying protocol connection is not safe for concurrent commands,
// so every call is serialized.
type Session struct {
	client    *client.Client
	server    string
	logger    *slog.Logger
	mu        sync.Mutex
	closeOnce sync.Once
	closed    bool
}

// ListRecentIDs returns up to limit UIDs, highest first
func (s *Session) ListRecentIDs(ctx context.Context, limit int) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(ctx); err != nil {
		return nil, &ConnectivityError{Op: "search", Server: s.server, Err: err}
	}

	uids, err := s.client.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, &ConnectivityError{Op: "search", Server: s.server, Err: err}
	}

	// UIDs grow with arrival order, so the highest are treated as newest
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if limit >= 0 && len(uids) > limit {
		uids = uids[:limit]
	}
	return uids, nil
}

// FetchRaw fetches the full message and its flags without setting \Seen
func (s *Session) FetchRaw(ctx context.Context, id uint32) (*RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(ctx); err != nil {
		return nil, &FetchError{ID: id, Err: err}
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(id)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- s.client.UidFetch(seqSet, items, messages)
	}()

	var raw *RawMessage
	var readErr error
	for msg := range messages {
		if raw != nil || msg.Uid != id {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			readErr = errors.New("server returned no body section")
			continue
		}
		data, err := io.ReadAll(body)
		if err != nil {
			readErr = fmt.Errorf("failed to read body: %w", err)
			continue
		}
		raw = &RawMessage{ID: id, Raw: data, Flags: msg.Flags}
	}

	if err := <-done; err != nil {
		return nil, &FetchError{ID: id, Err: err}
	}
	if raw == nil {
		if readErr == nil {
			readErr = ErrMessageNotFound
		}
		return nil, &FetchError{ID: id, Err: readErr}
	}

	return raw, nil
}

// MarkSeen adds the \Seen flag to a message. Failures are logged only: a
// missed flag is not data loss.
func (s *Session) MarkSeen(ctx context.Context, id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(ctx); err != nil {
		s.logger.Warn("failed to mark message as seen", "uid", id, "error", err)
		return
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(id)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}

	if err := s.client.UidStore(seqSet, item, flags, nil); err != nil {
		s.logger.Warn("failed to mark message as seen", "uid", id, "error", err)
		return
	}

	s.logger.Debug("marked message as seen", "uid", id)
}

// Close logs out. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		// Try logout with timeout, then force close
		done := make(chan struct{})
		go func() {
			if err := s.client.Logout(); err != nil {
				s.logger.Debug("logout failed", "error", err)
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			s.client.Terminate()
		}
	})
}

func (s *Session) usable(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}
	return ctx.Err()
}
