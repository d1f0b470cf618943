package parser

import (
	"bytes"
	"io"
	"log/slog"
	"mime"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	// Register charset decoders (windows-1252, iso-8859-*, koi8-r, etc.)
	_ "github.com/emersion/go-message/charset"

	"github.com/mixelka/inboxtriage/pkg/models"
)

// Upper bound on bytes read from a single body part
const maxPartBytes = 10 << 20

// ParsedMessage holds the canonical fields extracted from a raw message
type ParsedMessage struct {
	Sender  string // Address only
	Subject string
	Date    string // Date header as sent
	IsRead  bool
	Body    models.Body
}

// Extractor turns raw RFC 822 bytes into a ParsedMessage. It never fails:
// malformed input yields empty fields and models.NoContent.
type Extractor struct {
	html   *HTMLParser
	logger *slog.Logger
}

// NewExtractor creates a new content extractor
func NewExtractor(html *HTMLParser, logger *slog.Logger) *Extractor {
	return &Extractor{
		html:   html,
		logger: logger.With("component", "extractor"),
	}
}

// Parse extracts headers and the plain-text body. flags is the flag set
// returned with the fetch; \Seen marks the message read.
func (e *Extractor) Parse(raw []byte, flags []string) ParsedMessage {
	pm := ParsedMessage{
		IsRead: hasFlag(flags, imap.SeenFlag),
		Body:   models.NoContent,
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return pm
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil {
		e.logger.Debug("unparsable message", "error", err)
		return pm
	}
	defer mr.Close()
	if err != nil {
		e.logger.Debug("message parsed with warnings", "error", err)
	}

	pm.Sender = senderAddress(mr.Header)
	pm.Subject = decodeSubject(mr.Header)
	pm.Date = strings.TrimSpace(mr.Header.Get("Date"))
	pm.Body = e.extractBody(mr)

	return pm
}

// extractBody walks the leaf parts in document order. In a multipart
// message the first non-attachment text/plain part wins; a single-part
// message also accepts text/html, rendered as text.
func (e *Extractor) extractBody(mr *mail.Reader) models.Body {
	multipart := strings.HasPrefix(mediaType(&mr.Header.Header), "multipart/")

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if part == nil || !message.IsUnknownCharset(err) {
				e.logger.Debug("failed to read part", "error", err)
				break
			}
			e.logger.Debug("unknown charset, using raw part", "error", err)
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue // attachment
		}

		switch ct := mediaType(&h.Header); {
		case ct == "text/plain":
			text, err := readPart(part.Body)
			if err != nil {
				e.logger.Debug("failed to read text part", "error", err)
				continue
			}
			return models.TextBody(text)

		case ct == "text/html" && !multipart:
			html, err := readPart(part.Body)
			if err != nil {
				return models.NoContent
			}
			text, err := e.html.Parse(html)
			if err != nil {
				e.logger.Debug("failed to render html body", "error", err)
				return models.NoContent
			}
			return models.TextBody(text)
		}
	}

	return models.NoContent
}

// mediaType returns the lowercased media type, text/plain when the header
// is absent (RFC 2045 default) and "" when it cannot be parsed
func mediaType(h *message.Header) string {
	raw := h.Get("Content-Type")
	if strings.TrimSpace(raw) == "" {
		return "text/plain"
	}
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		// Keep the bare type when only the parameters are broken
		if i := strings.IndexByte(raw, ';'); i > 0 {
			return strings.ToLower(strings.TrimSpace(raw[:i]))
		}
		return ""
	}
	return strings.ToLower(mt)
}

func readPart(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxPartBytes))
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(b), ""), nil
}

func decodeSubject(h mail.Header) string {
	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	return strings.TrimSpace(strings.ToValidUTF8(subject, ""))
}

// senderAddress returns the first From address without its display name
func senderAddress(h mail.Header) string {
	if addrs, err := h.AddressList("From"); err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}

	raw := strings.ToValidUTF8(h.Get("From"), "")
	if start := strings.LastIndexByte(raw, '<'); start >= 0 {
		if end := strings.IndexByte(raw[start:], '>'); end > 0 {
			return strings.TrimSpace(raw[start+1 : start+end])
		}
	}
	if raw = strings.TrimSpace(raw); strings.Contains(raw, "@") && !strings.ContainsAny(raw, " \t") {
		return raw
	}
	return ""
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}
