package email

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// Well-known IMAP endpoints by mail domain
var knownIMAPServers = map[string]string{
	"gmail.com":      "imap.gmail.com:993",
	"googlemail.com": "imap.gmail.com:993",
	"outlook.com":    "outlook.office365.com:993",
	"hotmail.com":    "outlook.office365.com:993",
	"live.com":       "outlook.office365.com:993",
	"msn.com":        "outlook.office365.com:993",
	"yahoo.com":      "imap.mail.yahoo.com:993",
	"yahoo.co.uk":    "imap.mail.yahoo.com:993",
	"icloud.com":     "imap.mail.me.com:993",
	"me.com":         "imap.mail.me.com:993",
	"mac.com":        "imap.mail.me.com:993",
	"aol.com":        "imap.aol.com:993",
	"zoho.com":       "imap.zoho.com:993",
	"fastmail.com":   "imap.fastmail.com:993",
	"gmx.com":        "imap.gmx.com:993",
	"gmx.de":         "imap.gmx.net:993",
	"web.de":         "imap.web.de:993",
	"proton.me":      "127.0.0.1:1143", // ProtonMail Bridge
	"protonmail.com": "127.0.0.1:1143",
}

const imapsPort = "993"

// serverResolver finds an IMAP endpoint for a mail domain
type serverResolver struct {
	probe    func(ctx context.Context, address string) bool
	lookupMX func(ctx context.Context, domain string) ([]*net.MX, error)
}

func newServerResolver() *serverResolver {
	return &serverResolver{
		probe:    probeTCP,
		lookupMX: net.DefaultResolver.LookupMX,
	}
}

// ResolveIMAPServer determines the IMAP server (host:port) for an address
func ResolveIMAPServer(ctx context.Context, email string) (string, error) {
	return newServerResolver().resolve(ctx, email)
}

func (r *serverResolver) resolve(ctx context.Context, email string) (string, error) {
	domain := GetDomainFromEmail(email)
	if domain == "" {
		return "", fmt.Errorf("invalid email format: %q", email)
	}

	if server, ok := knownIMAPServers[domain]; ok {
		return server, nil
	}

	for _, host := range []string{"imap." + domain, "mail." + domain, domain} {
		address := net.JoinHostPort(host, imapsPort)
		if r.probe(ctx, address) {
			return address, nil
		}
	}

	if server, ok := r.resolveViaMX(ctx, domain); ok {
		return server, nil
	}

	return net.JoinHostPort("imap."+domain, imapsPort), nil
}

// resolveViaMX derives imap./mail. hosts from the primary MX record,
// e.g. mx.example.com -> imap.example.com
func (r *serverResolver) resolveViaMX(ctx context.Context, domain string) (string, bool) {
	records, err := r.lookupMX(ctx, domain)
	if err != nil || len(records) == 0 {
		return "", false
	}

	mxHost := strings.TrimSuffix(records[0].Host, ".")
	parts := strings.SplitN(mxHost, ".", 2)
	if len(parts) != 2 {
		return "", false
	}

	for _, host := range []string{"imap." + parts[1], "mail." + parts[1]} {
		address := net.JoinHostPort(host, imapsPort)
		if r.probe(ctx, address) {
			return address, true
		}
	}
	return "", false
}

func probeTCP(ctx context.Context, address string) bool {
	dialer := &net.Dialer{Timeout: 3 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// GetDomainFromEmail extracts domain from email address
func GetDomainFromEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" {
		return ""
	}
	return strings.ToLower(parts[1])
}
