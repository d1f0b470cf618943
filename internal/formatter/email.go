package formatter

import (
	"strings"

	"github.com/mixelka/inboxtriage/pkg/models"
)

// EmailView is the JSON shape of a message served to clients
type EmailView struct {
	ID             uint32 `json:"id"`
	From           string `json:"from"`
	Title          string `json:"title"`
	Date           string `json:"date"`
	Read           string `json:"read"`
	Replied        string `json:"replied"`
	Classification string `json:"classification"`
	Body           string `json:"body"`
	Email          string `json:"email"`
}

const (
	readLabel       = "read"
	unreadLabel     = "unread"
	repliedLabel    = "replied"
	notRepliedLabel = "not replied"
)

// EmailFormatter renders mailbox messages as client views
type EmailFormatter struct{}

// NewEmailFormatter creates a new email formatter
func NewEmailFormatter() *EmailFormatter {
	return &EmailFormatter{}
}

// FormatEmail formats a single message
func (f *EmailFormatter) FormatEmail(msg *models.MailboxMessage) EmailView {
	return EmailView{
		ID:             msg.ID,
		From:           msg.Sender,
		Title:          msg.Subject,
		Date:           msg.Date,
		Read:           f.choose(msg.IsRead, readLabel, unreadLabel),
		Replied:        f.choose(msg.IsReplied, repliedLabel, notRepliedLabel),
		Classification: string(msg.Category),
		Body:           f.body(msg.Body),
		Email:          msg.Sender,
	}
}

// FormatEmails formats messages in order. Never returns nil, so an empty
// mailbox encodes as [].
func (f *EmailFormatter) FormatEmails(msgs []models.MailboxMessage) []EmailView {
	views := make([]EmailView, 0, len(msgs))
	for i := range msgs {
		views = append(views, f.FormatEmail(&msgs[i]))
	}
	return views
}

// body trims a present body; an absent one renders as the sentinel
func (f *EmailFormatter) body(b models.Body) string {
	if !b.Present {
		return models.NoContentText
	}
	return strings.TrimSpace(b.Text)
}

func (f *EmailFormatter) choose(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
