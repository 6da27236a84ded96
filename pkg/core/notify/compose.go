package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/db"
)

// DigestItem is one message quoted in a digest email
type DigestItem struct {
	SenderName string
	Preview    string
	PostedAt   time.Time
}

// ComposeChatEmail builds the notification for a single new message
func ComposeChatEmail(from string, to Participant, opp db.Opportunity, senderName, text string) model.Email {
	preview := Preview(text)
	subject := fmt.Sprintf("New message about %s", opp.Title)

	plain := fmt.Sprintf("Hi %s\n\n%s posted a message about %s on %s:\n\n%s\n\nReply in Community Connect to continue the conversation.\n",
		to.Name, senderName, opp.Title, opp.Date, preview)

	htmlBody := fmt.Sprintf("<p>Hi %s</p><p><strong>%s</strong> posted a message about <strong>%s</strong> on %s:</p><blockquote>%s</blockquote><p>Reply in Community Connect to continue the conversation.</p>",
		html.EscapeString(to.Name), html.EscapeString(senderName), html.EscapeString(opp.Title),
		html.EscapeString(opp.Date), html.EscapeString(preview))

	return model.Email{From: from, To: to.Email, Subject: subject, Text: plain, HTML: htmlBody}
}

// ComposeDigestEmail rolls several messages on one opportunity into one email
func ComposeDigestEmail(from string, to Participant, opp db.Opportunity, items []DigestItem) model.Email {
	subject := fmt.Sprintf("%d new messages about %s", len(items), opp.Title)
	if len(items) == 1 {
		subject = fmt.Sprintf("1 new message about %s", opp.Title)
	}

	var plain, htmlBody strings.Builder
	fmt.Fprintf(&plain, "Hi %s\n\nHere is what you missed about %s on %s:\n\n", to.Name, opp.Title, opp.Date)
	fmt.Fprintf(&htmlBody, "<p>Hi %s</p><p>Here is what you missed about <strong>%s</strong> on %s:</p><ul>",
		html.EscapeString(to.Name), html.EscapeString(opp.Title), html.EscapeString(opp.Date))

	for _, item := range items {
		stamp := item.PostedAt.UTC().Format("15:04")
		fmt.Fprintf(&plain, "[%s] %s: %s\n", stamp, item.SenderName, item.Preview)
		fmt.Fprintf(&htmlBody, "<li>[%s] <strong>%s</strong>: %s</li>",
			stamp, html.EscapeString(item.SenderName), html.EscapeString(item.Preview))
	}

	plain.WriteString("\nReply in Community Connect to continue the conversation.\n")
	htmlBody.WriteString("</ul><p>Reply in Community Connect to continue the conversation.</p>")

	return model.Email{From: from, To: to.Email, Subject: subject, Text: plain.String(), HTML: htmlBody.String()}
}
