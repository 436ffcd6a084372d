// Package notify pushes alert lifecycle events to operators.
package notify

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/database"
	"github.com/alerthub/alerthub/internal/utils"
)

// maxAttachmentText keeps alert descriptions to one readable line.
const maxAttachmentText = 300

// Notifier announces alert events to an operator channel.
type Notifier interface {
	AlertCreated(alert *database.Alert)
	AlertClosed(alert *database.Alert)
	IssueOpened(issue *database.Issue)
}

// SlackNotifier posts alert events to a Slack channel. An unconfigured
// notifier is a no-op, so callers never need to nil-check.
type SlackNotifier struct {
	mu      sync.RWMutex
	client  *slack.Client
	channel string
}

func NewSlackNotifier(botToken, channel string) *SlackNotifier {
	n := &SlackNotifier{channel: channel}
	if botToken != "" && channel != "" {
		n.client = slack.New(botToken)
	}
	return n
}

// Configured reports whether messages will actually be sent.
func (n *SlackNotifier) Configured() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.client != nil
}

// Reconfigure swaps credentials at runtime.
func (n *SlackNotifier) Reconfigure(botToken, channel string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if botToken == "" || channel == "" {
		n.client = nil
		n.channel = ""
		return
	}
	n.client = slack.New(botToken)
	n.channel = channel
}

func (n *SlackNotifier) AlertCreated(alert *database.Alert) {
	color := severityColor(alert.Severity)
	text := fmt.Sprintf("*%s* `%s` on `%s` (%s)", alert.Event, alert.Severity, alert.Resource, alert.Environment)
	if alert.Text != "" {
		text += "\n" + utils.TruncateText(alert.Text, maxAttachmentText)
	}
	n.post("New alert", text, color)
}

func (n *SlackNotifier) AlertClosed(alert *database.Alert) {
	text := fmt.Sprintf("*%s* on `%s` closed after %s", alert.Event, alert.Resource, utils.FormatDuration(time.Since(alert.CreateTime)))
	n.post("Alert closed", text, "#36a64f")
}

func (n *SlackNotifier) IssueOpened(issue *database.Issue) {
	text := fmt.Sprintf("*%s* (%s), hosts: %d", issue.Summary, issue.Severity, len(issue.Hosts))
	n.post("New issue", text, severityColor(alarm.Severity(issue.Severity)))
}

func (n *SlackNotifier) post(title, text, color string) {
	n.mu.RLock()
	client := n.client
	channel := n.channel
	n.mu.RUnlock()
	if client == nil {
		return
	}

	attachment := slack.Attachment{
		Title: title,
		Text:  text,
		Color: color,
	}
	_, _, err := client.PostMessage(channel, slack.MsgOptionAttachments(attachment))
	if err != nil {
		log.Printf("Failed to post Slack message: %v", err)
	}
}

func severityColor(s alarm.Severity) string {
	switch s {
	case alarm.SeveritySecurity, alarm.SeverityCritical:
		return "#e01e5a"
	case alarm.SeverityHigh, alarm.SeverityMajor:
		return "#ff8c00"
	case alarm.SeverityMedium, alarm.SeverityMinor, alarm.SeverityWarning:
		return "#ecb22e"
	default:
		return "#36a64f"
	}
}
