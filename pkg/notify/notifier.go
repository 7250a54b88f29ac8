package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// Notifier sends governance and detection event notifications to Slack.
// It satisfies the NotifySink interface declared by pkg/detector.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a Slack Notifier. If botToken is empty, the notifier
// is a noop (logging only).
func NewNotifier(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// IsEnabled returns true if the notifier has a valid Slack client.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// Notify implements the detector's narrow NotifySink interface. It always
// posts "[kind] target: message" to the configured incident channel; target
// appears only in the text and no direct message is sent.
func (n *Notifier) Notify(ctx context.Context, target, kind, message string) error {
	if !n.IsEnabled() {
		n.logger.Debug("notifier disabled, skipping", "target", target, "kind", kind, "message", message)
		return nil
	}
	text := fmt.Sprintf("[%s] %s: %s", kind, target, message)
	_, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("posting notification to slack: %w", err)
	}
	return nil
}

// PostIncident sends a detection/governance event notification to the
// configured channel. Returns the channel ID and message timestamp so a
// later update (e.g. false-positive ack) can target the same message.
func (n *Notifier) PostIncident(ctx context.Context, note Notification) (channelID, ts string, err error) {
	if !n.IsEnabled() {
		n.logger.Debug("notifier disabled, skipping incident post", "incident_id", note.IncidentID, "title", note.Title)
		return "", "", nil
	}

	blocks := NotificationBlocks(note)
	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(blocks...),
		goslack.MsgOptionText(fmt.Sprintf("%s %s: %s", SeverityEmoji(note.Severity), note.Severity, note.Title), false),
	}

	channelID, ts, err = n.client.PostMessageContext(ctx, n.channel, opts...)
	if err != nil {
		return "", "", fmt.Errorf("posting incident to slack: %w", err)
	}

	n.logger.Info("posted incident to slack", "incident_id", note.IncidentID, "channel", channelID, "ts", ts)
	return channelID, ts, nil
}

// UpdateMessage updates an existing Slack message, e.g. to reflect a
// false-positive acknowledgment.
func (n *Notifier) UpdateMessage(ctx context.Context, channelID, ts string, blocks []goslack.Block, fallbackText string) error {
	if !n.IsEnabled() {
		return nil
	}
	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(blocks...),
		goslack.MsgOptionText(fallbackText, false),
	}
	_, _, _, err := n.client.UpdateMessageContext(ctx, channelID, ts, opts...)
	if err != nil {
		return fmt.Errorf("updating slack message: %w", err)
	}
	return nil
}

// PostEphemeral posts an ephemeral message visible only to the specified user.
func (n *Notifier) PostEphemeral(ctx context.Context, channelID, userID, text string) error {
	if !n.IsEnabled() {
		return nil
	}
	_, err := n.client.PostEphemeralContext(ctx, channelID, userID, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("posting ephemeral message: %w", err)
	}
	return nil
}

// SendDM sends a direct message to a user by their Slack user ID. Used to
// notify an individual subject of a detection response.
func (n *Notifier) SendDM(ctx context.Context, slackUserID, text string) error {
	if !n.IsEnabled() {
		return nil
	}
	channel, _, _, err := n.client.OpenConversationContext(ctx, &goslack.OpenConversationParameters{
		Users: []string{slackUserID},
	})
	if err != nil {
		return fmt.Errorf("opening DM conversation: %w", err)
	}
	_, _, err = n.client.PostMessageContext(ctx, channel.ID, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("sending DM: %w", err)
	}
	return nil
}
