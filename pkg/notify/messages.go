package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

// SeverityEmoji returns the emoji prefix for a given severity level.
func SeverityEmoji(severity string) string {
	switch severity {
	case "CRITICAL":
		return "🔴"
	case "HIGH":
		return "🟠"
	case "MEDIUM":
		return "🟡"
	case "LOW":
		return "🔵"
	default:
		return "⚪"
	}
}

// NotificationBlocks builds Slack Block Kit blocks for a detection or
// governance event notification.
func NotificationBlocks(n Notification) []goslack.Block {
	header := goslack.NewHeaderBlock(
		goslack.NewTextBlockObject(goslack.PlainTextType,
			fmt.Sprintf("%s %s: %s", SeverityEmoji(n.Severity), n.Severity, n.Title), true, false),
	)

	var fields []*goslack.TextBlockObject
	if n.JobID != "" {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Job:* %s", n.JobID), false, false))
	}
	if n.NodeID != "" {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Node:* %s", n.NodeID), false, false))
	}
	if n.SubjectID != "" {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Subject:* %s", n.SubjectID), false, false))
	}
	if n.ActionTaken != "" {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Action:* %s", n.ActionTaken), false, false))
	}

	var blocks []goslack.Block
	blocks = append(blocks, header)

	if len(fields) > 0 {
		blocks = append(blocks, goslack.NewSectionBlock(nil, fields, nil))
	}

	if n.Detail != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncate(n.Detail, 500), false, false),
			nil, nil,
		))
	}

	if n.IncidentID != "" && n.EventKind != "CLEARANCE_REVOKED" {
		ackBtn := goslack.NewButtonBlockElement("ack_false_positive", n.IncidentID,
			goslack.NewTextBlockObject(goslack.PlainTextType, "🏳️ Mark False Positive", true, false))
		actions := goslack.NewActionBlock("incident_actions", ackBtn)
		blocks = append(blocks, actions)
	}

	return blocks
}

// FalsePositiveAckBlocks builds blocks for a false-positive acknowledgment
// update message.
func FalsePositiveAckBlocks(incidentID, markedBy string) []goslack.Block {
	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType,
				fmt.Sprintf("🏳️ Incident *%s* marked as a false positive by %s.", incidentID, markedBy), false, false),
			nil, nil,
		),
	}
}

// IncidentStatusBlocks builds blocks listing the currently active incidents,
// for the /custodes status slash command.
func IncidentStatusBlocks(incidents []IncidentSummary) []goslack.Block {
	if len(incidents) == 0 {
		return []goslack.Block{
			goslack.NewSectionBlock(
				goslack.NewTextBlockObject(goslack.MarkdownType, "No active incidents.", false, false),
				nil, nil,
			),
		}
	}

	blocks := []goslack.Block{
		goslack.NewHeaderBlock(
			goslack.NewTextBlockObject(goslack.PlainTextType, "Active Incidents", true, false),
		),
	}

	for i, inc := range incidents {
		if i >= 10 {
			break
		}
		text := fmt.Sprintf("*%s %s* — job `%s` — %s", SeverityEmoji(inc.Severity), inc.Severity, inc.JobID, inc.ActionTaken)
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		))
	}

	return blocks
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
