package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var statusEmoji = map[string]string{
	"completed": ":white_check_mark:",
	"failed":    ":x:",
	"timed_out": ":hourglass:",
	"cancelled": ":no_entry_sign:",
}

var statusLabel = map[string]string{
	"completed": "Query Answered",
	"failed":    "Query Failed",
	"timed_out": "Query Timed Out",
	"cancelled": "Query Cancelled",
}

func queryURL(sessionID, dashboardURL string) string {
	return fmt.Sprintf("%s/queries/%s", dashboardURL, sessionID)
}

// BuildTerminalMessage creates Block Kit blocks for a terminal query
// notification: status header, answer or error body, dashboard button.
func BuildTerminalMessage(input QueryCompletedInput, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[input.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[input.Status]
	if label == "" {
		label = "Query " + input.Status
	}

	var blocks []goslack.Block

	headerText := fmt.Sprintf("%s *%s*\n_%s_", emoji, label, truncateForSlack(input.Question))
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
		nil, nil,
	))

	if input.Status == "completed" && input.Response != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(input.Response), false, false),
			nil, nil,
		))
	} else if input.ErrorMessage != "" {
		errText := fmt.Sprintf("*Error:*\n%s", truncateForSlack(input.ErrorMessage))
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, errText, false, false),
			nil, nil,
		))
	}

	if dashboardURL != "" {
		buttonText := "View Full Answer"
		if input.Status != "completed" {
			buttonText = "View Details"
		}
		btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, buttonText, false, false))
		btn.URL = queryURL(input.SessionID, dashboardURL)
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}

	return blocks
}

// BuildQuarantineMessage creates Block Kit blocks for a tool-quarantine
// notification.
func BuildQuarantineMessage(input ToolQuarantinedInput) []goslack.Block {
	text := fmt.Sprintf(":biohazard_sign: *Tool Quarantined*\nTool `%s` failed repeatedly and was marked bugged.", input.ToolName)
	if input.LastError != "" {
		text += fmt.Sprintf("\n\n*Last error:*\n%s", truncateForSlack(input.LastError))
	}
	if input.SessionID != "" {
		text += fmt.Sprintf("\n\nQuarantined during session `%s`.", input.SessionID)
	}

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated — view full details in dashboard)_"
}
