package ticket

import (
	"fmt"
	"strings"

	"github.com/quickdesk/quickdesk/internal/conversation"
)

// Draft accumulates the ticket fields as the wizard walks its phases.
// Selection phases keep both the Jira value (an ID where Jira wants one)
// and the human label shown in the preview.
type Draft struct {
	Summary      string
	Description  string
	IssueType    string
	Priority     string
	Module       string
	SprintID     string
	SprintName   string
	AssigneeID   string
	AssigneeName string
	Attachments  []string
}

const maxSummaryLength = 255

func applySummary(d *Draft, value string) error {
	if value == "" {
		return fmt.Errorf("a summary is required, please describe the issue in one line")
	}
	if len(value) > maxSummaryLength {
		return fmt.Errorf("the summary is too long (%d characters), please keep it under %d", len(value), maxSummaryLength)
	}
	d.Summary = value
	return nil
}

func applyDescription(d *Draft, value string) error {
	if value == "" {
		return fmt.Errorf("a description is required, please add steps to reproduce or details")
	}
	d.Description = value
	return nil
}

// applyAttachments parses a whitespace or comma separated list of links.
// "skip" and "none" clear the list.
func applyAttachments(d *Draft, value string) error {
	switch strings.ToLower(value) {
	case "", "skip", "none", "no":
		d.Attachments = nil
		return nil
	}

	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == ','
	})
	var links []string
	for _, f := range fields {
		if !strings.HasPrefix(f, "http://") && !strings.HasPrefix(f, "https://") {
			return fmt.Errorf("%q does not look like a link, please paste http(s) URLs or type skip", f)
		}
		links = append(links, f)
	}
	d.Attachments = links
	return nil
}

// orDash substitutes a placeholder for skipped fields in the preview.
func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

// previewFields renders the draft as the labeled rows of the
// confirmation preview.
func previewFields(d *Draft) []conversation.Field {
	return []conversation.Field{
		{Label: "Summary", Value: d.Summary},
		{Label: "Description", Value: d.Description},
		{Label: "Issue type", Value: d.IssueType},
		{Label: "Priority", Value: d.Priority},
		{Label: "Module", Value: orDash(d.Module)},
		{Label: "Sprint", Value: orDash(d.SprintName)},
		{Label: "Assignee", Value: orDash(d.AssigneeName)},
		{Label: "Attachments", Value: orDash(strings.Join(d.Attachments, "\n"))},
	}
}
