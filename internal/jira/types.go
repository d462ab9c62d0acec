package jira

// Ticket is a created or listed Jira issue.
type Ticket struct {
	Key       string `json:"key"`
	Summary   string `json:"summary"`
	Status    string `json:"status"`
	IssueType string `json:"issue_type"`
	Priority  string `json:"priority"`
	Assignee  string `json:"assignee"`
	URL       string `json:"url"`
}

// CreateRequest carries the finalized ticket draft to Jira.
type CreateRequest struct {
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	IssueType   string   `json:"issue_type"`
	Priority    string   `json:"priority"`
	Module      string   `json:"module"`
	Sprint      string   `json:"sprint"`
	Assignee    string   `json:"assignee"`
	Attachments []string `json:"attachments"`
}

// Duplicate is a potential duplicate found before confirmation.
// MatchedBy names the search clause that produced the hit; no similarity
// score is computed.
type Duplicate struct {
	Key       string `json:"key"`
	Summary   string `json:"summary"`
	Status    string `json:"status"`
	URL       string `json:"url"`
	MatchedBy string `json:"matched_by"`
}

// MetaOption is one selectable metadata value (issue type, component,
// sprint, or assignable user).
type MetaOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Metadata is the project metadata fetched once at wizard session start
// to populate phase options.
type Metadata struct {
	IssueTypes []MetaOption `json:"issue_types"`
	Modules    []MetaOption `json:"modules"`
	Sprints    []MetaOption `json:"sprints"`
	Users      []MetaOption `json:"users"`
}

// Filter narrows a MyTickets listing.
type Filter struct {
	IssueType   string `json:"issueType,omitempty"`
	Status      string `json:"status,omitempty"`
	SearchQuery string `json:"searchQuery,omitempty"`
	MaxResults  int    `json:"maxResults,omitempty"`
	StartAt     int    `json:"startAt,omitempty"`
}

// TicketPage is one page of a ticket listing.
type TicketPage struct {
	Tickets []Ticket `json:"tickets"`
	Total   int      `json:"total"`
	StartAt int      `json:"start_at"`
}
