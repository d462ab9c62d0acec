// Package jira is the REST client for the configured Jira Cloud project:
// issue creation, JQL duplicate search, project metadata, and the
// reporter's own ticket listing.
//
// Every call is a single attempt. A failed request is reported to the
// caller, who decides whether to ask the user to resubmit.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for Jira API failures.
var (
	// ErrUnauthorized indicates the API token was rejected (401/403).
	ErrUnauthorized = errors.New("jira: unauthorized")

	// ErrNotFound indicates a missing project, board, or issue (404).
	ErrNotFound = errors.New("jira: not found")

	// ErrRequestFailed is any other non-2xx response.
	ErrRequestFailed = errors.New("jira: request failed")
)

// maxResponseBody bounds how much of a response body is read.
const maxResponseBody = 4 * 1024 * 1024

// sprintFieldID is the sprint custom field on Jira Cloud company-managed
// projects. Site-specific overrides are not supported yet.
const sprintFieldID = "customfield_10020"

// Client talks to the Jira Cloud REST API with basic auth.
type Client struct {
	baseURL    string
	email      string
	apiToken   string
	projectKey string
	boardID    int
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// WithBoardID sets the agile board used for sprint lookups.
func WithBoardID(id int) Option {
	return func(cl *Client) {
		cl.boardID = id
	}
}

// NewClient creates a Jira client for one project.
func NewClient(baseURL, email, apiToken, projectKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		email:      email,
		apiToken:   apiToken,
		projectKey: projectKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BrowseURL returns the human-facing URL for an issue key.
func (c *Client) BrowseURL(key string) string {
	return c.baseURL + "/browse/" + key
}

// CreateTicket files a new issue and returns its key and browse URL.
func (c *Client) CreateTicket(ctx context.Context, req CreateRequest) (Ticket, error) {
	fields := map[string]any{
		"project":     map[string]string{"key": c.projectKey},
		"summary":     req.Summary,
		"description": adfDocument(req.Description),
		"issuetype":   map[string]string{"name": req.IssueType},
	}
	if req.Priority != "" {
		fields["priority"] = map[string]string{"name": req.Priority}
	}
	if req.Module != "" {
		fields["components"] = []map[string]string{{"name": req.Module}}
	}
	if req.Assignee != "" {
		fields["assignee"] = map[string]string{"accountId": req.Assignee}
	}
	if req.Sprint != "" {
		sprintID, err := strconv.Atoi(req.Sprint)
		if err != nil {
			return Ticket{}, fmt.Errorf("invalid sprint id %q: %w", req.Sprint, err)
		}
		fields[sprintFieldID] = sprintID
	}

	var created struct {
		Key string `json:"key"`
	}
	if err := c.do(ctx, http.MethodPost, "/rest/api/3/issue", map[string]any{"fields": fields}, &created); err != nil {
		return Ticket{}, fmt.Errorf("creating issue: %w", err)
	}

	c.logger.Info("jira issue created", "key", created.Key)

	return Ticket{
		Key:       created.Key,
		Summary:   req.Summary,
		IssueType: req.IssueType,
		Priority:  req.Priority,
		URL:       c.BrowseURL(created.Key),
	}, nil
}

// SearchDuplicates looks for open issues whose summary contains keywords
// drawn from the draft summary and description. Summary terms rank first
// and the keyword cap keeps the JQL bounded. The result is advisory: an
// empty slice and a nil error simply means nothing matched.
func (c *Client) SearchDuplicates(ctx context.Context, summary, description string) ([]Duplicate, error) {
	keywords := extractKeywords(summary + "\n" + description)
	if len(keywords) == 0 {
		return nil, nil
	}

	clauses := make([]string, len(keywords))
	for i, kw := range keywords {
		clauses[i] = fmt.Sprintf(`summary ~ "%s"`, escapeJQL(kw))
	}
	jql := fmt.Sprintf(`project = %s AND statusCategory != Done AND (%s) ORDER BY created DESC`,
		c.projectKey, strings.Join(clauses, " OR "))

	var result struct {
		Issues []struct {
			Key    string `json:"key"`
			Fields struct {
				Summary string `json:"summary"`
				Status  struct {
					Name string `json:"name"`
				} `json:"status"`
			} `json:"fields"`
		} `json:"issues"`
	}
	body := map[string]any{
		"jql":        jql,
		"maxResults": 5,
		"fields":     []string{"summary", "status"},
	}
	if err := c.do(ctx, http.MethodPost, "/rest/api/3/search/jql", body, &result); err != nil {
		return nil, fmt.Errorf("searching duplicates: %w", err)
	}

	dups := make([]Duplicate, 0, len(result.Issues))
	for _, iss := range result.Issues {
		dups = append(dups, Duplicate{
			Key:       iss.Key,
			Summary:   iss.Fields.Summary,
			Status:    iss.Fields.Status.Name,
			URL:       c.BrowseURL(iss.Key),
			MatchedBy: matchedKeywords(iss.Fields.Summary, keywords),
		})
	}
	return dups, nil
}

// matchedKeywords names which search keywords appear in a hit's summary.
func matchedKeywords(summary string, keywords []string) string {
	lower := strings.ToLower(summary)
	var hits []string
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits = append(hits, kw)
		}
	}
	return strings.Join(hits, ", ")
}

// Metadata fetches the selectable values for the wizard's option phases.
// Each sub-fetch failure degrades that list to empty rather than failing
// the whole call; the wizard falls back to its fixed defaults.
func (c *Client) Metadata(ctx context.Context) (Metadata, error) {
	var meta Metadata

	var project struct {
		IssueTypes []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Subtask bool   `json:"subtask"`
		} `json:"issueTypes"`
	}
	if err := c.do(ctx, http.MethodGet, "/rest/api/3/project/"+c.projectKey, nil, &project); err != nil {
		return Metadata{}, fmt.Errorf("fetching project: %w", err)
	}
	for _, it := range project.IssueTypes {
		if it.Subtask {
			continue
		}
		meta.IssueTypes = append(meta.IssueTypes, MetaOption{ID: it.ID, Name: it.Name})
	}

	var components []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/rest/api/3/project/"+c.projectKey+"/components", nil, &components); err != nil {
		c.logger.Warn("fetching components failed", "error", err)
	}
	for _, comp := range components {
		meta.Modules = append(meta.Modules, MetaOption{ID: comp.ID, Name: comp.Name})
	}

	if c.boardID > 0 {
		var sprints struct {
			Values []struct {
				ID    int    `json:"id"`
				Name  string `json:"name"`
				State string `json:"state"`
			} `json:"values"`
		}
		path := fmt.Sprintf("/rest/agile/1.0/board/%d/sprint?state=active,future", c.boardID)
		if err := c.do(ctx, http.MethodGet, path, nil, &sprints); err != nil {
			c.logger.Warn("fetching sprints failed", "error", err)
		}
		for _, sp := range sprints.Values {
			meta.Sprints = append(meta.Sprints, MetaOption{ID: fmt.Sprint(sp.ID), Name: sp.Name})
		}
	}

	var users []struct {
		AccountID   string `json:"accountId"`
		DisplayName string `json:"displayName"`
		AccountType string `json:"accountType"`
	}
	path := "/rest/api/3/user/assignable/search?project=" + url.QueryEscape(c.projectKey)
	if err := c.do(ctx, http.MethodGet, path, nil, &users); err != nil {
		c.logger.Warn("fetching assignable users failed", "error", err)
	}
	for _, u := range users {
		if u.AccountType != "atlassian" {
			continue
		}
		meta.Users = append(meta.Users, MetaOption{ID: u.AccountID, Name: u.DisplayName})
	}

	return meta, nil
}

// MyTickets lists issues reported by the authenticated user, newest
// first, with optional issue type, status, and text filters.
func (c *Client) MyTickets(ctx context.Context, filter Filter) (TicketPage, error) {
	clauses := []string{
		fmt.Sprintf("project = %s", c.projectKey),
		"reporter = currentUser()",
	}
	if filter.IssueType != "" {
		clauses = append(clauses, fmt.Sprintf(`issuetype = "%s"`, escapeJQL(filter.IssueType)))
	}
	if filter.Status != "" {
		clauses = append(clauses, fmt.Sprintf(`status = "%s"`, escapeJQL(filter.Status)))
	}
	if filter.SearchQuery != "" {
		clauses = append(clauses, fmt.Sprintf(`summary ~ "%s"`, escapeJQL(filter.SearchQuery)))
	}
	jql := strings.Join(clauses, " AND ") + " ORDER BY created DESC"

	maxResults := filter.MaxResults
	if maxResults <= 0 || maxResults > 50 {
		maxResults = 20
	}

	var result struct {
		Total  int `json:"total"`
		Issues []struct {
			Key    string `json:"key"`
			Fields struct {
				Summary string `json:"summary"`
				Status  struct {
					Name string `json:"name"`
				} `json:"status"`
				IssueType struct {
					Name string `json:"name"`
				} `json:"issuetype"`
				Priority struct {
					Name string `json:"name"`
				} `json:"priority"`
				Assignee struct {
					DisplayName string `json:"displayName"`
				} `json:"assignee"`
			} `json:"fields"`
		} `json:"issues"`
	}
	body := map[string]any{
		"jql":        jql,
		"maxResults": maxResults,
		"startAt":    filter.StartAt,
		"fields":     []string{"summary", "status", "issuetype", "priority", "assignee"},
	}
	if err := c.do(ctx, http.MethodPost, "/rest/api/3/search/jql", body, &result); err != nil {
		return TicketPage{}, fmt.Errorf("listing tickets: %w", err)
	}

	page := TicketPage{Total: result.Total, StartAt: filter.StartAt, Tickets: make([]Ticket, 0, len(result.Issues))}
	for _, iss := range result.Issues {
		page.Tickets = append(page.Tickets, Ticket{
			Key:       iss.Key,
			Summary:   iss.Fields.Summary,
			Status:    iss.Fields.Status.Name,
			IssueType: iss.Fields.IssueType.Name,
			Priority:  iss.Fields.Priority.Name,
			Assignee:  iss.Fields.Assignee.DisplayName,
			URL:       c.BrowseURL(iss.Key),
		})
	}
	return page, nil
}

// do performs one authenticated request and decodes the JSON response
// into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.email, c.apiToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := string(raw)
		if len(detail) > 200 {
			detail = detail[:200] + "..."
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w (status %d): %s", ErrUnauthorized, resp.StatusCode, detail)
		case http.StatusNotFound:
			return fmt.Errorf("%w (status %d): %s", ErrNotFound, resp.StatusCode, detail)
		default:
			return fmt.Errorf("%w (status %d): %s", ErrRequestFailed, resp.StatusCode, detail)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// adfDocument wraps plain text in the minimal Atlassian Document Format
// body that the v3 issue API requires. Paragraph breaks split on blank
// lines.
func adfDocument(text string) map[string]any {
	var content []map[string]any
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		content = append(content, map[string]any{
			"type":    "paragraph",
			"content": []map[string]any{{"type": "text", "text": para}},
		})
	}
	if len(content) == 0 {
		content = append(content, map[string]any{"type": "paragraph"})
	}
	return map[string]any{
		"type":    "doc",
		"version": 1,
		"content": content,
	}
}
