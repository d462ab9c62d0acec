package jira

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickdesk/quickdesk/internal/log"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithLogger(log.NewNop())}, opts...)
	return NewClient(srv.URL, "qa@example.com", "token", "QD", opts...)
}

func TestCreateTicket(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "qa@example.com", user)
		assert.Equal(t, "token", pass)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"10001","key":"QD-42"}`))
	}))

	ticket, err := c.CreateTicket(t.Context(), CreateRequest{
		Summary:     "Login fails on Android",
		Description: "Steps to reproduce.\n\nExpected: login succeeds.",
		IssueType:   "Bug",
		Priority:    "High",
		Module:      "Auth",
		Assignee:    "acc-123",
	})
	require.NoError(t, err)

	assert.Equal(t, "/rest/api/3/issue", gotPath)
	assert.Equal(t, "QD-42", ticket.Key)
	assert.Contains(t, ticket.URL, "/browse/QD-42")

	fields := gotBody["fields"].(map[string]any)
	assert.Equal(t, "Login fails on Android", fields["summary"])
	assert.Equal(t, map[string]any{"key": "QD"}, fields["project"])
	assert.Equal(t, map[string]any{"name": "Bug"}, fields["issuetype"])
	assert.Equal(t, map[string]any{"accountId": "acc-123"}, fields["assignee"])

	// Description must be an ADF document, not a bare string.
	desc := fields["description"].(map[string]any)
	assert.Equal(t, "doc", desc["type"])
	assert.Len(t, desc["content"], 2)
}

func TestCreateTicketUnauthorized(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))

	_, err := c.CreateTicket(t.Context(), CreateRequest{Summary: "x", IssueType: "Bug"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSearchDuplicates(t *testing.T) {
	var gotJQL string

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/3/search/jql", r.URL.Path)
		var body struct {
			JQL string `json:"jql"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotJQL = body.JQL
		_, _ = w.Write([]byte(`{"issues":[
			{"key":"QD-7","fields":{"summary":"Checkout button unresponsive","status":{"name":"Open"}}}
		]}`))
	}))

	dups, err := c.SearchDuplicates(t.Context(),
		"Checkout button does nothing when clicked",
		"The checkout session stalls on payment")
	require.NoError(t, err)
	require.Len(t, dups, 1)

	assert.Equal(t, "QD-7", dups[0].Key)
	assert.Equal(t, "Open", dups[0].Status)
	assert.Contains(t, dups[0].URL, "/browse/QD-7")
	assert.Contains(t, dups[0].MatchedBy, "checkout")
	assert.Contains(t, dups[0].MatchedBy, "button")

	assert.Contains(t, gotJQL, "project = QD")
	assert.Contains(t, gotJQL, `summary ~ "checkout"`)
	// Description terms join the clause set, summary terms first.
	assert.Contains(t, gotJQL, `summary ~ "session"`)
	assert.Contains(t, gotJQL, "statusCategory != Done")
}

func TestSearchDuplicatesNoKeywords(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected when nothing yields keywords")
	}))

	dups, err := c.SearchDuplicates(t.Context(), "the a an it", "so is")
	require.NoError(t, err)
	assert.Empty(t, dups)
}

func TestMetadata(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/3/project/QD":
			_, _ = w.Write([]byte(`{"issueTypes":[
				{"id":"1","name":"Bug","subtask":false},
				{"id":"2","name":"Sub-task","subtask":true},
				{"id":"3","name":"Task","subtask":false}
			]}`))
		case "/rest/api/3/project/QD/components":
			_, _ = w.Write([]byte(`[{"id":"c1","name":"Auth"},{"id":"c2","name":"Payments"}]`))
		case "/rest/agile/1.0/board/5/sprint":
			assert.Equal(t, "active,future", r.URL.Query().Get("state"))
			_, _ = w.Write([]byte(`{"values":[{"id":31,"name":"Sprint 12","state":"active"}]}`))
		case "/rest/api/3/user/assignable/search":
			_, _ = w.Write([]byte(`[
				{"accountId":"u1","displayName":"Dana","accountType":"atlassian"},
				{"accountId":"b1","displayName":"Bot","accountType":"app"}
			]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}), WithBoardID(5))

	meta, err := c.Metadata(t.Context())
	require.NoError(t, err)

	require.Len(t, meta.IssueTypes, 2)
	assert.Equal(t, "Bug", meta.IssueTypes[0].Name)
	assert.Equal(t, []MetaOption{{ID: "c1", Name: "Auth"}, {ID: "c2", Name: "Payments"}}, meta.Modules)
	assert.Equal(t, []MetaOption{{ID: "31", Name: "Sprint 12"}}, meta.Sprints)
	assert.Equal(t, []MetaOption{{ID: "u1", Name: "Dana"}}, meta.Users)
}

func TestMetadataDegradesOnPartialFailure(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/3/project/QD":
			_, _ = w.Write([]byte(`{"issueTypes":[{"id":"1","name":"Bug","subtask":false}]}`))
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))

	meta, err := c.Metadata(t.Context())
	require.NoError(t, err)
	assert.Len(t, meta.IssueTypes, 1)
	assert.Empty(t, meta.Modules)
	assert.Empty(t, meta.Users)
}

func TestMyTickets(t *testing.T) {
	var gotBody struct {
		JQL        string `json:"jql"`
		MaxResults int    `json:"maxResults"`
		StartAt    int    `json:"startAt"`
	}

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"total":41,"issues":[
			{"key":"QD-40","fields":{
				"summary":"Crash on launch",
				"status":{"name":"In Progress"},
				"issuetype":{"name":"Bug"},
				"priority":{"name":"Highest"},
				"assignee":{"displayName":"Dana"}
			}}
		]}`))
	}))

	page, err := c.MyTickets(t.Context(), Filter{
		IssueType:   "Bug",
		Status:      "In Progress",
		SearchQuery: "crash",
		MaxResults:  10,
		StartAt:     20,
	})
	require.NoError(t, err)

	assert.Equal(t, 41, page.Total)
	assert.Equal(t, 20, page.StartAt)
	require.Len(t, page.Tickets, 1)
	assert.Equal(t, "QD-40", page.Tickets[0].Key)
	assert.Equal(t, "Dana", page.Tickets[0].Assignee)

	assert.Contains(t, gotBody.JQL, "reporter = currentUser()")
	assert.Contains(t, gotBody.JQL, `issuetype = "Bug"`)
	assert.Contains(t, gotBody.JQL, `status = "In Progress"`)
	assert.Contains(t, gotBody.JQL, `summary ~ "crash"`)
	assert.Contains(t, gotBody.JQL, "ORDER BY created DESC")
	assert.Equal(t, 10, gotBody.MaxResults)
	assert.Equal(t, 20, gotBody.StartAt)
}

func TestMyTicketsDefaultPageSize(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			MaxResults int `json:"maxResults"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 20, body.MaxResults)
		_, _ = w.Write([]byte(`{"total":0,"issues":[]}`))
	}))

	_, err := c.MyTickets(t.Context(), Filter{})
	require.NoError(t, err)
}

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"basic", "Login button broken on Android tablet", []string{"login", "button", "broken", "android", "tablet"}},
		{"stopwords and short words", "the app does not work", []string{"work"}},
		{"dedup", "crash crash crash on startup", []string{"crash", "startup"}},
		{"punctuation trimmed", `"Checkout" fails, badly!`, []string{"checkout", "fails", "badly"}},
		{"capped at five", "alpha bravo charlie delta echo foxtrot golf", []string{"alpha", "bravo", "charlie", "delta", "echo"}},
		{"empty", "a an it", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractKeywords(tt.in))
		})
	}
}

func TestEscapeJQL(t *testing.T) {
	assert.Equal(t, `he said \"hi\"`, escapeJQL(`he said "hi"`))
	assert.Equal(t, `c:\\temp`, escapeJQL(`c:\temp`))
}
