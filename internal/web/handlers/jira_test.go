package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quickdesk/quickdesk/internal/jira"
	"github.com/quickdesk/quickdesk/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJira struct {
	metadataFn  func(ctx context.Context) (jira.Metadata, error)
	myTicketsFn func(ctx context.Context, f jira.Filter) (jira.TicketPage, error)
}

func (f *fakeJira) Metadata(ctx context.Context) (jira.Metadata, error) {
	return f.metadataFn(ctx)
}

func (f *fakeJira) MyTickets(ctx context.Context, filter jira.Filter) (jira.TicketPage, error) {
	return f.myTicketsFn(ctx, filter)
}

func jiraMux(t *testing.T, client JiraAPI) *http.ServeMux {
	t.Helper()
	h, err := NewJira(client, log.NewNop())
	require.NoError(t, err)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func TestMetadata(t *testing.T) {
	mux := jiraMux(t, &fakeJira{
		metadataFn: func(context.Context) (jira.Metadata, error) {
			return jira.Metadata{
				IssueTypes: []jira.MetaOption{{ID: "1", Name: "Bug"}},
			}, nil
		},
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jira/metadata", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var meta jira.Metadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	require.Len(t, meta.IssueTypes, 1)
	assert.Equal(t, "Bug", meta.IssueTypes[0].Name)
}

func TestMetadataUpstreamFailure(t *testing.T) {
	mux := jiraMux(t, &fakeJira{
		metadataFn: func(context.Context) (jira.Metadata, error) {
			return jira.Metadata{}, jira.ErrRequestFailed
		},
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jira/metadata", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMyTicketsPassesFilter(t *testing.T) {
	var got jira.Filter
	mux := jiraMux(t, &fakeJira{
		myTicketsFn: func(_ context.Context, f jira.Filter) (jira.TicketPage, error) {
			got = f
			return jira.TicketPage{Total: 1, Tickets: []jira.Ticket{{Key: "QD-1"}}}, nil
		},
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/jira/my-tickets?issue_type=Bug&status=Open&search=login&max_results=10&start_at=20", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jira.Filter{
		IssueType:   "Bug",
		Status:      "Open",
		SearchQuery: "login",
		MaxResults:  10,
		StartAt:     20,
	}, got)
}

func TestMyTicketsRejectsBadPagination(t *testing.T) {
	mux := jiraMux(t, &fakeJira{
		myTicketsFn: func(context.Context, jira.Filter) (jira.TicketPage, error) {
			return jira.TicketPage{}, nil
		},
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jira/my-tickets?max_results=zero", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
