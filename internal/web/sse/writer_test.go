package sse

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteJSON(t.Context(), "message", map[string]string{"body": "hi"}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "event: message\ndata: {\"body\":\"hi\"}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestMultiLinePayloadPrefixesEveryLine(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.write("chunk", "line one\nline two"))

	assert.Equal(t, "event: chunk\ndata: line one\ndata: line two\n\n", rec.Body.String())
}

func TestWriteComment(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteComment("ping"))
	assert.Equal(t, ": ping\n\n", rec.Body.String())
}
