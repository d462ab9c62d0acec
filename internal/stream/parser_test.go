package stream

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(content string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content)
}

func TestFeedExtractsDeltasInOrder(t *testing.T) {
	var p Parser

	deltas := p.Feed([]byte(frame("Hello") + frame(", ") + frame("world")))

	assert.Equal(t, []string{"Hello", ", ", "world"}, deltas)
	assert.False(t, p.Done())
}

func TestFeedDoneSentinel(t *testing.T) {
	var p Parser

	deltas := p.Feed([]byte(frame("end") + "data: [DONE]\n\n" + frame("after")))

	assert.Equal(t, []string{"end"}, deltas, "frames after [DONE] are ignored")
	assert.True(t, p.Done())
}

func TestFeedSplitMidJSON(t *testing.T) {
	whole := frame("split across reads")

	// Reference: delivered unsplit.
	var ref Parser
	want := ref.Feed([]byte(whole))

	// Break mid-JSON at every possible boundary.
	for cut := 1; cut < len(whole); cut++ {
		var p Parser
		var got []string
		got = append(got, p.Feed([]byte(whole[:cut]))...)
		got = append(got, p.Feed([]byte(whole[cut:]))...)
		assert.Equal(t, want, got, "cut at byte %d", cut)
	}
}

func TestFeedIdempotentAcrossRuns(t *testing.T) {
	chunks := [][]byte{
		[]byte(frame("one") + "data: {\"choices\":[{\"del"),
		[]byte("ta\":{\"content\":\"two\"}}]}\n\n"),
		[]byte(frame("three") + "data: [DONE]\n\n"),
	}

	run := func() string {
		var p Parser
		var sb strings.Builder
		for _, c := range chunks {
			for _, d := range p.Feed(c) {
				sb.WriteString(d)
			}
		}
		return sb.String()
	}

	first := run()
	second := run()
	require.Equal(t, "onetwothree", first)
	assert.Equal(t, first, second)
}

func TestFeedSkipsNonDataLines(t *testing.T) {
	var p Parser

	input := ": keepalive comment\nevent: message\n" + frame("kept") + "\n"
	deltas := p.Feed([]byte(input))

	assert.Equal(t, []string{"kept"}, deltas)
}

func TestFeedSkipsMalformedCompleteLine(t *testing.T) {
	var p Parser

	deltas := p.Feed([]byte("data: {not json at all}\n" + frame("good")))

	assert.Equal(t, []string{"good"}, deltas, "garbage line must not block later frames")
}

func TestFeedEmptyDeltaOmitted(t *testing.T) {
	var p Parser

	// Role-only first chunk carries no content.
	deltas := p.Feed([]byte("data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n" + frame("text")))

	assert.Equal(t, []string{"text"}, deltas)
}

func TestFeedCRLFLines(t *testing.T) {
	var p Parser

	raw := strings.ReplaceAll(frame("crlf"), "\n", "\r\n")
	deltas := p.Feed([]byte(raw))

	assert.Equal(t, []string{"crlf"}, deltas)
}

func TestPendingTail(t *testing.T) {
	var p Parser

	p.Feed([]byte("data: {\"choices\""))
	assert.NotEmpty(t, p.Pending())

	p.Feed([]byte(":[{\"delta\":{\"content\":\"x\"}}]}\n"))
	assert.Empty(t, p.Pending())
}
