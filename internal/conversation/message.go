// Package conversation defines the transcript model shared by the ticket
// and generator wizards: a closed set of message kinds rendered by the
// client, and an append-only transcript with a single sanctioned in-place
// mutation used while streaming.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Kind is the closed set of message renderings. The rendering boundary
// switches exhaustively on Kind; adding a kind is a compile-visible change
// here rather than a stringly-typed tag scattered across call sites.
type Kind string

const (
	// KindText is plain conversational text.
	KindText Kind = "text"

	// KindOptionSelect is a prompt accompanied by selectable options.
	KindOptionSelect Kind = "option_select"

	// KindTicketPreview is the structured draft preview shown before
	// ticket creation, with confirm/cancel/edit actions.
	KindTicketPreview Kind = "ticket_preview"

	// KindDuplicateWarning carries potential duplicate tickets found
	// before confirmation. Non-blocking.
	KindDuplicateWarning Kind = "duplicate_warning"

	// KindResult is a terminal success message (e.g. created ticket link).
	KindResult Kind = "result"

	// KindCodeDisplay is generated code with fences already stripped.
	KindCodeDisplay Kind = "code_display"

	// KindXPathTable is tabular XPath extraction output.
	KindXPathTable Kind = "xpath_table"

	// KindError is an inline failure notice; the session continues.
	KindError Kind = "error"
)

// Option is a selectable choice attached to an option_select message.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Field is one labeled row of a ticket preview.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Warning is one potential duplicate attached to a duplicate_warning
// message. MatchedBy names the search clause that produced the hit; no
// similarity score is computed.
type Warning struct {
	Key       string `json:"key"`
	Summary   string `json:"summary"`
	URL       string `json:"url"`
	MatchedBy string `json:"matched_by"`
}

// Message is one entry in a wizard transcript. Messages are immutable
// once appended, except that the content of the in-flight streaming
// placeholder is replaced via Transcript.SetContent as deltas arrive.
type Message struct {
	ID        uuid.UUID         `json:"id"`
	Role      Role              `json:"role"`
	Kind      Kind              `json:"kind"`
	Content   string            `json:"content"`
	Options   []Option          `json:"options,omitempty"`
	Fields    []Field           `json:"fields,omitempty"`
	Warnings  []Warning         `json:"warnings,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Partial is a message without identity; Transcript.Append assigns the
// ID and timestamp.
type Partial struct {
	Role     Role
	Kind     Kind
	Content  string
	Options  []Option
	Fields   []Field
	Warnings []Warning
	Meta     map[string]string
}
