// Package entry defines the units of execution-process output shown on a
// timeline: raw stdout/stderr lines and normalized agent events (messages,
// thinking, tool calls).
package entry

import (
	"encoding/json"
	"time"
)

// Entry is one unit of process output.
//
// PatchKey is the stable identity used by the windowed renderer. It is
// assigned once, when the entry is first materialized from the patch stream,
// and never changes afterwards.
type Entry struct {
	PatchKey  string  `json:"patch_key,omitempty"`
	ProcessID string  `json:"execution_process_id,omitempty"`
	Payload   Payload `json:"-"`
}

// Payload is the variant part of an Entry.
// Implementations: StdOut, StdErr, *NormalizedEntry, Unknown.
type Payload interface {
	payload()
	// Kind returns the wire discriminator ("STDOUT", "NORMALIZED_ENTRY", ...).
	Kind() string
}

// Wire discriminators for Payload.
const (
	KindStdOut     = "STDOUT"
	KindStdErr     = "STDERR"
	KindNormalized = "NORMALIZED_ENTRY"
)

// StdOut is a line of process standard output.
type StdOut struct {
	Content string
}

// StdErr is a line of process standard error.
type StdErr struct {
	Content string
}

// NormalizedEntry is a structured agent event.
type NormalizedEntry struct {
	Timestamp *time.Time
	Type      EntryType
	Content   string
	Metadata  json.RawMessage
}

// Unknown keeps payloads with an unrecognized discriminator so they still
// occupy their slot in the timeline.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (StdOut) payload()           {}
func (StdErr) payload()           {}
func (*NormalizedEntry) payload() {}
func (Unknown) payload()          {}

func (StdOut) Kind() string           { return KindStdOut }
func (StdErr) Kind() string           { return KindStdErr }
func (*NormalizedEntry) Kind() string { return KindNormalized }
func (u Unknown) Kind() string        { return u.Type }

// EntryType classifies a NormalizedEntry.
type EntryType interface {
	entryType()
	// TypeName returns the wire discriminator ("user_message", "tool_use", ...).
	TypeName() string
}

type (
	// UserMessage starts a new conversation turn.
	UserMessage struct{}
	// UserFeedback is a user's response to a tool approval prompt.
	UserFeedback struct{ DeniedTool string }
	// AssistantMessage is model output addressed to the user.
	AssistantMessage struct{}
	// Thinking is an intermediate reasoning step.
	Thinking struct{}
	// SystemMessage is an executor-level notice.
	SystemMessage struct{}
	// ErrorMessage reports an executor or model error.
	ErrorMessage struct{ ErrorType string }
	// Loading is a placeholder while the executor warms up.
	Loading struct{}
	// OtherEntryType preserves entry types this package does not model.
	OtherEntryType struct{ Type string }
)

// ToolUse is a tool invocation by the agent.
type ToolUse struct {
	ToolName string
	Action   ToolAction
	Status   ToolStatus
}

// ToolStatus is the lifecycle state of a tool call.
type ToolStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (UserMessage) entryType()      {}
func (UserFeedback) entryType()     {}
func (AssistantMessage) entryType() {}
func (Thinking) entryType()         {}
func (ToolUse) entryType()          {}
func (SystemMessage) entryType()    {}
func (ErrorMessage) entryType()     {}
func (Loading) entryType()          {}
func (OtherEntryType) entryType()   {}

func (UserMessage) TypeName() string      { return "user_message" }
func (UserFeedback) TypeName() string     { return "user_feedback" }
func (AssistantMessage) TypeName() string { return "assistant_message" }
func (Thinking) TypeName() string         { return "thinking" }
func (ToolUse) TypeName() string          { return "tool_use" }
func (SystemMessage) TypeName() string    { return "system_message" }
func (ErrorMessage) TypeName() string     { return "error_message" }
func (Loading) TypeName() string          { return "loading" }
func (o OtherEntryType) TypeName() string { return o.Type }

// Category is the aggregation class of a tool action. Consecutive tool uses
// of the same non-empty category may be collapsed into one group.
type Category string

const (
	CategoryNone     Category = ""
	CategoryFileRead Category = "file_read"
	CategorySearch   Category = "search"
	CategoryWebFetch Category = "web_fetch"
	// CategoryFileEdit edits are grouped by file path rather than category.
	CategoryFileEdit Category = "file_edit"
)

// ToolAction describes what a tool call did. Every variant must classify
// itself through Category.
type ToolAction interface {
	// ActionName returns the wire discriminator ("file_read", ...).
	ActionName() string
	Category() Category
	toolAction()
}

type (
	FileRead struct{ Path string }
	Search   struct{ Query string }
	WebFetch struct{ URL string }
	FileEdit struct {
		Path    string
		Changes []FileChange
	}
	CommandRun struct {
		Command string
		Result  *CommandResult
	}
	TaskCreate       struct{ Description string }
	PlanPresentation struct{ Plan string }
	TodoManagement   struct {
		Todos     []Todo
		Operation string
	}
	// OtherAction covers tools without a dedicated variant.
	OtherAction struct {
		Action      string
		Description string
	}
)

// FileChange is a single change within a FileEdit.
type FileChange struct {
	Action  string `json:"action"`
	Content string `json:"content,omitempty"`
	Diff    string `json:"unified_diff,omitempty"`
}

// CommandResult is the outcome of a CommandRun.
type CommandResult struct {
	ExitCode *int   `json:"exit_code,omitempty"`
	Output   string `json:"output,omitempty"`
}

// Todo is one item of a TodoManagement action.
type Todo struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

func (FileRead) ActionName() string         { return "file_read" }
func (Search) ActionName() string           { return "search" }
func (WebFetch) ActionName() string         { return "web_fetch" }
func (FileEdit) ActionName() string         { return "file_edit" }
func (CommandRun) ActionName() string       { return "command_run" }
func (TaskCreate) ActionName() string       { return "task_create" }
func (PlanPresentation) ActionName() string { return "plan_presentation" }
func (TodoManagement) ActionName() string   { return "todo_management" }
func (o OtherAction) ActionName() string {
	if o.Action == "" {
		return "other"
	}
	return o.Action
}

func (FileRead) Category() Category         { return CategoryFileRead }
func (Search) Category() Category           { return CategorySearch }
func (WebFetch) Category() Category         { return CategoryWebFetch }
func (FileEdit) Category() Category         { return CategoryFileEdit }
func (CommandRun) Category() Category       { return CategoryNone }
func (TaskCreate) Category() Category       { return CategoryNone }
func (PlanPresentation) Category() Category { return CategoryNone }
func (TodoManagement) Category() Category   { return CategoryNone }
func (OtherAction) Category() Category      { return CategoryNone }

func (FileRead) toolAction()         {}
func (Search) toolAction()           {}
func (WebFetch) toolAction()         {}
func (FileEdit) toolAction()         {}
func (CommandRun) toolAction()       {}
func (TaskCreate) toolAction()       {}
func (PlanPresentation) toolAction() {}
func (TodoManagement) toolAction()   {}
func (OtherAction) toolAction()      {}

// Normalized returns the NormalizedEntry payload, or nil for raw output.
func (e Entry) Normalized() *NormalizedEntry {
	n, _ := e.Payload.(*NormalizedEntry)
	return n
}

// IsUserMessage reports whether e starts a conversation turn.
func (e Entry) IsUserMessage() bool {
	n := e.Normalized()
	if n == nil {
		return false
	}
	_, ok := n.Type.(UserMessage)
	return ok
}

// IsThinking reports whether e is a reasoning step.
func (e Entry) IsThinking() bool {
	n := e.Normalized()
	if n == nil {
		return false
	}
	_, ok := n.Type.(Thinking)
	return ok
}

// ToolAction returns the action of a tool-use entry, or nil.
func (e Entry) ToolAction() ToolAction {
	n := e.Normalized()
	if n == nil {
		return nil
	}
	tu, ok := n.Type.(ToolUse)
	if !ok {
		return nil
	}
	return tu.Action
}
