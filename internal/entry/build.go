package entry

// Constructors for the common entry shapes. They leave PatchKey and
// ProcessID empty; the patch stream assigns those on materialization.

// Normalized builds a NormalizedEntry entry.
func Normalized(t EntryType, content string) Entry {
	return Entry{Payload: &NormalizedEntry{Type: t, Content: content}}
}

// NewUserMessage builds a user message.
func NewUserMessage(content string) Entry { return Normalized(UserMessage{}, content) }

// NewAssistantMessage builds an assistant message.
func NewAssistantMessage(content string) Entry { return Normalized(AssistantMessage{}, content) }

// NewThinking builds a thinking step.
func NewThinking(content string) Entry { return Normalized(Thinking{}, content) }

// NewToolUse builds a successful tool call.
func NewToolUse(toolName string, action ToolAction, content string) Entry {
	return Normalized(ToolUse{
		ToolName: toolName,
		Action:   action,
		Status:   ToolStatus{Status: "success"},
	}, content)
}

// NewStdOut builds a stdout line.
func NewStdOut(content string) Entry { return Entry{Payload: StdOut{Content: content}} }

// NewStdErr builds a stderr line.
func NewStdErr(content string) Entry { return Entry{Payload: StdErr{Content: content}} }

// WithKey returns a copy of e with the given identity.
func (e Entry) WithKey(processID, patchKey string) Entry {
	e.ProcessID = processID
	e.PatchKey = patchKey
	return e
}
