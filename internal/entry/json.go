package entry

import (
	"encoding/json"
	"fmt"
	"time"
)

type wireEntry struct {
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content,omitempty"`
	PatchKey  string          `json:"patch_key,omitempty"`
	ProcessID string          `json:"execution_process_id,omitempty"`
}

type wireNormalized struct {
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	EntryType json.RawMessage `json:"entry_type"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

type wireEntryType struct {
	Type       string          `json:"type"`
	ToolName   string          `json:"tool_name,omitempty"`
	ActionType json.RawMessage `json:"action_type,omitempty"`
	Status     *ToolStatus     `json:"status,omitempty"`
	DeniedTool string          `json:"denied_tool,omitempty"`
	ErrorType  string          `json:"error_type,omitempty"`
}

type wireAction struct {
	Action      string         `json:"action"`
	Path        string         `json:"path,omitempty"`
	Query       string         `json:"query,omitempty"`
	URL         string         `json:"url,omitempty"`
	Command     string         `json:"command,omitempty"`
	Result      *CommandResult `json:"result,omitempty"`
	Changes     []FileChange   `json:"changes,omitempty"`
	Description string         `json:"description,omitempty"`
	Plan        string         `json:"plan,omitempty"`
	Todos       []Todo         `json:"todos,omitempty"`
	Operation   string         `json:"operation,omitempty"`
}

// MarshalJSON encodes the entry in its tagged wire form.
func (e Entry) MarshalJSON() ([]byte, error) {
	w := wireEntry{PatchKey: e.PatchKey, ProcessID: e.ProcessID}

	var (
		content []byte
		err     error
	)
	switch p := e.Payload.(type) {
	case StdOut:
		w.Type = KindStdOut
		content, err = json.Marshal(p.Content)
	case StdErr:
		w.Type = KindStdErr
		content, err = json.Marshal(p.Content)
	case *NormalizedEntry:
		w.Type = KindNormalized
		content, err = json.Marshal(p)
	case Unknown:
		w.Type = p.Type
		content = p.Raw
	case nil:
		return nil, fmt.Errorf("entry %q has no payload", e.PatchKey)
	default:
		return nil, fmt.Errorf("unsupported payload %T", p)
	}
	if err != nil {
		return nil, err
	}
	w.Content = content
	return json.Marshal(w)
}

// UnmarshalJSON decodes the tagged wire form. Unrecognized discriminators
// decode to Unknown rather than failing.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.PatchKey = w.PatchKey
	e.ProcessID = w.ProcessID

	switch w.Type {
	case KindStdOut, KindStdErr:
		var s string
		if len(w.Content) > 0 && string(w.Content) != "null" {
			if err := json.Unmarshal(w.Content, &s); err != nil {
				return fmt.Errorf("decode %s content: %w", w.Type, err)
			}
		}
		if w.Type == KindStdOut {
			e.Payload = StdOut{Content: s}
		} else {
			e.Payload = StdErr{Content: s}
		}
	case KindNormalized:
		n := &NormalizedEntry{}
		if err := json.Unmarshal(w.Content, n); err != nil {
			return fmt.Errorf("decode normalized entry: %w", err)
		}
		e.Payload = n
	case "":
		return fmt.Errorf("entry is missing a type")
	default:
		e.Payload = Unknown{Type: w.Type, Raw: w.Content}
	}
	return nil
}

// MarshalJSON encodes the normalized entry with its nested entry_type.
func (n *NormalizedEntry) MarshalJSON() ([]byte, error) {
	et, err := marshalEntryType(n.Type)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireNormalized{
		Timestamp: n.Timestamp,
		EntryType: et,
		Content:   n.Content,
		Metadata:  n.Metadata,
	})
}

// UnmarshalJSON decodes a normalized entry.
func (n *NormalizedEntry) UnmarshalJSON(data []byte) error {
	var w wireNormalized
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	et, err := unmarshalEntryType(w.EntryType)
	if err != nil {
		return err
	}
	n.Timestamp = w.Timestamp
	n.Type = et
	n.Content = w.Content
	n.Metadata = w.Metadata
	return nil
}

func marshalEntryType(t EntryType) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("normalized entry has no entry_type")
	}
	w := wireEntryType{Type: t.TypeName()}
	switch v := t.(type) {
	case UserFeedback:
		w.DeniedTool = v.DeniedTool
	case ErrorMessage:
		w.ErrorType = v.ErrorType
	case ToolUse:
		w.ToolName = v.ToolName
		status := v.Status
		w.Status = &status
		action, err := marshalAction(v.Action)
		if err != nil {
			return nil, err
		}
		w.ActionType = action
	}
	return json.Marshal(w)
}

func unmarshalEntryType(data json.RawMessage) (EntryType, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, fmt.Errorf("normalized entry is missing entry_type")
	}
	var w wireEntryType
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode entry_type: %w", err)
	}

	switch w.Type {
	case "user_message":
		return UserMessage{}, nil
	case "user_feedback":
		return UserFeedback{DeniedTool: w.DeniedTool}, nil
	case "assistant_message":
		return AssistantMessage{}, nil
	case "thinking":
		return Thinking{}, nil
	case "system_message":
		return SystemMessage{}, nil
	case "error_message":
		return ErrorMessage{ErrorType: w.ErrorType}, nil
	case "loading":
		return Loading{}, nil
	case "tool_use":
		action, err := unmarshalAction(w.ActionType)
		if err != nil {
			return nil, err
		}
		tu := ToolUse{ToolName: w.ToolName, Action: action}
		if w.Status != nil {
			tu.Status = *w.Status
		}
		return tu, nil
	default:
		return OtherEntryType{Type: w.Type}, nil
	}
}

func marshalAction(a ToolAction) (json.RawMessage, error) {
	if a == nil {
		a = OtherAction{}
	}
	w := wireAction{Action: a.ActionName()}
	switch v := a.(type) {
	case FileRead:
		w.Path = v.Path
	case Search:
		w.Query = v.Query
	case WebFetch:
		w.URL = v.URL
	case FileEdit:
		w.Path = v.Path
		w.Changes = v.Changes
	case CommandRun:
		w.Command = v.Command
		w.Result = v.Result
	case TaskCreate:
		w.Description = v.Description
	case PlanPresentation:
		w.Plan = v.Plan
	case TodoManagement:
		w.Todos = v.Todos
		w.Operation = v.Operation
	case OtherAction:
		w.Description = v.Description
	}
	return json.Marshal(w)
}

// unmarshalAction never returns a nil action: a missing action_type decodes
// to OtherAction.
func unmarshalAction(data json.RawMessage) (ToolAction, error) {
	if len(data) == 0 || string(data) == "null" {
		return OtherAction{}, nil
	}
	var w wireAction
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode action_type: %w", err)
	}

	switch w.Action {
	case "file_read":
		return FileRead{Path: w.Path}, nil
	case "search":
		return Search{Query: w.Query}, nil
	case "web_fetch":
		return WebFetch{URL: w.URL}, nil
	case "file_edit":
		return FileEdit{Path: w.Path, Changes: w.Changes}, nil
	case "command_run":
		return CommandRun{Command: w.Command, Result: w.Result}, nil
	case "task_create":
		return TaskCreate{Description: w.Description}, nil
	case "plan_presentation":
		return PlanPresentation{Plan: w.Plan}, nil
	case "todo_management":
		return TodoManagement{Todos: w.Todos, Operation: w.Operation}, nil
	default:
		return OtherAction{Action: w.Action, Description: w.Description}, nil
	}
}
