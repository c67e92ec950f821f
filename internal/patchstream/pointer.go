package patchstream

import (
	"encoding/json"
	"strconv"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"
)

// entriesPrefix is the JSON pointer of the entries array in a process document.
const entriesPrefix = "/entries/"

// entrySlot returns the array index an operation addresses when its path is
// exactly /entries/<n> or /entries/-. n is the current entries length and
// resolves "-". Deeper paths (edits inside an entry) report false.
func entrySlot(path string, n int) (int, bool) {
	rest, ok := strings.CutPrefix(path, entriesPrefix)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return 0, false
	}
	if rest == "-" {
		return n, true
	}
	idx, err := strconv.Atoi(rest)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

// negativeSlot reports whether path addresses the entries array with a
// negative index. The patch library resolves those from the end of the array,
// which would make the slot of the resulting entry ambiguous.
func negativeSlot(path string) bool {
	rest, ok := strings.CutPrefix(path, entriesPrefix)
	if !ok {
		return false
	}
	head, _, _ := strings.Cut(rest, "/")
	idx, err := strconv.Atoi(head)
	return err == nil && idx < 0
}

// wholeEntries reports whether path addresses the entries array itself or
// the document root rather than a single entry.
func wholeEntries(path string) bool {
	return path == "" || path == "/" || path == "/entries"
}

// needsValue reports whether an operation kind carries a value.
func needsValue(kind string) bool {
	return kind == "add" || kind == "replace" || kind == "test"
}

// gjsonEntryPath converts an entries index into a gjson/sjson path.
func gjsonEntryPath(idx int, field string) string {
	return "entries." + strconv.Itoa(idx) + "." + field
}

var addKind = json.RawMessage(`"add"`)

// asAdd returns a copy of op with its kind rewritten to "add".
func asAdd(op jsonpatch.Operation) jsonpatch.Operation {
	out := make(jsonpatch.Operation, len(op))
	for k, v := range op {
		out[k] = v
	}
	kind := addKind
	out["op"] = &kind
	return out
}

// NewOperation builds a single patch operation. value is JSON-encoded.
func NewOperation(kind, path string, value any) (jsonpatch.Operation, error) {
	k, err := json.Marshal(kind)
	if err != nil {
		return nil, err
	}
	p, err := json.Marshal(path)
	if err != nil {
		return nil, err
	}
	op := jsonpatch.Operation{
		"op":   rawPtr(k),
		"path": rawPtr(p),
	}
	if value != nil {
		v, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		op["value"] = rawPtr(v)
	}
	return op, nil
}

func rawPtr(b []byte) *json.RawMessage {
	m := json.RawMessage(b)
	return &m
}
