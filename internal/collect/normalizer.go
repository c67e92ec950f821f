package collect

import (
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"
)

// maxBatchOps bounds a single ingest request.
const maxBatchOps = 10000

var knownKinds = map[string]bool{
	"add": true, "remove": true, "replace": true,
	"move": true, "copy": true, "test": true,
}

// NormalizeOps drops operations that can never apply: unknown kinds, missing
// or relative paths, and add/replace/test without a value. It returns the
// kept operations and the number dropped. Operations are not applied here;
// addresses that do not exist yet are the viewer's concern.
func NormalizeOps(ops jsonpatch.Patch) (jsonpatch.Patch, int, error) {
	if len(ops) > maxBatchOps {
		return nil, 0, fmt.Errorf("batch has %d operations, limit is %d", len(ops), maxBatchOps)
	}

	kept := make(jsonpatch.Patch, 0, len(ops))
	dropped := 0
	for _, op := range ops {
		if !validOp(op) {
			dropped++
			continue
		}
		kept = append(kept, op)
	}
	return kept, dropped, nil
}

func validOp(op jsonpatch.Operation) bool {
	kind := op.Kind()
	if !knownKinds[kind] {
		return false
	}
	path, err := op.Path()
	if err != nil || !strings.HasPrefix(path, "/") {
		return false
	}
	switch kind {
	case "add", "replace", "test":
		if _, ok := op["value"]; !ok {
			return false
		}
	case "move", "copy":
		if from, err := op.From(); err != nil || !strings.HasPrefix(from, "/") {
			return false
		}
	}
	return true
}
