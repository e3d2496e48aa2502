// Package jsonparser implements the §4.6.2 JSON payload parser: a
// depth-first walk over a decoded JSON tree that emits one fragment per
// "interesting" node (non-trivial object, array, or long string) and
// inlines everything else into the parent's summary line. Built on
// encoding/json only — no JSON-tree-walking library appears anywhere in
// the example pack (see DESIGN.md).
package jsonparser

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xlab2016/space-db-public/internal/apperr"
	"github.com/xlab2016/space-db-public/parser"
)

const contentType = "json"

const longStringThreshold = 20

// Parser walks a JSON document into ordered fragments.
type Parser struct {
	MaxDepth      int
	IncludeArrays bool
}

// New builds a Parser with the §4.6.2 defaults (maxDepth=10, includeArrays=true).
func New() *Parser {
	return &Parser{MaxDepth: 10, IncludeArrays: true}
}

func (p *Parser) ContentType() string { return contentType }

// CanParse reports whether payload parses as a JSON object or array.
func (p *Parser) CanParse(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return false
	}
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

func (p *Parser) maxDepth() int {
	if p.MaxDepth > 0 {
		return p.MaxDepth
	}
	return 10
}

func (p *Parser) Parse(payload []byte, resourceID string, metadata map[string]any) (*parser.ParsedResource, error) {
	if len(payload) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "payload is empty")
	}

	var root any
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, err, "invalid JSON payload")
	}

	w := &walker{maxDepth: p.maxDepth(), includeArrays: p.IncludeArrays}
	w.walk(root, "root", 0)

	return &parser.ParsedResource{
		ResourceID:   resourceID,
		ResourceType: contentType,
		Metadata:     metadata,
		Fragments:    w.fragments,
	}, nil
}

type walker struct {
	fragments     []parser.ContentFragment
	maxDepth      int
	includeArrays bool
}

func (w *walker) emit(f parser.ContentFragment) {
	f.Order = len(w.fragments)
	w.fragments = append(w.fragments, f)
}

func (w *walker) walk(node any, path string, depth int) {
	if depth > w.maxDepth {
		return
	}

	switch n := node.(type) {
	case map[string]any:
		w.walkObject(n, path, depth)
	case []any:
		if w.includeArrays {
			w.walkArray(n, path, depth)
		}
	}
}

func (w *walker) walkObject(obj map[string]any, path string, depth int) {
	if len(obj) == 0 {
		return
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	previews := make([]string, 0, 5)
	for i, k := range keys {
		if i < 5 {
			previews = append(previews, fmt.Sprintf("%s: %s", k, previewOf(obj[k])))
		}
	}
	content := fmt.Sprintf("Object with %d properties: %s", len(keys), strings.Join(previews, ", "))
	if len(keys) > 5 {
		content += fmt.Sprintf(", ... (%d more)", len(keys)-5)
	}

	w.emit(parser.ContentFragment{
		Content:   content,
		Type:      "json_object",
		ParentKey: path,
		Metadata: map[string]any{
			"path":           path,
			"property_count": len(keys),
			"depth":          depth,
		},
	})

	for _, k := range keys {
		w.descend(obj[k], childPath(path, k), depth+1)
	}
}

func (w *walker) walkArray(arr []any, path string, depth int) {
	previews := make([]string, 0, 3)
	for i, v := range arr {
		if i < 3 {
			previews = append(previews, previewOf(v))
		}
	}
	content := fmt.Sprintf("Array with %d items: %s", len(arr), strings.Join(previews, ", "))
	if len(arr) > 3 {
		content += fmt.Sprintf(", ... (%d more)", len(arr)-3)
	}

	w.emit(parser.ContentFragment{
		Content:   content,
		Type:      "json_array",
		ParentKey: path,
		Metadata: map[string]any{
			"path":         path,
			"array_length": len(arr),
			"depth":        depth,
		},
	})

	for i, v := range arr {
		w.descend(v, fmt.Sprintf("%s[%d]", path, i), depth+1)
	}
}

// descend recurses into a child value if it is a non-trivial structure or
// a string longer than longStringThreshold; everything else is inlined in
// the parent's summary only and not visited further.
func (w *walker) descend(value any, path string, depth int) {
	if depth > w.maxDepth {
		return
	}
	switch v := value.(type) {
	case map[string]any:
		w.walk(v, path, depth)
	case []any:
		w.walk(v, path, depth)
	case string:
		if len(v) > longStringThreshold {
			w.emit(parser.ContentFragment{
				Content:   v,
				Type:      "json_value",
				ParentKey: path,
				Metadata: map[string]any{
					"path":       path,
					"value_type": "string",
					"length":     len(v),
				},
			})
		}
	}
}

// previewOf renders a short, single-line preview of any JSON value for
// inclusion in a parent summary.
func previewOf(v any) string {
	switch val := v.(type) {
	case string:
		if len(val) > longStringThreshold {
			return val[:longStringThreshold] + "..."
		}
		return val
	case map[string]any:
		return fmt.Sprintf("{%d properties}", len(val))
	case []any:
		return fmt.Sprintf("[%d items]", len(val))
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", val)
	}
}

func childPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
