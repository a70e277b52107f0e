package extract

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Tree is a read-only view over one raw provider response. Every lookup is
// safe against missing intermediate keys and reports absence instead of failing.
type Tree struct {
	raw  []byte
	root gjson.Result
}

// Parse wraps raw JSON. Invalid JSON yields an empty tree.
func Parse(raw []byte) Tree {
	if !gjson.ValidBytes(raw) {
		return Tree{}
	}
	return Tree{raw: raw, root: gjson.ParseBytes(raw)}
}

// Raw returns the bytes the tree was built from.
func (t Tree) Raw() []byte {
	return t.raw
}

// Get returns the value at a dotted path when it exists and is not null.
func (t Tree) Get(path string) (gjson.Result, bool) {
	return present(t.root.Get(path))
}

// String returns a non-empty scalar at path.
func (t Tree) String(path string) (string, bool) {
	r, ok := t.Get(path)
	if !ok {
		return "", false
	}
	return scalar(r)
}

// Object returns the object at path decoded into a map.
func (t Tree) Object(path string) (map[string]interface{}, bool) {
	r, ok := t.Get(path)
	if !ok || !r.IsObject() {
		return nil, false
	}
	m, ok := r.Value().(map[string]interface{})
	return m, ok
}

// FirstUnder tries suffix beneath each root in order and returns the first
// value present.
func (t Tree) FirstUnder(roots []string, suffix string) (gjson.Result, bool) {
	for _, root := range roots {
		if r, ok := t.Get(join(root, suffix)); ok {
			return r, true
		}
	}
	return gjson.Result{}, false
}

// Field is a safe lookup relative to an already-resolved node.
func Field(node gjson.Result, path string) (string, bool) {
	r, ok := present(node.Get(path))
	if !ok {
		return "", false
	}
	return scalar(r)
}

// FirstField returns the first non-empty scalar among paths.
func FirstField(node gjson.Result, paths ...string) (string, bool) {
	for _, p := range paths {
		if s, ok := Field(node, p); ok {
			return s, true
		}
	}
	return "", false
}

// Strings flattens a scalar or an array of scalars into non-empty strings.
func Strings(r gjson.Result) []string {
	if r.IsArray() {
		var out []string
		for _, item := range r.Array() {
			if s, ok := scalar(item); ok {
				out = append(out, s)
			}
		}
		return out
	}
	if s, ok := scalar(r); ok {
		return []string{s}
	}
	return nil
}

func present(r gjson.Result) (gjson.Result, bool) {
	if !r.Exists() || r.Type == gjson.Null {
		return gjson.Result{}, false
	}
	return r, true
}

func scalar(r gjson.Result) (string, bool) {
	switch r.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		s := r.String()
		return s, s != ""
	}
	return "", false
}

func join(root, suffix string) string {
	root = strings.TrimSuffix(root, ".")
	if root == "" {
		return suffix
	}
	return root + "." + suffix
}
