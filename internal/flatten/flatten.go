// Package flatten normalizes nested venue payloads into flat, filterable records.
//
// A venue tree is made of nodes that each carry a "type" and, for internal
// nodes, an ordered "children" sequence. Every other field is node data and is
// namespaced by the node type: a "market" node with field "id" contributes the
// key "market_id". Each leaf produces one record that also carries the data of
// all of its ancestors.
package flatten

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/Checker-Finance/instrument-provider/pkg/model"
)

const (
	typeKey     = "type"
	childrenKey = "children"
)

// Node is one level of a venue tree.
type Node = map[string]any

// Record is a flattened leaf with its ancestors' fields merged in.
type Record = map[string]any

// Filters maps a record key to the value it must hold.
type Filters = map[string]any

// Flatten walks root depth-first and returns one record per leaf, in traversal
// order. Ancestor fields are merged into each record; on a key clash the deeper
// node wins. Only records that reach the root are tested against filters.
//
// A node with a "children" key is internal even when the sequence is empty, and
// an empty internal node contributes no records. A root without "children" is a
// leaf and yields its own record.
func Flatten(root Node, filters Filters) ([]Record, error) {
	if root == nil {
		return nil, model.InvalidArgumentf("root node is nil")
	}

	local, children, internal, err := split(root, "root")
	if err != nil {
		return nil, err
	}

	results := make([]Record, 0)
	if !internal {
		if Matches(local, filters) {
			results = append(results, local)
		}
		return results, nil
	}

	for i, child := range children {
		derived, err := flattenNode(child, fmt.Sprintf("root.children[%d]", i))
		if err != nil {
			return nil, err
		}
		for _, rec := range derived {
			merged := merge(local, rec)
			if Matches(merged, filters) {
				results = append(results, merged)
			}
		}
	}
	return results, nil
}

func flattenNode(node Node, path string) ([]Record, error) {
	local, children, internal, err := split(node, path)
	if err != nil {
		return nil, err
	}
	if !internal {
		return []Record{local}, nil
	}

	var out []Record
	for i, child := range children {
		derived, err := flattenNode(child, fmt.Sprintf("%s.children[%d]", path, i))
		if err != nil {
			return nil, err
		}
		for _, rec := range derived {
			out = append(out, merge(local, rec))
		}
	}
	return out, nil
}

// split separates a node into its prefixed local record and its children.
func split(node Node, path string) (Record, []Node, bool, error) {
	if node == nil {
		return nil, nil, false, model.InvalidArgumentf("%s: node is nil", path)
	}
	rawType, ok := node[typeKey]
	if !ok {
		return nil, nil, false, model.InvalidArgumentf("%s: missing %q", path, typeKey)
	}
	nodeType, ok := rawType.(string)
	if !ok || nodeType == "" {
		return nil, nil, false, model.InvalidArgumentf("%s: %q must be a non-empty string", path, typeKey)
	}
	prefix := strings.ToLower(nodeType) + "_"

	local := make(Record, len(node))
	for k, v := range node {
		if k == typeKey || k == childrenKey {
			continue
		}
		local[prefix+k] = v
	}

	rawChildren, internal := node[childrenKey]
	if !internal {
		return local, nil, false, nil
	}
	children, err := asNodes(rawChildren, path)
	if err != nil {
		return nil, nil, false, err
	}
	return local, children, true, nil
}

func asNodes(raw any, path string) ([]Node, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []Node:
		return v, nil
	case []any:
		nodes := make([]Node, 0, len(v))
		for i, c := range v {
			n, ok := c.(map[string]any)
			if !ok {
				return nil, model.InvalidArgumentf("%s.children[%d]: expected object, got %T", path, i, c)
			}
			nodes = append(nodes, n)
		}
		return nodes, nil
	default:
		return nil, model.InvalidArgumentf("%s: %q must be a sequence, got %T", path, childrenKey, raw)
	}
}

func merge(parent, child Record) Record {
	out := make(Record, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}

// Matches reports whether rec holds every filter key with an equal value.
// Numbers compare by value regardless of their Go type.
func Matches(rec Record, filters Filters) bool {
	for k, want := range filters {
		got, ok := rec[k]
		if !ok || !equal(got, want) {
			return false
		}
	}
	return true
}

func equal(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(string(n), 64)
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int, int8, int16, int32, int64:
		return float64(reflect.ValueOf(n).Int()), true
	case uint, uint8, uint16, uint32, uint64:
		return float64(reflect.ValueOf(n).Uint()), true
	default:
		return 0, false
	}
}
