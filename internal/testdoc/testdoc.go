// Package testdoc generates random nested configuration documents for property tests.
package testdoc

import (
	"strconv"
	"strings"

	"pgregory.net/rapid"
)

// Node is an ordered JSON object. Each value is either a Node or the raw JSON text of a
// scalar leaf.
type Node struct {
	Keys   []string
	Values []any
}

// Draw generates a random document up to depth levels of nesting.
func Draw(t *rapid.T, depth int) Node {
	return draw(t, depth, "")
}

func draw(t *rapid.T, depth int, label string) Node {
	var n Node
	count := rapid.IntRange(0, 4).Draw(t, label+"count")
	seen := make(map[string]bool)
	for i := 0; i < count; i++ {
		key := rapid.StringMatching(`[a-z]{1,5}`).Draw(t, label+"key")
		if seen[key] {
			continue
		}
		seen[key] = true
		n.Keys = append(n.Keys, key)
		if depth > 0 && rapid.Bool().Draw(t, label+"nested") {
			n.Values = append(n.Values, draw(t, depth-1, label+key+"."))
			continue
		}
		n.Values = append(n.Values, drawScalar(t, label+key))
	}
	return n
}

func drawScalar(t *rapid.T, label string) string {
	switch rapid.IntRange(0, 4).Draw(t, label+"kind") {
	case 0:
		return strconv.Itoa(rapid.IntRange(-1000, 1000).Draw(t, label+"int"))
	case 1:
		return strconv.Quote(rapid.StringMatching(`[a-zA-Z0-9 ]{0,8}`).Draw(t, label+"str"))
	case 2:
		return strconv.FormatBool(rapid.Bool().Draw(t, label+"bool"))
	case 3:
		return rapid.StringMatching(`-?[1-9][0-9]{18,24}`).Draw(t, label+"bigint")
	default:
		return "null"
	}
}

// JSON renders the node preserving key order.
func (n Node) JSON() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n Node) write(b *strings.Builder) {
	b.WriteByte('{')
	for i, k := range n.Keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		switch v := n.Values[i].(type) {
		case Node:
			v.write(b)
		case string:
			b.WriteString(v)
		}
	}
	b.WriteByte('}')
}

// Leaves counts scalar leaves recursively.
func (n Node) Leaves() int {
	total := 0
	for _, v := range n.Values {
		if child, ok := v.(Node); ok {
			total += child.Leaves()
			continue
		}
		total++
	}
	return total
}

// WithLeaf returns a copy of n where the idx-th leaf in pre-order is replaced by raw.
func (n Node) WithLeaf(idx int, raw string) Node {
	out, _ := n.withLeaf(idx, raw)
	return out
}

func (n Node) withLeaf(idx int, raw string) (Node, int) {
	out := Node{Keys: append([]string(nil), n.Keys...), Values: make([]any, len(n.Values))}
	for i, v := range n.Values {
		if child, ok := v.(Node); ok {
			var updated Node
			updated, idx = child.withLeaf(idx, raw)
			out.Values[i] = updated
			continue
		}
		if idx == 0 {
			out.Values[i] = raw
		} else {
			out.Values[i] = v
		}
		idx--
	}
	return out, idx
}
