// Package flatten turns a nested JSON configuration document into an ordered list of
// leaf records that can be compared by value.
package flatten

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// ErrNotObject is returned when the document root is not a JSON object.
var ErrNotObject = errors.New("document is not a JSON object")

// Record is one leaf of a configuration document.
//
// Parent holds the key of the immediate parent object only, not a full path; leaves
// at the root have an empty Parent. Value is the leaf's canonical JSON text.
type Record struct {
	Parent string `json:"parent"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s=%s", r.Parent, r.Key, r.Value)
}

// Flatten walks raw depth-first in document order and returns one Record per leaf.
// Any value that is not an object, arrays included, is a leaf.
func Flatten(raw string) ([]Record, error) {
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrNotObject)
	}
	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return nil, ErrNotObject
	}

	out := make([]Record, 0)
	walk(doc, "", &out)
	return out, nil
}

// IsEmptyObject reports whether raw is a valid JSON object with no members.
func IsEmptyObject(raw string) bool {
	if !gjson.Valid(raw) {
		return false
	}
	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return false
	}
	empty := true
	doc.ForEach(func(_, _ gjson.Result) bool {
		empty = false
		return false
	})
	return empty
}

func walk(obj gjson.Result, parent string, out *[]Record) {
	for _, m := range members(obj) {
		if m.value.IsObject() {
			walk(m.value, m.key, out)
			continue
		}
		*out = append(*out, Record{Parent: parent, Key: m.key, Value: canonical(m.value)})
	}
}

type member struct {
	key   string
	value gjson.Result
}

// members lists the object's members in document order. A repeated key keeps the
// position of its first occurrence and the value of its last, the way decoding into a
// map would.
func members(obj gjson.Result) []member {
	var out []member
	index := make(map[string]int)
	obj.ForEach(func(k, v gjson.Result) bool {
		if i, ok := index[k.Str]; ok {
			out[i].value = v
			return true
		}
		index[k.Str] = len(out)
		out = append(out, member{key: k.Str, value: v})
		return true
	})
	return out
}

// canonical renders a leaf so that equal values compare equal as strings: numbers
// are normalized (1 == 1.0), strings are re-encoded, raw arrays are compacted.
func canonical(v gjson.Result) string {
	switch v.Type {
	case gjson.Number:
		return canonicalNumber(v)
	case gjson.String:
		b, err := json.Marshal(v.Str)
		if err != nil {
			return v.Raw
		}
		return string(b)
	case gjson.True:
		return "true"
	case gjson.False:
		return "false"
	case gjson.Null:
		return "null"
	default:
		return string(pretty.Ugly([]byte(v.Raw)))
	}
}

// canonicalNumber keeps integer literals exact at any size. Fractional or exponent
// literals with an integral value render as that integer, so 1.0 and 1e2 match 1 and
// 100; other values use the shortest float64 form.
func canonicalNumber(v gjson.Result) string {
	if !strings.ContainsAny(v.Raw, ".eE") {
		if i, ok := new(big.Int).SetString(v.Raw, 10); ok {
			return i.String()
		}
	}
	f := v.Num
	if !math.IsInf(f, 0) && f == math.Trunc(f) {
		i, _ := big.NewFloat(f).Int(nil)
		return i.String()
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
