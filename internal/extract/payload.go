package extract

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// maxPayloadDepth bounds the recursive payload walk; Ozon composer trees
// nest deep but anything past this is noise.
const maxPayloadDepth = 15

// minorUnitThreshold is the magnitude above which a numeric payload value
// is assumed to already be in minor units and passed through unchanged.
// No catalog item costs a million rubles; one costing a million kopecks is
// common.
const minorUnitThreshold = 1_000_000

type nodeKind int

const (
	kindObject nodeKind = iota
	kindArray
	kindString
	kindNumber
	kindOther
)

// node is an explicit tagged tree over a decoded JSON payload, walked with
// a depth bound instead of reflecting over raw interface values.
type node struct {
	kind   nodeKind
	object map[string]*node
	array  []*node
	str    string
	num    float64
}

func parsePayload(data []byte) (*node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return buildNode(raw), nil
}

func buildNode(raw any) *node {
	switch v := raw.(type) {
	case map[string]any:
		n := &node{kind: kindObject, object: make(map[string]*node, len(v))}
		for k, child := range v {
			n.object[k] = buildNode(child)
		}
		return n
	case []any:
		n := &node{kind: kindArray, array: make([]*node, 0, len(v))}
		for _, child := range v {
			n.array = append(n.array, buildNode(child))
		}
		return n
	case string:
		return &node{kind: kindString, str: v}
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return &node{kind: kindOther}
		}
		return &node{kind: kindNumber, num: f}
	case float64:
		return &node{kind: kindNumber, num: v}
	default:
		return &node{kind: kindOther}
	}
}

// findKey searches the tree depth-first for the first scalar value stored
// under key, honoring the depth bound.
func findKey(n *node, key string, depth int) (*node, bool) {
	if n == nil || depth > maxPayloadDepth {
		return nil, false
	}

	switch n.kind {
	case kindObject:
		if child, ok := n.object[key]; ok {
			if child.kind == kindString || child.kind == kindNumber {
				return child, true
			}
		}
		for _, child := range n.object {
			if found, ok := findKey(child, key, depth+1); ok {
				return found, true
			}
		}
	case kindArray:
		for _, child := range n.array {
			if found, ok := findKey(child, key, depth+1); ok {
				return found, true
			}
		}
	}

	return nil, false
}

// normalizeScalar converts a scalar payload value to minor currency units.
// Numbers are whole-currency amounts multiplied by 100, unless the raw
// magnitude already exceeds minorUnitThreshold, in which case the value is
// assumed to be minor units already and passed through. Strings are
// stripped to digits first and converted the same way.
func normalizeScalar(n *node) (int64, bool) {
	switch n.kind {
	case kindNumber:
		return normalizeAmount(n.num), true
	case kindString:
		digits := digitsOnly(n.str)
		if digits == "" {
			return 0, false
		}
		v, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			return 0, false
		}
		return normalizeAmount(v), true
	}
	return 0, false
}

func normalizeAmount(v float64) int64 {
	if v > minorUnitThreshold {
		return int64(v)
	}
	return int64(v*100 + 0.5)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
