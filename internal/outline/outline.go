// Package outline maps outline depth values from project-plan exports to
// the kind of remote node a row materializes as.
package outline

import (
	"fmt"
	"strings"
)

// Kind is the node kind a row represents.
type Kind int

const (
	Undefined Kind = iota
	Board
	Group
	Item
	SubItem
)

func (k Kind) String() string {
	switch k {
	case Board:
		return "board"
	case Group:
		return "group"
	case Item:
		return "item"
	case SubItem:
		return "subitem"
	default:
		return "undefined"
	}
}

// Node is a classified row. Level is 1..MaxSubItemLevel for sub-items and 0
// otherwise.
type Node struct {
	Kind  Kind
	Level int
}

// MaxSubItemLevel is the deepest sub-item level recognised (outline depth 7).
const MaxSubItemLevel = 4

// ItemDepth is the outline depth of a top-level item.
const ItemDepth = 3

func (n Node) String() string {
	if n.Kind == SubItem {
		return fmt.Sprintf("subitem-%d", n.Level)
	}
	return n.Kind.String()
}

// Depth returns the outline depth the node was classified from, or 0 for
// Undefined.
func (n Node) Depth() int {
	switch n.Kind {
	case Board:
		return 1
	case Group:
		return 2
	case Item:
		return ItemDepth
	case SubItem:
		return ItemDepth + n.Level
	default:
		return 0
	}
}

// The table is fixed: a resumed run must classify rows exactly as the run
// that wrote its checkpoint did.
var table = map[string]Node{
	"1": {Kind: Board},
	"2": {Kind: Group},
	"3": {Kind: Item},
	"4": {Kind: SubItem, Level: 1},
	"5": {Kind: SubItem, Level: 2},
	"6": {Kind: SubItem, Level: 3},
	"7": {Kind: SubItem, Level: MaxSubItemLevel},
}

// Classify maps an outline value to its node. The value is compared in its
// trimmed string form; float-like cells such as "3.0" or 3.0 are accepted.
// Anything unmapped classifies as Undefined.
func Classify(value any) Node {
	key := normalize(value)
	if n, ok := table[key]; ok {
		return n
	}
	return Node{Kind: Undefined}
}

func normalize(value any) string {
	var s string
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		s = v
	case float64:
		s = fmt.Sprintf("%g", v)
	case float32:
		s = fmt.Sprintf("%g", v)
	default:
		s = fmt.Sprint(v)
	}
	s = strings.TrimSpace(s)
	// Spreadsheet numeric cells often surface as "3.0".
	if whole, frac, ok := strings.Cut(s, "."); ok && whole != "" && strings.Trim(frac, "0") == "" {
		s = whole
	}
	return s
}
