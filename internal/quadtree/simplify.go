package quadtree

import (
	"fmt"
	"regexp"
	"strings"
)

const noChild = -1

// trie is a 4-ary tree over code digits. Nodes live in one slice and refer to
// their children by index; node 0 is the root (the empty prefix).
type trie struct {
	nodes []trieNode
}

type trieNode struct {
	children [4]int
	terminal bool
}

func newTrie() *trie {
	t := &trie{}
	t.alloc()
	return t
}

func (t *trie) alloc() int {
	t.nodes = append(t.nodes, trieNode{children: [4]int{noChild, noChild, noChild, noChild}})
	return len(t.nodes) - 1
}

func (t *trie) insert(code string) error {
	if len(code) > MaxZoom {
		return fmt.Errorf("%w: %q longer than %d digits", ErrInvalidCode, code, MaxZoom)
	}
	n := 0
	for i := 0; i < len(code); i++ {
		d := code[i]
		if d < '0' || d > '3' {
			return fmt.Errorf("%w: %q has digit %q at %d", ErrInvalidCode, code, d, i)
		}
		// a complete ancestor already covers the rest of this code
		if t.nodes[n].terminal {
			return nil
		}
		q := d - '0'
		next := t.nodes[n].children[q]
		if next == noChild {
			next = t.alloc()
			t.nodes[n].children[q] = next
		}
		n = next
	}
	t.nodes[n].terminal = true
	return nil
}

// completeness computes, bottom-up, whether each node's subtree covers its
// whole cell: either a code ended there or all four children are complete.
func (t *trie) completeness() []bool {
	complete := make([]bool, len(t.nodes))
	var fold func(n int) bool
	fold = func(n int) bool {
		node := t.nodes[n]
		all := true
		for _, c := range node.children {
			if c == noChild {
				all = false
				continue
			}
			if !fold(c) {
				all = false
			}
		}
		complete[n] = node.terminal || all
		return complete[n]
	}
	fold(0)
	return complete
}

func (t *trie) emit(complete []bool) []string {
	var out []string
	var walk func(n int, prefix []byte)
	walk = func(n int, prefix []byte) {
		if complete[n] {
			out = append(out, string(prefix))
			return
		}
		for q, c := range t.nodes[n].children {
			if c == noChild {
				continue
			}
			walk(c, append(prefix, byte('0'+q)))
		}
	}
	walk(0, make([]byte, 0, MaxZoom))
	return out
}

// SimplifyCodes returns the minimal set of prefixes whose descendants are
// exactly the descendants of codes. Four complete siblings collapse into
// their parent, recursively; codes under an already complete prefix are
// absorbed. Output is in depth-first digit order.
func SimplifyCodes(codes []string) (PrefixSet, error) {
	t := newTrie()
	for _, c := range codes {
		if err := t.insert(c); err != nil {
			return nil, err
		}
	}
	return PrefixSet(t.emit(t.completeness())), nil
}

// PrefixSet is a set of code prefixes matching every code that starts with
// one of them. The empty set matches nothing.
type PrefixSet []string

func (p PrefixSet) Match(code string) bool {
	for _, prefix := range p {
		if strings.HasPrefix(code, prefix) {
			return true
		}
	}
	return false
}

// Pattern renders the set as an alternation of anchored prefixes, e.g.
// "^023|^0210", for stores that filter with regular expressions. The empty
// set renders as "".
func (p PrefixSet) Pattern() string {
	if len(p) == 0 {
		return ""
	}
	parts := make([]string, len(p))
	for i, prefix := range p {
		parts[i] = "^" + regexp.QuoteMeta(prefix)
	}
	return strings.Join(parts, "|")
}
