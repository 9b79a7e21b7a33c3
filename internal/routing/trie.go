package routing

// Wildcard is the segment label that matches any single segment.
const Wildcard = "*"

// Trie is an n-ary tree over colon-separated path segments, keyed by segment
// label. A Trie is built once by its owning State and never mutated after the
// State is published.
type Trie struct {
	children map[string]*Trie
}

// NewTrie returns an empty root node.
func NewTrie() *Trie {
	return &Trie{}
}

// Child returns the direct child with exactly this label.
func (t *Trie) Child(label string) (*Trie, bool) {
	child, ok := t.children[label]
	return child, ok
}

// InsertChild returns the child with this label, creating it if absent.
func (t *Trie) InsertChild(label string) *Trie {
	if child, ok := t.children[label]; ok {
		return child
	}
	if t.children == nil {
		t.children = make(map[string]*Trie)
	}
	child := &Trie{}
	t.children[label] = child
	return child
}

// ChildrenMatching returns the children that can match label: the exact child
// and the wildcard child, when present.
func (t *Trie) ChildrenMatching(label string) []*Trie {
	var matches []*Trie
	if child, ok := t.children[label]; ok {
		matches = append(matches, child)
	}
	if label != Wildcard {
		if wild, ok := t.children[Wildcard]; ok {
			matches = append(matches, wild)
		}
	}
	return matches
}

// InsertPath inserts segments one level at a time below t.
func (t *Trie) InsertPath(segments []string) {
	node := t
	for _, seg := range segments {
		node = node.InsertChild(seg)
	}
}

// Len returns the number of children.
func (t *Trie) Len() int {
	return len(t.children)
}

// Specificity scores how deeply segments are registered in the trie.
//
// The walk follows exact children while they exist. On the first segment with
// no exact child it takes a single hop into the wildcard child and counts one
// more level only if the final segment of the path sits directly under that
// wildcard node. It never backtracks or takes a second wildcard hop. A path
// that cannot be followed at all scores -1.
func Specificity(trie *Trie, segments []string) int {
	node := trie
	depth := 0
	for _, seg := range segments {
		if child, ok := node.Child(seg); ok {
			node = child
			depth++
			continue
		}
		wild, ok := node.Child(Wildcard)
		if !ok {
			return -1
		}
		if _, ok := wild.Child(segments[len(segments)-1]); ok {
			return depth + 1
		}
		return -1
	}
	return depth
}
