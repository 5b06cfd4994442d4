package configtree

import (
	"fmt"
	"strconv"
	"strings"
)

// KeyDelimiter separates the segments of a section path ("Endpoints:Public:Url").
const KeyDelimiter = ":"

// Section is one node of an ordered configuration tree. Child lookups are
// case-insensitive; children keep the order in which they were first added.
type Section struct {
	key      string
	path     string
	value    string
	hasValue bool
	children []*Section
}

// Pair is a flattened "A:B:C" = value entry.
type Pair struct {
	Key   string
	Value string
}

// Empty returns a root section without values or children.
func Empty() *Section {
	return &Section{}
}

// FromPairs builds a tree from flattened key/value pairs in the given order.
func FromPairs(pairs ...Pair) *Section {
	root := Empty()
	for _, p := range pairs {
		root.Set(p.Key, p.Value)
	}
	return root
}

// Key returns the last path segment of the section.
func (s *Section) Key() string {
	if s == nil {
		return ""
	}
	return s.key
}

// Path returns the full path of the section from the root.
func (s *Section) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Value returns the scalar value held by the section, or "".
func (s *Section) Value() string {
	if s == nil {
		return ""
	}
	return s.value
}

// HasValue reports whether a scalar value was assigned to the section.
func (s *Section) HasValue() bool {
	return s != nil && s.hasValue
}

// Exists reports whether the section carries a value or any children.
func (s *Section) Exists() bool {
	return s != nil && (s.hasValue || len(s.children) > 0)
}

// Children returns the direct children in tree order.
func (s *Section) Children() []*Section {
	if s == nil || len(s.children) == 0 {
		return nil
	}
	out := make([]*Section, len(s.children))
	copy(out, s.children)
	return out
}

// Get returns the value at path relative to s, or "" when absent.
func (s *Section) Get(path string) string {
	return s.lookup(path).Value()
}

// Section returns the sub-section at path. It never returns nil: an absent
// path yields an empty, detached section that still reports the full path.
func (s *Section) Section(path string) *Section {
	if n := s.lookup(path); n != nil {
		return n
	}
	segments := splitPath(path)
	key := ""
	if len(segments) > 0 {
		key = segments[len(segments)-1]
	}
	return &Section{key: key, path: joinPath(s.Path(), strings.Join(segments, KeyDelimiter))}
}

// Bool parses the value at path. An absent or blank value yields nil.
func (s *Section) Bool(path string) (*bool, error) {
	raw := strings.TrimSpace(s.Get(path))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid boolean %q", joinPath(s.Path(), path), raw)
	}
	return &v, nil
}

// Set assigns value at path, creating intermediate sections as needed.
func (s *Section) Set(path, value string) {
	n := s
	for _, seg := range splitPath(path) {
		n = n.child(seg, true)
	}
	if n == s {
		return
	}
	n.value = value
	n.hasValue = true
}

// Len returns the number of direct children.
func (s *Section) Len() int {
	if s == nil {
		return 0
	}
	return len(s.children)
}

func (s *Section) lookup(path string) *Section {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil
	}
	n := s
	for _, seg := range segments {
		n = n.child(seg, false)
		if n == nil {
			return nil
		}
	}
	return n
}

func (s *Section) child(key string, create bool) *Section {
	if s == nil {
		return nil
	}
	for _, c := range s.children {
		if strings.EqualFold(c.key, key) {
			return c
		}
	}
	if !create {
		return nil
	}
	c := &Section{key: key, path: joinPath(s.path, key)}
	s.children = append(s.children, c)
	return c
}

func splitPath(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, KeyDelimiter) {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	if key == "" {
		return parent
	}
	return parent + KeyDelimiter + key
}
