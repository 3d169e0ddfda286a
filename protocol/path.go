package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// PathStep is one level of a structural path: the sibling index of a node
// under its parent and the node's name.
type PathStep struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// Path locates a node structurally from the document root, independent of
// node ids. An empty path means the node has no structural position.
type Path []PathStep

// String renders p in the "index,name,index,name" form understood by
// DOM.pushNodeByPathToFrontend.
func (p Path) String() string {
	var b strings.Builder
	for i, s := range p {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(s.Index))
		b.WriteByte(',')
		b.WriteString(s.Name)
	}
	return b.String()
}

// Equal reports whether p and o name the same position.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// ParsePath parses the form produced by Path.String. The empty string
// parses to an empty path.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts)%2 != 0 {
		return nil, fmt.Errorf("protocol: parse path %q: odd number of fields", s)
	}
	p := make(Path, 0, len(parts)/2)
	for i := 0; i < len(parts); i += 2 {
		idx, err := strconv.Atoi(parts[i])
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("protocol: parse path %q: bad index %q", s, parts[i])
		}
		if parts[i+1] == "" {
			return nil, fmt.Errorf("protocol: parse path %q: empty name at step %d", s, i/2)
		}
		p = append(p, PathStep{Index: idx, Name: parts[i+1]})
	}
	return p, nil
}
