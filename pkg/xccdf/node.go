package xccdf

import (
	"encoding/xml"
	"io"
	"strings"
)

// node is a namespace-agnostic element tree. Names are local names only,
// so the same lookups work for XCCDF 1.1, 1.2 and ARF-wrapped documents.
type node struct {
	name    string
	attrs   map[string]string
	content []any // string or *node, in document order
}

func (n *node) attr(name string) string {
	return n.attrs[name]
}

func (n *node) children() []*node {
	var out []*node
	for _, c := range n.content {
		if child, ok := c.(*node); ok {
			out = append(out, child)
		}
	}
	return out
}

// child returns the first direct child with the given local name.
func (n *node) child(name string) *node {
	for _, c := range n.children() {
		if c.name == name {
			return c
		}
	}
	return nil
}

// find returns the first descendant (pre-order, excluding n) named name.
func (n *node) find(name string) *node {
	for _, c := range n.children() {
		if c.name == name {
			return c
		}
		if found := c.find(name); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns every descendant named name in document order.
func (n *node) findAll(name string) []*node {
	var out []*node
	var walk func(*node)
	walk = func(cur *node) {
		for _, c := range cur.children() {
			if c.name == name {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

// text joins every non-blank text chunk under n with single spaces.
// A nil node yields "".
func (n *node) text() string {
	if n == nil {
		return ""
	}
	var parts []string
	var walk func(*node)
	walk = func(cur *node) {
		for _, c := range cur.content {
			switch v := c.(type) {
			case string:
				if s := strings.TrimSpace(v); s != "" {
					parts = append(parts, s)
				}
			case *node:
				walk(v)
			}
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}

// parseTree decodes r into a tree and returns its root element.
func parseTree(r io.Reader) (*node, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = true
	// Datastreams declare encodings such as UTF-8 only; pass through anything else.
	dec.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }

	var (
		root  *node
		stack []*node
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &node{name: t.Name.Local, attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				el.attrs[a.Name.Local] = a.Value
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.content = append(parent.content, el)
			} else if root == nil {
				root = el
			}
			stack = append(stack, el)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				cur := stack[len(stack)-1]
				cur.content = append(cur.content, string(t))
			}
		}
	}
	if root == nil {
		return nil, io.ErrUnexpectedEOF
	}
	return root, nil
}
