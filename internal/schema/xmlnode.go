package schema

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// node is a minimal generic XML DOM, built because the service/message
// schema files use their message names as element tags — data that
// encoding/xml's struct-tag decoding can't express, since tag names aren't
// known until parse time. This mirrors how the original implementation
// walked a roxmltree DOM by child/sibling traversal rather than unmarshaling
// into fixed types.
type node struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*node
}

// attr returns the named attribute's value, or "" if absent.
func (n *node) attr(name string) string {
	return n.Attrs[name]
}

// firstChild returns the first child element, or nil.
func (n *node) firstChild() *node {
	if len(n.Children) == 0 {
		return nil
	}
	return n.Children[0]
}

// childNamed returns the first direct child whose tag equals name.
func (n *node) childNamed(name string) *node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// valueOf returns the trimmed text of the child named name, or "-1" if
// absent — matching get_value_from_name's default in the original parser.
func (n *node) valueOf(name string) string {
	c := n.childNamed(name)
	if c == nil {
		return "-1"
	}
	return strings.TrimSpace(c.Text)
}

func parseXMLTree(r io.Reader) (*node, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	var stack []*node
	var root *node

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("schema: xml token: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{Name: t.Name.Local, Attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				n.Attrs[a.Name.Local] = a.Value
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			} else {
				root = n
			}
			stack = append(stack, n)
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("schema: empty xml document")
	}
	return root, nil
}
