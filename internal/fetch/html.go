package fetch

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// htmlDocument is a minimal DOM query handle over golang.org/x/net/html,
// parsed lazily only when a caller asks for it (spec 4.1: "parser is invoked
// lazily"). No third-party DOM-query library appears anywhere in the
// reference pack; x/net/html is already a transitive dependency across it,
// so a small hand-rolled walk is the idiomatic choice here (see DESIGN.md).
type htmlDocument struct {
	root *html.Node
}

// Document lazily parses the response body as HTML and memoizes the result.
func (r *Response) Document() (*htmlDocument, error) {
	if r.docOnce {
		return r.doc, r.docErr
	}
	r.docOnce = true
	root, err := html.Parse(bytes.NewReader(r.Body))
	if err != nil {
		r.docErr = err
		return nil, err
	}
	r.doc = &htmlDocument{root: root}
	return r.doc, nil
}

// Find returns all nodes of the given tag name, depth-first.
func (d *htmlDocument) Find(tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return out
}

// FindFirst returns the first node of the given tag name, or nil.
func (d *htmlDocument) FindFirst(tag string) *html.Node {
	nodes := d.Find(tag)
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// FindFirstWithAttr returns the first node of tag whose attribute key has
// the given value (or any value if want == "").
func (d *htmlDocument) FindFirstWithAttr(tag, key, want string) *html.Node {
	for _, n := range d.Find(tag) {
		if v, ok := Attr(n, key); ok && (want == "" || v == want) {
			return n
		}
	}
	return nil
}

// Attr returns the value of an attribute on a node.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// Text returns the concatenated text content of a node's subtree.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// FormInputs collects every <input> element's name/value pairs inside a
// <form> node, used by the resolver's hidden-field collection during the
// short-link form dance.
func FormInputs(form *html.Node) map[string]string {
	inputs := make(map[string]string)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "input" {
			name, hasName := Attr(n, "name")
			if hasName {
				value, _ := Attr(n, "value")
				inputs[name] = value
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(form)
	return inputs
}
