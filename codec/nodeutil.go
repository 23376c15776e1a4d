package codec

import "golang.org/x/net/html"

// newElement builds a standalone element node (no parent, no siblings).
// Attributes are supplied as ordered pairs (via attr()) since attribute
// order is part of the byte-for-byte round-trip contract — a Go map would
// randomize it.
func newElement(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: tag, Attr: attrs}
}

// attr is a small ordered-attribute constructor for newElement call sites.
func attr(key, val string) html.Attribute { return html.Attribute{Key: key, Val: val} }

func newText(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func appendChild(parent, child *html.Node) {
	if child.Parent != nil {
		detach(child)
	}
	child.Parent = parent
	if parent.LastChild == nil {
		parent.FirstChild = child
		parent.LastChild = child
		return
	}
	child.PrevSibling = parent.LastChild
	parent.LastChild.NextSibling = child
	parent.LastChild = child
}

// detach removes n from its parent/sibling chain, leaving n's own subtree
// intact so it can be reattached elsewhere.
func detach(n *html.Node) {
	if n.Parent != nil {
		if n.Parent.FirstChild == n {
			n.Parent.FirstChild = n.NextSibling
		}
		if n.Parent.LastChild == n {
			n.Parent.LastChild = n.PrevSibling
		}
	}
	if n.PrevSibling != nil {
		n.PrevSibling.NextSibling = n.NextSibling
	}
	if n.NextSibling != nil {
		n.NextSibling.PrevSibling = n.PrevSibling
	}
	n.Parent, n.PrevSibling, n.NextSibling = nil, nil, nil
}

// replaceWith swaps old for the given replacement nodes (in order), in
// old's current parent and position, then detaches old.
func replaceWith(old *html.Node, replacements ...*html.Node) {
	parent := old.Parent
	if parent == nil {
		return
	}
	anchor := old.PrevSibling
	detach(old)
	for _, r := range replacements {
		insertAfter(parent, anchor, r)
		anchor = r
	}
}

// insertAfter inserts child into parent immediately after after (nil
// meaning "at the front").
func insertAfter(parent, after, child *html.Node) {
	if child.Parent != nil {
		detach(child)
	}
	child.Parent = parent
	if after == nil {
		child.NextSibling = parent.FirstChild
		if parent.FirstChild != nil {
			parent.FirstChild.PrevSibling = child
		}
		parent.FirstChild = child
		if parent.LastChild == nil {
			parent.LastChild = child
		}
		return
	}
	child.PrevSibling = after
	child.NextSibling = after.NextSibling
	if after.NextSibling != nil {
		after.NextSibling.PrevSibling = child
	} else {
		parent.LastChild = child
	}
	after.NextSibling = child
}

// elementChildren returns the direct element-node children of n, in order.
func elementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// allChildren returns every direct child (element or text), in order.
func allChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

// moveChildren relocates all of src's children (in order) to the end of
// dst's existing children, leaving src empty.
func moveChildren(src, dst *html.Node) {
	for _, c := range allChildren(src) {
		appendChild(dst, c)
	}
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// textContent concatenates all descendant text nodes under n.
func textContent(n *html.Node) string {
	var sb []byte
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			sb = append(sb, c.Data...)
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return string(sb)
}

// isEmptyElement reports whether n is an element with the given tag and no
// children at all (used to spot the synthetic "<p></p>" separators and
// section-break artifacts this codec inserts).
func isEmptyElement(n *html.Node, tag string) bool {
	return n != nil && n.Type == html.ElementNode && n.Data == tag && n.FirstChild == nil
}
