package codec

import (
	"strings"

	"golang.org/x/net/html"
)

// voidElements never get a closing tag (<br>, <hr>, <img>, <source>, ...);
// none of them is written with a trailing slash (§4.1 rule "<br>
// self-closes as <br> only"), matching HTML5 void-element conventions.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// renderNode writes n and its siblings, compactly (no inserted whitespace),
// matching the canonical envelope's "content is whatever the codec
// produced, verbatim" contract. We hand-roll this instead of html.Render
// so attribute order and quoting stay fully under our control, which the
// byte-for-byte round-trip contract (spec.md §4.1) requires.
func renderNode(sb *strings.Builder, n *html.Node) {
	for c := n; c != nil; c = c.NextSibling {
		renderOne(sb, c)
	}
}

func renderOne(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(escapeText(n.Data))
	case html.CommentNode:
		sb.WriteString("<!--")
		sb.WriteString(n.Data)
		sb.WriteString("-->")
	case html.ElementNode:
		sb.WriteByte('<')
		sb.WriteString(n.Data)
		for _, a := range n.Attr {
			sb.WriteByte(' ')
			sb.WriteString(a.Key)
			sb.WriteString(`="`)
			sb.WriteString(escapeAttr(a.Val))
			sb.WriteByte('"')
		}
		if voidElements[n.Data] {
			sb.WriteString(">")
			return
		}
		sb.WriteByte('>')
		renderNode(sb, n.FirstChild)
		sb.WriteString("</")
		sb.WriteString(n.Data)
		sb.WriteByte('>')
	default:
		renderNode(sb, n.FirstChild)
	}
}

// RenderFragment renders a sequence of sibling nodes starting at n.
func RenderFragment(n *html.Node) string {
	var sb strings.Builder
	renderNode(&sb, n)
	return sb.String()
}

func escapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func escapeAttr(s string) string {
	r := strings.NewReplacer("&", "&amp;", `"`, "&quot;")
	return r.Replace(s)
}
