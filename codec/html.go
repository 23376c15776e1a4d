// Package codec implements the lossless bijection between the canonical
// HTML envelope and the structured-document CRDT representation
// (spec.md §4.1). Parsing and DOM manipulation are built on
// golang.org/x/net/html and github.com/PuerkitoBio/goquery; serialization
// is hand-rolled (see render.go) so the byte-for-byte round-trip contract
// stays entirely under this package's control.
package codec

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/Polqt/dacollab/crdt"
	"github.com/Polqt/dacollab/doc"
)

// envelopePrefix/envelopeSuffix bracket the canonical envelope (spec.md §6).
const (
	envelopePrefix = "\n<body>\n  <header></header>\n  <main>"
	envelopeSuffix = "</main>\n  <footer></footer>\n</body>\n"
)

// attrsFromNode converts an html.Node's attribute slice into a map
// suitable for storage on a crdt element (serialization order is restored
// later by orderedAttrs), dropping "contenteditable" —
// the non-editable flag is implied by the node's tag
// (doc.Schema.Nodes[...].NonEditable), never round-tripped as an attribute
// (spec.md §4.1 doc2aem rule 3).
func attrsFromNode(n *html.Node) map[string]string {
	if len(n.Attr) == 0 {
		return nil
	}
	out := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		if a.Key == "contenteditable" {
			continue
		}
		out[a.Key] = a.Val
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// AEM2Doc parses canonical (or near-canonical) HTML into a fresh CRDT
// engine's "prosemirror" root fragment, per spec.md §4.1.
func AEM2Doc(htmlStr string, clientID uint64) (*crdt.Engine, error) {
	nodes, err := ParseToNodes(htmlStr)
	if err != nil {
		return nil, err
	}
	e := crdt.NewEngine(clientID)
	e.Transact(func(tx *crdt.Tx) {
		buildTree(tx, crdt.NodeID{}, nodes)
	})
	return e, nil
}

// ParseToNodes runs the aem2doc parse + transform passes (rules 1-3 of
// spec.md §4.1) and returns the resulting flat top-level node stream,
// without committing it to any engine. Shared by AEM2Doc (fresh engine)
// and ApplyHTML (reset of an existing engine's root, used by the
// coordinator's bindState restore-from-upstream path).
func ParseToNodes(htmlStr string) ([]*html.Node, error) {
	gdoc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return nil, fmt.Errorf("codec: parse html: %w", err)
	}
	mainSel := gdoc.Find("main").First()
	if mainSel.Length() == 0 {
		return nil, fmt.Errorf("codec: no <main> element found")
	}
	mainNode := mainSel.Get(0)

	var sections []*html.Node
	for _, c := range elementChildren(mainNode) {
		if c.Data == "div" {
			sections = append(sections, c)
		}
	}

	convertBlocksToTables(mainNode)
	collapseAnchorImages(mainNode)
	convertDashParagraphsToRules(mainNode)

	return spliceSections(sections), nil
}

// ApplyHTML inserts the parsed content of htmlStr as children of the root
// fragment within an in-progress transaction. Callers that want a clean
// reset (spec.md §4.6 bindState step 3) should call tx.ClearRoot() first.
func ApplyHTML(tx *crdt.Tx, htmlStr string) error {
	nodes, err := ParseToNodes(htmlStr)
	if err != nil {
		return err
	}
	buildTree(tx, crdt.NodeID{}, nodes)
	return nil
}

func buildTree(tx *crdt.Tx, parent crdt.NodeID, nodes []*html.Node) {
	insertChildren(tx, parent, crdt.NodeID{}, nodes, nil)
}

// insertChildren inserts nodes as children of parent, the first one right
// after left, carrying marks onto every text run. It returns the last node
// inserted. An element whose tag matches a registered mark
// (doc.MarkForTag — <em>, <strong>, a non-image <a>, ...) is flattened
// rather than inserted as its own child: its mark name is folded into
// marks for everything beneath it, per spec.md §4.1's marks being
// properties of text runs, not nodes of their own.
func insertChildren(tx *crdt.Tx, parent, left crdt.NodeID, nodes []*html.Node, marks []string) crdt.NodeID {
	for _, n := range nodes {
		switch n.Type {
		case html.ElementNode:
			if spec, ok := doc.MarkForTag(n.Data); ok {
				left = insertChildren(tx, parent, left, allChildren(n), append(append([]string(nil), marks...), spec.Name))
				continue
			}
			id := tx.InsertElement(parent, left, n.Data, attrsFromNode(n))
			buildTree(tx, id, allChildren(n))
			left = id
		case html.TextNode:
			id := tx.InsertText(parent, left, n.Data, marks)
			left = id
		}
	}
	return left
}

// Doc2AEM serializes a CRDT engine's "prosemirror" root fragment back into
// the canonical HTML envelope, per spec.md §4.1.
func Doc2AEM(e *crdt.Engine) string {
	roots := e.Children(crdt.NodeID{})
	nodes := make([]*html.Node, 0, len(roots))
	for _, n := range roots {
		nodes = append(nodes, nodeFromCRDT(e, n))
	}

	main := newElement("main")
	for _, n := range nodes {
		appendChild(main, n)
	}

	convertTablesToBlocks(main)
	unwrapSoleParagraphListItems(main)
	unwrapSoleImageParagraphs(main)
	expandImages(main)

	sections := splitSections(allChildren(main))

	var sb strings.Builder
	sb.WriteString(envelopePrefix)
	for _, s := range sections {
		sb.WriteString(RenderFragment(s))
	}
	sb.WriteString(envelopeSuffix)
	return sb.String()
}

// nodeFromCRDT rebuilds an *html.Node subtree from a crdt element/text
// node, looking up its recognized attribute set via the schema so unknown
// attributes picked up verbatim at parse time are still carried through.
func nodeFromCRDT(e *crdt.Engine, n *crdt.Node) *html.Node {
	if n.Kind == crdt.KindText {
		return wrapMarks(n.Text, n.Marks)
	}
	attrs := orderedAttrs(n)
	el := newElement(n.Tag, attrs...)
	for _, child := range e.Children(n.ID) {
		appendChild(el, nodeFromCRDT(e, child))
	}
	return el
}

// wrapMarks rebuilds the inline mark wrappers around one text run, in
// doc.MarkOrder (outermost first) regardless of the order marks were
// accumulated in — the inverse of insertChildren's flattening.
func wrapMarks(text string, marks []string) *html.Node {
	node := newText(text)
	if len(marks) == 0 {
		return node
	}
	present := make(map[string]bool, len(marks))
	for _, m := range marks {
		present[m] = true
	}
	result := node
	for i := len(doc.MarkOrder) - 1; i >= 0; i-- {
		name := doc.MarkOrder[i]
		if !present[name] {
			continue
		}
		spec := doc.Schema.Marks[name]
		wrapper := newElement(spec.Tag)
		appendChild(wrapper, result)
		result = wrapper
	}
	return result
}

// orderedAttrs produces a deterministic attribute order: the schema's
// declared attrs first (in schema order), then any remaining attrs sorted
// by key, so the same document always serializes identically.
func orderedAttrs(n *crdt.Node) []html.Attribute {
	if len(n.Attrs) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(n.Attrs))
	var out []html.Attribute

	if spec, ok := doc.NodeForTag(n.Tag); ok {
		for _, key := range spec.Attrs {
			if v, ok := n.Attrs[key]; ok {
				out = append(out, html.Attribute{Key: key, Val: v})
				seen[key] = true
			}
		}
	}
	var rest []string
	for k := range n.Attrs {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sortStrings(rest)
	for _, k := range rest {
		out = append(out, html.Attribute{Key: k, Val: n.Attrs[k]})
	}
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
