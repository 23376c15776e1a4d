// Package doc describes the structured-document schema used by the HTML
// codec: the set of block/inline node types and marks a document may
// contain, and which HTML tags they correspond to. It plays the role of a
// prosemirror-style schema registry (SPEC_FULL.md §4.1) without pulling in
// a full rich-text editing framework — the codec uses the schema to
// recognize mark tags and to look up a node's declared attrs while walking
// the DOM; it does not reject tags the schema does not list.
package doc

// Group names used in content expressions below.
const (
	GroupBlock  = "block"
	GroupInline = "inline"
)

// NodeSpec describes one block or inline node type.
type NodeSpec struct {
	Name    string
	Group   string   // "block" or "inline"
	Content string   // informal content expression, e.g. "block+"
	Attrs   []string // recognized attribute names
	Tag     string   // default HTML tag
	// NonEditable marks region-edit wrappers (§4.1's loc_added/loc_deleted),
	// rendered with a custom tag and a non-editable flag that must not
	// survive into the canonical HTML.
	NonEditable bool
}

// MarkSpec describes one inline mark type.
type MarkSpec struct {
	Name  string
	Attrs []string
	Tag   string
}

// Schema is the fixed node/mark table described in spec.md §4.1.
var Schema = struct {
	Nodes map[string]NodeSpec
	Marks map[string]MarkSpec
}{
	Nodes: map[string]NodeSpec{
		"doc":             {Name: "doc", Content: "block+"},
		"paragraph":       {Name: "paragraph", Group: GroupBlock, Content: "inline*", Tag: "p"},
		"blockquote":      {Name: "blockquote", Group: GroupBlock, Content: "block+", Tag: "blockquote"},
		"horizontal_rule": {Name: "horizontal_rule", Group: GroupBlock, Tag: "hr"},
		"heading":         {Name: "heading", Group: GroupBlock, Content: "inline*", Attrs: []string{"level"}, Tag: "h1"},
		"code_block":      {Name: "code_block", Group: GroupBlock, Content: "text*", Tag: "pre"},
		"ordered_list":    {Name: "ordered_list", Group: GroupBlock, Content: "list_item+", Tag: "ol"},
		"bullet_list":     {Name: "bullet_list", Group: GroupBlock, Content: "list_item+", Tag: "ul"},
		"list_item":       {Name: "list_item", Content: "block+", Tag: "li"},
		"table":           {Name: "table", Group: GroupBlock, Content: "table_row+", Tag: "table"},
		"table_row":       {Name: "table_row", Content: "table_cell+", Tag: "tr"},
		"table_cell":      {Name: "table_cell", Content: "block+", Attrs: []string{"colspan"}, Tag: "td"},
		"loc_added":       {Name: "loc_added", Group: GroupBlock, Content: "block+", Tag: "da-loc-added", NonEditable: true},
		"loc_deleted":     {Name: "loc_deleted", Group: GroupBlock, Content: "block+", Tag: "da-loc-deleted", NonEditable: true},

		"text":       {Name: "text", Group: GroupInline, Tag: "#text"},
		"image":      {Name: "image", Group: GroupInline, Attrs: []string{"src", "alt", "title", "href"}, Tag: "img"},
		"hard_break": {Name: "hard_break", Group: GroupInline, Tag: "br"},
	},
	Marks: map[string]MarkSpec{
		"link":                    {Name: "link", Attrs: []string{"href", "title"}, Tag: "a"},
		"em":                      {Name: "em", Tag: "em"},
		"strong":                  {Name: "strong", Tag: "strong"},
		"code":                    {Name: "code", Tag: "code"},
		"sup":                     {Name: "sup", Tag: "sup"},
		"sub":                     {Name: "sub", Tag: "sub"},
		"contextHighlightingMark": {Name: "contextHighlightingMark", Tag: "da-context-highlight"},
	},
}

// NodeForTag returns the node spec whose default tag matches the given
// (lower-cased) HTML tag name, and whether one was found. Headings are
// special-cased since h1..h6 all map to "heading" with a derived level.
func NodeForTag(tag string) (NodeSpec, bool) {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return Schema.Nodes["heading"], true
	}
	switch tag {
	case "ul":
		return Schema.Nodes["bullet_list"], true
	case "ol":
		return Schema.Nodes["ordered_list"], true
	}
	for _, spec := range Schema.Nodes {
		if spec.Tag == tag {
			return spec, true
		}
	}
	return NodeSpec{}, false
}

// MarkForTag returns the mark spec for a given HTML tag, if any. The codec
// uses it on the aem2doc path to recognize an inline wrapper element (an
// <em>, an <a> that isn't an image link, ...) as a mark rather than a
// structural child node.
func MarkForTag(tag string) (MarkSpec, bool) {
	for _, spec := range Schema.Marks {
		if spec.Tag == tag {
			return spec, true
		}
	}
	return MarkSpec{}, false
}

// MarkOrder fixes the nesting order marks are wrapped in on the doc2aem
// path (outermost first), so a text run carrying more than one mark always
// serializes to the same tag nesting across runs — Schema.Marks is a map
// and iterating it directly would not be deterministic.
var MarkOrder = []string{"link", "strong", "em", "code", "sup", "sub", "contextHighlightingMark"}
