package codec

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// classNameToBlockName implements spec.md §4.1's header-cell text rule:
// "first-class (other, classes)".
func classNameToBlockName(class string) string {
	fields := strings.Fields(class)
	if len(fields) == 0 {
		return ""
	}
	if len(fields) == 1 {
		return fields[0]
	}
	return fields[0] + " (" + strings.Join(fields[1:], ", ") + ")"
}

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// blockNameToClassName implements the inverse: the block name and each
// parenthesized option are lower-cased, non-alphanumeric runs collapsed to
// a single dash, leading/trailing dashes trimmed, and the results joined
// with spaces ("Columns (Wide, Dark)" -> "columns wide dark").
func blockNameToClassName(headerText string) string {
	slug := func(s string) string {
		return strings.Trim(nonAlnumRun.ReplaceAllString(strings.ToLower(s), "-"), "-")
	}
	name, options, _ := strings.Cut(headerText, "(")
	classes := []string{slug(name)}
	for _, opt := range strings.Split(options, ",") {
		if s := slug(opt); s != "" {
			classes = append(classes, s)
		}
	}
	return strings.Join(classes, " ")
}

// convertBlocksToTables finds every classed <div> under root (at any
// depth, including inside <da-loc-added>/<da-loc-deleted> wrappers — a
// plain descendant search already recurses through them) and rewrites it
// into the <table> encoding described in spec.md §4.1 rule 1, innermost
// block first so nested blocks are fully tabled before their ancestor's
// cell content is captured.
func convertBlocksToTables(root *html.Node) {
	var matches []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				if c.Data == "div" {
					if class, ok := getAttr(c, "class"); ok && strings.TrimSpace(class) != "" {
						matches = append(matches, c)
					}
				}
				walk(c)
			}
		}
	}
	walk(root)

	for i := len(matches) - 1; i >= 0; i-- {
		convertOneBlock(matches[i])
	}
}

func convertOneBlock(blockDiv *html.Node) {
	class, _ := getAttr(blockDiv, "class")
	rows := elementChildren(blockDiv)

	maxCols := 0
	bodyRows := make([]*html.Node, 0, len(rows))
	for _, rowDiv := range rows {
		cells := elementChildren(rowDiv)
		if len(cells) > maxCols {
			maxCols = len(cells)
		}
		tr := newElement("tr")
		for _, cellDiv := range cells {
			td := newElement("td")
			moveChildren(cellDiv, td)
			appendChild(tr, td)
		}
		bodyRows = append(bodyRows, tr)
	}
	if maxCols == 0 {
		maxCols = 1
	}

	table := newElement("table")
	headerRow := newElement("tr")
	headerCell := newElement("td", attr("colspan", strconv.Itoa(maxCols)))
	appendChild(headerCell, newText(classNameToBlockName(class)))
	appendChild(headerRow, headerCell)
	appendChild(table, headerRow)
	for _, tr := range bodyRows {
		appendChild(table, tr)
	}

	replaceWith(blockDiv, newElement("p"), table, newElement("p"))
}

// convertTablesToBlocks is the inverse of convertBlocksToTables, applied on
// the way back out to HTML (spec.md §4.1 doc2aem rule 2).
func convertTablesToBlocks(root *html.Node) {
	var matches []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				if c.Data == "table" {
					matches = append(matches, c)
				}
				walk(c)
			}
		}
	}
	walk(root)

	for i := len(matches) - 1; i >= 0; i-- {
		convertOneTable(matches[i])
	}
}

func convertOneTable(table *html.Node) {
	rows := elementChildren(table)
	if len(rows) == 0 {
		return
	}
	headerRow := rows[0]
	headerCells := elementChildren(headerRow)
	headerText := ""
	if len(headerCells) > 0 {
		headerText = textContent(headerCells[0])
	}
	class := blockNameToClassName(headerText)

	blockDiv := newElement("div", attr("class", class))
	for _, tr := range rows[1:] {
		rowDiv := newElement("div")
		for _, td := range elementChildren(tr) {
			cellDiv := newElement("div")
			moveChildren(td, cellDiv)
			appendChild(rowDiv, cellDiv)
		}
		appendChild(blockDiv, rowDiv)
	}

	before, after := table.PrevSibling, table.NextSibling
	replaceWith(table, blockDiv)
	if isEmptyElement(before, "p") {
		detach(before)
	}
	if isEmptyElement(after, "p") {
		detach(after)
	}
}

// collapseAnchorImages implements spec.md §4.1 rule 1's anchor-wrapped
// image collapse: an <a> whose only content is a single <img> is replaced
// by the image itself, with href/title copied onto it.
func collapseAnchorImages(root *html.Node) {
	var matches []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				if c.Data == "a" {
					kids := elementChildren(c)
					if len(kids) == 1 && kids[0].Data == "img" && strings.TrimSpace(textContent(c)) == "" {
						matches = append(matches, c)
					}
				}
				walk(c)
			}
		}
	}
	walk(root)

	for _, a := range matches {
		img := elementChildren(a)[0]
		if href, ok := getAttr(a, "href"); ok {
			setAttr(img, "href", href)
		}
		if title, ok := getAttr(a, "title"); ok {
			setAttr(img, "title", title)
		}
		detach(img)
		replaceWith(a, img)
	}
}

// convertDashParagraphsToRules implements spec.md §4.1 rule 2.
func convertDashParagraphsToRules(root *html.Node) {
	var matches []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				if c.Data == "p" && c.FirstChild != nil && c.FirstChild == c.LastChild &&
					c.FirstChild.Type == html.TextNode && strings.TrimSpace(c.FirstChild.Data) == "---" {
					matches = append(matches, c)
				}
				walk(c)
			}
		}
	}
	walk(root)

	for _, p := range matches {
		replaceWith(p, newElement("hr"))
	}
}
