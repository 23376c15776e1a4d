package codec

import "golang.org/x/net/html"

// spliceSections implements spec.md §4.1 aem2doc rule 3: flatten the
// top-level section <div>s into one content stream, inserting
// "<p></p><hr/><p></p>" between consecutive sections so doc2aem can later
// recover the section boundaries.
func spliceSections(sections []*html.Node) []*html.Node {
	var out []*html.Node
	for i, section := range sections {
		if i > 0 {
			out = append(out, newElement("p"), newElement("hr"), newElement("p"))
		}
		out = append(out, allChildren(section)...)
	}
	return out
}

// splitSections implements the inverse (doc2aem rule 4): split the flat
// content stream at each top-level <hr>, wrap each run in its own <div>,
// and drop the single empty <p> immediately flanking each separator <hr>
// that spliceSections introduced.
func splitSections(nodes []*html.Node) []*html.Node {
	var groups [][]*html.Node
	var current []*html.Node
	for _, n := range nodes {
		if n.Type == html.ElementNode && n.Data == "hr" {
			groups = append(groups, current)
			current = nil
			continue
		}
		current = append(current, n)
	}
	groups = append(groups, current)

	for i := range groups {
		if i > 0 && len(groups[i]) > 0 && isEmptyElement(groups[i][0], "p") {
			groups[i] = groups[i][1:]
		}
		if i < len(groups)-1 && len(groups[i]) > 0 && isEmptyElement(groups[i][len(groups[i])-1], "p") {
			groups[i] = groups[i][:len(groups[i])-1]
		}
	}

	sections := make([]*html.Node, 0, len(groups))
	for _, g := range groups {
		div := newElement("div")
		for _, n := range g {
			appendChild(div, n)
		}
		sections = append(sections, div)
	}
	return sections
}
