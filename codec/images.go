package codec

import "golang.org/x/net/html"

// unwrapSoleImageParagraphs implements spec.md §4.1 doc2aem rule 5's
// "<p> containing only a single <img> is unwrapped" by splicing the bare
// <img> into the paragraph's position before the generic image-expansion
// pass runs.
func unwrapSoleImageParagraphs(root *html.Node) {
	var matches []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				if c.Data == "p" {
					kids := elementChildren(c)
					if len(kids) == 1 && kids[0].Data == "img" && c.FirstChild == c.LastChild {
						matches = append(matches, c)
					}
				}
				walk(c)
			}
		}
	}
	walk(root)

	for _, p := range matches {
		img := elementChildren(p)[0]
		detach(img)
		replaceWith(p, img)
	}
}

// unwrapSoleParagraphListItems implements "<li> whose sole child is a <p>
// prints its inline contents directly".
func unwrapSoleParagraphListItems(root *html.Node) {
	var matches []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				if c.Data == "li" {
					kids := elementChildren(c)
					if len(kids) == 1 && kids[0].Data == "p" && c.FirstChild == c.LastChild {
						matches = append(matches, c)
					}
				}
				walk(c)
			}
		}
	}
	walk(root)

	for _, li := range matches {
		p := elementChildren(li)[0]
		moveChildren(p, li)
		detach(p)
	}
}

// expandImages implements the <img> -> <picture>(<source>...)(<img>)
// expansion, optionally wrapped in <a href>, of spec.md §4.1 doc2aem
// rule 5.
func expandImages(root *html.Node) {
	var matches []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				if c.Data == "img" {
					matches = append(matches, c)
				}
				walk(c)
			}
		}
	}
	walk(root)

	for _, img := range matches {
		src, _ := getAttr(img, "src")
		alt, hasAlt := getAttr(img, "alt")
		title, hasTitle := getAttr(img, "title")
		href, hasHref := getAttr(img, "href")
		loading, hasLoading := getAttr(img, "loading")
		if !hasLoading {
			loading = "lazy"
		}

		picture := newElement("picture")
		appendChild(picture, newElement("source", attr("srcset", src)))
		appendChild(picture, newElement("source", attr("srcset", src), attr("media", "(min-width: 600px)")))

		imgAttrs := []html.Attribute{attr("src", src)}
		if hasAlt {
			imgAttrs = append(imgAttrs, attr("alt", alt))
		}
		if hasTitle {
			imgAttrs = append(imgAttrs, attr("title", title))
		}
		imgAttrs = append(imgAttrs, attr("loading", loading))
		appendChild(picture, newElement("img", imgAttrs...))

		var replacement *html.Node = picture
		if hasHref {
			aAttrs := []html.Attribute{attr("href", href)}
			if hasTitle {
				aAttrs = append(aAttrs, attr("title", title))
			}
			a := newElement("a", aAttrs...)
			appendChild(a, picture)
			replacement = a
		}
		replaceWith(img, replacement)
	}
}
