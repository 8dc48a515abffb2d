package web

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	inlineSpace = regexp.MustCompile(`[^\S\n]+`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
)

// htmlToText extracts readable text from an HTML document. The title comes
// first, scripts and page chrome are dropped, and block elements become
// line breaks.
func htmlToText(doc string) (string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	walk(root, &sb, 0)
	return cleanText(sb.String()), nil
}

func walk(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 200 {
		return
	}
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header", "aside", "template":
			return
		case "title":
			sb.WriteString("# ")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c, sb, depth+1)
			}
			sb.WriteString("\n\n")
			return
		case "br":
			sb.WriteString("\n")
			return
		case "li":
			sb.WriteString("\n- ")
		case "h1", "h2", "h3", "h4", "h5", "h6", "p", "div", "section", "article", "main", "tr", "pre", "blockquote", "table", "ul", "ol":
			sb.WriteString("\n\n")
		case "img":
			if alt := attr(n, "alt"); alt != "" {
				sb.WriteString("[Image: " + alt + "]")
			}
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, sb, depth+1)
	}
	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6", "p", "div", "section", "article", "pre", "blockquote", "table":
			sb.WriteString("\n\n")
		case "td", "th":
			sb.WriteString(" ")
		}
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func cleanText(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(inlineSpace.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
