package browser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// DefaultSnapshotLength bounds the markup kept by Snapshot.
const DefaultSnapshotLength = 8000

// PageSnapshot is a reduced copy of a page's markup, kept for diagnosing
// selector misses after the site changes its layout.
type PageSnapshot struct {
	URL       string
	Title     string
	Markup    string
	Truncated bool
}

// Snapshot captures the page and reduces it to tags plus the attributes
// selectors usually target. Text runs are shortened.
func Snapshot(page Page, maxLength int) (*PageSnapshot, error) {
	raw, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}
	snap, err := reduceMarkup(raw, maxLength)
	if err != nil {
		return nil, err
	}
	snap.URL = page.URL()
	return snap, nil
}

func reduceMarkup(raw string, maxLength int) (*PageSnapshot, error) {
	if maxLength <= 0 {
		maxLength = DefaultSnapshotLength
	}
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	r := &reducer{max: maxLength}
	r.walk(doc, 0)
	return &PageSnapshot{
		Title:     findTitle(doc),
		Markup:    r.b.String(),
		Truncated: r.truncated,
	}, nil
}

type reducer struct {
	b         strings.Builder
	max       int
	truncated bool
}

const maxTextRun = 40

func (r *reducer) write(s string) bool {
	if r.b.Len()+len(s) > r.max {
		r.truncated = true
		return false
	}
	r.b.WriteString(s)
	return true
}

func (r *reducer) walk(n *html.Node, depth int) {
	if r.truncated {
		return
	}
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return
	case html.TextNode:
		text := strings.Join(strings.Fields(n.Data), " ")
		if text == "" {
			return
		}
		if runes := []rune(text); len(runes) > maxTextRun {
			text = string(runes[:maxTextRun]) + "…"
		}
		r.write(html.EscapeString(text))
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if droppedTags[tag] {
			return
		}
		var open strings.Builder
		open.WriteString("\n" + strings.Repeat(" ", depth) + "<" + tag)
		for _, a := range n.Attr {
			if keptAttribute(a.Key) {
				fmt.Fprintf(&open, ` %s="%s"`, a.Key, html.EscapeString(a.Val))
			}
		}
		open.WriteString(">")
		if !r.write(open.String()) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			r.walk(c, depth+1)
		}
		if !voidTags[tag] {
			r.write("</" + tag + ">")
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.walk(c, depth)
	}
}

var droppedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "svg": true,
	"iframe": true, "link": true, "meta": true, "head": true,
}

var voidTags = map[string]bool{
	"br": true, "hr": true, "img": true, "input": true, "source": true, "wbr": true,
}

func keptAttribute(name string) bool {
	name = strings.ToLower(name)
	switch name {
	case "id", "class", "href", "src", "type", "placeholder", "accept", "contenteditable":
		return true
	}
	return strings.HasPrefix(name, "data-")
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
		return strings.TrimSpace(n.FirstChild.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}
