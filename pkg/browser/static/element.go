package static

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/entrhq/rednote/pkg/browser"
)

// Element wraps a single node of a static page.
type Element struct {
	page *Page
	sel  *goquery.Selection
}

var _ browser.Element = (*Element)(nil)

func (e *Element) alive() error {
	if e.page.IsClosed() {
		return browser.ErrTargetClosed
	}
	return nil
}

// QuerySelector returns the first descendant match or nil.
func (e *Element) QuerySelector(selector string) (browser.Element, error) {
	if err := e.alive(); err != nil {
		return nil, err
	}
	return first(e.page, find(e.sel, selector)), nil
}

// QuerySelectorAll returns every descendant match.
func (e *Element) QuerySelectorAll(selector string) ([]browser.Element, error) {
	if err := e.alive(); err != nil {
		return nil, err
	}
	return all(e.page, find(e.sel, selector)), nil
}

// GetAttribute returns the attribute value or "".
func (e *Element) GetAttribute(name string) (string, error) {
	if err := e.alive(); err != nil {
		return "", err
	}
	v, _ := e.sel.Attr(name)
	return v, nil
}

// TextContent returns the concatenated text of the subtree.
func (e *Element) TextContent() (string, error) {
	if err := e.alive(); err != nil {
		return "", err
	}
	return e.sel.Text(), nil
}

// IsVisible reports whether the element is rendered.
func (e *Element) IsVisible() (bool, error) {
	if err := e.alive(); err != nil {
		return false, err
	}
	return visible(e.sel), nil
}

// Click records the click and runs matching hooks.
func (e *Element) Click() error {
	return e.act(ActionClick, "", nil)
}

// Fill replaces the value of an input or the text of an editable element.
func (e *Element) Fill(value string) error {
	return e.act(ActionFill, value, func() {
		if isInput(e.sel) {
			e.sel.SetAttr("value", value)
		} else {
			e.sel.SetText(value)
		}
	})
}

// Type appends text as keystrokes would.
func (e *Element) Type(text string) error {
	return e.act(ActionType, text, func() {
		if isInput(e.sel) {
			v, _ := e.sel.Attr("value")
			e.sel.SetAttr("value", v+text)
		} else {
			e.sel.SetText(e.sel.Text() + text)
		}
	})
}

// Press records a key press.
func (e *Element) Press(key string) error {
	return e.act(ActionPress, key, nil)
}

// SetInputFiles records the selected files on a file input.
func (e *Element) SetInputFiles(paths []string) error {
	if t, _ := e.sel.Attr("type"); !isInput(e.sel) || t != "file" {
		return fmt.Errorf("static: element is not a file input")
	}
	return e.act(ActionFiles, strings.Join(paths, "\n"), nil)
}

func (e *Element) act(kind, value string, mutate func()) error {
	if err := e.alive(); err != nil {
		return err
	}
	if mutate != nil {
		e.page.mu.Lock()
		mutate()
		e.page.mu.Unlock()
	}
	e.page.record(Action{Kind: kind, Target: describe(e.sel), Value: value})

	for _, h := range e.page.ctx.driver.hooksFor(kind) {
		if matches(e.sel, h.selector) {
			h.fn(e.page, value)
		}
	}
	return nil
}

func isInput(s *goquery.Selection) bool {
	name := goquery.NodeName(s)
	return name == "input" || name == "textarea"
}

func describe(s *goquery.Selection) string {
	var b strings.Builder
	b.WriteString(goquery.NodeName(s))
	if id, ok := s.Attr("id"); ok && id != "" {
		b.WriteString("#" + id)
	}
	if class, ok := s.Attr("class"); ok {
		for _, c := range strings.Fields(class) {
			b.WriteString("." + c)
		}
	}
	return b.String()
}
