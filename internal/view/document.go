package view

import (
	"html/template"
	"sort"
)

// Element IDs the storefront pages can carry.
const (
	ElementCartCount        = "cart-count"
	ElementFeaturedProducts = "featured-products"
	ElementCookiePopup      = "cookie-popup"
	ElementCartItems        = "cart-items"
	ElementCartTotal        = "cart-total"
	ElementContactForm      = "contact-form"
)

// Surface is the display the binder paints into. Every method is a no-op
// returning false when the element is absent.
type Surface interface {
	HasElement(id string) bool
	SetText(id, text string) bool
	SetHTML(id string, html template.HTML) bool
	AddClass(id, class string) bool
	RemoveClass(id, class string) bool
}

// Element is one addressable region of a page.
type Element struct {
	ID      string
	Text    string
	HTML    template.HTML
	classes map[string]struct{}
}

// Classes returns the element's classes in sorted order.
func (e *Element) Classes() []string {
	out := make([]string, 0, len(e.classes))
	for c := range e.classes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// HasClass reports whether the element carries class.
func (e *Element) HasClass(class string) bool {
	_, ok := e.classes[class]
	return ok
}

// Content is what the element shows: its markup when set, else its text,
// escaped.
func (e *Element) Content() template.HTML {
	if e.HTML != "" {
		return e.HTML
	}
	return template.HTML(template.HTMLEscapeString(e.Text))
}

// Document is the in-memory surface of one page. It is not safe for
// concurrent use; the page loop owns it.
type Document struct {
	elements map[string]*Element
}

// NewDocument creates a document holding the given element IDs.
func NewDocument(ids ...string) *Document {
	d := &Document{elements: make(map[string]*Element, len(ids))}
	for _, id := range ids {
		d.elements[id] = &Element{ID: id, classes: map[string]struct{}{}}
	}
	return d
}

// Element returns the element with id.
func (d *Document) Element(id string) (*Element, bool) {
	e, ok := d.elements[id]
	return e, ok
}

func (d *Document) HasElement(id string) bool {
	_, ok := d.elements[id]
	return ok
}

func (d *Document) SetText(id, text string) bool {
	e, ok := d.elements[id]
	if !ok {
		return false
	}
	e.Text, e.HTML = text, ""
	return true
}

func (d *Document) SetHTML(id string, html template.HTML) bool {
	e, ok := d.elements[id]
	if !ok {
		return false
	}
	e.HTML, e.Text = html, ""
	return true
}

func (d *Document) AddClass(id, class string) bool {
	e, ok := d.elements[id]
	if !ok {
		return false
	}
	e.classes[class] = struct{}{}
	return true
}

func (d *Document) RemoveClass(id, class string) bool {
	e, ok := d.elements[id]
	if !ok {
		return false
	}
	delete(e.classes, class)
	return true
}

// HasClass reports whether element id exists and carries class.
func (d *Document) HasClass(id, class string) bool {
	e, ok := d.elements[id]
	return ok && e.HasClass(class)
}

// Fragment is the serialisable state of one element.
type Fragment struct {
	HTML    string   `json:"html"`
	Classes []string `json:"classes"`
}

// Fragments snapshots every element, keyed by ID.
func (d *Document) Fragments() map[string]Fragment {
	out := make(map[string]Fragment, len(d.elements))
	for id, e := range d.elements {
		out[id] = Fragment{HTML: string(e.Content()), Classes: e.Classes()}
	}
	return out
}
