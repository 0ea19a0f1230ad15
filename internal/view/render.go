package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/utafrali/storefront/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

// Flavor is one kind of storefront page.
type Flavor string

const (
	FlavorHome    Flavor = "home"
	FlavorCart    Flavor = "cart"
	FlavorContact Flavor = "contact"
)

// Title is the page heading shown in the browser tab.
func (f Flavor) Title() string {
	switch f {
	case FlavorCart:
		return "Cart"
	case FlavorContact:
		return "Contact"
	default:
		return "Home"
	}
}

// Elements lists the display elements a page of this flavor carries.
func (f Flavor) Elements() []string {
	switch f {
	case FlavorCart:
		return []string{ElementCartCount, ElementCartItems, ElementCartTotal}
	case FlavorContact:
		return []string{ElementCartCount, ElementCookiePopup, ElementContactForm}
	default:
		return []string{ElementCartCount, ElementFeaturedProducts, ElementCookiePopup}
	}
}

// ParseFlavor maps a name to a flavor, defaulting to home.
func ParseFlavor(name string) Flavor {
	switch Flavor(name) {
	case FlavorCart, FlavorContact:
		return Flavor(name)
	default:
		return FlavorHome
	}
}

var flavors = []Flavor{FlavorHome, FlavorCart, FlavorContact}

var funcs = template.FuncMap{
	"price": domain.FormatPrice,
}

// Renderer holds one template set per page flavor plus the fragment set.
type Renderer struct {
	fragments *template.Template
	pages     map[Flavor]*template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	fragments, err := template.New("fragments").Funcs(funcs).ParseFS(templateFS, "templates/fragments.html")
	if err != nil {
		return nil, fmt.Errorf("parse fragments: %w", err)
	}
	r := &Renderer{fragments: fragments, pages: make(map[Flavor]*template.Template, len(flavors))}
	for _, f := range flavors {
		t, err := template.New(string(f)).Funcs(funcs).ParseFS(templateFS,
			"templates/layout.html", "templates/fragments.html", "templates/"+string(f)+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s page: %w", f, err)
		}
		r.pages[f] = t
	}
	return r, nil
}

// MustRenderer is NewRenderer for package initialisation and tests.
func MustRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// Fragment executes the named fragment template.
func (r *Renderer) Fragment(name string, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.fragments.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return template.HTML(buf.String()), nil
}

// PageData is what a full page render sees.
type PageData struct {
	Title         string
	Doc           *Document
	Notifications []domain.Notification
}

// Has reports whether the page carries element id.
func (p PageData) Has(id string) bool {
	return p.Doc.HasElement(id)
}

// Content is the current content of element id.
func (p PageData) Content(id string) template.HTML {
	e, ok := p.Doc.Element(id)
	if !ok {
		return ""
	}
	return e.Content()
}

// Classes is the space separated class list of element id.
func (p PageData) Classes(id string) string {
	e, ok := p.Doc.Element(id)
	if !ok {
		return ""
	}
	return strings.Join(e.Classes(), " ")
}

// Page writes the full HTML page of flavor.
func (r *Renderer) Page(w io.Writer, flavor Flavor, data PageData) error {
	t, ok := r.pages[flavor]
	if !ok {
		return fmt.Errorf("unknown page flavor %q", flavor)
	}
	if err := t.ExecuteTemplate(w, "layout", data); err != nil {
		return fmt.Errorf("render %s page: %w", flavor, err)
	}
	return nil
}
