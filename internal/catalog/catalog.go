package catalog

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/utafrali/storefront/internal/domain"
)

// DefaultFeaturedCount is how many products the home page features.
const DefaultFeaturedCount = 3

// Catalog is a fixed, ordered set of products. It is safe for concurrent
// use because it is never mutated after construction.
type Catalog struct {
	products []domain.Product
	byID     map[int]int
}

// New builds a catalog over products in the given order. Later duplicates of
// an ID are ignored.
func New(products []domain.Product) *Catalog {
	c := &Catalog{byID: make(map[int]int, len(products))}
	for _, p := range products {
		if _, dup := c.byID[p.ID]; dup {
			continue
		}
		c.byID[p.ID] = len(c.products)
		c.products = append(c.products, p)
	}
	return c
}

// Default returns the storefront's built-in product list.
func Default() *Catalog {
	return New(defaultProducts())
}

// All returns every product in catalog order.
func (c *Catalog) All() []domain.Product {
	out := make([]domain.Product, len(c.products))
	copy(out, c.products)
	return out
}

// Featured returns the first n products, or all of them when n exceeds the
// catalog size. n <= 0 yields none.
func (c *Catalog) Featured(n int) []domain.Product {
	if n <= 0 {
		return nil
	}
	if n > len(c.products) {
		n = len(c.products)
	}
	out := make([]domain.Product, n)
	copy(out, c.products[:n])
	return out
}

// ByID looks up a product.
func (c *Catalog) ByID(id int) (domain.Product, bool) {
	i, ok := c.byID[id]
	if !ok {
		return domain.Product{}, false
	}
	return c.products[i], true
}

// Search returns the products whose name, category or description contains
// query, compared under Unicode case folding. An empty query matches all.
func (c *Catalog) Search(query string) []domain.Product {
	fold := cases.Fold()
	q := fold.String(strings.TrimSpace(query))
	if q == "" {
		return c.All()
	}
	out := make([]domain.Product, 0)
	for _, p := range c.products {
		if strings.Contains(fold.String(p.Name), q) ||
			strings.Contains(fold.String(p.Category), q) ||
			strings.Contains(fold.String(p.Description), q) {
			out = append(out, p)
		}
	}
	return out
}

// Len is the number of products.
func (c *Catalog) Len() int {
	return len(c.products)
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func defaultProducts() []domain.Product {
	return []domain.Product{
		{
			ID:          1,
			Name:        "PUBG Premium Battle Pass",
			Price:       price("9.99"),
			Image:       "images/battle-pass.jpg",
			Category:    "Battle Pass",
			Description: "Unlock exclusive skins, emotes, and rewards with the premium battle pass.",
			Badge:       "Popular",
		},
		{
			ID:          2,
			Name:        "Legendary AKM Skin",
			Price:       price("4.99"),
			Image:       "images/akm-skin.jpg",
			Category:    "Weapon Skins",
			Description: "Rare legendary skin for the AKM assault rifle with unique animations.",
			Badge:       "Limited",
		},
		{
			ID:          3,
			Name:        "Elite Player Outfit",
			Price:       price("7.99"),
			Image:       "images/elite-outfit.jpg",
			Category:    "Character Skins",
			Description: "Premium elite outfit with custom animations and effects.",
			Badge:       "New",
		},
		{
			ID:          4,
			Name:        "PUBG UC Credits",
			Price:       price("19.99"),
			Image:       "images/uc-credits.jpg",
			Category:    "Gaming Currency",
			Description: "1000 UC credits for in-game purchases and premium content.",
			Badge:       "Best Value",
		},
		{
			ID:          5,
			Name:        "Pro Gamer Bundle",
			Price:       price("24.99"),
			Image:       "images/pro-bundle.jpg",
			Category:    "Bundles",
			Description: "Complete bundle including skins, emotes, and exclusive items.",
			Badge:       "Hot Deal",
		},
		{
			ID:          6,
			Name:        "Victory Royale Emote",
			Price:       price("2.99"),
			Image:       "images/victory-emote.jpg",
			Category:    "Emotes",
			Description: "Celebrate your wins with this exclusive victory emote.",
			Badge:       "Trending",
		},
	}
}
