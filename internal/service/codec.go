package service

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
)

// slotLine is the stored shape of one cart line. Price is written as a bare
// JSON number; a quoted number is also accepted on read.
type slotLine struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Price       json.RawMessage `json:"price"`
	Image       string          `json:"image"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Badge       string          `json:"badge"`
	Quantity    int             `json:"quantity"`
}

// encodeLines renders lines as the JSON array stored in the cart slot.
func encodeLines(lines []domain.CartLine) (string, error) {
	out := make([]slotLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, slotLine{
			ID:          l.ID,
			Name:        l.Name,
			Price:       json.RawMessage(l.Price.String()),
			Image:       l.Image,
			Category:    l.Category,
			Description: l.Description,
			Badge:       l.Badge,
			Quantity:    l.Quantity,
		})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode cart: %w", err)
	}
	return string(b), nil
}

// decodeLines parses a stored cart. A line whose price is not a number is
// skipped and counted; any other malformation is an error.
func decodeLines(raw string) ([]domain.CartLine, int, error) {
	var in []slotLine
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, 0, fmt.Errorf("decode cart: %w", err)
	}
	lines := make([]domain.CartLine, 0, len(in))
	skipped := 0
	for _, l := range in {
		var price decimal.Decimal
		if err := price.UnmarshalJSON(l.Price); err != nil {
			skipped++
			continue
		}
		lines = append(lines, domain.CartLine{
			Product: domain.Product{
				ID:          l.ID,
				Name:        l.Name,
				Price:       price,
				Image:       l.Image,
				Category:    l.Category,
				Description: l.Description,
				Badge:       l.Badge,
			},
			Quantity: l.Quantity,
		})
	}
	return lines, skipped, nil
}
