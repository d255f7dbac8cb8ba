package types

import "strings"

// ShippingSnapshot is the delivery contact captured on an order at checkout.
type ShippingSnapshot struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

// AddressLine joins the street lines for gateways that accept one address field.
func (s ShippingSnapshot) AddressLine() string {
	parts := []string{}
	for _, part := range []string{s.Line1, s.Line2} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, ", ")
}
