package types

import "strings"

// AddressSnapshot is an owned copy of an address captured at order time. It is
// embedded into the owning row and never follows later address-book edits.
type AddressSnapshot struct {
	Line1      string   `gorm:"column:line1" json:"line1"`
	Line2      *string  `gorm:"column:line2" json:"line2,omitempty"`
	City       string   `gorm:"column:city" json:"city"`
	Region     string   `gorm:"column:region" json:"region"`
	PostalCode string   `gorm:"column:postal_code" json:"postal_code"`
	Country    string   `gorm:"column:country" json:"country"`
	Latitude   *float64 `gorm:"column:latitude" json:"latitude,omitempty"`
	Longitude  *float64 `gorm:"column:longitude" json:"longitude,omitempty"`
}

// IsZero reports whether the snapshot has no street line.
func (a AddressSnapshot) IsZero() bool {
	return strings.TrimSpace(a.Line1) == ""
}

// OneLine renders the snapshot for notifications and receipts.
func (a AddressSnapshot) OneLine() string {
	parts := []string{a.Line1}
	if a.Line2 != nil && strings.TrimSpace(*a.Line2) != "" {
		parts = append(parts, *a.Line2)
	}
	parts = append(parts, a.City, strings.TrimSpace(a.Region+" "+a.PostalCode), a.Country)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}
