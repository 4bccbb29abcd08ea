// Package validation contains input checks for storefront requests.
package validation

import (
	"errors"
	"fmt"
	"math"
	"net/mail"
	"unicode"

	"github.com/vpetrenko/storefront-system/internal/model"
)

// IsValidEmail reports whether s is a plain, well-formed email address.
func IsValidEmail(s string) bool {
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// IsValidCountryCode reports whether s is a two-letter country code.
func IsValidCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// ValidateItems checks the order line items: at least one item, a name
// on each, a finite non-negative price, and a positive quantity.
func ValidateItems(items []model.OrderItem) error {
	if len(items) == 0 {
		return errors.New("order must contain at least one item")
	}
	for i, it := range items {
		if it.Name == "" {
			return fmt.Errorf("item %d: name is required", i)
		}
		if math.IsNaN(it.Price) || math.IsInf(it.Price, 0) || it.Price < 0 {
			return fmt.Errorf("item %d: price must be a non-negative number", i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("item %d: quantity must be positive", i)
		}
	}
	return nil
}
