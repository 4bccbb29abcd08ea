package validation

import (
	"math"
	"testing"

	"github.com/vpetrenko/storefront-system/internal/model"
)

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"a@x.com", true},
		{"first.last@example.co", true},
		{"", false},
		{"not-an-email", false},
		{"missing@domain@twice.com", false},
		{"Name <a@x.com>", false},
	}

	for _, tt := range tests {
		if got := IsValidEmail(tt.email); got != tt.want {
			t.Fatalf("IsValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
}

func TestIsValidCountryCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"US", true},
		{"us", true},
		{"DE", true},
		{"USA", false},
		{"U", false},
		{"U1", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsValidCountryCode(tt.code); got != tt.want {
			t.Fatalf("IsValidCountryCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestValidateItems(t *testing.T) {
	valid := model.OrderItem{ID: "p1", Name: "Widget", Price: 10, Quantity: 2}

	tests := []struct {
		name    string
		items   []model.OrderItem
		wantErr bool
	}{
		{name: "valid single item", items: []model.OrderItem{valid}, wantErr: false},
		{name: "empty items", items: nil, wantErr: true},
		{name: "missing name", items: []model.OrderItem{{ID: "p1", Price: 1, Quantity: 1}}, wantErr: true},
		{name: "negative price", items: []model.OrderItem{{Name: "Widget", Price: -1, Quantity: 1}}, wantErr: true},
		{name: "NaN price", items: []model.OrderItem{{Name: "Widget", Price: math.NaN(), Quantity: 1}}, wantErr: true},
		{name: "zero quantity", items: []model.OrderItem{{Name: "Widget", Price: 1, Quantity: 0}}, wantErr: true},
		{name: "free item is allowed", items: []model.OrderItem{{Name: "Sample", Price: 0, Quantity: 1}}, wantErr: false},
		{name: "second item invalid", items: []model.OrderItem{valid, {Name: "Gadget", Price: 5, Quantity: -1}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateItems(tt.items)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateItems() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
