// Package model contains the domain entities of the storefront core.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Category is the account type, encoded as a two-letter prefix of the
// user id. The zero value means the id carries no known prefix.
type Category string

const (
	CategoryCustomer  Category = "customer"
	CategoryFranchise Category = "franchise"
)

const (
	customerPrefix  = "cu"
	franchisePrefix = "fr"
)

// Prefix returns the id prefix for the category, or the empty string
// for an unknown category.
func (c Category) Prefix() string {
	switch c {
	case CategoryCustomer:
		return customerPrefix
	case CategoryFranchise:
		return franchisePrefix
	}
	return ""
}

// DetectCategory classifies a user id by its prefix. It depends only on
// the first two characters and performs no I/O.
func DetectCategory(userID string) Category {
	switch {
	case strings.HasPrefix(userID, customerPrefix):
		return CategoryCustomer
	case strings.HasPrefix(userID, franchisePrefix):
		return CategoryFranchise
	}
	return ""
}

// FormatUserID renders a category and a sequence number in the stored
// prefixed form, e.g. cu000001.
func FormatUserID(c Category, n int64) string {
	return fmt.Sprintf("%s%06d", c.Prefix(), n)
}

// User represents one account, customer or franchise. The category is
// always derivable from the id prefix; the stored field is a denormalized
// copy kept in sync by the identity registry.
type User struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"userId"`
	Category            Category  `json:"category"`
	Email               string    `json:"email"`
	FirstName           string    `json:"firstName,omitempty"`
	LastName            string    `json:"lastName,omitempty"`
	PrimaryPhone        string    `json:"primaryPhone"`
	SecondaryPhone      string    `json:"secondaryPhone"`
	PasswordHash        string    `json:"passwordHash,omitempty"`
	PreviousID          string    `json:"previousId,omitempty"`
	PreviousFranchiseID string    `json:"previousFranchiseId,omitempty"`
	IsActive            bool      `json:"isActive"`
	LastActiveAt        time.Time `json:"lastActiveAt,omitzero"`
	CreatedAt           time.Time `json:"createdAt,omitzero"`
	UpdatedAt           time.Time `json:"updatedAt,omitzero"`
}

// Counter is the per-category allocation sequence. One document exists
// per category, mutated only inside store transactions.
type Counter struct {
	CurrentCount int64 `json:"currentCount"`
}

// OrderStatus describes the processing state of an order. The set is an
// open string enum; only the initial value is assigned by this core.
type OrderStatus string

// OrderStatusPending is stamped on every newly created order.
const OrderStatusPending OrderStatus = "pending"

// OrderItem is one purchased line item.
type OrderItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// CustomerInfo holds the contact details captured at checkout.
type CustomerInfo struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Address is the shipping address captured at checkout.
type Address struct {
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

// Order represents one placed order. Orders are written once by this
// core and never mutated afterwards.
type Order struct {
	ID              string       `json:"id,omitempty"`
	UserID          string       `json:"userId"`
	Items           []OrderItem  `json:"items"`
	TotalAmount     float64      `json:"totalAmount"`
	OrderNumber     int          `json:"orderNumber"`
	OrderCode       string       `json:"orderCode"`
	FranchiseID     string       `json:"franchiseId,omitempty"`
	Status          OrderStatus  `json:"status"`
	Customer        CustomerInfo `json:"customer"`
	ShippingAddress Address      `json:"shippingAddress"`
	SellerMessage   string       `json:"sellerMessage,omitempty"`
	CreatedAt       time.Time    `json:"createdAt,omitzero"`
}
