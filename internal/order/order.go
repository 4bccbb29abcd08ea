// Package order implements the order sequencer: per-customer sequence
// numbers, derived order codes, and order persistence.
package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vpetrenko/storefront-system/internal/docstore"
	"github.com/vpetrenko/storefront-system/internal/model"
	"github.com/vpetrenko/storefront-system/internal/validation"
)

// ErrInvalidOrder is returned for malformed checkout input.
var ErrInvalidOrder = errors.New("invalid order")

// Sequencer assigns order numbers and codes and persists orders.
type Sequencer struct {
	store docstore.Store
}

// NewSequencer creates a sequencer backed by the given store.
func NewSequencer(store docstore.Store) *Sequencer {
	return &Sequencer{store: store}
}

// NextSequenceNumber returns one more than the number of orders already
// recorded for the user.
//
// The count and the subsequent order write are not covered by a
// transaction, so two concurrent checkouts by the same customer can be
// assigned the same number. That matches the stored data this scheme is
// compatible with; fixing it means moving the count into the same
// transaction pattern the id counters use.
func (s *Sequencer) NextSequenceNumber(ctx context.Context, userID string) (int, error) {
	docs, err := s.store.QueryEqual(ctx, docstore.CollectionOrders, docstore.Document{
		"userId": userID,
	})
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return len(docs) + 1, nil
}

// DeriveOrderCode builds the semi-decodable order label: the literal
// "cu", the raw zip code, the lower-cased country code, the first two
// characters of each item name in order, the sequence number, and the
// franchise id or "none". Pure concatenation, no separators; the exact
// construction is load-bearing for codes already in the store.
func DeriveOrderCode(zipCode, countryCode string, items []model.OrderItem, orderNumber int, franchiseID string) string {
	var b strings.Builder

	b.WriteString("cu")
	b.WriteString(zipCode)
	b.WriteString(strings.ToLower(countryCode))

	for _, it := range items {
		name := []rune(strings.ToLower(it.Name))
		if len(name) > 2 {
			name = name[:2]
		}
		b.WriteString(string(name))
	}

	b.WriteString(strconv.Itoa(orderNumber))

	if franchiseID != "" {
		b.WriteString(franchiseID)
	} else {
		b.WriteString("none")
	}

	return b.String()
}

// CreateOrderInput carries everything captured at checkout.
type CreateOrderInput struct {
	UserID          string
	Items           []model.OrderItem
	Customer        model.CustomerInfo
	ShippingAddress model.Address
	FranchiseID     string
	SellerMessage   string
}

// CreateOrderResult identifies the order that was written.
type CreateOrderResult struct {
	OrderID     string `json:"orderId"`
	OrderCode   string `json:"orderCode"`
	OrderNumber int    `json:"orderNumber"`
}

// CreateOrder computes the sequence number and order code, totals the
// items, and persists the order with status pending.
func (s *Sequencer) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidOrder)
	}
	if err := validation.ValidateItems(in.Items); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOrder, err)
	}

	number, err := s.NextSequenceNumber(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	code := DeriveOrderCode(in.ShippingAddress.ZipCode, in.ShippingAddress.Country, in.Items, number, in.FranchiseID)

	var total float64
	for _, it := range in.Items {
		total += it.Price * float64(it.Quantity)
	}

	ord := model.Order{
		UserID:          in.UserID,
		Items:           in.Items,
		TotalAmount:     total,
		OrderNumber:     number,
		OrderCode:       code,
		FranchiseID:     in.FranchiseID,
		Status:          model.OrderStatusPending,
		Customer:        in.Customer,
		ShippingAddress: in.ShippingAddress,
		SellerMessage:   in.SellerMessage,
	}

	doc, err := docstore.Marshal(ord)
	if err != nil {
		return nil, err
	}
	doc["createdAt"] = docstore.ServerTimestamp

	id, err := s.store.Add(ctx, docstore.CollectionOrders, doc)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	return &CreateOrderResult{
		OrderID:     id,
		OrderCode:   code,
		OrderNumber: number,
	}, nil
}

// GetOrdersByCode returns the orders matching both the code and the
// owning user id. The code alone is never treated as authorization.
// More than one result means the best-effort code collided.
func (s *Sequencer) GetOrdersByCode(ctx context.Context, orderCode, userID string) ([]model.Order, error) {
	if orderCode == "" || userID == "" {
		return nil, errors.New("order code and user id are required")
	}
	return s.queryOrders(ctx, docstore.Document{
		"orderCode": orderCode,
		"userId":    userID,
	})
}

// GetOrdersByUser returns every order placed by the user.
func (s *Sequencer) GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	return s.queryOrders(ctx, docstore.Document{"userId": userID})
}

func (s *Sequencer) queryOrders(ctx context.Context, filters docstore.Document) ([]model.Order, error) {
	docs, err := s.store.QueryEqual(ctx, docstore.CollectionOrders, filters)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	orders := make([]model.Order, 0, len(docs))
	for _, doc := range docs {
		var o model.Order
		if err := docstore.Unmarshal(doc, &o); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}
