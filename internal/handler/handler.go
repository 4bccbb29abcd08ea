// Package handler contains the HTTP handlers of the storefront API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vpetrenko/storefront-system/internal/docstore"
	"github.com/vpetrenko/storefront-system/internal/identity"
	"github.com/vpetrenko/storefront-system/internal/middleware"
	"github.com/vpetrenko/storefront-system/internal/model"
	"github.com/vpetrenko/storefront-system/internal/order"
	"github.com/vpetrenko/storefront-system/internal/validation"
)

// IdentityService defines the identity registry contract used by the
// HTTP handlers.
type IdentityService interface {
	CreateUser(ctx context.Context, in identity.NewUser) (string, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, userID string, fields docstore.Document) error
	SetActiveStatus(ctx context.Context, userID string, active bool) error
	UpgradeToFranchise(ctx context.Context, userID string) (string, error)
	RevertToCustomer(ctx context.Context, userID string) (string, error)
}

// OrderService defines the order sequencer contract used by the HTTP
// handlers.
type OrderService interface {
	CreateOrder(ctx context.Context, in order.CreateOrderInput) (*order.CreateOrderResult, error)
	GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
	GetOrdersByCode(ctx context.Context, orderCode, userID string) ([]model.Order, error)
}

// Handler implements the HTTP handlers of the storefront API.
type Handler struct {
	identity       IdentityService
	orders         OrderService
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler instance.
func NewHandler(id IdentityService, orders OrderService, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		identity:       id,
		orders:         orders,
		logger:         logger,
		authMiddleware: auth,
	}
}

type registerRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	PrimaryPhone   string `json:"primaryPhone"`
	SecondaryPhone string `json:"secondaryPhone"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userIDResponse struct {
	UserID string `json:"userId"`
}

type userResponse struct {
	ID                  string `json:"id"`
	Category            string `json:"category"`
	Email               string `json:"email"`
	FirstName           string `json:"firstName,omitempty"`
	LastName            string `json:"lastName,omitempty"`
	PrimaryPhone        string `json:"primaryPhone"`
	SecondaryPhone      string `json:"secondaryPhone"`
	PreviousID          string `json:"previousId,omitempty"`
	PreviousFranchiseID string `json:"previousFranchiseId,omitempty"`
	IsActive            bool   `json:"isActive"`
	CreatedAt           string `json:"createdAt,omitempty"`
}

func toUserResponse(u model.User) userResponse {
	resp := userResponse{
		ID:                  u.ID,
		Category:            string(u.Category),
		Email:               u.Email,
		FirstName:           u.FirstName,
		LastName:            u.LastName,
		PrimaryPhone:        u.PrimaryPhone,
		SecondaryPhone:      u.SecondaryPhone,
		PreviousID:          u.PreviousID,
		PreviousFranchiseID: u.PreviousFranchiseID,
		IsActive:            u.IsActive,
	}
	if !u.CreatedAt.IsZero() {
		resp.CreatedAt = u.CreatedAt.Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

// Register creates a new customer account and signs the caller in.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidEmail(req.Email) || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.identity.CreateUser(r.Context(), identity.NewUser{
		Email:          req.Email,
		Password:       req.Password,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		PrimaryPhone:   req.PrimaryPhone,
		SecondaryPhone: req.SecondaryPhone,
	})
	if err != nil {
		if errors.Is(err, identity.ErrDuplicateEmail) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if err := h.authMiddleware.SetAuthCookie(w, userID); err != nil {
		h.logger.Error("set auth cookie", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, userIDResponse{UserID: userID})
}

// Login authenticates by email and password and marks the account
// active.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.identity.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if user == nil || identity.VerifyPassword(user.PasswordHash, req.Password) != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.identity.SetActiveStatus(r.Context(), user.ID, true); err != nil {
		h.logger.Error("set active status", zap.Error(err), zap.String("userID", user.ID))
	}

	if err := h.authMiddleware.SetAuthCookie(w, user.ID); err != nil {
		h.logger.Error("set auth cookie", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, userIDResponse{UserID: user.ID})
}

// Logout marks the account inactive and clears the auth cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.identity.SetActiveStatus(r.Context(), userID, false); err != nil {
		h.logger.Error("set active status", zap.Error(err), zap.String("userID", userID))
	}

	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusOK)
}

// GetProfile returns the caller's user record.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	user, err := h.identity.GetUserByID(r.Context(), userID)
	if err != nil {
		h.logger.Error("get profile error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, toUserResponse(*user))
}

type profileUpdateRequest struct {
	FirstName      *string `json:"firstName"`
	LastName       *string `json:"lastName"`
	PrimaryPhone   *string `json:"primaryPhone"`
	SecondaryPhone *string `json:"secondaryPhone"`
}

// UpdateProfile merges the supplied profile fields into the caller's
// record.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req profileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	fields := docstore.Document{}
	if req.FirstName != nil {
		fields["firstName"] = *req.FirstName
	}
	if req.LastName != nil {
		fields["lastName"] = *req.LastName
	}
	if req.PrimaryPhone != nil {
		fields["primaryPhone"] = *req.PrimaryPhone
	}
	if req.SecondaryPhone != nil {
		fields["secondaryPhone"] = *req.SecondaryPhone
	}
	if len(fields) == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.identity.UpdateUser(r.Context(), userID, fields); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("update profile error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// UpgradeToFranchise migrates the caller's account to the franchise
// category and re-issues the auth cookie for the new id.
func (h *Handler) UpgradeToFranchise(w http.ResponseWriter, r *http.Request) {
	h.migrate(w, r, h.identity.UpgradeToFranchise)
}

// RevertToCustomer migrates the caller's account back to the customer
// category and re-issues the auth cookie for the restored id.
func (h *Handler) RevertToCustomer(w http.ResponseWriter, r *http.Request) {
	h.migrate(w, r, h.identity.RevertToCustomer)
}

func (h *Handler) migrate(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (string, error)) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	newID, err := op(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidTransition):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, identity.ErrMissingLineage):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, identity.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("category migration error", zap.Error(err), zap.String("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	if err := h.authMiddleware.SetAuthCookie(w, newID); err != nil {
		h.logger.Error("set auth cookie", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, userIDResponse{UserID: newID})
}

// ListUsers returns every account, for the admin console.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.identity.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type checkoutRequest struct {
	Items           []model.OrderItem  `json:"items"`
	Customer        model.CustomerInfo `json:"customer"`
	ShippingAddress model.Address      `json:"shippingAddress"`
	FranchiseID     string             `json:"franchiseId"`
	SellerMessage   string             `json:"sellerMessage"`
}

// CreateOrder handles checkout for the authenticated customer.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	result, err := h.orders.CreateOrder(r.Context(), order.CreateOrderInput{
		UserID:          userID,
		Items:           req.Items,
		Customer:        req.Customer,
		ShippingAddress: req.ShippingAddress,
		FranchiseID:     req.FranchiseID,
		SellerMessage:   req.SellerMessage,
	})
	if err != nil {
		if errors.Is(err, order.ErrInvalidOrder) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.logger.Error("create order error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

type orderResponse struct {
	ID          string            `json:"id"`
	OrderNumber int               `json:"orderNumber"`
	OrderCode   string            `json:"orderCode"`
	Items       []model.OrderItem `json:"items"`
	TotalAmount float64           `json:"totalAmount"`
	FranchiseID string            `json:"franchiseId,omitempty"`
	Status      string            `json:"status"`
	CreatedAt   string            `json:"createdAt,omitempty"`
}

func toOrderResponses(orders []model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		item := orderResponse{
			ID:          o.ID,
			OrderNumber: o.OrderNumber,
			OrderCode:   o.OrderCode,
			Items:       o.Items,
			TotalAmount: o.TotalAmount,
			FranchiseID: o.FranchiseID,
			Status:      string(o.Status),
		}
		if !o.CreatedAt.IsZero() {
			item.CreatedAt = o.CreatedAt.Format(time.RFC3339)
		}
		resp = append(resp, item)
	}
	return resp
}

// GetOrders returns the caller's orders.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.orders.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

// TrackOrder looks an order up by user id and order code together; the
// code alone is not sufficient.
func (h *Handler) TrackOrder(w http.ResponseWriter, r *http.Request) {
	userID := urlParam(r, "userID")
	orderCode := urlParam(r, "orderCode")
	if userID == "" || orderCode == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	orders, err := h.orders.GetOrdersByCode(r.Context(), orderCode, userID)
	if err != nil {
		h.logger.Error("track order error", zap.Error(err), zap.String("orderCode", orderCode))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponses(orders))
}
