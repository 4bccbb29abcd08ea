// Package identity implements the identity registry: allocation of
// category-tagged user ids and reversible migration of a user document
// between the customer and franchise categories.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/vpetrenko/storefront-system/internal/docstore"
	"github.com/vpetrenko/storefront-system/internal/model"
)

// ErrDuplicateEmail is returned when the email is already registered.
var (
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrAllocation is returned when the counter transaction could not
	// commit after the store's retry budget was exhausted.
	ErrAllocation = errors.New("user id allocation failed")
	// ErrInvalidTransition is returned when a migration is requested on
	// a user already in the target category.
	ErrInvalidTransition = errors.New("invalid category transition")
	// ErrMissingLineage is returned when a revert has no valid original
	// customer id to return to.
	ErrMissingLineage = errors.New("original customer id not found")
	// ErrUserNotFound is returned when the user document does not exist.
	ErrUserNotFound = errors.New("user not found")
)

const (
	customerCounterDoc  = "customerCounter"
	franchiseCounterDoc = "franchiseCounter"
)

func counterDocID(c model.Category) string {
	if c == model.CategoryFranchise {
		return franchiseCounterDoc
	}
	return customerCounterDoc
}

// Registry allocates user ids and manages the user lifecycle on top of
// the document store.
type Registry struct {
	store docstore.Store
}

// NewRegistry creates a registry backed by the given store.
func NewRegistry(store docstore.Store) *Registry {
	return &Registry{store: store}
}

// AllocateNextID reserves the next sequence number for the category and
// returns the prefixed id. The counter is read and advanced inside one
// store transaction; its isolation is the sole uniqueness mechanism.
func (r *Registry) AllocateNextID(ctx context.Context, category model.Category) (string, error) {
	if category.Prefix() == "" {
		return "", fmt.Errorf("%w: unknown category %q", ErrAllocation, category)
	}

	var id string
	err := r.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		var next int64 = 1

		doc, err := tx.Get(docstore.CollectionCounters, counterDocID(category))
		switch {
		case err == nil:
			var c model.Counter
			if err := docstore.Unmarshal(doc, &c); err != nil {
				return err
			}
			next = c.CurrentCount + 1
		case errors.Is(err, docstore.ErrNotFound):
			// First allocation in this category initializes the counter.
		default:
			return err
		}

		counterDoc, err := docstore.Marshal(model.Counter{CurrentCount: next})
		if err != nil {
			return err
		}
		tx.Set(docstore.CollectionCounters, counterDocID(category), counterDoc)

		id = model.FormatUserID(category, next)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrAllocation, err)
	}
	return id, nil
}

// NewUser carries the profile supplied at registration.
type NewUser struct {
	Email          string
	Password       string
	FirstName      string
	LastName       string
	PrimaryPhone   string
	SecondaryPhone string
}

// CreateUser registers a new customer account and returns its id.
// Emails are case-folded and must be unique across both categories; the
// check is a lookup at creation time, not a store constraint.
func (r *Registry) CreateUser(ctx context.Context, in NewUser) (string, error) {
	if in.Email == "" {
		return "", errors.New("email is required")
	}
	email := strings.ToLower(in.Email)

	existing, err := r.GetUserByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", fmt.Errorf("%w: %s", ErrDuplicateEmail, email)
	}

	id, err := r.AllocateNextID(ctx, model.CategoryCustomer)
	if err != nil {
		return "", err
	}

	user := model.User{
		ID:             id,
		UserID:         id,
		Category:       model.DetectCategory(id),
		Email:          email,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		PrimaryPhone:   in.PrimaryPhone,
		SecondaryPhone: in.SecondaryPhone,
	}

	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return "", fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = string(hash)
	}

	doc, err := docstore.Marshal(user)
	if err != nil {
		return "", err
	}
	doc["createdAt"] = docstore.ServerTimestamp
	doc["updatedAt"] = docstore.ServerTimestamp

	if err := r.store.Set(ctx, docstore.CollectionUsers, id, doc); err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// UpgradeToFranchise moves a customer document to a franchise id. If the
// customer was previously reverted from a franchise, that exact id is
// reused; otherwise a fresh one is allocated. The move is atomic: either
// the new document exists and the old one is gone, or nothing changed.
func (r *Registry) UpgradeToFranchise(ctx context.Context, userID string) (string, error) {
	if model.DetectCategory(userID) != model.CategoryCustomer {
		return "", fmt.Errorf("%w: only customers can be upgraded to franchise", ErrInvalidTransition)
	}

	user, err := r.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}

	var newID string
	if strings.HasPrefix(user.PreviousFranchiseID, model.CategoryFranchise.Prefix()) {
		newID = user.PreviousFranchiseID
	} else {
		newID, err = r.AllocateNextID(ctx, model.CategoryFranchise)
		if err != nil {
			return "", err
		}
	}

	moved := *user
	moved.ID = newID
	moved.UserID = newID
	moved.Category = model.DetectCategory(newID)
	moved.PreviousID = userID
	moved.PreviousFranchiseID = ""

	if err := r.moveUser(ctx, userID, newID, moved); err != nil {
		return "", fmt.Errorf("upgrade to franchise: %w", err)
	}
	return newID, nil
}

// RevertToCustomer moves a franchise document back to the customer id it
// was upgraded from, recording the franchise id for a later re-upgrade.
func (r *Registry) RevertToCustomer(ctx context.Context, userID string) (string, error) {
	if model.DetectCategory(userID) != model.CategoryFranchise {
		return "", fmt.Errorf("%w: only franchises can be reverted to customer", ErrInvalidTransition)
	}

	user, err := r.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}

	if !strings.HasPrefix(user.PreviousID, model.CategoryCustomer.Prefix()) {
		return "", fmt.Errorf("%w: franchise %s has no customer lineage", ErrMissingLineage, userID)
	}
	originalID := user.PreviousID

	moved := *user
	moved.ID = originalID
	moved.UserID = originalID
	moved.Category = model.DetectCategory(originalID)
	moved.PreviousFranchiseID = userID
	moved.PreviousID = ""

	if err := r.moveUser(ctx, userID, originalID, moved); err != nil {
		return "", fmt.Errorf("revert to customer: %w", err)
	}
	return originalID, nil
}

// moveUser re-keys a user document inside one transaction: verify the
// old document still exists, write the new one, delete the old one. Set
// runs before delete so an aborted transaction can never lose the record.
func (r *Registry) moveUser(ctx context.Context, oldID, newID string, user model.User) error {
	doc, err := docstore.Marshal(user)
	if err != nil {
		return err
	}
	doc["updatedAt"] = docstore.ServerTimestamp

	return r.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if _, err := tx.Get(docstore.CollectionUsers, oldID); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrUserNotFound, oldID)
			}
			return err
		}
		tx.Set(docstore.CollectionUsers, newID, doc)
		tx.Delete(docstore.CollectionUsers, oldID)
		return nil
	})
}

// UpdateUser merges profile fields into the user document. The category
// field is always re-derived from the id so a stale client cannot
// overwrite it.
func (r *Registry) UpdateUser(ctx context.Context, userID string, fields docstore.Document) error {
	merged := make(docstore.Document, len(fields)+2)
	for k, v := range fields {
		merged[k] = v
	}
	if category := model.DetectCategory(userID); category != "" {
		merged["category"] = category
	}
	merged["updatedAt"] = docstore.ServerTimestamp

	err := r.store.Update(ctx, docstore.CollectionUsers, userID, merged)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// SetActiveStatus records session liveness on login and logout.
func (r *Registry) SetActiveStatus(ctx context.Context, userID string, active bool) error {
	err := r.store.Update(ctx, docstore.CollectionUsers, userID, docstore.Document{
		"isActive":     active,
		"lastActiveAt": docstore.ServerTimestamp,
		"updatedAt":    docstore.ServerTimestamp,
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return fmt.Errorf("set active status: %w", err)
	}
	return nil
}

// GetUserByEmail returns the user registered under the case-folded
// email, or nil when none exists.
func (r *Registry) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, errors.New("email is required")
	}

	docs, err := r.store.QueryEqual(ctx, docstore.CollectionUsers, docstore.Document{
		"email": strings.ToLower(email),
	})
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	var u model.User
	if err := docstore.Unmarshal(docs[0], &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByID returns the user document, or nil when it does not exist.
func (r *Registry) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	doc, err := r.store.Get(ctx, docstore.CollectionUsers, userID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}

	var u model.User
	if err := docstore.Unmarshal(doc, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns every user document, for the admin console.
func (r *Registry) ListUsers(ctx context.Context) ([]model.User, error) {
	docs, err := r.store.QueryEqual(ctx, docstore.CollectionUsers, nil)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	users := make([]model.User, 0, len(docs))
	for _, doc := range docs {
		var u model.User
		if err := docstore.Unmarshal(doc, &u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// VerifyPassword checks a login attempt against the stored bcrypt hash.
func VerifyPassword(passwordHash, password string) error {
	if passwordHash == "" {
		return errors.New("account has no password set")
	}
	return bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password))
}
