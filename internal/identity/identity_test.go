package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/vpetrenko/storefront-system/internal/docstore"
	"github.com/vpetrenko/storefront-system/internal/model"
)

func newTestRegistry() (*Registry, *docstore.MemoryStore) {
	store := docstore.NewMemoryStore()
	return NewRegistry(store), store
}

func seedCounter(t *testing.T, store *docstore.MemoryStore, docID string, count int64) {
	t.Helper()
	err := store.Set(context.Background(), docstore.CollectionCounters, docID, docstore.Document{
		"currentCount": count,
	})
	if err != nil {
		t.Fatalf("seed counter: %v", err)
	}
}

func TestAllocateNextID_Sequential(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	first, err := r.AllocateNextID(ctx, model.CategoryCustomer)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if first != "cu000001" {
		t.Fatalf("first id = %q, want cu000001", first)
	}

	second, err := r.AllocateNextID(ctx, model.CategoryCustomer)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if second != "cu000002" {
		t.Fatalf("second id = %q, want cu000002", second)
	}
}

func TestAllocateNextID_IndependentCounters(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	if _, err := r.AllocateNextID(ctx, model.CategoryCustomer); err != nil {
		t.Fatalf("allocate customer: %v", err)
	}

	id, err := r.AllocateNextID(ctx, model.CategoryFranchise)
	if err != nil {
		t.Fatalf("allocate franchise: %v", err)
	}
	if id != "fr000001" {
		t.Fatalf("franchise id = %q, want fr000001 regardless of customer counter", id)
	}
}

func TestAllocateNextID_UnknownCategory(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.AllocateNextID(context.Background(), model.Category("admin"))
	if !errors.Is(err, ErrAllocation) {
		t.Fatalf("err = %v, want ErrAllocation", err)
	}
}

func TestAllocateNextID_ConcurrentUnique(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	const n = 50
	ids := make(chan string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.AllocateNextID(ctx, model.CategoryCustomer)
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct ids, want %d", len(seen), n)
	}

	// No failures means no gaps: every value in 1..n was handed out.
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("cu%06d", i)
		if !seen[id] {
			t.Fatalf("sequence gap: %q was never allocated", id)
		}
	}
}

func TestCreateUser_FirstID(t *testing.T) {
	r, _ := newTestRegistry()

	id, err := r.CreateUser(context.Background(), NewUser{Email: "a@x.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if id != "cu000001" {
		t.Fatalf("id = %q, want cu000001", id)
	}

	u, err := r.GetUserByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u == nil {
		t.Fatalf("user document missing after create")
	}
	if u.Category != model.CategoryCustomer {
		t.Fatalf("category = %q, want customer", u.Category)
	}
	if u.UserID != id {
		t.Fatalf("userId = %q, want %q", u.UserID, id)
	}
	if u.CreatedAt.IsZero() || u.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not stamped: createdAt=%v updatedAt=%v", u.CreatedAt, u.UpdatedAt)
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	if _, err := r.CreateUser(ctx, NewUser{Email: "a@x.com"}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	_, err := r.CreateUser(ctx, NewUser{Email: "A@X.com"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestCreateUser_EmailCaseFolded(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	if _, err := r.CreateUser(ctx, NewUser{Email: "Mixed@Case.COM"}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	u, err := r.GetUserByEmail(ctx, "mixed@case.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if u == nil {
		t.Fatalf("lookup by lower-cased email found nothing")
	}
	if u.Email != "mixed@case.com" {
		t.Fatalf("stored email = %q, want lower-cased", u.Email)
	}
}

func TestCreateUser_RequiresEmail(t *testing.T) {
	r, _ := newTestRegistry()

	if _, err := r.CreateUser(context.Background(), NewUser{}); err == nil {
		t.Fatalf("expected error for missing email")
	}
}

func TestCreateUser_PasswordHashedAndVerifiable(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	id, err := r.CreateUser(ctx, NewUser{Email: "a@x.com", Password: "s3cret"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	u, err := r.GetUserByID(ctx, id)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.PasswordHash == "" || u.PasswordHash == "s3cret" {
		t.Fatalf("password stored unhashed: %q", u.PasswordHash)
	}
	if err := VerifyPassword(u.PasswordHash, "s3cret"); err != nil {
		t.Fatalf("verify correct password: %v", err)
	}
	if err := VerifyPassword(u.PasswordHash, "wrong"); err == nil {
		t.Fatalf("wrong password verified")
	}
}

func TestUpgradeToFranchise(t *testing.T) {
	r, store := newTestRegistry()
	ctx := context.Background()

	id, err := r.CreateUser(ctx, NewUser{Email: "a@x.com", FirstName: "Ann", PrimaryPhone: "555-0100"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	seedCounter(t, store, franchiseCounterDoc, 4)

	newID, err := r.UpgradeToFranchise(ctx, id)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if newID != "fr000005" {
		t.Fatalf("new id = %q, want fr000005", newID)
	}

	old, err := r.GetUserByID(ctx, id)
	if err != nil {
		t.Fatalf("get old: %v", err)
	}
	if old != nil {
		t.Fatalf("old document %q still exists after upgrade", id)
	}

	moved, err := r.GetUserByID(ctx, newID)
	if err != nil {
		t.Fatalf("get new: %v", err)
	}
	if moved == nil {
		t.Fatalf("franchise document missing after upgrade")
	}
	if moved.Category != model.CategoryFranchise {
		t.Fatalf("category = %q, want franchise", moved.Category)
	}
	if moved.PreviousID != id {
		t.Fatalf("previousId = %q, want %q", moved.PreviousID, id)
	}
	if moved.PreviousFranchiseID != "" {
		t.Fatalf("previousFranchiseId = %q, want cleared", moved.PreviousFranchiseID)
	}
	if moved.FirstName != "Ann" || moved.PrimaryPhone != "555-0100" {
		t.Fatalf("profile fields lost on upgrade: %+v", moved)
	}
}

func TestUpgradeToFranchise_RejectsFranchise(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.UpgradeToFranchise(context.Background(), "fr000001")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestUpgradeToFranchise_UserMissing(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.UpgradeToFranchise(context.Background(), "cu000042")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestRevertToCustomer_RejectsCustomer(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.RevertToCustomer(context.Background(), "cu000001")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestRevertToCustomer_MissingLineage(t *testing.T) {
	r, store := newTestRegistry()
	ctx := context.Background()

	// A franchise document written without an upgrade trail.
	err := store.Set(ctx, docstore.CollectionUsers, "fr000001", docstore.Document{
		"id":       "fr000001",
		"userId":   "fr000001",
		"category": "franchise",
		"email":    "f@x.com",
	})
	if err != nil {
		t.Fatalf("seed franchise: %v", err)
	}

	_, err = r.RevertToCustomer(ctx, "fr000001")
	if !errors.Is(err, ErrMissingLineage) {
		t.Fatalf("err = %v, want ErrMissingLineage", err)
	}
}

func TestMigrationReversibility(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	id, err := r.CreateUser(ctx, NewUser{Email: "a@x.com", FirstName: "Ann", LastName: "Lee"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	frID, err := r.UpgradeToFranchise(ctx, id)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	restored, err := r.RevertToCustomer(ctx, frID)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if restored != id {
		t.Fatalf("restored id = %q, want original %q", restored, id)
	}

	u, err := r.GetUserByID(ctx, restored)
	if err != nil {
		t.Fatalf("get restored: %v", err)
	}
	if u == nil {
		t.Fatalf("restored document missing")
	}
	if u.FirstName != "Ann" || u.LastName != "Lee" || u.Email != "a@x.com" {
		t.Fatalf("original fields not preserved: %+v", u)
	}
	if u.PreviousFranchiseID != frID {
		t.Fatalf("previousFranchiseId = %q, want %q", u.PreviousFranchiseID, frID)
	}
	if u.PreviousID != "" {
		t.Fatalf("previousId = %q, want cleared", u.PreviousID)
	}

	if gone, _ := r.GetUserByID(ctx, frID); gone != nil {
		t.Fatalf("franchise document %q still exists after revert", frID)
	}
}

func TestReupgradeReusesFranchiseID(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	id, err := r.CreateUser(ctx, NewUser{Email: "a@x.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	frID, err := r.UpgradeToFranchise(ctx, id)
	if err != nil {
		t.Fatalf("first upgrade: %v", err)
	}
	if _, err := r.RevertToCustomer(ctx, frID); err != nil {
		t.Fatalf("revert: %v", err)
	}

	again, err := r.UpgradeToFranchise(ctx, id)
	if err != nil {
		t.Fatalf("second upgrade: %v", err)
	}
	if again != frID {
		t.Fatalf("re-upgrade allocated %q, want reused %q", again, frID)
	}
}

func TestUpdateUser_CategoryPinnedToID(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	id, err := r.CreateUser(ctx, NewUser{Email: "a@x.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	err = r.UpdateUser(ctx, id, docstore.Document{
		"firstName": "Ann",
		"category":  "franchise",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	u, err := r.GetUserByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.Category != model.CategoryCustomer {
		t.Fatalf("category = %q, update must not override the id prefix", u.Category)
	}
	if u.FirstName != "Ann" {
		t.Fatalf("firstName = %q, want Ann", u.FirstName)
	}
}

func TestSetActiveStatus(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	id, err := r.CreateUser(ctx, NewUser{Email: "a@x.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	if err := r.SetActiveStatus(ctx, id, true); err != nil {
		t.Fatalf("set active: %v", err)
	}

	u, err := r.GetUserByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !u.IsActive {
		t.Fatalf("isActive = false, want true")
	}
	if u.LastActiveAt.IsZero() {
		t.Fatalf("lastActiveAt not stamped")
	}

	if err := r.SetActiveStatus(ctx, id, false); err != nil {
		t.Fatalf("set inactive: %v", err)
	}
	u, _ = r.GetUserByID(ctx, id)
	if u.IsActive {
		t.Fatalf("isActive = true after logout")
	}
}

func TestListUsers(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		if _, err := r.CreateUser(ctx, NewUser{Email: email}); err != nil {
			t.Fatalf("create %s: %v", email, err)
		}
	}

	users, err := r.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("got %d users, want 3", len(users))
	}
}
