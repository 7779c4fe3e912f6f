package order_test

// Integration tests against a real PostgreSQL with the schema from
// migrations/ applied. They are skipped unless DB_HOST is set, e.g.:
//
//	DB_HOST=localhost DB_PORT=5432 DB_USER=postgres DB_PASSWORD=123456 DB_NAME=storefront go test ./internal/order/

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopcore/storefront/internal/order"
	"github.com/shopcore/storefront/internal/product"
)

var db *pgxpool.Pool

func TestMain(m *testing.M) {
	host := os.Getenv("DB_HOST")
	if host != "" {
		connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host,
			envOr("DB_PORT", "5432"),
			envOr("DB_USER", "postgres"),
			os.Getenv("DB_PASSWORD"),
			envOr("DB_NAME", "storefront"),
			envOr("DB_SSLMODE", "disable"),
		)

		var err error
		db, err = pgxpool.New(context.Background(), connStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to test database: %v\n", err)
			os.Exit(1)
		}
	}

	code := m.Run()
	if db != nil {
		db.Close()
	}
	os.Exit(code)
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func requireDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if db == nil {
		t.Skip("DB_HOST not set, skipping integration test")
	}
	return db
}

func insertProduct(t *testing.T, name string, stock int) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV4()
	require.NoError(t, err)

	_, err = db.Exec(context.Background(),
		`INSERT INTO products (id, name, price, stock) VALUES ($1, $2, $3, $4)`,
		id, name, 100.0, stock)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = db.Exec(context.Background(), `DELETE FROM products WHERE id = $1`, id)
	})
	return id
}

func productStock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var stock int
	require.NoError(t, db.QueryRow(context.Background(),
		`SELECT stock FROM products WHERE id = $1`, id).Scan(&stock))
	return stock
}

func guestOrder(items ...order.Item) *order.Order {
	o := &order.Order{
		Number:        order.NewNumber(),
		Owner:         order.GuestOwner("guest@example.com"),
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		Payment:       order.PaymentDetails{Method: order.PaymentCashOnDelivery},
		Items:         items,
		ShippingAddress: &order.ShippingAddress{
			Name:    "Guest Person",
			Phone:   "01700000000",
			Address: "12 Lake Road",
			City:    "Dhaka",
		},
	}
	return o
}

func cleanupOrder(t *testing.T, store order.Store, id uuid.UUID) {
	t.Helper()
	t.Cleanup(func() {
		_ = store.Delete(context.Background(), id, nil, nil)
	})
}

func TestStore_CreateCancelRoundTrip(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := order.NewStore(db)

	productID := insertProduct(t, "Round Trip Panjabi", 5)

	o := guestOrder(order.Item{ProductID: productID, Quantity: 2, UnitPrice: 100})
	require.NoError(t, store.Create(ctx, o))
	cleanupOrder(t, store, o.ID)

	assert.Equal(t, 3, productStock(t, productID))
	assert.Equal(t, "Round Trip Panjabi", o.Items[0].ProductName)

	pending := order.StatusPending
	cancelled := order.StatusCancelled
	failed := order.PaymentFailed
	upd := order.FieldUpdate{Status: &cancelled, PaymentStatus: &failed, ExpectedStatus: &pending}
	adjust := []order.StockAdjustment{{ProductID: productID, Quantity: 2, Op: order.OpRelease}}
	require.NoError(t, store.Update(ctx, o.ID, upd, adjust))

	assert.Equal(t, 5, productStock(t, productID))

	got, err := store.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)
	assert.Equal(t, order.PaymentFailed, got.PaymentStatus)
	require.NotNil(t, got.ShippingAddress)
	assert.Equal(t, "Guest Person", got.ShippingAddress.Name)
}

func TestStore_CreateRollsBackOnInsufficientStock(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := order.NewStore(db)

	okID := insertProduct(t, "Plenty", 5)
	shortID := insertProduct(t, "Scarce", 1)

	o := guestOrder(
		order.Item{ProductID: okID, Quantity: 2, UnitPrice: 100},
		order.Item{ProductID: shortID, Quantity: 2, UnitPrice: 100},
	)
	err := store.Create(ctx, o)

	var stockErr *product.InsufficientStockError
	require.Error(t, err)
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, shortID, stockErr.ProductID)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 2, stockErr.Requested)

	// The first line's reservation must not survive the rollback.
	assert.Equal(t, 5, productStock(t, okID))
	assert.Equal(t, 1, productStock(t, shortID))

	_, err = store.GetByID(ctx, o.ID)
	assert.True(t, errors.Is(err, order.ErrOrderNotFound))
}

func TestStore_ConcurrentCreatesCannotOversell(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := order.NewStore(db)

	productID := insertProduct(t, "Contested", 5)

	results := make([]error, 2)
	orders := make([]*order.Order, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o := guestOrder(order.Item{ProductID: productID, Quantity: 3, UnitPrice: 100})
			orders[i] = o
			results[i] = store.Create(ctx, o)
		}(i)
	}
	wg.Wait()

	var succeeded, failed int
	for i, err := range results {
		if err == nil {
			succeeded++
			cleanupOrder(t, store, orders[i].ID)
			continue
		}
		var stockErr *product.InsufficientStockError
		require.True(t, errors.As(err, &stockErr), "unexpected error: %v", err)
		failed++
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, productStock(t, productID))
}

func TestStore_DeleteCascadesItems(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := order.NewStore(db)

	productID := insertProduct(t, "Ephemeral", 5)

	o := guestOrder(order.Item{ProductID: productID, Quantity: 1, UnitPrice: 100})
	require.NoError(t, store.Create(ctx, o))

	pending := order.StatusPending
	adjust := []order.StockAdjustment{{ProductID: productID, Quantity: 1, Op: order.OpRelease}}
	require.NoError(t, store.Delete(ctx, o.ID, &pending, adjust))

	assert.Equal(t, 5, productStock(t, productID))

	var itemCount int
	require.NoError(t, db.QueryRow(ctx,
		`SELECT count(*) FROM order_items WHERE order_id = $1`, o.ID).Scan(&itemCount))
	assert.Equal(t, 0, itemCount)

	assert.True(t, errors.Is(store.Delete(ctx, o.ID, nil, nil), order.ErrOrderNotFound))
}

func TestStore_ConcurrentCancelsReleaseOnce(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := order.NewStore(db)

	productID := insertProduct(t, "Contested Cancel", 5)

	o := guestOrder(order.Item{ProductID: productID, Quantity: 2, UnitPrice: 100})
	require.NoError(t, store.Create(ctx, o))
	cleanupOrder(t, store, o.ID)
	require.Equal(t, 3, productStock(t, productID))

	// Both callers observed PENDING before either wrote; the conditional
	// update must let exactly one through.
	results := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pending := order.StatusPending
			cancelled := order.StatusCancelled
			failed := order.PaymentFailed
			upd := order.FieldUpdate{Status: &cancelled, PaymentStatus: &failed, ExpectedStatus: &pending}
			adjust := []order.StockAdjustment{{ProductID: productID, Quantity: 2, Op: order.OpRelease}}
			results[i] = store.Update(ctx, o.ID, upd, adjust)
		}(i)
	}
	wg.Wait()

	var succeeded, lost int
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, errors.Is(err, order.ErrInvalidTransition), "unexpected error: %v", err)
		lost++
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, lost)
	assert.Equal(t, 5, productStock(t, productID), "stock must be released exactly once")
}

func TestStore_ItemSequencePinnedAtCreation(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := order.NewStore(db)

	firstID := insertProduct(t, "First Line", 5)
	secondID := insertProduct(t, "Second Line", 5)
	thirdID := insertProduct(t, "Third Line", 5)

	o := guestOrder(
		order.Item{ProductID: firstID, Quantity: 1, UnitPrice: 100},
		order.Item{ProductID: secondID, Quantity: 1, UnitPrice: 100},
		order.Item{ProductID: thirdID, Quantity: 1, UnitPrice: 100},
	)
	require.NoError(t, store.Create(ctx, o))
	cleanupOrder(t, store, o.ID)

	got, err := store.GetByID(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 3)
	assert.Equal(t, firstID, got.Items[0].ProductID)
	assert.Equal(t, secondID, got.Items[1].ProductID)
	assert.Equal(t, thirdID, got.Items[2].ProductID)
}

func TestStore_ListVisibilityAndSearch(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := order.NewStore(db)

	productID := insertProduct(t, "Searchable Kurti", 50)

	mine := guestOrder(order.Item{ProductID: productID, Quantity: 1, UnitPrice: 100})
	mine.Owner = order.GuestOwner("visibility-a@example.com")
	require.NoError(t, store.Create(ctx, mine))
	cleanupOrder(t, store, mine.ID)

	theirs := guestOrder(order.Item{ProductID: productID, Quantity: 1, UnitPrice: 100})
	theirs.Owner = order.GuestOwner("visibility-b@example.com")
	require.NoError(t, store.Create(ctx, theirs))
	cleanupOrder(t, store, theirs.ID)

	t.Run("guest_email_visibility", func(t *testing.T) {
		got, total, err := store.List(ctx, order.ListFilter{
			Email: "visibility-a@example.com",
			Page:  1,
			Limit: 10,
		})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		assert.Equal(t, mine.ID, got[0].ID)
		assert.Len(t, got[0].Items, 1)
	})

	t.Run("admin_search_by_order_number", func(t *testing.T) {
		got, total, err := store.List(ctx, order.ListFilter{
			Admin:  true,
			Search: theirs.Number,
			Page:   1,
			Limit:  10,
		})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		assert.Equal(t, theirs.ID, got[0].ID)
	})

	t.Run("search_by_product_name", func(t *testing.T) {
		_, total, err := store.List(ctx, order.ListFilter{
			Admin:  true,
			Search: "Searchable Kurti",
			Page:   1,
			Limit:  10,
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, total, 2)
	})
}
