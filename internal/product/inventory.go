package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrProductNotFound = errors.New("product not found")

	// ErrStockIntegrity means a stock adjustment targeted a product row
	// that no longer exists. Stock and order rows have drifted apart;
	// this is a bug upstream, not a retryable condition.
	ErrStockIntegrity = errors.New("stock integrity violation")
)

// InsufficientStockError reports a failed reservation with enough
// detail for the customer-facing message.
type InsufficientStockError struct {
	ProductID   uuid.UUID
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID.String()
	}
	return fmt.Sprintf("insufficient stock for %s: %d available, %d requested", name, e.Available, e.Requested)
}

// The ledger is the only writer of products.stock. All three operations
// run inside a caller-owned transaction so that a multi-item order is
// adjusted all-or-nothing.

// Reserve decrements stock by qty, failing if fewer than qty units are
// available. The decrement is a single conditional UPDATE, so two
// concurrent reservations against the same row cannot both pass the
// availability check. On success it returns the product name, captured
// for the order's line item.
func Reserve(ctx context.Context, tx pgx.Tx, productID uuid.UUID, qty int) (string, error) {
	query := `
		UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
		RETURNING name
	`

	var name string
	err := tx.QueryRow(ctx, query, productID, qty).Scan(&name)
	if err == nil {
		return name, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("ledger: failed to reserve stock for product %s: %w", productID, err)
	}

	// The conditional update matched nothing: either the product is
	// gone or the stock is short. Re-read inside the same transaction
	// to tell the two apart and report the available count.
	var available int
	err = tx.QueryRow(ctx, `SELECT name, stock FROM products WHERE id = $1`, productID).Scan(&name, &available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("ledger: product %s: %w", productID, ErrProductNotFound)
		}
		return "", fmt.Errorf("ledger: failed to read stock for product %s: %w", productID, err)
	}

	return "", &InsufficientStockError{
		ProductID:   productID,
		ProductName: name,
		Available:   available,
		Requested:   qty,
	}
}

// Release returns qty previously reserved units to stock. It cannot
// fail for business reasons; a missing product row is corruption.
func Release(ctx context.Context, tx pgx.Tx, productID uuid.UUID, qty int) error {
	query := `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, query, productID, qty)
	if err != nil {
		return fmt.Errorf("ledger: failed to release stock for product %s: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: release for missing product %s: %w", productID, ErrStockIntegrity)
	}

	return nil
}

// Deduct decrements stock without an availability check. It exists for
// re-activating a cancelled order, where the units being deducted were
// released by that same order's cancellation. If other orders consumed
// them in the meantime, stock goes negative; callers accept that.
func Deduct(ctx context.Context, tx pgx.Tx, productID uuid.UUID, qty int) error {
	query := `
		UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, query, productID, qty)
	if err != nil {
		return fmt.Errorf("ledger: failed to deduct stock for product %s: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: deduct for missing product %s: %w", productID, ErrStockIntegrity)
	}

	return nil
}
