package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrItemNotFound = errors.New("cart item not found")

type Item struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Color     string    `json:"color,omitempty"`
	Size      string    `json:"size,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Repository interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Item, error)
	Upsert(ctx context.Context, item *Item) error
	Delete(ctx context.Context, userID, itemID uuid.UUID) error
	Clear(ctx context.Context, userID uuid.UUID) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Item, error) {
	query := `
		SELECT id, user_id, product_id, quantity, color, size, created_at, updated_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query cart for user %s: %w", userID, err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var item Item
		err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.ProductID,
			&item.Quantity,
			&item.Color,
			&item.Size,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating cart items: %w", err)
	}

	return items, nil
}

// Upsert inserts the item, or adds its quantity to an existing row for
// the same product and variant.
func (r *postgresRepository) Upsert(ctx context.Context, item *Item) error {
	if item.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate cart item ID: %w", err)
		}
		item.ID = id
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO cart_items (id, user_id, product_id, quantity, color, size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (user_id, product_id, color, size)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Exec(ctx, query,
		item.ID,
		item.UserID,
		item.ProductID,
		item.Quantity,
		item.Color,
		item.Size,
		now,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to upsert cart item for user %s: %w", item.UserID, err)
	}

	item.CreatedAt = now
	item.UpdatedAt = now
	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, userID, itemID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM cart_items WHERE id = $1 AND user_id = $2`, itemID, userID)
	if err != nil {
		return fmt.Errorf("repository: failed to delete cart item %s: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *postgresRepository) Clear(ctx context.Context, userID uuid.UUID) error {
	return ClearTx(ctx, r.db, userID)
}

// Execer is the subset of pgx shared by pools and transactions.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ClearTx empties a user's cart using any pgx executor, so that order
// creation can clear the cart inside its own transaction.
func ClearTx(ctx context.Context, exec Execer, userID uuid.UUID) error {
	_, err := exec.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("repository: failed to clear cart for user %s: %w", userID, err)
	}
	return nil
}
