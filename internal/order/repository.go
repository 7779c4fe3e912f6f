package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/shopcore/storefront/internal/cart"
	"github.com/shopcore/storefront/internal/product"
)

type StockOp string

const (
	// OpRelease restores the line's quantity to stock unconditionally.
	OpRelease StockOp = "release"
	// OpDeduct removes the line's quantity from stock without an
	// availability check (re-activating a cancelled order).
	OpDeduct StockOp = "deduct"
)

// StockAdjustment is one ledger instruction executed inside the same
// transaction as the order mutation it belongs to.
type StockAdjustment struct {
	ProductID uuid.UUID
	Quantity  int
	Op        StockOp
}

// FieldUpdate carries the order columns to change; nil fields are left
// untouched. ExpectedStatus, when set, makes the update conditional: it
// applies only while the order is still in that status, so a decision
// taken on a prior read cannot commit after the status moved under it.
type FieldUpdate struct {
	Status         *Status
	PaymentStatus  *PaymentStatus
	AdminNotes     *string
	ExpectedStatus *Status
}

// ListFilter is the query-side contract: visibility plus optional
// filters. Non-admin callers only ever see rows matching their user id
// or their session email.
type ListFilter struct {
	Admin  bool
	UserID uuid.UUID
	Email  string

	Status        Status
	PaymentMethod PaymentMethod
	Search        string
	Page          int
	Limit         int
}

// Store is the persistence contract of the lifecycle engine. Every
// mutating call is one all-or-nothing transaction covering both the
// order rows and the stock adjustments passed alongside.
type Store interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	Update(ctx context.Context, id uuid.UUID, upd FieldUpdate, adjust []StockAdjustment) error
	Delete(ctx context.Context, id uuid.UUID, expect *Status, adjust []StockAdjustment) error
	List(ctx context.Context, f ListFilter) ([]Order, int, error)
}

type postgresStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) Store {
	return &postgresStore{db: db}
}

// classify tags retryable store failures with ErrTransient so handlers
// can answer 503 instead of 500. Everything else passes through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
			return fmt.Errorf("%v: %w", err, ErrTransient)
		}
		if pgerrcode.IsConnectionException(pgErr.Code) {
			return fmt.Errorf("%v: %w", err, ErrTransient)
		}
	}
	return err
}

func (s *postgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return classify(fmt.Errorf("repository: failed to begin transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = classify(fmt.Errorf("repository: failed to commit transaction: %w", commitErr))
		}
	}()

	err = classify(fn(tx))
	return err
}

// applyAdjustments runs the ledger instructions attached to an order
// mutation, inside its transaction.
func applyAdjustments(ctx context.Context, tx pgx.Tx, adjust []StockAdjustment) error {
	for _, a := range adjust {
		var err error
		switch a.Op {
		case OpRelease:
			err = product.Release(ctx, tx, a.ProductID, a.Quantity)
		case OpDeduct:
			err = product.Deduct(ctx, tx, a.ProductID, a.Quantity)
		default:
			err = fmt.Errorf("repository: unknown stock operation %q", a.Op)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Create persists a new order in one transaction: reserve stock for
// every line in list order (the first shortfall aborts everything),
// store the guest address if any, insert the order with its items, and
// clear the owning user's cart.
func (s *postgresStore) Create(ctx context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		o.ID = id
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		now := time.Now().UTC()

		for i := range o.Items {
			item := &o.Items[i]
			name, err := product.Reserve(ctx, tx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			item.ProductName = name
		}

		if o.Owner.IsGuest() && o.ShippingAddress != nil {
			if err := insertAddress(ctx, tx, o.ShippingAddress, nil, now); err != nil {
				return err
			}
			o.ShippingAddressID = o.ShippingAddress.ID
		}

		queryOrder := `
			INSERT INTO orders (id, order_number, user_id, email, shipping_address_id,
				status, payment_status, payment_method,
				bkash_number, bkash_reference, bkash_transaction,
				subtotal, tax, shipping, discount, total,
				admin_notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
		`
		var userID *uuid.UUID
		if o.Owner.User != nil {
			userID = &o.Owner.User.ID
		}
		_, err := tx.Exec(ctx, queryOrder,
			o.ID,
			o.Number,
			userID,
			o.Owner.Email(),
			o.ShippingAddressID,
			string(o.Status),
			string(o.PaymentStatus),
			string(o.Payment.Method),
			o.Payment.BkashNumber,
			o.Payment.BkashReference,
			o.Payment.BkashTransaction,
			o.Amounts.Subtotal,
			o.Amounts.Tax,
			o.Amounts.Shipping,
			o.Amounts.Discount,
			o.Amounts.Total,
			o.AdminNotes,
			now,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order: %w", err)
		}
		o.CreatedAt = now
		o.UpdatedAt = now

		queryItem := `
			INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price, color, size, position, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		for i := range o.Items {
			item := &o.Items[i]
			itemID, err := uuid.NewV4()
			if err != nil {
				return fmt.Errorf("repository: failed to generate order item ID: %w", err)
			}
			item.ID = itemID
			item.OrderID = o.ID
			item.CreatedAt = now

			_, err = tx.Exec(ctx, queryItem,
				item.ID,
				o.ID,
				item.ProductID,
				item.ProductName,
				item.Quantity,
				item.UnitPrice,
				item.Color,
				item.Size,
				i,
				now,
			)
			if err != nil {
				return fmt.Errorf("repository: failed to insert order item for order %s: %w", o.ID, err)
			}
		}

		if o.Owner.User != nil {
			if err := cart.ClearTx(ctx, tx, o.Owner.User.ID); err != nil {
				return err
			}
		}

		return nil
	})
}

func insertAddress(ctx context.Context, tx pgx.Tx, a *ShippingAddress, userID *uuid.UUID, now time.Time) error {
	if a.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate address ID: %w", err)
		}
		a.ID = id
	}

	query := `
		INSERT INTO shipping_addresses (id, user_id, name, phone, address, city, district, postal_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := tx.Exec(ctx, query, a.ID, userID, a.Name, a.Phone, a.Address, a.City, a.District, a.PostalCode, now)
	if err != nil {
		return fmt.Errorf("repository: failed to insert shipping address: %w", err)
	}
	return nil
}

const orderColumns = `id, order_number, user_id, email, shipping_address_id, status, payment_status, payment_method, bkash_number, bkash_reference, bkash_transaction, subtotal, tax, shipping, discount, total, admin_notes, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var userID *uuid.UUID
	var email string
	err := row.Scan(
		&o.ID,
		&o.Number,
		&userID,
		&email,
		&o.ShippingAddressID,
		&o.Status,
		&o.PaymentStatus,
		&o.Payment.Method,
		&o.Payment.BkashNumber,
		&o.Payment.BkashReference,
		&o.Payment.BkashTransaction,
		&o.Amounts.Subtotal,
		&o.Amounts.Tax,
		&o.Amounts.Shipping,
		&o.Amounts.Discount,
		&o.Amounts.Total,
		&o.AdminNotes,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if userID != nil {
		o.Owner = UserOwner(*userID, email)
	} else {
		o.Owner = GuestOwner(email)
	}
	o.Items = make([]Item, 0)
	return &o, nil
}

func (s *postgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, classify(fmt.Errorf("repository: failed to select order by id %s: %w", id, err))
	}

	if err := s.loadItems(ctx, map[uuid.UUID]*Order{o.ID: o}, []uuid.UUID{o.ID}); err != nil {
		return nil, err
	}
	if err := s.loadAddress(ctx, o); err != nil {
		return nil, err
	}

	return o, nil
}

func (s *postgresStore) loadItems(ctx context.Context, byID map[uuid.UUID]*Order, ids []uuid.UUID) error {
	// position pins the creation-time line sequence; created_at alone
	// cannot, since all lines of one order share the insert timestamp.
	query := `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, color, size, created_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`

	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return classify(fmt.Errorf("repository: failed to query order items: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var item Item
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.Color,
			&item.Size,
			&item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	if err = rows.Err(); err != nil {
		return classify(fmt.Errorf("repository: error iterating order items: %w", err))
	}

	return nil
}

func (s *postgresStore) loadAddress(ctx context.Context, o *Order) error {
	query := `
		SELECT id, name, phone, address, city, district, postal_code
		FROM shipping_addresses
		WHERE id = $1
	`

	var a ShippingAddress
	err := s.db.QueryRow(ctx, query, o.ShippingAddressID).Scan(
		&a.ID, &a.Name, &a.Phone, &a.Address, &a.City, &a.District, &a.PostalCode,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Tolerated: the order stays readable without its address.
			log.Warn().Stringer("order_id", o.ID).Msg("repository: shipping address missing for order")
			return nil
		}
		return classify(fmt.Errorf("repository: failed to select shipping address for order %s: %w", o.ID, err))
	}

	o.ShippingAddress = &a
	return nil
}

// Update applies the field changes and the stock adjustments as one
// transaction. The row write runs first: it takes the row lock and, when
// ExpectedStatus is set, acts as the compare-and-set that keeps a racing
// mutation from committing a stale transition. Only a matched row gets
// its adjustments applied.
func (s *postgresStore) Update(ctx context.Context, id uuid.UUID, upd FieldUpdate, adjust []StockAdjustment) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		set := []string{"updated_at = $1"}
		args := []any{time.Now().UTC()}

		if upd.Status != nil {
			args = append(args, string(*upd.Status))
			set = append(set, fmt.Sprintf("status = $%d", len(args)))
		}
		if upd.PaymentStatus != nil {
			args = append(args, string(*upd.PaymentStatus))
			set = append(set, fmt.Sprintf("payment_status = $%d", len(args)))
		}
		if upd.AdminNotes != nil {
			args = append(args, *upd.AdminNotes)
			set = append(set, fmt.Sprintf("admin_notes = $%d", len(args)))
		}

		args = append(args, id)
		query := fmt.Sprintf("UPDATE orders SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))
		if upd.ExpectedStatus != nil {
			args = append(args, string(*upd.ExpectedStatus))
			query += fmt.Sprintf(" AND status = $%d", len(args))
		}

		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("repository: failed to update order %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return staleOrder(ctx, tx, id)
		}

		return applyAdjustments(ctx, tx, adjust)
	})
}

// Delete removes the order (items cascade) and applies the stock
// adjustments in one transaction. A non-nil expect makes the delete
// conditional on the order still being in that status.
func (s *postgresStore) Delete(ctx context.Context, id uuid.UUID, expect *Status, adjust []StockAdjustment) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		query := `DELETE FROM orders WHERE id = $1`
		args := []any{id}
		if expect != nil {
			args = append(args, string(*expect))
			query += ` AND status = $2`
		}

		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("repository: failed to delete order %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return staleOrder(ctx, tx, id)
		}

		return applyAdjustments(ctx, tx, adjust)
	})
}

// staleOrder tells a vanished order apart from one whose status moved
// after the caller read it. The re-read happens inside the same
// transaction, after the conditional write matched nothing.
func staleOrder(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var status Status
	err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("repository: failed to re-read order %s: %w", id, err)
	}
	return fmt.Errorf("order %s is now %s: %w", id, status, ErrInvalidTransition)
}

func (s *postgresStore) List(ctx context.Context, f ListFilter) ([]Order, int, error) {
	where := []string{"TRUE"}
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !f.Admin {
		where = append(where, fmt.Sprintf("(o.user_id = %s OR lower(o.email) = lower(%s))", arg(f.UserID), arg(f.Email)))
	}
	if f.Status != "" {
		where = append(where, "o.status = "+arg(string(f.Status)))
	}
	if f.PaymentMethod != "" {
		where = append(where, "o.payment_method = "+arg(string(f.PaymentMethod)))
	}

	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		p := arg(pattern)
		clauses := []string{
			"o.order_number ILIKE " + p,
			fmt.Sprintf(`EXISTS (
				SELECT 1 FROM order_items oi
				WHERE oi.order_id = o.id AND oi.product_name ILIKE %s)`, p),
			fmt.Sprintf(`EXISTS (
				SELECT 1 FROM shipping_addresses sa
				WHERE sa.id = o.shipping_address_id
				AND (sa.name ILIKE %s OR sa.phone ILIKE %s OR sa.address ILIKE %s OR sa.city ILIKE %s))`, p, p, p, p),
		}
		if f.Admin {
			// Payment references and owner email are searchable by
			// staff only.
			clauses = append(clauses,
				"o.bkash_reference ILIKE "+p,
				"o.bkash_transaction ILIKE "+p,
				"o.email ILIKE "+p,
			)
		}
		where = append(where, "("+strings.Join(clauses, " OR ")+")")
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := "SELECT count(*) FROM orders o WHERE " + whereClause
	if err := s.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, classify(fmt.Errorf("repository: failed to count orders: %w", err))
	}

	offset := (f.Page - 1) * f.Limit
	pageQuery := fmt.Sprintf(
		"SELECT %s FROM orders o WHERE %s ORDER BY o.created_at DESC LIMIT %s OFFSET %s",
		qualifiedOrderColumns, whereClause, arg(f.Limit), arg(offset),
	)

	rows, err := s.db.Query(ctx, pageQuery, args...)
	if err != nil {
		return nil, 0, classify(fmt.Errorf("repository: failed to query orders: %w", err))
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*Order)
	var ids []uuid.UUID
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, classify(fmt.Errorf("repository: error iterating orders: %w", err))
	}

	if len(ids) == 0 {
		return []Order{}, total, nil
	}

	if err := s.loadItems(ctx, byID, ids); err != nil {
		return nil, 0, err
	}

	orders := make([]Order, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, *byID[id])
	}
	return orders, total, nil
}

var qualifiedOrderColumns = "o." + strings.ReplaceAll(orderColumns, ", ", ", o.")
