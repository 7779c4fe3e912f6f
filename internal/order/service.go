package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shopcore/storefront/internal/auth"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
	UnitPrice float64
	Color     string
	Size      string
}

// CreateInput is everything checkout hands the engine. Caller is nil
// for guest checkout, in which case the guest email and inline address
// stand in for the account and its saved address.
type CreateInput struct {
	Caller            *auth.Identity
	Items             []ItemInput
	ShippingAddressID uuid.UUID
	GuestEmail        string
	GuestAddress      *ShippingAddress
	Payment           PaymentDetails
	Amounts           Amounts
}

// AdminUpdate carries the admin-editable fields; nil means unchanged.
type AdminUpdate struct {
	Status        *Status
	PaymentStatus *PaymentStatus
	AdminNotes    *string
}

type ListQuery struct {
	Search        string
	Status        string
	PaymentMethod string
	Page          int
	Limit         int
}

type Page struct {
	Orders     []Order `json:"orders"`
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	Total      int     `json:"total"`
	TotalPages int     `json:"total_pages"`
}

type Service interface {
	Create(ctx context.Context, input CreateInput) (*Order, error)
	Get(ctx context.Context, caller *auth.Identity, id uuid.UUID) (*Order, error)
	List(ctx context.Context, caller *auth.Identity, q ListQuery) (*Page, error)
	Cancel(ctx context.Context, caller *auth.Identity, id uuid.UUID) (*Order, error)
	AdminUpdate(ctx context.Context, caller *auth.Identity, id uuid.UUID, upd AdminUpdate) (*Order, error)
	Delete(ctx context.Context, caller *auth.Identity, id uuid.UUID) error
}

type service struct {
	store Store
}

func NewService(store Store) Service {
	return &service{store: store}
}

func (s *service) Create(ctx context.Context, input CreateInput) (*Order, error) {
	if len(input.Items) == 0 {
		return nil, fmt.Errorf("order must contain at least one item: %w", ErrValidation)
	}
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("quantity for product %s must be greater than zero: %w", item.ProductID, ErrValidation)
		}
		if item.ProductID == uuid.Nil {
			return nil, fmt.Errorf("product id is required on every item: %w", ErrValidation)
		}
	}
	if err := input.Payment.Validate(); err != nil {
		return nil, err
	}

	o := &Order{
		Number:  NewNumber(),
		Payment: input.Payment,
		Amounts: input.Amounts,
	}
	o.Status, o.PaymentStatus = input.Payment.InitialStatuses()

	if input.Caller != nil {
		if input.ShippingAddressID == uuid.Nil {
			return nil, fmt.Errorf("shipping address is required: %w", ErrValidation)
		}
		o.Owner = UserOwner(input.Caller.UserID, input.Caller.Email)
		o.ShippingAddressID = input.ShippingAddressID
	} else {
		if input.GuestEmail == "" {
			return nil, fmt.Errorf("guest email is required: %w", ErrValidation)
		}
		if input.GuestAddress == nil || !input.GuestAddress.Complete() {
			return nil, fmt.Errorf("a complete guest shipping address is required: %w", ErrValidation)
		}
		o.Owner = GuestOwner(input.GuestEmail)
		o.ShippingAddress = input.GuestAddress
	}
	if err := o.Owner.Validate(); err != nil {
		return nil, err
	}

	o.Items = make([]Item, 0, len(input.Items))
	for _, item := range input.Items {
		o.Items = append(o.Items, Item{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Color:     item.Color,
			Size:      item.Size,
		})
	}

	if err := s.store.Create(ctx, o); err != nil {
		log.Error().Err(err).Str("order_number", o.Number).Msg("service: failed to create order")
		return nil, err
	}

	log.Info().
		Stringer("order_id", o.ID).
		Str("order_number", o.Number).
		Str("payment_method", string(o.Payment.Method)).
		Bool("guest", o.Owner.IsGuest()).
		Msg("service: order created")

	return o, nil
}

// visibleTo implements the ownership check. Deliberately indistinct
// from "does not exist": callers outside the order see ErrOrderNotFound,
// never a forbidden error, so probing cannot confirm an order id.
func visibleTo(o *Order, caller *auth.Identity) bool {
	if caller == nil {
		return false
	}
	if caller.Admin {
		return true
	}
	if o.Owner.User != nil && o.Owner.User.ID == caller.UserID {
		return true
	}
	return o.Owner.Guest != nil && strings.EqualFold(o.Owner.Guest.Email, caller.Email)
}

func (s *service) getVisible(ctx context.Context, caller *auth.Identity, id uuid.UUID) (*Order, error) {
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visibleTo(o, caller) {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *service) Get(ctx context.Context, caller *auth.Identity, id uuid.UUID) (*Order, error) {
	if caller == nil {
		return nil, ErrUnauthorized
	}
	return s.getVisible(ctx, caller, id)
}

func (s *service) List(ctx context.Context, caller *auth.Identity, q ListQuery) (*Page, error) {
	if caller == nil {
		return nil, ErrUnauthorized
	}

	f := ListFilter{
		Admin:  caller.Admin,
		UserID: caller.UserID,
		Email:  caller.Email,
		Search: strings.TrimSpace(q.Search),
		Page:   q.Page,
		Limit:  q.Limit,
	}

	if q.Status != "" {
		st := Status(q.Status)
		if !st.Valid() {
			return nil, fmt.Errorf("unknown status filter %q: %w", q.Status, ErrValidation)
		}
		f.Status = st
	}
	if q.PaymentMethod != "" {
		pm := PaymentMethod(q.PaymentMethod)
		if !pm.Valid() {
			return nil, fmt.Errorf("unknown payment method filter %q: %w", q.PaymentMethod, ErrValidation)
		}
		f.PaymentMethod = pm
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageLimit
	}
	if f.Limit > maxPageLimit {
		f.Limit = maxPageLimit
	}

	orders, total, err := s.store.List(ctx, f)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list orders")
		return nil, err
	}

	totalPages := (total + f.Limit - 1) / f.Limit

	return &Page{
		Orders:     orders,
		Page:       f.Page,
		Limit:      f.Limit,
		Total:      total,
		TotalPages: totalPages,
	}, nil
}

// Cancel releases every line's stock and moves the order to CANCELLED
// in one transaction. Only pending and confirmed orders qualify.
func (s *service) Cancel(ctx context.Context, caller *auth.Identity, id uuid.UUID) (*Order, error) {
	if caller == nil {
		return nil, ErrUnauthorized
	}

	o, err := s.getVisible(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	if !o.Status.Cancellable() {
		return nil, fmt.Errorf("only %s or %s orders can be cancelled (current status %s): %w",
			StatusPending, StatusConfirmed, o.Status, ErrInvalidTransition)
	}

	newStatus := StatusCancelled
	newPayment := PaymentFailed
	if o.PaymentStatus == PaymentCompleted {
		newPayment = PaymentRefunded
	}

	// Conditional on the status just read: if a concurrent mutation
	// moved the order first, this write matches nothing and the stock
	// is not released a second time.
	seen := o.Status
	upd := FieldUpdate{Status: &newStatus, PaymentStatus: &newPayment, ExpectedStatus: &seen}
	if err := s.store.Update(ctx, id, upd, releaseAll(o)); err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to cancel order")
		return nil, err
	}

	log.Info().
		Stringer("order_id", id).
		Str("order_number", o.Number).
		Str("payment_status", string(newPayment)).
		Msg("service: order cancelled, stock restored")

	o.Status = newStatus
	o.PaymentStatus = newPayment
	return o, nil
}

// AdminUpdate edits status, payment status, and notes. Changing the
// order status is what reconciles inventory: entering CANCELLED
// releases every line, leaving CANCELLED re-deducts every line, and
// any other move touches no stock. Payment status and notes alone
// never touch stock.
func (s *service) AdminUpdate(ctx context.Context, caller *auth.Identity, id uuid.UUID, upd AdminUpdate) (*Order, error) {
	if caller == nil || !caller.Admin {
		return nil, ErrUnauthorized
	}

	if upd.Status == nil && upd.PaymentStatus == nil && upd.AdminNotes == nil {
		return nil, fmt.Errorf("nothing to update: %w", ErrValidation)
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", *upd.Status, ErrValidation)
	}
	if upd.PaymentStatus != nil && !upd.PaymentStatus.Valid() {
		return nil, fmt.Errorf("unknown payment status %q: %w", *upd.PaymentStatus, ErrValidation)
	}

	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := FieldUpdate{PaymentStatus: upd.PaymentStatus, AdminNotes: upd.AdminNotes}
	var adjust []StockAdjustment

	if upd.Status != nil && *upd.Status != o.Status {
		fields.Status = upd.Status
		// The inventory effect was derived from the status just read,
		// so the write is conditional on that status still holding.
		seen := o.Status
		fields.ExpectedStatus = &seen
		switch {
		case *upd.Status == StatusCancelled:
			adjust = releaseAll(o)
		case o.Status == StatusCancelled:
			// Re-activation pulls the units back from the cancelled
			// order's allocation without re-checking availability. If
			// other orders consumed them meanwhile, stock goes
			// negative; that is the accepted trade-off.
			adjust = deductAll(o)
		}
	}

	if err := s.store.Update(ctx, id, fields, adjust); err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to update order")
		return nil, err
	}

	log.Info().
		Stringer("order_id", id).
		Str("old_status", string(o.Status)).
		Bool("stock_adjusted", len(adjust) > 0).
		Msg("service: order updated by admin")

	if fields.Status != nil {
		o.Status = *fields.Status
	}
	if fields.PaymentStatus != nil {
		o.PaymentStatus = *fields.PaymentStatus
	}
	if fields.AdminNotes != nil {
		o.AdminNotes = *fields.AdminNotes
	}
	return o, nil
}

// Delete removes the order entirely. Admins may delete any order;
// customers only their own order while it is still PENDING (anything
// further along should be cancelled, not erased). Stock is restored
// for orders that still hold it.
func (s *service) Delete(ctx context.Context, caller *auth.Identity, id uuid.UUID) error {
	if caller == nil {
		return ErrUnauthorized
	}

	o, err := s.getVisible(ctx, caller, id)
	if err != nil {
		return err
	}

	if !caller.Admin && !o.Status.SelfDeletable() {
		return fmt.Errorf("only %s orders can be deleted, cancel the order instead (current status %s): %w",
			StatusPending, o.Status, ErrInvalidTransition)
	}

	var adjust []StockAdjustment
	if o.Status.Active() {
		adjust = releaseAll(o)
	}

	// The restock decision holds only for the status just read.
	seen := o.Status
	if err := s.store.Delete(ctx, id, &seen, adjust); err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to delete order")
		return err
	}

	log.Info().
		Stringer("order_id", id).
		Str("order_number", o.Number).
		Bool("stock_restored", len(adjust) > 0).
		Msg("service: order deleted")

	return nil
}

func releaseAll(o *Order) []StockAdjustment {
	return adjustments(o, OpRelease)
}

func deductAll(o *Order) []StockAdjustment {
	return adjustments(o, OpDeduct)
}

func adjustments(o *Order, op StockOp) []StockAdjustment {
	adjust := make([]StockAdjustment, 0, len(o.Items))
	for _, item := range o.Items {
		adjust = append(adjust, StockAdjustment{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Op:        op,
		})
	}
	return adjust
}
