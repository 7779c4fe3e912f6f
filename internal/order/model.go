package order

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether the order still holds its reserved stock.
func (s Status) Active() bool {
	return s != StatusCancelled
}

// Self-service gates. Admin status edits are not gated by these: an
// admin may move an order between any two statuses, with the inventory
// reconciliation that implies.
var (
	cancellableFrom   = map[Status]bool{StatusPending: true, StatusConfirmed: true}
	selfDeletableFrom = map[Status]bool{StatusPending: true}
)

func (s Status) Cancellable() bool {
	return cancellableFrom[s]
}

func (s Status) SelfDeletable() bool {
	return selfDeletableFrom[s]
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
	PaymentFailed     PaymentStatus = "FAILED"
)

func (s PaymentStatus) String() string {
	return string(s)
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentProcessing, PaymentCompleted, PaymentRefunded, PaymentFailed:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
	PaymentBkash          PaymentMethod = "BKASH"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCashOnDelivery, PaymentBkash:
		return true
	}
	return false
}

// PaymentDetails carries the chosen method and its method-specific
// fields. Gateway verification is not this service's concern; bKash
// fields are captured and passed through.
type PaymentDetails struct {
	Method           PaymentMethod `json:"method"`
	BkashNumber      string        `json:"bkash_number,omitempty"`
	BkashReference   string        `json:"bkash_reference,omitempty"`
	BkashTransaction string        `json:"bkash_transaction,omitempty"`
}

type paymentField struct {
	name  string
	value func(PaymentDetails) string
}

type paymentContract struct {
	required      []paymentField
	initialStatus Status
	initialPay    PaymentStatus
}

// One contract per method: which fields it requires and which statuses
// a fresh order starts in. Cash on delivery awaits confirmation; every
// other method is confirmed immediately with payment in processing.
var paymentContracts = map[PaymentMethod]paymentContract{
	PaymentCashOnDelivery: {
		initialStatus: StatusPending,
		initialPay:    PaymentPending,
	},
	PaymentBkash: {
		required: []paymentField{
			{"bkash_number", func(d PaymentDetails) string { return d.BkashNumber }},
			{"bkash_reference", func(d PaymentDetails) string { return d.BkashReference }},
		},
		initialStatus: StatusConfirmed,
		initialPay:    PaymentProcessing,
	},
}

func (d PaymentDetails) Validate() error {
	contract, ok := paymentContracts[d.Method]
	if !ok {
		return fmt.Errorf("unknown payment method %q: %w", d.Method, ErrValidation)
	}
	for _, f := range contract.required {
		if f.value(d) == "" {
			return fmt.Errorf("%s is required for payment method %s: %w", f.name, d.Method, ErrValidation)
		}
	}
	return nil
}

// InitialStatuses returns the status pair a newly created order starts
// with for this payment method. Validate must have passed.
func (d PaymentDetails) InitialStatuses() (Status, PaymentStatus) {
	contract := paymentContracts[d.Method]
	return contract.initialStatus, contract.initialPay
}

type ShippingAddress struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Address    string    `json:"address"`
	City       string    `json:"city"`
	District   string    `json:"district,omitempty"`
	PostalCode string    `json:"postal_code,omitempty"`
}

// Complete reports whether the address carries everything needed to
// ship to it.
func (a ShippingAddress) Complete() bool {
	return a.Name != "" && a.Phone != "" && a.Address != "" && a.City != ""
}

type UserRef struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

type GuestRef struct {
	Email string `json:"email"`
}

// Owner identifies who placed the order: a registered user or a guest.
// Exactly one side is set.
type Owner struct {
	User  *UserRef  `json:"user,omitempty"`
	Guest *GuestRef `json:"guest,omitempty"`
}

func UserOwner(id uuid.UUID, email string) Owner {
	return Owner{User: &UserRef{ID: id, Email: email}}
}

func GuestOwner(email string) Owner {
	return Owner{Guest: &GuestRef{Email: email}}
}

func (o Owner) IsGuest() bool {
	return o.Guest != nil
}

// Email returns the contact email regardless of which side is set.
func (o Owner) Email() string {
	if o.User != nil {
		return o.User.Email
	}
	if o.Guest != nil {
		return o.Guest.Email
	}
	return ""
}

func (o Owner) Validate() error {
	switch {
	case o.User == nil && o.Guest == nil:
		return fmt.Errorf("order owner is missing: %w", ErrValidation)
	case o.User != nil && o.Guest != nil:
		return fmt.Errorf("order owner cannot be both a user and a guest: %w", ErrValidation)
	case o.Guest != nil && o.Guest.Email == "":
		return fmt.Errorf("guest email is required: %w", ErrValidation)
	}
	return nil
}

// Item is one product line within an order, captured at creation and
// never mutated afterwards.
type Item struct {
	ID          uuid.UUID `json:"id"`
	OrderID     uuid.UUID `json:"order_id"`
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	UnitPrice   float64   `json:"unit_price"`
	Color       string    `json:"color,omitempty"`
	Size        string    `json:"size,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Amounts are the monetary totals computed at checkout. They are not
// recomputed on later edits.
type Amounts struct {
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Shipping float64 `json:"shipping"`
	Discount float64 `json:"discount"`
	Total    float64 `json:"total"`
}

type Order struct {
	ID                uuid.UUID        `json:"id"`
	Number            string           `json:"number"`
	Owner             Owner            `json:"owner"`
	Status            Status           `json:"status"`
	PaymentStatus     PaymentStatus    `json:"payment_status"`
	Payment           PaymentDetails   `json:"payment"`
	Items             []Item           `json:"items"`
	Amounts           Amounts          `json:"amounts"`
	ShippingAddressID uuid.UUID        `json:"shipping_address_id"`
	ShippingAddress   *ShippingAddress `json:"shipping_address,omitempty"`
	AdminNotes        string           `json:"admin_notes,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// NewNumber generates a human-readable order number: time-based prefix
// plus a random suffix. Collisions are treated as astronomically
// unlikely and not separately handled.
func NewNumber() string {
	return fmt.Sprintf("ORD-%d-%04d", time.Now().UnixMilli(), rand.IntN(10000))
}
