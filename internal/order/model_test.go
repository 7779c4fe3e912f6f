package order_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopcore/storefront/internal/order"
)

func TestStatus(t *testing.T) {
	assert.True(t, order.StatusPending.Valid())
	assert.False(t, order.Status("LOST").Valid())

	assert.True(t, order.StatusPending.Active())
	assert.True(t, order.StatusShipped.Active())
	assert.False(t, order.StatusCancelled.Active())

	assert.True(t, order.StatusPending.Cancellable())
	assert.True(t, order.StatusConfirmed.Cancellable())
	assert.False(t, order.StatusShipped.Cancellable())
	assert.False(t, order.StatusDelivered.Cancellable())
	assert.False(t, order.StatusCancelled.Cancellable())

	assert.True(t, order.StatusPending.SelfDeletable())
	assert.False(t, order.StatusConfirmed.SelfDeletable())
}

func TestPaymentMethod_Valid(t *testing.T) {
	assert.True(t, order.PaymentCashOnDelivery.Valid())
	assert.True(t, order.PaymentBkash.Valid())
	assert.False(t, order.PaymentMethod("CHEQUE").Valid())
	assert.False(t, order.PaymentMethod("").Valid())
}

func TestPaymentDetails_Validate(t *testing.T) {
	tests := []struct {
		name    string
		details order.PaymentDetails
		wantErr bool
	}{
		{
			name:    "cash_on_delivery_needs_nothing",
			details: order.PaymentDetails{Method: order.PaymentCashOnDelivery},
		},
		{
			name: "bkash_complete",
			details: order.PaymentDetails{
				Method:         order.PaymentBkash,
				BkashNumber:    "01700000001",
				BkashReference: "TX12345",
			},
		},
		{
			name:    "bkash_missing_number",
			details: order.PaymentDetails{Method: order.PaymentBkash, BkashReference: "TX12345"},
			wantErr: true,
		},
		{
			name:    "bkash_missing_reference",
			details: order.PaymentDetails{Method: order.PaymentBkash, BkashNumber: "01700000001"},
			wantErr: true,
		},
		{
			name:    "unknown_method",
			details: order.PaymentDetails{Method: "CHEQUE"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.details.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, order.ErrValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPaymentDetails_InitialStatuses(t *testing.T) {
	st, ps := order.PaymentDetails{Method: order.PaymentCashOnDelivery}.InitialStatuses()
	assert.Equal(t, order.StatusPending, st)
	assert.Equal(t, order.PaymentPending, ps)

	st, ps = order.PaymentDetails{Method: order.PaymentBkash}.InitialStatuses()
	assert.Equal(t, order.StatusConfirmed, st)
	assert.Equal(t, order.PaymentProcessing, ps)
}

func TestOwner(t *testing.T) {
	user := order.UserOwner(userID, "customer@example.com")
	assert.NoError(t, user.Validate())
	assert.False(t, user.IsGuest())
	assert.Equal(t, "customer@example.com", user.Email())

	guest := order.GuestOwner("guest@example.com")
	assert.NoError(t, guest.Validate())
	assert.True(t, guest.IsGuest())
	assert.Equal(t, "guest@example.com", guest.Email())

	var empty order.Owner
	assert.Error(t, empty.Validate())
	assert.Empty(t, empty.Email())

	both := order.Owner{User: user.User, Guest: guest.Guest}
	assert.Error(t, both.Validate())

	noEmail := order.GuestOwner("")
	assert.Error(t, noEmail.Validate())
}

func TestShippingAddress_Complete(t *testing.T) {
	full := order.ShippingAddress{Name: "A", Phone: "B", Address: "C", City: "D"}
	assert.True(t, full.Complete())

	assert.False(t, order.ShippingAddress{}.Complete())
	assert.False(t, order.ShippingAddress{Name: "A", Phone: "B", Address: "C"}.Complete())
}

func TestNewNumber(t *testing.T) {
	number := order.NewNumber()
	assert.True(t, strings.HasPrefix(number, "ORD-"), number)
	assert.Len(t, strings.Split(number, "-"), 3)
}
