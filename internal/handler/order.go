package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"

	"github.com/shopcore/storefront/internal/auth"
	"github.com/shopcore/storefront/internal/order"
)

type orderItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64   `json:"unit_price" validate:"gte=0"`
	Color     string    `json:"color"`
	Size      string    `json:"size"`
}

type guestAddressRequest struct {
	Name       string `json:"name" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
	Address    string `json:"address" validate:"required"`
	City       string `json:"city" validate:"required"`
	District   string `json:"district"`
	PostalCode string `json:"postal_code"`
}

type createOrderRequest struct {
	Items                []orderItemRequest   `json:"items" validate:"required,min=1,dive"`
	ShippingAddressID    *uuid.UUID           `json:"shipping_address_id"`
	GuestEmail           string               `json:"guest_email" validate:"omitempty,email"`
	GuestShippingAddress *guestAddressRequest `json:"guest_shipping_address"`
	PaymentMethod        string               `json:"payment_method" validate:"required"`
	BkashNumber          string               `json:"bkash_number"`
	BkashReference       string               `json:"bkash_reference"`
	BkashTransaction     string               `json:"bkash_transaction"`
	Subtotal             float64              `json:"subtotal" validate:"gte=0"`
	Tax                  float64              `json:"tax" validate:"gte=0"`
	Shipping             float64              `json:"shipping" validate:"gte=0"`
	Discount             float64              `json:"discount" validate:"gte=0"`
	Total                float64              `json:"total" validate:"gte=0"`
}

type updateOrderRequest struct {
	Action        string     `json:"action"`
	OrderID       *uuid.UUID `json:"order_id"`
	Status        *string    `json:"status"`
	PaymentStatus *string    `json:"payment_status"`
	AdminNotes    *string    `json:"admin_notes"`
}

type orderMessageResponse struct {
	Message string       `json:"message"`
	Order   *order.Order `json:"order,omitempty"`
}

type OrderHandler struct {
	svc      order.Service
	validate *validator.Validate
}

func NewOrderHandler(svc order.Service) *OrderHandler {
	return &OrderHandler{
		svc:      svc,
		validate: validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders", h.handleListOrders)
	router.Patch("/orders", h.handleUpdateCollection)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Patch("/orders/{id}", h.handleUpdateOrder)
	router.Delete("/orders/{id}", h.handleDeleteOrder)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "validation_error", "invalid request payload: "+err.Error())
		return
	}

	if err := h.validate.Struct(req); err != nil {
		respondWithValidationError(w, err)
		return
	}

	input := order.CreateInput{
		Caller:     auth.FromContext(r.Context()),
		GuestEmail: req.GuestEmail,
		Payment: order.PaymentDetails{
			Method:           order.PaymentMethod(req.PaymentMethod),
			BkashNumber:      req.BkashNumber,
			BkashReference:   req.BkashReference,
			BkashTransaction: req.BkashTransaction,
		},
		Amounts: order.Amounts{
			Subtotal: req.Subtotal,
			Tax:      req.Tax,
			Shipping: req.Shipping,
			Discount: req.Discount,
			Total:    req.Total,
		},
	}
	if req.ShippingAddressID != nil {
		input.ShippingAddressID = *req.ShippingAddressID
	}
	if req.GuestShippingAddress != nil {
		input.GuestAddress = &order.ShippingAddress{
			Name:       req.GuestShippingAddress.Name,
			Phone:      req.GuestShippingAddress.Phone,
			Address:    req.GuestShippingAddress.Address,
			City:       req.GuestShippingAddress.City,
			District:   req.GuestShippingAddress.District,
			PostalCode: req.GuestShippingAddress.PostalCode,
		}
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, order.ItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Color:     item.Color,
			Size:      item.Size,
		})
	}

	created, err := h.svc.Create(r.Context(), input)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	caller := auth.FromContext(r.Context())

	q := order.ListQuery{
		Search:        r.URL.Query().Get("search"),
		Status:        r.URL.Query().Get("status"),
		PaymentMethod: r.URL.Query().Get("paymentMethod"),
	}
	q.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	q.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))

	page, err := h.svc.List(r.Context(), caller, q)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, page)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	o, err := h.svc.Get(r.Context(), auth.FromContext(r.Context()), id)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req updateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "validation_error", "invalid request payload: "+err.Error())
		return
	}

	h.applyUpdate(w, r, id, req)
}

// handleUpdateCollection is the admin's alternate update path: same
// semantics as PATCH /orders/{id}, with the order id in the body.
func (h *OrderHandler) handleUpdateCollection(w http.ResponseWriter, r *http.Request) {
	var req updateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "validation_error", "invalid request payload: "+err.Error())
		return
	}
	if req.OrderID == nil {
		respondWithError(w, http.StatusBadRequest, "validation_error", "order_id is required")
		return
	}

	h.applyUpdate(w, r, *req.OrderID, req)
}

func (h *OrderHandler) applyUpdate(w http.ResponseWriter, r *http.Request, id uuid.UUID, req updateOrderRequest) {
	caller := auth.FromContext(r.Context())

	if req.Action == "cancel" {
		o, err := h.svc.Cancel(r.Context(), caller, id)
		if err != nil {
			respondWithServiceError(w, err)
			return
		}
		respondWithJSON(w, http.StatusOK, orderMessageResponse{
			Message: "order cancelled, reserved stock restored",
			Order:   o,
		})
		return
	}
	if req.Action != "" {
		respondWithError(w, http.StatusBadRequest, "validation_error", "unknown action "+strconv.Quote(req.Action))
		return
	}

	upd := order.AdminUpdate{AdminNotes: req.AdminNotes}
	if req.Status != nil {
		st := order.Status(*req.Status)
		upd.Status = &st
	}
	if req.PaymentStatus != nil {
		ps := order.PaymentStatus(*req.PaymentStatus)
		upd.PaymentStatus = &ps
	}

	o, err := h.svc.AdminUpdate(r.Context(), caller, id, upd)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), auth.FromContext(r.Context()), id); err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, orderMessageResponse{
		Message: "order deleted, any stock it still reserved was restored",
	})
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "validation_error", "invalid order id")
		return uuid.Nil, false
	}
	return id, true
}
