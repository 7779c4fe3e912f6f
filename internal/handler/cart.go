package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"

	"github.com/shopcore/storefront/internal/auth"
	"github.com/shopcore/storefront/internal/cart"
)

type addCartItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
	Color     string    `json:"color"`
	Size      string    `json:"size"`
}

type CartHandler struct {
	repo     cart.Repository
	validate *validator.Validate
}

func NewCartHandler(repo cart.Repository) *CartHandler {
	return &CartHandler{
		repo:     repo,
		validate: validator.New(),
	}
}

func (h *CartHandler) RegisterRoutes(router chi.Router) {
	router.Get("/cart", h.handleListCart)
	router.Post("/cart/items", h.handleAddItem)
	router.Delete("/cart/items/{id}", h.handleDeleteItem)
	router.Delete("/cart", h.handleClearCart)
}

// requireUser gates cart endpoints: carts only exist for registered
// users; guests keep theirs client-side.
func requireUser(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	caller := auth.FromContext(r.Context())
	if caller == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return nil, false
	}
	return caller, true
}

func (h *CartHandler) handleListCart(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireUser(w, r)
	if !ok {
		return
	}

	items, err := h.repo.ListByUser(r.Context(), caller.UserID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, items)
}

func (h *CartHandler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req addCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "validation_error", "invalid request payload: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithValidationError(w, err)
		return
	}

	item := &cart.Item{
		UserID:    caller.UserID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Color:     req.Color,
		Size:      req.Size,
	}
	if err := h.repo.Upsert(r.Context(), item); err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, item)
}

func (h *CartHandler) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireUser(w, r)
	if !ok {
		return
	}

	itemID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "validation_error", "invalid cart item id")
		return
	}

	if err := h.repo.Delete(r.Context(), caller.UserID, itemID); err != nil {
		respondWithServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.repo.Clear(r.Context(), caller.UserID); err != nil {
		respondWithServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
