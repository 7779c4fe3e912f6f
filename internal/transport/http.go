package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopcore/storefront/internal/auth"
	"github.com/shopcore/storefront/internal/cart"
	"github.com/shopcore/storefront/internal/handler"
	"github.com/shopcore/storefront/internal/order"
	"github.com/shopcore/storefront/internal/product"
)

func NewRouter(pool *pgxpool.Pool) *chi.Mux {
	r := chi.NewRouter()
	r.Use(auth.Middleware(auth.NewSessionResolver(pool)))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	orderStore := order.NewStore(pool)
	orderSvc := order.NewService(orderStore)
	handler.NewOrderHandler(orderSvc).RegisterRoutes(r)

	handler.NewProductHandler(product.NewRepository(pool)).RegisterRoutes(r)
	handler.NewCartHandler(cart.NewRepository(pool)).RegisterRoutes(r)

	return r
}
