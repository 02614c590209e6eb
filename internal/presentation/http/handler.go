package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	appcart "github.com/Zhima-Mochi/pharmacy-checkout/internal/application/cart"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/application/checkout"
	apppay "github.com/Zhima-Mochi/pharmacy-checkout/internal/application/payment"
	domcart "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/cart"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/catalog"
	domorder "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "Idempotency-Key"
	headerSignature      = "X-Signature"
	maxBodyBytes         = 1 << 20
)

type CartService interface {
	Get(ctx context.Context, userID, pharmacyID string) (*domcart.Cart, error)
	AddItem(ctx context.Context, in appcart.AddItemInput) (*domcart.Cart, error)
	UpdateQuantity(ctx context.Context, in appcart.UpdateQuantityInput) (*domcart.Cart, error)
	RemoveItem(ctx context.Context, userID, itemID string) (*domcart.Cart, error)
	Clear(ctx context.Context, userID, pharmacyID string) (*domcart.Cart, error)
	Recommendations(ctx context.Context, userID, pharmacyID string, limit int) ([]catalog.Medicine, error)
}

type CheckoutService interface {
	Checkout(ctx context.Context, in checkout.Input) (*checkout.Result, error)
	ConfirmPayPal(ctx context.Context, in checkout.ConfirmInput) (*checkout.Result, error)
	HandlePaymentEvent(ctx context.Context, evt apppay.Event) (*apppay.EventResult, error)
	Order(ctx context.Context, userID, orderID string) (*domorder.Order, error)
	PaymentStatus(ctx context.Context, userID, orderID string) (*dompay.Payment, error)
	CancelOrder(ctx context.Context, userID, orderID string) (*domorder.Order, error)
	CompleteOrder(ctx context.Context, orderID string) (*domorder.Order, error)
}

// WebhookDecoder authenticates and parses gateway webhook bodies.
type WebhookDecoder interface {
	Verify(body []byte, signature string) error
	Decode(body []byte) (apppay.Event, error)
}

type Deps struct {
	Carts    CartService
	Checkout CheckoutService
	Webhooks WebhookDecoder
	Auth     *Authenticator
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

type Handler struct {
	carts    CartService
	checkout CheckoutService
	webhooks WebhookDecoder
	auth     *Authenticator
	metrics  http.Handler
	log      observability.Logger
	observe  func(http.Handler) http.Handler
	requests observability.Counter
	latency  observability.Histogram
}

func NewHandler(deps Deps, tel observability.Observability) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	log := tel.Logger().With(observability.F("component", componentHTTPHandler))
	return &Handler{
		carts:    deps.Carts,
		checkout: deps.Checkout,
		webhooks: deps.Webhooks,
		auth:     deps.Auth,
		metrics:  deps.Metrics,
		log:      log,
		observe: ObservabilityMiddleware(log, func(r *http.Request) string {
			return r.Header.Get(headerRequestID)
		}),
		requests: tel.Metrics().Counter(observability.MHTTPRequests),
		latency:  tel.Metrics().Histogram(observability.MHTTPRequestDuration),
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	h.handle(r, http.MethodGet, "/health", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	h.handle(r, http.MethodPost, "/payments/webhook", h.handleWebhook)

	h.handle(r, http.MethodGet, "/carts/{pharmacyId}", h.handleGetCart, h.withAuth)
	h.handle(r, http.MethodPost, "/carts/{pharmacyId}/items", h.handleAddItem, h.withAuth)
	h.handle(r, http.MethodDelete, "/carts/{pharmacyId}", h.handleClearCart, h.withAuth)
	h.handle(r, http.MethodGet, "/carts/{pharmacyId}/recommendations", h.handleRecommendations, h.withAuth)
	h.handle(r, http.MethodPatch, "/cart-items/{itemId}", h.handleUpdateItem, h.withAuth)
	h.handle(r, http.MethodDelete, "/cart-items/{itemId}", h.handleRemoveItem, h.withAuth)

	h.handle(r, http.MethodPost, "/checkout/{pharmacyId}", h.handleCheckout, h.withAuth)
	h.handle(r, http.MethodPost, "/checkout/{pharmacyId}/paypal", h.handleConfirmPayPal, h.withAuth)

	h.handle(r, http.MethodGet, "/orders/{orderId}", h.handleGetOrder, h.withAuth)
	h.handle(r, http.MethodGet, "/orders/{orderId}/payment-status", h.handlePaymentStatus, h.withAuth)
	h.handle(r, http.MethodPost, "/orders/{orderId}/cancel", h.handleCancelOrder, h.withAuth)
	h.handle(r, http.MethodPost, "/orders/{orderId}/complete", h.handleCompleteOrder, h.withAuth, h.pharmacistOnly)

	return r
}

// handle wires one route with the middleware chain:
// Trace → Request Logger → Access Log → Metrics → guards → Handler.
func (h *Handler) handle(r chi.Router, method, route string, fn http.HandlerFunc, guards ...func(http.Handler) http.Handler) {
	var next http.Handler = fn
	for i := len(guards) - 1; i >= 0; i-- {
		next = guards[i](next)
	}
	wrapped := h.withTrace(h.observe(h.withAccessLog(h.withHTTPMetrics(next))))
	r.Method(method, route, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		wrapped.ServeHTTP(w, req.WithContext(contextWithRoute(req.Context(), route)))
	}))
}

func (h *Handler) pharmacistOnly(next http.Handler) http.Handler {
	return h.requireRole(RolePharmacist, next)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeJSON reads a JSON body. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
