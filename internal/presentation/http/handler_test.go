package httppresentation

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	appcart "github.com/Zhima-Mochi/pharmacy-checkout/internal/application/cart"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/application/checkout"
	appinv "github.com/Zhima-Mochi/pharmacy-checkout/internal/application/inventory"
	apppay "github.com/Zhima-Mochi/pharmacy-checkout/internal/application/payment"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/infrastructure/id"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/infrastructure/paypal"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
)

const webhookSecret = "whsec-test"

type testServer struct {
	srv      *httptest.Server
	auth     *Authenticator
	webhooks *paypal.WebhookVerifier
	stock    *memory.LedgerStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	tel := observability.Nop()
	ids := id.UUIDs{}

	cat := memory.NewCatalog()
	cat.PutPharmacy(catalog.Pharmacy{ID: "p1", Name: "Central", Verified: true, Status: catalog.PharmacyActive})
	cat.PutMedicine(catalog.Medicine{ID: "m1", PharmacyID: "p1", Name: "Amoxicillin", Price: 1250, Currency: "USD"})
	cat.PutMedicine(catalog.Medicine{ID: "m2", PharmacyID: "p1", Name: "Ibuprofen", Price: 300, Currency: "USD"})
	for _, u := range []string{"u1", "u2"} {
		cat.PutUser(catalog.User{ID: u, Email: u + "@example.com", EmailVerified: true})
	}

	stock := memory.NewLedgerStore(time.Now)
	stock.PutBatch(dominv.Batch{PharmacyID: "p1", MedicineID: "m1", BatchNum: "b1", ExpiryDate: time.Now().AddDate(1, 0, 0), Quantity: 3})
	stock.PutBatch(dominv.Batch{PharmacyID: "p1", MedicineID: "m2", BatchNum: "b2", ExpiryDate: time.Now().AddDate(1, 0, 0), Quantity: 10})
	ledger := appinv.NewLedger(stock, ids, tel)

	carts := memory.NewCartRepository()
	manager := appcart.NewManager(carts, cat, ledger, ids, nil, appcart.Config{}, tel)
	payments := memory.NewPaymentRepository()
	processor := apppay.NewProcessor(payments, memory.NewSandboxGateway(), memory.NewIdempotencyStore(time.Now), ids, nil, tel)
	orch := checkout.New(checkout.Dependencies{
		Carts:     carts,
		Orders:    memory.NewOrderRepository(),
		Ledger:    ledger,
		Payments:  processor,
		Catalog:   cat,
		Directory: cat,
		Claims:    memory.NewIdempotencyStore(time.Now),
		IDs:       ids,
		Numbers:   id.NewOrderNumbers(),
	}, checkout.Config{}, tel)

	ts := &testServer{
		auth:     NewAuthenticator("jwt-test-secret"),
		webhooks: paypal.NewWebhookVerifier(webhookSecret),
		stock:    stock,
	}
	h := NewHandler(Deps{
		Carts:    manager,
		Checkout: orch,
		Webhooks: ts.webhooks,
		Auth:     ts.auth,
	}, tel)
	ts.srv = httptest.NewServer(h.Router())
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := ts.auth.Issue(userID, role, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

var billingBody = map[string]any{"name": "Ada", "line1": "1 Main St", "city": "Springfield", "country": "US"}

func TestHealthIsPublicAndCartsRequireToken(t *testing.T) {
	ts := newTestServer(t)

	if status, body := ts.do(t, http.MethodGet, "/health", "", nil, nil); status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", status, body)
	}
	status, body := ts.do(t, http.MethodGet, "/carts/p1", "", nil, nil)
	if status != http.StatusUnauthorized || body["error"] != "unauthorized" {
		t.Fatalf("missing token = %d %v", status, body)
	}
	status, _ = ts.do(t, http.MethodGet, "/carts/p1", "not-a-jwt", nil, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", status)
	}
}

func TestCartLifecycle(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "u1", "")

	status, body := ts.do(t, http.MethodGet, "/carts/p1", tok, nil, nil)
	if status != http.StatusNotFound || body["error"] != "cart_not_found" {
		t.Fatalf("empty cart = %d %v", status, body)
	}

	status, body = ts.do(t, http.MethodPost, "/carts/p1/items", tok, map[string]any{"medicine_id": "m2", "quantity": 2}, nil)
	if status != http.StatusOK {
		t.Fatalf("add item = %d %v", status, body)
	}
	if body["total_items"] != float64(2) || body["total_amount"] != "6.00" {
		t.Fatalf("cart totals = %v / %v", body["total_items"], body["total_amount"])
	}
	itemID := body["items"].([]any)[0].(map[string]any)["item_id"].(string)

	status, body = ts.do(t, http.MethodPatch, "/cart-items/"+itemID, tok, map[string]any{"quantity": 9}, nil)
	if status != http.StatusBadRequest || body["error"] != "validation_error" || body["cap"] == nil {
		t.Fatalf("over cap = %d %v", status, body)
	}

	status, body = ts.do(t, http.MethodPatch, "/cart-items/"+itemID, ts.token(t, "u2", ""), map[string]any{"quantity": 1}, nil)
	if status != http.StatusNotFound {
		t.Fatalf("foreign item update = %d %v", status, body)
	}

	status, body = ts.do(t, http.MethodGet, "/carts/p1/recommendations", tok, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("recommendations = %d %v", status, body)
	}
	if items := body["items"].([]any); len(items) != 1 || items[0].(map[string]any)["medicine_id"] != "m1" {
		t.Fatalf("recommendations = %v", items)
	}

	status, body = ts.do(t, http.MethodDelete, "/cart-items/"+itemID, tok, nil, nil)
	if status != http.StatusOK || body["total_items"] != float64(0) {
		t.Fatalf("remove item = %d %v", status, body)
	}
}

func TestAddItemBeyondStockReportsUnavailableItems(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodPost, "/carts/p1/items", ts.token(t, "u1", ""), map[string]any{"medicine_id": "m1", "quantity": 4}, nil)
	if status != http.StatusConflict || body["error"] != "insufficient_stock" {
		t.Fatalf("add = %d %v", status, body)
	}
	items, ok := body["unavailable_items"].([]any)
	if !ok || len(items) != 1 || items[0].(map[string]any)["available_quantity"] != float64(3) {
		t.Fatalf("unavailable_items = %v", body["unavailable_items"])
	}
}

func TestCashCheckoutAndReplay(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "u1", "")
	ts.do(t, http.MethodPost, "/carts/p1/items", tok, map[string]any{"medicine_id": "m1", "quantity": 2}, nil)

	req := map[string]any{"payment_method": "cash", "billing_address": billingBody}
	headers := map[string]string{"Idempotency-Key": "k-1"}
	status, body := ts.do(t, http.MethodPost, "/checkout/p1", tok, req, headers)
	if status != http.StatusOK {
		t.Fatalf("checkout = %d %v", status, body)
	}
	if body["status"] != "processing" || body["payment_status"] != "completed" || body["total_amount"] != "25.00" {
		t.Fatalf("checkout body = %v", body)
	}
	orderID := body["order_id"].(string)

	status, body = ts.do(t, http.MethodPost, "/checkout/p1", tok, req, headers)
	if status != http.StatusOK || body["order_id"] != orderID || body["replayed"] != true {
		t.Fatalf("replay = %d %v", status, body)
	}

	if status, body = ts.do(t, http.MethodGet, "/orders/"+orderID, tok, nil, nil); status != http.StatusOK || body["status"] != "processing" {
		t.Fatalf("get order = %d %v", status, body)
	}
	if status, body = ts.do(t, http.MethodGet, "/orders/"+orderID+"/payment-status", tok, nil, nil); status != http.StatusOK || body["status"] != "completed" || body["method"] != "cash" {
		t.Fatalf("payment status = %d %v", status, body)
	}
	if status, _ = ts.do(t, http.MethodGet, "/orders/"+orderID, ts.token(t, "u2", ""), nil, nil); status != http.StatusNotFound {
		t.Fatalf("foreign order lookup = %d", status)
	}
	if status, body = ts.do(t, http.MethodPost, "/orders/"+orderID+"/cancel", tok, nil, nil); status != http.StatusConflict || body["error"] != "invalid_transition" {
		t.Fatalf("cancel processing order = %d %v", status, body)
	}

	if status, body = ts.do(t, http.MethodPost, "/orders/"+orderID+"/complete", tok, nil, nil); status != http.StatusForbidden || body["error"] != "forbidden" {
		t.Fatalf("complete by customer = %d %v", status, body)
	}
	status, body = ts.do(t, http.MethodPost, "/orders/"+orderID+"/complete", ts.token(t, "staff-1", RolePharmacist), nil, nil)
	if status != http.StatusOK || body["status"] != "completed" {
		t.Fatalf("complete by pharmacist = %d %v", status, body)
	}
}

func TestCheckoutValidation(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "u1", "")
	ts.do(t, http.MethodPost, "/carts/p1/items", tok, map[string]any{"medicine_id": "m1", "quantity": 1}, nil)

	tests := []struct {
		name string
		body map[string]any
		want int
		code string
	}{
		{"unknown method", map[string]any{"payment_method": "card", "billing_address": billingBody}, http.StatusBadRequest, "validation_error"},
		{"missing address", map[string]any{"payment_method": "cash"}, http.StatusBadRequest, "validation_error"},
		{"unknown field", map[string]any{"payment_method": "cash", "coupon": "x"}, http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ts.do(t, http.MethodPost, "/checkout/p1", tok, tt.body, nil)
			if status != tt.want || body["error"] != tt.code {
				t.Fatalf("got %d %v, want %d %s", status, body, tt.want, tt.code)
			}
		})
	}

	if status, body := ts.do(t, http.MethodPost, "/checkout/p9", tok, map[string]any{"payment_method": "cash", "billing_address": billingBody}, nil); status != http.StatusNotFound {
		t.Fatalf("checkout without cart = %d %v", status, body)
	}
}

func TestPayPalDeclineCancelsOrder(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "u1", "")
	ts.do(t, http.MethodPost, "/carts/p1/items", tok, map[string]any{"medicine_id": "m1", "quantity": 3}, nil)

	status, body := ts.do(t, http.MethodPost, "/checkout/p1", tok, map[string]any{
		"payment_method": "paypal", "billing_address": billingBody, "payer_id": "PAYER", "payment_id": "DECLINE-1",
	}, nil)
	if status != http.StatusBadRequest || body["error"] != "payment_failed" || body["order_status"] != "cancelled" {
		t.Fatalf("declined checkout = %d %v", status, body)
	}
	if n, _ := ts.stock.Available(t.Context(), "p1", "m1"); n != 3 {
		t.Fatalf("stock after decline = %d, want 3", n)
	}
}

func TestPayPalConfirmAndWebhook(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "u1", "")
	ts.do(t, http.MethodPost, "/carts/p1/items", tok, map[string]any{"medicine_id": "m2", "quantity": 1}, nil)

	status, body := ts.do(t, http.MethodPost, "/checkout/p1", tok, map[string]any{"payment_method": "paypal", "billing_address": billingBody}, nil)
	if status != http.StatusOK || body["status"] != "pending" || body["payment_status"] != "pending" {
		t.Fatalf("paypal checkout = %d %v", status, body)
	}
	orderID := body["order_id"].(string)

	status, body = ts.do(t, http.MethodPost, "/checkout/p1/paypal", tok, map[string]any{"order_id": orderID, "payer_id": "PAYER", "payment_id": "PAY-1"}, nil)
	if status != http.StatusOK || body["status"] != "processing" || body["transaction_id"] != "PAY-1" {
		t.Fatalf("confirm = %d %v", status, body)
	}

	event := []byte(`{"id":"evt-1","transaction_id":"PAY-1","status":"completed"}`)
	if status, _ = ts.doRaw(t, "/payments/webhook", event, "deadbeef"); status != http.StatusUnauthorized {
		t.Fatalf("bad signature = %d", status)
	}
	if status, _ = ts.doRaw(t, "/payments/webhook", event, ts.webhooks.Sign(event)); status != http.StatusOK {
		t.Fatalf("signed webhook = %d", status)
	}
	unknown := []byte(`{"id":"evt-2","transaction_id":"PAY-404","status":"completed"}`)
	if status, body = ts.doRaw(t, "/payments/webhook", unknown, ts.webhooks.Sign(unknown)); status != http.StatusOK || body["status"] != "ignored" {
		t.Fatalf("unknown transaction = %d %v", status, body)
	}
}

func TestWebhookIgnoredResponsesAreIndistinguishable(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "u1", "")
	ts.do(t, http.MethodPost, "/carts/p1/items", tok, map[string]any{"medicine_id": "m2", "quantity": 1}, nil)
	status, body := ts.do(t, http.MethodPost, "/checkout/p1", tok, map[string]any{
		"payment_method": "paypal", "billing_address": billingBody, "payer_id": "PAYER", "payment_id": "PAY-7",
	}, nil)
	if status != http.StatusOK || body["payment_status"] != "completed" {
		t.Fatalf("paypal checkout = %d %v", status, body)
	}

	send := func(raw string) map[string]any {
		t.Helper()
		payload := []byte(raw)
		status, body := ts.doRaw(t, "/payments/webhook", payload, ts.webhooks.Sign(payload))
		if status != http.StatusOK {
			t.Fatalf("webhook %s = %d %v", raw, status, body)
		}
		return body
	}
	rejected := send(`{"id":"evt-a","transaction_id":"PAY-7","status":"failed"}`)
	unknown := send(`{"id":"evt-b","transaction_id":"PAY-404","status":"failed"}`)
	duplicate := send(`{"id":"evt-a","transaction_id":"PAY-7","status":"failed"}`)

	want := map[string]any{"status": "ignored"}
	for name, got := range map[string]map[string]any{"rejected": rejected, "unknown": unknown, "duplicate": duplicate} {
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%s webhook body = %v, want %v", name, got, want)
		}
	}
}

func (ts *testServer) doRaw(t *testing.T, path string, body []byte, signature string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(headerSignature, signature)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)
	if status, body := ts.do(t, http.MethodGet, "/nope", "", nil, nil); status != http.StatusNotFound || body["error"] != "not_found" {
		t.Fatalf("unknown route = %d %v", status, body)
	}
}
