package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MStockReservations       MetricKey = "stock_reservations_total"
	MReconcileActions        MetricKey = "reconcile_actions_total"
)

// MetricSpec describes how a MetricKey is registered with a metrics backend.
type MetricSpec struct {
	Key       MetricKey
	Help      string
	Labels    []string
	Histogram bool
}

// Catalog lists every instrument the service emits.
var Catalog = []MetricSpec{
	{Key: MUsecaseRequests, Help: "Total number of use case invocations.", Labels: []string{"use_case", "outcome"}},
	{Key: MUsecaseDuration, Help: "Duration of use case execution in seconds.", Labels: []string{"use_case"}, Histogram: true},
	{Key: MHTTPRequests, Help: "Total number of HTTP requests.", Labels: []string{"method", "route", "status"}},
	{Key: MHTTPRequestDuration, Help: "HTTP request latency in seconds.", Labels: []string{"method", "route", "status"}, Histogram: true},
	{Key: MExternalRequests, Help: "Calls to external peers.", Labels: []string{"peer", "endpoint", "outcome"}},
	{Key: MExternalRequestDuration, Help: "Latency of calls to external peers in seconds.", Labels: []string{"peer", "endpoint"}, Histogram: true},
	{Key: MStockReservations, Help: "Stock ledger operations by outcome.", Labels: []string{"op", "outcome"}},
	{Key: MReconcileActions, Help: "Corrective actions taken by the reconciliation sweep.", Labels: []string{"action"}},
}
