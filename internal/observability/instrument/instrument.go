package instrument

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability/logctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const spanPrefix = "UC."

// Instruments holds the RED instruments shared by the use cases of one service.
// Instruments are resolved once at construction, never inside a request.
type Instruments struct {
	tel observability.Observability
	log observability.Logger

	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func New(tel observability.Observability, service string) *Instruments {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return &Instruments{
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", service)),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
	}
}

// Logger returns the service logger, preferring the request-scoped one on ctx.
func (in *Instruments) Logger(ctx context.Context) observability.Logger {
	return logctx.FromOr(ctx, in.log)
}

func (in *Instruments) Metrics() observability.Metrics { return in.tel.Metrics() }

// Start opens a span named UC.<spanName> and returns a Run that must be ended exactly once.
func (in *Instruments) Start(ctx context.Context, useCase, spanName string, attrs ...attribute.KeyValue) (context.Context, *Run) {
	attrs = append(attrs, attribute.String("use_case", useCase))
	ctx, span := in.tel.Tracer().Start(ctx, spanPrefix+spanName, attrs...)
	return ctx, &Run{
		in:      in,
		ctx:     ctx,
		span:    span,
		useCase: useCase,
		log:     in.Logger(ctx).With(observability.F("use_case", useCase)),
		start:   time.Now(),
		outcome: "success",
		status:  "OK",
	}
}

// External records one call to a peer outside the process.
func (in *Instruments) External(peer, endpoint, outcome string, started time.Time) {
	in.extCounter.Add(1, observability.L("peer", peer), observability.L("endpoint", endpoint), observability.L("outcome", outcome))
	in.extHistogram.Observe(time.Since(started).Seconds(), observability.L("peer", peer), observability.L("endpoint", endpoint))
}

// Run tracks a single use case execution.
type Run struct {
	in      *Instruments
	ctx     context.Context
	span    trace.Span
	useCase string
	log     observability.Logger
	start   time.Time
	outcome string
	status  string
	fields  []observability.Field
}

// Fail marks the run as failed with a stable, upper-case status code.
func (r *Run) Fail(status string) {
	r.outcome, r.status = "error", status
}

// Status overrides the status text while keeping the outcome.
func (r *Run) Status(status string) { r.status = status }

func (r *Run) Annotate(fields ...observability.Field) { r.fields = append(r.fields, fields...) }

func (r *Run) Span() trace.Span { return r.span }

func (r *Run) Logger() observability.Logger { return r.log }

func (r *Run) Event(name string, attrs ...attribute.KeyValue) {
	r.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// End closes the span, records RED metrics and writes the use_case_done line.
func (r *Run) End(err error) {
	if err != nil && r.outcome == "success" {
		r.outcome, r.status = "error", "INTERNAL"
	}
	lat := time.Since(r.start).Seconds()

	if err != nil {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, r.status)
	} else {
		r.span.SetStatus(codes.Ok, r.status)
	}
	r.span.End()

	r.in.reqCounter.Add(1, observability.L("use_case", r.useCase), observability.L("outcome", r.outcome))
	r.in.durHistogram.Observe(lat, observability.L("use_case", r.useCase))

	fields := append([]observability.Field{
		observability.F("outcome", r.outcome),
		observability.F("status", r.status),
		observability.F("latency_seconds", lat),
	}, r.fields...)
	if sc := trace.SpanContextFromContext(r.ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}
	r.log.Info("use_case_done", fields...)
}
