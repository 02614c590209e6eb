package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/pharmacy-checkout/internal/application/notification"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability/logctx"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	headerEventType = "event_type"
	amountExponent  = -2
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// payload is the wire form of a notification. Amounts travel as decimal strings in major units.
type payload struct {
	notification.Message
	TotalAmount *decimal.Decimal `json:"total_amount,omitempty"`
}

// Notifier publishes notifications keyed by order id so one order's messages stay ordered.
type Notifier struct {
	producer Producer
	log      observability.Logger
}

func NewNotifier(producer Producer, logger observability.Logger) *Notifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Notifier{producer: producer, log: logger.With(observability.F("component", "kafka_notifier"))}
}

func (n *Notifier) Notify(ctx context.Context, m notification.Message) error {
	body, err := Encode(m)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:     []byte(m.OrderID),
		Value:   body,
		Headers: InjectHeaders(ctx, []kafka.Header{{Key: headerEventType, Value: []byte(m.Kind)}}),
	}
	if err := n.producer.WriteMessages(ctx, msg); err != nil {
		logctx.FromOr(ctx, n.log).Error("notification_dispatch_failed",
			observability.F("order_id", m.OrderID),
			observability.F("kind", string(m.Kind)),
			observability.F("error", err),
		)
		return fmt.Errorf("kafka: write notification: %w", err)
	}
	logctx.FromOr(ctx, n.log).Debug("notification_dispatched", observability.F("order_id", m.OrderID))
	return nil
}

func Encode(m notification.Message) ([]byte, error) {
	p := payload{Message: m}
	if m.TotalAmount != 0 {
		amt := decimal.New(m.TotalAmount, amountExponent)
		p.TotalAmount = &amt
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("kafka: encode notification: %w", err)
	}
	return b, nil
}

func InjectHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}

func ExtractHeaders(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, h := range headers {
		carrier[h.Key] = string(h.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
