package memory

import (
	"context"
	"sync"

	"github.com/Zhima-Mochi/pharmacy-checkout/internal/application/notification"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability/logctx"
)

// Notifier logs notifications and keeps them for inspection. Used when no broker is configured.
type Notifier struct {
	mu   sync.Mutex
	sent []notification.Message
	log  observability.Logger
}

func NewNotifier(logger observability.Logger) *Notifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Notifier{log: logger}
}

func (n *Notifier) Notify(ctx context.Context, m notification.Message) error {
	n.mu.Lock()
	n.sent = append(n.sent, m)
	n.mu.Unlock()

	logctx.FromOr(ctx, n.log).Info("notification_sent",
		observability.F("kind", string(m.Kind)),
		observability.F("order_id", m.OrderID),
		observability.F("user_id", m.UserID),
	)
	return nil
}

func (n *Notifier) Sent() []notification.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.Message(nil), n.sent...)
}
