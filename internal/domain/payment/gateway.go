package payment

import (
	"context"
	"errors"
)

var (
	ErrDeclined           = errors.New("payment: declined by gateway")
	ErrGatewayUnavailable = errors.New("payment: gateway unavailable")
)

// VerifyRequest asks the gateway to confirm a client-approved payment.
type VerifyRequest struct {
	PaymentID string
	PayerID   string
	Amount    int64
	Currency  string
}

type Verification struct {
	Approved      bool
	TransactionID string
	State         string
}

// Gateway is the outbound port to the external payment provider.
type Gateway interface {
	Verify(ctx context.Context, req VerifyRequest) (Verification, error)
}
