package memory

import (
	"context"
	"strings"
	"sync"

	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/payment"
)

// SandboxGateway approves every payment except those whose id starts with "DECLINE".
// Used when no gateway URL is configured.
type SandboxGateway struct {
	mu       sync.Mutex
	verified map[string]domain.VerifyRequest
}

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{verified: make(map[string]domain.VerifyRequest)}
}

func (g *SandboxGateway) Verify(ctx context.Context, req domain.VerifyRequest) (domain.Verification, error) {
	if err := ctx.Err(); err != nil {
		return domain.Verification{}, err
	}
	if strings.HasPrefix(req.PaymentID, "DECLINE") {
		return domain.Verification{Approved: false, State: "failed"}, nil
	}
	g.mu.Lock()
	g.verified[req.PaymentID] = req
	g.mu.Unlock()
	return domain.Verification{Approved: true, TransactionID: req.PaymentID, State: "approved"}, nil
}
