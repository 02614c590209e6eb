package payment

import (
	"errors"
	"testing"
	"time"
)

func TestTransition(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		from    Status
		to      Status
		changed bool
		err     error
	}{
		{"pending to completed", StatusPending, StatusCompleted, true, nil},
		{"pending to failed", StatusPending, StatusFailed, true, nil},
		{"completed replay", StatusCompleted, StatusCompleted, false, nil},
		{"completed to refunded", StatusCompleted, StatusRefunded, true, nil},
		{"failed to completed", StatusFailed, StatusCompleted, false, ErrInvalidTransition},
		{"refunded to completed", StatusRefunded, StatusCompleted, false, ErrInvalidTransition},
		{"pending to refunded", StatusPending, StatusRefunded, false, ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Payment{Status: tt.from}
			changed, err := p.Transition(tt.to, "", now)
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
			if changed != tt.changed {
				t.Fatalf("expected changed=%v", tt.changed)
			}
			if err != nil && p.Status != tt.from {
				t.Fatalf("status moved on error")
			}
		})
	}
}

func TestNewRejectsUnknownMethod(t *testing.T) {
	if _, err := New("p1", "o1", Method("card"), 100, "USD", time.Now()); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("expected ErrUnsupportedMethod, got %v", err)
	}
}
