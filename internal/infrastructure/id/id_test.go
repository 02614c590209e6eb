package id

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDs(t *testing.T) {
	a, b := UUIDs{}.NewID(), UUIDs{}.NewID()
	if a == b {
		t.Fatal("ids must differ")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("not a uuid: %v", err)
	}
}

func TestOrderNumbersAreOrdered(t *testing.T) {
	g := NewOrderNumbers()
	prev := g.NewOrderNumber()
	for range 100 {
		next := g.NewOrderNumber()
		if !strings.HasPrefix(next, "ORD-") || len(next) != 30 {
			t.Fatalf("bad number %q", next)
		}
		if next <= prev {
			t.Fatalf("%q not after %q", next, prev)
		}
		prev = next
	}
}
