package enums

import "testing"

func TestPaymentStatusTransitionsAreMonotonic(t *testing.T) {
	cases := []struct {
		from, to PaymentStatus
		allowed  bool
	}{
		{PaymentStatusPending, PaymentStatusSuccess, true},
		{PaymentStatusPending, PaymentStatusFailed, true},
		{PaymentStatusPending, PaymentStatusCancelled, true},
		{PaymentStatusSuccess, PaymentStatusRefunded, true},
		{PaymentStatusSuccess, PaymentStatusFailed, false},
		{PaymentStatusFailed, PaymentStatusSuccess, false},
		{PaymentStatusCancelled, PaymentStatusSuccess, false},
		{PaymentStatusCancelled, PaymentStatusRefunded, false},
		{PaymentStatusRefunded, PaymentStatusSuccess, false},
		{PaymentStatusPending, PaymentStatusPending, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.allowed {
			t.Fatalf("%s -> %s: expected %v got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestParseStatuses(t *testing.T) {
	if _, err := ParsePaymentStatus("settled"); err == nil {
		t.Fatalf("expected error for unknown payment status")
	}
	status, err := ParseOrderStatus("shipped")
	if err != nil || status != OrderStatusShipped {
		t.Fatalf("unexpected parse result %q %v", status, err)
	}
	if !OrderStatusCancelled.IsTerminal() || OrderStatusConfirmed.IsTerminal() {
		t.Fatalf("unexpected terminal classification")
	}
}
