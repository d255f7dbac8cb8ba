package enums

import "fmt"

// PaymentSignal identifies what produced a payment audit row.
type PaymentSignal string

const (
	PaymentSignalInitiate PaymentSignal = "initiate"
	PaymentSignalSuccess  PaymentSignal = "success"
	PaymentSignalFail     PaymentSignal = "fail"
	PaymentSignalCancel   PaymentSignal = "cancel"
	PaymentSignalIPN      PaymentSignal = "ipn"
	PaymentSignalVerify   PaymentSignal = "verify"
	PaymentSignalRefund   PaymentSignal = "refund"
)

var validPaymentSignals = []PaymentSignal{
	PaymentSignalInitiate,
	PaymentSignalSuccess,
	PaymentSignalFail,
	PaymentSignalCancel,
	PaymentSignalIPN,
	PaymentSignalVerify,
	PaymentSignalRefund,
}

func (s PaymentSignal) String() string {
	return string(s)
}

// IsValid reports whether the value is a known PaymentSignal.
func (s PaymentSignal) IsValid() bool {
	for _, candidate := range validPaymentSignals {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePaymentSignal converts raw input into a PaymentSignal.
func ParsePaymentSignal(value string) (PaymentSignal, error) {
	for _, candidate := range validPaymentSignals {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment signal %q", value)
}

// PaymentEventOutcome records what the reconciler decided for a signal.
type PaymentEventOutcome string

const (
	PaymentOutcomeApplied   PaymentEventOutcome = "applied"
	PaymentOutcomeDuplicate PaymentEventOutcome = "duplicate"
	PaymentOutcomeIgnored   PaymentEventOutcome = "ignored"
	PaymentOutcomeRejected  PaymentEventOutcome = "rejected"
	PaymentOutcomeError     PaymentEventOutcome = "error"
)

func (o PaymentEventOutcome) String() string {
	return string(o)
}
