package orders

import (
	"crypto/rand"
	"math/big"
)

const (
	orderNumberPrefix   = "ORD-"
	orderNumberLength   = 8
	orderNumberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	orderNumberAttempts = 5
)

// newOrderNumber returns ORD- followed by 8 random uppercase alphanumerics.
func newOrderNumber() (string, error) {
	buf := make([]byte, orderNumberLength)
	limit := big.NewInt(int64(len(orderNumberAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[i] = orderNumberAlphabet[n.Int64()]
	}
	return orderNumberPrefix + string(buf), nil
}
