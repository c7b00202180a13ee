package payment

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Fake is an in-process gateway for local runs and tests. Orders get
// sequential ids and signatures are produced with Sign and the fake secret.
type Fake struct {
	secret string
	seq    atomic.Int64

	mu     sync.Mutex
	orders map[string]int64
	// Err, when set, makes CreateOrder fail.
	Err error
}

// NewFake returns a fake gateway signing with secret.
func NewFake(secret string) *Fake {
	return &Fake{secret: secret, orders: make(map[string]int64)}
}

// CreateOrder records the amount and returns "order_fake_<n>".
func (f *Fake) CreateOrder(ctx context.Context, amountMinor int64, _, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.Err != nil {
		return "", fmt.Errorf("%w: %v", ErrOrderFailed, f.Err)
	}
	id := fmt.Sprintf("order_fake_%d", f.seq.Add(1))
	f.mu.Lock()
	f.orders[id] = amountMinor
	f.mu.Unlock()
	return id, nil
}

// VerifySignature checks signature against the fake secret.
func (f *Fake) VerifySignature(orderID, paymentID, signature string) bool {
	return verify(f.secret, orderID, paymentID, signature)
}

// KeyID returns a fixed public key.
func (f *Fake) KeyID() string { return "rzp_test_fake" }

// Sign signs a payment the way the gateway would after checkout.
func (f *Fake) Sign(orderID, paymentID string) string {
	return Sign(f.secret, orderID, paymentID)
}

// Amount returns the amount recorded for orderID.
func (f *Fake) Amount(orderID string) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.orders[orderID]
	return a, ok
}
