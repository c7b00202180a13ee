package payment

import (
	"context"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"
)

// orderCreator is the part of the razorpay order resource used here.
type orderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Razorpay is the production gateway.
type Razorpay struct {
	orders orderCreator
	keyID  string
	secret string
}

// NewRazorpay creates a client authenticated with the API key pair.
func NewRazorpay(keyID, secret string) *Razorpay {
	client := razorpay.NewClient(keyID, secret)
	return &Razorpay{orders: client.Order, keyID: keyID, secret: secret}
}

// CreateOrder opens an auto-captured order for amountMinor and returns its id.
// The razorpay client is synchronous and does not take a context; the
// context is checked before the call.
func (r *Razorpay) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := r.orders.Create(map[string]interface{}{
		"amount":          amountMinor,
		"currency":        currency,
		"receipt":         receipt,
		"payment_capture": 1,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOrderFailed, err)
	}
	id, ok := body["id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("%w: response has no order id", ErrOrderFailed)
	}
	return id, nil
}

// VerifySignature checks the checkout callback signature with the key secret.
func (r *Razorpay) VerifySignature(orderID, paymentID, signature string) bool {
	return verify(r.secret, orderID, paymentID, signature)
}

// KeyID returns the public key id.
func (r *Razorpay) KeyID() string { return r.keyID }
