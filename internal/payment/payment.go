// Package payment is the payment-gateway collaborator: order creation and
// callback signature verification.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/tbourn/clinic-booking/internal/config"
)

// ErrOrderFailed wraps any failure to create a gateway order.
var ErrOrderFailed = errors.New("payment order creation failed")

// Gateway creates orders and verifies the signature the gateway attaches to
// a completed payment.
type Gateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error)
	VerifySignature(orderID, paymentID, signature string) bool
	// KeyID is the public key the client checkout needs.
	KeyID() string
}

// Sign returns the hex HMAC-SHA256 of "orderID|paymentID" under secret. This
// is the signature scheme of the Razorpay checkout callback.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(secret, orderID, paymentID, signature string) bool {
	if secret == "" || orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	want := Sign(secret, orderID, paymentID)
	return hmac.Equal([]byte(want), []byte(signature))
}

// New builds the gateway selected by cfg.Provider.
func New(cfg config.PaymentConfig) (Gateway, error) {
	switch cfg.Provider {
	case "razorpay":
		return NewRazorpay(cfg.KeyID, cfg.KeySecret), nil
	case "", "fake":
		secret := cfg.KeySecret
		if secret == "" {
			secret = "fake-secret"
		}
		return NewFake(secret), nil
	default:
		return nil, fmt.Errorf("unsupported payment provider %q", cfg.Provider)
	}
}
