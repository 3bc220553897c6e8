package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vistream/vistream/internal/models"
)

func TestNormalizeStripeIntentStatus(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"succeeded", models.PaymentCompleted},
		{"canceled", models.PaymentCancelled},
		{"processing", models.PaymentPending},
		{"requires_payment_method", models.PaymentPending},
		{"requires_action", models.PaymentPending},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			if got := NormalizeStripeIntentStatus(tt.provider); got != tt.want {
				t.Errorf("NormalizeStripeIntentStatus(%q) = %q, want %q", tt.provider, got, tt.want)
			}
		})
	}
}

func TestNormalizeStripeSessionStatus(t *testing.T) {
	assert.Equal(t, models.PaymentCompleted, NormalizeStripeSessionStatus("paid"))
	assert.Equal(t, models.PaymentPending, NormalizeStripeSessionStatus("unpaid"))
}

func TestStripeConstructEventRequiresSecret(t *testing.T) {
	g := NewStripeGateway("sk_test", "")
	_, err := g.ConstructEvent([]byte(`{}`), "t=1,v1=abc")
	assert.ErrorIs(t, err, ErrSignature)
}
