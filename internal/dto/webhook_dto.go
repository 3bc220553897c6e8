package dto

// MollieWebhookBody is the thin webhook payload: Mollie only sends the
// payment id, as JSON or form-encoded.
type MollieWebhookBody struct {
	ID string `json:"id" form:"id"`
}
