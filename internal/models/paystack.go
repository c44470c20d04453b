package models

// WebhookEvent is the envelope Paystack posts to the webhook endpoint.
type WebhookEvent struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

// WebhookData is the charge payload inside a webhook event. Amount is in
// kobo, as everywhere on the Paystack API.
type WebhookData struct {
	ID              int64           `json:"id"`
	Reference       string          `json:"reference"`
	Amount          int64           `json:"amount"`
	Status          string          `json:"status"`
	GatewayResponse string          `json:"gateway_response"`
	Customer        WebhookCustomer `json:"customer"`
}

type WebhookCustomer struct {
	Email string `json:"email"`
}

// WebhookTask is what gets queued for the background worker. Attempts
// counts deliveries to the ledger, not deliveries from Paystack.
type WebhookTask struct {
	Event    WebhookEvent `json:"event"`
	Attempts int          `json:"attempts"`
}

// PaystackResponse is the generic API envelope.
type PaystackResponse struct {
	Status  bool         `json:"status"`
	Message string       `json:"message"`
	Data    PaystackData `json:"data"`
}

// PaystackData holds initialize and verify fields; unused ones are zero.
type PaystackData struct {
	ID               int64  `json:"id"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	GatewayResponse  string `json:"gateway_response"`
}
