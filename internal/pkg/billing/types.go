package billing

// CreditGrant is the normalized input of a credit-granting payment event.
type CreditGrant struct {
	Provider        string
	ProviderEventID string
	CustomerID      string
	PriceID         string
	CustomUserID    string
	Class           EventClass
}

// CreditResult describes what ApplyCredit did.
type CreditResult struct {
	UserID  string
	Delta   int
	Applied bool
	// KnownPrice is false when the fallback amount was used.
	KnownPrice bool
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	// OccurredAt is the provider's RFC 3339 event timestamp, if sent.
	OccurredAt     string
	CustomerID     string
	PayloadJSON    string
	SignatureValid bool
}
