package descriptor

import "encoding/json"

// Kind tags a payment-method descriptor. The tag carries the API path, the
// response envelope key, and the analytics event prefix for its kind, so
// callers never branch on concrete types.
type Kind string

const (
	KindCard   Kind = "card"
	KindPayPal Kind = "paypal"
	KindVenmo  Kind = "venmo"
)

// APIPath is the create/tokenize endpoint segment for the kind.
func (k Kind) APIPath() string {
	switch k {
	case KindPayPal:
		return "paypal_accounts"
	default:
		return "credit_cards"
	}
}

// ResponseKey is the type-keyed array name the gateway wraps created records
// under.
func (k Kind) ResponseKey() string {
	switch k {
	case KindPayPal:
		return "paypalAccounts"
	default:
		return "creditCards"
	}
}

// EventPrefix is the analytics fragment for tokenization outcome events,
// e.g. "card.nonce-received".
func (k Kind) EventPrefix() string {
	return string(k)
}

// Descriptor is a payment-method descriptor ready to be tokenized. Each
// variant serializes itself into the gateway's create request body and is
// consumed exactly once.
type Descriptor interface {
	Kind() Kind
	MarshalRequest() ([]byte, error)
}

// Card describes a raw card entered by the user. Validation of field content
// is deliberately left to the gateway so that missing or invalid fields
// surface as field-addressable validation errors.
type Card struct {
	Number          string `json:"number,omitempty"`
	ExpirationMonth string `json:"expirationMonth,omitempty"`
	ExpirationYear  string `json:"expirationYear,omitempty"`
	ExpirationDate  string `json:"expirationDate,omitempty"`
	CVV             string `json:"cvv,omitempty"`
	CardholderName  string `json:"cardholderName,omitempty"`
	PostalCode      string `json:"-"`

	// ValidateOnServer asks the gateway to run full validation at create
	// time instead of deferring it until the nonce is used.
	ValidateOnServer bool `json:"-"`
}

func (c *Card) Kind() Kind {
	return KindCard
}

func (c *Card) MarshalRequest() ([]byte, error) {
	type options struct {
		Validate bool `json:"validate"`
	}
	type billingAddress struct {
		PostalCode string `json:"postalCode,omitempty"`
	}
	type creditCard struct {
		*Card
		BillingAddress *billingAddress `json:"billingAddress,omitempty"`
		Options        options         `json:"options"`
	}

	body := creditCard{
		Card:    c,
		Options: options{Validate: c.ValidateOnServer},
	}
	if c.PostalCode != "" {
		body.BillingAddress = &billingAddress{PostalCode: c.PostalCode}
	}

	return json.Marshal(map[string]any{
		"creditCard": body,
	})
}

// PayPalAccount wraps the decoded provider payload from a completed PayPal
// app-switch or browser-switch round trip.
type PayPalAccount struct {
	// PaymentData is the raw one-touch response payload from the
	// provider SDK, forwarded to the gateway untouched.
	PaymentData json.RawMessage

	// ClientMetadataID correlates the authorization with the device and
	// consent that produced it.
	ClientMetadataID string

	// Source records the channel that produced the payload:
	// "paypal-app" or "paypal-browser".
	Source string
}

func (p *PayPalAccount) Kind() Kind {
	return KindPayPal
}

func (p *PayPalAccount) MarshalRequest() ([]byte, error) {
	account := map[string]any{}
	if len(p.PaymentData) > 0 {
		account["paymentData"] = p.PaymentData
	}
	if p.ClientMetadataID != "" {
		account["correlationId"] = p.ClientMetadataID
	}

	return json.Marshal(map[string]any{
		"paypalAccount": account,
		"_meta": map[string]any{
			"source": p.Source,
		},
	})
}
