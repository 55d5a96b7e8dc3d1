package paymethod

import (
	"encoding/json"

	"github.com/solventry/paysdk/internal/sdkerrors"
)

// PaymentMethod is a server-created payment method record. The Nonce is the
// single-use token a server-side integration exchanges for a transaction.
type PaymentMethod struct {
	Nonce            string            `json:"nonce"`
	Type             string            `json:"type"`
	Description      string            `json:"description"`
	Details          Details           `json:"details"`
	ThreeDSecureInfo *ThreeDSecureInfo `json:"threeDSecureInfo,omitempty"`
}

// Details carries the kind-specific attributes the gateway exposes about a
// tokenized method. Only the fields relevant to the method's type are set.
type Details struct {
	LastTwo  string `json:"lastTwo,omitempty"`
	CardType string `json:"cardType,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

type ThreeDSecureInfo struct {
	LiabilityShifted       bool `json:"liabilityShifted"`
	LiabilityShiftPossible bool `json:"liabilityShiftPossible"`
}

// ParseOne decodes the gateway's response envelope, which wraps records in a
// type-keyed array, and requires exactly one record. Zero or multiple records
// is a server contract violation.
func ParseOne(body []byte, resourceKey string) (*PaymentMethod, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, sdkerrors.NewServerError("Parsing server response failed")
	}

	raw, ok := envelope[resourceKey]
	if !ok {
		return nil, sdkerrors.NewServerError("Parsing server response failed")
	}

	var records []PaymentMethod
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, sdkerrors.NewServerError("Parsing server response failed")
	}
	if len(records) != 1 {
		return nil, sdkerrors.NewServerError("Expected exactly one payment method in response")
	}

	return &records[0], nil
}

// ParseList decodes the unkeyed listing returned by the payment methods
// endpoint: an envelope with a paymentMethods array holding all of the
// customer's vaulted methods.
func ParseList(body []byte) ([]PaymentMethod, error) {
	var envelope struct {
		PaymentMethods []PaymentMethod `json:"paymentMethods"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, sdkerrors.NewServerError("Parsing server response failed")
	}
	return envelope.PaymentMethods, nil
}
