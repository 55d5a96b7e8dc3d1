// Package rail defines the authorization channels the orchestration core can
// drive and the contracts it requires from out-of-process collaborators: the
// wallet provider SDK, the app inspector, the app switcher, and the 3-D
// Secure challenge surface. The core never depends on concrete
// implementations of these; the embedding application supplies them.
package rail

import (
	"context"
	"encoding/json"
)

// Rail identifies an authorization channel. At most one request per rail may
// be pending at a time.
type Rail string

const (
	PayPal       Rail = "paypal"
	Venmo        Rail = "venmo"
	ThreeDSecure Rail = "three-d-secure"
)

// ResultCode mirrors the OK/canceled distinction of OS-level result delivery.
type ResultCode int

const (
	ResultOK ResultCode = iota + 1
	ResultCanceled
)

// ExternalResult is an asynchronously delivered out-of-process result. It
// arrives on a channel not causally linked to the call that started the
// flow; Token ties it back to the pending request that caused it.
type ExternalResult struct {
	Rail    Rail
	Code    ResultCode
	Token   string
	Payload []byte
}

// PerformTarget reports which channel a wallet provider selected for a
// request.
type PerformTarget int

const (
	TargetNone PerformTarget = iota
	TargetWallet
	TargetBrowser
)

// PerformStatus is the wallet provider's report of a dispatch attempt.
type PerformStatus struct {
	Success          bool
	Target           PerformTarget
	ClientMetadataID string
}

// WalletRequest is the provider-agnostic request handed to the wallet SDK.
type WalletRequest struct {
	Environment string
	ClientID    string
	Scopes      []string

	// ApprovalURL and PairingID are set for checkout-style flows where
	// the gateway pre-creates a payment resource.
	ApprovalURL string
	PairingID   string

	// Token is the correlation token the external channel must echo back.
	Token string

	SuccessURL string
	CancelURL  string

	// AdditionalPayload carries extra attributes the provider embeds in
	// the outbound request, e.g. the client token.
	AdditionalPayload map[string]string
}

// WalletResultType classifies a decoded provider result.
type WalletResultType int

const (
	WalletResultSuccess WalletResultType = iota + 1
	WalletResultCancel
	WalletResultError
)

// WalletResult is the provider's decoded response payload.
type WalletResult struct {
	Type     WalletResultType
	Target   PerformTarget
	Response json.RawMessage
	Err      error
}

// WalletProvider abstracts the third-party wallet SDK. PerformRequest
// attempts app switch first and falls back to a browser switch; the returned
// status reports which target was used. DecodeResult converts the raw
// payload delivered via ExternalResult into a classified result.
type WalletProvider interface {
	PerformRequest(ctx context.Context, req WalletRequest) (PerformStatus, error)
	DecodeResult(raw []byte) (WalletResult, error)
}

// SignatureIdentity pins the code-signing identity an app-switch target must
// present.
type SignatureIdentity struct {
	Subject       string
	Issuer        string
	PublicKeyHash int32
}

// AppInspector answers whether an app-switch target is installed and signed
// by the expected identity.
type AppInspector interface {
	// HandlerPackages returns the package names able to service the
	// given app-switch target.
	HandlerPackages(pkg, activity string) []string
	// VerifySignature reports whether pkg is code-signed by identity.
	VerifySignature(pkg string, identity SignatureIdentity) bool
}

// AppSwitchRequest describes a direct app switch (no browser fallback).
type AppSwitchRequest struct {
	Package  string
	Activity string
	Extras   map[string]string
}

// AppSwitcher hands control to another installed application. The result
// returns later through ExternalResult delivery.
type AppSwitcher interface {
	Launch(ctx context.Context, req AppSwitchRequest) error
}

// ChallengeRequest carries the issuer authentication hand-off for a 3-D
// Secure step-up.
type ChallengeRequest struct {
	AcsURL  string
	MD      string
	TermURL string
	PaReq   string

	// Token correlates the eventual challenge result with the pending
	// verification.
	Token string
}

// ChallengeSurface presents the issuer authentication UI. The decoded
// authentication payload (or failure marker) returns through ExternalResult
// delivery on the ThreeDSecure rail.
type ChallengeSurface interface {
	Present(ctx context.Context, req ChallengeRequest) error
}
