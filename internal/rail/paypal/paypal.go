// Package paypal drives PayPal authorization round trips: future-payments
// consent, single-payment checkout, and billing agreements. Each flow issues
// a pending request, hands control to the wallet provider, and completes when
// the matching external result arrives.
package paypal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/solventry/paysdk/internal/analytics"
	"github.com/solventry/paysdk/internal/configuration"
	"github.com/solventry/paysdk/internal/correlate"
	"github.com/solventry/paysdk/internal/descriptor"
	"github.com/solventry/paysdk/internal/dispatch"
	"github.com/solventry/paysdk/internal/gateway"
	"github.com/solventry/paysdk/internal/paymethod"
	"github.com/solventry/paysdk/internal/rail"
	"github.com/solventry/paysdk/internal/sdkerrors"
	"github.com/solventry/paysdk/internal/tokenize"
)

const (
	scopeFuturePayments = "https://uri.paypal.com/services/payments/futurepayments"
	scopeEmail          = "email"
	scopeAddress        = "address"

	environmentMock = "mock"
	environmentLive = "live"

	mockClientID = "FAKE-PAYPAL-CLIENT-ID"

	flowFuturePayments = "paypal-future-payments"
	flowSinglePayment  = "paypal-single-payment"

	createPaymentResourcePath = "/v1/paypal_hermes/create_payment_resource"
	setupBillingAgreementPath = "/v1/paypal_hermes/setup_billing_agreement"

	successURL = "https://paypal.success.url/onetouch/v1/success"
	cancelURL  = "https://paypal.cancel.url/onetouch/v1/cancel"
)

// context keys stored with the pending entry
const (
	ctxFlow             = "flow"
	ctxScopes           = "scopes"
	ctxEnvironment      = "environment"
	ctxClientMetadataID = "clientMetadataId"
	ctxTarget           = "target"
)

// CheckoutRequest describes a single-payment checkout resource.
type CheckoutRequest struct {
	Amount       string
	CurrencyCode string
}

// Controller owns the PayPal rail.
type Controller struct {
	gate       *configuration.Gate
	transport  gateway.Transport
	tokenizer  *tokenize.Client
	correlator *correlate.Correlator
	provider   rail.WalletProvider
	analytics  *analytics.Sender
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func NewController(
	gate *configuration.Gate,
	transport gateway.Transport,
	tokenizer *tokenize.Client,
	correlator *correlate.Correlator,
	provider rail.WalletProvider,
	analytics *analytics.Sender,
	dispatcher *dispatch.Dispatcher,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		gate:       gate,
		transport:  transport,
		tokenizer:  tokenizer,
		correlator: correlator,
		provider:   provider,
		analytics:  analytics,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Authorize starts the future-payments consent flow. The future-payments
// scope is always requested; additionalScopes extends it.
func (c *Controller) Authorize(ctx context.Context, additionalScopes []string) {
	c.analytics.Send("paypal.selected")

	c.gate.Ensure(ctx, func(cfg *configuration.Configuration, err error) {
		if err != nil {
			c.dispatcher.Deliver(dispatch.FromError(err))
			return
		}
		if !c.validate(cfg) {
			return
		}

		scopes := append([]string{scopeFuturePayments, scopeEmail}, additionalScopes...)
		go c.launch(ctx, cfg, flowFuturePayments, scopes, "", "")
	})
}

// Checkout starts a single-payment flow. The gateway pre-creates a payment
// resource; the user approves it through the wallet or browser.
func (c *Controller) Checkout(ctx context.Context, req CheckoutRequest) {
	c.analytics.Send("paypal.selected")

	c.gate.Ensure(ctx, func(cfg *configuration.Configuration, err error) {
		if err != nil {
			c.dispatcher.Deliver(dispatch.FromError(err))
			return
		}
		if !c.validate(cfg) {
			return
		}

		// a merchant configured for billing agreements takes the
		// agreement path when no one-time amount is given
		if cfg.PayPal.BillingAgreementsEnabled && req.Amount == "" {
			go c.checkout(ctx, cfg, setupBillingAgreementPath, nil)
			return
		}

		go c.checkout(ctx, cfg, createPaymentResourcePath, &req)
	})
}

// BillingAgreement starts a billing-agreement flow, a checkout variant
// without an amount.
func (c *Controller) BillingAgreement(ctx context.Context) {
	c.analytics.Send("paypal.selected")

	c.gate.Ensure(ctx, func(cfg *configuration.Configuration, err error) {
		if err != nil {
			c.dispatcher.Deliver(dispatch.FromError(err))
			return
		}
		if !c.validate(cfg) {
			return
		}
		if !cfg.PayPal.BillingAgreementsEnabled {
			c.dispatcher.Deliver(dispatch.Unrecoverable(
				sdkerrors.NewConfigurationError("Billing agreements are not enabled for this merchant")))
			return
		}

		go c.checkout(ctx, cfg, setupBillingAgreementPath, nil)
	})
}

func (c *Controller) validate(cfg *configuration.Configuration) bool {
	if cfg.IsPayPalEnabled() {
		return true
	}
	c.dispatcher.Deliver(dispatch.Unrecoverable(
		sdkerrors.NewConfigurationError("PayPal is disabled or configuration is invalid")))
	return false
}

// checkout creates the hermes resource and launches the approval hand-off
// using the resource's own pairing token.
func (c *Controller) checkout(ctx context.Context, cfg *configuration.Configuration, path string, req *CheckoutRequest) {
	body := map[string]any{
		"return_url": successURL,
		"cancel_url": cancelURL,
		"experience_profile": map[string]any{
			"no_shipping": true,
			"brand_name":  cfg.PayPal.DisplayName,
		},
	}
	if req != nil {
		body["amount"] = req.Amount
		currency := req.CurrencyCode
		if currency == "" {
			currency = cfg.PayPal.CurrencyISOCode
		}
		body["currency_iso_code"] = currency
	}

	payload, err := json.Marshal(body)
	if err != nil {
		c.dispatcher.Deliver(dispatch.FromError(sdkerrors.NewUnexpectedError("Serializing checkout request failed", err)))
		return
	}

	resp, err := c.transport.Post(ctx, path, payload)
	if err != nil {
		c.dispatcher.Deliver(dispatch.FromError(err))
		return
	}

	approvalURL, err := approvalURLFromResource(resp)
	if err != nil {
		c.dispatcher.Deliver(dispatch.FromError(err))
		return
	}
	pairingID := pairingIDFromApprovalURL(approvalURL)

	c.launch(ctx, cfg, flowSinglePayment, nil, approvalURL, pairingID)
}

// launch issues the pending entry and hands the request to the wallet
// provider. A provider that cannot dispatch clears the entry again so no
// phantom round trip stays pending.
func (c *Controller) launch(ctx context.Context, cfg *configuration.Configuration, flow string, scopes []string, approvalURL, pairingID string) {
	env := providerEnvironment(cfg.PayPal.Environment)
	clientID := cfg.PayPal.ClientID
	if clientID == "" {
		if env != environmentMock {
			c.dispatcher.Deliver(dispatch.Unrecoverable(
				sdkerrors.NewConfigurationError("PayPal is disabled or configuration is invalid")))
			return
		}
		clientID = mockClientID
	}

	requestContext := map[string]string{
		ctxFlow:        flow,
		ctxScopes:      strings.Join(scopes, " "),
		ctxEnvironment: env,
	}

	var token string
	var err error
	if pairingID != "" {
		token = pairingID
		err = c.correlator.IssueWithToken(ctx, rail.PayPal, pairingID, requestContext)
	} else {
		token, err = c.correlator.Issue(ctx, rail.PayPal, requestContext)
	}
	if err != nil {
		c.dispatcher.Deliver(dispatch.FromError(err))
		return
	}

	status, err := c.provider.PerformRequest(ctx, rail.WalletRequest{
		Environment: env,
		ClientID:    clientID,
		Scopes:      scopes,
		ApprovalURL: approvalURL,
		PairingID:   pairingID,
		Token:       token,
		SuccessURL:  successURL,
		CancelURL:   cancelURL,
	})
	target := targetName(status.Target)
	if err != nil || !status.Success {
		c.analytics.Send(flow + "." + target + ".initiate.failed")
		if clearErr := c.correlator.Clear(ctx, rail.PayPal); clearErr != nil {
			c.logger.Warn("clearing pending request failed", "rail", rail.PayPal, "error", clearErr)
		}
		c.dispatcher.Deliver(dispatch.Unrecoverable(
			sdkerrors.NewAppSwitchNotAvailableError("PayPal app switch is not available")))
		return
	}

	// remember how the request left the process for result-side analytics;
	// Amend leaves a result that already consumed the entry untouched
	requestContext[ctxClientMetadataID] = status.ClientMetadataID
	requestContext[ctxTarget] = target
	if err := c.correlator.Amend(ctx, rail.PayPal, token, requestContext); err != nil {
		c.logger.Warn("recording dispatch metadata failed", "rail", rail.PayPal, "error", err)
	}

	c.analytics.Send(flow + "." + target + ".initiate.started")
}

// HandleResult consumes an external result for the PayPal rail. Results that
// carry no OK code or do not match the pending token are discarded.
func (c *Controller) HandleResult(ctx context.Context, res rail.ExternalResult) {
	if res.Code != rail.ResultOK {
		return
	}

	entry, ok, err := c.correlator.Resolve(ctx, rail.PayPal, res.Token)
	if err != nil {
		c.dispatcher.Deliver(dispatch.FromError(err))
		return
	}
	if !ok {
		return
	}

	flow := entry.Context[ctxFlow]
	switchType := switchName(entry.Context[ctxTarget])

	result, err := c.provider.DecodeResult(res.Payload)
	if err != nil {
		c.analytics.Send(flow + "." + switchType + ".failed")
		c.dispatcher.Deliver(dispatch.FromError(sdkerrors.NewUnexpectedError("Parsing provider response failed", err)))
		return
	}

	switch result.Type {
	case rail.WalletResultCancel:
		if result.Err != nil {
			c.analytics.Send(flow + "." + switchType + ".canceled-with-error")
		} else {
			c.analytics.Send(flow + "." + switchType + ".canceled")
		}
	case rail.WalletResultError:
		c.analytics.Send(flow + "." + switchType + ".failed")
		c.dispatcher.Deliver(dispatch.Unrecoverable(
			sdkerrors.NewUnexpectedError("PayPal authorization failed", result.Err)))
	case rail.WalletResultSuccess:
		c.tokenizeResult(ctx, entry, flow, switchType, result)
	}
}

func (c *Controller) tokenizeResult(ctx context.Context, entry *correlate.Entry, flow, switchType string, result rail.WalletResult) {
	payload := result.Response
	if entry.Context[ctxEnvironment] == environmentMock && flow == flowFuturePayments {
		payload = mockAuthorizationPayload(strings.Fields(entry.Context[ctxScopes]))
	}

	source := "paypal-browser"
	if entry.Context[ctxTarget] == "appswitch" {
		source = "paypal-app"
	}

	account := &descriptor.PayPalAccount{
		PaymentData:      payload,
		ClientMetadataID: entry.Context[ctxClientMetadataID],
		Source:           source,
	}

	c.tokenizer.Tokenize(ctx, account, func(pm *paymethod.PaymentMethod, err error) {
		if err != nil {
			c.analytics.Send(flow + "." + switchType + ".failed")
			c.dispatcher.Deliver(dispatch.FromError(err))
			return
		}
		c.analytics.Send(flow + "." + switchType + ".succeeded")
		c.dispatcher.Deliver(dispatch.Success(pm))
	})
}

// mockAuthorizationPayload builds the deterministic authorization the mock
// environment expects, with a code derived from the sorted scope set.
func mockAuthorizationPayload(scopes []string) json.RawMessage {
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)

	payload := map[string]any{
		"client": map[string]any{
			"environment": environmentMock,
		},
		"response": map[string]any{
			"code": "fake-code:" + strings.Join(sorted, " "),
		},
		"response_type": "authorization_code",
	}
	raw, _ := json.Marshal(payload)
	return raw
}

// providerEnvironment maps the remote configuration's environment onto the
// provider SDK's vocabulary. Unknown values pass through as custom stage
// environments.
func providerEnvironment(env string) string {
	switch env {
	case environmentLive:
		return environmentLive
	case "offline":
		return environmentMock
	default:
		return env
	}
}

func approvalURLFromResource(resp []byte) (string, error) {
	var resource struct {
		PaymentResource struct {
			RedirectURL string `json:"redirectUrl"`
		} `json:"paymentResource"`
		AgreementSetup struct {
			ApprovalURL string `json:"approvalUrl"`
		} `json:"agreementSetup"`
	}
	if err := json.Unmarshal(resp, &resource); err != nil {
		return "", sdkerrors.NewUnexpectedError("Parsing server response failed", err)
	}
	if resource.PaymentResource.RedirectURL != "" {
		return resource.PaymentResource.RedirectURL, nil
	}
	if resource.AgreementSetup.ApprovalURL != "" {
		return resource.AgreementSetup.ApprovalURL, nil
	}
	return "", sdkerrors.NewUnexpectedError("Payment resource is missing an approval URL", nil)
}

// pairingIDFromApprovalURL extracts the provider-issued pairing token from
// the approval URL. Checkout resources carry it as "token", billing
// agreements as "ba_token".
func pairingIDFromApprovalURL(approvalURL string) string {
	parsed, err := url.Parse(approvalURL)
	if err != nil {
		return ""
	}
	query := parsed.Query()
	if token := query.Get("token"); token != "" {
		return token
	}
	return query.Get("ba_token")
}

func targetName(target rail.PerformTarget) string {
	switch target {
	case rail.TargetWallet:
		return "appswitch"
	case rail.TargetBrowser:
		return "webswitch"
	default:
		return "unknown"
	}
}

func switchName(target string) string {
	if target == "" {
		return "webswitch"
	}
	return target
}
