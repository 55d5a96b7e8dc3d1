// Package threedsecure performs 3-D Secure verification of card nonces. A
// lookup against the gateway decides whether the issuer requires a challenge;
// if it does, the flow hands off to the embedding application's challenge
// surface and completes through an external result on the 3-D Secure rail.
package threedsecure

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

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
	authFailureMessage    = "Failed to authenticate, please try a different form of payment"
	unexpectedMessage     = "An unexpected error occurred"
	clientKeyNotSupported = "Client key authorization is not supported for 3D Secure verification. Use a client token instead."
)

// lookupResponse is the gateway's verdict on whether the issuer requires a
// challenge for this card and amount.
type lookupResponse struct {
	PaymentMethod *paymethod.PaymentMethod `json:"paymentMethod"`
	Lookup        struct {
		AcsURL  string `json:"acsUrl"`
		MD      string `json:"md"`
		TermURL string `json:"termUrl"`
		PaReq   string `json:"pareq"`
	} `json:"lookup"`
}

func (l *lookupResponse) challengeRequired() bool {
	return l.Lookup.AcsURL != ""
}

// authenticationResponse is the issuer authentication verdict delivered back
// through the challenge surface. Exception carries the serialized failure
// marker a crashed or misbehaving surface reports instead of a verdict.
type authenticationResponse struct {
	Success          bool                        `json:"success"`
	PaymentMethod    *paymethod.PaymentMethod    `json:"paymentMethod"`
	ThreeDSecureInfo *paymethod.ThreeDSecureInfo `json:"threeDSecureInfo"`
	Exception        string                      `json:"exception"`
}

// KeyAuthorizer reports whether the gateway client authenticates with a
// tokenization key.
type KeyAuthorizer interface {
	UsesClientKey() bool
}

// Controller owns the 3-D Secure rail.
type Controller struct {
	gate       *configuration.Gate
	transport  gateway.Transport
	keyAuth    KeyAuthorizer
	tokenizer  *tokenize.Client
	correlator *correlate.Correlator
	surface    rail.ChallengeSurface
	analytics  *analytics.Sender
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func NewController(
	gate *configuration.Gate,
	transport gateway.Transport,
	keyAuth KeyAuthorizer,
	tokenizer *tokenize.Client,
	correlator *correlate.Correlator,
	surface rail.ChallengeSurface,
	analytics *analytics.Sender,
	dispatcher *dispatch.Dispatcher,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		gate:       gate,
		transport:  transport,
		keyAuth:    keyAuth,
		tokenizer:  tokenizer,
		correlator: correlator,
		surface:    surface,
		analytics:  analytics,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Verify runs 3-D Secure verification for an existing card nonce. If the
// issuer does not require a challenge, the verified card is delivered
// straight away; otherwise the challenge surface is presented and the result
// arrives later on the 3-D Secure rail.
func (c *Controller) Verify(ctx context.Context, nonce, amount string) {
	if c.keyAuth.UsesClientKey() {
		c.dispatcher.Deliver(dispatch.Unrecoverable(
			sdkerrors.NewAuthorizationError(clientKeyNotSupported)))
		return
	}

	c.analytics.Send("three-d-secure.initialized")

	c.gate.Ensure(ctx, func(cfg *configuration.Configuration, err error) {
		if err != nil {
			c.dispatcher.Deliver(dispatch.FromError(err))
			return
		}
		if !cfg.ThreeDSecureEnabled {
			c.dispatcher.Deliver(dispatch.Unrecoverable(
				sdkerrors.NewConfigurationError("3D Secure is not enabled for this merchant")))
			return
		}

		go c.lookup(ctx, cfg, nonce, amount)
	})
}

// VerifyCard tokenizes a raw card and then verifies the resulting nonce.
func (c *Controller) VerifyCard(ctx context.Context, card *descriptor.Card, amount string) {
	if c.keyAuth.UsesClientKey() {
		c.dispatcher.Deliver(dispatch.Unrecoverable(
			sdkerrors.NewAuthorizationError(clientKeyNotSupported)))
		return
	}

	c.tokenizer.Tokenize(ctx, card, func(pm *paymethod.PaymentMethod, err error) {
		if err != nil {
			c.dispatcher.Deliver(dispatch.FromError(err))
			return
		}
		c.Verify(ctx, pm.Nonce, amount)
	})
}

func (c *Controller) lookup(ctx context.Context, cfg *configuration.Configuration, nonce, amount string) {
	body, err := json.Marshal(map[string]any{
		"merchantAccountId": cfg.MerchantAccountID,
		"amount":            amount,
	})
	if err != nil {
		c.dispatcher.Deliver(dispatch.FromError(sdkerrors.NewUnexpectedError("Serializing lookup request failed", err)))
		return
	}

	resp, err := c.transport.Post(ctx, "/v1/payment_methods/"+nonce+"/three_d_secure/lookup", body)
	if err != nil {
		c.dispatcher.Deliver(dispatch.FromError(err))
		return
	}

	var lookup lookupResponse
	if err := json.Unmarshal(resp, &lookup); err != nil || lookup.PaymentMethod == nil {
		c.dispatcher.Deliver(dispatch.FromError(sdkerrors.NewServerError("Parsing server response failed")))
		return
	}

	if !lookup.challengeRequired() {
		c.dispatcher.Deliver(dispatch.Success(lookup.PaymentMethod))
		return
	}

	token, err := c.correlator.Issue(ctx, rail.ThreeDSecure, nil)
	if err != nil {
		c.dispatcher.Deliver(dispatch.FromError(err))
		return
	}

	err = c.surface.Present(ctx, rail.ChallengeRequest{
		AcsURL:  lookup.Lookup.AcsURL,
		MD:      lookup.Lookup.MD,
		TermURL: lookup.Lookup.TermURL,
		PaReq:   lookup.Lookup.PaReq,
		Token:   token,
	})
	if err != nil {
		if clearErr := c.correlator.Clear(ctx, rail.ThreeDSecure); clearErr != nil {
			c.logger.Warn("clearing pending request failed", "rail", rail.ThreeDSecure, "error", clearErr)
		}
		c.dispatcher.Deliver(dispatch.FromError(sdkerrors.NewUnexpectedError(unexpectedMessage, err)))
	}
}

// HandleResult consumes an external result for the 3-D Secure rail. A result
// without an OK code or without an authentication payload is a failed
// hand-off and is surfaced as an unexpected error.
func (c *Controller) HandleResult(ctx context.Context, res rail.ExternalResult) {
	if res.Code != rail.ResultOK || len(res.Payload) == 0 {
		if res.Token != "" {
			_, ok, err := c.correlator.Resolve(ctx, rail.ThreeDSecure, res.Token)
			if err != nil || !ok {
				return
			}
		} else if clearErr := c.correlator.Clear(ctx, rail.ThreeDSecure); clearErr != nil {
			c.logger.Warn("clearing pending request failed", "rail", rail.ThreeDSecure, "error", clearErr)
		}
		c.dispatcher.Deliver(dispatch.Unrecoverable(
			sdkerrors.NewUnexpectedError(unexpectedMessage, nil)))
		return
	}

	_, ok, err := c.correlator.Resolve(ctx, rail.ThreeDSecure, res.Token)
	if err != nil {
		c.dispatcher.Deliver(dispatch.FromError(err))
		return
	}
	if !ok {
		return
	}

	var auth authenticationResponse
	if err := json.Unmarshal(res.Payload, &auth); err != nil {
		c.dispatcher.Deliver(dispatch.Unrecoverable(
			sdkerrors.NewUnexpectedError(unexpectedMessage, err)))
		return
	}

	// an exception inside the challenge surface is not an issuer verdict
	if auth.Exception != "" {
		c.dispatcher.Deliver(dispatch.Unrecoverable(
			sdkerrors.NewUnexpectedError(unexpectedMessage, errors.New(auth.Exception))))
		return
	}

	if !auth.Success {
		c.analytics.Send("three-d-secure.failed")
		c.dispatcher.Deliver(dispatch.Recoverable(&sdkerrors.ErrorWithResponse{
			StatusCode:  422,
			Message:     authFailureMessage,
			RawResponse: string(res.Payload),
		}))
		return
	}

	pm := auth.PaymentMethod
	if pm == nil {
		c.dispatcher.Deliver(dispatch.Unrecoverable(
			sdkerrors.NewUnexpectedError(unexpectedMessage, nil)))
		return
	}
	if auth.ThreeDSecureInfo != nil {
		pm.ThreeDSecureInfo = auth.ThreeDSecureInfo
	}

	c.analytics.Send("three-d-secure.completed")
	c.dispatcher.Deliver(dispatch.Success(pm))
}
