package tokenize

import (
	"context"
	"log/slog"

	"github.com/solventry/paysdk/internal/analytics"
	"github.com/solventry/paysdk/internal/configuration"
	"github.com/solventry/paysdk/internal/descriptor"
	"github.com/solventry/paysdk/internal/gateway"
	"github.com/solventry/paysdk/internal/paymethod"
	"github.com/solventry/paysdk/internal/sdkerrors"
)

const paymentMethodEndpoint = "payment_methods"

// Callback receives the created payment method or the classified failure.
// A 422 arrives as *sdkerrors.ErrorWithResponse; everything else is
// unrecoverable.
type Callback func(*paymethod.PaymentMethod, error)

// ListCallback receives the customer's vaulted payment methods.
type ListCallback func([]paymethod.PaymentMethod, error)

// Client turns payment-method descriptors into server-created records. Every
// operation waits on the configuration gate itself, so callers never need to
// pre-check readiness.
type Client struct {
	gate      *configuration.Gate
	transport gateway.Transport
	analytics *analytics.Sender
	logger    *slog.Logger
}

func NewClient(gate *configuration.Gate, transport gateway.Transport, analytics *analytics.Sender, logger *slog.Logger) *Client {
	return &Client{
		gate:      gate,
		transport: transport,
		analytics: analytics,
		logger:    logger,
	}
}

// Tokenize serializes the descriptor to its kind's create endpoint and
// decodes the single record from the response envelope. The callback runs on
// a worker goroutine once the round trip settles.
func (c *Client) Tokenize(ctx context.Context, d descriptor.Descriptor, cb Callback) {
	c.gate.Ensure(ctx, func(cfg *configuration.Configuration, err error) {
		if err != nil {
			cb(nil, err)
			return
		}

		body, err := d.MarshalRequest()
		if err != nil {
			cb(nil, sdkerrors.NewUnexpectedError("Serializing payment method failed", err))
			return
		}

		kind := d.Kind()
		go func() {
			pm, err := c.create(ctx, kind, body)
			if err != nil {
				c.analytics.Send(kind.EventPrefix() + ".nonce-failed")
				cb(nil, err)
				return
			}
			c.analytics.Send(kind.EventPrefix() + ".nonce-received")
			cb(pm, nil)
		}()
	})
}

func (c *Client) create(ctx context.Context, kind descriptor.Kind, body []byte) (*paymethod.PaymentMethod, error) {
	respBody, err := c.transport.Post(ctx, versionedPath(paymentMethodEndpoint+"/"+kind.APIPath()), body)
	if err != nil {
		return nil, err
	}
	return paymethod.ParseOne(respBody, kind.ResponseKey())
}

// GetPaymentMethod fetches the record behind an existing nonce. The gateway
// returns a listing that must hold exactly one record.
func (c *Client) GetPaymentMethod(ctx context.Context, nonce string, cb Callback) {
	c.gate.Ensure(ctx, func(cfg *configuration.Configuration, err error) {
		if err != nil {
			cb(nil, err)
			return
		}

		go func() {
			respBody, err := c.transport.Get(ctx, versionedPath(paymentMethodEndpoint+"/"+nonce))
			if err != nil {
				cb(nil, err)
				return
			}

			methods, err := paymethod.ParseList(respBody)
			if err != nil {
				cb(nil, err)
				return
			}
			if len(methods) != 1 {
				cb(nil, sdkerrors.NewServerError("Expected exactly one payment method in response"))
				return
			}
			cb(&methods[0], nil)
		}()
	})
}

// GetPaymentMethods lists the customer's vaulted payment methods.
func (c *Client) GetPaymentMethods(ctx context.Context, cb ListCallback) {
	c.gate.Ensure(ctx, func(cfg *configuration.Configuration, err error) {
		if err != nil {
			cb(nil, err)
			return
		}

		go func() {
			respBody, err := c.transport.Get(ctx, versionedPath(paymentMethodEndpoint))
			if err != nil {
				cb(nil, err)
				return
			}
			methods, err := paymethod.ParseList(respBody)
			if err != nil {
				cb(nil, err)
				return
			}
			cb(methods, nil)
		}()
	})
}

func versionedPath(path string) string {
	return "/v1/" + path
}
