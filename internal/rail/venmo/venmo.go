// Package venmo drives the Venmo app-switch rail. Unlike PayPal there is no
// browser fallback: the flow requires the Venmo app to be installed and
// signed by the expected identity, and the app returns a ready-made nonce.
package venmo

import (
	"context"
	"log/slog"

	"github.com/solventry/paysdk/internal/analytics"
	"github.com/solventry/paysdk/internal/configuration"
	"github.com/solventry/paysdk/internal/correlate"
	"github.com/solventry/paysdk/internal/dispatch"
	"github.com/solventry/paysdk/internal/paymethod"
	"github.com/solventry/paysdk/internal/rail"
	"github.com/solventry/paysdk/internal/sdkerrors"
	"github.com/solventry/paysdk/internal/tokenize"
)

const (
	packageName       = "com.venmo"
	appSwitchActivity = "CardChooserActivity"

	certificateSubject = "CN=Andrew Kortina,OU=Engineering,O=Venmo,L=Philadelphia,ST=PA,C=US"
	certificateIssuer  = "CN=Andrew Kortina,OU=Engineering,O=Venmo,L=Philadelphia,ST=PA,C=US"
	publicKeyHashCode  = -129711843

	// extras handed to the Venmo app on launch
	extraMerchantID = "merchantId"
	extraOffline    = "offline"
	extraToken      = "token"
)

// Controller owns the Venmo rail.
type Controller struct {
	gate       *configuration.Gate
	tokenizer  *tokenize.Client
	correlator *correlate.Correlator
	inspector  rail.AppInspector
	switcher   rail.AppSwitcher
	analytics  *analytics.Sender
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func NewController(
	gate *configuration.Gate,
	tokenizer *tokenize.Client,
	correlator *correlate.Correlator,
	inspector rail.AppInspector,
	switcher rail.AppSwitcher,
	analytics *analytics.Sender,
	dispatcher *dispatch.Dispatcher,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		gate:       gate,
		tokenizer:  tokenizer,
		correlator: correlator,
		inspector:  inspector,
		switcher:   switcher,
		analytics:  analytics,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// isAvailable reports whether the rail is enabled remotely and a genuine
// Venmo app is installed. Exactly one handler must claim the app-switch
// target and it must be the Venmo package with the pinned signature.
func (c *Controller) isAvailable(cfg *configuration.Configuration) bool {
	if cfg.VenmoState() == configuration.VenmoOff {
		return false
	}

	handlers := c.inspector.HandlerPackages(packageName, appSwitchActivity)
	if len(handlers) != 1 || handlers[0] != packageName {
		return false
	}

	return c.inspector.VerifySignature(packageName, rail.SignatureIdentity{
		Subject:       certificateSubject,
		Issuer:        certificateIssuer,
		PublicKeyHash: publicKeyHashCode,
	})
}

// Authorize switches to the Venmo app to vault a card. The created nonce
// comes back through an external result on the Venmo rail.
func (c *Controller) Authorize(ctx context.Context) {
	c.analytics.Send("add-venmo.start")

	c.gate.Ensure(ctx, func(cfg *configuration.Configuration, err error) {
		if err != nil {
			c.dispatcher.Deliver(dispatch.FromError(err))
			return
		}
		if !c.isAvailable(cfg) {
			c.analytics.Send("add-venmo.unavailable")
			c.dispatcher.Deliver(dispatch.Unrecoverable(
				sdkerrors.NewAppSwitchNotAvailableError("Venmo is not available")))
			return
		}

		go c.launch(ctx, cfg)
	})
}

func (c *Controller) launch(ctx context.Context, cfg *configuration.Configuration) {
	token, err := c.correlator.Issue(ctx, rail.Venmo, nil)
	if err != nil {
		c.dispatcher.Deliver(dispatch.FromError(err))
		return
	}

	offline := "false"
	if cfg.VenmoState() == configuration.VenmoOffline {
		offline = "true"
	}

	err = c.switcher.Launch(ctx, rail.AppSwitchRequest{
		Package:  packageName,
		Activity: appSwitchActivity,
		Extras: map[string]string{
			extraMerchantID: cfg.MerchantID,
			extraOffline:    offline,
			extraToken:      token,
		},
	})
	if err != nil {
		if clearErr := c.correlator.Clear(ctx, rail.Venmo); clearErr != nil {
			c.logger.Warn("clearing pending request failed", "rail", rail.Venmo, "error", clearErr)
		}
		c.analytics.Send("add-venmo.unavailable")
		c.dispatcher.Deliver(dispatch.Unrecoverable(
			sdkerrors.NewAppSwitchNotAvailableError("Venmo is not available")))
		return
	}

	c.analytics.Send("add-venmo.started")
}

// HandleResult consumes an external result for the Venmo rail. The payload is
// the nonce string the Venmo app returned; the full payment method is fetched
// from the gateway before delivery.
func (c *Controller) HandleResult(ctx context.Context, res rail.ExternalResult) {
	if res.Code != rail.ResultOK {
		return
	}

	_, ok, err := c.correlator.Resolve(ctx, rail.Venmo, res.Token)
	if err != nil {
		c.dispatcher.Deliver(dispatch.FromError(err))
		return
	}
	if !ok {
		return
	}

	nonce := string(res.Payload)
	if nonce == "" {
		c.analytics.Send("venmo-app.fail.missing-nonce")
		c.dispatcher.Deliver(dispatch.Unrecoverable(
			sdkerrors.NewUnexpectedError("No nonce present in response from Venmo app", nil)))
		return
	}

	c.tokenizer.GetPaymentMethod(ctx, nonce, func(pm *paymethod.PaymentMethod, err error) {
		if err != nil {
			c.analytics.Send("venmo-app.fail")
			c.dispatcher.Deliver(dispatch.FromError(err))
			return
		}
		c.analytics.Send("venmo-app.success")
		c.dispatcher.Deliver(dispatch.Success(pm))
	})
}
