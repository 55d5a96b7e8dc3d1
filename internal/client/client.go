// Package client assembles the orchestration core: one gateway session, one
// configuration gate, the pending-request table, and a controller per
// authorization rail, all publishing terminal outcomes through a shared
// listener dispatcher.
package client

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/solventry/paysdk/internal/analytics"
	"github.com/solventry/paysdk/internal/authorization"
	"github.com/solventry/paysdk/internal/config"
	"github.com/solventry/paysdk/internal/configuration"
	"github.com/solventry/paysdk/internal/correlate"
	"github.com/solventry/paysdk/internal/descriptor"
	"github.com/solventry/paysdk/internal/dispatch"
	"github.com/solventry/paysdk/internal/gateway"
	"github.com/solventry/paysdk/internal/paymethod"
	"github.com/solventry/paysdk/internal/rail"
	"github.com/solventry/paysdk/internal/rail/paypal"
	"github.com/solventry/paysdk/internal/rail/venmo"
	"github.com/solventry/paysdk/internal/sdkerrors"
	"github.com/solventry/paysdk/internal/threedsecure"
	"github.com/solventry/paysdk/internal/tokenize"
)

// configVersion pins the configuration payload shape this client understands.
const configVersion = "3"

// Options supplies the out-of-process collaborators the embedding application
// owns. A rail whose collaborators are absent reports itself unavailable
// instead of panicking.
type Options struct {
	WalletProvider   rail.WalletProvider
	AppInspector     rail.AppInspector
	AppSwitcher      rail.AppSwitcher
	ChallengeSurface rail.ChallengeSurface

	// Store overrides the pending-request store. Defaults to the durable
	// store when a database is configured, in-memory otherwise.
	Store correlate.Store

	Logger *slog.Logger
}

// Client is the orchestration core. All flow entry points are asynchronous:
// they return immediately and deliver their outcome through registered
// listeners.
type Client struct {
	cfg     *config.Config
	gateway *gateway.Client
	gate    *configuration.Gate

	correlator *correlate.Correlator
	dispatcher *dispatch.Dispatcher
	analytics  *analytics.Sender
	tokenizer  *tokenize.Client

	paypal  *paypal.Controller
	venmo   *venmo.Controller
	threeDS *threedsecure.Controller

	pgStore     *correlate.PGStore
	stopSweeper context.CancelFunc
	logger      *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = cfg.Logger.NewLogger()
	}

	credential := cfg.Authorization.ClientToken
	if credential == "" {
		credential = cfg.Authorization.ClientKey
	}
	auth, err := authorization.Parse(credential)
	if err != nil {
		return nil, err
	}

	gw := gateway.NewClient(cfg.HTTP, logger)
	configURL := auth.ConfigURL
	switch auth.Kind {
	case authorization.KindClientToken:
		gw.SetAuthorizationFingerprint(auth.Fingerprint)
	case authorization.KindClientKey:
		gw.SetClientKey(auth.ClientKey)
		configURL = cfg.Authorization.ConfigURL
		if configURL == "" {
			return nil, sdkerrors.NewConfigurationError("Client key authorization requires a configuration URL")
		}
	}

	gate := configuration.NewGate(configFetcher(gw, configURL), logger)

	c := &Client{
		cfg:        cfg,
		gateway:    gw,
		gate:       gate,
		dispatcher: dispatch.New(logger),
		logger:     logger,
	}

	store := opts.Store
	if store == nil {
		if cfg.Database != nil {
			pgStore, err := correlate.NewPGStore(ctx, cfg.Database, logger)
			if err != nil {
				return nil, err
			}
			c.pgStore = pgStore
			store = pgStore
		} else {
			store = correlate.NewMemoryStore()
		}
	}
	c.correlator = correlate.New(store, logger)

	sweepCtx, cancel := context.WithCancel(context.Background())
	c.stopSweeper = cancel
	go correlate.NewSweeper(store, cfg.Pending.TTL, cfg.Pending.SweepInterval, logger).Start(sweepCtx)

	c.analytics = analytics.NewSender(gate, gw, cfg.Analytics.IntegrationType, logger)
	c.tokenizer = tokenize.NewClient(gate, gw, c.analytics, logger)

	if opts.WalletProvider != nil {
		c.paypal = paypal.NewController(gate, gw, c.tokenizer, c.correlator, opts.WalletProvider, c.analytics, c.dispatcher, logger)
	}
	if opts.AppInspector != nil && opts.AppSwitcher != nil {
		c.venmo = venmo.NewController(gate, c.tokenizer, c.correlator, opts.AppInspector, opts.AppSwitcher, c.analytics, c.dispatcher, logger)
	}
	if opts.ChallengeSurface != nil {
		c.threeDS = threedsecure.NewController(gate, gw, gw, c.tokenizer, c.correlator, opts.ChallengeSurface, c.analytics, c.dispatcher, logger)
	}

	return c, nil
}

// configFetcher fetches the remote configuration and installs the client API
// base URL on the gateway before anyone can issue a relative request.
func configFetcher(gw *gateway.Client, configURL string) configuration.Fetcher {
	return func(ctx context.Context) (*configuration.Configuration, error) {
		u, err := url.Parse(configURL)
		if err != nil {
			return nil, sdkerrors.NewConfigurationError("Configuration URL is invalid")
		}
		q := u.Query()
		q.Set("configVersion", configVersion)
		u.RawQuery = q.Encode()

		body, err := gw.GetURL(ctx, u.String())
		if err != nil {
			return nil, err
		}

		cfg, err := configuration.Parse(body)
		if err != nil {
			return nil, err
		}
		gw.SetBaseURL(cfg.ClientAPIURL)
		return cfg, nil
	}
}

// AddListener registers a listener for terminal outcomes. A listener receives
// only outcomes matching the capability interfaces it implements and never
// sees outcomes delivered before registration.
func (c *Client) AddListener(listener any) {
	c.dispatcher.Add(listener)
}

func (c *Client) RemoveListener(listener any) {
	c.dispatcher.Remove(listener)
}

// FetchConfiguration warms the configuration gate. Calling it is optional;
// every flow entry point waits on the gate itself.
func (c *Client) FetchConfiguration(ctx context.Context, ready configuration.Callback) {
	c.gate.Ensure(ctx, ready)
}

// TokenizeCard exchanges raw card details for a payment method nonce.
func (c *Client) TokenizeCard(ctx context.Context, card *descriptor.Card) {
	c.analytics.Send("card.selected")
	c.tokenizer.Tokenize(ctx, card, func(pm *paymethod.PaymentMethod, err error) {
		if err != nil {
			c.dispatcher.Deliver(dispatch.FromError(err))
			return
		}
		c.dispatcher.Deliver(dispatch.Success(pm))
	})
}

// GetPaymentMethods fetches the customer's vaulted payment methods.
func (c *Client) GetPaymentMethods(ctx context.Context) {
	c.tokenizer.GetPaymentMethods(ctx, func(methods []paymethod.PaymentMethod, err error) {
		if err != nil {
			c.dispatcher.Deliver(dispatch.FromError(err))
			return
		}
		c.dispatcher.Deliver(dispatch.Fetched(methods))
	})
}

// AuthorizePayPal starts the PayPal future-payments consent flow.
func (c *Client) AuthorizePayPal(ctx context.Context, additionalScopes []string) {
	if c.paypal == nil {
		c.railUnavailable("PayPal")
		return
	}
	c.paypal.Authorize(ctx, additionalScopes)
}

// CheckoutPayPal starts a PayPal single-payment checkout.
func (c *Client) CheckoutPayPal(ctx context.Context, req paypal.CheckoutRequest) {
	if c.paypal == nil {
		c.railUnavailable("PayPal")
		return
	}
	c.paypal.Checkout(ctx, req)
}

// BillingAgreementPayPal starts a PayPal billing-agreement flow.
func (c *Client) BillingAgreementPayPal(ctx context.Context) {
	if c.paypal == nil {
		c.railUnavailable("PayPal")
		return
	}
	c.paypal.BillingAgreement(ctx)
}

// AuthorizeVenmo switches to the Venmo app to vault a card.
func (c *Client) AuthorizeVenmo(ctx context.Context) {
	if c.venmo == nil {
		c.railUnavailable("Venmo")
		return
	}
	c.venmo.Authorize(ctx)
}

// VerifyThreeDSecure runs 3-D Secure verification for an existing card nonce.
func (c *Client) VerifyThreeDSecure(ctx context.Context, nonce, amount string) {
	if c.threeDS == nil {
		c.railUnavailable("3D Secure")
		return
	}
	c.threeDS.Verify(ctx, nonce, amount)
}

// VerifyCardThreeDSecure tokenizes a raw card and then verifies the nonce.
func (c *Client) VerifyCardThreeDSecure(ctx context.Context, card *descriptor.Card, amount string) {
	if c.threeDS == nil {
		c.railUnavailable("3D Secure")
		return
	}
	c.threeDS.VerifyCard(ctx, card, amount)
}

// OnExternalResult feeds an out-of-process result back into the core. It
// reports whether the result was recognized as belonging to one of the
// client's rails; an unrecognized result is the embedding application's to
// handle.
func (c *Client) OnExternalResult(ctx context.Context, res rail.ExternalResult) bool {
	switch res.Rail {
	case rail.PayPal:
		if c.paypal == nil {
			return false
		}
		c.paypal.HandleResult(ctx, res)
	case rail.Venmo:
		if c.venmo == nil {
			return false
		}
		c.venmo.HandleResult(ctx, res)
	case rail.ThreeDSecure:
		if c.threeDS == nil {
			return false
		}
		c.threeDS.HandleResult(ctx, res)
	default:
		return false
	}
	return true
}

func (c *Client) railUnavailable(name string) {
	c.dispatcher.Deliver(dispatch.Unrecoverable(
		sdkerrors.NewConfigurationError(name + " is not configured for this client")))
}

// Close stops the background sweeper and releases the durable store if one
// was opened.
func (c *Client) Close() {
	c.stopSweeper()
	if c.pgStore != nil {
		c.pgStore.Close()
	}
}
