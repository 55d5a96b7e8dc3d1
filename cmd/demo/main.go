// Command demo exercises the card rail against a real gateway: it fetches
// the remote configuration, tokenizes a test card, and prints the resulting
// nonce. Authorization comes from the environment, e.g.
//
//	PAYSDK_AUTHORIZATION__CLIENT_TOKEN=<base64 token> go run ./cmd/demo
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/solventry/paysdk/internal/client"
	"github.com/solventry/paysdk/internal/config"
	"github.com/solventry/paysdk/internal/configuration"
	"github.com/solventry/paysdk/internal/descriptor"
	"github.com/solventry/paysdk/internal/paymethod"
	"github.com/solventry/paysdk/internal/sdkerrors"
)

type outcomeLogger struct {
	logger *slog.Logger
	done   chan struct{}
}

func (l *outcomeLogger) OnPaymentMethodCreated(pm *paymethod.PaymentMethod) {
	l.logger.Info("payment method created",
		"nonce", pm.Nonce,
		"type", pm.Type,
		"description", pm.Description,
	)
	l.done <- struct{}{}
}

func (l *outcomeLogger) OnRecoverableError(err *sdkerrors.ErrorWithResponse) {
	l.logger.Warn("validation failed", "message", err.Message)
	for _, fe := range err.FieldErrors() {
		l.logger.Warn("field error", "field", fe.Field, "message", fe.Message)
	}
	l.done <- struct{}{}
}

func (l *outcomeLogger) OnUnrecoverableError(err error) {
	l.logger.Error("flow failed", "error", err)
	l.done <- struct{}{}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logger.NewLogger()
	slog.SetDefault(logger)

	ctx := context.Background()
	c, err := client.New(ctx, cfg, client.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to create client", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	listener := &outcomeLogger{logger: logger, done: make(chan struct{}, 1)}
	c.AddListener(listener)

	c.FetchConfiguration(ctx, func(remote *configuration.Configuration, err error) {
		if err != nil {
			logger.Error("configuration fetch failed", "error", err)
			return
		}
		logger.Info("configuration fetched",
			"merchant_id", remote.MerchantID,
			"paypal_enabled", remote.IsPayPalEnabled(),
			"venmo", remote.VenmoState(),
		)
	})

	c.TokenizeCard(ctx, &descriptor.Card{
		Number:          "4111111111111111",
		ExpirationMonth: "12",
		ExpirationYear:  "2030",
		CVV:             "123",
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-listener.done:
	case <-quit:
		logger.Info("interrupted")
	case <-time.After(30 * time.Second):
		logger.Error("timed out waiting for an outcome")
		os.Exit(1)
	}
}
