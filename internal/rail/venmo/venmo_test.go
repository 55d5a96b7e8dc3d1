package venmo

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solventry/paysdk/internal/analytics"
	"github.com/solventry/paysdk/internal/configuration"
	"github.com/solventry/paysdk/internal/correlate"
	"github.com/solventry/paysdk/internal/dispatch"
	"github.com/solventry/paysdk/internal/paymethod"
	"github.com/solventry/paysdk/internal/rail"
	"github.com/solventry/paysdk/internal/sdkerrors"
	"github.com/solventry/paysdk/internal/tokenize"
)

type fakeTransport struct {
	mu       sync.Mutex
	getPaths []string
	response []byte
	err      error
}

func (f *fakeTransport) Get(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getPaths = append(f.getPaths, path)
	return f.response, f.err
}

func (f *fakeTransport) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	return nil, nil
}

func (f *fakeTransport) PostURL(ctx context.Context, url string, body []byte) ([]byte, error) {
	return nil, nil
}

type fakeInspector struct {
	handlers       []string
	validSignature bool

	verified []string
}

func (f *fakeInspector) HandlerPackages(pkg, activity string) []string {
	return f.handlers
}

func (f *fakeInspector) VerifySignature(pkg string, identity rail.SignatureIdentity) bool {
	f.verified = append(f.verified, pkg)
	if identity.Subject != certificateSubject || identity.PublicKeyHash != publicKeyHashCode {
		return false
	}
	return f.validSignature
}

type fakeSwitcher struct {
	mu       sync.Mutex
	launches []rail.AppSwitchRequest
	err      error
}

func (f *fakeSwitcher) Launch(ctx context.Context, req rail.AppSwitchRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches = append(f.launches, req)
	return f.err
}

type capturingListener struct {
	mu      sync.Mutex
	created []*paymethod.PaymentMethod
	errors  []error
	done    chan struct{}
}

func newCapturingListener() *capturingListener {
	return &capturingListener{done: make(chan struct{}, 8)}
}

func (l *capturingListener) OnPaymentMethodCreated(pm *paymethod.PaymentMethod) {
	l.mu.Lock()
	l.created = append(l.created, pm)
	l.mu.Unlock()
	l.done <- struct{}{}
}

func (l *capturingListener) OnUnrecoverableError(err error) {
	l.mu.Lock()
	l.errors = append(l.errors, err)
	l.mu.Unlock()
	l.done <- struct{}{}
}

func (l *capturingListener) wait(t *testing.T) {
	t.Helper()
	select {
	case <-l.done:
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome delivered")
	}
}

type fixture struct {
	controller *Controller
	transport  *fakeTransport
	inspector  *fakeInspector
	switcher   *fakeSwitcher
	listener   *capturingListener
	correlator *correlate.Correlator
}

func newFixture(t *testing.T, venmoState string, inspector *fakeInspector, switcher *fakeSwitcher, transport *fakeTransport) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := configuration.NewGate(func(ctx context.Context) (*configuration.Configuration, error) {
		return configuration.Parse([]byte(`{"clientApiUrl":"https://api.example.com/client_api","merchantId":"m1","venmo":"` + venmoState + `"}`))
	}, logger)
	sender := analytics.NewSender(gate, transport, "custom", logger)
	dispatcher := dispatch.New(logger)
	listener := newCapturingListener()
	dispatcher.Add(listener)
	correlator := correlate.New(correlate.NewMemoryStore(), logger)
	tokenizer := tokenize.NewClient(gate, transport, sender, logger)

	return &fixture{
		controller: NewController(gate, tokenizer, correlator, inspector, switcher, sender, dispatcher, logger),
		transport:  transport,
		inspector:  inspector,
		switcher:   switcher,
		listener:   listener,
		correlator: correlator,
	}
}

func genuineInspector() *fakeInspector {
	return &fakeInspector{handlers: []string{packageName}, validSignature: true}
}

func TestAuthorizeLaunchesVenmoApp(t *testing.T) {
	switcher := &fakeSwitcher{}
	f := newFixture(t, configuration.VenmoOffline, genuineInspector(), switcher, &fakeTransport{})

	f.controller.Authorize(context.Background())

	require.Eventually(t, func() bool {
		switcher.mu.Lock()
		defer switcher.mu.Unlock()
		return len(switcher.launches) == 1
	}, 2*time.Second, 10*time.Millisecond)

	launch := switcher.launches[0]
	assert.Equal(t, packageName, launch.Package)
	assert.Equal(t, appSwitchActivity, launch.Activity)
	assert.Equal(t, "m1", launch.Extras[extraMerchantID])
	assert.Equal(t, "true", launch.Extras[extraOffline])
	assert.NotEmpty(t, launch.Extras[extraToken])

	entry, err := f.correlator.Pending(context.Background(), rail.Venmo)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, launch.Extras[extraToken], entry.Token)
}

func TestAuthorizeWhenRailOff(t *testing.T) {
	switcher := &fakeSwitcher{}
	f := newFixture(t, configuration.VenmoOff, genuineInspector(), switcher, &fakeTransport{})

	f.controller.Authorize(context.Background())
	f.listener.wait(t)

	require.Len(t, f.listener.errors, 1)
	assert.True(t, sdkerrors.IsAppSwitchNotAvailable(f.listener.errors[0]))
	assert.Equal(t, "Venmo is not available", f.listener.errors[0].Error())
	assert.Empty(t, switcher.launches)
}

func TestAuthorizeRejectsImposterHandlers(t *testing.T) {
	cases := map[string]*fakeInspector{
		"no handler":        {handlers: nil, validSignature: true},
		"wrong package":     {handlers: []string{"com.imposter"}, validSignature: true},
		"multiple handlers": {handlers: []string{packageName, "com.imposter"}, validSignature: true},
		"bad signature":     {handlers: []string{packageName}, validSignature: false},
	}

	for name, inspector := range cases {
		t.Run(name, func(t *testing.T) {
			switcher := &fakeSwitcher{}
			f := newFixture(t, configuration.VenmoLive, inspector, switcher, &fakeTransport{})

			f.controller.Authorize(context.Background())
			f.listener.wait(t)

			require.Len(t, f.listener.errors, 1)
			assert.True(t, sdkerrors.IsAppSwitchNotAvailable(f.listener.errors[0]))
			assert.Empty(t, switcher.launches)
		})
	}
}

func TestAuthorizeLaunchFailureClearsPending(t *testing.T) {
	switcher := &fakeSwitcher{err: context.DeadlineExceeded}
	f := newFixture(t, configuration.VenmoLive, genuineInspector(), switcher, &fakeTransport{})

	f.controller.Authorize(context.Background())
	f.listener.wait(t)

	require.Len(t, f.listener.errors, 1)
	assert.True(t, sdkerrors.IsAppSwitchNotAvailable(f.listener.errors[0]))

	entry, err := f.correlator.Pending(context.Background(), rail.Venmo)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestHandleResultFetchesPaymentMethod(t *testing.T) {
	switcher := &fakeSwitcher{}
	transport := &fakeTransport{
		response: []byte(`{"paymentMethods":[{"nonce":"venmo-nonce","type":"VenmoAccount","details":{"username":"venmojoe"}}]}`),
	}
	f := newFixture(t, configuration.VenmoLive, genuineInspector(), switcher, transport)

	f.controller.Authorize(context.Background())
	require.Eventually(t, func() bool {
		switcher.mu.Lock()
		defer switcher.mu.Unlock()
		return len(switcher.launches) == 1
	}, 2*time.Second, 10*time.Millisecond)
	token := switcher.launches[0].Extras[extraToken]

	f.controller.HandleResult(context.Background(), rail.ExternalResult{
		Rail:    rail.Venmo,
		Code:    rail.ResultOK,
		Token:   token,
		Payload: []byte("venmo-nonce"),
	})
	f.listener.wait(t)

	require.Len(t, f.listener.created, 1)
	assert.Equal(t, "venmo-nonce", f.listener.created[0].Nonce)
	assert.Equal(t, "venmojoe", f.listener.created[0].Details.Username)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.getPaths, 1)
	assert.Equal(t, "/v1/payment_methods/venmo-nonce", transport.getPaths[0])
}

func TestHandleResultMissingNonce(t *testing.T) {
	switcher := &fakeSwitcher{}
	f := newFixture(t, configuration.VenmoLive, genuineInspector(), switcher, &fakeTransport{})

	f.controller.Authorize(context.Background())
	require.Eventually(t, func() bool {
		switcher.mu.Lock()
		defer switcher.mu.Unlock()
		return len(switcher.launches) == 1
	}, 2*time.Second, 10*time.Millisecond)
	token := switcher.launches[0].Extras[extraToken]

	f.controller.HandleResult(context.Background(), rail.ExternalResult{
		Rail:  rail.Venmo,
		Code:  rail.ResultOK,
		Token: token,
	})
	f.listener.wait(t)

	require.Len(t, f.listener.errors, 1)
	var unexpected *sdkerrors.UnexpectedError
	require.ErrorAs(t, f.listener.errors[0], &unexpected)
	assert.Equal(t, "No nonce present in response from Venmo app", unexpected.Message)
}

func TestHandleResultDiscardsUnmatchedToken(t *testing.T) {
	switcher := &fakeSwitcher{}
	f := newFixture(t, configuration.VenmoLive, genuineInspector(), switcher, &fakeTransport{})

	f.controller.Authorize(context.Background())
	require.Eventually(t, func() bool {
		switcher.mu.Lock()
		defer switcher.mu.Unlock()
		return len(switcher.launches) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.controller.HandleResult(context.Background(), rail.ExternalResult{
		Rail:    rail.Venmo,
		Code:    rail.ResultOK,
		Token:   "stale-token",
		Payload: []byte("some-nonce"),
	})

	assert.Empty(t, f.listener.created)
	assert.Empty(t, f.listener.errors)

	entry, err := f.correlator.Pending(context.Background(), rail.Venmo)
	require.NoError(t, err)
	require.NotNil(t, entry)
}
