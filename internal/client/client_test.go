package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solventry/paysdk/internal/config"
	"github.com/solventry/paysdk/internal/correlate"
	"github.com/solventry/paysdk/internal/descriptor"
	"github.com/solventry/paysdk/internal/paymethod"
	"github.com/solventry/paysdk/internal/rail"
	"github.com/solventry/paysdk/internal/sdkerrors"
)

type gatewayServer struct {
	*httptest.Server

	mu             sync.Mutex
	configRequests []string
	tokenizeBodies []string
	tokenizeStatus int
	tokenizeBody   string
	paypalEnabled  bool
}

func newGatewayServer(t *testing.T) *gatewayServer {
	t.Helper()

	gs := &gatewayServer{
		tokenizeStatus: http.StatusCreated,
		tokenizeBody:   `{"creditCards":[{"nonce":"card-nonce","type":"CreditCard","description":"ending in 51","details":{"lastTwo":"51","cardType":"Visa"}}]}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		gs.mu.Lock()
		gs.configRequests = append(gs.configRequests, r.URL.RawQuery)
		paypalEnabled := gs.paypalEnabled
		gs.mu.Unlock()

		cfg := map[string]any{
			"clientApiUrl": gs.URL + "/client_api",
			"merchantId":   "integration-merchant",
			"challenges":   []string{"cvv"},
		}
		if paypalEnabled {
			cfg["paypalEnabled"] = true
			cfg["paypal"] = map[string]any{
				"displayName": "Example Store",
				"clientId":    "paypal-client-id",
				"environment": "offline",
			}
		}
		json.NewEncoder(w).Encode(cfg)
	})
	mux.HandleFunc("/client_api/v1/payment_methods/credit_cards", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		gs.mu.Lock()
		gs.tokenizeBodies = append(gs.tokenizeBodies, r.URL.RawQuery+" "+string(body))
		status, respBody := gs.tokenizeStatus, gs.tokenizeBody
		gs.mu.Unlock()

		w.WriteHeader(status)
		w.Write([]byte(respBody))
	})

	gs.Server = httptest.NewServer(mux)
	t.Cleanup(gs.Close)
	return gs
}

func (gs *gatewayServer) clientToken() string {
	token, _ := json.Marshal(map[string]string{
		"authorizationFingerprint": "test-fingerprint",
		"configUrl":                gs.URL + "/config",
	})
	return base64.StdEncoding.EncodeToString(token)
}

func testConfig(clientToken string) *config.Config {
	return &config.Config{
		Authorization: config.AuthorizationConfig{ClientToken: clientToken},
		HTTP:          config.HTTPConfig{Timeout: 5 * time.Second},
		Analytics:     config.AnalyticsConfig{IntegrationType: "custom"},
		Pending:       config.PendingConfig{TTL: time.Hour, SweepInterval: time.Minute},
	}
}

type fakeProvider struct {
	mu       sync.Mutex
	requests []rail.WalletRequest
	status   rail.PerformStatus
	err      error
}

func (f *fakeProvider) PerformRequest(ctx context.Context, req rail.WalletRequest) (rail.PerformStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.status, f.err
}

func (f *fakeProvider) DecodeResult(raw []byte) (rail.WalletResult, error) {
	return rail.WalletResult{Type: rail.WalletResultSuccess, Response: raw}, nil
}

type capturingListener struct {
	mu          sync.Mutex
	created     []*paymethod.PaymentMethod
	recoverable []*sdkerrors.ErrorWithResponse
	errors      []error
	done        chan struct{}
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

func (l *capturingListener) OnRecoverableError(err *sdkerrors.ErrorWithResponse) {
	l.mu.Lock()
	l.recoverable = append(l.recoverable, err)
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
	case <-time.After(5 * time.Second):
		t.Fatal("no outcome delivered")
	}
}

func newTestClient(t *testing.T, gs *gatewayServer, opts Options) (*Client, *capturingListener, *correlate.MemoryStore) {
	t.Helper()

	store := correlate.NewMemoryStore()
	opts.Store = store
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c, err := New(context.Background(), testConfig(gs.clientToken()), opts)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	listener := newCapturingListener()
	c.AddListener(listener)
	return c, listener, store
}

func TestTokenizeCardEndToEnd(t *testing.T) {
	gs := newGatewayServer(t)
	c, listener, _ := newTestClient(t, gs, Options{})

	c.TokenizeCard(context.Background(), &descriptor.Card{
		Number:          "4000000000000051",
		ExpirationMonth: "12",
		ExpirationYear:  "2030",
	})
	listener.wait(t)

	require.Len(t, listener.created, 1)
	assert.Equal(t, "card-nonce", listener.created[0].Nonce)
	assert.Equal(t, "51", listener.created[0].Details.LastTwo)

	gs.mu.Lock()
	defer gs.mu.Unlock()
	require.Len(t, gs.configRequests, 1)
	assert.Contains(t, gs.configRequests[0], "configVersion=3")
	require.Len(t, gs.tokenizeBodies, 1)
	assert.Contains(t, gs.tokenizeBodies[0], "authorizationFingerprint=test-fingerprint")
	assert.Contains(t, gs.tokenizeBodies[0], `"number":"4000000000000051"`)
}

func TestTokenizeCardValidationFailure(t *testing.T) {
	gs := newGatewayServer(t)
	gs.tokenizeStatus = http.StatusUnprocessableEntity
	gs.tokenizeBody = `{"error":{"message":"Credit card is invalid"},"fieldErrors":[{"field":"creditCard","fieldErrors":[{"field":"number","code":"81714","message":"Credit card number is required"}]}]}`

	c, listener, _ := newTestClient(t, gs, Options{})

	// the card is sent as entered; field validation is the gateway's job
	c.TokenizeCard(context.Background(), &descriptor.Card{ExpirationDate: "12/2030"})
	listener.wait(t)

	require.Len(t, listener.recoverable, 1)
	ewr := listener.recoverable[0]
	assert.Equal(t, "Credit card is invalid", ewr.Message)
	numberErr := ewr.ErrorFor("creditCard").ErrorFor("number")
	require.NotNil(t, numberErr)
	assert.Equal(t, "Credit card number is required", numberErr.Message)
	assert.Empty(t, listener.errors)
	assert.Empty(t, listener.created)
}

func TestPayPalUnavailableLeavesNothingPending(t *testing.T) {
	gs := newGatewayServer(t)
	gs.paypalEnabled = true
	provider := &fakeProvider{err: context.DeadlineExceeded}

	c, listener, store := newTestClient(t, gs, Options{WalletProvider: provider})

	c.AuthorizePayPal(context.Background(), nil)
	listener.wait(t)

	require.Len(t, listener.errors, 1)
	assert.True(t, sdkerrors.IsAppSwitchNotAvailable(listener.errors[0]))

	entry, err := store.Get(context.Background(), rail.PayPal)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestExternalResultWithoutDataIsNoOp(t *testing.T) {
	gs := newGatewayServer(t)
	gs.paypalEnabled = true
	provider := &fakeProvider{status: rail.PerformStatus{Success: true, Target: rail.TargetWallet}}

	c, listener, store := newTestClient(t, gs, Options{WalletProvider: provider})

	c.AuthorizePayPal(context.Background(), nil)
	require.Eventually(t, func() bool {
		provider.mu.Lock()
		defer provider.mu.Unlock()
		return len(provider.requests) == 1
	}, 5*time.Second, 10*time.Millisecond)
	token := provider.requests[0].Token

	handled := c.OnExternalResult(context.Background(), rail.ExternalResult{
		Rail:  rail.PayPal,
		Code:  rail.ResultCanceled,
		Token: token,
	})
	assert.True(t, handled)

	// nothing delivered and the round trip stays pending
	assert.Empty(t, listener.created)
	assert.Empty(t, listener.errors)
	entry, err := store.Get(context.Background(), rail.PayPal)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, token, entry.Token)
}

func TestExternalResultForUnknownRail(t *testing.T) {
	gs := newGatewayServer(t)
	c, _, _ := newTestClient(t, gs, Options{})

	handled := c.OnExternalResult(context.Background(), rail.ExternalResult{
		Rail: rail.Rail("apple-pay"),
		Code: rail.ResultOK,
	})
	assert.False(t, handled)
}

func TestRailWithoutCollaboratorsReportsUnconfigured(t *testing.T) {
	gs := newGatewayServer(t)
	c, listener, _ := newTestClient(t, gs, Options{})

	c.AuthorizeVenmo(context.Background())
	listener.wait(t)

	require.Len(t, listener.errors, 1)
	assert.True(t, sdkerrors.IsConfigurationError(listener.errors[0]))

	handled := c.OnExternalResult(context.Background(), rail.ExternalResult{Rail: rail.Venmo, Code: rail.ResultOK})
	assert.False(t, handled)
}

func TestConfigurationFetchedOnce(t *testing.T) {
	gs := newGatewayServer(t)
	c, listener, _ := newTestClient(t, gs, Options{})

	for i := 0; i < 3; i++ {
		c.TokenizeCard(context.Background(), &descriptor.Card{Number: "4111111111111111"})
		listener.wait(t)
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()
	assert.Len(t, gs.configRequests, 1)
	assert.Len(t, gs.tokenizeBodies, 3)
}

func TestClientKeyRequiresConfigURL(t *testing.T) {
	cfg := testConfig("")
	cfg.Authorization.ClientToken = ""
	cfg.Authorization.ClientKey = "sandbox_abc123_merchant"

	_, err := New(context.Background(), cfg, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	assert.True(t, sdkerrors.IsConfigurationError(err))
}
