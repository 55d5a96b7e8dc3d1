package configuration

import (
	"encoding/json"

	"github.com/solventry/paysdk/internal/sdkerrors"
)

// Venmo rail states from the remote configuration.
const (
	VenmoOff     = "off"
	VenmoOffline = "offline"
	VenmoLive    = "live"
)

// Configuration is the immutable remote merchant configuration, fetched once
// per session. All flow entry points wait on the Gate before reading it.
type Configuration struct {
	ClientAPIURL        string                  `json:"clientApiUrl"`
	Challenges          []string                `json:"challenges"`
	PayPalEnabled       bool                    `json:"paypalEnabled"`
	PayPal              *PayPalConfiguration    `json:"paypal"`
	Venmo               string                  `json:"venmo"`
	ThreeDSecureEnabled bool                    `json:"threeDSecureEnabled"`
	MerchantID          string                  `json:"merchantId"`
	MerchantAccountID   string                  `json:"merchantAccountId"`
	Analytics           *AnalyticsConfiguration `json:"analytics"`
}

type PayPalConfiguration struct {
	DisplayName              string `json:"displayName"`
	ClientID                 string `json:"clientId"`
	PrivacyURL               string `json:"privacyUrl"`
	UserAgreementURL         string `json:"userAgreementUrl"`
	Environment              string `json:"environment"`
	CurrencyISOCode          string `json:"currencyIsoCode"`
	BillingAgreementsEnabled bool   `json:"billingAgreementsEnabled"`
}

type AnalyticsConfiguration struct {
	URL string `json:"url"`
}

// Parse decodes the configuration payload returned by the config endpoint.
func Parse(raw []byte) (*Configuration, error) {
	var cfg Configuration
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, sdkerrors.NewUnexpectedError("Configuration response could not be parsed", err)
	}
	if cfg.ClientAPIURL == "" || cfg.MerchantID == "" {
		return nil, sdkerrors.NewUnexpectedError("Configuration response is missing required fields", nil)
	}
	return &cfg, nil
}

func (c *Configuration) IsPayPalEnabled() bool {
	return c.PayPalEnabled && c.PayPal != nil
}

// VenmoState normalizes an absent venmo entry to "off".
func (c *Configuration) VenmoState() string {
	if c.Venmo == "" {
		return VenmoOff
	}
	return c.Venmo
}

func (c *Configuration) IsCvvChallengePresent() bool {
	return c.isChallengePresent("cvv")
}

func (c *Configuration) IsPostalCodeChallengePresent() bool {
	return c.isChallengePresent("postal_code")
}

func (c *Configuration) IsAnalyticsEnabled() bool {
	return c.Analytics != nil && c.Analytics.URL != ""
}

func (c *Configuration) isChallengePresent(challenge string) bool {
	for _, ch := range c.Challenges {
		if ch == challenge {
			return true
		}
	}
	return false
}
