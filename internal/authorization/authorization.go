// Package authorization decodes the credential a merchant server hands to
// the client: either a client token minted per session or a static client
// key.
package authorization

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/solventry/paysdk/internal/sdkerrors"
)

type Kind int

const (
	KindClientToken Kind = iota + 1
	KindClientKey
)

// environments a client key may be scoped to
var keyEnvironments = map[string]bool{
	"development": true,
	"sandbox":     true,
	"production":  true,
}

// Authorization is the decoded credential. For a client token the
// fingerprint and config URL come out of the token itself; for a client key
// the raw key authenticates requests and the config URL must be supplied
// separately.
type Authorization struct {
	Kind        Kind
	Fingerprint string
	ConfigURL   string
	ClientKey   string
	Environment string
}

// Parse decodes a raw credential string. Client keys are recognized by their
// environment prefix; anything else is treated as a client token, accepted
// either base64-encoded or as raw JSON.
func Parse(raw string) (*Authorization, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, sdkerrors.NewConfigurationError("Authorization is empty")
	}

	if env, ok := keyEnvironment(raw); ok {
		return &Authorization{
			Kind:        KindClientKey,
			ClientKey:   raw,
			Environment: env,
		}, nil
	}

	return parseClientToken(raw)
}

func keyEnvironment(raw string) (string, bool) {
	prefix, _, found := strings.Cut(raw, "_")
	if !found {
		return "", false
	}
	return prefix, keyEnvironments[prefix]
}

func parseClientToken(raw string) (*Authorization, error) {
	decoded := []byte(raw)
	if !strings.HasPrefix(raw, "{") {
		var err error
		decoded, err = base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, sdkerrors.NewConfigurationError("Client token is not valid base64")
		}
	}

	var token struct {
		AuthorizationFingerprint string `json:"authorizationFingerprint"`
		ConfigURL                string `json:"configUrl"`
	}
	if err := json.Unmarshal(decoded, &token); err != nil {
		return nil, sdkerrors.NewConfigurationError("Client token could not be parsed")
	}
	if token.AuthorizationFingerprint == "" || token.ConfigURL == "" {
		return nil, sdkerrors.NewConfigurationError("Client token is missing required fields")
	}

	return &Authorization{
		Kind:        KindClientToken,
		Fingerprint: token.AuthorizationFingerprint,
		ConfigURL:   token.ConfigURL,
	}, nil
}
