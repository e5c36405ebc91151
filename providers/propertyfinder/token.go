// Package propertyfinder talks to the listing platform: API key exchange for
// bearer tokens and listing detail lookups used to enrich leads.
package propertyfinder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-leadrelay/auth"
	"github.com/goliatone/go-leadrelay/core"
	"github.com/goliatone/go-leadrelay/transport"
)

const ProviderID = "propertyfinder"

// TokenExchanger trades the API key and secret for a bearer token.
type TokenExchanger struct {
	client    transport.Client
	tokenURL  string
	apiKey    string
	apiSecret string
}

func NewTokenExchanger(client transport.Client, cfg core.SourceConfig) *TokenExchanger {
	return &TokenExchanger{
		client:    client,
		tokenURL:  strings.TrimSpace(cfg.TokenURL),
		apiKey:    strings.TrimSpace(cfg.APIKey),
		apiSecret: strings.TrimSpace(cfg.APISecret),
	}
}

func (e *TokenExchanger) Exchange(ctx context.Context) (auth.Grant, error) {
	if e == nil || e.client == nil {
		return auth.Grant{}, core.NewAuthError(core.UpstreamSource, "propertyfinder: token exchanger is not configured", nil, nil)
	}
	if e.tokenURL == "" || e.apiKey == "" || e.apiSecret == "" {
		return auth.Grant{}, core.NewAuthError(core.UpstreamSource, "propertyfinder: token url, api key and api secret are required", nil, nil)
	}

	payload, err := json.Marshal(map[string]string{
		"apiKey":    e.apiKey,
		"apiSecret": e.apiSecret,
	})
	if err != nil {
		return auth.Grant{}, core.NewAuthError(core.UpstreamSource, "propertyfinder: encode token request", err, nil)
	}

	res, err := e.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    e.tokenURL,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		Body: payload,
	})
	if err != nil {
		return auth.Grant{}, core.NewAuthError(core.UpstreamSource, "propertyfinder: token request failed", err, nil)
	}
	if !res.Success() {
		return auth.Grant{}, core.NewAuthError(
			core.UpstreamSource,
			fmt.Sprintf("propertyfinder: token endpoint returned %d", res.StatusCode),
			nil,
			map[string]any{"status_code": res.StatusCode},
		)
	}
	grant, err := auth.ParseGrant(res.Body)
	if err != nil {
		return auth.Grant{}, core.NewAuthError(core.UpstreamSource, "propertyfinder: malformed token response", err, nil)
	}
	return grant, nil
}

var _ auth.Exchanger = (*TokenExchanger)(nil)
