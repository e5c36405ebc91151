// Package zoho delivers canonical leads to Zoho CRM. Tokens come from the
// OAuth refresh-token grant; records are created through the v2 module API.
package zoho

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-leadrelay/auth"
	"github.com/goliatone/go-leadrelay/core"
	"github.com/goliatone/go-leadrelay/transport"
)

const ProviderID = "zoho"

// RefreshTokenExchanger runs the refresh_token grant against the accounts
// server. Zoho reports grant failures as 200 responses carrying "error".
type RefreshTokenExchanger struct {
	client       transport.Client
	tokenURL     string
	clientID     string
	clientSecret string
	refreshToken string
}

func NewRefreshTokenExchanger(client transport.Client, cfg core.CRMConfig) *RefreshTokenExchanger {
	return &RefreshTokenExchanger{
		client:       client,
		tokenURL:     strings.TrimSpace(cfg.TokenURL),
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: strings.TrimSpace(cfg.ClientSecret),
		refreshToken: strings.TrimSpace(cfg.RefreshToken),
	}
}

func (e *RefreshTokenExchanger) Exchange(ctx context.Context) (auth.Grant, error) {
	if e == nil || e.client == nil {
		return auth.Grant{}, core.NewAuthError(core.UpstreamCRM, "zoho: token exchanger is not configured", nil, nil)
	}
	if e.tokenURL == "" || e.clientID == "" || e.clientSecret == "" || e.refreshToken == "" {
		return auth.Grant{}, core.NewAuthError(core.UpstreamCRM, "zoho: token url, client credentials and refresh token are required", nil, nil)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", e.refreshToken)
	form.Set("client_id", e.clientID)
	form.Set("client_secret", e.clientSecret)

	res, err := e.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    e.tokenURL,
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
			"Accept":       "application/json",
		},
		Body: []byte(form.Encode()),
	})
	if err != nil {
		return auth.Grant{}, core.NewAuthError(core.UpstreamCRM, "zoho: token request failed", err, nil)
	}
	if !res.Success() {
		return auth.Grant{}, core.NewAuthError(
			core.UpstreamCRM,
			fmt.Sprintf("zoho: token endpoint returned %d", res.StatusCode),
			nil,
			map[string]any{"status_code": res.StatusCode},
		)
	}
	grant, err := auth.ParseGrant(res.Body)
	if err != nil {
		return auth.Grant{}, core.NewAuthError(core.UpstreamCRM, "zoho: token exchange rejected", err, nil)
	}
	return grant, nil
}

var _ auth.Exchanger = (*RefreshTokenExchanger)(nil)
