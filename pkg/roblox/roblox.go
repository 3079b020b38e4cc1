// Package roblox provides the Roblox OAuth2 and Open Cloud client used for
// account verification.
package roblox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SpectacleRBX/SpectacleBot/pkg/config"
)

// Error sentinels for Roblox operations.
var (
	// ErrOAuth indicates a failure in the Roblox OAuth flow.
	ErrOAuth = errors.New("Roblox OAuth error")

	// ErrAPI indicates a failure calling the Roblox Open Cloud API.
	ErrAPI = errors.New("Roblox API error")
)

const (
	// Roblox endpoints.
	defaultOAuthBaseURL = "https://apis.roblox.com/oauth/v1"
	defaultCloudBaseURL = "https://apis.roblox.com/cloud/v2"

	// Default HTTP timeout.
	defaultTimeout = 30 * time.Second
)

// Client provides Roblox OAuth and group-membership operations.
type Client struct {
	log          logrus.FieldLogger
	clientID     string
	clientSecret string
	redirectURI  string
	scopes       string
	oauthBaseURL string
	cloudBaseURL string
	httpClient   *http.Client
}

// NewClient creates a new Roblox client.
func NewClient(log logrus.FieldLogger, cfg config.OAuthConfig) *Client {
	return NewClientWithBaseURLs(log, cfg, defaultOAuthBaseURL, defaultCloudBaseURL)
}

// NewClientWithBaseURLs creates a client against explicit base URLs.
// This is useful for testing with httptest servers.
func NewClientWithBaseURLs(log logrus.FieldLogger, cfg config.OAuthConfig, oauthBaseURL, cloudBaseURL string) *Client {
	return &Client{
		log:          log.WithField("component", "roblox_client"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		scopes:       cfg.Scopes,
		oauthBaseURL: strings.TrimSuffix(oauthBaseURL, "/"),
		cloudBaseURL: strings.TrimSuffix(cloudBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// AuthorizationURL composes the authorize URL for a PKCE code flow.
// Pure string composition; every component is percent-encoded.
func (c *Client) AuthorizationURL(codeChallenge, state string) string {
	params := url.Values{
		"client_id":             {c.clientID},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"S256"},
		"redirect_uri":          {c.redirectURI},
		"scope":                 {c.scopes},
		"response_type":         {"code"},
		"state":                 {state},
	}

	return fmt.Sprintf("%s/authorize?%s", c.oauthBaseURL, params.Encode())
}

// ExchangeCode exchanges an authorization code plus its PKCE verifier for an
// access token.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenResponse, error) {
	data := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {codeVerifier},
	}

	endpoint := fmt.Sprintf("%s/token", c.oauthBaseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrOAuth, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: exchanging code: %v", ErrOAuth, err)
	}

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrOAuth, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.log.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"response":    string(body),
		}).Error("Roblox token exchange failed")

		return nil, fmt.Errorf("%w: status %d", ErrOAuth, resp.StatusCode)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %v", ErrOAuth, err)
	}

	if tokenResp.Error != "" {
		c.log.WithFields(logrus.Fields{
			"error":       tokenResp.Error,
			"description": tokenResp.ErrorDescription,
		}).Error("Roblox OAuth error")

		return nil, fmt.Errorf("%w: %s: %s", ErrOAuth, tokenResp.Error, tokenResp.ErrorDescription)
	}

	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("%w: response contains no access token", ErrOAuth)
	}

	return &tokenResp, nil
}

// UserInfo fetches the Roblox profile for a bearer token.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	endpoint := fmt.Sprintf("%s/userinfo", c.oauthBaseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrAPI, err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", accessToken))
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching userinfo: %v", ErrAPI, err)
	}

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrAPI, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.log.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"response":    string(body),
		}).Error("Roblox userinfo fetch failed")

		return nil, fmt.Errorf("%w: status %d", ErrAPI, resp.StatusCode)
	}

	var userInfo UserInfo
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %v", ErrAPI, err)
	}

	if userInfo.Sub == "" {
		return nil, fmt.Errorf("%w: userinfo contains no subject", ErrAPI)
	}

	return &userInfo, nil
}

// CheckGroupMembership reports whether the Roblox user belongs to the group.
// The membership resource answers 200 for members and 404 for non-members;
// any other response is an error and the caller decides how to degrade.
func (c *Client) CheckGroupMembership(ctx context.Context, groupID, robloxID int64, accessToken string) (bool, error) {
	endpoint := fmt.Sprintf("%s/groups/%d/memberships/users/%d", c.cloudBaseURL, groupID, robloxID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("%w: creating request: %v", ErrAPI, err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", accessToken))
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: checking group membership: %v", ErrAPI, err)
	}

	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		c.log.WithFields(logrus.Fields{
			"roblox_id": robloxID,
			"group_id":  groupID,
		}).Debug("Roblox user is not in group")

		return false, nil
	default:
		return false, fmt.Errorf("%w: status %d checking group %d", ErrAPI, resp.StatusCode, groupID)
	}
}
