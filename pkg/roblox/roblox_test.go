package roblox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpectacleRBX/SpectacleBot/pkg/config"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func testOAuthConfig() config.OAuthConfig {
	return config.OAuthConfig{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost:5000/callback",
		Scopes:       "openid profile group:read",
	}
}

func TestAuthorizationURL(t *testing.T) {
	c := NewClient(testLogger(), testOAuthConfig())

	raw := c.AuthorizationURL("chal+lenge", "sta te")

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/oauth/v1/authorize", parsed.Path)

	q := parsed.Query()
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "chal+lenge", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "sta te", q.Get("state"))
	assert.Equal(t, "openid profile group:read", q.Get("scope"))
	assert.Equal(t, "http://localhost:5000/callback", q.Get("redirect_uri"))
}

func TestExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/token", r.URL.Path)
		require.NoError(t, r.ParseForm())

		assert.Equal(t, "authorization_code", r.FormValue("grant_type"))
		assert.Equal(t, "xyz", r.FormValue("code"))
		assert.Equal(t, "verifier", r.FormValue("code_verifier"))
		assert.Equal(t, "cid", r.FormValue("client_id"))
		assert.Equal(t, "secret", r.FormValue("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok1","token_type":"Bearer"}`))
	}))
	defer srv.Close()

	c := NewClientWithBaseURLs(testLogger(), testOAuthConfig(), srv.URL, srv.URL)

	tok, err := c.ExchangeCode(context.Background(), "xyz", "verifier")
	require.NoError(t, err)
	assert.Equal(t, "tok1", tok.AccessToken)
}

func TestExchangeCodeNoAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	c := NewClientWithBaseURLs(testLogger(), testOAuthConfig(), srv.URL, srv.URL)

	_, err := c.ExchangeCode(context.Background(), "xyz", "verifier")
	assert.ErrorIs(t, err, ErrOAuth)
}

func TestExchangeCodeErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"bad code"}`))
	}))
	defer srv.Close()

	c := NewClientWithBaseURLs(testLogger(), testOAuthConfig(), srv.URL, srv.URL)

	_, err := c.ExchangeCode(context.Background(), "xyz", "verifier")
	require.ErrorIs(t, err, ErrOAuth)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestUserInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/userinfo", r.URL.Path)
		assert.Equal(t, "Bearer tok1", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"900","preferred_username":"nova"}`))
	}))
	defer srv.Close()

	c := NewClientWithBaseURLs(testLogger(), testOAuthConfig(), srv.URL, srv.URL)

	info, err := c.UserInfo(context.Background(), "tok1")
	require.NoError(t, err)

	id, err := info.ID()
	require.NoError(t, err)
	assert.Equal(t, int64(900), id)
	assert.Equal(t, "nova", info.DisplayName())
}

func TestUserInfoDisplayNameFallbacks(t *testing.T) {
	assert.Equal(t, "nova", (&UserInfo{Sub: "900", PreferredUsername: "nova", Nickname: "nick"}).DisplayName())
	assert.Equal(t, "nick", (&UserInfo{Sub: "900", Nickname: "nick"}).DisplayName())
	assert.Equal(t, "900", (&UserInfo{Sub: "900"}).DisplayName())
}

func TestCheckGroupMembership(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		want    bool
		wantErr bool
	}{
		{name: "member", status: http.StatusOK, want: true},
		{name: "not a member", status: http.StatusNotFound, want: false},
		{name: "server error", status: http.StatusInternalServerError, want: false, wantErr: true},
		{name: "rate limited", status: http.StatusTooManyRequests, want: false, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/groups/55/memberships/users/900", r.URL.Path)
				assert.Equal(t, "Bearer tok1", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClientWithBaseURLs(testLogger(), testOAuthConfig(), srv.URL, srv.URL)

			member, err := c.CheckGroupMembership(context.Background(), 55, 900, "tok1")
			assert.Equal(t, tt.want, member)

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrAPI)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
