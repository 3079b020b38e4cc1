package link

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpectacleRBX/SpectacleBot/pkg/linkage"
	"github.com/SpectacleRBX/SpectacleBot/pkg/roblox"
	"github.com/SpectacleRBX/SpectacleBot/pkg/rolesync"
	"github.com/SpectacleRBX/SpectacleBot/pkg/session"
)

type fakeProvider struct {
	exchangeErr   error
	userInfoErr   error
	userInfo      roblox.UserInfo
	gotCode       string
	gotVerifier   string
	exchangeCalls int
	userInfoCalls int
}

func (f *fakeProvider) AuthorizationURL(codeChallenge, state string) string {
	return "https://apis.roblox.com/oauth/v1/authorize?code_challenge=" + codeChallenge + "&state=" + url.QueryEscape(state)
}

func (f *fakeProvider) ExchangeCode(_ context.Context, code, codeVerifier string) (*roblox.TokenResponse, error) {
	f.exchangeCalls++
	f.gotCode = code
	f.gotVerifier = codeVerifier

	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}

	return &roblox.TokenResponse{AccessToken: "tok1"}, nil
}

func (f *fakeProvider) UserInfo(_ context.Context, _ string) (*roblox.UserInfo, error) {
	f.userInfoCalls++

	if f.userInfoErr != nil {
		return nil, f.userInfoErr
	}

	info := f.userInfo

	return &info, nil
}

type fakeSynchronizer struct {
	result       *rolesync.Result
	gotRequester int64
	gotRoblox    int64
	gotToken     string
}

func (f *fakeSynchronizer) Apply(_ context.Context, requesterID, robloxID int64, accessToken string) *rolesync.Result {
	f.gotRequester = requesterID
	f.gotRoblox = robloxID
	f.gotToken = accessToken

	if f.result != nil {
		return f.result
	}

	return &rolesync.Result{
		Applied: map[int64][]int64{},
		Errors:  map[int64]error{},
	}
}

type fixture struct {
	service  *Service
	sessions session.Store
	links    linkage.Store
	provider *fakeProvider
	roles    *fakeSynchronizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	f := &fixture{
		sessions: session.NewMemoryStore(log),
		links:    linkage.NewMemoryStore(),
		provider: &fakeProvider{userInfo: roblox.UserInfo{Sub: "900", PreferredUsername: "nova"}},
		roles:    &fakeSynchronizer{},
	}

	f.service = NewService(log, f.sessions, f.links, f.provider, f.roles, nil, "https://spst.dev/verify")

	return f
}

func TestBeginCreatesConsumableSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Begin(ctx, 42, 7)
	require.NoError(t, err)

	assert.NotEmpty(t, result.State)
	assert.Contains(t, result.AuthorizationURL, url.QueryEscape(result.State))
	assert.Contains(t, result.AuthorizationURL, "code_challenge=")

	sess, err := f.sessions.Consume(ctx, result.State)
	require.NoError(t, err)

	assert.Equal(t, int64(42), sess.RequesterID)
	assert.Equal(t, int64(7), sess.GuildID)
	assert.NotEmpty(t, sess.CodeVerifier)
}

func TestBeginAlreadyLinked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.links.Upsert(ctx, &linkage.Linkage{
		RequesterID:    42,
		RobloxID:       900,
		RobloxUsername: "nova",
		LinkedAt:       time.Now(),
	}))

	_, err := f.service.Begin(ctx, 42, 7)
	assert.ErrorIs(t, err, ErrAlreadyLinked)
}

func TestHandleCallbackSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	begin, err := f.service.Begin(ctx, 42, 7)
	require.NoError(t, err)

	result, err := f.service.HandleCallback(ctx, "xyz", begin.State)
	require.NoError(t, err)

	assert.Equal(t, "xyz", f.provider.gotCode)
	assert.NotEmpty(t, f.provider.gotVerifier)

	assert.Equal(t, int64(42), result.Linkage.RequesterID)
	assert.Equal(t, int64(900), result.Linkage.RobloxID)
	assert.Equal(t, "nova", result.Linkage.RobloxUsername)

	redirect, err := url.Parse(result.RedirectURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.RedirectURL, "https://spst.dev/verify?"))
	assert.Equal(t, "true", redirect.Query().Get("success"))
	assert.Equal(t, "nova", redirect.Query().Get("rbx"))

	stored, err := f.links.GetByRequester(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(900), stored.RobloxID)

	assert.Equal(t, int64(42), f.roles.gotRequester)
	assert.Equal(t, int64(900), f.roles.gotRoblox)
	assert.Equal(t, "tok1", f.roles.gotToken)
}

func TestHandleCallbackMissingParameters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.HandleCallback(ctx, "", "some-state")
	assert.ErrorIs(t, err, ErrMissingParameters)

	_, err = f.service.HandleCallback(ctx, "xyz", "")
	assert.ErrorIs(t, err, ErrMissingParameters)

	assert.Zero(t, f.provider.exchangeCalls)
}

func TestHandleCallbackUnknownState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.HandleCallback(ctx, "xyz", "never-issued")
	assert.ErrorIs(t, err, ErrSessionInvalid)

	assert.Zero(t, f.provider.exchangeCalls, "no outbound call for an unknown state")

	_, err = f.links.GetByRequester(ctx, 42)
	assert.ErrorIs(t, err, linkage.ErrNotFound)
}

func TestHandleCallbackReplayedState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	begin, err := f.service.Begin(ctx, 42, 7)
	require.NoError(t, err)

	_, err = f.service.HandleCallback(ctx, "xyz", begin.State)
	require.NoError(t, err)

	_, err = f.service.HandleCallback(ctx, "xyz", begin.State)
	assert.ErrorIs(t, err, ErrSessionInvalid)

	assert.Equal(t, 1, f.provider.exchangeCalls)
}

func TestHandleCallbackExchangeFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.provider.exchangeErr = roblox.ErrOAuth

	begin, err := f.service.Begin(ctx, 42, 7)
	require.NoError(t, err)

	_, err = f.service.HandleCallback(ctx, "xyz", begin.State)
	assert.ErrorIs(t, err, ErrTokenExchange)

	_, err = f.links.GetByRequester(ctx, 42)
	assert.ErrorIs(t, err, linkage.ErrNotFound)

	// The session was consumed, so the attempt cannot be retried.
	_, err = f.service.HandleCallback(ctx, "xyz", begin.State)
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestHandleCallbackProfileFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.provider.userInfoErr = roblox.ErrAPI

	begin, err := f.service.Begin(ctx, 42, 7)
	require.NoError(t, err)

	_, err = f.service.HandleCallback(ctx, "xyz", begin.State)
	assert.ErrorIs(t, err, ErrProfileFetch)

	_, err = f.links.GetByRequester(ctx, 42)
	assert.ErrorIs(t, err, linkage.ErrNotFound)
}

func TestHandleCallbackRoleErrorsDoNotFailLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.roles.result = &rolesync.Result{
		Applied: map[int64][]int64{},
		Errors:  map[int64]error{7: errors.New("forbidden")},
	}

	begin, err := f.service.Begin(ctx, 42, 7)
	require.NoError(t, err)

	result, err := f.service.HandleCallback(ctx, "xyz", begin.State)
	require.NoError(t, err)

	assert.Len(t, result.Roles.Errors, 1)

	stored, err := f.links.GetByRequester(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "nova", stored.RobloxUsername)
}

func TestStatusAndUnlink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Status(ctx, 42)
	assert.ErrorIs(t, err, ErrNotLinked)

	require.NoError(t, f.links.Upsert(ctx, &linkage.Linkage{
		RequesterID:    42,
		RobloxID:       900,
		RobloxUsername: "nova",
		LinkedAt:       time.Now(),
	}))

	link, err := f.service.Status(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "nova", link.RobloxUsername)

	require.NoError(t, f.service.Unlink(ctx, 42))

	err = f.service.Unlink(ctx, 42)
	assert.ErrorIs(t, err, ErrNotLinked)
}
