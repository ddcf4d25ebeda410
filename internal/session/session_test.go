package session

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commsec-trader/internal/brokererr"
	"commsec-trader/internal/types"
)

type fakeAuth struct {
	mu      sync.Mutex
	logins  int
	logouts int
	seen    []types.Credentials
	err     error
	result  types.LoginResult
}

func (f *fakeAuth) Login(_ context.Context, creds types.Credentials) (types.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	f.seen = append(f.seen, creds)
	return f.result, f.err
}

func (f *fakeAuth) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

type memStore struct {
	ids map[string]string
}

func (s *memStore) LoadDeviceID(_ context.Context, clientID string) (string, error) {
	return s.ids[clientID], nil
}

func (s *memStore) SaveDeviceID(_ context.Context, clientID, deviceID string) error {
	s.ids[clientID] = deviceID
	return nil
}

var testCreds = types.Credentials{ClientID: "12345678", Password: "pw", TradingPassword: "tp"}

func TestEnsureAuthenticatedLogsInAtMostOnce(t *testing.T) {
	auth := &fakeAuth{}
	m := NewManager(auth, testCreds, nil)
	ctx := context.Background()

	require.NoError(t, m.EnsureAuthenticated(ctx))
	require.NoError(t, m.EnsureAuthenticated(ctx))
	assert.Equal(t, 1, auth.logins)
	assert.True(t, m.Connected())

	m.Invalidate()
	assert.False(t, m.Connected())
	require.NoError(t, m.EnsureAuthenticated(ctx))
	assert.Equal(t, 2, auth.logins)
}

func TestConnectWithoutCredentialsIsConfigurationError(t *testing.T) {
	auth := &fakeAuth{}
	m := NewManager(auth, types.Credentials{ClientID: "12345678"}, nil)

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, brokererr.IsConfiguration(err))
	assert.Zero(t, auth.logins)
}

func TestRejectedLoginIsAuthenticationError(t *testing.T) {
	auth := &fakeAuth{err: errors.New("HTTP 200 without redirect")}
	m := NewManager(auth, testCreds, nil)

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, brokererr.IsAuthentication(err))
	assert.False(t, m.Connected())
	assert.Equal(t, 1, auth.logins)
	assert.NotContains(t, err.Error(), "pw")
}

func TestConnectStoresArtifactAndResetsCookies(t *testing.T) {
	auth := &fakeAuth{result: types.LoginResult{
		RequestToken: "tok-1",
		Accounts: []types.Account{
			{Number: "111", Name: "Cash"},
			{Number: "222", Name: "Margin", DefaultTrading: true},
		},
	}}
	art := NewArtifact()
	u, _ := url.Parse("https://example.test/")
	art.SetCookies(u, []*http.Cookie{{Name: "old", Value: "1"}})

	m := NewManager(auth, testCreds, art)
	require.NoError(t, m.Connect(context.Background()))

	assert.Empty(t, art.Cookies(u))
	assert.Equal(t, "tok-1", art.RequestToken())
	assert.Equal(t, "222", m.DefaultAccount())

	art.SetRequestToken("")
	assert.Equal(t, "tok-1", art.RequestToken())
	art.SetRequestToken("tok-2")
	assert.Equal(t, "tok-2", art.RequestToken())
}

func TestSetDefaultAccountSurvivesRelogin(t *testing.T) {
	auth := &fakeAuth{result: types.LoginResult{
		DefaultAccount: "111",
		Accounts:       []types.Account{{Number: "111"}, {Number: "222"}},
	}}
	m := NewManager(auth, testCreds, nil)
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))

	assert.True(t, brokererr.IsConfiguration(m.SetDefaultAccount("999")))
	require.NoError(t, m.SetDefaultAccount("222"))

	m.Invalidate()
	require.NoError(t, m.EnsureAuthenticated(ctx))
	assert.Equal(t, "222", m.DefaultAccount())
}

func TestDeviceIDIsPersistedAndReused(t *testing.T) {
	store := &memStore{ids: map[string]string{}}
	auth := &fakeAuth{result: types.LoginResult{DeviceID: "dev-9"}}
	ctx := context.Background()

	m := NewManager(auth, testCreds, nil, WithArtifactStore(store))
	require.NoError(t, m.Connect(ctx))
	assert.Equal(t, "dev-9", store.ids["12345678"])
	assert.Equal(t, "dev-9", m.Credentials().DeviceID)

	m2 := NewManager(auth, testCreds, nil, WithArtifactStore(store))
	require.NoError(t, m2.Connect(ctx))
	require.Len(t, auth.seen, 2)
	assert.Equal(t, "dev-9", auth.seen[1].DeviceID)
}

func TestLogoutAlwaysInvalidates(t *testing.T) {
	auth := &fakeAuth{}
	m := NewManager(auth, testCreds, nil)
	ctx := context.Background()

	require.NoError(t, m.Logout(ctx))
	assert.Zero(t, auth.logouts)

	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Logout(ctx))
	assert.Equal(t, 1, auth.logouts)
	assert.False(t, m.Connected())
}
