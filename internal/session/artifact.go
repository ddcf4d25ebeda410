package session

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"commsec-trader/internal/types"
)

// Artifact is the opaque session state the platform hands back: cookies,
// the rotating request token, the default trading account and the accounts
// seen at login. Transports and backends read it; only the Manager resets it.
type Artifact struct {
	mu             sync.Mutex
	jar            *cookiejar.Jar
	requestToken   string
	defaultAccount string
	accounts       []types.Account
}

func NewArtifact() *Artifact {
	a := &Artifact{}
	a.jar = newJar()
	return a
}

func newJar() *cookiejar.Jar {
	// cookiejar.New only fails on a bad PublicSuffixList, and none is given.
	jar, _ := cookiejar.New(nil)
	return jar
}

// SetCookies implements http.CookieJar.
func (a *Artifact) SetCookies(u *url.URL, cookies []*http.Cookie) {
	a.mu.Lock()
	jar := a.jar
	a.mu.Unlock()
	jar.SetCookies(u, cookies)
}

// Cookies implements http.CookieJar.
func (a *Artifact) Cookies(u *url.URL) []*http.Cookie {
	a.mu.Lock()
	jar := a.jar
	a.mu.Unlock()
	return jar.Cookies(u)
}

func (a *Artifact) RequestToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requestToken
}

// SetRequestToken records the token returned by the latest successful
// exchange. Empty tokens are ignored so a response without one keeps the
// previous value.
func (a *Artifact) SetRequestToken(token string) {
	if token == "" {
		return
	}
	a.mu.Lock()
	a.requestToken = token
	a.mu.Unlock()
}

func (a *Artifact) DefaultAccount() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.defaultAccount
}

func (a *Artifact) Accounts() []types.Account {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.Account(nil), a.accounts...)
}

func (a *Artifact) setDefaultAccount(acct string) {
	a.mu.Lock()
	a.defaultAccount = acct
	a.mu.Unlock()
}

func (a *Artifact) store(res types.LoginResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if res.RequestToken != "" {
		a.requestToken = res.RequestToken
	}
	a.accounts = append([]types.Account(nil), res.Accounts...)
	a.defaultAccount = res.DefaultAccount
	if a.defaultAccount == "" {
		for _, acct := range res.Accounts {
			if acct.DefaultTrading {
				a.defaultAccount = acct.Number
				break
			}
		}
	}
}

// reset drops everything tied to the previous login.
func (a *Artifact) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jar = newJar()
	a.requestToken = ""
	a.accounts = nil
	a.defaultAccount = ""
}
