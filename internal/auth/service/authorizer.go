package service

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Authorizer builds identity provider authorize URLs when the backend cannot
// hand them out.
type Authorizer struct {
	cfg      *oauth2.Config
	audience string
}

// NewAuthorizer returns nil when the provider is not configured.
func NewAuthorizer(domain, clientID, redirectURL, audience string) *Authorizer {
	domain = strings.TrimSpace(domain)
	if domain == "" || clientID == "" {
		return nil
	}
	base := domain
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	base = strings.TrimRight(base, "/")

	return &Authorizer{
		cfg: &oauth2.Config{
			ClientID:    clientID,
			RedirectURL: redirectURL,
			Scopes:      []string{"openid", "profile", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/authorize",
				TokenURL: base + "/oauth/token",
			},
		},
		audience: audience,
	}
}

// AuthCodeURL returns the authorize URL and the state value embedded in it.
func (a *Authorizer) AuthCodeURL(signup bool) (string, string) {
	state := uuid.NewString()
	opts := []oauth2.AuthCodeOption{}
	if a.audience != "" {
		opts = append(opts, oauth2.SetAuthURLParam("audience", a.audience))
	}
	if signup {
		opts = append(opts, oauth2.SetAuthURLParam("screen_hint", "signup"))
	}
	return a.cfg.AuthCodeURL(state, opts...), state
}
