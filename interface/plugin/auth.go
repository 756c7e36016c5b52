package plugin

import (
	"context"
	"net/http"
	"sync"

	"github.com/geowatch/eogate/config"
	"github.com/geowatch/eogate/service"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// newAuthPlugin instantiates the authentication plugin of a provider.
func newAuthPlugin(provider string, cfg config.AuthConfig, credentials config.Credentials) (Authentication, error) {
	switch cfg.Type {
	case "":
		if credentials.Username != "" {
			return &basicAuth{provider: provider, credentials: credentials}, nil
		}
		return noAuth{}, nil
	case "basic":
		return &basicAuth{provider: provider, credentials: credentials}, nil
	case "apikey":
		header := cfg.Header
		if header == "" {
			header = "Authorization"
		}
		return &apiKeyAuth{provider: provider, header: header, key: credentials.APIKey}, nil
	case "token":
		return &tokenAuth{provider: provider, tokenURL: cfg.TokenURL, credentials: credentials}, nil
	}
	return nil, service.MisconfiguredError{Provider: provider, Reason: "unknown auth plugin type " + cfg.Type}
}

// noAuth is the plugin of providers with open endpoints.
type noAuth struct{}

func (noAuth) Authenticate(context.Context) (*Credential, error) { return nil, nil }
func (noAuth) Invalidate()                                       {}

type basicAuth struct {
	provider    string
	credentials config.Credentials
}

func (a *basicAuth) Authenticate(context.Context) (*Credential, error) {
	if a.credentials.Username == "" {
		return nil, service.AuthenticationError{Provider: a.provider, Reason: "missing username"}
	}
	return &Credential{Username: a.credentials.Username, Password: a.credentials.Password}, nil
}

func (a *basicAuth) Invalidate() {}

type apiKeyAuth struct {
	provider string
	header   string
	key      string
}

func (a *apiKeyAuth) Authenticate(context.Context) (*Credential, error) {
	if a.key == "" {
		return nil, service.AuthenticationError{Provider: a.provider, Reason: "missing apikey"}
	}
	return &Credential{Header: http.Header{a.header: []string{a.key}}}, nil
}

func (a *apiKeyAuth) Invalidate() {}

// tokenAuth fetches a bearer token from the provider token endpoint and caches
// it until expiry. Concurrent refreshes are single-flight: one caller fetches,
// everyone gets the same token.
type tokenAuth struct {
	provider    string
	tokenURL    string
	credentials config.Credentials

	group singleflight.Group
	mu    sync.Mutex
	token *oauth2.Token
}

func (a *tokenAuth) Authenticate(ctx context.Context) (*Credential, error) {
	a.mu.Lock()
	token := a.token
	a.mu.Unlock()
	if token.Valid() {
		return &Credential{Token: token.AccessToken}, nil
	}

	v, err, _ := a.group.Do("token", func() (interface{}, error) {
		// recheck: the flight may have been queued behind a successful refresh
		a.mu.Lock()
		token := a.token
		a.mu.Unlock()
		if token.Valid() {
			return token, nil
		}
		token, err := a.fetchToken(ctx)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.token = token
		a.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return nil, service.AuthenticationError{Provider: a.provider, Reason: err.Error()}
	}
	return &Credential{Token: v.(*oauth2.Token).AccessToken}, nil
}

func (a *tokenAuth) fetchToken(ctx context.Context) (*oauth2.Token, error) {
	if a.credentials.Username == "" {
		cfg := clientcredentials.Config{
			ClientID:     a.credentials.ClientID,
			ClientSecret: a.credentials.ClientSecret,
			TokenURL:     a.tokenURL,
		}
		return cfg.Token(ctx)
	}
	cfg := oauth2.Config{
		ClientID:     a.credentials.ClientID,
		ClientSecret: a.credentials.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: a.tokenURL},
	}
	return cfg.PasswordCredentialsToken(ctx, a.credentials.Username, a.credentials.Password)
}

func (a *tokenAuth) Invalidate() {
	a.mu.Lock()
	a.token = nil
	a.mu.Unlock()
}
