package vcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/alimgiray/openwiden/internal/models"
	"golang.org/x/oauth2"
)

// ErrUnknownProvider is returned for a provider the registry was not built with.
var ErrUnknownProvider = errors.New("unknown provider")

// ClientFactory builds a Client talking to baseURL. httpClient already
// authenticates its requests; accessToken is the current token for SDKs that
// want it explicitly.
type ClientFactory func(httpClient *http.Client, accessToken, baseURL string) (Client, error)

// Provider is the registration of one provider: its OAuth application, its
// API base URL and the constructor of its client.
type Provider struct {
	VCS       models.VCS
	OAuth     *oauth2.Config
	BaseURL   string
	NewClient ClientFactory
}

// Registry resolves providers by tag. It is built once at startup and passed
// to whoever needs to talk to a provider.
type Registry struct {
	providers map[models.VCS]Provider
}

// NewRegistry creates a registry of the given providers
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[models.VCS]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.VCS] = p
	}
	return r
}

// Providers lists the registered provider tags in a stable order
func (r *Registry) Providers() []models.VCS {
	result := make([]models.VCS, 0, len(r.providers))
	for vcs := range r.providers {
		result = append(result, vcs)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

func (r *Registry) provider(vcs models.VCS) (Provider, error) {
	p, ok := r.providers[vcs]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrUnknownProvider, vcs)
	}
	return p, nil
}

// AuthCodeURL returns the provider login URL carrying state
func (r *Registry) AuthCodeURL(vcs models.VCS, state string) (string, error) {
	p, err := r.provider(vcs)
	if err != nil {
		return "", err
	}
	return p.OAuth.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// Exchange trades an authorization code for a token
func (r *Registry) Exchange(ctx context.Context, vcs models.VCS, code string) (*oauth2.Token, error) {
	p, err := r.provider(vcs)
	if err != nil {
		return nil, err
	}
	token, err := p.OAuth.Exchange(ctx, code)
	if err != nil {
		return nil, ClassifyError(vcs, "exchange code", 0, err)
	}
	return token, nil
}

// Token returns a valid token for the stored one, refreshing it through the
// provider when it has expired. Callers compare the result with the input to
// know whether to persist it.
func (r *Registry) Token(ctx context.Context, vcs models.VCS, token *oauth2.Token) (*oauth2.Token, error) {
	p, err := r.provider(vcs)
	if err != nil {
		return nil, err
	}
	if token.Valid() || token.RefreshToken == "" {
		return token, nil
	}
	fresh, err := p.OAuth.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, ClassifyError(vcs, "refresh token", 0, err)
	}
	return fresh, nil
}

// Client builds a provider client authenticated with token
func (r *Registry) Client(ctx context.Context, vcs models.VCS, token *oauth2.Token) (Client, error) {
	p, err := r.provider(vcs)
	if err != nil {
		return nil, err
	}
	if token == nil || token.AccessToken == "" {
		return nil, &RemoteAuthError{Provider: vcs, Operation: "build client", Err: errors.New("empty access token")}
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	client, err := p.NewClient(httpClient, token.AccessToken, p.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("building %s client: %w", vcs, err)
	}
	return client, nil
}
