package auth

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/jun/docpick/internal/model"
)

// ProviderConfig describes how one provider runs the authorization-code flow.
type ProviderConfig struct {
	Provider    model.Provider
	ClientID    string
	RedirectURL string
	Endpoint    oauth2.Endpoint
	Scopes      []string

	// ClientSecret is resolved at exchange time. Nil for public clients
	// (Dropbox and OneDrive send client_id only).
	ClientSecret func(ctx context.Context) (string, error)

	// SupportsRefresh is false for providers that only issue access tokens.
	SupportsRefresh bool

	// AuthParams are appended to the authorize URL.
	AuthParams []oauth2.AuthCodeOption
}

func withStyle(e oauth2.Endpoint, style oauth2.AuthStyle) oauth2.Endpoint {
	e.AuthStyle = style
	return e
}

// googleAuthURL is the v2 consent endpoint; endpoints.Google still names v1.
const googleAuthURL = "https://accounts.google.com/o/oauth2/v2/auth"

func googleEndpoint() oauth2.Endpoint {
	e := withStyle(endpoints.Google, oauth2.AuthStyleInParams)
	e.AuthURL = googleAuthURL
	return e
}

// GoogleConfig requests offline access with forced consent so a refresh
// token is issued on every grant.
func GoogleConfig(clientID, redirectURL string, secret func(context.Context) (string, error)) ProviderConfig {
	return ProviderConfig{
		Provider:    model.GoogleDrive,
		ClientID:    clientID,
		RedirectURL: redirectURL,
		Endpoint:    googleEndpoint(),
		Scopes: []string{
			"https://www.googleapis.com/auth/drive.readonly",
			"https://www.googleapis.com/auth/calendar.events",
			"https://www.googleapis.com/auth/calendar",
			"profile",
			"email",
		},
		ClientSecret:    secret,
		SupportsRefresh: true,
		AuthParams:      []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce},
	}
}

func DropboxConfig(clientID, redirectURL string) ProviderConfig {
	return ProviderConfig{
		Provider:    model.Dropbox,
		ClientID:    clientID,
		RedirectURL: redirectURL,
		Endpoint:    withStyle(endpoints.Dropbox, oauth2.AuthStyleInParams),
		Scopes:      []string{"files.metadata.read", "files.content.read"},
	}
}

// OneDriveConfig targets the Microsoft identity platform for tenant
// ("common" accepts personal and work accounts).
func OneDriveConfig(clientID, tenant, redirectURL string) ProviderConfig {
	return ProviderConfig{
		Provider:    model.OneDrive,
		ClientID:    clientID,
		RedirectURL: redirectURL,
		Endpoint:    withStyle(endpoints.AzureAD(tenant), oauth2.AuthStyleInParams),
		Scopes: []string{
			"Files.Read",
			"User.Read",
			"Files.ReadWrite.All",
			"OnlineMeetings.ReadWrite",
			"offline_access",
		},
		SupportsRefresh: true,
	}
}

// ZoomConfig authenticates the token endpoint with HTTP Basic client credentials.
func ZoomConfig(clientID, redirectURL string, secret func(context.Context) (string, error)) ProviderConfig {
	return ProviderConfig{
		Provider:        model.Zoom,
		ClientID:        clientID,
		RedirectURL:     redirectURL,
		Endpoint:        withStyle(endpoints.Zoom, oauth2.AuthStyleInHeader),
		ClientSecret:    secret,
		SupportsRefresh: true,
	}
}

func (c ProviderConfig) oauth2Config(ctx context.Context) (*oauth2.Config, error) {
	conf := &oauth2.Config{
		ClientID:    c.ClientID,
		RedirectURL: c.RedirectURL,
		Endpoint:    c.Endpoint,
		Scopes:      c.Scopes,
	}
	if c.ClientSecret != nil {
		secret, err := c.ClientSecret(ctx)
		if err != nil {
			return nil, err
		}
		conf.ClientSecret = secret
	}
	return conf, nil
}
