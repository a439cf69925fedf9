package common

import (
	"context"

	"golang.org/x/oauth2"
)

// AuthClient defines the ability to refresh an OAuth2-style credential pair.
type AuthClient interface {
	// RefreshToken exchanges the refresh credential for a new pair.
	// Returns a new *oauth2.Token on success, or an error if refresh fails.
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// AuthClientFunc adapts a function to AuthClient.
type AuthClientFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

func (f AuthClientFunc) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return f(ctx, refreshToken)
}

// Navigator ends the user session when credentials cannot be recovered,
// typically by sending the user back to the login entry point.
type Navigator interface {
	NavigateToLogin(ctx context.Context)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context)

func (f NavigatorFunc) NavigateToLogin(ctx context.Context) { f(ctx) }
