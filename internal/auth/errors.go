package auth

import "errors"

var (
	// ErrMissingCredentials is returned when the identity provider asks for
	// credentials but no user name or password is configured.
	ErrMissingCredentials = errors.New("user name and password are required to log in")

	// ErrLoginFailed is returned when the identity provider did not hand out
	// a SAML assertion. Wrong credentials are the usual cause; the RWTH
	// maintenance page lists server side problems.
	ErrLoginFailed = errors.New("login failed: check your credentials or https://maintenance.rz.rwth-aachen.de/ticket/status/messages")

	// ErrTokenNotFound is returned when the mobile launch redirect carries no token.
	ErrTokenNotFound = errors.New("web service token not found in launch redirect")
)
