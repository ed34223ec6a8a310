// Package log provides secure logging built on top of the standard slog
// package. Every record passes through SecureHandler, which masks
// credentials, Moodle session keys, web service tokens and SAML assertions
// before they reach the output.
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	logger.Debug("course contents", "url", u, "wstoken", token) // wstoken is masked
//
// URLs are scrubbed as well: query parameters such as wstoken, token or
// sesskey keep their name but lose their value.
package log
