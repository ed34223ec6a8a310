// Package auth logs into Moodle through the Shibboleth identity provider
// and derives the credentials later calls need: the session key for AJAX
// requests and web service tokens for the REST API.
package auth
