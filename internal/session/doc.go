// Package session provides the HTTP plumbing shared by every remote call:
// a cookie jar persisted between runs, request pacing, an optional SOCKS5
// proxy, and helpers that fetch pages together with their final URL.
//
// A Client keeps one cookie jar for all its views. The regular view
// follows up to ten redirects, the no-redirect view returns the first
// response (used to read the mobile app launch Location header), and the
// download view uses a longer timeout for large files.
package session
