// Package moodle is a client for the fixed set of Moodle web service
// functions the sync needs. Calls go to webservice/rest/server.php with a
// web service token; the AJAX endpoint lib/ajax/service.php is available
// for functions that only accept a session key.
//
// Every call runs through a circuit breaker. When the server keeps failing
// the breaker opens and calls fail fast with ErrUnavailable instead of
// piling up timeouts for every remaining course.
package moodle
