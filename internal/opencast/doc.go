// Package opencast resolves Opencast engage play links to direct MP4 track
// URLs. Access to the engage server is granted per course by submitting
// the LTI launch form Moodle hands out for that course.
package opencast
