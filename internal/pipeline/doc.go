// Package pipeline runs a sync as a sequence of steps.
//
// A sync is: log in, request web service tokens, read the site info,
// crawl the enrolled courses into a file tree, and then either dump or
// list the tree, or download its files and record them in the state
// database. Every step reads and extends a shared State; the pipeline
// checks for cancellation between steps and records which steps ran in
// the sync report.
package pipeline
