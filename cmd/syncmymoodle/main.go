// Package main provides the entry point for the syncmymoodle CLI.
//
// syncmymoodle mirrors the RWTH Moodle courses of a user into a local
// directory: files, folders, assignments, lecture recordings, YouTube
// videos, Sciebo shares and quiz attempts.
//
// Usage:
//
//	syncmymoodle init
//	syncmymoodle sync --user ab123456
//	syncmymoodle history
//
// See --help for all available options.
package main

func main() {
	Execute()
}
