// Package sciebo resolves public Sciebo share links to a file name and a
// direct download URL.
package sciebo
