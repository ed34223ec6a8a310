// Package config provides configuration structures and utilities for syncmymoodle.
// It defines the Moodle account settings, course selection rules, download
// exclusions and the module switches that control which content is mirrored.
package config
