package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the base name of the configuration file.
// Both "config.json" and "config.yaml" are recognized.
const DefaultConfigFile = "config"

// configExtensions are tried in order for each search directory.
var configExtensions = []string{".json", ".yaml", ".yml"}

// File represents the structure of a configuration file.
// Pointer and nil-slice fields distinguish "unset" from an explicit zero
// value, so that later files only override what they actually set.
type File struct {
	User             string       `yaml:"user,omitempty" json:"user,omitempty"`
	Password         string       `yaml:"password,omitempty" json:"password,omitempty"`
	CookieFile       string       `yaml:"cookie_file,omitempty" json:"cookie_file,omitempty"`
	SelectedCourses  []string     `yaml:"selected_courses,omitempty" json:"selected_courses,omitempty"`
	OnlySyncSemester []string     `yaml:"only_sync_semester,omitempty" json:"only_sync_semester,omitempty"`
	SkipCourses      []string     `yaml:"skip_courses,omitempty" json:"skip_courses,omitempty"`
	BaseDir          string       `yaml:"basedir,omitempty" json:"basedir,omitempty"`
	NoLinks          *bool        `yaml:"no_links,omitempty" json:"no_links,omitempty"`
	ExcludeFileTypes []string     `yaml:"exclude_filetypes,omitempty" json:"exclude_filetypes,omitempty"`
	ExcludeFiles     []string     `yaml:"exclude_files,omitempty" json:"exclude_files,omitempty"`
	UsedModules      *UsedModules `yaml:"used_modules,omitempty" json:"used_modules,omitempty"`
	MoodleURL        string       `yaml:"moodle_url,omitempty" json:"moodle_url,omitempty"`
	EngageURL        string       `yaml:"engage_url,omitempty" json:"engage_url,omitempty"`
	ScieboURL        string       `yaml:"sciebo_url,omitempty" json:"sciebo_url,omitempty"`
	Concurrency      int          `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	RateLimit        *float64     `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	Proxy            string       `yaml:"proxy,omitempty" json:"proxy,omitempty"`
}

// LoadConfigFile loads a configuration file.
// Files ending in ".json" are decoded as JSON, everything else as YAML.
// If the file does not exist, it returns ErrConfigNotFound.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, err
		}
		return &cf, nil
	}
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}
	return &cf, nil
}

// FindConfigFiles returns the configuration files to load, in merge order.
// 1. If configPath is specified, only that path is returned
// 2. Otherwise config.{json,yaml,yml} in the XDG config directory
// 3. Followed by config.{json,yaml,yml} in the current directory
//
// Files that do not exist are left out. Later files override earlier ones.
func FindConfigFiles(configPath string) []string {
	if configPath != "" {
		return []string{configPath}
	}

	dirs := []string{XDGConfigDir()}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	return findIn(dirs)
}

func findIn(dirs []string) []string {
	var found []string
	for _, dir := range dirs {
		for _, ext := range configExtensions {
			candidate := filepath.Join(dir, DefaultConfigFile+ext)
			if _, err := os.Stat(candidate); err == nil {
				found = append(found, candidate)
				break
			}
		}
	}
	return found
}

// Apply copies every value set in the file onto cfg.
// used_modules replaces the module switches as a whole.
func (cf *File) Apply(cfg *Config) {
	if cf.User != "" {
		cfg.User = cf.User
	}
	if cf.Password != "" {
		cfg.Password = cf.Password
	}
	if cf.CookieFile != "" {
		cfg.CookieFile = cf.CookieFile
	}
	if cf.SelectedCourses != nil {
		cfg.SelectedCourses = cf.SelectedCourses
	}
	if cf.OnlySyncSemester != nil {
		cfg.OnlySyncSemester = cf.OnlySyncSemester
	}
	if cf.SkipCourses != nil {
		cfg.SkipCourses = cf.SkipCourses
	}
	if cf.BaseDir != "" {
		cfg.BaseDir = cf.BaseDir
	}
	if cf.NoLinks != nil {
		cfg.NoLinks = *cf.NoLinks
	}
	if cf.ExcludeFileTypes != nil {
		cfg.ExcludeFileTypes = cf.ExcludeFileTypes
	}
	if cf.ExcludeFiles != nil {
		cfg.ExcludeFiles = cf.ExcludeFiles
	}
	if cf.UsedModules != nil {
		cfg.Modules = *cf.UsedModules
	}
	if cf.MoodleURL != "" {
		cfg.MoodleURL = cf.MoodleURL
	}
	if cf.EngageURL != "" {
		cfg.EngageURL = cf.EngageURL
	}
	if cf.ScieboURL != "" {
		cfg.ScieboURL = cf.ScieboURL
	}
	if cf.Concurrency != 0 {
		cfg.Concurrency = cf.Concurrency
	}
	if cf.RateLimit != nil {
		cfg.RateLimit = *cf.RateLimit
	}
	if cf.Proxy != "" {
		cfg.Proxy = cf.Proxy
	}
}

// Load builds a Config from the defaults and the given files.
// A missing file is an error only when it was requested explicitly.
func Load(explicit string) (*Config, []string, error) {
	cfg := NewConfig()
	cfg.ConfigFilePath = explicit

	paths := FindConfigFiles(explicit)
	loaded := make([]string, 0, len(paths))
	for _, path := range paths {
		cf, err := LoadConfigFile(path)
		if err != nil {
			return nil, nil, err
		}
		cf.Apply(cfg)
		loaded = append(loaded, path)
	}
	return cfg, loaded, nil
}
