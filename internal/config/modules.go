package config

// UsedModules selects the Moodle module types that are synced.
type UsedModules struct {
	// Assign syncs assignment attachments, submissions and feedback files.
	Assign bool `yaml:"assign" json:"assign"`

	// Resource syncs uploaded files.
	Resource bool `yaml:"resource" json:"resource"`

	// Folder syncs folder modules and their files.
	Folder bool `yaml:"folder" json:"folder"`

	// URL holds the switches for linked and embedded content.
	URL URLModules `yaml:"url" json:"url"`
}

// URLModules selects which kinds of linked content are followed.
type URLModules struct {
	YouTube  bool `yaml:"youtube" json:"youtube"`
	Opencast bool `yaml:"opencast" json:"opencast"`
	Sciebo   bool `yaml:"sciebo" json:"sciebo"`

	// Quiz renders finished quiz attempts to PDF with wkhtmltopdf.
	Quiz bool `yaml:"quiz" json:"quiz"`
}

// DefaultUsedModules returns the module switches used when the
// configuration file does not set "used_modules".
func DefaultUsedModules() UsedModules {
	return UsedModules{
		Assign:   true,
		Resource: true,
		Folder:   true,
		URL: URLModules{
			YouTube:  true,
			Opencast: true,
			Sciebo:   true,
			Quiz:     false,
		},
	}
}

// AnyURL reports whether any linked content is followed.
func (m UsedModules) AnyURL() bool {
	return m.URL.YouTube || m.URL.Opencast || m.URL.Sciebo || m.URL.Quiz
}
