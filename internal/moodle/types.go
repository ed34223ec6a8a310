package moodle

import "github.com/goccy/go-json"

// SiteInfo is the result of core_webservice_get_site_info.
type SiteInfo struct {
	UserID               int    `json:"userid"`
	UserPrivateAccessKey string `json:"userprivateaccesskey"`
	Username             string `json:"username"`
	FullName             string `json:"fullname"`
	SiteName             string `json:"sitename"`
	Release              string `json:"release"`
}

// Course is an enrolled course.
type Course struct {
	ID        int    `json:"id"`
	ShortName string `json:"shortname"`
	FullName  string `json:"fullname"`

	// IDNumber starts with the semester, e.g. "22ss-12345".
	IDNumber string `json:"idnumber"`
}

// Semester returns the first four characters of IDNumber.
func (c Course) Semester() string {
	runes := []rune(c.IDNumber)
	if len(runes) < 4 {
		return c.IDNumber
	}
	return string(runes[:4])
}

// Section is a course section returned by core_course_get_contents.
type Section struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Modules []Module `json:"modules"`
}

// Module is an activity or resource inside a section.
type Module struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	ModName     string    `json:"modname"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	Contents    []Content `json:"contents"`
}

// Content is a file or link attached to a module.
type Content struct {
	Type         string `json:"type"`
	FileName     string `json:"filename"`
	FilePath     string `json:"filepath"`
	FileURL      string `json:"fileurl"`
	FileSize     int64  `json:"filesize"`
	TimeModified int64  `json:"timemodified"`
	MimeType     string `json:"mimetype"`
}

// File is an attachment of an assignment or a folder.
type File struct {
	FileName string `json:"filename"`
	FilePath string `json:"filepath"`
	FileURL  string `json:"fileurl"`
	FileSize int64  `json:"filesize"`
}

// CourseAssignments lists the assignments of one course.
type CourseAssignments struct {
	ID          int          `json:"id"`
	Assignments []Assignment `json:"assignments"`
}

// Assignment is an entry of mod_assign_get_assignments.
type Assignment struct {
	ID               int    `json:"id"`
	CMID             int    `json:"cmid"`
	Name             string `json:"name"`
	IntroAttachments []File `json:"introattachments"`
}

// Folder is an entry of mod_folder_get_folders_by_courses.
type Folder struct {
	ID           int    `json:"id"`
	CourseModule int    `json:"coursemodule"`
	Course       int    `json:"course"`
	Name         string `json:"name"`
	Intro        string `json:"intro"`
}

type submissionStatus struct {
	LastAttempt struct {
		Submission     pluginSet `json:"submission"`
		TeamSubmission pluginSet `json:"teamsubmission"`
	} `json:"lastattempt"`
	Feedback pluginSet `json:"feedback"`
}

type pluginSet struct {
	Plugins []struct {
		Type      string `json:"type"`
		FileAreas []struct {
			Area  string `json:"area"`
			Files []File `json:"files"`
		} `json:"fileareas"`
	} `json:"plugins"`
}

type externalFunctionsResponse struct {
	Responses []struct {
		Error     bool            `json:"error"`
		Data      string          `json:"data"`
		Exception json.RawMessage `json:"exception"`
	} `json:"responses"`
}

type ajaxResponse struct {
	Error     bool            `json:"error"`
	Data      json.RawMessage `json:"data"`
	Exception *APIError       `json:"exception"`
}
