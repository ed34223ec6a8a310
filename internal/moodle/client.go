package moodle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/Romern/syncMyMoodle/internal/session"
)

const (
	restPath = "webservice/rest/server.php"
	ajaxPath = "lib/ajax/service.php"
)

// Poster sends form and JSON requests. *session.Client satisfies it.
type Poster interface {
	PostForm(ctx context.Context, rawURL string, values url.Values) (*session.Page, error)
	PostJSON(ctx context.Context, rawURL string, body any) (*session.Page, error)
}

// Client calls Moodle web service functions with one token.
type Client struct {
	http    Poster
	baseURL *url.URL
	token   string
	sesskey string
	logger  *slog.Logger
	breaker *breaker
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSessKey sets the session key used for AJAX calls.
func WithSessKey(sesskey string) Option {
	return func(c *Client) {
		c.sesskey = sesskey
	}
}

// WithBreakerSettings overrides the circuit breaker thresholds.
func WithBreakerSettings(s BreakerSettings) Option {
	return func(c *Client) {
		c.breaker = newBreaker(s, c.logger)
	}
}

// New returns a client for the Moodle instance at baseURL.
func New(poster Poster, baseURL *url.URL, token string, opts ...Option) *Client {
	c := &Client{
		http:    poster,
		baseURL: baseURL,
		token:   token,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = newBreaker(DefaultBreakerSettings(), c.logger)
	}
	return c
}

// BaseURL returns the Moodle base URL.
func (c *Client) BaseURL() *url.URL {
	return c.baseURL
}

// WithToken returns a copy of c that authenticates with token.
// The copy shares the circuit breaker.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Call invokes a web service function and decodes the JSON result into out.
func (c *Client) Call(ctx context.Context, function string, params url.Values, out any) error {
	body, err := c.breaker.execute(ctx, func() ([]byte, error) {
		return c.rest(ctx, function, params)
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w: %w", function, ErrUnexpectedResponse, err)
	}
	return nil
}

func (c *Client) rest(ctx context.Context, function string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL.JoinPath(restPath)
	endpoint.RawQuery = url.Values{
		"moodlewsrestformat": {"json"},
		"wsfunction":         {function},
	}.Encode()

	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("wstoken", c.token)
	form.Set("wsfunction", function)
	form.Set("moodlewssettingfilter", "true")
	form.Set("moodlewssettingfileurl", "true")

	c.logger.Debug("web service call", "function", function)
	page, err := c.http.PostForm(ctx, endpoint.String(), form)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", function, err)
	}
	if apiErr := decodeException(page.Body); apiErr != nil {
		apiErr.Function = function
		return nil, apiErr
	}
	return page.Body, nil
}

// decodeException returns the Moodle exception encoded in body, if any.
func decodeException(body []byte) *APIError {
	if len(body) == 0 || body[0] != '{' {
		return nil
	}
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return nil
	}
	if apiErr.Exception == "" && apiErr.ErrorCode == "" {
		return nil
	}
	return &apiErr
}

// Ajax invokes a function through the session-authenticated AJAX endpoint.
func (c *Client) Ajax(ctx context.Context, function string, args map[string]any, out any) error {
	if c.sesskey == "" {
		return fmt.Errorf("%s: %w: no session key", function, ErrUnexpectedResponse)
	}
	endpoint := c.baseURL.JoinPath(ajaxPath)
	endpoint.RawQuery = url.Values{
		"sesskey": {c.sesskey},
		"info":    {function},
	}.Encode()
	payload := []map[string]any{{
		"index":      0,
		"methodname": function,
		"args":       args,
	}}

	body, err := c.breaker.execute(ctx, func() ([]byte, error) {
		page, err := c.http.PostJSON(ctx, endpoint.String(), payload)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", function, err)
		}
		var resp []ajaxResponse
		if err := json.Unmarshal(page.Body, &resp); err != nil {
			if apiErr := decodeException(page.Body); apiErr != nil {
				apiErr.Function = function
				return nil, apiErr
			}
			return nil, fmt.Errorf("%s: %w: %w", function, ErrUnexpectedResponse, err)
		}
		if len(resp) == 0 {
			return nil, fmt.Errorf("%s: %w: empty response", function, ErrUnexpectedResponse)
		}
		if resp[0].Error {
			apiErr := &APIError{Function: function, Message: "ajax call failed"}
			if resp[0].Exception != nil {
				apiErr = resp[0].Exception
				apiErr.Function = function
			}
			return nil, apiErr
		}
		return resp[0].Data, nil
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w: %w", function, ErrUnexpectedResponse, err)
	}
	return nil
}

// SiteInfo returns information about the token's user.
func (c *Client) SiteInfo(ctx context.Context) (*SiteInfo, error) {
	var info SiteInfo
	if err := c.Call(ctx, "core_webservice_get_site_info", nil, &info); err != nil {
		return nil, err
	}
	if info.UserID == 0 || info.UserPrivateAccessKey == "" {
		return nil, ErrNoUserID
	}
	return &info, nil
}

// UserCourses returns the courses userID is enrolled in.
func (c *Client) UserCourses(ctx context.Context, userID int) ([]Course, error) {
	const function = "core_enrol_get_users_courses"
	args, err := json.Marshal(map[string]string{
		"userid":          strconv.Itoa(userID),
		"returnusercount": "0",
	})
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"requests[0][function]":       {function},
		"requests[0][arguments]":      {string(args)},
		"requests[0][settingfilter]":  {"1"},
		"requests[0][settingfileurl]": {"1"},
	}
	var resp externalFunctionsResponse
	if err := c.Call(ctx, "tool_mobile_call_external_functions", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Responses) == 0 {
		return nil, fmt.Errorf("%s: %w: no responses", function, ErrUnexpectedResponse)
	}
	first := resp.Responses[0]
	if first.Error {
		apiErr := &APIError{Function: function, Message: "external function failed"}
		if len(first.Exception) > 0 {
			_ = json.Unmarshal(first.Exception, apiErr) //nolint:errcheck // best effort detail
		}
		return nil, apiErr
	}
	var courses []Course
	if err := json.Unmarshal([]byte(first.Data), &courses); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", function, ErrUnexpectedResponse, err)
	}
	return courses, nil
}

// CourseContents returns the sections of a course. Sections Moodle reports
// as plain strings are skipped and logged.
func (c *Client) CourseContents(ctx context.Context, courseID int) ([]Section, error) {
	var raw []json.RawMessage
	params := url.Values{"courseid": {strconv.Itoa(courseID)}}
	if err := c.Call(ctx, "core_course_get_contents", params, &raw); err != nil {
		return nil, err
	}
	sections := make([]Section, 0, len(raw))
	for _, r := range raw {
		if len(r) > 0 && r[0] == '"' {
			c.logger.Error("malformed course section", "course", courseID, "section", string(r))
			continue
		}
		var s Section
		if err := json.Unmarshal(r, &s); err != nil {
			c.logger.Error("malformed course section", "course", courseID, "error", err)
			continue
		}
		sections = append(sections, s)
	}
	return sections, nil
}

// Assignments returns the assignments of a course, or nil if Moodle
// reports none.
func (c *Client) Assignments(ctx context.Context, courseID int) (*CourseAssignments, error) {
	var resp struct {
		Courses []CourseAssignments `json:"courses"`
	}
	params := url.Values{
		"courseids[0]":              {strconv.Itoa(courseID)},
		"includenotenrolledcourses": {"1"},
	}
	if err := c.Call(ctx, "mod_assign_get_assignments", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Courses) == 0 {
		return nil, nil
	}
	return &resp.Courses[0], nil
}

var submissionAreas = map[string]bool{
	"download":         true,
	"submission_files": true,
	"feedback_files":   true,
}

// SubmissionFiles returns the files the user submitted for an assignment,
// including team submissions and feedback files.
func (c *Client) SubmissionFiles(ctx context.Context, assignID, userID int) ([]File, error) {
	var status submissionStatus
	params := url.Values{
		"assignid": {strconv.Itoa(assignID)},
		"userid":   {strconv.Itoa(userID)},
	}
	if err := c.Call(ctx, "mod_assign_get_submission_status", params, &status); err != nil {
		return nil, err
	}
	var files []File
	for _, set := range []pluginSet{status.LastAttempt.Submission, status.LastAttempt.TeamSubmission, status.Feedback} {
		for _, p := range set.Plugins {
			for _, area := range p.FileAreas {
				if submissionAreas[area.Area] {
					files = append(files, area.Files...)
				}
			}
		}
	}
	return files, nil
}

// Folders returns the folder modules of a course.
func (c *Client) Folders(ctx context.Context, courseID int) ([]Folder, error) {
	var resp struct {
		Folders []Folder `json:"folders"`
	}
	params := url.Values{"courseids[0]": {strconv.Itoa(courseID)}}
	if err := c.Call(ctx, "mod_folder_get_folders_by_courses", params, &resp); err != nil {
		return nil, err
	}
	return resp.Folders, nil
}

// OpencastLTIForm returns the HTML of the auto-submitting LTI launch form
// for the Opencast engage server of a course. opencastToken is a token for
// the Opencast service; when the REST call fails and a session key is set,
// the AJAX endpoint is tried.
func (c *Client) OpencastLTIForm(ctx context.Context, courseID int, opencastToken string) (string, error) {
	const function = "filter_opencast_get_lti_form"
	id := strconv.Itoa(courseID)

	var html string
	var restErr error
	if opencastToken != "" {
		restErr = c.WithToken(opencastToken).Call(ctx, function, url.Values{"courseid": {id}}, &html)
		if restErr == nil {
			return html, nil
		}
		if ctx.Err() != nil || c.sesskey == "" {
			return "", restErr
		}
		c.logger.Debug("rest lti form failed, trying ajax", "course", courseID, "error", restErr)
	}
	if err := c.Ajax(ctx, function, map[string]any{"courseid": id}, &html); err != nil {
		if restErr != nil {
			return "", errors.Join(restErr, err)
		}
		return "", err
	}
	return html, nil
}
