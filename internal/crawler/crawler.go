package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Romern/syncMyMoodle/internal/config"
	"github.com/Romern/syncMyMoodle/internal/filetree"
	"github.com/Romern/syncMyMoodle/internal/moodle"
	"github.com/Romern/syncMyMoodle/internal/parser"
	"github.com/Romern/syncMyMoodle/internal/sciebo"
	"github.com/Romern/syncMyMoodle/internal/session"
)

const (
	quizReviewTitle  = "Überprüfung der eigenen Antworten dieses Versuchs"
	quizTitleSuffix  = ": Überprüfung des Testversuchs"
	defaultWorkers   = 4
	h5pActivityTitle = "h5pactivity"
)

// ErrNoLTIEpisode is returned when an LTI launch page carries no Opencast
// episode id.
var ErrNoLTIEpisode = errors.New("lti launch page has no custom_id")

// API lists courses and their contents. *moodle.Client satisfies it.
type API interface {
	UserCourses(ctx context.Context, userID int) ([]moodle.Course, error)
	CourseContents(ctx context.Context, courseID int) ([]moodle.Section, error)
	Assignments(ctx context.Context, courseID int) (*moodle.CourseAssignments, error)
	SubmissionFiles(ctx context.Context, assignID, userID int) ([]moodle.File, error)
	Folders(ctx context.Context, courseID int) ([]moodle.Folder, error)
}

// HTTP fetches pages with the logged-in session. *session.Client
// satisfies it.
type HTTP interface {
	Get(ctx context.Context, rawURL string) (*session.Page, error)
	Head(ctx context.Context, rawURL string) (*session.Page, error)
}

// VideoResolver turns an Opencast play link into a track URL.
type VideoResolver interface {
	RealURL(ctx context.Context, courseID int, playURL string) (string, error)
}

// ShareResolver turns a Sciebo share link into a file.
type ShareResolver interface {
	Resolve(ctx context.Context, shareURL string) (sciebo.File, error)
}

// Syncer builds the content tree.
type Syncer struct {
	api  API
	http HTTP

	// videos resolves Opencast links. Opencast content is skipped when nil.
	videos VideoResolver

	// shares resolves Sciebo links. Sciebo content is skipped when nil.
	shares ShareResolver

	moodleURL *url.URL
	engageURL *url.URL
	patterns  *Patterns

	modules config.UsedModules
	noLinks bool

	// selected, skip and semesters filter the enrolled courses.
	selected  []string
	skip      []string
	semesters []string

	// workers is the number of courses crawled at once.
	workers int

	logger *slog.Logger
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithVideoResolver enables Opencast resolution.
func WithVideoResolver(r VideoResolver) Option {
	return func(s *Syncer) {
		s.videos = r
	}
}

// WithShareResolver enables Sciebo resolution.
func WithShareResolver(r ShareResolver) Option {
	return func(s *Syncer) {
		s.shares = r
	}
}

// WithModules selects the synced module types.
func WithModules(m config.UsedModules) Option {
	return func(s *Syncer) {
		s.modules = m
	}
}

// WithNoLinks disables following links.
func WithNoLinks(noLinks bool) Option {
	return func(s *Syncer) {
		s.noLinks = noLinks
	}
}

// WithCourseFilter restricts the synced courses. A course is skipped when
// an entry of skip contains its id. When selected is non-empty only
// courses whose id is contained in one of its entries are synced;
// otherwise semesters, if non-empty, limits the sync to those semesters.
func WithCourseFilter(selected, skip, semesters []string) Option {
	return func(s *Syncer) {
		s.selected = selected
		s.skip = skip
		s.semesters = semesters
	}
}

// WithEndpoints sets the Opencast and Sciebo base URLs used to recognize
// links.
func WithEndpoints(engageURL, scieboURL *url.URL) Option {
	return func(s *Syncer) {
		s.engageURL = engageURL
		s.patterns = NewPatterns(engageURL, scieboURL)
	}
}

// WithConcurrency sets the number of courses crawled at once.
func WithConcurrency(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New returns a Syncer for the Moodle instance at moodleURL.
func New(api API, client HTTP, moodleURL *url.URL, opts ...Option) *Syncer {
	s := &Syncer{
		api:       api,
		http:      client,
		moodleURL: moodleURL,
		modules:   config.DefaultUsedModules(),
		workers:   defaultWorkers,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.patterns == nil {
		engage := mustParse(config.DefaultEngageURL)
		s.engageURL = engage
		s.patterns = NewPatterns(engage, mustParse(config.DefaultScieboURL))
	}
	return s
}

func mustParse(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// CourseResult summarizes the crawl of one course.
type CourseResult struct {
	ID       int
	Name     string
	Semester string

	// Files is the number of downloadable leaves found.
	Files int

	ModuleErrors int
	LinkErrors   int

	// Err is set when the course contents could not be listed.
	Err error
}

// Result is the outcome of Sync.
type Result struct {
	Root    *filetree.Node
	Courses []CourseResult

	// Skipped counts enrolled courses removed by the filters.
	Skipped int
}

// Errors returns the total number of failed modules and links.
func (r *Result) Errors() int {
	n := 0
	for _, c := range r.Courses {
		n += c.ModuleErrors + c.LinkErrors
		if c.Err != nil {
			n++
		}
	}
	return n
}

// Sync crawls all selected courses of userID.
func (s *Syncer) Sync(ctx context.Context, userID int) (*Result, error) {
	courses, err := s.api.UserCourses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}

	selected := make([]moodle.Course, 0, len(courses))
	for _, c := range courses {
		if s.includeCourse(c) {
			selected = append(selected, c)
		}
	}
	result := &Result{Root: filetree.New(""), Skipped: len(courses) - len(selected)}

	crawls := make([]*courseCrawl, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, course := range selected {
		g.Go(func() error {
			cc := s.newCourseCrawl(course, userID)
			s.logger.Info("syncing course", "course", course.ShortName, "semester", course.Semester())
			cc.result.Err = s.crawlCourse(gctx, cc)
			if err := gctx.Err(); err != nil {
				return err
			}
			if cc.result.Err != nil {
				s.logger.Error("course sync failed", "course", course.ShortName, "error", cc.result.Err)
			}
			crawls[i] = cc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, cc := range crawls {
		semester := result.Root.GetOrAddChild(cc.course.Semester(), "", filetree.KindSemester)
		semester.Attach(cc.node)
		cc.result.Files = len(cc.node.Leaves())
		result.Courses = append(result.Courses, cc.result)
	}
	result.Root.RemoveNameClashes()
	return result, nil
}

func (s *Syncer) includeCourse(c moodle.Course) bool {
	id := strconv.Itoa(c.ID)
	contains := func(entry string) bool { return strings.Contains(entry, id) }
	if slices.ContainsFunc(s.skip, contains) {
		return false
	}
	if len(s.selected) > 0 {
		return slices.ContainsFunc(s.selected, contains)
	}
	if len(s.semesters) > 0 {
		return slices.Contains(s.semesters, c.Semester())
	}
	return true
}

// courseCrawl is the state of one course crawl. It is owned by a single
// goroutine.
type courseCrawl struct {
	course      moodle.Course
	userID      int
	node        *filetree.Node
	assignments *moodle.CourseAssignments
	folders     []moodle.Folder
	result      CourseResult
}

func (s *Syncer) newCourseCrawl(c moodle.Course, userID int) *courseCrawl {
	return &courseCrawl{
		course: c,
		userID: userID,
		node:   &filetree.Node{Name: c.ShortName, ID: strconv.Itoa(c.ID), Type: filetree.KindCourse},
		result: CourseResult{ID: c.ID, Name: c.ShortName, Semester: c.Semester()},
	}
}

func (s *Syncer) crawlCourse(ctx context.Context, cc *courseCrawl) error {
	id := cc.course.ID
	if s.modules.Assign {
		a, err := s.api.Assignments(ctx, id)
		if err != nil {
			s.logger.Warn("listing assignments failed", "course", cc.course.ShortName, "error", err)
		}
		cc.assignments = a
	}
	if s.modules.Folder {
		f, err := s.api.Folders(ctx, id)
		if err != nil {
			s.logger.Warn("listing folders failed", "course", cc.course.ShortName, "error", err)
		}
		cc.folders = f
	}

	sections, err := s.api.CourseContents(ctx, id)
	if err != nil {
		return fmt.Errorf("course contents: %w", err)
	}
	for _, section := range sections {
		sectionNode := cc.node.AddChild(section.Name, strconv.Itoa(section.ID), filetree.KindSection, "")
		for _, module := range section.Modules {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.crawlModule(ctx, cc, sectionNode, module); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				cc.result.ModuleErrors++
				s.logger.Error("module sync failed",
					"course", cc.course.ShortName,
					"module", module.Name,
					"modname", module.ModName,
					"error", err)
			}
		}
	}
	return nil
}

func (s *Syncer) crawlModule(ctx context.Context, cc *courseCrawl, section *filetree.Node, m moodle.Module) error {
	var errs []error

	switch m.ModName {
	case "assign":
		if s.modules.Assign {
			errs = append(errs, s.crawlAssignment(ctx, cc, section, m))
		}
	case "folder":
		if s.modules.Folder {
			s.crawlFolder(ctx, cc, section, m)
		}
	case "lti":
		if s.modules.URL.Opencast && s.videos != nil {
			errs = append(errs, s.crawlLTI(ctx, cc, section, m))
		}
	case "quiz":
		if s.modules.URL.Quiz {
			errs = append(errs, s.crawlQuiz(ctx, section, m))
		}
	}

	switch m.ModName {
	case "resource", "url", "book", "page", "pdfannotator":
		if m.ModName == "resource" && !s.modules.Resource {
			break
		}
		for _, c := range m.Contents {
			if c.FileURL != "" {
				s.scanURL(ctx, cc, section, c.FileURL, m.Name)
			}
		}
	}

	if s.modules.AnyURL() {
		switch m.ModName {
		case "page":
			s.scanURL(ctx, cc, section, m.URL, m.Name)
		case "label":
			s.scanText(ctx, cc, section, m.Description, m.Name)
		case "h5pactivity":
			errs = append(errs, s.crawlH5P(ctx, cc, section, m))
		}
	}
	return errors.Join(errs...)
}

func (s *Syncer) crawlAssignment(ctx context.Context, cc *courseCrawl, section *filetree.Node, m moodle.Module) error {
	if cc.assignments == nil {
		return nil
	}
	i := slices.IndexFunc(cc.assignments.Assignments, func(a moodle.Assignment) bool { return a.CMID == m.ID })
	if i < 0 {
		return nil
	}
	a := cc.assignments.Assignments[i]
	node := section.AddChild(m.Name, strconv.Itoa(a.ID), filetree.KindAssignment, "")

	files := slices.Clone(a.IntroAttachments)
	submitted, err := s.api.SubmissionFiles(ctx, a.ID, cc.userID)
	if err != nil {
		err = fmt.Errorf("submission files of %q: %w", m.Name, err)
	}
	files = append(files, submitted...)
	for _, f := range files {
		node.AddChild(joinFilePath(f.FilePath, f.FileName), f.FileURL, filetree.KindAssignmentFile, f.FileURL)
	}
	return err
}

func (s *Syncer) crawlFolder(ctx context.Context, cc *courseCrawl, section *filetree.Node, m moodle.Module) {
	node := section.AddChild(m.Name, strconv.Itoa(m.ID), filetree.KindFolder, "")
	if i := slices.IndexFunc(cc.folders, func(f moodle.Folder) bool { return f.CourseModule == m.ID }); i >= 0 {
		s.scanText(ctx, cc, node, cc.folders[i].Intro, "")
	}
	for _, c := range m.Contents {
		node.AddChild(joinFilePath(c.FilePath, c.FileName), c.FileURL, filetree.KindFolderFile, c.FileURL)
	}
}

func (s *Syncer) crawlH5P(ctx context.Context, cc *courseCrawl, section *filetree.Node, m moodle.Module) error {
	page, doc, err := s.fetch(ctx, s.modURL("h5pactivity", "view.php", url.Values{"id": {strconv.Itoa(m.ID)}}))
	if err != nil {
		return err
	}
	body := page.Body
	if len(doc.Iframes) > 0 {
		frame, _, err := s.fetch(ctx, doc.Iframes[0])
		if err != nil {
			return fmt.Errorf("h5p iframe: %w", err)
		}
		body = frame.Body
	}
	// Embedded H5P content escapes every slash of its JSON payload.
	text := string(bytes.ReplaceAll(body, []byte(`\`), nil))
	s.scanText(ctx, cc, section, text, h5pActivityTitle)
	return nil
}

func (s *Syncer) crawlLTI(ctx context.Context, cc *courseCrawl, section *filetree.Node, m moodle.Module) error {
	_, doc, err := s.fetch(ctx, s.modURL("lti", "launch.php", url.Values{
		"id":          {strconv.Itoa(m.ID)},
		"triggerview": {"0"},
	}))
	if err != nil {
		return err
	}
	episode, ok := doc.Input("custom_id")
	if !ok || episode == "" {
		return fmt.Errorf("%q: %w", m.Name, ErrNoLTIEpisode)
	}
	title, ok := doc.Input("resource_link_title")
	if !ok || title == "" {
		title = m.Name
	}
	playURL := s.engageURL.JoinPath("play", episode).String()
	track, err := s.videos.RealURL(ctx, cc.course.ID, playURL)
	if err != nil {
		return err
	}
	section.AddChild(title, episode, filetree.KindOpencast, track, filetree.WithCourseID(cc.course.ID))
	return nil
}

func (s *Syncer) crawlQuiz(ctx context.Context, section *filetree.Node, m moodle.Module) error {
	_, doc, err := s.fetch(ctx, s.modURL("quiz", "view.php", url.Values{"id": {strconv.Itoa(m.ID)}}))
	if err != nil {
		return err
	}
	var errs []error
	for i, review := range doc.AnchorsWithTitle(quizReviewTitle) {
		_, attempt, err := s.fetch(ctx, review)
		if err != nil {
			errs = append(errs, fmt.Errorf("quiz attempt %d: %w", i+1, err))
			continue
		}
		name := strings.Replace(attempt.Title, quizTitleSuffix, "", 1) + ", Versuch " + strconv.Itoa(i+1)
		section.AddChild(filetree.Sanitize(name), review, filetree.KindQuiz, review)
	}
	return errors.Join(errs...)
}

// scanURL inspects a single link. Direct files become leaves; HTML pages
// are scanned for embedded players and further links. The link itself is
// scanned as text as well.
func (s *Syncer) scanURL(ctx context.Context, cc *courseCrawl, parent *filetree.Node, link, title string) {
	link = strings.ReplaceAll(link, "webservice/pluginfile.php", "pluginfile.php")
	if !isYouTube(link) && s.inspectLink(ctx, cc, parent, link, title) {
		return
	}
	s.scanText(ctx, cc, parent, link, title)
}

// inspectLink reports whether link was a direct file.
func (s *Syncer) inspectLink(ctx context.Context, cc *courseCrawl, parent *filetree.Node, link, title string) bool {
	head, err := s.http.Head(ctx, link)
	switch {
	case errors.Is(err, session.ErrUnexpectedStatus):
		// Servers that refuse HEAD still get a GET below.
	case err != nil:
		s.linkFailed(cc, link, err)
		return false
	default:
		ctype := head.Header.Get("Content-Type")
		if ctype != "" && !strings.Contains(ctype, "text/html") {
			parent.AddChild(fileNameFromURL(link), "", filetree.LinkedFile(ctype), link)
			return true
		}
	}
	if s.noLinks {
		return false
	}

	page, doc, err := s.fetch(ctx, link)
	if err != nil {
		s.linkFailed(cc, link, err)
		return false
	}
	if len(doc.VideoSources) > 0 {
		src := doc.VideoSources[0]
		parent.AddChild(path.Base(src), "", filetree.KindVideoJS, src)
	}
	s.scanText(ctx, cc, parent, string(page.Body), title)
	return false
}

// scanText adds the YouTube, Opencast and Sciebo links found in text.
func (s *Syncer) scanText(ctx context.Context, cc *courseCrawl, parent *filetree.Node, text, title string) {
	if s.noLinks || text == "" {
		return
	}

	if s.modules.URL.YouTube {
		for _, link := range YouTubeLinks(text) {
			name := title
			if name == "" {
				name = link
			}
			parent.AddChild("Youtube: "+name, link, filetree.KindYoutube, link)
		}
	}

	if s.modules.URL.Opencast && s.videos != nil {
		for _, link := range s.patterns.OpencastLinks(text) {
			track, err := s.videos.RealURL(ctx, cc.course.ID, link)
			if err != nil {
				s.linkFailed(cc, link, err)
				continue
			}
			name := title
			if name == "" {
				name = path.Base(track)
			}
			parent.AddChild(name, track, filetree.KindOpencast, track, filetree.WithCourseID(cc.course.ID))
		}
	}

	if s.modules.URL.Sciebo && s.shares != nil {
		for _, link := range s.patterns.ScieboLinks(text) {
			f, err := s.shares.Resolve(ctx, link)
			if err != nil {
				s.linkFailed(cc, link, err)
				continue
			}
			parent.AddChild(f.Name, f.URL, filetree.KindScieboFile, f.URL)
		}
	}
}

func (s *Syncer) linkFailed(cc *courseCrawl, link string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	cc.result.LinkErrors++
	s.logger.Warn("link scan failed", "course", cc.course.ShortName, "url", link, "error", err)
}

func (s *Syncer) modURL(module, page string, query url.Values) string {
	u := s.moodleURL.JoinPath("mod", module, page)
	u.RawQuery = query.Encode()
	return u.String()
}

// fetch gets a page and parses it relative to its final URL.
func (s *Syncer) fetch(ctx context.Context, rawURL string) (*session.Page, *parser.ParseResult, error) {
	page, err := s.http.Get(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}
	p, err := parser.New(page.URL.String())
	if err != nil {
		return nil, nil, err
	}
	doc, err := p.Parse(bytes.NewReader(page.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", page.URL.Redacted(), err)
	}
	return page, doc, nil
}
