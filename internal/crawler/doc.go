// Package crawler builds the content tree of a Moodle account.
//
// # Architecture
//
// A Syncer lists the enrolled courses, filters them, and crawls each
// selected course into its own subtree. Courses are crawled concurrently;
// the finished subtrees are attached to the root in course order, so the
// resulting tree does not depend on scheduling.
//
// Inside a course every module is dispatched by its Moodle module name:
//
//   - assign: intro attachments, submissions and feedback files
//   - resource, url, book, page, pdfannotator: the module's content links
//   - folder: the folder's files and the links in its intro
//   - page, label, h5pactivity: links embedded in the page or description
//   - lti: Opencast recordings launched through LTI
//   - quiz: reviewed quiz attempts
//
// Links are inspected with a HEAD request. Direct files become leaves;
// HTML pages are fetched and scanned for YouTube, Opencast and Sciebo
// links and for embedded video.js players.
//
// A module that fails is logged and counted, and the crawl continues.
//
// # Usage
//
//	s := crawler.New(api, httpClient, moodleURL,
//		crawler.WithVideoResolver(opencastResolver),
//		crawler.WithModules(cfg.Modules))
//	result, err := s.Sync(ctx, userID)
package crawler
