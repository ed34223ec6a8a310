// Package download fetches the leaves of a content tree to disk.
//
// Plain files are streamed into "<dest>.temp" and renamed when complete.
// An existing temp file is resumed with a Range request; servers that
// answer with the full body restart it from zero. Opencast recordings are
// plain files with an ".mp4" name. YouTube videos are delegated to yt-dlp
// and quiz attempts are rendered to PDF with wkhtmltopdf.
//
// Files that already exist are never touched, so repeated runs only fetch
// what is new.
package download
