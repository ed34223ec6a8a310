package download

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/Romern/syncMyMoodle/internal/filetree"
)

// mathJaxScript makes MathJax render formulas at print size and signals
// completion to wkhtmltopdf.
const mathJaxScript = `MathJax.Hub.Config({"CommonHTML": {minScaleAdjust: 100},"HTML-CSS": {scale: 200}}); MathJax.Hub.Queue(["Rerender", MathJax.Hub], function () {window.status="finished"})`

// QuizArgs returns the wkhtmltopdf arguments that render HTML read from
// stdin to pdf.
func QuizArgs(pdf string) []string {
	return []string{
		"--quiet",
		"--javascript-delay", "30000",
		"--disable-smart-shrinking",
		"--run-script", mathJaxScript,
		"-", pdf,
	}
}

func (d *Downloader) quiz(ctx context.Context, n *filetree.Node, r *Result) {
	pdfNode := renamed(n, n.Name+".pdf")
	pdf := pdfNode.SanitizedPath(d.baseDir)
	r.Path = pdf
	defer d.paths.lock(pdf)()
	if exists(pdf) {
		r.skip(ReasonExists)
		return
	}
	if d.wkhtmltopdf == "" {
		d.rendererWarning.Do(func() {
			d.logger.Warn("wkhtmltopdf is not installed, quiz attempts are not saved")
		})
		r.skip(ReasonNoRenderer)
		return
	}

	page, err := d.pages.Get(ctx, n.URL)
	if err != nil {
		r.fail(fmt.Errorf("fetch quiz: %w", err))
		return
	}
	doc, err := html.Parse(bytes.NewReader(page.Body))
	if err != nil {
		r.fail(fmt.Errorf("parse quiz: %w", err))
		return
	}
	HideNavDrawer(doc)
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		r.fail(fmt.Errorf("render quiz: %w", err))
		return
	}

	if err := os.MkdirAll(filepath.Dir(pdf), 0o750); err != nil {
		r.fail(fmt.Errorf("create directory: %w", err))
		return
	}
	err = d.runner.Run(ctx, Command{
		Name:  d.wkhtmltopdf,
		Args:  QuizArgs(pdf),
		Stdin: &buf,
		OnLine: func(line string) {
			d.logger.Debug("wkhtmltopdf", "quiz", n.Name, "output", line)
		},
	})
	if err != nil {
		r.fail(err)
		return
	}
	d.finish(pdf, r)
}

// HideNavDrawer hides every div#nav-drawer, which covers the quiz in print.
func HideNavDrawer(doc *html.Node) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Div && attr(n, "id") == "nav-drawer" {
			setAttr(n, "style", "visibility: hidden;")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
