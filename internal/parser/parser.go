package parser

import (
	"errors"
	"io"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// HTML element name constants for form field detection.
const (
	htmlElementInput    = "input"
	htmlElementSelect   = "select"
	htmlElementTextarea = "textarea"
)

// ErrSessKeyNotFound is returned when a page carries no Moodle session key.
var ErrSessKeyNotFound = errors.New("sesskey not found in page")

// sesskeyRegex matches the session key in Moodle's inline M.cfg script.
var sesskeyRegex = regexp.MustCompile(`"sesskey":"(.*?)"`)

// sesskeyLinkRegex matches the session key in the logout link.
var sesskeyLinkRegex = regexp.MustCompile(`sesskey=([a-zA-Z0-9]+)`)

// Parser extracts information from HTML content.
type Parser struct {
	// baseURL is the URL of the page being parsed, used for resolving relative URLs.
	baseURL *url.URL
}

// ParseResult contains all information extracted from an HTML page.
type ParseResult struct {
	// Title is the page title from the <title> tag.
	Title string

	// Links contains all resolved anchor URLs in document order.
	Links []string

	// Anchors contains every anchor with its attributes.
	Anchors []Anchor

	// Forms contains information about HTML forms.
	Forms []FormInfo

	// Inputs contains every named input in document order, including
	// inputs outside of forms.
	Inputs []FormField

	// Iframes contains resolved iframe sources.
	Iframes []string

	// VideoSources contains resolved <source> URLs nested in a
	// ".video-js" player element.
	VideoSources []string

	// Scripts contains the text of inline scripts.
	Scripts []string
}

// Anchor is an <a> element.
type Anchor struct {
	// Href is the resolved link target.
	Href string

	// Title is the title attribute.
	Title string

	// Text is the whitespace-normalized link text.
	Text string
}

// FormInfo contains information about an HTML form.
type FormInfo struct {
	// Action is the resolved form action URL.
	Action string

	// Method is the HTTP method (GET, POST).
	Method string

	// Fields contains form field names and values.
	Fields []FormField
}

// Values returns the form fields as url.Values.
func (f FormInfo) Values() url.Values {
	return fieldValues(f.Fields)
}

// FormField represents a form input field.
type FormField struct {
	// Name is the field name attribute.
	Name string

	// Type is the input type (text, password, hidden, etc.).
	Type string

	// Value is the default value if present.
	Value string
}

// New creates a new HTML parser for a page fetched from baseURL.
// The base URL is used to resolve relative links.
func New(baseURL string) (*Parser, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &Parser{baseURL: u}, nil
}

// Parse parses HTML content and extracts all relevant information.
func (p *Parser) Parse(content io.Reader) (*ParseResult, error) {
	doc, err := html.Parse(content)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{}
	var walk func(n *html.Node, inPlayer bool)
	walk = func(n *html.Node, inPlayer bool) {
		if n.Type == html.ElementNode {
			p.processElement(n, inPlayer, result)
			if hasClass(n, "video-js") {
				inPlayer = true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inPlayer)
		}
	}
	walk(doc, false)

	return result, nil
}

// ParseString is a convenience wrapper around Parse.
func (p *Parser) ParseString(content string) (*ParseResult, error) {
	return p.Parse(strings.NewReader(content))
}

// processElement handles HTML element nodes.
func (p *Parser) processElement(n *html.Node, inPlayer bool, result *ParseResult) {
	switch n.Data {
	case "title":
		if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			result.Title = strings.TrimSpace(n.FirstChild.Data)
		}

	case "a":
		href := p.resolveURL(getAttr(n, "href"))
		if href != "" {
			result.Links = append(result.Links, href)
		}
		result.Anchors = append(result.Anchors, Anchor{
			Href:  href,
			Title: getAttr(n, "title"),
			Text:  strings.Join(strings.Fields(textContent(n)), " "),
		})

	case "form":
		form := FormInfo{
			Action: p.resolveURL(getAttr(n, "action")),
			Method: strings.ToUpper(getAttr(n, "method")),
		}
		if form.Method == "" {
			form.Method = "GET"
		}
		extractFormFields(n, &form.Fields)
		result.Forms = append(result.Forms, form)

	case htmlElementInput, htmlElementSelect, htmlElementTextarea:
		if field, ok := formField(n); ok {
			result.Inputs = append(result.Inputs, field)
		}

	case "iframe":
		if src := p.resolveURL(getAttr(n, "src")); src != "" {
			result.Iframes = append(result.Iframes, src)
		}

	case "source":
		if !inPlayer {
			return
		}
		if src := p.resolveURL(getAttr(n, "src")); src != "" {
			result.VideoSources = append(result.VideoSources, src)
		}

	case "script":
		if getAttr(n, "src") == "" {
			if text := textContent(n); strings.TrimSpace(text) != "" {
				result.Scripts = append(result.Scripts, text)
			}
		}
	}
}

// Input returns the value of the first input with the given name.
func (r *ParseResult) Input(name string) (string, bool) {
	for _, f := range r.Inputs {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// InputValues returns all named inputs of the page as url.Values.
func (r *ParseResult) InputValues() url.Values {
	return fieldValues(r.Inputs)
}

// AnchorsWithTitle returns the resolved targets of anchors whose title
// attribute equals title.
func (r *ParseResult) AnchorsWithTitle(title string) []string {
	var hrefs []string
	for _, a := range r.Anchors {
		if a.Title == title && a.Href != "" {
			hrefs = append(hrefs, a.Href)
		}
	}
	return hrefs
}

// SessKey returns the Moodle session key. It is read from the inline
// M.cfg script, or from the logout link when no script carries it.
func (r *ParseResult) SessKey() (string, error) {
	for _, script := range r.Scripts {
		if !strings.Contains(script, "sesskey") {
			continue
		}
		if m := sesskeyRegex.FindStringSubmatch(script); m != nil {
			return m[1], nil
		}
	}
	for _, link := range r.Links {
		if m := sesskeyLinkRegex.FindStringSubmatch(link); m != nil && strings.Contains(link, "logout") {
			return m[1], nil
		}
	}
	return "", ErrSessKeyNotFound
}

func fieldValues(fields []FormField) url.Values {
	values := url.Values{}
	for _, f := range fields {
		values.Add(f.Name, f.Value)
	}
	return values
}

func formField(n *html.Node) (FormField, bool) {
	field := FormField{
		Name:  getAttr(n, "name"),
		Type:  getAttr(n, "type"),
		Value: getAttr(n, "value"),
	}
	if field.Type == "" {
		switch n.Data {
		case htmlElementTextarea:
			field.Type = htmlElementTextarea
			field.Value = textContent(n)
		case htmlElementSelect:
			field.Type = htmlElementSelect
		default:
			field.Type = "text"
		}
	}
	return field, field.Name != ""
}

// extractFormFields recursively extracts form fields from a form element.
func extractFormFields(n *html.Node, fields *[]FormField) {
	if n.Type == html.ElementNode && (n.Data == htmlElementInput || n.Data == htmlElementSelect || n.Data == htmlElementTextarea) {
		if field, ok := formField(n); ok {
			*fields = append(*fields, field)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractFormFields(c, fields)
	}
}

// resolveURL resolves a relative URL against the base URL.
// Script, mail and fragment-only links resolve to the empty string.
func (p *Parser) resolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" ||
		strings.HasPrefix(href, "javascript:") ||
		strings.HasPrefix(href, "mailto:") ||
		strings.HasPrefix(href, "tel:") ||
		strings.HasPrefix(href, "data:") ||
		strings.HasPrefix(href, "#") {
		return ""
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return p.baseURL.ResolveReference(u).String()
}

// Resolve resolves href against the parser's base URL.
func (p *Parser) Resolve(href string) string {
	return p.resolveURL(href)
}

func hasClass(n *html.Node, class string) bool {
	return slices.Contains(strings.Fields(getAttr(n, "class")), class)
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return b.String()
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
