package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/jwebster45206/crisis-engine/pkg/prompts"
)

const (
	// DefaultReaderBaseURL is the reader proxy; the target URL is appended.
	DefaultReaderBaseURL = "https://r.jina.ai/"

	minReaderChars = 100
	minSearchChars = 100
	minDirectChars = 200

	maxBodyBytes = 5 << 20
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Extractor turns a URL into readable article text.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, target string) (string, error)
}

// ReaderExtractor fetches a page through a reader proxy that returns
// plain text.
type ReaderExtractor struct {
	BaseURL string
	Client  *http.Client
}

var readerErrorSignatures = []string{
	"target url returned error",
	"failed to fetch",
	"error fetching",
	"403 forbidden",
	"404 not found",
	"access denied",
	"captcha",
}

func (r *ReaderExtractor) Name() string { return "reader" }

func (r *ReaderExtractor) Extract(ctx context.Context, target string) (string, error) {
	base := r.BaseURL
	if base == "" {
		base = DefaultReaderBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build reader request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := r.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reader request failed: %w", transportError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("reader returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read reader response: %w", err)
	}

	text := strings.TrimSpace(string(body))
	if line := errorLine(text, readerErrorSignatures); line != "" {
		return "", fmt.Errorf("reader returned an error page: %s", line)
	}
	if len(text) < minReaderChars {
		return "", fmt.Errorf("reader content too short (%d chars)", len(text))
	}
	return text, nil
}

// transportError drops the request URL from a client error so that digits
// in the URL cannot be mistaken for a status code when classifying.
func transportError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

// errorLine returns the first line containing one of the signatures.
func errorLine(text string, signatures []string) string {
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		for _, sig := range signatures {
			if strings.Contains(lower, sig) {
				return prompts.Truncate(strings.TrimSpace(line), 200)
			}
		}
	}
	return ""
}

// DirectExtractor fetches the page itself and reduces the HTML to text.
type DirectExtractor struct {
	Client *http.Client
}

func (d *DirectExtractor) Name() string { return "direct" }

func (d *DirectExtractor) Extract(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := d.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("direct fetch failed: %w", transportError(err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return "", fmt.Errorf("direct fetch returned HTTP %d (page not found)", resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("direct fetch returned HTTP %d (blocked)", resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("direct fetch returned HTTP %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	if title := PageTitle(doc); IsErrorTitle(title) {
		return "", fmt.Errorf("direct fetch returned an error page titled %q", title)
	}

	text := ArticleText(doc)
	if len(text) < minDirectChars {
		return "", fmt.Errorf("direct content too short (%d chars)", len(text))
	}
	return text, nil
}

var errorTitleSignals = []string{
	"404",
	"not found",
	"error 4",
	"error 5",
	"access denied",
	"forbidden",
	"just a moment",
	"attention required",
}

// IsErrorTitle reports whether a page title marks an error page.
func IsErrorTitle(title string) bool {
	return containsAny(strings.ToLower(title), errorTitleSignals)
}

// PageTitle returns the text of the first <title>.
func PageTitle(doc *html.Node) string {
	n := findFirst(doc, atom.Title)
	if n == nil {
		return ""
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(b.String())
}

var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Head:     true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Section: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Tr: true, atom.Article: true, atom.Main: true,
}

// ArticleText reduces a document to readable text. Content is narrowed to
// the first <article>, else the first <main>; chrome and scripts are
// dropped. Entities are already decoded by the parser.
func ArticleText(doc *html.Node) string {
	root := findFirst(doc, atom.Article)
	if root == nil {
		root = findFirst(doc, atom.Main)
	}
	if root == nil {
		root = doc
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if skippedElements[n.DataAtom] {
				return
			}
			if blockElements[n.DataAtom] {
				b.WriteString("\n")
			}
		case html.TextNode:
			b.WriteString(strings.Join(strings.Fields(n.Data), " "))
			b.WriteString(" ")
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.DataAtom] {
			b.WriteString("\n")
		}
	}
	walk(root)

	lines := strings.Split(b.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}
