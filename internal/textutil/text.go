package textutil

import (
	"html"
	"regexp"
	"strings"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	tcoLink    = regexp.MustCompile(`https?://t\.co/\S+`)
)

// NormalizeWhitespace trims and collapses whitespace to single spaces.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// StripShortLinks removes t.co wrapper links, which carry no signal for the
// classifier.
func StripShortLinks(s string) string {
	return tcoLink.ReplaceAllString(s, "")
}

// CollapseEllipses replaces redundant "... ..." runs with a single instance.
func CollapseEllipses(s string) string {
	for strings.Contains(s, "... ...") {
		s = strings.ReplaceAll(s, "... ...", "...")
	}
	return s
}

// CleanTweet prepares tweet text for classification and reporting.
func CleanTweet(s string) string {
	s = html.UnescapeString(s)
	s = StripShortLinks(s)
	s = CollapseEllipses(s)
	return NormalizeWhitespace(s)
}
