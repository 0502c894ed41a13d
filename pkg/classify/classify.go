// Package classify decides which caching strategy an intercepted request gets.
//
// Classification is a pure function of the request method, the request URL
// and an immutable rule set. Predicates are evaluated in a fixed order
// (font, API, static) and the first match wins.
package classify

import (
	"net/http"
	"strings"
)

// Class is the request class a URL falls into.
type Class int

const (
	// Unhandled requests are passed straight through to the network.
	Unhandled Class = iota
	// Font requests are served cache-first and stored on any 200 response.
	Font
	// API requests are served network-first with cache fallback.
	API
	// Static requests are served cache-first and stored on allowed 200 responses.
	Static
)

// String returns the lower-case class name used in logs and metric labels.
func (c Class) String() string {
	switch c {
	case Font:
		return "font"
	case API:
		return "api"
	case Static:
		return "static"
	default:
		return "unhandled"
	}
}

// Intercepted reports whether the engine applies a caching strategy to the class.
func (c Class) Intercepted() bool {
	return c != Unhandled
}

// Rules holds the matching tokens for each class.
type Rules struct {
	// FontMarkers are substrings that mark a font request.
	FontMarkers []string
	// FontExtensions are URL suffixes that mark a font request.
	FontExtensions []string
	// APIPatterns are substrings that mark an API request.
	APIPatterns []string
	// Manifest entries mark a static request when contained in the URL.
	Manifest []string
	// StaticTokens are substrings (CDN hosts, asset markers) that mark a static request.
	StaticTokens []string
	// StaticExtensions are URL suffixes that mark a static request.
	StaticExtensions []string
}

// Classifier applies a frozen copy of Rules.
type Classifier struct {
	rules Rules
}

// New returns a Classifier over a private copy of rules.
func New(rules Rules) *Classifier {
	return &Classifier{
		rules: Rules{
			FontMarkers:      clone(rules.FontMarkers),
			FontExtensions:   clone(rules.FontExtensions),
			APIPatterns:      clone(rules.APIPatterns),
			Manifest:         clone(rules.Manifest),
			StaticTokens:     clone(rules.StaticTokens),
			StaticExtensions: clone(rules.StaticExtensions),
		},
	}
}

// Classify returns the class of a request. Only GET requests are ever intercepted.
func (c *Classifier) Classify(method, rawURL string) Class {
	if method != http.MethodGet {
		return Unhandled
	}

	switch {
	case c.isFont(rawURL):
		return Font
	case c.isAPI(rawURL):
		return API
	case c.isStatic(rawURL):
		return Static
	default:
		return Unhandled
	}
}

// ClassifyRequest classifies an *http.Request by method and URL.
func (c *Classifier) ClassifyRequest(r *http.Request) Class {
	return c.Classify(r.Method, r.URL.String())
}

func (c *Classifier) isFont(u string) bool {
	return containsAny(u, c.rules.FontMarkers) || hasAnySuffix(u, c.rules.FontExtensions)
}

func (c *Classifier) isAPI(u string) bool {
	return containsAny(u, c.rules.APIPatterns)
}

func (c *Classifier) isStatic(u string) bool {
	return containsAny(u, c.rules.Manifest) ||
		containsAny(u, c.rules.StaticTokens) ||
		hasAnySuffix(u, c.rules.StaticExtensions)
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if t != "" && strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if suf != "" && strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func clone(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
