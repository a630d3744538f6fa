package forgeframe

import (
	"net/url"
	"time"

	"github.com/jshsmth/forgeframe/internal/propschema"
)

// AutoResizeConfig enables the host-side content-size observer: when
// either axis is on, the host starts a loop that coalesces size
// observations and issues resize requests back to the consumer. This port
// has no DOM node to observe, so observations arrive via Host.ObserveSize
// or, when Element is set, from prop updates to that liveProps key
// (a {width, height} map acts as the size hint).
type AutoResizeConfig struct {
	Width   bool
	Height  bool
	Element string
}

// Config is the `create(config)` input.
type Config struct {
	Tag string
	URL string
	// Dimensions sizes the embedded view: applied to the Frame surface at
	// render time and reflected in the default container markup.
	Dimensions Dimensions
	// Style and Attributes flow into the default container markup's
	// iframe tag (inline CSS declarations and plain attributes).
	Style      map[string]string
	Attributes map[string]string
	Props      propschema.Schema

	ContainerTemplate func(c *Consumer) string
	PrerenderTemplate func(c *Consumer) string
	AutoResize        *AutoResizeConfig
	Timeout           time.Duration
	// AllowedParentDomains restricts which domains may embed this
	// component; TrustedDomains is the component-level whitelist schema
	// entries without their own TrustedDomains inherit.
	AllowedParentDomains []string
	TrustedDomains       []string

	// OwnDomain is this process's own origin, embedded as Source.Domain
	// on every outbound frame and consulted by the prop projector's
	// sameDomain redaction rule. A browser reads this from
	// window.location.origin; a Go process has no such ambient value, so
	// it is configured explicitly.
	OwnDomain string

	// OnDrop observes every silently-dropped inbound frame (origin
	// mismatch, decode failure, unknown request), for diagnostics
	// wiring. Never invoked for anything that reaches user code.
	OnDrop func(reason string)
}

// domainAllowed reports whether domain is covered by the allowed list.
// "*" matches any domain; an empty list allows everything.
func domainAllowed(domain string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == domain {
			return true
		}
	}
	return false
}

// originOf derives the scheme://host portion of a URL, the granularity
// origin comparisons operate at.
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}
