package forgeframe

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// FrameURL returns the remote URL the embedded view loads: the configured
// URL with the projected query params appended. Before the first
// projection runs (pre-handshake) it is the bare configured URL.
func (c *Consumer) FrameURL() string {
	c.mu.Lock()
	qp := c.queryParams
	c.mu.Unlock()

	if len(qp) == 0 {
		return c.cfg.URL
	}
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return c.cfg.URL
	}
	q := u.Query()
	for k, v := range qp {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ContainerMarkup returns the embedder-side markup for this instance: the
// configured ContainerTemplate when present, else a default iframe tag
// built from the component's dimensions, style map, and attribute map.
func (c *Consumer) ContainerMarkup() string {
	if c.cfg.ContainerTemplate != nil {
		return c.cfg.ContainerTemplate(c)
	}
	return c.defaultFrameMarkup()
}

// PrerenderMarkup returns the placeholder shown while the remote page
// loads: the configured PrerenderTemplate when present, else a plain div
// carrying the instance uid.
func (c *Consumer) PrerenderMarkup() string {
	if c.cfg.PrerenderTemplate != nil {
		return c.cfg.PrerenderTemplate(c)
	}
	return fmt.Sprintf(`<div class="forgeframe-prerender" data-uid=%q></div>`, c.id.String())
}

func (c *Consumer) defaultFrameMarkup() string {
	var b strings.Builder
	fmt.Fprintf(&b, `<iframe name=%q src=%q`, c.id.String(), c.FrameURL())

	if style := frameStyle(c.cfg.Dimensions, c.cfg.Style); style != "" {
		fmt.Fprintf(&b, ` style=%q`, style)
	}
	for _, k := range sortedKeys(c.cfg.Attributes) {
		fmt.Fprintf(&b, ` %s=%q`, k, c.cfg.Attributes[k])
	}
	b.WriteString(`></iframe>`)
	return b.String()
}

// frameStyle flattens the dimensions and the style map into one inline
// CSS declaration list: width and height first, remaining properties in
// key order so the output is stable.
func frameStyle(d Dimensions, style map[string]string) string {
	var parts []string
	if w := cssLength(d.Width); w != "" {
		parts = append(parts, "width: "+w)
	}
	if h := cssLength(d.Height); h != "" {
		parts = append(parts, "height: "+h)
	}
	for _, k := range sortedKeys(style) {
		parts = append(parts, k+": "+style[k])
	}
	return strings.Join(parts, "; ")
}

// cssLength renders a dimension value: numbers are CSS pixels, strings
// pass through as CSS lengths.
func cssLength(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t) + "px"
	case int64:
		return strconv.FormatInt(t, 10) + "px"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64) + "px"
	default:
		return fmt.Sprintf("%vpx", v)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
