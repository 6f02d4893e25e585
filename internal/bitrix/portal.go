package bitrix

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

// ErrForeignPortal is returned for placement credentials of a portal outside the allow-list.
var ErrForeignPortal = fmt.Errorf("bitrix: portal not allowed: %w", httpx.ErrForbidden)

// NormalizeOrigin turns a portal domain or URL into scheme://host[:port].
// A bare host is taken as https.
func NormalizeOrigin(domain string) (string, error) {
	raw := strings.ToLower(strings.TrimSpace(domain))
	if raw == "" {
		return "", fmt.Errorf("bitrix: empty portal domain")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("bitrix: portal domain %q: %w", domain, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" || u.User != nil ||
		(u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("bitrix: portal domain %q is not an origin", domain)
	}
	return u.Scheme + "://" + u.Host, nil
}

// ParseOrigins splits a comma-separated origin list. Entries that are not
// origins are dropped.
func ParseOrigins(list string) []string {
	var origins []string
	for _, part := range strings.Split(list, ",") {
		origin, err := NormalizeOrigin(part)
		if err != nil || slices.Contains(origins, origin) {
			continue
		}
		origins = append(origins, origin)
	}
	return origins
}

// WithAllowedPortals limits placement credentials to the given portal origins.
// Without it no placement call is made.
func WithAllowedPortals(origins ...string) Option {
	return func(c *Client) {
		for _, o := range origins {
			if origin, err := NormalizeOrigin(o); err == nil {
				c.portals = append(c.portals, origin)
			}
		}
	}
}

// PortalAllowed returns the normalised origin of domain when it is allow-listed.
func (c *Client) PortalAllowed(domain string) (string, bool) {
	if c == nil {
		return "", false
	}
	origin, err := NormalizeOrigin(domain)
	if err != nil {
		return "", false
	}
	return origin, slices.Contains(c.portals, origin)
}
