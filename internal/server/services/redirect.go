package services

import (
	"net/url"
	"strings"
)

// SafeRedirect returns target when it is a relative path or an absolute URL
// on the same origin as baseURL; anything else falls back to baseURL.
// Relative paths are resolved against baseURL.
func SafeRedirect(target, baseURL string) string {
	base := strings.TrimRight(baseURL, "/")

	if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") && !strings.HasPrefix(target, `/\`) {
		return base + target
	}

	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return base
	}

	b, err := url.Parse(base)
	if err != nil {
		return base
	}

	if strings.EqualFold(u.Scheme, b.Scheme) && strings.EqualFold(u.Host, b.Host) {
		return target
	}
	return base
}
