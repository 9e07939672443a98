package http

import (
	"slices"
	"strings"

	"github.com/aussiebroadwan/backoffice/pkg/httpx"
)

type localeSet struct {
	supported []string
	def       string
}

// pick returns l when it is supported, the default otherwise.
func (s localeSet) pick(l string) string {
	if slices.Contains(s.supported, l) {
		return l
	}
	return s.def
}

// loginURL is the locale-prefixed login page.
func (s localeSet) loginURL(l string) string {
	return "/" + s.pick(l) + "/login"
}

// safeCallback keeps only same-origin absolute paths, falling back to the
// locale root.
func (s localeSet) safeCallback(cb string) string {
	if strings.HasPrefix(cb, "/") && !strings.HasPrefix(cb, "//") && !strings.Contains(cb, "\\") {
		return cb
	}
	return "/" + s.def
}

// fromPath extracts the locale of a path.
func (s localeSet) fromPath(p string) string {
	l, _ := httpx.SplitLocale(p, s.supported, s.def)
	return l
}
