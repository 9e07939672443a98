package httpx

import "strings"

// SplitLocale splits a request path into its locale prefix and the rest of
// the path. Paths without a supported locale prefix get def. rest always
// starts with "/".
//
//	SplitLocale("/fr/clients", []string{"fr", "en"}, "fr") // "fr", "/clients"
//	SplitLocale("/en", ...)                               // "en", "/"
//	SplitLocale("/clients", ...)                          // "fr", "/clients"
func SplitLocale(path string, locales []string, def string) (locale, rest string) {
	if path == "" {
		return def, "/"
	}

	trimmed := strings.TrimPrefix(path, "/")
	first, remainder, hasMore := strings.Cut(trimmed, "/")

	for _, l := range locales {
		if first != l {
			continue
		}
		if !hasMore || remainder == "" {
			return l, "/"
		}
		return l, "/" + remainder
	}

	return def, "/" + trimmed
}

// matchesPath reports whether path is p or below it.
func matchesPath(path, p string) bool {
	return path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/")
}
