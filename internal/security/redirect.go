package security

import "strings"

const DefaultRedirect = "/"

// SafeRedirectPath keeps post-login redirects on this origin. Only
// rooted paths pass; a protocol-relative prefix, traversal or a
// backslash (which browsers read as a slash) falls back to "/".
func SafeRedirectPath(path string) string {
	if !strings.HasPrefix(path, "/") || strings.Contains(path, "//") ||
		strings.Contains(path, "..") || strings.Contains(path, `\`) {
		return DefaultRedirect
	}
	return path
}
