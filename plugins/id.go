package plugins

import "strings"

// ValidateID checks a plugin id against spec.md §6's "reverse-dns-style
// string" requirement: non-empty, no path-traversal tokens, no whitespace.
// Unlike the teacher's dotted org.plugin.name.vN regex (plugins/id.go), this
// does not mandate a version suffix or a fixed segment count — spec.md
// names no such grammar, only "stable identifier, required, unique".
func ValidateID(id string) error {
	if id == "" {
		return New(InvalidArgument, "plugin id must not be empty")
	}
	if strings.ContainsAny(id, " \t\n\r") {
		return Newf(InvalidArgument, "plugin id %q must not contain whitespace", id)
	}
	if strings.Contains(id, "..") {
		return Newf(InvalidArgument, "plugin id %q must not contain path-traversal tokens", id)
	}
	if strings.ContainsAny(id, "/\\") {
		return Newf(InvalidArgument, "plugin id %q must not contain path separators", id)
	}
	return nil
}
