package model

import "strings"

// splitTag splits "name:tag" into its base name and tag. The tag is empty
// when the identifier has none. A colon followed by a path segment belongs
// to a registry host ("host:5000/name"), not a tag.
func splitTag(id string) (base, tag string) {
	if i := strings.LastIndex(id, ":"); i >= 0 && !strings.Contains(id[i+1:], "/") {
		return id[:i], id[i+1:]
	}
	return id, ""
}

// Matches reports whether a requested model identifier refers to an
// installed one. An untagged request matches any tag of the same base name
// ("llama3" matches "llama3:latest"); a tagged request must match exactly.
func Matches(requested, installed string) bool {
	if requested == installed {
		return true
	}
	reqBase, reqTag := splitTag(requested)
	if reqTag != "" {
		return false
	}
	instBase, _ := splitTag(installed)
	return reqBase == instBase
}

// IsInstalled reports whether requested matches any of installed.
func IsInstalled(requested string, installed []string) bool {
	for _, name := range installed {
		if Matches(requested, name) {
			return true
		}
	}
	return false
}
