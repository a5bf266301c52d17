package core

import (
	"regexp"
	"strings"
)

var pep508NameRegex = regexp.MustCompile(`^([A-Za-z0-9][-A-Za-z0-9._]*[A-Za-z0-9]|[A-Za-z0-9])(\s*\[.*?\])?`)

// Requirement is a parsed PEP 508 dependency specifier.
type Requirement struct {
	Name      string
	Specifier string
	Marker    string
}

// ParseRequirement splits a PEP 508 requirement such as
// "requests[socks] (>=2.0); python_version < '3.8'" into its name, version
// specifier and environment marker. The specifier defaults to "*".
func ParseRequirement(dep string) Requirement {
	var r Requirement

	parts := strings.SplitN(dep, ";", 2)
	nameAndVersion := strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		r.Marker = strings.TrimSpace(parts[1])
	}

	match := pep508NameRegex.FindStringSubmatch(nameAndVersion)
	if match != nil {
		r.Name = strings.TrimSpace(match[1])
		spec := strings.TrimSpace(nameAndVersion[len(match[0]):])
		r.Specifier = strings.TrimSpace(strings.Trim(spec, "()"))
	} else {
		r.Name = nameAndVersion
	}

	if idx := strings.Index(r.Name, "["); idx != -1 {
		r.Name = r.Name[:idx]
	}
	if r.Specifier == "" {
		r.Specifier = "*"
	}
	return r
}

// DependencyName returns the lowercased package name a requirement refers
// to, or "" when the entry names nothing.
func DependencyName(dep string) string {
	return strings.ToLower(ParseRequirement(dep).Name)
}
