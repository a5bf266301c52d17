package core

import (
	"strings"

	"github.com/git-pkgs/spdx"
)

// NormalizeLicense maps an informal license string such as "Apache 2.0" or
// "MIT License" to its SPDX form. Expressions keep their operators.
// Strings that cannot be normalized, and distutils placeholders, are
// returned unchanged apart from surrounding whitespace.
func NormalizeLicense(license string) string {
	license = strings.TrimSpace(license)
	if Placeholder(license) {
		return license
	}
	if expr, err := spdx.NormalizeExpressionLax(license); err == nil {
		return expr
	}
	if id, err := spdx.Normalize(license); err == nil {
		return id
	}
	return license
}
