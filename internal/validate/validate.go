// Package validate checks the shape of connection names and URLs.
package validate

import (
	"regexp"
	"strings"

	"github.com/leapstack-labs/querydeck/internal/apperr"
)

// MaxNameLength bounds connection names.
const MaxNameLength = 100

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Recognized URL schemes. Only the postgres ones are introspectable.
var (
	schemes         = []string{"postgres://", "postgresql://", "mysql://", "sqlite://"}
	postgresSchemes = []string{"postgres://", "postgresql://"}
)

var (
	reDSNPass  = regexp.MustCompile(`(?i)(://)([^:/@]+):([^@]+)(@)`)
	rePassword = regexp.MustCompile(`(?i)(password=)([^\s;&]+)`)
)

// Name checks that name is non-empty, at most MaxNameLength characters and
// made of letters, digits, dashes and underscores.
func Name(name string) error {
	if name == "" {
		return apperr.Validationf("Database name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return apperr.Validationf("Database name too long (max %d characters)", MaxNameLength)
	}
	if !namePattern.MatchString(name) {
		return apperr.Validationf("Database name can only contain alphanumeric characters, hyphens, and underscores")
	}
	return nil
}

// URL checks that url is non-empty and declares a recognized scheme.
func URL(url string) error {
	if url == "" {
		return apperr.Validationf("Database URL cannot be empty")
	}
	if !hasPrefix(url, schemes) {
		return apperr.Validationf("Invalid database URL format. Supported: postgres://, postgresql://, mysql://, sqlite://")
	}
	return nil
}

// IsPostgres reports whether url addresses a PostgreSQL server.
func IsPostgres(url string) bool {
	return hasPrefix(url, postgresSchemes)
}

// MaskURL hides credentials embedded in a connection string.
func MaskURL(url string) string {
	out := reDSNPass.ReplaceAllString(url, "$1$2:***$4")
	return rePassword.ReplaceAllString(out, "$1***")
}

func hasPrefix(s string, prefixes []string) bool {
	lower := strings.ToLower(s)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
