package logging

import (
	"regexp"
	"strings"
)

// RedactedText is the replacement text for sensitive data
const RedactedText = "[REDACTED]"

var (
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Matches connection string credentials (user:pass@host format)
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)

	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key|token)=[A-Za-z0-9-_]{20,}`)

	// Environment keys whose values are never printed
	secretKeyMarkers = []string{"PASSWORD", "SECRET", "TOKEN", "KEY", "CREDENTIAL"}
)

// SanitizeConnectionString removes sensitive data from connection strings.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeError sanitizes error messages that might contain connection details.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := SanitizeConnectionString(err.Error())
	return apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
}

// IsSecretKey reports whether an environment key names a secret.
func IsSecretKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, marker := range secretKeyMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// SanitizeEnvValue returns a value safe to print for the given environment key.
// Secret keys are fully redacted; other values have embedded credentials removed.
func SanitizeEnvValue(key, value string) string {
	if value == "" {
		return ""
	}
	if IsSecretKey(key) {
		return RedactedText
	}
	return SanitizeConnectionString(value)
}

// TruncateRunes shortens s to at most maxLen runes. Column limits are in
// characters, so multi-byte text must not be cut mid-rune.
func TruncateRunes(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
